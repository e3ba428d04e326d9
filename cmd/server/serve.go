package main

import (
	"context"
	"errors"
	"net"
	"net/http"
	"os/signal"
	"syscall"

	"github.com/gin-gonic/gin"
	grpcapi "github.com/olyamironova/solbot-sim/internal/api/grpc"
	httpapi "github.com/olyamironova/solbot-sim/internal/api/http"
	"github.com/olyamironova/solbot-sim/internal/core"
	"github.com/olyamironova/solbot-sim/internal/logging"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"google.golang.org/grpc"
)

func newServeCmd(f *rootFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP and gRPC APIs",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := f.load(cmd)
			if err != nil {
				return err
			}
			logger, err := logging.New(cfg.Log.Level, cfg.Log.Format)
			if err != nil {
				return err
			}
			defer func() { _ = logger.Sync() }()
			if cfg.Log.Format != "console" {
				gin.SetMode(gin.ReleaseMode)
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			repo, err := openRepository(ctx, cfg.Storage)
			if err != nil {
				return err
			}
			defer repo.Close(context.Background())
			sessions, closeCache := openSessionCache(ctx, cfg.Redis, logger)
			defer closeCache()

			eng := core.NewEngine(repo, sessions, priceFeeds(cfg.Price, logger), engineOptions(cfg), logger)
			defer eng.Close()

			httpSrv := httpapi.NewHTTPServer(eng, cfg.Server.Throttle, logger).Server(cfg.Server.HTTPAddr)
			grpcSrv := grpc.NewServer(grpc.UnaryInterceptor(grpcapi.UnaryLogger(logger)))
			grpcapi.Register(grpcSrv, grpcapi.NewGRPCServer(eng, logger))

			lis, err := net.Listen("tcp", cfg.Server.GRPCAddr)
			if err != nil {
				return err
			}

			g, gctx := errgroup.WithContext(ctx)
			g.Go(func() error {
				logger.Info("http listening", zap.String("addr", cfg.Server.HTTPAddr))
				if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					return err
				}
				return nil
			})
			g.Go(func() error {
				logger.Info("grpc listening", zap.String("addr", cfg.Server.GRPCAddr))
				return grpcSrv.Serve(lis)
			})
			g.Go(func() error {
				<-gctx.Done()
				logger.Info("shutting down")
				sctx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
				defer cancel()
				grpcSrv.GracefulStop()
				return httpSrv.Shutdown(sctx)
			})
			return g.Wait()
		},
	}
}
