package main

import (
	"context"
	"fmt"

	"github.com/olyamironova/solbot-sim/internal/adapter/in_memory"
	"github.com/olyamironova/solbot-sim/internal/api/dto"
	"github.com/olyamironova/solbot-sim/internal/core"
	"github.com/olyamironova/solbot-sim/internal/domain"
	"github.com/olyamironova/solbot-sim/internal/logging"
	"github.com/olyamironova/solbot-sim/internal/price"
	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"
)

type simulateFlags struct {
	ticks     int
	capital   float64
	risk      float64
	slippage  float64
	seed      int64
	token     string
	walletKey string
}

func newSimulateCmd(f *rootFlags) *cobra.Command {
	sf := &simulateFlags{}
	cmd := &cobra.Command{
		Use:   "simulate",
		Short: "Run ticks offline against the synthetic price walk and print the result",
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

			opts := engineOptions(cfg)
			opts.TickInterval = 0
			opts.Cooldown = 0
			if sf.seed != 0 {
				cfg.Price.Walk.Seed = sf.seed
			}
			cfg.Price.Providers = nil

			eng := core.NewEngine(in_memory.NewMemoryRepo(), nil, priceFeeds(cfg.Price, logger), opts, logger)
			defer eng.Close()
			return runSimulation(cmd.Context(), cmd, eng, sf)
		},
	}
	fl := cmd.Flags()
	fl.IntVar(&sf.ticks, "ticks", 100, "number of ticks to run")
	fl.Float64Var(&sf.capital, "capital", 1000, "starting quote capital")
	fl.Float64Var(&sf.risk, "risk", 1, "percent of quote balance spent per buy")
	fl.Float64Var(&sf.slippage, "slippage", 0.5, "slippage percent")
	fl.Int64Var(&sf.seed, "seed", 0, "random walk seed, 0 for time based")
	fl.StringVar(&sf.token, "token", price.SOLMint, "base token mint")
	fl.StringVar(&sf.walletKey, "wallet-key", "simulation-only-wallet-key-000000", "wallet key (validated, never used)")
	return cmd
}

func runSimulation(ctx context.Context, cmd *cobra.Command, eng *core.Engine, sf *simulateFlags) error {
	const user = "simulator"
	res := eng.Start(ctx, user, core.StartParams{
		WalletKey:       sf.walletKey,
		Capital:         decimal.NewFromFloat(sf.capital),
		RiskPercent:     decimal.NewNullDecimal(decimal.NewFromFloat(sf.risk)),
		SlippagePercent: decimal.NewNullDecimal(decimal.NewFromFloat(sf.slippage)),
		TokenAddress:    sf.token,
	})
	if res.Status == domain.StatusError {
		return fmt.Errorf("start: %s", res.Message)
	}

	out := cmd.OutOrStdout()
	for i := 0; i < sf.ticks; i++ {
		r := eng.Tick(ctx, user)
		if r.Trade != nil {
			fmt.Fprintf(out, "tick %4d  %-4s %s @ %s  pnl %s\n", i+1, r.Trade.Side,
				r.Trade.BaseAmount.StringFixed(6), r.Trade.ExecutedPrice.StringFixed(4), r.Trade.RealizedPnl.StringFixed(4))
		}
	}

	final := eng.Stop(ctx, user)
	snap := eng.Portfolio(ctx, user)
	stats := dto.NewStatsResponse(snap.Stats)
	fmt.Fprintf(out, "\nlast price   %s\n", snap.Market.LastPrice.StringFixed(4))
	fmt.Fprintf(out, "quote        %s\n", snap.Balances.QuoteAmount.StringFixed(4))
	fmt.Fprintf(out, "base         %s\n", snap.Balances.BaseAmount.StringFixed(6))
	fmt.Fprintf(out, "total value  %s\n", snap.Balances.TotalValue.StringFixed(4))
	fmt.Fprintf(out, "trades       %d (%d winning, %s%%)\n", stats.TotalTrades, stats.WinningTrades, stats.WinRate.StringFixed(2))
	fmt.Fprintf(out, "realized pnl %s\n", stats.TotalPnl.StringFixed(4))
	fmt.Fprintf(out, "status       %s\n", final.BotStatus)
	return nil
}
