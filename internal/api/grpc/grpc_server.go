package grpc

import (
	"context"

	"github.com/google/uuid"
	"github.com/olyamironova/solbot-sim/internal/api/dto"
	"github.com/olyamironova/solbot-sim/internal/core"
	"github.com/olyamironova/solbot-sim/internal/domain"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"
)

const userIDMetadata = "x-user-id"

var _ SimulatorServer = (*GRPCServer)(nil)

type GRPCServer struct {
	Eng    *core.Engine
	logger *zap.Logger
}

func NewGRPCServer(eng *core.Engine, logger *zap.Logger) *GRPCServer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &GRPCServer{Eng: eng, logger: logger}
}

// userID reads "user_id" from the request, falling back to x-user-id
// metadata.
func userID(ctx context.Context, req *structpb.Struct) (string, error) {
	if v, ok := req.GetFields()["user_id"]; ok && v.GetStringValue() != "" {
		return v.GetStringValue(), nil
	}
	if md, ok := metadata.FromIncomingContext(ctx); ok {
		if vals := md.Get(userIDMetadata); len(vals) > 0 && vals[0] != "" {
			return vals[0], nil
		}
	}
	return "", status.Error(codes.InvalidArgument, "user_id is required")
}

func reply(v any) (*structpb.Struct, error) {
	out, err := dto.ToStruct(v)
	if err != nil {
		return nil, status.Errorf(codes.Internal, "encode response: %v", err)
	}
	return out, nil
}

func (s *GRPCServer) Start(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	uid, err := userID(ctx, req)
	if err != nil {
		return nil, err
	}
	var in dto.StartRequest
	if err := dto.FromStruct(req, &in); err != nil {
		return nil, status.Errorf(codes.InvalidArgument, "invalid start request: %v", err)
	}
	res := s.Eng.Start(ctx, uid, in.Params())
	if res.Status == domain.StatusError {
		return nil, status.Error(codes.InvalidArgument, res.Message)
	}
	return reply(res)
}

func (s *GRPCServer) Stop(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	uid, err := userID(ctx, req)
	if err != nil {
		return nil, err
	}
	return reply(s.Eng.Stop(ctx, uid))
}

func (s *GRPCServer) Tick(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	uid, err := userID(ctx, req)
	if err != nil {
		return nil, err
	}
	return reply(s.Eng.Tick(ctx, uid))
}

func (s *GRPCServer) Trade(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	uid, err := userID(ctx, req)
	if err != nil {
		return nil, err
	}
	var in dto.TradeRequest
	if err := dto.FromStruct(req, &in); err != nil {
		return nil, status.Errorf(codes.InvalidArgument, "invalid trade request: %v", err)
	}
	side, err := domain.ParseSide(in.Side)
	if err != nil {
		return nil, status.Error(codes.InvalidArgument, err.Error())
	}
	return reply(s.Eng.ManualTrade(ctx, uid, side, in.Amount))
}

func (s *GRPCServer) Reset(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	uid, err := userID(ctx, req)
	if err != nil {
		return nil, err
	}
	return reply(s.Eng.Reset(ctx, uid))
}

func (s *GRPCServer) Portfolio(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	uid, err := userID(ctx, req)
	if err != nil {
		return nil, err
	}
	return reply(s.Eng.Portfolio(ctx, uid))
}

func (s *GRPCServer) Trades(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	uid, err := userID(ctx, req)
	if err != nil {
		return nil, err
	}
	var in dto.TradesRequest
	if err := dto.FromStruct(req, &in); err != nil {
		return nil, status.Errorf(codes.InvalidArgument, "invalid trades request: %v", err)
	}
	if in.Limit < 0 {
		return nil, status.Error(codes.InvalidArgument, "limit must be >= 0")
	}
	return reply(dto.NewTradesResponse(uid, s.Eng.Trades(ctx, uid, in.Limit)))
}

// Watch streams the user's results until the client cancels.
func (s *GRPCServer) Watch(req *structpb.Struct, stream grpc.ServerStream) error {
	ctx := stream.Context()
	uid, err := userID(ctx, req)
	if err != nil {
		return err
	}
	streamID := uuid.NewString()
	events, unsubscribe := s.Eng.Events().Subscribe(uid, 16)
	defer unsubscribe()
	s.logger.Info("watch opened", zap.String("user_id", uid), zap.String("stream_id", streamID))
	defer s.logger.Info("watch closed", zap.String("user_id", uid), zap.String("stream_id", streamID))

	for {
		select {
		case <-ctx.Done():
			return nil
		case res, ok := <-events:
			if !ok {
				return nil
			}
			msg, err := reply(res)
			if err != nil {
				return err
			}
			if err := stream.SendMsg(msg); err != nil {
				return err
			}
		}
	}
}
