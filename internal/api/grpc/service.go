package grpc

import (
	"context"
	"time"

	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/structpb"
)

const ServiceName = "solbot.v1.Simulator"

// SimulatorServer is the service contract. Messages are generic Structs
// carrying the same JSON shapes as the HTTP API.
type SimulatorServer interface {
	Start(context.Context, *structpb.Struct) (*structpb.Struct, error)
	Stop(context.Context, *structpb.Struct) (*structpb.Struct, error)
	Tick(context.Context, *structpb.Struct) (*structpb.Struct, error)
	Trade(context.Context, *structpb.Struct) (*structpb.Struct, error)
	Reset(context.Context, *structpb.Struct) (*structpb.Struct, error)
	Portfolio(context.Context, *structpb.Struct) (*structpb.Struct, error)
	Trades(context.Context, *structpb.Struct) (*structpb.Struct, error)
	Watch(*structpb.Struct, grpc.ServerStream) error
}

type unaryCall func(SimulatorServer, context.Context, *structpb.Struct) (*structpb.Struct, error)

func unary(name string, call unaryCall) grpc.MethodDesc {
	return grpc.MethodDesc{
		MethodName: name,
		Handler: func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
			in := new(structpb.Struct)
			if err := dec(in); err != nil {
				return nil, err
			}
			if interceptor == nil {
				return call(srv.(SimulatorServer), ctx, in)
			}
			info := &grpc.UnaryServerInfo{Server: srv, FullMethod: FullMethod(name)}
			return interceptor(ctx, in, info, func(ctx context.Context, req any) (any, error) {
				return call(srv.(SimulatorServer), ctx, req.(*structpb.Struct))
			})
		},
	}
}

var ServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*SimulatorServer)(nil),
	Methods: []grpc.MethodDesc{
		unary("Start", SimulatorServer.Start),
		unary("Stop", SimulatorServer.Stop),
		unary("Tick", SimulatorServer.Tick),
		unary("Trade", SimulatorServer.Trade),
		unary("Reset", SimulatorServer.Reset),
		unary("Portfolio", SimulatorServer.Portfolio),
		unary("Trades", SimulatorServer.Trades),
	},
	Streams: []grpc.StreamDesc{
		{
			StreamName:    "Watch",
			ServerStreams: true,
			Handler: func(srv any, stream grpc.ServerStream) error {
				in := new(structpb.Struct)
				if err := stream.RecvMsg(in); err != nil {
					return err
				}
				return srv.(SimulatorServer).Watch(in, stream)
			},
		},
	},
	Metadata: "solbot/v1/simulator.proto",
}

func FullMethod(name string) string {
	return "/" + ServiceName + "/" + name
}

func Register(s grpc.ServiceRegistrar, srv SimulatorServer) {
	s.RegisterService(&ServiceDesc, srv)
}

// UnaryLogger logs every unary call with its latency.
func UnaryLogger(logger *zap.Logger) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		start := time.Now()
		resp, err := handler(ctx, req)
		logger.Info("grpc request",
			zap.String("method", info.FullMethod),
			zap.Duration("latency", time.Since(start)),
			zap.Error(err))
		return resp, err
	}
}

// Client calls the service over any connection.
type Client struct {
	cc grpc.ClientConnInterface
}

func NewClient(cc grpc.ClientConnInterface) *Client {
	return &Client{cc: cc}
}

func (c *Client) Call(ctx context.Context, method string, in *structpb.Struct) (*structpb.Struct, error) {
	out := new(structpb.Struct)
	if err := c.cc.Invoke(ctx, FullMethod(method), in, out); err != nil {
		return nil, err
	}
	return out, nil
}

// Watch opens the result stream; read it with RecvMsg into a Struct.
func (c *Client) Watch(ctx context.Context, in *structpb.Struct) (grpc.ClientStream, error) {
	stream, err := c.cc.NewStream(ctx, &ServiceDesc.Streams[0], FullMethod("Watch"))
	if err != nil {
		return nil, err
	}
	if err := stream.SendMsg(in); err != nil {
		return nil, err
	}
	if err := stream.CloseSend(); err != nil {
		return nil, err
	}
	return stream, nil
}
