package transport

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/structpb"
)

// CoordinatorServiceName is the fully qualified gRPC service name.
const CoordinatorServiceName = "redlimit.v1.Coordinator"

// Full method names of the Coordinator service.
const (
	CoordinatorLockMethod        = "/" + CoordinatorServiceName + "/Lock"
	CoordinatorUnlockMethod      = "/" + CoordinatorServiceName + "/Unlock"
	CoordinatorListLockedMethod  = "/" + CoordinatorServiceName + "/ListLocked"
	CoordinatorLimitMethod       = "/" + CoordinatorServiceName + "/Limit"
	CoordinatorLimitStatusMethod = "/" + CoordinatorServiceName + "/LimitStatus"
)

// CoordinatorServer is the server API for the Coordinator service. Requests
// and responses are google.protobuf.Struct messages carrying the same fields
// as the HTTP JSON bodies.
type CoordinatorServer interface {
	Lock(context.Context, *structpb.Struct) (*structpb.Struct, error)
	Unlock(context.Context, *structpb.Struct) (*structpb.Struct, error)
	ListLocked(context.Context, *structpb.Struct) (*structpb.Struct, error)
	Limit(context.Context, *structpb.Struct) (*structpb.Struct, error)
	LimitStatus(context.Context, *structpb.Struct) (*structpb.Struct, error)
}

// RegisterCoordinatorServer registers srv on s.
func RegisterCoordinatorServer(s grpc.ServiceRegistrar, srv CoordinatorServer) {
	s.RegisterService(&coordinatorServiceDesc, srv)
}

type coordinatorCall func(CoordinatorServer, context.Context, *structpb.Struct) (*structpb.Struct, error)

func unaryHandler(fullMethod string, call coordinatorCall) grpc.MethodHandler {
	return func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
		in := new(structpb.Struct)
		if err := dec(in); err != nil {
			return nil, err
		}
		if interceptor == nil {
			return call(srv.(CoordinatorServer), ctx, in)
		}
		info := &grpc.UnaryServerInfo{Server: srv, FullMethod: fullMethod}
		handler := func(ctx context.Context, req any) (any, error) {
			return call(srv.(CoordinatorServer), ctx, req.(*structpb.Struct))
		}
		return interceptor(ctx, in, info, handler)
	}
}

var coordinatorServiceDesc = grpc.ServiceDesc{
	ServiceName: CoordinatorServiceName,
	HandlerType: (*CoordinatorServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "Lock", Handler: unaryHandler(CoordinatorLockMethod, CoordinatorServer.Lock)},
		{MethodName: "Unlock", Handler: unaryHandler(CoordinatorUnlockMethod, CoordinatorServer.Unlock)},
		{MethodName: "ListLocked", Handler: unaryHandler(CoordinatorListLockedMethod, CoordinatorServer.ListLocked)},
		{MethodName: "Limit", Handler: unaryHandler(CoordinatorLimitMethod, CoordinatorServer.Limit)},
		{MethodName: "LimitStatus", Handler: unaryHandler(CoordinatorLimitStatusMethod, CoordinatorServer.LimitStatus)},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "redlimit/v1/coordinator.proto",
}

// CoordinatorClient is the client API for the Coordinator service.
type CoordinatorClient struct {
	cc grpc.ClientConnInterface
}

// NewCoordinatorClient returns a client using cc.
func NewCoordinatorClient(cc grpc.ClientConnInterface) *CoordinatorClient {
	return &CoordinatorClient{cc: cc}
}

func (c *CoordinatorClient) invoke(ctx context.Context, method string, in *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error) {
	out := new(structpb.Struct)
	if err := c.cc.Invoke(ctx, method, in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *CoordinatorClient) Lock(ctx context.Context, in *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error) {
	return c.invoke(ctx, CoordinatorLockMethod, in, opts...)
}

func (c *CoordinatorClient) Unlock(ctx context.Context, in *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error) {
	return c.invoke(ctx, CoordinatorUnlockMethod, in, opts...)
}

func (c *CoordinatorClient) ListLocked(ctx context.Context, in *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error) {
	return c.invoke(ctx, CoordinatorListLockedMethod, in, opts...)
}

func (c *CoordinatorClient) Limit(ctx context.Context, in *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error) {
	return c.invoke(ctx, CoordinatorLimitMethod, in, opts...)
}

func (c *CoordinatorClient) LimitStatus(ctx context.Context, in *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error) {
	return c.invoke(ctx, CoordinatorLimitStatusMethod, in, opts...)
}
