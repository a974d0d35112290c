package transport

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"sync"
	"time"

	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/mohammadhprp/redlimit/internal/limiter"
	"github.com/mohammadhprp/redlimit/internal/lock"
	"github.com/mohammadhprp/redlimit/internal/mutex"
	"github.com/mohammadhprp/redlimit/internal/service"
)

// healthPollInterval is how often the store is pinged to update the
// grpc.health.v1 serving status.
const healthPollInterval = time.Second

// GRPCServer implements the Server interface for gRPC transport
type GRPCServer struct {
	server   *grpc.Server
	health   *health.Server
	address  string
	logger   *zap.Logger
	services *Services

	stopPoll context.CancelFunc
	polling  sync.WaitGroup
}

// NewGRPCServer creates a new gRPC server
func NewGRPCServer(cfg ServerConfig) *GRPCServer {
	gs := &GRPCServer{
		server:   grpc.NewServer(),
		health:   health.NewServer(),
		address:  cfg.Address,
		logger:   cfg.Logger,
		services: cfg.Services,
	}

	gs.registerServices()
	return gs
}

// registerServices registers all gRPC services
func (gs *GRPCServer) registerServices() {
	healthpb.RegisterHealthServer(gs.server, gs.health)
	RegisterCoordinatorServer(gs.server, &CoordinatorServiceImpl{services: gs.services, logger: gs.logger})
}

// Start starts the gRPC server
func (gs *GRPCServer) Start(ctx context.Context) error {
	listener, err := net.Listen("tcp", gs.address)
	if err != nil {
		gs.logger.Error("Failed to listen on address", zap.String("address", gs.address), zap.Error(err))
		return err
	}
	gs.address = listener.Addr().String()

	gs.logger.Info("Starting gRPC server", zap.String("address", gs.address))

	pollCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	gs.stopPoll = cancel
	gs.polling.Add(1)
	go func() {
		defer gs.polling.Done()
		gs.pollHealth(pollCtx)
	}()

	go func() {
		if err := gs.server.Serve(listener); err != nil {
			gs.logger.Error("gRPC server error", zap.Error(err))
		}
	}()

	return nil
}

// Stop gracefully stops the gRPC server
func (gs *GRPCServer) Stop(ctx context.Context) error {
	gs.logger.Info("Stopping gRPC server")
	if gs.stopPoll != nil {
		gs.stopPoll()
		gs.polling.Wait()
	}
	gs.health.Shutdown()

	stopped := make(chan struct{})
	go func() {
		gs.server.GracefulStop()
		close(stopped)
	}()

	select {
	case <-stopped:
		return nil
	case <-ctx.Done():
		gs.server.Stop()
		return ctx.Err()
	}
}

// Addr returns the address the gRPC server is listening on
func (gs *GRPCServer) Addr() string {
	return gs.address
}

// pollHealth mirrors the store's reachability into the health service for
// both the overall server ("") and the Coordinator service.
func (gs *GRPCServer) pollHealth(ctx context.Context) {
	ticker := time.NewTicker(healthPollInterval)
	defer ticker.Stop()

	for {
		gs.setServingStatus(gs.currentStatus(ctx))
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func (gs *GRPCServer) setServingStatus(st healthpb.HealthCheckResponse_ServingStatus) {
	gs.health.SetServingStatus("", st)
	gs.health.SetServingStatus(CoordinatorServiceName, st)
}

func (gs *GRPCServer) currentStatus(ctx context.Context) healthpb.HealthCheckResponse_ServingStatus {
	if gs.services == nil || gs.services.Health == nil {
		return healthpb.HealthCheckResponse_UNKNOWN
	}

	if err := gs.services.Health.Ping(ctx); err != nil {
		return healthpb.HealthCheckResponse_NOT_SERVING
	}

	return healthpb.HealthCheckResponse_SERVING
}

// CoordinatorServiceImpl implements the Coordinator service
type CoordinatorServiceImpl struct {
	services *Services
	logger   *zap.Logger
}

type limitCall struct {
	Key string `json:"key"`
	service.LimitRequest
}

type limitStatusCall struct {
	Key           string `json:"key"`
	PeriodSeconds int    `json:"period_seconds"`
}

// Lock locks every key in the request or none of them
func (cs *CoordinatorServiceImpl) Lock(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	var req service.LockRequest
	if err := fromStruct(in, &req); err != nil {
		return nil, err
	}
	resp, err := cs.services.Locks.Lock(ctx, &req)
	if err != nil {
		return nil, cs.toStatus(rpcMethod(ctx), err)
	}
	return toStruct(resp)
}

// Unlock releases the keys in the request
func (cs *CoordinatorServiceImpl) Unlock(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	var req service.UnlockRequest
	if err := fromStruct(in, &req); err != nil {
		return nil, err
	}
	resp, err := cs.services.Locks.Unlock(ctx, &req)
	if err != nil {
		return nil, cs.toStatus(rpcMethod(ctx), err)
	}
	return toStruct(resp)
}

// ListLocked lists locked keys
func (cs *CoordinatorServiceImpl) ListLocked(ctx context.Context, _ *structpb.Struct) (*structpb.Struct, error) {
	resp, err := cs.services.Locks.ListLocked(ctx)
	if err != nil {
		return nil, cs.toStatus(rpcMethod(ctx), err)
	}
	return toStruct(resp)
}

// Limit counts one request for the key in the request
func (cs *CoordinatorServiceImpl) Limit(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	var req limitCall
	if err := fromStruct(in, &req); err != nil {
		return nil, err
	}
	resp, err := cs.services.Limits.CheckLimit(ctx, req.Key, &req.LimitRequest)
	if err != nil {
		return nil, cs.toStatus(rpcMethod(ctx), err)
	}
	return toStruct(resp)
}

// LimitStatus reports a key's window without counting a request
func (cs *CoordinatorServiceImpl) LimitStatus(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	var req limitStatusCall
	if err := fromStruct(in, &req); err != nil {
		return nil, err
	}
	resp, err := cs.services.Limits.GetStatus(ctx, req.Key, req.PeriodSeconds)
	if err != nil {
		return nil, cs.toStatus(rpcMethod(ctx), err)
	}
	return toStruct(resp)
}

// fromStruct decodes in through its JSON form into the service request v.
func fromStruct(in *structpb.Struct, v any) error {
	if in == nil {
		in = &structpb.Struct{}
	}
	raw, err := protojson.Marshal(in)
	if err != nil {
		return status.Errorf(codes.InvalidArgument, "invalid request: %v", err)
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return status.Errorf(codes.InvalidArgument, "invalid request: %v", err)
	}
	return nil
}

func toStruct(v any) (*structpb.Struct, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, status.Errorf(codes.Internal, "encode response: %v", err)
	}
	out := &structpb.Struct{}
	if err := protojson.Unmarshal(raw, out); err != nil {
		return nil, status.Errorf(codes.Internal, "encode response: %v", err)
	}
	return out, nil
}

// toStatus maps service errors to gRPC status codes. Internal failures are
// logged and reach the client only as a generic message.
func (cs *CoordinatorServiceImpl) toStatus(method string, err error) error {
	switch {
	case errors.Is(err, service.ErrInvalidRequest),
		errors.Is(err, lock.ErrNoKeys),
		errors.Is(err, lock.ErrInvalidDuration),
		errors.Is(err, limiter.ErrInvalidPolicy):
		return status.Error(codes.InvalidArgument, err.Error())
	case errors.Is(err, lock.ErrAlreadyLocked):
		return status.Error(codes.FailedPrecondition, err.Error())
	case errors.Is(err, mutex.ErrTimeout):
		return status.Error(codes.Unavailable, err.Error())
	default:
		cs.logger.Error("coordinator call failed", zap.String("method", method), zap.Error(err))
		return status.Error(codes.Internal, "internal error")
	}
}

// rpcMethod names the RPC being served, for logging.
func rpcMethod(ctx context.Context) string {
	method, _ := grpc.Method(ctx)
	return method
}
