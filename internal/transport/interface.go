package transport

import (
	"context"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/mohammadhprp/redlimit/internal/handler"
	"github.com/mohammadhprp/redlimit/internal/service"
)

// Server defines the interface for different transport implementations (HTTP, gRPC, etc.)
type Server interface {
	// Start starts the transport server
	Start(ctx context.Context) error

	// Stop gracefully stops the transport server
	Stop(ctx context.Context) error

	// Addr returns the address the server is listening on
	Addr() string
}

// ServerConfig contains common configuration for all transport servers
type ServerConfig struct {
	Address      string        // Address to listen on (e.g., "localhost:8080" or ":50051")
	Services     *Services     // Shared business logic
	Logger       *zap.Logger   // Shared logger
	ReadTimeout  time.Duration // HTTP only
	WriteTimeout time.Duration // HTTP only
	IdleTimeout  time.Duration // HTTP only

	// Gatherer, when set, is served on /metrics. HTTP only.
	Gatherer prometheus.Gatherer
	// Middleware wraps the lock and limit routes. HTTP only.
	Middleware []func(http.Handler) http.Handler
}

// Services groups the services shared by every transport
type Services struct {
	Health *service.HealthService
	Locks  *service.LockService
	Limits *service.RateLimitService
}

// ServiceHandlers contains all HTTP service handlers
type ServiceHandlers struct {
	HealthCheck *handler.HealthCheckHandler
	Lock        *handler.LockHandler
	RateLimit   *handler.RateLimitHandler
}
