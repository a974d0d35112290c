package transport

import (
	"context"
	"errors"
	"net"
	"net/http"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/mohammadhprp/redlimit/internal/handler"
)

// HTTPServer implements the Server interface for HTTP transport
type HTTPServer struct {
	server   *http.Server
	router   *mux.Router
	address  string
	logger   *zap.Logger
	handlers *ServiceHandlers
	cfg      ServerConfig
}

// NewHTTPServer creates a new HTTP server
func NewHTTPServer(cfg ServerConfig) *HTTPServer {
	router := mux.NewRouter()

	handlers := &ServiceHandlers{
		HealthCheck: handler.NewHealthCheckHandler(cfg.Services.Health, cfg.Logger),
		Lock:        handler.NewLockHandler(cfg.Services.Locks, cfg.Logger),
		RateLimit:   handler.NewRateLimitHandler(cfg.Services.Limits, cfg.Logger),
	}

	hs := &HTTPServer{
		address:  cfg.Address,
		logger:   cfg.Logger,
		handlers: handlers,
		router:   router,
		cfg:      cfg,
		server: &http.Server{
			Addr:         cfg.Address,
			Handler:      router,
			ReadTimeout:  cfg.ReadTimeout,
			WriteTimeout: cfg.WriteTimeout,
			IdleTimeout:  cfg.IdleTimeout,
		},
	}

	hs.registerRoutes()
	return hs
}

// registerRoutes registers all HTTP routes
func (hs *HTTPServer) registerRoutes() {
	hs.router.HandleFunc("/health", hs.handlers.HealthCheck.HealthCheck()).Methods(http.MethodGet)
	if hs.cfg.Gatherer != nil {
		hs.router.Handle("/metrics", promhttp.HandlerFor(hs.cfg.Gatherer, promhttp.HandlerOpts{})).Methods(http.MethodGet)
	}

	api := hs.router.NewRoute().Subrouter()
	for _, mw := range hs.cfg.Middleware {
		api.Use(mux.MiddlewareFunc(mw))
	}

	// Lock routes
	api.HandleFunc("/locks", hs.handlers.Lock.List()).Methods(http.MethodGet)
	api.HandleFunc("/locks", hs.handlers.Lock.Lock()).Methods(http.MethodPost)
	api.HandleFunc("/locks", hs.handlers.Lock.Unlock()).Methods(http.MethodDelete)

	// Rate limit routes
	api.HandleFunc("/limits/{key}", hs.handlers.RateLimit.Check()).Methods(http.MethodPost)
	api.HandleFunc("/limits/{key}", hs.handlers.RateLimit.Status()).Methods(http.MethodGet)
	api.HandleFunc("/limits/{key}", hs.handlers.RateLimit.Reset()).Methods(http.MethodDelete)
}

// Handler returns the root HTTP handler
func (hs *HTTPServer) Handler() http.Handler {
	return hs.router
}

// Start binds the listener and serves in the background
func (hs *HTTPServer) Start(ctx context.Context) error {
	listener, err := net.Listen("tcp", hs.address)
	if err != nil {
		hs.logger.Error("Failed to listen on address", zap.String("address", hs.address), zap.Error(err))
		return err
	}
	hs.address = listener.Addr().String()

	hs.logger.Info("Starting HTTP server", zap.String("address", hs.address))

	go func() {
		if err := hs.server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			hs.logger.Error("HTTP server error", zap.Error(err))
		}
	}()

	return nil
}

// Stop gracefully stops the HTTP server
func (hs *HTTPServer) Stop(ctx context.Context) error {
	hs.logger.Info("Stopping HTTP server")
	return hs.server.Shutdown(ctx)
}

// Addr returns the address the HTTP server is listening on
func (hs *HTTPServer) Addr() string {
	return hs.address
}
