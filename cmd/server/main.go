package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/mohammadhprp/redlimit/internal/config"
	"github.com/mohammadhprp/redlimit/internal/keys"
	"github.com/mohammadhprp/redlimit/internal/limiter"
	"github.com/mohammadhprp/redlimit/internal/lock"
	"github.com/mohammadhprp/redlimit/internal/metrics"
	"github.com/mohammadhprp/redlimit/internal/middleware"
	"github.com/mohammadhprp/redlimit/internal/mutex"
	"github.com/mohammadhprp/redlimit/internal/service"
	"github.com/mohammadhprp/redlimit/internal/storage"
	"github.com/mohammadhprp/redlimit/internal/telemetry"
	"github.com/mohammadhprp/redlimit/internal/transport"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "redlimit: %v\n", err)
		os.Exit(1)
	}
}

// run wires and serves until SIGINT/SIGTERM. Every deferred cleanup has run
// by the time it returns.
func run() error {
	config.LoadDotEnv()

	cfg := config.Load()

	// Initialize logger
	logger, err := config.InitLogger(cfg.Log.Level, cfg.Log.Format)
	if err != nil {
		return fmt.Errorf("initialize logger: %w", err)
	}
	defer logger.Sync()

	if err := cfg.Validate(); err != nil {
		logger.Error("Invalid configuration", zap.Error(err))
		return err
	}

	logger.Info("Starting redlimit server",
		zap.String("version", "1.0.0"),
		zap.String("address", cfg.ServerAddr()),
		zap.String("store", cfg.Store.Backend),
		zap.String("namespace", cfg.Store.Namespace),
	)

	shutdownTracer, err := telemetry.InitTracer(cfg.Tracing.Enabled, os.Stdout)
	if err != nil {
		logger.Error("Failed to initialize tracing", zap.Error(err))
		return err
	}

	store, mu, err := openStore(cfg, logger)
	if err != nil {
		logger.Error("Failed to initialize store", zap.Error(err))
		return err
	}
	defer store.Close()

	mu = metrics.InstrumentMutex(mu)
	namer := keys.NewNamer(cfg.Store.Namespace)
	sw := limiter.NewSlidingWindow(store, mu, namer, logger, limiter.WithLease(cfg.Mutex.Lease))
	services := &transport.Services{
		Health: service.NewHealthService(store, logger),
		Locks:  service.NewLockService(lock.NewManager(store, namer, logger), logger),
		Limits: service.NewRateLimitService(sw, logger),
	}

	reg := metrics.NewRegistry()
	metrics.Register(reg)

	httpCfg := transport.ServerConfig{
		Address:      cfg.ServerAddr(),
		Services:     services,
		Logger:       logger,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
		Gatherer:     reg,
	}
	if cfg.Guard.Threshold > 0 {
		policy := limiter.Policy{
			Threshold: int64(cfg.Guard.Threshold),
			Period:    cfg.Guard.Period,
			LockFor:   cfg.Guard.LockFor,
		}
		httpCfg.Middleware = append(httpCfg.Middleware,
			middleware.NewIPGuard(store, mu, namer, policy, logger, limiter.WithLease(cfg.Mutex.Lease)))
	}

	servers := []transport.Server{transport.NewHTTPServer(httpCfg)}
	if cfg.GRPC.Port > 0 {
		servers = append(servers, transport.NewGRPCServer(transport.ServerConfig{
			Address:  cfg.GRPCAddr(),
			Services: services,
			Logger:   logger,
		}))
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Graceful shutdown
	shutdown := func() error {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		g, gctx := errgroup.WithContext(shutdownCtx)
		for _, srv := range servers {
			g.Go(func() error {
				return srv.Stop(gctx)
			})
		}
		err := g.Wait()
		if err != nil {
			logger.Error("Server forced to shutdown", zap.Error(err))
		}
		if terr := shutdownTracer(shutdownCtx); terr != nil {
			logger.Warn("Failed to flush traces", zap.Error(terr))
		}
		return err
	}

	for _, srv := range servers {
		if err := srv.Start(ctx); err != nil {
			logger.Error("Failed to start server", zap.Error(err))
			_ = shutdown()
			return err
		}
	}

	// Wait for interrupt signal
	<-ctx.Done()
	logger.Info("Shutting down server...")

	err = shutdown()
	logger.Info("Server stopped")
	return err
}

// openStore connects the configured backend and the matching mutex: Redlock
// over the same Redis for the redis backend, an in-process mutex otherwise.
func openStore(cfg config.Config, logger *zap.Logger) (storage.Store, mutex.Mutex, error) {
	opts := mutex.Options{Tries: cfg.Mutex.Tries, RetryDelay: cfg.Mutex.RetryDelay}

	if cfg.Store.Backend == config.BackendMemory {
		logger.Warn("Using in-memory store; locks are not shared between processes")
		return storage.NewMemoryStore(), mutex.NewLocal(opts), nil
	}

	store, err := storage.NewRedisStore(cfg.RedisAddr(), cfg.Redis.Password, cfg.Redis.DB,
		storage.WithTimeout(cfg.Store.Timeout),
		storage.WithPoolSize(cfg.Redis.PoolSize),
	)
	if err != nil {
		return nil, nil, err
	}
	logger.Info("Connected to Redis", zap.String("address", cfg.RedisAddr()))

	return store, mutex.NewRedlock(opts, store.Client()), nil
}
