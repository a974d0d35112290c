package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"

	"github.com/mohammadhprp/redlimit/internal/lock"
	"github.com/mohammadhprp/redlimit/internal/metrics"
)

var tracer = otel.Tracer("github.com/mohammadhprp/redlimit/internal/service")

// LockRequest asks for every key to be locked for DurationSeconds.
type LockRequest struct {
	Keys            []string `json:"keys"`
	DurationSeconds int      `json:"duration_seconds"`
}

// LockResponse carries the credential needed to unlock.
type LockResponse struct {
	Credential string `json:"credential"`
}

// UnlockRequest releases Keys. An empty Credential releases them
// unconditionally.
type UnlockRequest struct {
	Keys       []string `json:"keys"`
	Credential string   `json:"credential,omitempty"`
}

// UnlockResponse reports whether the keys were released.
type UnlockResponse struct {
	Released bool `json:"released"`
}

// ListLockedResponse lists the currently locked keys.
type ListLockedResponse struct {
	Keys []string `json:"keys"`
}

// LockService exposes the lock manager to the transports.
type LockService struct {
	manager *lock.Manager
	logger  *zap.Logger
}

// NewLockService creates a new lock service
func NewLockService(manager *lock.Manager, logger *zap.Logger) *LockService {
	return &LockService{
		manager: manager,
		logger:  logger,
	}
}

// ValidateLock validates a lock request
func (s *LockService) ValidateLock(req *LockRequest) error {
	if len(req.Keys) == 0 {
		return fmt.Errorf("%w: %s", ErrInvalidRequest, ErrKeysRequired)
	}
	if req.DurationSeconds <= 0 {
		return fmt.Errorf("%w: %s", ErrInvalidRequest, ErrDurationMustBePositive)
	}
	return nil
}

// Lock locks all requested keys or none. It returns lock.ErrAlreadyLocked
// when any key is held.
func (s *LockService) Lock(ctx context.Context, req *LockRequest) (*LockResponse, error) {
	ctx, span := tracer.Start(ctx, "LockService.Lock")
	defer span.End()
	span.SetAttributes(attribute.StringSlice("redlimit.keys", req.Keys))

	if err := s.ValidateLock(req); err != nil {
		return nil, err
	}

	cred, err := s.manager.Lock(ctx, req.Keys, time.Duration(req.DurationSeconds)*time.Second)
	switch {
	case errors.Is(err, lock.ErrAlreadyLocked):
		metrics.LockCounter.WithLabelValues(resultAlreadyLocked).Inc()
		return nil, err
	case err != nil:
		metrics.LockCounter.WithLabelValues(resultError).Inc()
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		s.logger.Error("failed to lock keys", zap.Strings("keys", req.Keys), zap.Error(err))
		return nil, err
	}

	metrics.LockCounter.WithLabelValues(resultAcquired).Inc()
	s.logger.Debug("keys locked", zap.Strings("keys", req.Keys), zap.Int("duration_seconds", req.DurationSeconds))
	return &LockResponse{Credential: string(cred)}, nil
}

// Unlock releases the requested keys. With a credential it only succeeds if
// every present record matches it.
func (s *LockService) Unlock(ctx context.Context, req *UnlockRequest) (*UnlockResponse, error) {
	ctx, span := tracer.Start(ctx, "LockService.Unlock")
	defer span.End()
	span.SetAttributes(
		attribute.StringSlice("redlimit.keys", req.Keys),
		attribute.Bool("redlimit.forced", req.Credential == ""),
	)

	var (
		released bool
		err      error
	)
	if req.Credential == "" {
		released, err = s.manager.ForceUnlock(ctx, req.Keys)
	} else {
		released, err = s.manager.Unlock(ctx, req.Keys, lock.Credential(req.Credential))
	}
	if err != nil {
		metrics.UnlockCounter.WithLabelValues(resultError).Inc()
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		s.logger.Error("failed to unlock keys", zap.Strings("keys", req.Keys), zap.Error(err))
		return nil, err
	}

	if released {
		metrics.UnlockCounter.WithLabelValues(resultReleased).Inc()
	} else {
		metrics.UnlockCounter.WithLabelValues(resultMismatch).Inc()
	}
	return &UnlockResponse{Released: released}, nil
}

// ListLocked returns the keys currently locked.
func (s *LockService) ListLocked(ctx context.Context) (*ListLockedResponse, error) {
	ctx, span := tracer.Start(ctx, "LockService.ListLocked")
	defer span.End()

	locked, err := s.manager.ListLocked(ctx)
	if err != nil {
		span.RecordError(err)
		s.logger.Error("failed to list locked keys", zap.Error(err))
		return nil, err
	}
	span.SetAttributes(attribute.Int("redlimit.locked", len(locked)))
	return &ListLockedResponse{Keys: locked}, nil
}
