package service

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"

	"github.com/mohammadhprp/redlimit/internal/limiter"
	"github.com/mohammadhprp/redlimit/internal/metrics"
)

// WindowLimiter is a RateLimiter that can also report a key's state without
// recording a request.
type WindowLimiter interface {
	limiter.RateLimiter
	Peek(ctx context.Context, key string, period time.Duration) (limiter.Snapshot, error)
}

// LimitRequest holds the policy for one rate limit check
type LimitRequest struct {
	Threshold      int64 `json:"threshold"`       // requests in the window that trigger a lock
	PeriodSeconds  int   `json:"period_seconds"`  // window length
	LimitedSeconds int   `json:"limited_seconds"` // lock duration once the threshold is hit
}

// LimitResponse contains the outcome of a rate limit check
type LimitResponse struct {
	Key        string `json:"key"`
	Status     string `json:"status"`
	Count      int64  `json:"count"`
	Locked     bool   `json:"locked"`
	RetryAfter int    `json:"retry_after,omitempty"`
}

// LimitStatusResponse describes a key without counting a request
type LimitStatusResponse struct {
	Key           string `json:"key"`
	Count         int64  `json:"count"`
	Locked        bool   `json:"locked"`
	PeriodSeconds int    `json:"period_seconds"`
}

// RateLimitService provides business logic for rate limiting
type RateLimitService struct {
	limiter WindowLimiter
	Logger  *zap.Logger
}

// NewRateLimitService creates a new rate limit service
func NewRateLimitService(lim WindowLimiter, logger *zap.Logger) *RateLimitService {
	return &RateLimitService{
		limiter: lim,
		Logger:  logger,
	}
}

// ValidateRequest validates the rate limit request
func (s *RateLimitService) ValidateRequest(key string, req *LimitRequest) error {
	switch {
	case key == "":
		return fmt.Errorf("%w: %s", ErrInvalidRequest, ErrKeyRequired)
	case req.Threshold <= 0:
		return fmt.Errorf("%w: %s", ErrInvalidRequest, ErrThresholdMustBePositive)
	case req.PeriodSeconds <= 0:
		return fmt.Errorf("%w: %s", ErrInvalidRequest, ErrPeriodMustBePositive)
	case req.LimitedSeconds <= 0:
		return fmt.Errorf("%w: %s", ErrInvalidRequest, ErrLimitedMustBePositive)
	}
	return nil
}

// Policy converts the request into a limiter policy.
func (req *LimitRequest) Policy() limiter.Policy {
	return limiter.Policy{
		Threshold: req.Threshold,
		Period:    time.Duration(req.PeriodSeconds) * time.Second,
		LockFor:   time.Duration(req.LimitedSeconds) * time.Second,
	}
}

// CheckLimit records one request for key and reports whether it is locked
func (s *RateLimitService) CheckLimit(ctx context.Context, key string, req *LimitRequest) (*LimitResponse, error) {
	ctx, span := tracer.Start(ctx, "RateLimitService.CheckLimit")
	defer span.End()
	span.SetAttributes(
		attribute.String("redlimit.key", key),
		attribute.Int64("redlimit.threshold", req.Threshold),
	)

	if err := s.ValidateRequest(key, req); err != nil {
		return nil, err
	}

	res, err := s.limiter.Limit(ctx, key, req.Policy())
	if err != nil {
		metrics.LimitCounter.WithLabelValues(resultError).Inc()
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	status := res.Status.String()
	metrics.LimitCounter.WithLabelValues(status).Inc()
	span.SetAttributes(attribute.String("redlimit.status", status))

	resp := &LimitResponse{
		Key:    key,
		Status: status,
		Count:  res.Count,
		Locked: res.Locked(),
	}
	if res.Locked() {
		resp.RetryAfter = req.LimitedSeconds
	}
	return resp, nil
}

// GetStatus reports the requests inside the window and the lock state
func (s *RateLimitService) GetStatus(ctx context.Context, key string, periodSeconds int) (*LimitStatusResponse, error) {
	ctx, span := tracer.Start(ctx, "RateLimitService.GetStatus")
	defer span.End()

	if key == "" {
		return nil, fmt.Errorf("%w: %s", ErrInvalidRequest, ErrKeyRequired)
	}
	if periodSeconds <= 0 {
		return nil, fmt.Errorf("%w: %s", ErrInvalidRequest, ErrPeriodMustBePositive)
	}

	snap, err := s.limiter.Peek(ctx, key, time.Duration(periodSeconds)*time.Second)
	if err != nil {
		span.RecordError(err)
		s.Logger.Error("failed to read limiter state", zap.String("key", key), zap.Error(err))
		return nil, err
	}
	return &LimitStatusResponse{
		Key:           key,
		Count:         snap.Count,
		Locked:        snap.Locked,
		PeriodSeconds: periodSeconds,
	}, nil
}

// ResetLimit clears the recorded requests for key. An active lock is kept.
func (s *RateLimitService) ResetLimit(ctx context.Context, key string) error {
	ctx, span := tracer.Start(ctx, "RateLimitService.ResetLimit")
	defer span.End()

	if key == "" {
		return fmt.Errorf("%w: %s", ErrInvalidRequest, ErrKeyRequired)
	}
	if err := s.limiter.Reset(ctx, key); err != nil {
		span.RecordError(err)
		return err
	}
	s.Logger.Info("rate limit reset", zap.String("key", key))
	return nil
}
