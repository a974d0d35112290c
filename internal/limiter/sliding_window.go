package limiter

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/mohammadhprp/redlimit/internal/keys"
	"github.com/mohammadhprp/redlimit/internal/lock"
	"github.com/mohammadhprp/redlimit/internal/mutex"
	"github.com/mohammadhprp/redlimit/internal/storage"
)

// DefaultLease bounds how long one Limit call may hold the per-key mutex.
const DefaultLease = 5 * time.Second

// SlidingWindow implements the Sliding Window rate limiting algorithm with
// escalation to a lock.
//
// Every request is stored as one sorted-set member scored by its timestamp in
// milliseconds, so the window slides with each call and has no bucket edges.
// When the number of earlier requests inside the window reaches the threshold
// the key is locked for the policy's LockFor, and further calls report
// StatusAlreadyLocked until the lock expires or is released.
//
// The read-count-then-lock sequence runs under a distributed mutex scoped to
// the key, so concurrent processes never double count or double escalate.
type SlidingWindow struct {
	store  storage.Store
	mutex  mutex.Mutex
	namer  keys.Namer
	lease  time.Duration
	logger *zap.Logger
	now    func() time.Time
}

// Option configures a SlidingWindow.
type Option func(*SlidingWindow)

// WithLease sets the mutex lease. It must exceed the worst-case duration of
// one Limit call.
func WithLease(d time.Duration) Option {
	return func(sw *SlidingWindow) {
		if d > 0 {
			sw.lease = d
		}
	}
}

// WithClock overrides the clock used to score requests.
func WithClock(now func() time.Time) Option {
	return func(sw *SlidingWindow) {
		sw.now = now
	}
}

// NewSlidingWindow creates a new Sliding Window rate limiter.
//
// Example: lock a client for 30s after 100 requests in a minute
//
//	sw := NewSlidingWindow(store, mu, keys.NewNamer("api"), logger)
//	res, err := sw.Limit(ctx, clientID, Policy{Threshold: 100, Period: time.Minute, LockFor: 30 * time.Second})
func NewSlidingWindow(store storage.Store, mu mutex.Mutex, namer keys.Namer, logger *zap.Logger, opts ...Option) *SlidingWindow {
	sw := &SlidingWindow{
		store:  store,
		mutex:  mu,
		namer:  namer,
		lease:  DefaultLease,
		logger: logger,
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(sw)
	}
	return sw
}

// Limit implements RateLimiter.
func (sw *SlidingWindow) Limit(ctx context.Context, key string, policy Policy) (Result, error) {
	if err := policy.Validate(); err != nil {
		return Result{}, err
	}

	lease, err := sw.mutex.Acquire(ctx, sw.namer.Key(key, keys.ClassRedlock), sw.lease)
	if err != nil {
		sw.logger.Error("failed to acquire limiter mutex", zap.String("key", key), zap.Error(err))
		return Result{}, err
	}
	defer sw.release(ctx, lease)

	lockKey := sw.namer.Key(key, keys.ClassLocked)
	held, err := sw.store.Exists(ctx, lockKey)
	if err != nil {
		sw.logger.Error("failed to check limiter lock", zap.String("key", key), zap.Error(err))
		return Result{}, err
	}
	if held > 0 {
		return Result{Status: StatusAlreadyLocked}, nil
	}

	now := sw.now()
	nowMs := now.UnixMilli()
	windowKey := sw.namer.Key(key, keys.ClassLimiter)

	// Prune, count and append in one batch so the count never includes
	// requests that already left the window.
	results, err := sw.store.Exec(ctx,
		storage.ZRemRangeByScoreOp(windowKey, "-inf", strconv.FormatInt(windowStart(nowMs, policy.Period), 10)),
		storage.ZCardOp(windowKey),
		storage.ZAddOp(windowKey, float64(nowMs), member(nowMs)),
		storage.ExpireOp(windowKey, policy.Period+time.Second),
	)
	if err != nil {
		sw.logger.Error("failed to record request", zap.String("key", key), zap.Error(err))
		return Result{}, err
	}
	count := results[1].Int

	if count < policy.Threshold {
		return Result{Status: StatusCounted, Count: count}, nil
	}

	set, err := sw.store.SetNX(ctx, lockKey, string(lock.CredentialAt(now)), policy.LockFor)
	if err != nil {
		sw.logger.Error("failed to lock rate limited key", zap.String("key", key), zap.Error(err))
		return Result{}, err
	}
	if !set {
		sw.logger.Debug("rate limited key was locked concurrently", zap.String("key", key))
	}
	sw.logger.Info("rate limit exceeded, key locked",
		zap.String("key", key),
		zap.Int64("count", count),
		zap.Duration("lock_for", policy.LockFor),
	)
	return Result{Status: StatusNewlyLocked, Count: count}, nil
}

// Snapshot is a read-only view of a key's limiter state.
type Snapshot struct {
	Count  int64
	Locked bool
}

// Peek reports the requests inside period and whether key is locked, without
// recording a request or taking the mutex.
func (sw *SlidingWindow) Peek(ctx context.Context, key string, period time.Duration) (Snapshot, error) {
	if period <= 0 {
		return Snapshot{}, ErrInvalidPolicy
	}

	held, err := sw.store.Exists(ctx, sw.namer.Key(key, keys.ClassLocked))
	if err != nil {
		return Snapshot{}, err
	}

	start := windowStart(sw.now().UnixMilli(), period)
	count, err := sw.store.ZCount(ctx, sw.namer.Key(key, keys.ClassLimiter), "("+strconv.FormatInt(start, 10), "+inf")
	if err != nil {
		return Snapshot{}, err
	}
	return Snapshot{Count: count, Locked: held > 0}, nil
}

// Reset clears the sliding window state for a specific key.
func (sw *SlidingWindow) Reset(ctx context.Context, key string) error {
	if _, err := sw.store.Delete(ctx, sw.namer.Key(key, keys.ClassLimiter)); err != nil {
		sw.logger.Error("failed to reset sliding window state", zap.String("key", key), zap.Error(err))
		return fmt.Errorf("reset sliding window state: %w", err)
	}
	return nil
}

// release runs on every exit path of Limit, including cancelled contexts.
func (sw *SlidingWindow) release(ctx context.Context, lease mutex.Lease) {
	if err := lease.Release(context.WithoutCancel(ctx)); err != nil {
		sw.logger.Warn("failed to release limiter mutex", zap.String("section", lease.Name()), zap.Error(err))
	}
}

// windowStart is the newest score that falls outside the window.
func windowStart(nowMs int64, period time.Duration) int64 {
	return nowMs - period.Milliseconds()
}

// member makes each request unique even when several share a millisecond.
func member(nowMs int64) string {
	return strconv.FormatInt(nowMs, 10) + "-" + uuid.NewString()
}
