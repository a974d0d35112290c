package limiter

import (
	"context"
	"errors"
	"time"
)

// Status is the outcome class of a Limit call.
type Status int

const (
	// StatusCounted means the request was recorded and the key is not locked.
	StatusCounted Status = iota
	// StatusAlreadyLocked means an earlier escalation (or a manual lock) holds the key.
	StatusAlreadyLocked
	// StatusNewlyLocked means this request crossed the threshold and locked the key.
	StatusNewlyLocked
)

func (s Status) String() string {
	switch s {
	case StatusCounted:
		return "counted"
	case StatusAlreadyLocked:
		return "already_locked"
	case StatusNewlyLocked:
		return "newly_locked"
	default:
		return "unknown"
	}
}

// Result is returned by Limit. Count is the number of earlier requests still
// inside the window; it is zero for StatusAlreadyLocked.
type Result struct {
	Status Status
	Count  int64
}

// Locked reports whether the caller should be turned away.
func (r Result) Locked() bool {
	return r.Status != StatusCounted
}

// Policy configures one Limit call.
type Policy struct {
	// Threshold is the request count inside Period that triggers a lock.
	Threshold int64
	// Period is the length of the sliding window.
	Period time.Duration
	// LockFor is how long the escalation lock lasts.
	LockFor time.Duration
}

// ErrInvalidPolicy is returned for a Policy with non-positive fields.
var ErrInvalidPolicy = errors.New("limiter: threshold, period and lock duration must be positive")

// Validate checks that every field is positive.
func (p Policy) Validate() error {
	if p.Threshold <= 0 || p.Period <= 0 || p.LockFor <= 0 {
		return ErrInvalidPolicy
	}
	return nil
}

// RateLimiter counts requests per key and locks keys that exceed a policy.
//
// Limit serializes calls for the same key across every process sharing the
// store; errors from the store or the mutex are returned unchanged.
type RateLimiter interface {
	// Limit records one request for key under policy.
	Limit(ctx context.Context, key string, policy Policy) (Result, error)

	// Reset clears the window for key. It does not unlock the key.
	Reset(ctx context.Context, key string) error
}
