// Package mutex provides the cross-process advisory sections that serialize
// rate-limit bookkeeping per key. A Redlock implementation backs production
// deployments and an in-process one backs the memory store.
package mutex

import (
	"context"
	"errors"
	"time"
)

// ErrTimeout is returned when a lease cannot be obtained within the retry
// budget.
var ErrTimeout = errors.New("mutex: lease not acquired")

// Mutex hands out exclusive, self-expiring leases on named sections.
type Mutex interface {
	// Acquire blocks, retrying internally, until the lease on name is held or
	// the retry budget is spent.
	Acquire(ctx context.Context, name string, lease time.Duration) (Lease, error)
}

// Lease is a held section. Release is idempotent and ignores leases that
// already expired.
type Lease interface {
	Name() string
	Release(ctx context.Context) error
}

// Options bound the acquisition retry loop.
type Options struct {
	Tries      int
	RetryDelay time.Duration
}

// DefaultOptions mirrors the Redlock defaults.
func DefaultOptions() Options {
	return Options{Tries: 32, RetryDelay: 50 * time.Millisecond}
}

func (o Options) normalize() Options {
	d := DefaultOptions()
	if o.Tries <= 0 {
		o.Tries = d.Tries
	}
	if o.RetryDelay <= 0 {
		o.RetryDelay = d.RetryDelay
	}
	return o
}
