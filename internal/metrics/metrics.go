package metrics

import (
	"context"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/mohammadhprp/redlimit/internal/mutex"
)

var (
	// LockCounter counts Lock calls by result (acquired, already_locked, error).
	LockCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "redlimit_lock_total",
		Help: "Total number of lock attempts",
	}, []string{"result"})
	// UnlockCounter counts Unlock calls by result (released, mismatch, error).
	UnlockCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "redlimit_unlock_total",
		Help: "Total number of unlock attempts",
	}, []string{"result"})
	// LimitCounter counts Limit calls by status, or "error".
	LimitCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "redlimit_limit_total",
		Help: "Total number of rate limit checks",
	}, []string{"result"})
	// MutexWait observes how long callers waited for the limiter mutex.
	MutexWait = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "redlimit_mutex_wait_seconds",
		Help:    "Time spent acquiring the per-key limiter mutex",
		Buckets: prometheus.ExponentialBuckets(0.001, 2, 12),
	})
)

// NewRegistry creates a new Prometheus registry.
func NewRegistry() *prometheus.Registry {
	return prometheus.NewRegistry()
}

// Register registers the redlimit metrics on the provided registry.
func Register(reg prometheus.Registerer) {
	reg.MustRegister(LockCounter, UnlockCounter, LimitCounter, MutexWait)
}

// InstrumentMutex records acquisition latency of m in MutexWait, whether or
// not the lease was obtained.
func InstrumentMutex(m mutex.Mutex) mutex.Mutex {
	return timedMutex{next: m}
}

type timedMutex struct {
	next mutex.Mutex
}

func (t timedMutex) Acquire(ctx context.Context, name string, lease time.Duration) (mutex.Lease, error) {
	start := time.Now()
	l, err := t.next.Acquire(ctx, name, lease)
	MutexWait.Observe(time.Since(start).Seconds())
	return l, err
}
