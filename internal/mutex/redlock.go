package mutex

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/go-redsync/redsync/v4"
	redsyncredis "github.com/go-redsync/redsync/v4/redis"
	"github.com/go-redsync/redsync/v4/redis/goredis/v9"
	"github.com/redis/go-redis/v9"
)

// Redlock implements Mutex with redsync over one or more Redis clients.
type Redlock struct {
	rs   *redsync.Redsync
	opts Options
}

// NewRedlock returns a Redlock using clients as the quorum nodes.
func NewRedlock(opts Options, clients ...redis.UniversalClient) *Redlock {
	pools := make([]redsyncredis.Pool, 0, len(clients))
	for _, c := range clients {
		pools = append(pools, goredis.NewPool(c))
	}
	return &Redlock{rs: redsync.New(pools...), opts: opts.normalize()}
}

// Acquire implements Mutex.
func (r *Redlock) Acquire(ctx context.Context, name string, lease time.Duration) (Lease, error) {
	m := r.rs.NewMutex(name,
		redsync.WithExpiry(lease),
		redsync.WithTries(r.opts.Tries),
		redsync.WithRetryDelay(r.opts.RetryDelay),
	)
	if err := m.LockContext(ctx); err != nil {
		if contended(err) {
			return nil, fmt.Errorf("%w: %s: %w", ErrTimeout, name, err)
		}
		return nil, fmt.Errorf("acquire %s: %w", name, err)
	}
	return &redlockLease{m: m}, nil
}

// contended reports whether err means the section is held elsewhere or the
// retry budget ran out, as opposed to a Redis failure.
func contended(err error) bool {
	var (
		taken     *redsync.ErrTaken
		nodeTaken *redsync.ErrNodeTaken
	)
	return errors.Is(err, redsync.ErrFailed) ||
		errors.As(err, &taken) ||
		errors.As(err, &nodeTaken)
}

type redlockLease struct {
	m        *redsync.Mutex
	released atomic.Bool
}

func (l *redlockLease) Name() string {
	return l.m.Name()
}

func (l *redlockLease) Release(ctx context.Context) error {
	if !l.released.CompareAndSwap(false, true) {
		return nil
	}
	if _, err := l.m.UnlockContext(ctx); err != nil && !errors.Is(err, redsync.ErrLockAlreadyExpired) {
		return fmt.Errorf("release %s: %w", l.m.Name(), err)
	}
	return nil
}
