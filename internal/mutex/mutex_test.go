package mutex

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newRedlock(t *testing.T, opts Options) (*Redlock, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return NewRedlock(opts, client), mr
}

func implementations(t *testing.T, opts Options) map[string]Mutex {
	rl, _ := newRedlock(t, opts)
	return map[string]Mutex{
		"local":   NewLocal(opts),
		"redlock": rl,
	}
}

func TestAcquireRelease(t *testing.T) {
	for name, m := range implementations(t, Options{Tries: 2, RetryDelay: 5 * time.Millisecond}) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()

			lease, err := m.Acquire(ctx, "section", 5*time.Second)
			require.NoError(t, err)
			assert.Equal(t, "section", lease.Name())

			_, err = m.Acquire(ctx, "section", 5*time.Second)
			assert.ErrorIs(t, err, ErrTimeout)

			other, err := m.Acquire(ctx, "other", 5*time.Second)
			require.NoError(t, err, "sections are independent")
			require.NoError(t, other.Release(ctx))

			require.NoError(t, lease.Release(ctx))
			require.NoError(t, lease.Release(ctx), "release is idempotent")

			again, err := m.Acquire(ctx, "section", 5*time.Second)
			require.NoError(t, err)
			require.NoError(t, again.Release(ctx))
		})
	}
}

func TestMutualExclusion(t *testing.T) {
	for name, m := range implementations(t, Options{Tries: 200, RetryDelay: 2 * time.Millisecond}) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			var (
				active, peak int32
				wg           sync.WaitGroup
			)

			const workers = 8
			errs := make(chan error, workers)
			for range workers {
				wg.Add(1)
				go func() {
					defer wg.Done()
					lease, err := m.Acquire(ctx, "shared", 5*time.Second)
					if err != nil {
						errs <- err
						return
					}
					n := atomic.AddInt32(&active, 1)
					for {
						p := atomic.LoadInt32(&peak)
						if n <= p || atomic.CompareAndSwapInt32(&peak, p, n) {
							break
						}
					}
					time.Sleep(time.Millisecond)
					atomic.AddInt32(&active, -1)
					errs <- lease.Release(ctx)
				}()
			}
			wg.Wait()
			close(errs)

			for err := range errs {
				require.NoError(t, err)
			}
			assert.Equal(t, int32(1), peak)
		})
	}
}

func TestLocalLeaseExpires(t *testing.T) {
	l := NewLocal(Options{Tries: 1})
	now := time.Unix(1_700_000_000, 0)
	l.now = func() time.Time { return now }
	ctx := context.Background()

	stale, err := l.Acquire(ctx, "s", time.Second)
	require.NoError(t, err)

	now = now.Add(2 * time.Second)

	fresh, err := l.Acquire(ctx, "s", time.Second)
	require.NoError(t, err, "expired lease must not block")

	require.NoError(t, stale.Release(ctx))
	_, err = l.Acquire(ctx, "s", time.Second)
	assert.ErrorIs(t, err, ErrTimeout, "stale release must not free the new holder")

	require.NoError(t, fresh.Release(ctx))
}

func TestLocalAcquireHonoursContext(t *testing.T) {
	l := NewLocal(Options{Tries: 1000, RetryDelay: time.Second})
	ctx := context.Background()

	held, err := l.Acquire(ctx, "s", time.Minute)
	require.NoError(t, err)
	defer held.Release(ctx)

	cctx, cancel := context.WithTimeout(ctx, 10*time.Millisecond)
	defer cancel()

	start := time.Now()
	_, err = l.Acquire(cctx, "s", time.Minute)
	assert.ErrorIs(t, err, ErrTimeout)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Less(t, time.Since(start), 500*time.Millisecond)
}

func TestRedlockLeaseExpiresOnServer(t *testing.T) {
	rl, mr := newRedlock(t, Options{Tries: 1})
	ctx := context.Background()

	_, err := rl.Acquire(ctx, "s", 2*time.Second)
	require.NoError(t, err)

	mr.FastForward(3 * time.Second)

	lease, err := rl.Acquire(ctx, "s", 2*time.Second)
	require.NoError(t, err, "crashed holder's lease must expire")
	require.NoError(t, lease.Release(ctx))
}

func TestRedlockStoreFailureIsNotTimeout(t *testing.T) {
	rl, mr := newRedlock(t, Options{Tries: 2, RetryDelay: time.Millisecond})
	ctx := context.Background()

	held, err := rl.Acquire(ctx, "s", 5*time.Second)
	require.NoError(t, err)
	_, err = rl.Acquire(ctx, "s", 5*time.Second)
	assert.ErrorIs(t, err, ErrTimeout, "contention is a timeout")
	require.NoError(t, held.Release(ctx))

	mr.Close()
	_, err = rl.Acquire(ctx, "s", 5*time.Second)
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrTimeout, "an unreachable Redis is a store failure")
}
