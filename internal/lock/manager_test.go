package lock

import (
	"context"
	"errors"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/mohammadhprp/redlimit/internal/keys"
	"github.com/mohammadhprp/redlimit/internal/storage"
)

func backends(t *testing.T) map[string]storage.Store {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	ms := storage.NewMemoryStore()
	t.Cleanup(func() {
		_ = client.Close()
		_ = ms.Close()
	})
	return map[string]storage.Store{
		"memory": ms,
		"redis":  storage.NewRedisStoreWithClient(client),
	}
}

func newManager(store storage.Store) *Manager {
	return NewManager(store, keys.NewNamer("test"), zap.NewNop())
}

func TestLockUnlockScenario(t *testing.T) {
	for name, store := range backends(t) {
		t.Run(name, func(t *testing.T) {
			m := newManager(store)
			ctx := context.Background()

			cred, err := m.Lock(ctx, []string{"a"}, 10*time.Second)
			require.NoError(t, err)
			require.NotEmpty(t, cred)

			_, err = m.Lock(ctx, []string{"a"}, 10*time.Second)
			assert.ErrorIs(t, err, ErrAlreadyLocked)

			ok, err := m.Unlock(ctx, []string{"a"}, cred)
			require.NoError(t, err)
			assert.True(t, ok)

			ok, err = m.Unlock(ctx, []string{"a"}, cred)
			require.NoError(t, err)
			assert.True(t, ok, "unlocking an absent key succeeds")
		})
	}
}

func TestUnlockWrongCredentialDeletesNothing(t *testing.T) {
	for name, store := range backends(t) {
		t.Run(name, func(t *testing.T) {
			m := newManager(store)
			ctx := context.Background()

			credA, err := m.Lock(ctx, []string{"a"}, time.Minute)
			require.NoError(t, err)
			_, err = m.Lock(ctx, []string{"b"}, time.Minute)
			require.NoError(t, err)

			ok, err := m.Unlock(ctx, []string{"a", "b"}, credA+"0")
			require.NoError(t, err)
			assert.False(t, ok)

			locked, err := m.ListLocked(ctx)
			require.NoError(t, err)
			sort.Strings(locked)
			assert.Equal(t, []string{"a", "b"}, locked)
		})
	}
}

func TestUnlockMixedCredentialsFails(t *testing.T) {
	store := storage.NewMemoryStore()
	defer store.Close()

	clock := time.Unix(1_700_000_000, 0)
	m := NewManager(store, keys.NewNamer("test"), zap.NewNop(), WithClock(func() time.Time { return clock }))
	ctx := context.Background()

	credA, err := m.Lock(ctx, []string{"a"}, time.Minute)
	require.NoError(t, err)
	clock = clock.Add(time.Millisecond)
	_, err = m.Lock(ctx, []string{"b"}, time.Minute)
	require.NoError(t, err)

	ok, err := m.Unlock(ctx, []string{"a", "b"}, credA)
	require.NoError(t, err)
	assert.False(t, ok, "b is held under a later credential")

	n, err := store.Exists(ctx, "test_LOCKED_a", "test_LOCKED_b")
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)
}

func TestForceUnlock(t *testing.T) {
	for name, store := range backends(t) {
		t.Run(name, func(t *testing.T) {
			m := newManager(store)
			ctx := context.Background()

			ok, err := m.ForceUnlock(ctx, []string{"never-locked"})
			require.NoError(t, err)
			assert.True(t, ok)

			_, err = m.Lock(ctx, []string{"x", "y"}, time.Minute)
			require.NoError(t, err)

			ok, err = m.ForceUnlock(ctx, []string{"x", "y", "x"})
			require.NoError(t, err)
			assert.True(t, ok)

			locked, err := m.ListLocked(ctx)
			require.NoError(t, err)
			assert.Empty(t, locked)
		})
	}
}

func TestLockValidation(t *testing.T) {
	store := storage.NewMemoryStore()
	defer store.Close()
	m := newManager(store)
	ctx := context.Background()

	_, err := m.Lock(ctx, nil, time.Second)
	assert.ErrorIs(t, err, ErrNoKeys)

	_, err = m.Lock(ctx, []string{"a"}, 0)
	assert.ErrorIs(t, err, ErrInvalidDuration)

	ok, err := m.Unlock(ctx, nil, "")
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestLockIsAllOrNothing(t *testing.T) {
	for name, store := range backends(t) {
		t.Run(name, func(t *testing.T) {
			m := newManager(store)
			ctx := context.Background()

			_, err := m.Lock(ctx, []string{"b"}, time.Minute)
			require.NoError(t, err)

			_, err = m.Lock(ctx, []string{"a", "b", "c"}, time.Minute)
			assert.ErrorIs(t, err, ErrAlreadyLocked)

			locked, err := m.ListLocked(ctx)
			require.NoError(t, err)
			assert.Equal(t, []string{"b"}, locked)
		})
	}
}

// racingStore lets another writer take a key right after the existence check.
type racingStore struct {
	storage.Store
	race func()
}

func (r *racingStore) Exists(ctx context.Context, keys ...string) (int64, error) {
	n, err := r.Store.Exists(ctx, keys...)
	if r.race != nil {
		r.race()
		r.race = nil
	}
	return n, err
}

func TestLockRollsBackWhenRacerSlipsIn(t *testing.T) {
	for name, store := range backends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			rs := &racingStore{Store: store, race: func() {
				_, _ = store.SetNX(ctx, "test_LOCKED_b", "racer", time.Minute)
			}}
			m := newManager(rs)

			_, err := m.Lock(ctx, []string{"a", "b"}, time.Minute)
			assert.ErrorIs(t, err, ErrAlreadyLocked)

			values, err := store.MGet(ctx, "test_LOCKED_a", "test_LOCKED_b")
			require.NoError(t, err)
			assert.False(t, values[0].Found, "partial lock must be rolled back")
			assert.Equal(t, "racer", values[1].Data, "racer's lock must survive")
		})
	}
}

func TestConcurrentLockHasSingleWinner(t *testing.T) {
	for name, store := range backends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			const workers = 24

			var (
				wg       sync.WaitGroup
				mu       sync.Mutex
				winners  int
				rejected int
			)
			for range workers {
				wg.Add(1)
				go func() {
					defer wg.Done()
					// one manager per goroutine, as separate processes would have
					m := newManager(store)
					_, err := m.Lock(ctx, []string{"k1", "k2"}, time.Minute)
					mu.Lock()
					defer mu.Unlock()
					switch {
					case err == nil:
						winners++
					case errors.Is(err, ErrAlreadyLocked):
						rejected++
					default:
						t.Errorf("unexpected error: %v", err)
					}
				}()
			}
			wg.Wait()

			assert.Equal(t, 1, winners)
			assert.Equal(t, workers-1, rejected)
		})
	}
}

func TestLockExpiresWithTTL(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()
	m := newManager(storage.NewRedisStoreWithClient(client))
	ctx := context.Background()

	_, err := m.Lock(ctx, []string{"a"}, 10*time.Second)
	require.NoError(t, err)

	mr.FastForward(11 * time.Second)

	_, err = m.Lock(ctx, []string{"a"}, 10*time.Second)
	assert.NoError(t, err)
}

func TestNamespacesAreIsolated(t *testing.T) {
	store := storage.NewMemoryStore()
	defer store.Close()
	ctx := context.Background()

	a := NewManager(store, keys.NewNamer("tenant-a"), zap.NewNop())
	b := NewManager(store, keys.NewNamer("tenant-b"), zap.NewNop())

	_, err := a.Lock(ctx, []string{"k"}, time.Minute)
	require.NoError(t, err)
	_, err = b.Lock(ctx, []string{"k"}, time.Minute)
	require.NoError(t, err)

	locked, err := b.ListLocked(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"k"}, locked)
}

func TestCredentialAt(t *testing.T) {
	assert.Equal(t, Credential("1700000000123"), CredentialAt(time.UnixMilli(1_700_000_000_123)))
}
