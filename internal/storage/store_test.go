package storage

import (
	"context"
	"sort"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type storeFactory struct {
	name string
	new  func(t *testing.T) Store
}

func newMiniredisStore(t *testing.T) (*RedisStore, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return NewRedisStoreWithClient(client), mr
}

func factories() []storeFactory {
	return []storeFactory{
		{name: "memory", new: func(t *testing.T) Store {
			ms := NewMemoryStore()
			t.Cleanup(func() { _ = ms.Close() })
			return ms
		}},
		{name: "redis", new: func(t *testing.T) Store {
			s, _ := newMiniredisStore(t)
			return s
		}},
	}
}

func TestStoreContract(t *testing.T) {
	for _, f := range factories() {
		t.Run(f.name, func(t *testing.T) {
			ctx := context.Background()

			t.Run("setnx only writes absent keys", func(t *testing.T) {
				s := f.new(t)

				ok, err := s.SetNX(ctx, "k", "v1", time.Minute)
				require.NoError(t, err)
				assert.True(t, ok)

				ok, err = s.SetNX(ctx, "k", "v2", time.Minute)
				require.NoError(t, err)
				assert.False(t, ok)

				values, err := s.MGet(ctx, "k", "missing")
				require.NoError(t, err)
				require.Len(t, values, 2)
				assert.Equal(t, Value{Data: "v1", Found: true}, values[0])
				assert.False(t, values[1].Found)
			})

			t.Run("exists and delete count present keys", func(t *testing.T) {
				s := f.new(t)
				_, _ = s.SetNX(ctx, "a", "1", time.Minute)
				_, _ = s.SetNX(ctx, "b", "1", time.Minute)

				n, err := s.Exists(ctx, "a", "b", "c")
				require.NoError(t, err)
				assert.Equal(t, int64(2), n)

				n, err = s.Delete(ctx, "a", "c")
				require.NoError(t, err)
				assert.Equal(t, int64(1), n)

				n, err = s.Exists(ctx, "a", "b")
				require.NoError(t, err)
				assert.Equal(t, int64(1), n)
			})

			t.Run("keys with prefix", func(t *testing.T) {
				s := f.new(t)
				_, _ = s.SetNX(ctx, "ns_LOCKED_a", "1", time.Minute)
				_, _ = s.SetNX(ctx, "ns_LOCKED_b", "1", time.Minute)
				_, _ = s.SetNX(ctx, "ns_LIMITER_a", "1", time.Minute)
				_, _ = s.SetNX(ctx, "other_LOCKED_a", "1", time.Minute)

				keys, err := s.KeysWithPrefix(ctx, "ns_LOCKED_")
				require.NoError(t, err)
				sort.Strings(keys)
				assert.Equal(t, []string{"ns_LOCKED_a", "ns_LOCKED_b"}, keys)
			})

			t.Run("sorted set range removal", func(t *testing.T) {
				s := f.new(t)
				for i, score := range []float64{100, 200, 300} {
					require.NoError(t, s.ZAdd(ctx, "z", score, string(rune('a'+i))))
				}

				inWindow, err := s.ZCount(ctx, "z", "(100", "+inf")
				require.NoError(t, err)
				assert.Equal(t, int64(2), inWindow)

				removed, err := s.ZRemRangeByScore(ctx, "z", "-inf", "200")
				require.NoError(t, err)
				assert.Equal(t, int64(2), removed)

				n, err := s.ZCard(ctx, "z")
				require.NoError(t, err)
				assert.Equal(t, int64(1), n)

				ok, err := s.Expire(ctx, "z", time.Minute)
				require.NoError(t, err)
				assert.True(t, ok)

				ok, err = s.Expire(ctx, "nothing", time.Minute)
				require.NoError(t, err)
				assert.False(t, ok)
			})

			t.Run("exec returns results in order", func(t *testing.T) {
				s := f.new(t)
				_, _ = s.SetNX(ctx, "taken", "x", time.Minute)

				results, err := s.Exec(ctx,
					SetNXOp("free", "1", time.Minute),
					SetNXOp("taken", "1", time.Minute),
					ZRemRangeByScoreOp("w", "-inf", "10"),
					ZCardOp("w"),
					ZAddOp("w", 20, "m1"),
					ExpireOp("w", time.Minute),
					ZCardOp("w"),
					DeleteOp("free", "ghost"),
				)
				require.NoError(t, err)
				require.Len(t, results, 8)

				assert.True(t, results[0].Bool)
				assert.False(t, results[1].Bool)
				assert.Equal(t, int64(0), results[3].Int)
				assert.True(t, results[5].Bool)
				assert.Equal(t, int64(1), results[6].Int)
				assert.Equal(t, int64(1), results[7].Int)
			})
		})
	}
}

func TestMemoryStoreExpiry(t *testing.T) {
	ms := NewMemoryStore()
	defer ms.Close()

	now := time.Unix(1_700_000_000, 0)
	ms.now = func() time.Time { return now }
	ctx := context.Background()

	ok, err := ms.SetNX(ctx, "k", "v", time.Second)
	require.NoError(t, err)
	require.True(t, ok)

	now = now.Add(2 * time.Second)

	n, err := ms.Exists(ctx, "k")
	require.NoError(t, err)
	assert.Zero(t, n, "expired key must not be reported")

	ok, err = ms.SetNX(ctx, "k", "v2", time.Second)
	require.NoError(t, err)
	assert.True(t, ok, "expired key must be writable again")
}

func TestMemoryStoreExclusiveBound(t *testing.T) {
	ms := NewMemoryStore()
	defer ms.Close()
	ctx := context.Background()

	require.NoError(t, ms.ZAdd(ctx, "z", 10, "a"))
	require.NoError(t, ms.ZAdd(ctx, "z", 20, "b"))

	removed, err := ms.ZRemRangeByScore(ctx, "z", "-inf", "(20")
	require.NoError(t, err)
	assert.Equal(t, int64(1), removed)

	_, err = ms.ZRemRangeByScore(ctx, "z", "bogus", "1")
	assert.Error(t, err)
}

func TestRedisStoreClosedClient(t *testing.T) {
	s, _ := newMiniredisStore(t)
	require.NoError(t, s.Close())

	_, err := s.Exists(context.Background(), "k")
	assert.ErrorIs(t, err, ErrConnectionClosed)
}

func TestRedisStoreTTLFollowsServerClock(t *testing.T) {
	s, mr := newMiniredisStore(t)
	ctx := context.Background()

	ok, err := s.SetNX(ctx, "k", "v", 10*time.Second)
	require.NoError(t, err)
	require.True(t, ok)

	mr.FastForward(11 * time.Second)

	n, err := s.Exists(ctx, "k")
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestEscapeGlob(t *testing.T) {
	assert.Equal(t, `a\*b\?c\[d\]`, escapeGlob("a*b?c[d]"))
	assert.Equal(t, "plain_NS_", escapeGlob("plain_NS_"))
}

func TestNewRedisStore(t *testing.T) {
	mr := miniredis.RunT(t)
	addr := mr.Addr()

	s, err := NewRedisStore(addr, "", 0, WithTimeout(time.Second), WithPoolSize(3))
	require.NoError(t, err)
	defer s.Close()
	assert.Equal(t, time.Second, s.timeout)
	assert.Equal(t, 3, s.poolSize)
	assert.NoError(t, s.Ping(context.Background()))
	assert.NoError(t, s.Client().Ping(context.Background()).Err())

	mr.Close()
	_, err = NewRedisStore(addr, "", 0)
	assert.Error(t, err, "an unreachable server fails fast")
}
