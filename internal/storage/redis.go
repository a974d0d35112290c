package storage

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	defaultRedisOpTimeout = 5 * time.Second
	defaultRedisPoolSize  = 10
	scanBatchSize         = 100
)

// RedisStore implements Store using Redis
type RedisStore struct {
	client   redis.UniversalClient
	timeout  time.Duration
	poolSize int
}

// RedisOption configures a RedisStore.
type RedisOption func(*RedisStore)

// WithTimeout sets the per-call timeout for Redis commands.
func WithTimeout(d time.Duration) RedisOption {
	return func(s *RedisStore) {
		if d > 0 {
			s.timeout = d
		}
	}
}

// WithPoolSize sets the connection pool size used by NewRedisStore.
func WithPoolSize(n int) RedisOption {
	return func(s *RedisStore) {
		if n > 0 {
			s.poolSize = n
		}
	}
}

// NewRedisStore creates a new Redis store
func NewRedisStore(addr, password string, db int, opts ...RedisOption) (*RedisStore, error) {
	s := newRedisStore(opts)
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
		PoolSize: s.poolSize,
	})

	// Test connection
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to Redis at %s: %w", addr, err)
	}

	s.client = client
	return s, nil
}

// NewRedisStoreWithClient creates a new Redis store with an existing client
func NewRedisStoreWithClient(client redis.UniversalClient, opts ...RedisOption) *RedisStore {
	s := newRedisStore(opts)
	s.client = client
	return s
}

func newRedisStore(opts []RedisOption) *RedisStore {
	s := &RedisStore{timeout: defaultRedisOpTimeout, poolSize: defaultRedisPoolSize}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Client returns the underlying Redis client, shared with the Redlock mutex.
func (s *RedisStore) Client() redis.UniversalClient {
	return s.client
}

func (s *RedisStore) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, s.timeout)
}

// Exists returns how many of keys are present.
func (s *RedisStore) Exists(ctx context.Context, keys ...string) (int64, error) {
	if len(keys) == 0 {
		return 0, nil
	}
	cctx, cancel := s.withTimeout(ctx)
	defer cancel()

	n, err := s.client.Exists(cctx, keys...).Result()
	if err != nil {
		return 0, mapError("check keys", err)
	}
	return n, nil
}

// SetNX sets key only if it is absent.
func (s *RedisStore) SetNX(ctx context.Context, key, value string, ttl time.Duration) (bool, error) {
	cctx, cancel := s.withTimeout(ctx)
	defer cancel()

	ok, err := s.client.SetNX(cctx, key, value, ttl).Result()
	if err != nil {
		return false, mapError("setnx", err)
	}
	return ok, nil
}

// MGet returns the values of keys in order.
func (s *RedisStore) MGet(ctx context.Context, keys ...string) ([]Value, error) {
	if len(keys) == 0 {
		return nil, nil
	}
	cctx, cancel := s.withTimeout(ctx)
	defer cancel()

	raw, err := s.client.MGet(cctx, keys...).Result()
	if err != nil {
		return nil, mapError("mget", err)
	}

	values := make([]Value, len(raw))
	for i, v := range raw {
		switch t := v.(type) {
		case nil:
		case string:
			values[i] = Value{Data: t, Found: true}
		default:
			values[i] = Value{Data: fmt.Sprint(t), Found: true}
		}
	}
	return values, nil
}

// Delete removes keys from storage
func (s *RedisStore) Delete(ctx context.Context, keys ...string) (int64, error) {
	if len(keys) == 0 {
		return 0, nil
	}
	cctx, cancel := s.withTimeout(ctx)
	defer cancel()

	n, err := s.client.Del(cctx, keys...).Result()
	if err != nil {
		return 0, mapError("delete keys", err)
	}
	return n, nil
}

// KeysWithPrefix walks the keyspace with SCAN.
func (s *RedisStore) KeysWithPrefix(ctx context.Context, prefix string) ([]string, error) {
	cctx, cancel := s.withTimeout(ctx)
	defer cancel()

	pattern := escapeGlob(prefix) + "*"
	seen := make(map[string]struct{})
	var (
		cursor uint64
		keys   []string
	)
	for {
		batch, next, err := s.client.Scan(cctx, cursor, pattern, scanBatchSize).Result()
		if err != nil {
			return nil, mapError("scan keys", err)
		}
		for _, k := range batch {
			// SCAN may return a key more than once
			if _, ok := seen[k]; ok {
				continue
			}
			seen[k] = struct{}{}
			keys = append(keys, k)
		}
		if next == 0 {
			break
		}
		cursor = next
	}
	return keys, nil
}

// ZAdd adds a member with score to a sorted set
func (s *RedisStore) ZAdd(ctx context.Context, key string, score float64, member string) error {
	cctx, cancel := s.withTimeout(ctx)
	defer cancel()

	if err := s.client.ZAdd(cctx, key, redis.Z{Score: score, Member: member}).Err(); err != nil {
		return mapError("zadd", err)
	}
	return nil
}

// ZRemRangeByScore removes members with scores in the given range
func (s *RedisStore) ZRemRangeByScore(ctx context.Context, key, min, max string) (int64, error) {
	cctx, cancel := s.withTimeout(ctx)
	defer cancel()

	n, err := s.client.ZRemRangeByScore(cctx, key, min, max).Result()
	if err != nil {
		return 0, mapError("zremrangebyscore", err)
	}
	return n, nil
}

// ZCount counts members with scores in the given range
func (s *RedisStore) ZCount(ctx context.Context, key, min, max string) (int64, error) {
	cctx, cancel := s.withTimeout(ctx)
	defer cancel()

	n, err := s.client.ZCount(cctx, key, min, max).Result()
	if err != nil {
		return 0, mapError("zcount", err)
	}
	return n, nil
}

// ZCard counts members of a sorted set
func (s *RedisStore) ZCard(ctx context.Context, key string) (int64, error) {
	cctx, cancel := s.withTimeout(ctx)
	defer cancel()

	n, err := s.client.ZCard(cctx, key).Result()
	if err != nil {
		return 0, mapError("zcard", err)
	}
	return n, nil
}

// Expire sets expiration for a key
func (s *RedisStore) Expire(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	cctx, cancel := s.withTimeout(ctx)
	defer cancel()

	ok, err := s.client.Expire(cctx, key, ttl).Result()
	if err != nil {
		return false, mapError("expire", err)
	}
	return ok, nil
}

// Exec runs ops inside MULTI/EXEC so no other client interleaves.
func (s *RedisStore) Exec(ctx context.Context, ops ...Op) ([]Result, error) {
	if len(ops) == 0 {
		return nil, nil
	}
	cctx, cancel := s.withTimeout(ctx)
	defer cancel()

	pipe := s.client.TxPipeline()
	cmds := make([]redis.Cmder, len(ops))
	for i, op := range ops {
		switch op.kind {
		case opSetNX:
			cmds[i] = pipe.SetNX(cctx, op.key, op.value, op.ttl)
		case opZAdd:
			cmds[i] = pipe.ZAdd(cctx, op.key, redis.Z{Score: op.score, Member: op.value})
		case opZRemRangeByScore:
			cmds[i] = pipe.ZRemRangeByScore(cctx, op.key, op.min, op.max)
		case opZCard:
			cmds[i] = pipe.ZCard(cctx, op.key)
		case opExpire:
			cmds[i] = pipe.Expire(cctx, op.key, op.ttl)
		case opDelete:
			cmds[i] = pipe.Del(cctx, op.keys...)
		default:
			pipe.Discard()
			return nil, fmt.Errorf("unsupported batch op %d", op.kind)
		}
	}

	if _, err := pipe.Exec(cctx); err != nil {
		return nil, mapError("exec batch", err)
	}

	results := make([]Result, len(cmds))
	for i, cmd := range cmds {
		switch c := cmd.(type) {
		case *redis.BoolCmd:
			results[i].Bool = c.Val()
		case *redis.IntCmd:
			results[i].Int = c.Val()
			results[i].Bool = c.Val() > 0
		}
	}
	return results, nil
}

// Ping checks if the storage is accessible
func (s *RedisStore) Ping(ctx context.Context) error {
	if err := s.client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("redis ping failed: %w", err)
	}
	return nil
}

// Close closes the storage connection
func (s *RedisStore) Close() error {
	if err := s.client.Close(); err != nil {
		return fmt.Errorf("failed to close redis connection: %w", err)
	}
	return nil
}

func mapError(op string, err error) error {
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return fmt.Errorf("%s: %w", op, ErrTimeout)
	case errors.Is(err, redis.ErrClosed):
		return fmt.Errorf("%s: %w", op, ErrConnectionClosed)
	default:
		return fmt.Errorf("failed to %s: %w", op, err)
	}
}

// escapeGlob quotes the characters SCAN MATCH treats as wildcards.
func escapeGlob(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		switch r {
		case '*', '?', '[', ']', '\\':
			b.WriteByte('\\')
		}
		b.WriteRune(r)
	}
	return b.String()
}
