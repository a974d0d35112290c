package storage

import (
	"context"
	"time"
)

// Store is the key-value adapter the lock manager and rate limiter are built
// on. Every implementation must apply Exec batches without interleaving
// commands from other clients.
type Store interface {
	// Exists returns how many of keys are currently present.
	Exists(ctx context.Context, keys ...string) (int64, error)

	// SetNX sets key to value with ttl only if key is absent.
	SetNX(ctx context.Context, key, value string, ttl time.Duration) (bool, error)

	// MGet returns the values of keys in order. Absent keys have Found false.
	MGet(ctx context.Context, keys ...string) ([]Value, error)

	// Delete removes keys and returns how many existed.
	Delete(ctx context.Context, keys ...string) (int64, error)

	// KeysWithPrefix lists every key starting with prefix.
	KeysWithPrefix(ctx context.Context, prefix string) ([]string, error)

	// ZAdd adds member with score to the sorted set at key.
	ZAdd(ctx context.Context, key string, score float64, member string) error

	// ZRemRangeByScore removes members of key scored within [min, max].
	// Bounds use the Redis syntax ("-inf", "+inf", "(" for exclusive).
	ZRemRangeByScore(ctx context.Context, key, min, max string) (int64, error)

	// ZCount counts members of key scored within [min, max].
	ZCount(ctx context.Context, key, min, max string) (int64, error)

	// ZCard returns the number of members in the sorted set at key.
	ZCard(ctx context.Context, key string) (int64, error)

	// Expire sets the ttl of key. It returns false when key is absent.
	Expire(ctx context.Context, key string, ttl time.Duration) (bool, error)

	// Exec applies ops atomically and returns their results in order.
	Exec(ctx context.Context, ops ...Op) ([]Result, error)

	// Ping checks if the storage is accessible
	Ping(ctx context.Context) error

	// Close closes the storage connection
	Close() error
}

// Value is a single MGet result.
type Value struct {
	Data  string
	Found bool
}
