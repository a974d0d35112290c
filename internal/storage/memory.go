package storage

import (
	"context"
	"fmt"
	"math"
	"strconv"
	"strings"
	"sync"
	"time"
)

// MemoryStore implements Store interface using in-memory storage. It is only
// shared between goroutines of one process; use RedisStore across processes.
type MemoryStore struct {
	mu         sync.RWMutex
	data       map[string]*StorageValue
	sortedSets map[string]*SortedSet
	stopChan   chan struct{}
	closeOnce  sync.Once
	now        func() time.Time
}

// StorageValue represents a value with expiration
type StorageValue struct {
	value      string
	expiration time.Time
}

// SortedSet represents a sorted set data structure
type SortedSet struct {
	members    map[string]float64 // member -> score
	expiration time.Time
}

// NewMemoryStore creates a new in-memory store
func NewMemoryStore() *MemoryStore {
	ms := &MemoryStore{
		data:       make(map[string]*StorageValue),
		sortedSets: make(map[string]*SortedSet),
		stopChan:   make(chan struct{}),
		now:        time.Now,
	}

	// Start a goroutine to clean up expired keys
	go ms.cleanupExpiredKeys()

	return ms
}

// cleanupExpiredKeys periodically removes expired keys
func (ms *MemoryStore) cleanupExpiredKeys() {
	ticker := time.NewTicker(100 * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			ms.removeExpiredKeys()
		case <-ms.stopChan:
			return
		}
	}
}

// removeExpiredKeys removes all expired keys from storage
func (ms *MemoryStore) removeExpiredKeys() {
	ms.mu.Lock()
	defer ms.mu.Unlock()

	now := ms.now()
	for key, val := range ms.data {
		if expired(val.expiration, now) {
			delete(ms.data, key)
		}
	}
	for key, zset := range ms.sortedSets {
		if expired(zset.expiration, now) {
			delete(ms.sortedSets, key)
		}
	}
}

func expired(at, now time.Time) bool {
	return !at.IsZero() && !at.After(now)
}

func (ms *MemoryStore) deadline(ttl time.Duration) time.Time {
	if ttl <= 0 {
		return time.Time{}
	}
	return ms.now().Add(ttl)
}

// live returns the string value at key, ignoring expired entries.
func (ms *MemoryStore) live(key string) (*StorageValue, bool) {
	val, ok := ms.data[key]
	if !ok || expired(val.expiration, ms.now()) {
		return nil, false
	}
	return val, true
}

func (ms *MemoryStore) liveSet(key string) (*SortedSet, bool) {
	zset, ok := ms.sortedSets[key]
	if !ok || expired(zset.expiration, ms.now()) {
		return nil, false
	}
	return zset, true
}

// Exists returns how many of keys are present.
func (ms *MemoryStore) Exists(ctx context.Context, keys ...string) (int64, error) {
	ms.mu.RLock()
	defer ms.mu.RUnlock()

	var n int64
	for _, k := range keys {
		if _, ok := ms.live(k); ok {
			n++
			continue
		}
		if _, ok := ms.liveSet(k); ok {
			n++
		}
	}
	return n, nil
}

// SetNX sets key only if it is absent.
func (ms *MemoryStore) SetNX(ctx context.Context, key, value string, ttl time.Duration) (bool, error) {
	ms.mu.Lock()
	defer ms.mu.Unlock()

	return ms.setNX(key, value, ttl), nil
}

func (ms *MemoryStore) setNX(key, value string, ttl time.Duration) bool {
	if _, ok := ms.live(key); ok {
		return false
	}
	if _, ok := ms.liveSet(key); ok {
		return false
	}
	ms.data[key] = &StorageValue{value: value, expiration: ms.deadline(ttl)}
	return true
}

// MGet returns the values of keys in order.
func (ms *MemoryStore) MGet(ctx context.Context, keys ...string) ([]Value, error) {
	ms.mu.RLock()
	defer ms.mu.RUnlock()

	values := make([]Value, len(keys))
	for i, k := range keys {
		if val, ok := ms.live(k); ok {
			values[i] = Value{Data: val.value, Found: true}
		}
	}
	return values, nil
}

// Delete removes keys from storage
func (ms *MemoryStore) Delete(ctx context.Context, keys ...string) (int64, error) {
	ms.mu.Lock()
	defer ms.mu.Unlock()

	return ms.delete(keys...), nil
}

func (ms *MemoryStore) delete(keys ...string) int64 {
	var n int64
	for _, k := range keys {
		if _, ok := ms.live(k); ok {
			n++
		} else if _, ok := ms.liveSet(k); ok {
			n++
		}
		delete(ms.data, k)
		delete(ms.sortedSets, k)
	}
	return n
}

// KeysWithPrefix lists live keys starting with prefix.
func (ms *MemoryStore) KeysWithPrefix(ctx context.Context, prefix string) ([]string, error) {
	ms.mu.RLock()
	defer ms.mu.RUnlock()

	var keys []string
	for k := range ms.data {
		if _, ok := ms.live(k); ok && strings.HasPrefix(k, prefix) {
			keys = append(keys, k)
		}
	}
	for k := range ms.sortedSets {
		if _, ok := ms.liveSet(k); ok && strings.HasPrefix(k, prefix) {
			keys = append(keys, k)
		}
	}
	return keys, nil
}

// ZAdd adds a member with score to a sorted set
func (ms *MemoryStore) ZAdd(ctx context.Context, key string, score float64, member string) error {
	ms.mu.Lock()
	defer ms.mu.Unlock()

	return ms.zadd(key, score, member)
}

func (ms *MemoryStore) zadd(key string, score float64, member string) error {
	if _, ok := ms.live(key); ok {
		return fmt.Errorf("failed to zadd: key %q holds a string value", key)
	}
	zset, ok := ms.liveSet(key)
	if !ok {
		zset = &SortedSet{members: make(map[string]float64)}
		ms.sortedSets[key] = zset
	}
	zset.members[member] = score
	return nil
}

// ZRemRangeByScore removes members with scores in the given range
func (ms *MemoryStore) ZRemRangeByScore(ctx context.Context, key, min, max string) (int64, error) {
	ms.mu.Lock()
	defer ms.mu.Unlock()

	return ms.zremRangeByScore(key, min, max)
}

func (ms *MemoryStore) zremRangeByScore(key, min, max string) (int64, error) {
	lo, err := parseBound(min)
	if err != nil {
		return 0, err
	}
	hi, err := parseBound(max)
	if err != nil {
		return 0, err
	}

	zset, ok := ms.liveSet(key)
	if !ok {
		return 0, nil
	}

	var n int64
	for member, score := range zset.members {
		if lo.below(score) && hi.above(score) {
			delete(zset.members, member)
			n++
		}
	}

	// If the sorted set is empty, delete it
	if len(zset.members) == 0 {
		delete(ms.sortedSets, key)
	}
	return n, nil
}

// ZCount counts members with scores in the given range
func (ms *MemoryStore) ZCount(ctx context.Context, key, min, max string) (int64, error) {
	lo, err := parseBound(min)
	if err != nil {
		return 0, err
	}
	hi, err := parseBound(max)
	if err != nil {
		return 0, err
	}

	ms.mu.RLock()
	defer ms.mu.RUnlock()

	zset, ok := ms.liveSet(key)
	if !ok {
		return 0, nil
	}

	count := int64(0)
	for _, score := range zset.members {
		if lo.below(score) && hi.above(score) {
			count++
		}
	}
	return count, nil
}

// ZCard counts members of a sorted set
func (ms *MemoryStore) ZCard(ctx context.Context, key string) (int64, error) {
	ms.mu.RLock()
	defer ms.mu.RUnlock()

	return ms.zcard(key), nil
}

func (ms *MemoryStore) zcard(key string) int64 {
	zset, ok := ms.liveSet(key)
	if !ok {
		return 0
	}
	return int64(len(zset.members))
}

// Expire sets expiration for a key
func (ms *MemoryStore) Expire(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	ms.mu.Lock()
	defer ms.mu.Unlock()

	return ms.expire(key, ttl), nil
}

func (ms *MemoryStore) expire(key string, ttl time.Duration) bool {
	if ttl <= 0 {
		return ms.delete(key) > 0
	}
	if val, ok := ms.live(key); ok {
		val.expiration = ms.deadline(ttl)
		return true
	}
	if zset, ok := ms.liveSet(key); ok {
		zset.expiration = ms.deadline(ttl)
		return true
	}
	return false
}

// Exec applies ops while holding the write lock for the whole batch.
func (ms *MemoryStore) Exec(ctx context.Context, ops ...Op) ([]Result, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	ms.mu.Lock()
	defer ms.mu.Unlock()

	results := make([]Result, len(ops))
	for i, op := range ops {
		switch op.kind {
		case opSetNX:
			results[i].Bool = ms.setNX(op.key, op.value, op.ttl)
		case opZAdd:
			if err := ms.zadd(op.key, op.score, op.value); err != nil {
				return nil, err
			}
			results[i].Int = 1
		case opZRemRangeByScore:
			n, err := ms.zremRangeByScore(op.key, op.min, op.max)
			if err != nil {
				return nil, err
			}
			results[i].Int = n
		case opZCard:
			results[i].Int = ms.zcard(op.key)
		case opExpire:
			results[i].Bool = ms.expire(op.key, op.ttl)
		case opDelete:
			results[i].Int = ms.delete(op.keys...)
		default:
			return nil, fmt.Errorf("unsupported batch op %d", op.kind)
		}
		if results[i].Int > 0 {
			results[i].Bool = true
		}
	}
	return results, nil
}

// Ping checks if the storage is accessible
func (ms *MemoryStore) Ping(ctx context.Context) error {
	// In-memory storage is always accessible
	return nil
}

// Close closes the storage connection
func (ms *MemoryStore) Close() error {
	ms.closeOnce.Do(func() { close(ms.stopChan) })
	return nil
}

// scoreBound is one end of a score range in Redis syntax.
type scoreBound struct {
	value     float64
	exclusive bool
}

func parseBound(s string) (scoreBound, error) {
	var b scoreBound
	if strings.HasPrefix(s, "(") {
		b.exclusive = true
		s = s[1:]
	}
	switch s {
	case "-inf":
		b.value = math.Inf(-1)
	case "+inf", "inf":
		b.value = math.Inf(1)
	default:
		v, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return b, fmt.Errorf("invalid score bound %q: %w", s, err)
		}
		b.value = v
	}
	return b, nil
}

// below reports whether score is on or above the lower bound.
func (b scoreBound) below(score float64) bool {
	if b.exclusive {
		return score > b.value
	}
	return score >= b.value
}

// above reports whether score is on or below the upper bound.
func (b scoreBound) above(score float64) bool {
	if b.exclusive {
		return score < b.value
	}
	return score <= b.value
}
