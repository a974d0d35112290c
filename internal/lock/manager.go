// Package lock implements exclusive named locks over a shared store. A lock
// is held while its record exists; the record's value is the credential
// returned to the acquirer, and any caller presenting it may release the lock.
package lock

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/mohammadhprp/redlimit/internal/keys"
	"github.com/mohammadhprp/redlimit/internal/storage"
	"go.uber.org/zap"
)

var (
	// ErrAlreadyLocked is returned by Lock when any requested key is held.
	ErrAlreadyLocked = errors.New("lock: already locked")
	// ErrNoKeys is returned by Lock when the key set is empty.
	ErrNoKeys = errors.New("lock: no keys given")
	// ErrInvalidDuration is returned by Lock for non-positive durations.
	ErrInvalidDuration = errors.New("lock: duration must be positive")
)

// Credential is the acquisition timestamp in milliseconds since the epoch.
type Credential string

// CredentialAt returns the credential for an acquisition at t.
func CredentialAt(t time.Time) Credential {
	return Credential(strconv.FormatInt(t.UnixMilli(), 10))
}

// Manager acquires and releases lock records in one namespace.
type Manager struct {
	store  storage.Store
	namer  keys.Namer
	logger *zap.Logger
	now    func() time.Time
}

// Option configures a Manager.
type Option func(*Manager)

// WithClock overrides the clock used to mint credentials.
func WithClock(now func() time.Time) Option {
	return func(m *Manager) {
		m.now = now
	}
}

// NewManager creates a lock manager.
func NewManager(store storage.Store, namer keys.Namer, logger *zap.Logger, opts ...Option) *Manager {
	m := &Manager{
		store:  store,
		namer:  namer,
		logger: logger,
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// ListLocked returns the logical keys currently locked. The result is a
// snapshot and may be stale by the time it is returned.
func (m *Manager) ListLocked(ctx context.Context) ([]string, error) {
	storeKeys, err := m.store.KeysWithPrefix(ctx, m.namer.Prefix(keys.ClassLocked))
	if err != nil {
		return nil, fmt.Errorf("list locked keys: %w", err)
	}

	locked := make([]string, 0, len(storeKeys))
	for _, k := range storeKeys {
		if logical, ok := m.namer.Logical(k, keys.ClassLocked); ok {
			locked = append(locked, logical)
		}
	}
	return locked, nil
}

// Lock locks every key in logicalKeys for duration, or none of them. It
// returns ErrAlreadyLocked when any key is held, otherwise the credential
// needed to release the lock.
func (m *Manager) Lock(ctx context.Context, logicalKeys []string, duration time.Duration) (Credential, error) {
	storeKeys := m.namer.Keys(logicalKeys, keys.ClassLocked)
	if len(storeKeys) == 0 {
		return "", ErrNoKeys
	}
	if duration <= 0 {
		return "", ErrInvalidDuration
	}

	// Fast path only: the conditional writes below are authoritative.
	held, err := m.store.Exists(ctx, storeKeys...)
	if err != nil {
		return "", fmt.Errorf("check locks: %w", err)
	}
	if held > 0 {
		m.logger.Debug("lock rejected, keys already held", zap.Strings("keys", logicalKeys))
		return "", ErrAlreadyLocked
	}

	cred := CredentialAt(m.now())
	ops := make([]storage.Op, len(storeKeys))
	for i, k := range storeKeys {
		ops[i] = storage.SetNXOp(k, string(cred), duration)
	}
	results, err := m.store.Exec(ctx, ops...)
	if err != nil {
		return "", fmt.Errorf("write locks: %w", err)
	}

	won := make([]string, 0, len(storeKeys))
	for i, r := range results {
		if r.Bool {
			won = append(won, storeKeys[i])
		}
	}
	if len(won) == len(storeKeys) {
		return cred, nil
	}

	// A racer took some key between the check and the write.
	if len(won) > 0 {
		if _, err := m.store.Exec(ctx, storage.DeleteOp(won...)); err != nil {
			return "", fmt.Errorf("roll back partial lock: %w", err)
		}
	}
	m.logger.Debug("lock lost race", zap.Strings("keys", logicalKeys), zap.Int("rolled_back", len(won)))
	return "", ErrAlreadyLocked
}

// Unlock releases logicalKeys if every present record holds cred. It returns
// false and deletes nothing when any record holds a different value.
func (m *Manager) Unlock(ctx context.Context, logicalKeys []string, cred Credential) (bool, error) {
	storeKeys := m.namer.Keys(logicalKeys, keys.ClassLocked)
	if len(storeKeys) == 0 {
		return true, nil
	}

	values, err := m.store.MGet(ctx, storeKeys...)
	if err != nil {
		return false, fmt.Errorf("read locks: %w", err)
	}
	for i, v := range values {
		if v.Found && v.Data != string(cred) {
			m.logger.Debug("unlock rejected, credential mismatch", zap.String("key", storeKeys[i]))
			return false, nil
		}
	}

	return m.remove(ctx, storeKeys)
}

// ForceUnlock releases logicalKeys regardless of who holds them.
func (m *Manager) ForceUnlock(ctx context.Context, logicalKeys []string) (bool, error) {
	storeKeys := m.namer.Keys(logicalKeys, keys.ClassLocked)
	if len(storeKeys) == 0 {
		return true, nil
	}
	return m.remove(ctx, storeKeys)
}

func (m *Manager) remove(ctx context.Context, storeKeys []string) (bool, error) {
	if _, err := m.store.Delete(ctx, storeKeys...); err != nil {
		return false, fmt.Errorf("delete locks: %w", err)
	}
	return true, nil
}
