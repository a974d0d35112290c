package mutex

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
)

type section struct {
	token    string
	deadline time.Time
	notify   chan struct{}
}

// Local implements Mutex inside one process. Leases expire by deadline so a
// holder that never releases cannot block others past its lease.
type Local struct {
	mu       sync.Mutex
	sections map[string]*section
	opts     Options
	now      func() time.Time
}

// NewLocal returns an in-process Mutex.
func NewLocal(opts Options) *Local {
	return &Local{
		sections: make(map[string]*section),
		opts:     opts.normalize(),
		now:      time.Now,
	}
}

// Acquire implements Mutex.
func (l *Local) Acquire(ctx context.Context, name string, lease time.Duration) (Lease, error) {
	for i := 0; i < l.opts.Tries; i++ {
		token, wait := l.tryAcquire(name, lease)
		if token != "" {
			return &localLease{owner: l, name: name, token: token}, nil
		}
		if i == l.opts.Tries-1 {
			break
		}

		timer := time.NewTimer(l.opts.RetryDelay)
		select {
		case <-wait:
		case <-timer.C:
		case <-ctx.Done():
			timer.Stop()
			return nil, fmt.Errorf("%w: %s: %w", ErrTimeout, name, ctx.Err())
		}
		timer.Stop()
	}
	return nil, fmt.Errorf("%w: %s after %d tries", ErrTimeout, name, l.opts.Tries)
}

// tryAcquire returns a token on success, or the channel closed on release.
func (l *Local) tryAcquire(name string, lease time.Duration) (string, <-chan struct{}) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	if st, ok := l.sections[name]; ok {
		if now.Before(st.deadline) {
			return "", st.notify
		}
		close(st.notify)
		delete(l.sections, name)
	}

	st := &section{
		token:    uuid.NewString(),
		deadline: now.Add(lease),
		notify:   make(chan struct{}),
	}
	l.sections[name] = st
	return st.token, nil
}

func (l *Local) release(name, token string) {
	l.mu.Lock()
	defer l.mu.Unlock()

	st, ok := l.sections[name]
	if !ok || st.token != token {
		return
	}
	close(st.notify)
	delete(l.sections, name)
}

type localLease struct {
	owner *Local
	name  string
	token string
}

func (l *localLease) Name() string {
	return l.name
}

func (l *localLease) Release(context.Context) error {
	l.owner.release(l.name, l.token)
	return nil
}
