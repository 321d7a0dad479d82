package cache

import (
	"context"
	"sync"
	"time"
)

// Ensure InMemoryRunLock implements RunLock
var _ RunLock = (*InMemoryRunLock)(nil)

type lockEntry struct {
	token     string
	expiresAt time.Time
}

// InMemoryRunLock implements RunLock inside one process.
// This is suitable for single-instance deployments and testing
type InMemoryRunLock struct {
	mu      sync.Mutex
	entries map[string]lockEntry
	now     func() time.Time
}

// InMemoryRunLockOption is a functional option for configuring InMemoryRunLock
type InMemoryRunLockOption func(*InMemoryRunLock)

// WithLockClock sets the clock used for expiry
func WithLockClock(now func() time.Time) InMemoryRunLockOption {
	return func(l *InMemoryRunLock) {
		l.now = now
	}
}

// NewInMemoryRunLock creates an empty in-process lock table
func NewInMemoryRunLock(opts ...InMemoryRunLockOption) *InMemoryRunLock {
	l := &InMemoryRunLock{
		entries: make(map[string]lockEntry),
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Acquire takes the lock for ttl unless a live entry exists
func (l *InMemoryRunLock) Acquire(ctx context.Context, key string, ttl time.Duration) (Lease, bool, error) {
	if ttl <= 0 {
		return Lease{}, false, ErrInvalidLockTTL
	}
	if err := ctx.Err(); err != nil {
		return Lease{}, false, err
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	if e, exists := l.entries[key]; exists && now.Before(e.expiresAt) {
		return Lease{}, false, nil
	}

	lease := Lease{Key: key, Token: newLockToken(), ExpiresAt: now.Add(ttl)}
	l.entries[key] = lockEntry{token: lease.Token, expiresAt: lease.ExpiresAt}
	return lease, true, nil
}

// Release removes the entry if the lease still owns it and it has not expired
func (l *InMemoryRunLock) Release(ctx context.Context, lease Lease) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	e, exists := l.entries[lease.Key]
	if !exists || e.token != lease.Token || !l.now().Before(e.expiresAt) {
		return ErrLockNotHeld
	}
	delete(l.entries, lease.Key)
	return nil
}

// Extend moves the expiry of a live lease to now+ttl
func (l *InMemoryRunLock) Extend(ctx context.Context, lease Lease, ttl time.Duration) (Lease, error) {
	if ttl <= 0 {
		return Lease{}, ErrInvalidLockTTL
	}
	if err := ctx.Err(); err != nil {
		return Lease{}, err
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	e, exists := l.entries[lease.Key]
	if !exists || e.token != lease.Token || !now.Before(e.expiresAt) {
		return Lease{}, ErrLockNotHeld
	}
	e.expiresAt = now.Add(ttl)
	l.entries[lease.Key] = e
	lease.ExpiresAt = e.expiresAt
	return lease, nil
}

// Size returns the number of entries, live or expired (for testing/monitoring)
func (l *InMemoryRunLock) Size() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.entries)
}
