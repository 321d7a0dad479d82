// Package cache provides the distributed run lock that keeps scheduled and
// manual syncs from overlapping.
package cache

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"time"
)

// Errors returned by run locks
var (
	ErrLockNotHeld    = errors.New("cache: lock not held")
	ErrInvalidLockTTL = errors.New("cache: lock ttl must be positive")
)

// Lease identifies one successful acquisition. Only the holder of the token
// may release the lock.
type Lease struct {
	Key       string
	Token     string
	ExpiresAt time.Time
}

// RunLock is a mutual-exclusion lock with expiry
type RunLock interface {
	// Acquire returns ok=false without error when the lock is held elsewhere.
	Acquire(ctx context.Context, key string, ttl time.Duration) (lease Lease, ok bool, err error)
	// Release frees the lock if lease still owns it, else ErrLockNotHeld.
	Release(ctx context.Context, lease Lease) error
	// Extend pushes the expiry of a held lease to now+ttl, else ErrLockNotHeld.
	Extend(ctx context.Context, lease Lease, ttl time.Duration) (Lease, error)
}

// KeepAlive extends lease every ttl/3 until stop is called. Errors are passed
// to onError; renewal ends once the lease is lost.
func KeepAlive(ctx context.Context, lock RunLock, lease Lease, ttl time.Duration, onError func(error)) (stop func()) {
	ctx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})

	every := ttl / 3
	if every <= 0 {
		every = ttl
	}

	go func() {
		defer close(done)
		ticker := time.NewTicker(every)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				next, err := lock.Extend(ctx, lease, ttl)
				if err == nil {
					lease = next
					continue
				}
				if ctx.Err() != nil {
					return
				}
				if onError != nil {
					onError(err)
				}
				if errors.Is(err, ErrLockNotHeld) {
					return
				}
			}
		}
	}()

	return func() {
		cancel()
		<-done
	}
}

func newLockToken() string {
	var b [16]byte
	_, _ = rand.Read(b[:])
	return hex.EncodeToString(b[:])
}
