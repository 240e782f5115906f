// Package lock provides per-session locking.
// Single-node deployments use the in-memory locker; multi-node deployments
// share locks through Redis.
package lock

import (
	"context"
	"errors"
	"time"
)

// ErrNotAcquired indicates the lock is held by someone else.
var ErrNotAcquired = errors.New("lock not acquired")

// Locker defines the interface for distributed/local locking.
// Each successful Acquire returns a fresh owner token. Release and Extend
// act only while the key is still held under that token, so a holder whose
// lock expired cannot drop or prolong its successor's lock.
type Locker interface {
	// Acquire attempts to acquire a lock.
	// Returns the owner token and true if the lock was acquired, or false if
	// it's held by another owner. The lock expires after the specified TTL.
	Acquire(ctx context.Context, key string, ttl time.Duration) (string, bool, error)

	// AcquireWithRetry attempts to acquire a lock with retries.
	// Will retry up to maxRetries times with retryDelay between attempts.
	AcquireWithRetry(ctx context.Context, key string, ttl time.Duration, maxRetries int, retryDelay time.Duration) (string, bool, error)

	// Release releases a lock held under token.
	// Returns true if the lock was released, false if token no longer holds it.
	Release(ctx context.Context, key, token string) (bool, error)

	// Extend extends the TTL of a lock held under token.
	Extend(ctx context.Context, key, token string, ttl time.Duration) (bool, error)

	// IsHeld checks if the lock is currently held by anyone.
	IsHeld(ctx context.Context, key string) (bool, error)
}

// Lock is a convenience wrapper for a specific lock instance.
type Lock struct {
	locker Locker
	key    string
	token  string
}

// NewLock creates a new Lock instance.
func NewLock(locker Locker, key string) *Lock {
	return &Lock{locker: locker, key: key}
}

// Acquire attempts to acquire the lock.
func (l *Lock) Acquire(ctx context.Context, ttl time.Duration) (bool, error) {
	token, acquired, err := l.locker.Acquire(ctx, l.key, ttl)
	if err != nil {
		return false, err
	}
	if acquired {
		l.token = token
	}
	return acquired, nil
}

// Release releases the lock. Releasing an unheld lock is a no-op.
func (l *Lock) Release(ctx context.Context) error {
	if l.token == "" {
		return nil
	}
	_, err := l.locker.Release(ctx, l.key, l.token)
	l.token = ""
	return err
}

// IsHeld returns whether the lock is held.
func (l *Lock) IsHeld() bool {
	return l.token != ""
}

// Key returns the locked key.
func (l *Lock) Key() string {
	return l.key
}

// =============================================================================
// Lock Keys
// =============================================================================

// Keys provides lock key generation.
var Keys = lockKeys{}

type lockKeys struct{}

// Session returns the lock key serializing completion and abort of one session.
func (lockKeys) Session(sessionID string) string {
	return "lock:session:" + sessionID
}
