package lock

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemoryLocker implements Locker using in-memory locks.
// The locks are NOT shared across process restarts or multiple instances.
// Expired entries are dropped lazily on the next access.
type MemoryLocker struct {
	mu    sync.Mutex
	locks map[string]*lockEntry
	now   func() time.Time
}

type lockEntry struct {
	expiresAt time.Time
	token     string
}

// NewMemoryLocker creates a new in-memory locker.
func NewMemoryLocker() *MemoryLocker {
	return &MemoryLocker{
		locks: make(map[string]*lockEntry),
		now:   time.Now,
	}
}

// live returns the unexpired entry for key. Must be called with mu held.
func (m *MemoryLocker) live(key string) *lockEntry {
	entry, ok := m.locks[key]
	if !ok {
		return nil
	}
	if !m.now().Before(entry.expiresAt) {
		delete(m.locks, key)
		return nil
	}
	return entry
}

// Acquire attempts to acquire a lock.
func (m *MemoryLocker) Acquire(ctx context.Context, key string, ttl time.Duration) (string, bool, error) {
	if err := ctx.Err(); err != nil {
		return "", false, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.live(key) != nil {
		return "", false, nil
	}

	token := uuid.NewString()
	m.locks[key] = &lockEntry{
		expiresAt: m.now().Add(ttl),
		token:     token,
	}
	return token, true, nil
}

// AcquireWithRetry attempts to acquire a lock with retries.
func (m *MemoryLocker) AcquireWithRetry(ctx context.Context, key string, ttl time.Duration, maxRetries int, retryDelay time.Duration) (string, bool, error) {
	return acquireWithRetry(ctx, m, key, ttl, maxRetries, retryDelay)
}

// Release releases a lock held under token.
func (m *MemoryLocker) Release(ctx context.Context, key, token string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.owned(key, token) == nil {
		return false, nil
	}
	delete(m.locks, key)
	return true, nil
}

// Extend extends the TTL of a lock held under token.
func (m *MemoryLocker) Extend(ctx context.Context, key, token string, ttl time.Duration) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	entry := m.owned(key, token)
	if entry == nil {
		return false, nil
	}
	entry.expiresAt = m.now().Add(ttl)
	return true, nil
}

// owned returns the live entry for key if token holds it. Must be called
// with mu held.
func (m *MemoryLocker) owned(key, token string) *lockEntry {
	entry := m.live(key)
	if entry == nil || entry.token != token {
		return nil
	}
	return entry
}

// IsHeld checks if a lock is currently held.
func (m *MemoryLocker) IsHeld(ctx context.Context, key string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	return m.live(key) != nil, nil
}

// acquireWithRetry polls Acquire until it succeeds, retries run out or ctx ends.
func acquireWithRetry(ctx context.Context, l Locker, key string, ttl time.Duration, maxRetries int, retryDelay time.Duration) (string, bool, error) {
	for i := 0; i <= maxRetries; i++ {
		token, acquired, err := l.Acquire(ctx, key, ttl)
		if err != nil {
			return "", false, err
		}
		if acquired {
			return token, true, nil
		}

		if i < maxRetries {
			select {
			case <-ctx.Done():
				return "", false, ctx.Err()
			case <-time.After(retryDelay):
			}
		}
	}
	return "", false, nil
}

// Ensure MemoryLocker implements Locker.
var _ Locker = (*MemoryLocker)(nil)
