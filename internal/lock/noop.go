package lock

import (
	"context"
	"time"
)

const noopToken = "noop"

// NoOpLocker grants every lock. Selected by lock.backend "none", for
// deployments that serialize sessions upstream.
type NoOpLocker struct{}

// NewNoOpLocker creates a new no-op locker.
func NewNoOpLocker() *NoOpLocker {
	return &NoOpLocker{}
}

func (NoOpLocker) Acquire(ctx context.Context, _ string, _ time.Duration) (string, bool, error) {
	return noopToken, true, ctx.Err()
}

func (NoOpLocker) AcquireWithRetry(ctx context.Context, _ string, _ time.Duration, _ int, _ time.Duration) (string, bool, error) {
	return noopToken, true, ctx.Err()
}

func (NoOpLocker) Release(ctx context.Context, _, _ string) (bool, error) {
	return true, ctx.Err()
}

func (NoOpLocker) Extend(ctx context.Context, _, _ string, _ time.Duration) (bool, error) {
	return true, ctx.Err()
}

func (NoOpLocker) IsHeld(ctx context.Context, _ string) (bool, error) {
	return false, ctx.Err()
}

var _ Locker = NoOpLocker{}
