package driven

import (
	"context"
	"time"
)

// DistributedLock coordinates periodic work across worker instances
type DistributedLock interface {
	// Acquire attempts to acquire a named lock with the given TTL.
	// Returns false if the lock is already held elsewhere.
	Acquire(ctx context.Context, name string, ttl time.Duration) (acquired bool, err error)

	// Release releases a named lock. Safe to call when the lock is not held.
	Release(ctx context.Context, name string) error

	// Ping checks if the lock backend is healthy.
	Ping(ctx context.Context) error
}
