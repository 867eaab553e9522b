package repository

import (
	"context"
	"time"
)

// JobQueue hands job ids from the orchestrator to executors.
type JobQueue interface {
	// Enqueue makes jobID available after delay (immediately when delay <= 0).
	Enqueue(ctx context.Context, jobID string, delay time.Duration) error
	// Dequeue waits a bounded time for the next ready id and returns
	// domain.ErrNotFound when none arrived.
	Dequeue(ctx context.Context) (string, error)
	// Ack removes a dequeued id from the in-flight set.
	Ack(ctx context.Context, jobID string) error
}

// Locker provides short-lived exclusive ownership of a key.
type Locker interface {
	// TryLock returns a token on success or domain.ErrLockHeld.
	TryLock(ctx context.Context, key string, ttl time.Duration) (string, error)
	Unlock(ctx context.Context, key, token string) error
}

// RateLimiter owns the per-identity rate windows.
type RateLimiter interface {
	Allow(ctx context.Context, identity string) (bool, error)
}
