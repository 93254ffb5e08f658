package polling

import (
	"context"
	"time"

	"github.com/learnsphere/backend/internal/cache"
)

const lockPrefix = "lock:"

// Locker provides short-TTL, set-if-not-exists mutual exclusion tokens for
// the push-live and per-user-vote critical sections. A lock that is never
// released expires naturally.
type Locker struct {
	store cache.Store
}

// NewLocker creates a lock manager on the shared store.
func NewLocker(store cache.Store) *Locker {
	return &Locker{store: store}
}

// Acquire attempts to take the named lock. Returns false when someone else
// holds it; the caller surfaces this as contention, never retries.
func (l *Locker) Acquire(ctx context.Context, name string, ttl time.Duration) (bool, error) {
	return l.store.SetNX(ctx, lockPrefix+name, "1", ttl)
}

// Release drops the named lock. Safe to call on an expired lock.
func (l *Locker) Release(ctx context.Context, name string) error {
	return l.store.Del(ctx, lockPrefix+name)
}
