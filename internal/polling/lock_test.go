package polling

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/learnsphere/backend/internal/cache"
)

func TestLockerMutualExclusion(t *testing.T) {
	store := cache.NewMemoryStore()
	t.Cleanup(store.Close)
	l := NewLocker(store)
	ctx := context.Background()

	ok, err := l.Acquire(ctx, "push:c1", time.Minute)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = l.Acquire(ctx, "push:c1", time.Minute)
	require.NoError(t, err)
	assert.False(t, ok, "held lock must not be re-acquired")

	ok, err = l.Acquire(ctx, "push:c2", time.Minute)
	require.NoError(t, err)
	assert.True(t, ok, "different lock name is independent")

	require.NoError(t, l.Release(ctx, "push:c1"))
	ok, err = l.Acquire(ctx, "push:c1", time.Minute)
	require.NoError(t, err)
	assert.True(t, ok, "released lock is acquirable again")
}

func TestLockerTTLExpiry(t *testing.T) {
	store := cache.NewMemoryStore()
	t.Cleanup(store.Close)
	l := NewLocker(store)
	ctx := context.Background()

	ok, err := l.Acquire(ctx, "vote:q1:u1", 30*time.Millisecond)
	require.NoError(t, err)
	require.True(t, ok)

	time.Sleep(60 * time.Millisecond)

	ok, err = l.Acquire(ctx, "vote:q1:u1", time.Minute)
	require.NoError(t, err)
	assert.True(t, ok, "lock must free itself after its TTL")
}
