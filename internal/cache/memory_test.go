package cache

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *MemoryStore {
	t.Helper()
	s := NewMemoryStore()
	t.Cleanup(s.Close)
	return s
}

func TestMemoryStoreSetGet(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	_, ok, err := s.Get(ctx, "missing")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, s.Set(ctx, "k", "v", 0))
	v, ok, err := s.Get(ctx, "k")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "v", v)
}

func TestMemoryStoreSetNX(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	ok, err := s.SetNX(ctx, "lock", "a", time.Minute)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = s.SetNX(ctx, "lock", "b", time.Minute)
	require.NoError(t, err)
	assert.False(t, ok, "second SetNX must not take a held key")

	v, _, err := s.Get(ctx, "lock")
	require.NoError(t, err)
	assert.Equal(t, "a", v, "losing SetNX must not overwrite")
}

func TestMemoryStoreTTLExpiry(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.Set(ctx, "k", "v", 30*time.Millisecond))
	time.Sleep(60 * time.Millisecond)

	_, ok, err := s.Get(ctx, "k")
	require.NoError(t, err)
	assert.False(t, ok, "expired key must read as absent")

	ok, err = s.SetNX(ctx, "k", "w", time.Minute)
	require.NoError(t, err)
	assert.True(t, ok, "SetNX must succeed once the holder expired")
}

func TestMemoryStoreSetOps(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	added, err := s.SAdd(ctx, "set", "u1")
	require.NoError(t, err)
	assert.True(t, added)

	added, err = s.SAdd(ctx, "set", "u1")
	require.NoError(t, err)
	assert.False(t, added, "re-adding a member is not new")

	_, err = s.SAdd(ctx, "set", "u2")
	require.NoError(t, err)

	n, err := s.SCard(ctx, "set")
	require.NoError(t, err)
	assert.EqualValues(t, 2, n)

	ok, err := s.SIsMember(ctx, "set", "u1")
	require.NoError(t, err)
	assert.True(t, ok)

	require.NoError(t, s.SRem(ctx, "set", "u1"))
	ok, err = s.SIsMember(ctx, "set", "u1")
	require.NoError(t, err)
	assert.False(t, ok)

	members, err := s.SMembers(ctx, "set")
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"u2"}, members)
}

func TestMemoryStoreCounters(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	n, err := s.IncrBy(ctx, "c", 2)
	require.NoError(t, err)
	assert.EqualValues(t, 2, n)

	n, err = s.HIncrBy(ctx, "h", "a", 1)
	require.NoError(t, err)
	assert.EqualValues(t, 1, n)

	require.NoError(t, s.HSet(ctx, "h", map[string]string{"b": "5"}))
	all, err := s.HGetAll(ctx, "h")
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"a": "1", "b": "5"}, all)
}

func TestMemoryStoreAddVoteExactlyOnce(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	keys := VoteKeys{Voters: "v:voters", Total: "v:total", Options: "v:options", Correct: "v:correct"}

	const voters = 50
	var wg sync.WaitGroup
	accepted := make(chan bool, voters*2)
	for i := 0; i < voters; i++ {
		voter := fmt.Sprintf("user-%d", i)
		correct := i%2 == 0
		// Each voter fires twice concurrently; only one may land.
		for j := 0; j < 2; j++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				ok, err := s.AddVote(ctx, keys, voter, "a", correct, time.Minute)
				assert.NoError(t, err)
				accepted <- ok
			}()
		}
	}
	wg.Wait()
	close(accepted)

	var got int
	for ok := range accepted {
		if ok {
			got++
		}
	}
	assert.Equal(t, voters, got, "each voter accepted exactly once")

	total, _, err := s.Get(ctx, keys.Total)
	require.NoError(t, err)
	assert.Equal(t, fmt.Sprint(voters), total)

	counts, err := s.HGetAll(ctx, keys.Options)
	require.NoError(t, err)
	assert.Equal(t, fmt.Sprint(voters), counts["a"])

	correct, _, err := s.Get(ctx, keys.Correct)
	require.NoError(t, err)
	assert.Equal(t, fmt.Sprint(voters/2), correct)
}
