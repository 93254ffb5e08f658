package polling

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/learnsphere/backend/internal/cache"
)

func newVoteLedger(t *testing.T) *VoteLedger {
	t.Helper()
	store := cache.NewMemoryStore()
	t.Cleanup(store.Close)
	return NewVoteLedger(store, time.Hour)
}

var testOptions = []LiveOption{{Key: "a", Text: "Paris"}, {Key: "b", Text: "Rome"}}

func TestVoteLedgerSubmitAndCounts(t *testing.T) {
	v := newVoteLedger(t)
	ctx := context.Background()
	questionID := uuid.New()
	require.NoError(t, v.Initialize(ctx, questionID, testOptions, 45*time.Second))

	u1, u2 := uuid.New(), uuid.New()

	accepted, err := v.Submit(ctx, questionID, u1, "a", true)
	require.NoError(t, err)
	assert.True(t, accepted)

	accepted, err = v.Submit(ctx, questionID, u2, "b", false)
	require.NoError(t, err)
	assert.True(t, accepted)

	counts, err := v.Counts(ctx, questionID)
	require.NoError(t, err)
	assert.EqualValues(t, 2, counts.Total)
	assert.EqualValues(t, 1, counts.Options["a"])
	assert.EqualValues(t, 1, counts.Options["b"])
	assert.EqualValues(t, 1, counts.Correct)
}

func TestVoteLedgerDuplicateLeavesCountsUntouched(t *testing.T) {
	v := newVoteLedger(t)
	ctx := context.Background()
	questionID := uuid.New()
	require.NoError(t, v.Initialize(ctx, questionID, testOptions, 45*time.Second))

	userID := uuid.New()
	accepted, err := v.Submit(ctx, questionID, userID, "a", true)
	require.NoError(t, err)
	require.True(t, accepted)

	// Second vote, even for a different option, changes nothing.
	accepted, err = v.Submit(ctx, questionID, userID, "b", false)
	require.NoError(t, err)
	assert.False(t, accepted)

	voted, err := v.HasVoted(ctx, questionID, userID)
	require.NoError(t, err)
	assert.True(t, voted)

	counts, err := v.Counts(ctx, questionID)
	require.NoError(t, err)
	assert.EqualValues(t, 1, counts.Total)
	assert.EqualValues(t, 1, counts.Options["a"])
	assert.EqualValues(t, 0, counts.Options["b"])
	assert.EqualValues(t, 1, counts.Correct)
}

func TestVoteLedgerInitializeZeroesPriorState(t *testing.T) {
	v := newVoteLedger(t)
	ctx := context.Background()
	questionID := uuid.New()
	require.NoError(t, v.Initialize(ctx, questionID, testOptions, 45*time.Second))

	_, err := v.Submit(ctx, questionID, uuid.New(), "a", false)
	require.NoError(t, err)

	require.NoError(t, v.Initialize(ctx, questionID, testOptions, 45*time.Second))

	counts, err := v.Counts(ctx, questionID)
	require.NoError(t, err)
	assert.EqualValues(t, 0, counts.Total)
	assert.EqualValues(t, 0, counts.Options["a"])
	assert.EqualValues(t, 0, counts.Correct)
}

func TestVoteLedgerCleanup(t *testing.T) {
	v := newVoteLedger(t)
	ctx := context.Background()
	questionID := uuid.New()
	require.NoError(t, v.Initialize(ctx, questionID, testOptions, 45*time.Second))
	_, err := v.Submit(ctx, questionID, uuid.New(), "a", false)
	require.NoError(t, err)

	require.NoError(t, v.Cleanup(ctx, questionID))

	counts, err := v.Counts(ctx, questionID)
	require.NoError(t, err)
	assert.EqualValues(t, 0, counts.Total)
	assert.Empty(t, counts.Options)
}
