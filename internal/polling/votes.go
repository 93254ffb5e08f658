package polling

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/learnsphere/backend/internal/cache"
)

const (
	voteTotalPrefix   = "votes:total:"
	voteOptionsPrefix = "votes:options:"
	voteCorrectPrefix = "votes:correct:"
	voteVotersPrefix  = "votes:voters:"
)

// VoteCounts is a point-in-time read of a question's ledger.
type VoteCounts struct {
	Total   int64
	Options map[string]int64
	Correct int64
}

// VoteLedger is the per-question vote ledger: total count, per-option
// counts, correct count, and the set of voters. Each voter appears in the
// set at most once; acceptance is an atomic compare-and-add at the store.
type VoteLedger struct {
	store     cache.Store
	retention time.Duration
}

// NewVoteLedger creates a vote aggregator. Ledger keys outlive their
// question by retention so late readers can still recover final results.
func NewVoteLedger(store cache.Store, retention time.Duration) *VoteLedger {
	return &VoteLedger{store: store, retention: retention}
}

func ledgerKeys(questionID uuid.UUID) cache.VoteKeys {
	id := questionID.String()
	return cache.VoteKeys{
		Voters:  voteVotersPrefix + id,
		Total:   voteTotalPrefix + id,
		Options: voteOptionsPrefix + id,
		Correct: voteCorrectPrefix + id,
	}
}

// Initialize zeroes the ledger for a question going live. All keys share
// the question's bounded TTL (duration + retention).
func (v *VoteLedger) Initialize(ctx context.Context, questionID uuid.UUID, options []LiveOption, duration time.Duration) error {
	keys := ledgerKeys(questionID)
	ttl := duration + v.retention

	if err := v.store.Del(ctx, keys.Voters, keys.Options); err != nil {
		return fmt.Errorf("clear ledger: %w", err)
	}
	if err := v.store.Set(ctx, keys.Total, "0", ttl); err != nil {
		return fmt.Errorf("init total: %w", err)
	}
	if err := v.store.Set(ctx, keys.Correct, "0", ttl); err != nil {
		return fmt.Errorf("init correct: %w", err)
	}
	fields := make(map[string]string, len(options))
	for _, o := range options {
		fields[o.Key] = "0"
	}
	if err := v.store.HSet(ctx, keys.Options, fields); err != nil {
		return fmt.Errorf("init options: %w", err)
	}
	if err := v.store.Expire(ctx, keys.Options, ttl); err != nil {
		return fmt.Errorf("expire options: %w", err)
	}
	return nil
}

// HasVoted reports whether userID already voted on the question.
func (v *VoteLedger) HasVoted(ctx context.Context, questionID, userID uuid.UUID) (bool, error) {
	return v.store.SIsMember(ctx, ledgerKeys(questionID).Voters, userID.String())
}

// Submit records a vote. The voter-set add and the counter increments run
// as a single atomic unit at the store; a voter already in the set leaves
// every counter untouched. Returns true when the vote was newly accepted.
func (v *VoteLedger) Submit(ctx context.Context, questionID, userID uuid.UUID, option string, correct bool) (bool, error) {
	accepted, err := v.store.AddVote(ctx, ledgerKeys(questionID), userID.String(), option, correct, v.retention)
	if err != nil {
		return false, fmt.Errorf("submit vote: %w", err)
	}
	return accepted, nil
}

// Counts returns the question's current tallies.
func (v *VoteLedger) Counts(ctx context.Context, questionID uuid.UUID) (*VoteCounts, error) {
	keys := ledgerKeys(questionID)

	total, err := v.readCounter(ctx, keys.Total)
	if err != nil {
		return nil, err
	}
	correct, err := v.readCounter(ctx, keys.Correct)
	if err != nil {
		return nil, err
	}
	raw, err := v.store.HGetAll(ctx, keys.Options)
	if err != nil {
		return nil, fmt.Errorf("read option counts: %w", err)
	}
	options := make(map[string]int64, len(raw))
	for k, s := range raw {
		n, err := strconv.ParseInt(s, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("option count %s: %w", k, err)
		}
		options[k] = n
	}
	return &VoteCounts{Total: total, Options: options, Correct: correct}, nil
}

// Cleanup deletes all ledger keys. Called only after the grace period.
func (v *VoteLedger) Cleanup(ctx context.Context, questionID uuid.UUID) error {
	keys := ledgerKeys(questionID)
	return v.store.Del(ctx, keys.Voters, keys.Total, keys.Options, keys.Correct)
}

func (v *VoteLedger) readCounter(ctx context.Context, key string) (int64, error) {
	raw, ok, err := v.store.Get(ctx, key)
	if err != nil {
		return 0, fmt.Errorf("read counter %s: %w", key, err)
	}
	if !ok || raw == "" {
		return 0, nil
	}
	n, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("counter %s: %w", key, err)
	}
	return n, nil
}
