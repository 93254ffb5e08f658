// Package cache provides the shared key/value store backing all
// conference-polling state: TTL-bound keys, conditional create, atomic
// counters and set operations. Backed by Redis in production, with an
// in-process fallback for single-instance deployments.
package cache

import (
	"context"
	"time"
)

// VoteKeys names the keys making up one question's vote ledger.
type VoteKeys struct {
	Voters  string // set of voter identities
	Total   string // total vote counter
	Options string // hash of option key -> count
	Correct string // correct-answer counter
}

// Store is the pluggable key/value backend for polling state. Every
// implementation must provide the listed operations atomically: SetNX
// (conditional create), IncrBy/HIncrBy (atomic increment), SAdd (set add
// reporting newness) and AddVote (the accept-vote critical section as a
// single atomic unit).
type Store interface {
	// Get returns the value for key and whether it exists.
	Get(ctx context.Context, key string) (string, bool, error)
	// Set stores value under key with a TTL (0 = no expiry).
	Set(ctx context.Context, key, value string, ttl time.Duration) error
	// SetNX stores value only if key is absent. Returns true when stored.
	SetNX(ctx context.Context, key, value string, ttl time.Duration) (bool, error)
	// Del removes the given keys. Missing keys are not an error.
	Del(ctx context.Context, keys ...string) error
	// Expire resets the TTL on an existing key.
	Expire(ctx context.Context, key string, ttl time.Duration) error

	// IncrBy atomically increments an integer key, creating it at zero.
	IncrBy(ctx context.Context, key string, delta int64) (int64, error)

	// HSet sets hash fields under key.
	HSet(ctx context.Context, key string, fields map[string]string) error
	// HGetAll returns all hash fields under key (empty map if absent).
	HGetAll(ctx context.Context, key string) (map[string]string, error)
	// HIncrBy atomically increments a hash field, creating it at zero.
	HIncrBy(ctx context.Context, key, field string, delta int64) (int64, error)

	// SAdd adds member to the set at key. Returns true if newly added.
	SAdd(ctx context.Context, key, member string) (bool, error)
	// SRem removes member from the set at key.
	SRem(ctx context.Context, key, member string) error
	// SIsMember reports whether member is in the set at key.
	SIsMember(ctx context.Context, key, member string) (bool, error)
	// SCard returns the cardinality of the set at key.
	SCard(ctx context.Context, key string) (int64, error)
	// SMembers returns all members of the set at key.
	SMembers(ctx context.Context, key string) ([]string, error)

	// AddVote executes the accept-vote sequence atomically: add voter to
	// keys.Voters; when newly added, refresh the set TTL, increment
	// keys.Total, the option field in keys.Options, and keys.Correct when
	// correct is true. Returns true when the vote was newly accepted; a
	// duplicate voter leaves every counter untouched.
	AddVote(ctx context.Context, keys VoteKeys, voter, option string, correct bool, ttl time.Duration) (bool, error)
}
