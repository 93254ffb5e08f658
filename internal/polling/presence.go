package polling

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/learnsphere/backend/internal/cache"
)

const (
	presenceConfPrefix = "presence:conference:"
	presenceUserPrefix = "presence:user:"

	// presenceTTL bounds orphaned presence sets if cleanup is missed.
	presenceTTL = 12 * time.Hour
)

// Presence tracks connected non-host participants per conference, plus a
// reverse index from user to conferences for disconnect cleanup.
type Presence struct {
	store cache.Store
}

// NewPresence creates an audience presence tracker.
func NewPresence(store cache.Store) *Presence {
	return &Presence{store: store}
}

func presenceConfKey(conferenceID uuid.UUID) string {
	return presenceConfPrefix + conferenceID.String()
}

func presenceUserKey(userID uuid.UUID) string {
	return presenceUserPrefix + userID.String()
}

// Add marks the user present in the conference and returns the new headcount.
func (p *Presence) Add(ctx context.Context, conferenceID, userID uuid.UUID) (int64, error) {
	confKey := presenceConfKey(conferenceID)
	if _, err := p.store.SAdd(ctx, confKey, userID.String()); err != nil {
		return 0, fmt.Errorf("presence add: %w", err)
	}
	if err := p.store.Expire(ctx, confKey, presenceTTL); err != nil {
		return 0, fmt.Errorf("presence expire: %w", err)
	}
	userKey := presenceUserKey(userID)
	if _, err := p.store.SAdd(ctx, userKey, conferenceID.String()); err != nil {
		return 0, fmt.Errorf("presence reverse add: %w", err)
	}
	if err := p.store.Expire(ctx, userKey, presenceTTL); err != nil {
		return 0, fmt.Errorf("presence reverse expire: %w", err)
	}
	return p.Count(ctx, conferenceID)
}

// Remove drops the user from the conference. Returns true when the user was
// actually present, so callers skip broadcasts for no-op removals.
func (p *Presence) Remove(ctx context.Context, conferenceID, userID uuid.UUID) (bool, error) {
	present, err := p.store.SIsMember(ctx, presenceConfKey(conferenceID), userID.String())
	if err != nil {
		return false, fmt.Errorf("presence check: %w", err)
	}
	if !present {
		return false, nil
	}
	if err := p.store.SRem(ctx, presenceConfKey(conferenceID), userID.String()); err != nil {
		return false, fmt.Errorf("presence remove: %w", err)
	}
	if err := p.store.SRem(ctx, presenceUserKey(userID), conferenceID.String()); err != nil {
		return false, fmt.Errorf("presence reverse remove: %w", err)
	}
	return true, nil
}

// Count returns the conference's audience headcount.
func (p *Presence) Count(ctx context.Context, conferenceID uuid.UUID) (int64, error) {
	return p.store.SCard(ctx, presenceConfKey(conferenceID))
}

// Conferences returns every conference the user is present in. Used
// exclusively on disconnect.
func (p *Presence) Conferences(ctx context.Context, userID uuid.UUID) ([]uuid.UUID, error) {
	members, err := p.store.SMembers(ctx, presenceUserKey(userID))
	if err != nil {
		return nil, fmt.Errorf("presence reverse lookup: %w", err)
	}
	out := make([]uuid.UUID, 0, len(members))
	for _, m := range members {
		id, err := uuid.Parse(m)
		if err != nil {
			continue
		}
		out = append(out, id)
	}
	return out, nil
}
