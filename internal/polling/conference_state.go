package polling

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/learnsphere/backend/internal/cache"
	"github.com/learnsphere/backend/internal/models"
)

const (
	conferenceKeyPrefix = "conference:"
	conferenceCacheTTL  = 30 * time.Second
)

// ConferenceStore looks up conferences in externally-owned persistence.
// Implementations return (nil, nil) when the conference does not exist.
type ConferenceStore interface {
	FindConferenceByID(ctx context.Context, id uuid.UUID) (*models.Conference, error)
}

// ConferenceState is the cached projection the polling core needs: who
// hosts the conference and whether it is active.
type ConferenceState struct {
	HostID uuid.UUID               `json:"host_id"`
	Status models.ConferenceStatus `json:"status"`
}

// ConferenceTracker caches the per-conference status/host projection in the
// shared store, reading through to persistence on miss.
type ConferenceTracker struct {
	store cache.Store
	repo  ConferenceStore
}

// NewConferenceTracker creates a conference state tracker.
func NewConferenceTracker(store cache.Store, repo ConferenceStore) *ConferenceTracker {
	return &ConferenceTracker{store: store, repo: repo}
}

func conferenceKey(id uuid.UUID) string {
	return conferenceKeyPrefix + id.String()
}

// Get returns the conference projection, or nil when the conference does
// not exist.
func (t *ConferenceTracker) Get(ctx context.Context, id uuid.UUID) (*ConferenceState, error) {
	raw, ok, err := t.store.Get(ctx, conferenceKey(id))
	if err == nil && ok {
		var state ConferenceState
		if err := json.Unmarshal([]byte(raw), &state); err == nil {
			return &state, nil
		}
	}

	conf, err := t.repo.FindConferenceByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("find conference: %w", err)
	}
	if conf == nil {
		return nil, nil
	}
	state := &ConferenceState{HostID: conf.HostID, Status: conf.Status}
	if buf, err := json.Marshal(state); err == nil {
		_ = t.store.Set(ctx, conferenceKey(id), string(buf), conferenceCacheTTL)
	}
	return state, nil
}

// Invalidate drops the cached projection, e.g. after a status change.
func (t *ConferenceTracker) Invalidate(ctx context.Context, id uuid.UUID) error {
	return t.store.Del(ctx, conferenceKey(id))
}
