package polling

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/learnsphere/backend/internal/cache"
)

const liveKeyPrefix = "live_question:"

// LiveQuestion is the ephemeral, cache-resident state of the question
// currently open for voting in a conference. CorrectOption never leaves the
// server; Public() strips it before broadcast.
type LiveQuestion struct {
	ConferenceID  uuid.UUID    `json:"conference_id"`
	QuestionID    uuid.UUID    `json:"question_id"`
	QuestionText  string       `json:"question_text"`
	Options       []LiveOption `json:"options"`
	CorrectOption string       `json:"correct_option"`
	Duration      int          `json:"duration"`   // seconds
	StartedAt     int64        `json:"started_at"` // epoch ms
	ExpiresAt     int64        `json:"expires_at"` // epoch ms
}

// HasOption reports whether key is one of the question's option keys.
func (q *LiveQuestion) HasOption(key string) bool {
	for _, o := range q.Options {
		if o.Key == key {
			return true
		}
	}
	return false
}

// Expired reports whether the voting window has passed at t.
func (q *LiveQuestion) Expired(t time.Time) bool {
	return t.UnixMilli() >= q.ExpiresAt
}

// Public returns the broadcastable view without the correct option.
func (q *LiveQuestion) Public() *QuestionLivePayload {
	return &QuestionLivePayload{
		ConferenceID: q.ConferenceID,
		QuestionID:   q.QuestionID,
		QuestionText: q.QuestionText,
		Options:      q.Options,
		Duration:     q.Duration,
		StartedAt:    q.StartedAt,
		ExpiresAt:    q.ExpiresAt,
	}
}

// LiveTracker tracks the single live question per conference. The state key
// carries a TTL of duration plus grace, so it self-heals even if the close
// path is never invoked.
type LiveTracker struct {
	store cache.Store
	grace time.Duration
}

// NewLiveTracker creates a live-question tracker.
func NewLiveTracker(store cache.Store, grace time.Duration) *LiveTracker {
	return &LiveTracker{store: store, grace: grace}
}

func liveKey(conferenceID uuid.UUID) string {
	return liveKeyPrefix + conferenceID.String()
}

// SetLive conditionally installs state as the conference's live question.
// Creation is a conditional create: when a different question already holds
// the slot the call changes nothing and returns that blocking state. When
// the same question is already live its state and TTL are refreshed.
// Returns the previously-live state (nil on a fresh create).
func (t *LiveTracker) SetLive(ctx context.Context, state *LiveQuestion) (*LiveQuestion, error) {
	raw, err := json.Marshal(state)
	if err != nil {
		return nil, fmt.Errorf("marshal live state: %w", err)
	}
	ttl := time.Duration(state.Duration)*time.Second + t.grace

	ok, err := t.store.SetNX(ctx, liveKey(state.ConferenceID), string(raw), ttl)
	if err != nil {
		return nil, fmt.Errorf("set live state: %w", err)
	}
	if ok {
		return nil, nil
	}

	cur, err := t.GetLive(ctx, state.ConferenceID)
	if err != nil {
		return nil, err
	}
	if cur == nil {
		// Holder expired between SetNX and GetLive; take the slot.
		if err := t.store.Set(ctx, liveKey(state.ConferenceID), string(raw), ttl); err != nil {
			return nil, fmt.Errorf("set live state: %w", err)
		}
		return nil, nil
	}
	if cur.QuestionID == state.QuestionID {
		// Idempotent re-push: refresh state and TTL.
		if err := t.store.Set(ctx, liveKey(state.ConferenceID), string(raw), ttl); err != nil {
			return nil, fmt.Errorf("refresh live state: %w", err)
		}
		return cur, nil
	}
	return cur, nil
}

// GetLive returns the conference's current live question, or nil.
func (t *LiveTracker) GetLive(ctx context.Context, conferenceID uuid.UUID) (*LiveQuestion, error) {
	raw, ok, err := t.store.Get(ctx, liveKey(conferenceID))
	if err != nil {
		return nil, fmt.Errorf("get live state: %w", err)
	}
	if !ok {
		return nil, nil
	}
	var state LiveQuestion
	if err := json.Unmarshal([]byte(raw), &state); err != nil {
		return nil, fmt.Errorf("unmarshal live state: %w", err)
	}
	return &state, nil
}

// CloseLive removes the conference's live-question state. Idempotent.
func (t *LiveTracker) CloseLive(ctx context.Context, conferenceID uuid.UUID) error {
	return t.store.Del(ctx, liveKey(conferenceID))
}
