package models

import (
	"time"

	"github.com/google/uuid"
)

// QuestionStatus is the per-question lifecycle status.
type QuestionStatus string

const (
	QuestionIdle   QuestionStatus = "idle"
	QuestionActive QuestionStatus = "active"
	QuestionClosed QuestionStatus = "closed"
)

// QuestionOption is one answer choice of a multiple-choice question.
type QuestionOption struct {
	Key  string `json:"key"`
	Text string `json:"text"`
}

// QuestionResults is the final tally snapshot persisted when a question closes.
type QuestionResults struct {
	TotalVotes   int64            `json:"total_votes"`
	OptionCounts map[string]int64 `json:"option_counts"`
	CorrectCount int64            `json:"correct_count"`
	ClosedAt     time.Time        `json:"closed_at"`
}

// ConferenceQuestion represents a multiple-choice question in a conference.
// At most one question per conference is active at any instant.
type ConferenceQuestion struct {
	ID            uuid.UUID        `json:"id"`
	ConferenceID  uuid.UUID        `json:"conference_id"`
	QuestionText  string           `json:"question_text"`
	Options       []QuestionOption `json:"options"`
	CorrectOption string           `json:"correct_option"`
	Status        QuestionStatus   `json:"status"`
	IsLive        bool             `json:"is_live"`
	Results       *QuestionResults `json:"results,omitempty"`
	CreatedAt     time.Time        `json:"created_at"`
	UpdatedAt     time.Time        `json:"updated_at"`
}
