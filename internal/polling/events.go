package polling

import (
	"time"

	"github.com/google/uuid"
)

// Server -> client event names of the live polling protocol.
const (
	EventConferenceJoined = "conference:joined"
	EventConferenceLeft   = "conference:left"
	EventAudienceJoined   = "audience:joined"
	EventAudienceLeft     = "audience:left"
	EventAudienceCount    = "audience:count"
	EventQuestionLive     = "question:live"
	EventTimerUpdate      = "question:timer_update"
	EventQuestionClosed   = "question:closed"
	EventVoteAccepted     = "vote:accepted"
	EventVoteRejected     = "vote:rejected"
	EventVoteResult       = "vote:result"
	EventFinalResult      = "vote:final_result"
	EventError            = "error"
)

// Participant roles in the protocol.
const (
	RoleHost     = "host"
	RoleAudience = "audience"
)

// Close reasons carried on question:closed.
const (
	CloseReasonManual  = "manual"
	CloseReasonTimeout = "timeout"
)

// LiveOption is one answer choice as broadcast to the audience.
type LiveOption struct {
	Key  string `json:"key"`
	Text string `json:"text"`
}

// QuestionLivePayload is the question:live broadcast. The correct option is
// deliberately absent; it stays server-side until the final result.
type QuestionLivePayload struct {
	ConferenceID uuid.UUID    `json:"conferenceId"`
	QuestionID   uuid.UUID    `json:"questionId"`
	QuestionText string       `json:"questionText"`
	Options      []LiveOption `json:"options"`
	Duration     int          `json:"duration"`
	StartedAt    int64        `json:"startedAt"`
	ExpiresAt    int64        `json:"expiresAt"`
}

// JoinedPayload is the conference:joined reply to a successful join.
type JoinedPayload struct {
	ConferenceID     uuid.UUID            `json:"conferenceId"`
	ConferenceStatus string               `json:"conferenceStatus"`
	LiveQuestion     *QuestionLivePayload `json:"liveQuestion"`
	AudienceCount    int64                `json:"audienceCount"`
	Role             string               `json:"role"`
	Timestamp        time.Time            `json:"timestamp"`
}

// LeftPayload is the conference:left reply.
type LeftPayload struct {
	ConferenceID uuid.UUID `json:"conferenceId"`
	Timestamp    time.Time `json:"timestamp"`
}

// AudiencePayload is sent to the host room on audience:joined / audience:left.
type AudiencePayload struct {
	ConferenceID  uuid.UUID `json:"conferenceId"`
	UserID        uuid.UUID `json:"userId"`
	AudienceCount int64     `json:"audienceCount"`
	Timestamp     time.Time `json:"timestamp"`
}

// AudienceCountPayload is the room-wide audience:count broadcast.
type AudienceCountPayload struct {
	ConferenceID  uuid.UUID `json:"conferenceId"`
	AudienceCount int64     `json:"audienceCount"`
	Timestamp     time.Time `json:"timestamp"`
}

// TimerUpdatePayload is broadcast every second while a question is live.
type TimerUpdatePayload struct {
	ConferenceID  uuid.UUID `json:"conferenceId"`
	QuestionID    uuid.UUID `json:"questionId"`
	TimeRemaining int       `json:"timeRemaining"`
	ExpiresAt     int64     `json:"expiresAt"`
}

// QuestionClosedPayload is broadcast when a question closes.
type QuestionClosedPayload struct {
	ConferenceID uuid.UUID `json:"conferenceId"`
	QuestionID   uuid.UUID `json:"questionId"`
	Reason       string    `json:"reason"`
	ClosedAt     time.Time `json:"closedAt"`
}

// VoteAcceptedPayload is sent to the voter on an accepted vote.
type VoteAcceptedPayload struct {
	ConferenceID   uuid.UUID `json:"conferenceId"`
	QuestionID     uuid.UUID `json:"questionId"`
	SelectedOption string    `json:"selectedOption"`
	IsCorrect      bool      `json:"isCorrect"`
	Timestamp      time.Time `json:"timestamp"`
}

// VoteRejectedPayload is sent to the voter on a rejected vote.
type VoteRejectedPayload struct {
	ConferenceID uuid.UUID `json:"conferenceId"`
	QuestionID   uuid.UUID `json:"questionId"`
	Reason       string    `json:"reason"`
	Timestamp    time.Time `json:"timestamp"`
}

// VoteResultPayload is the room-wide aggregate broadcast after each accepted vote.
type VoteResultPayload struct {
	ConferenceID uuid.UUID        `json:"conferenceId"`
	QuestionID   uuid.UUID        `json:"questionId"`
	TotalVotes   int64            `json:"totalVotes"`
	OptionCounts map[string]int64 `json:"optionCounts"`
	Timestamp    time.Time        `json:"timestamp"`
}

// FinalResultPayload is broadcast once when a question closes.
type FinalResultPayload struct {
	ConferenceID        uuid.UUID          `json:"conferenceId"`
	QuestionID          uuid.UUID          `json:"questionId"`
	TotalVotes          int64              `json:"totalVotes"`
	OptionCounts        map[string]int64   `json:"optionCounts"`
	CorrectOption       string             `json:"correctOption"`
	CorrectCount        int64              `json:"correctCount"`
	PercentageBreakdown map[string]float64 `json:"percentageBreakdown"`
	ClosedAt            time.Time          `json:"closedAt"`
}

// ErrorPayload is the error event for failures outside vote submission.
type ErrorPayload struct {
	Code      string    `json:"code"`
	Message   string    `json:"message"`
	Timestamp time.Time `json:"timestamp"`
}
