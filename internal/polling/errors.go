package polling

import (
	"fmt"

	"github.com/google/uuid"
)

// Protocol error codes surfaced on the `error` event.
const (
	CodeInvalidRequest      = "INVALID_REQUEST"
	CodeConferenceNotFound  = "CONFERENCE_NOT_FOUND"
	CodeQuestionNotFound    = "QUESTION_NOT_FOUND"
	CodeConferenceEnded     = "CONFERENCE_ENDED"
	CodeConferenceNotActive = "CONFERENCE_NOT_ACTIVE"
	CodeQuestionAlreadyLive = "QUESTION_ALREADY_LIVE"
	CodeUnauthorized        = "UNAUTHORIZED"
	CodeOperationInProgress = "OPERATION_IN_PROGRESS"
	CodeInternalError       = "INTERNAL_ERROR"
)

// Vote rejection reasons sent on `vote:rejected`.
const (
	RejectDuplicate      = "duplicate"
	RejectInvalidOption  = "invalid_option"
	RejectQuestionClosed = "question_closed"
	RejectNotAudience    = "not_audience"
	RejectInvalidRequest = "invalid_request"
	RejectInternalError  = "internal_error"
)

// Error is a protocol-level failure carrying the error code emitted to the
// originating connection.
type Error struct {
	Code    string
	Message string
}

func (e *Error) Error() string { return e.Message }

var (
	ErrConferenceNotFound  = &Error{Code: CodeConferenceNotFound, Message: "conference not found"}
	ErrQuestionNotFound    = &Error{Code: CodeQuestionNotFound, Message: "question not found"}
	ErrConferenceEnded     = &Error{Code: CodeConferenceEnded, Message: "conference has ended"}
	ErrConferenceNotActive = &Error{Code: CodeConferenceNotActive, Message: "conference is not active"}
	ErrUnauthorized        = &Error{Code: CodeUnauthorized, Message: "only the host may perform this action"}
	ErrOperationInProgress = &Error{Code: CodeOperationInProgress, Message: "operation already in progress"}
)

// ConflictError reports a push rejected because a different question is
// already live; the host must close it first.
type ConflictError struct {
	BlockingQuestionID uuid.UUID
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("question %s is already live; close it first", e.BlockingQuestionID)
}

// Code returns the protocol error code for a push conflict.
func (e *ConflictError) Code() string { return CodeQuestionAlreadyLive }

// VoteError is a vote rejection delivered on `vote:rejected` to the voter only.
type VoteError struct {
	Reason string
}

func (e *VoteError) Error() string { return "vote rejected: " + e.Reason }

var (
	ErrDuplicateVote  = &VoteError{Reason: RejectDuplicate}
	ErrInvalidOption  = &VoteError{Reason: RejectInvalidOption}
	ErrQuestionClosed = &VoteError{Reason: RejectQuestionClosed}
	ErrNotAudience    = &VoteError{Reason: RejectNotAudience}
	ErrVoteBadRequest = &VoteError{Reason: RejectInvalidRequest}
)
