package models

import (
	"time"

	"github.com/google/uuid"
)

// ConferenceStatus is the lifecycle status of a conference.
type ConferenceStatus string

const (
	ConferenceDraft  ConferenceStatus = "draft"
	ConferenceActive ConferenceStatus = "active"
	ConferenceEnded  ConferenceStatus = "ended"
)

// Conference represents a live conference session. Polling operations are
// only valid while Status is ConferenceActive.
type Conference struct {
	ID          uuid.UUID        `json:"id"`
	HostID      uuid.UUID        `json:"host_id"`
	Title       string           `json:"title"`
	Description string           `json:"description"`
	Status      ConferenceStatus `json:"status"`
	CreatedAt   time.Time        `json:"created_at"`
	UpdatedAt   time.Time        `json:"updated_at"`
}
