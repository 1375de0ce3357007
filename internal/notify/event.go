// Package notify implements the engine's notification fan-out
// (SPEC_FULL.md §4.10): every fired notification is wrapped into an Event
// and handed to one or more downstream sinks — an in-process channel for
// the API façade's websocket stream, and a Redis pub/sub channel for
// broadcasting across applimitd replicas.
package notify

import (
	"time"

	"github.com/google/uuid"
)

// Kind distinguishes the two notification kinds the engine fires.
type Kind string

const (
	KindLimitReached Kind = "limit_reached"
	KindSessionEnd   Kind = "session_end"
)

// Event is the fan-out payload for one Notifier invocation.
type Event struct {
	ID            string `json:"id"`
	Kind          Kind   `json:"kind"`
	UID           int32  `json:"uid"`
	UserID        int32  `json:"userId"`
	ObserverID    int32  `json:"observerId"`
	TimeLimitMs   uint64 `json:"timeLimitMs,omitempty"`
	TimeElapsedMs uint64 `json:"timeElapsedMs"`
	FiredAt       time.Time `json:"firedAt"`
}

// NewEvent stamps an ID and FiredAt for a freshly fired notification.
func NewEvent(kind Kind, uid, userID, observerID int32, timeLimitMs, timeElapsedMs uint64) Event {
	return Event{
		ID:            uuid.NewString(),
		Kind:          kind,
		UID:           uid,
		UserID:        userID,
		ObserverID:    observerID,
		TimeLimitMs:   timeLimitMs,
		TimeElapsedMs: timeElapsedMs,
		FiredAt:       time.Now(),
	}
}
