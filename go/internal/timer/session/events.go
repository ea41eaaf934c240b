package session

import (
	"time"

	"github.com/google/uuid"
	"github.com/mcdev12/tempo/go/internal/timer"
)

// Snapshot is the observable view of a timer at one instant
type Snapshot struct {
	UserID             uuid.UUID     `json:"user_id"`
	Status             timer.Status  `json:"status"`
	DisplaySeconds     int64         `json:"display_seconds"`
	AccumulatedSeconds int64         `json:"accumulated_seconds"`
	RunStartedAt       *time.Time    `json:"run_started_at,omitempty"`
	Details            timer.Details `json:"details"`
	Unsynced           bool          `json:"unsynced"`
	At                 time.Time     `json:"at"`
}

// EventKind identifies what a session event carries
type EventKind string

const (
	EventSnapshot EventKind = "snapshot"
	EventWarning  EventKind = "warning"
	EventClosed   EventKind = "closed"
)

// Event is pushed to watchers on ticks, transitions, remote changes,
// sync failures and shutdown.
type Event struct {
	Kind     EventKind
	Snapshot Snapshot
	Message  string
}
