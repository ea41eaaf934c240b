package timer

import (
	"fmt"
	"slices"
	"time"

	"github.com/google/uuid"
)

// Status is the lifecycle state of a user's timer
type Status string

const (
	StatusStopped Status = "stopped"
	StatusRunning Status = "running"
	StatusPaused  Status = "paused"
)

// Valid reports whether s is one of the known statuses
func (s Status) Valid() bool {
	switch s {
	case StatusStopped, StatusRunning, StatusPaused:
		return true
	}
	return false
}

// Details are the association fields carried alongside the timer.
// The engine never interprets them, it only passes them through.
type Details struct {
	TaskName   string   `json:"task_name,omitempty"`
	ProjectID  string   `json:"project_id,omitempty"`
	CustomerID string   `json:"customer_id,omitempty"`
	Tags       []string `json:"tags,omitempty"`
}

// Equal compares two detail sets field by field
func (d Details) Equal(o Details) bool {
	return d.TaskName == o.TaskName &&
		d.ProjectID == o.ProjectID &&
		d.CustomerID == o.CustomerID &&
		slices.Equal(d.Tags, o.Tags)
}

// Record is the single persisted row holding a user's current timer.
// It is keyed by UserID and written with upsert semantics.
type Record struct {
	UserID             uuid.UUID  `json:"user_id"`
	Status             Status     `json:"state"`
	AccumulatedSeconds int64      `json:"time"`
	RunStartedAt       *time.Time `json:"start_time,omitempty"`
	Details
	Origin       string     `json:"origin,omitempty"`
	LastSyncedAt *time.Time `json:"last_synced,omitempty"`
}

// Validate checks the row invariants: a known status, a non-negative
// counter, and RunStartedAt set exactly when the timer is running.
func (r Record) Validate() error {
	if r.UserID == uuid.Nil {
		return fmt.Errorf("%w: missing user id", ErrInvalidRecord)
	}
	if !r.Status.Valid() {
		return fmt.Errorf("%w: unknown status %q", ErrInvalidRecord, r.Status)
	}
	if r.AccumulatedSeconds < 0 {
		return fmt.Errorf("%w: negative accumulated seconds %d", ErrInvalidRecord, r.AccumulatedSeconds)
	}
	if (r.Status == StatusRunning) != (r.RunStartedAt != nil) {
		return fmt.Errorf("%w: start_time must be set iff running (status %s)", ErrInvalidRecord, r.Status)
	}
	return nil
}

// SamePayload reports whether two records describe the same timer,
// ignoring store-managed fields (Origin, LastSyncedAt).
func (r Record) SamePayload(o Record) bool {
	return r.UserID == o.UserID &&
		r.Status == o.Status &&
		r.AccumulatedSeconds == o.AccumulatedSeconds &&
		sameInstant(r.RunStartedAt, o.RunStartedAt) &&
		r.Details.Equal(o.Details)
}

// State extracts the state machine view of the record without any
// time adjustment. Use Reconcile to fold elapsed run time.
func (r Record) State() State {
	s := State{
		Status:      r.Status,
		Accumulated: r.AccumulatedSeconds,
	}
	if r.Status == StatusRunning && r.RunStartedAt != nil {
		t := *r.RunStartedAt
		s.RunStartedAt = &t
	}
	return s
}

func sameInstant(a, b *time.Time) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return a.Equal(*b)
}
