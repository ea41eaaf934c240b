package timer

import (
	"time"

	"github.com/google/uuid"
)

// Effect describes what a transition requires from persistence
type Effect int

const (
	EffectNone Effect = iota
	EffectSave
	EffectClear
)

func (e Effect) String() string {
	switch e {
	case EffectSave:
		return "save"
	case EffectClear:
		return "clear"
	default:
		return "none"
	}
}

// State is the in-memory timer state. The zero value is Stopped/0.
type State struct {
	Status       Status
	Accumulated  int64
	RunStartedAt *time.Time
	// Carry is the sub-second part of closed segments that did not make a
	// whole second. The next segment starts that much earlier. It is not
	// persisted.
	Carry time.Duration
}

// Transition is the result of applying an intent to a State
type Transition struct {
	State   State
	Effect  Effect
	Changed bool
}

// StopResult is handed to the UI when a timer is stopped so it can open
// the "save entry" flow with the frozen value.
type StopResult struct {
	ElapsedSeconds int64 `json:"elapsed_seconds"`
}

// Stopped returns the fresh Stopped/0 state
func Stopped() State {
	return State{Status: StatusStopped}
}

func (s State) normalized() State {
	if s.Status == "" {
		s.Status = StatusStopped
	}
	return s
}

// Running reports whether a run segment is open
func (s State) Running() bool {
	return s.Status == StatusRunning && s.RunStartedAt != nil
}

// Display returns the true elapsed seconds at now
func (s State) Display(now time.Time) int64 {
	if !s.Running() {
		return s.Accumulated
	}
	return s.Accumulated + elapsedSince(*s.RunStartedAt, now)
}

// Equal compares two states by value
func (s State) Equal(o State) bool {
	a, b := s.normalized(), o.normalized()
	return a.Status == b.Status &&
		a.Accumulated == b.Accumulated &&
		a.Carry == b.Carry &&
		sameInstant(a.RunStartedAt, b.RunStartedAt)
}

// fold closes the running segment at now into whole seconds and the
// sub-second remainder
func (s State) fold(now time.Time) (int64, time.Duration) {
	d := now.Sub(*s.RunStartedAt)
	if d < 0 {
		return s.Accumulated, 0
	}
	whole := d / time.Second
	return s.Accumulated + int64(whole), d - whole*time.Second
}

// Start opens a run segment from Stopped. Starting a paused timer resumes it.
func (s State) Start(now time.Time) Transition {
	s = s.normalized()
	switch s.Status {
	case StatusRunning:
		return Transition{State: s}
	default:
		return Transition{
			State:   State{Status: StatusRunning, Accumulated: s.Accumulated, RunStartedAt: segmentStart(now.Add(-s.Carry))},
			Effect:  EffectSave,
			Changed: true,
		}
	}
}

// Pause folds the live segment into the counter and closes it
func (s State) Pause(now time.Time) Transition {
	s = s.normalized()
	if !s.Running() {
		return Transition{State: s}
	}
	accumulated, carry := s.fold(now)
	return Transition{
		State:   State{Status: StatusPaused, Accumulated: accumulated, Carry: carry},
		Effect:  EffectSave,
		Changed: true,
	}
}

// Resume opens a new run segment from Paused
func (s State) Resume(now time.Time) Transition {
	s = s.normalized()
	if s.Status != StatusPaused {
		return Transition{State: s}
	}
	return Transition{
		State:   State{Status: StatusRunning, Accumulated: s.Accumulated, RunStartedAt: segmentStart(now.Add(-s.Carry))},
		Effect:  EffectSave,
		Changed: true,
	}
}

// Stop freezes the counter. The accumulated value is kept so it can be
// reviewed before being saved as a time entry.
func (s State) Stop(now time.Time) (Transition, StopResult) {
	s = s.normalized()
	if s.Status == StatusStopped {
		return Transition{State: s}, StopResult{ElapsedSeconds: s.Accumulated}
	}
	next := State{Status: StatusStopped, Accumulated: s.Accumulated, Carry: s.Carry}
	if s.Running() {
		next.Accumulated, next.Carry = s.fold(now)
	}
	return Transition{State: next, Effect: EffectSave, Changed: true},
		StopResult{ElapsedSeconds: next.Accumulated}
}

// Reset always lands on Stopped/0 and asks for the row to be deleted
func (s State) Reset() Transition {
	s = s.normalized()
	next := Stopped()
	return Transition{State: next, Effect: EffectClear, Changed: !s.Equal(next)}
}

// SetAccumulated overrides the counter in any state. A running segment
// keeps counting on top of the new base.
func (s State) SetAccumulated(seconds int64) (Transition, error) {
	if seconds < 0 {
		return Transition{State: s.normalized()}, ErrNegativeSeconds
	}
	s = s.normalized()
	next := s
	next.Accumulated = seconds
	next.Carry = 0
	return Transition{State: next, Effect: EffectSave, Changed: !s.Equal(next)}, nil
}

// Record builds the row to persist for userID
func (s State) Record(userID uuid.UUID, details Details) Record {
	s = s.normalized()
	rec := Record{
		UserID:             userID,
		Status:             s.Status,
		AccumulatedSeconds: s.Accumulated,
		Details:            details,
	}
	if s.Running() {
		t := *s.RunStartedAt
		rec.RunStartedAt = &t
	}
	return rec
}

// segmentStart normalizes the run start to UTC microseconds, the
// resolution every store round-trips without loss.
func segmentStart(now time.Time) *time.Time {
	t := now.UTC().Truncate(time.Microsecond)
	return &t
}
