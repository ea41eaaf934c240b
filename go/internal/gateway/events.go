package gateway

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/mcdev12/tempo/go/internal/timer"
	"github.com/mcdev12/tempo/go/internal/timer/session"
)

// TimerEvent is the envelope for everything pushed over the websocket
type TimerEvent struct {
	ID        string          `json:"id"`
	UserID    string          `json:"user_id"`
	Type      EventType       `json:"type"`
	Timestamp time.Time       `json:"timestamp"`
	Data      json.RawMessage `json:"data"`
}

// EventType represents the type of timer event
type EventType string

const (
	EventTypeTimerSnapshot EventType = "TimerSnapshot"
	EventTypeTimerWarning  EventType = "TimerWarning"
	EventTypeSessionClosed EventType = "SessionClosed"
	EventTypeIntentFailed  EventType = "IntentFailed"
)

// WarningPayload tells the user their timer is not reaching the store
type WarningPayload struct {
	Message  string           `json:"message"`
	Snapshot session.Snapshot `json:"snapshot"`
}

type SessionClosedPayload struct {
	Reason string `json:"reason"`
}

type IntentFailedPayload struct {
	Intent string `json:"intent"`
	Error  string `json:"error"`
}

// ClientMessage is what a tab may send over its websocket
type ClientMessage struct {
	Type    string         `json:"type"`
	Intent  string         `json:"intent"`
	Seconds *int64         `json:"seconds,omitempty"`
	Details *timer.Details `json:"details,omitempty"`
}

// NewTimerEvent wraps payload in an envelope addressed to userID
func NewTimerEvent(userID uuid.UUID, eventType EventType, payload interface{}, at time.Time) (*TimerEvent, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal %s payload: %w", eventType, err)
	}
	return &TimerEvent{
		ID:        uuid.New().String(),
		UserID:    userID.String(),
		Type:      eventType,
		Timestamp: at,
		Data:      data,
	}, nil
}

// eventFromSession translates a session event into its wire form
func eventFromSession(userID uuid.UUID, ev session.Event) (*TimerEvent, error) {
	switch ev.Kind {
	case session.EventWarning:
		return NewTimerEvent(userID, EventTypeTimerWarning, WarningPayload{Message: ev.Message, Snapshot: ev.Snapshot}, ev.Snapshot.At)
	case session.EventClosed:
		return NewTimerEvent(userID, EventTypeSessionClosed, SessionClosedPayload{Reason: "session ended"}, ev.Snapshot.At)
	default:
		return NewTimerEvent(userID, EventTypeTimerSnapshot, ev.Snapshot, ev.Snapshot.At)
	}
}
