package pgstore

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/lib/pq"
	"github.com/mcdev12/tempo/go/internal/timer"
	"github.com/mcdev12/tempo/go/internal/timer/session"
	"github.com/rs/zerolog/log"
)

type HubConfig struct {
	DatabaseURL   string // Postgres DSN for LISTEN/NOTIFY
	NotifyChannel string
	PingInterval  time.Duration
}

func DefaultHubConfig() HubConfig {
	return HubConfig{
		NotifyChannel: "timer_changes",
		PingInterval:  90 * time.Second,
	}
}

// notification is the payload written by the active_timers trigger
type notification struct {
	Op     string          `json:"op"`
	UserID uuid.UUID       `json:"user_id"`
	Record json.RawMessage `json:"record,omitempty"`
}

// Hub fans the single LISTEN connection out to per-user subscribers
type Hub struct {
	cfg    HubConfig
	clock  clockwork.Clock
	notify <-chan *pq.Notification
	ping   func() error
	close  func() error

	mu     sync.RWMutex
	subs   map[uuid.UUID]map[int]func(session.Change)
	nextID int
}

// NewHub opens a dedicated listener connection on cfg.NotifyChannel. The
// clock paces the keepalive pings.
func NewHub(cfg HubConfig, clock clockwork.Clock) (*Hub, error) {
	l := pq.NewListener(
		cfg.DatabaseURL,
		10*time.Second,
		time.Minute,
		func(ev pq.ListenerEventType, err error) {
			if err != nil {
				log.Error().Err(err).Msg("timer listener event")
			}
		},
	)
	if err := l.Listen(cfg.NotifyChannel); err != nil {
		_ = l.Close()
		return nil, fmt.Errorf("failed to listen to channel: %w", err)
	}

	log.Info().
		Str("channel", cfg.NotifyChannel).
		Msg("listening for timer changes")

	return newHub(cfg, clock, l.Notify, l.Ping, l.Close), nil
}

func newHub(cfg HubConfig, clock clockwork.Clock, notify <-chan *pq.Notification, ping, closeFn func() error) *Hub {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &Hub{
		cfg:    cfg,
		clock:  clock,
		notify: notify,
		ping:   ping,
		close:  closeFn,
		subs:   make(map[uuid.UUID]map[int]func(session.Change)),
	}
}

// Run dispatches notifications until ctx is done, then closes the listener
func (h *Hub) Run(ctx context.Context) error {
	pingTicker := h.clock.NewTicker(h.cfg.PingInterval)
	defer pingTicker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Info().Msg("timer listener shutting down")
			return h.close()
		case note, ok := <-h.notify:
			if !ok {
				return nil
			}
			if note == nil {
				// connection was re-established; changes in between are
				// picked up by the sessions' polling
				log.Warn().Msg("timer listener reconnected")
				continue
			}
			if err := h.dispatch(note.Extra); err != nil {
				log.Error().Err(err).Msg("failed to handle timer notification")
			}
		case <-pingTicker.Chan():
			if err := h.ping(); err != nil {
				log.Error().Err(err).Msg("failed to ping timer listener")
			}
		}
	}
}

// Subscribe registers fn for changes of userID's row
func (h *Hub) Subscribe(userID uuid.UUID, fn func(session.Change)) session.Subscription {
	h.mu.Lock()
	defer h.mu.Unlock()
	id := h.nextID
	h.nextID++
	if h.subs[userID] == nil {
		h.subs[userID] = make(map[int]func(session.Change))
	}
	h.subs[userID][id] = fn

	return session.SubscriptionFunc(func() error {
		h.mu.Lock()
		defer h.mu.Unlock()
		delete(h.subs[userID], id)
		if len(h.subs[userID]) == 0 {
			delete(h.subs, userID)
		}
		return nil
	})
}

func (h *Hub) dispatch(payload string) error {
	var n notification
	if err := json.Unmarshal([]byte(payload), &n); err != nil {
		return fmt.Errorf("invalid timer notification: %w", err)
	}

	change := session.Change{UserID: n.UserID}
	if n.Op == "DELETE" {
		change.Deleted = true
	} else {
		var rec timer.Record
		if err := json.Unmarshal(n.Record, &rec); err != nil {
			return fmt.Errorf("invalid timer row in notification: %w", err)
		}
		change.Record = &rec
	}

	h.mu.RLock()
	fns := make([]func(session.Change), 0, len(h.subs[n.UserID]))
	for _, fn := range h.subs[n.UserID] {
		fns = append(fns, fn)
	}
	h.mu.RUnlock()

	for _, fn := range fns {
		c := change
		if change.Record != nil {
			r := *change.Record
			c.Record = &r
		}
		fn(c)
	}
	return nil
}
