package session

import (
	"context"
	"errors"
	"sync"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"
)

// Manager holds one Session per authenticated user and creates them on
// first use.
type Manager struct {
	store Store
	clock clockwork.Clock
	cfg   Config

	mu       sync.Mutex
	sessions map[uuid.UUID]*Session
	closed   bool
}

func NewManager(store Store, clock clockwork.Clock, cfg Config) *Manager {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &Manager{
		store:    store,
		clock:    clock,
		cfg:      cfg.withDefaults(),
		sessions: make(map[uuid.UUID]*Session),
	}
}

// Get returns the user's open session, opening one if needed
func (m *Manager) Get(ctx context.Context, userID uuid.UUID) (*Session, error) {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil, ErrSessionClosed
	}
	s, ok := m.sessions[userID]
	if !ok {
		s = New(userID, m.store, m.clock, m.cfg)
		m.sessions[userID] = s
	}
	m.mu.Unlock()

	if ok {
		select {
		case <-s.Ready():
			if err := s.checkOpen(); err != nil {
				return nil, err
			}
			return s, nil
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	if err := s.Open(ctx); err != nil {
		m.forget(userID, s)
		return nil, err
	}
	return s, nil
}

// Lookup returns the user's session without creating one
func (m *Manager) Lookup(userID uuid.UUID) (*Session, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[userID]
	return s, ok
}

// Logout shuts the user's session down. Logging out a user without a
// session is a no-op.
func (m *Manager) Logout(ctx context.Context, userID uuid.UUID) error {
	m.mu.Lock()
	s, ok := m.sessions[userID]
	delete(m.sessions, userID)
	m.mu.Unlock()

	if !ok {
		return nil
	}
	log.Info().Str("user_id", userID.String()).Msg("closing timer session")
	return s.Shutdown(ctx)
}

// Active returns the number of open sessions
func (m *Manager) Active() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sessions)
}

// Shutdown closes every session and refuses new ones
func (m *Manager) Shutdown(ctx context.Context) error {
	m.mu.Lock()
	m.closed = true
	sessions := m.sessions
	m.sessions = make(map[uuid.UUID]*Session)
	m.mu.Unlock()

	var errs []error
	for _, s := range sessions {
		if err := s.Shutdown(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	log.Info().Int("sessions", len(sessions)).Msg("timer sessions closed")
	return errors.Join(errs...)
}

func (m *Manager) forget(userID uuid.UUID, s *Session) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.sessions[userID] == s {
		delete(m.sessions, userID)
	}
}
