// Package memstore is an in-process timer store. It backs single-replica
// deployments and serves as the store in engine tests.
package memstore

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/mcdev12/tempo/go/internal/timer"
	"github.com/mcdev12/tempo/go/internal/timer/session"
)

type subscriber struct {
	userID uuid.UUID
	fn     func(session.Change)
}

// Store keeps one row per user in memory and notifies subscribers of every
// write, including the writer's own.
type Store struct {
	clock clockwork.Clock

	mu     sync.RWMutex
	rows   map[uuid.UUID]timer.Record
	subs   map[int]subscriber
	nextID int
}

var _ session.Store = (*Store)(nil)

func New(clock clockwork.Clock) *Store {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &Store{
		clock: clock,
		rows:  make(map[uuid.UUID]timer.Record),
		subs:  make(map[int]subscriber),
	}
}

func (s *Store) Load(ctx context.Context, userID uuid.UUID) (*timer.Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.rows[userID]
	if !ok {
		return nil, timer.ErrNotFound
	}
	return clone(rec), nil
}

func (s *Store) Save(ctx context.Context, rec timer.Record) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := rec.Validate(); err != nil {
		return fmt.Errorf("failed to save timer: %w", err)
	}
	now := s.clock.Now().UTC()
	rec.LastSyncedAt = &now

	s.mu.Lock()
	s.rows[rec.UserID] = *clone(rec)
	s.mu.Unlock()

	s.notify(session.Change{UserID: rec.UserID, Record: clone(rec)})
	return nil
}

func (s *Store) Clear(ctx context.Context, userID uuid.UUID) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	_, existed := s.rows[userID]
	delete(s.rows, userID)
	s.mu.Unlock()

	if existed {
		s.notify(session.Change{UserID: userID, Deleted: true})
	}
	return nil
}

func (s *Store) Subscribe(ctx context.Context, userID uuid.UUID, fn func(session.Change)) (session.Subscription, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	id := s.nextID
	s.nextID++
	s.subs[id] = subscriber{userID: userID, fn: fn}
	s.mu.Unlock()

	return session.SubscriptionFunc(func() error {
		s.mu.Lock()
		delete(s.subs, id)
		s.mu.Unlock()
		return nil
	}), nil
}

// Subscribers returns the number of live subscriptions
func (s *Store) Subscribers() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.subs)
}

// notify runs subscriber callbacks outside the lock, in the writer's goroutine
func (s *Store) notify(c session.Change) {
	s.mu.RLock()
	var fns []func(session.Change)
	for _, sub := range s.subs {
		if sub.userID == c.UserID {
			fns = append(fns, sub.fn)
		}
	}
	s.mu.RUnlock()

	for _, fn := range fns {
		ch := c
		if c.Record != nil {
			ch.Record = clone(*c.Record)
		}
		fn(ch)
	}
}

func clone(rec timer.Record) *timer.Record {
	out := rec
	if rec.RunStartedAt != nil {
		t := *rec.RunStartedAt
		out.RunStartedAt = &t
	}
	if rec.LastSyncedAt != nil {
		t := *rec.LastSyncedAt
		out.LastSyncedAt = &t
	}
	if rec.Tags != nil {
		out.Tags = append([]string(nil), rec.Tags...)
	}
	return &out
}
