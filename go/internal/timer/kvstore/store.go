// Package kvstore keeps timer rows in a NATS JetStream key-value bucket,
// one key per user, and uses key watchers as the change feed.
package kvstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/mcdev12/tempo/go/internal/timer"
	"github.com/mcdev12/tempo/go/internal/timer/session"
	"github.com/nats-io/nats.go/jetstream"
	"github.com/rs/zerolog/log"
)

type Store struct {
	kv     jetstream.KeyValue
	clock  clockwork.Clock
	closer func() error
}

var _ session.Store = (*Store)(nil)

type Option func(*Store)

func WithClock(clock clockwork.Clock) Option {
	return func(s *Store) { s.clock = clock }
}

// New wraps an existing bucket
func New(kv jetstream.KeyValue, opts ...Option) *Store {
	s := &Store{kv: kv, clock: clockwork.NewRealClock()}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Close drains the NATS connection when the store owns one
func (s *Store) Close() error {
	if s.closer == nil {
		return nil
	}
	return s.closer()
}

func (s *Store) Load(ctx context.Context, userID uuid.UUID) (*timer.Record, error) {
	entry, err := s.kv.Get(ctx, key(userID))
	if errors.Is(err, jetstream.ErrKeyNotFound) {
		return nil, timer.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get timer %s: %w", userID, err)
	}
	rec, err := decode(entry.Value())
	if err != nil {
		return nil, err
	}
	return rec, nil
}

func (s *Store) Save(ctx context.Context, rec timer.Record) error {
	if err := rec.Validate(); err != nil {
		return fmt.Errorf("failed to save timer: %w", err)
	}
	now := s.clock.Now().UTC()
	rec.LastSyncedAt = &now

	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("encode timer: %w", err)
	}
	if _, err := s.kv.Put(ctx, key(rec.UserID), data); err != nil {
		return fmt.Errorf("put timer %s: %w", rec.UserID, err)
	}
	return nil
}

func (s *Store) Clear(ctx context.Context, userID uuid.UUID) error {
	err := s.kv.Delete(ctx, key(userID))
	if err != nil && !errors.Is(err, jetstream.ErrKeyNotFound) {
		return fmt.Errorf("delete timer %s: %w", userID, err)
	}
	return nil
}

// Subscribe watches the user's key. Only updates after the call are
// delivered; the current value is read with Load.
func (s *Store) Subscribe(ctx context.Context, userID uuid.UUID, fn func(session.Change)) (session.Subscription, error) {
	w, err := s.kv.Watch(ctx, key(userID), jetstream.UpdatesOnly())
	if err != nil {
		return nil, fmt.Errorf("watch timer %s: %w", userID, err)
	}

	go func() {
		for entry := range w.Updates() {
			if entry == nil {
				continue
			}
			change, err := toChange(userID, entry)
			if err != nil {
				log.Error().Err(err).Str("user_id", userID.String()).Msg("skipping undecodable timer entry")
				continue
			}
			fn(change)
		}
	}()

	return session.SubscriptionFunc(w.Stop), nil
}

func toChange(userID uuid.UUID, entry jetstream.KeyValueEntry) (session.Change, error) {
	switch entry.Operation() {
	case jetstream.KeyValueDelete, jetstream.KeyValuePurge:
		return session.Change{UserID: userID, Deleted: true}, nil
	}
	rec, err := decode(entry.Value())
	if err != nil {
		return session.Change{}, err
	}
	return session.Change{UserID: userID, Record: rec}, nil
}

func decode(data []byte) (*timer.Record, error) {
	var rec timer.Record
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("decode timer: %w", err)
	}
	return &rec, nil
}

func key(userID uuid.UUID) string {
	return "timer." + userID.String()
}
