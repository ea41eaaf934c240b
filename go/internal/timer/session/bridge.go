package session

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"
)

// Bridge keeps a session in step with changes made elsewhere. It listens on
// the store's change feed and, independently of the feed's health, polls
// the store on a fixed interval.
type Bridge struct {
	userID   uuid.UUID
	store    Store
	clock    clockwork.Clock
	interval time.Duration

	onChange func(Change)
	onPoll   func(ctx context.Context)

	mu     sync.Mutex
	sub    Subscription
	closed bool
}

func NewBridge(userID uuid.UUID, store Store, clock clockwork.Clock, interval time.Duration, onChange func(Change), onPoll func(ctx context.Context)) *Bridge {
	return &Bridge{
		userID:   userID,
		store:    store,
		clock:    clock,
		interval: interval,
		onChange: onChange,
		onPoll:   onPoll,
	}
}

// Subscribe registers on the change feed. A failure is logged and leaves
// the bridge relying on polling alone.
func (b *Bridge) Subscribe(ctx context.Context) bool {
	sub, err := b.store.Subscribe(ctx, b.userID, func(c Change) {
		if c.UserID != b.userID {
			return
		}
		b.onChange(c)
	})
	if err != nil {
		log.Warn().
			Err(err).
			Str("user_id", b.userID.String()).
			Dur("poll_interval", b.interval).
			Msg("timer change feed unavailable, falling back to polling")
		return false
	}

	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		_ = sub.Unsubscribe()
		return false
	}
	b.sub = sub
	b.mu.Unlock()
	return true
}

// Subscribed reports whether a feed subscription is held
func (b *Bridge) Subscribed() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.sub != nil
}

// Run polls until ctx is done
func (b *Bridge) Run(ctx context.Context) {
	ticker := b.clock.NewTicker(b.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.Chan():
			b.onPoll(ctx)
		}
	}
}

// Close drops the feed subscription
func (b *Bridge) Close() {
	b.mu.Lock()
	sub := b.sub
	b.sub = nil
	b.closed = true
	b.mu.Unlock()

	if sub == nil {
		return
	}
	if err := sub.Unsubscribe(); err != nil {
		log.Error().Err(err).Str("user_id", b.userID.String()).Msg("failed to unsubscribe from timer changes")
	}
}
