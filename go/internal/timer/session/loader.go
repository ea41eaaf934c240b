package session

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/mcdev12/tempo/go/internal/timer"
)

// Loader reads a user's row and reconciles it into the true current state
type Loader struct {
	store Store
	clock clockwork.Clock
}

func NewLoader(store Store, clock clockwork.Clock) *Loader {
	return &Loader{store: store, clock: clock}
}

// Load returns the stored record, nil when the user has none, together
// with the state reconciled at the current time.
func (l *Loader) Load(ctx context.Context, userID uuid.UUID) (*timer.Record, timer.State, error) {
	rec, err := l.store.Load(ctx, userID)
	if errors.Is(err, timer.ErrNotFound) {
		return nil, timer.Stopped(), nil
	}
	if err != nil {
		return nil, timer.State{}, fmt.Errorf("failed to load timer: %w", err)
	}
	return rec, timer.Reconcile(rec, l.clock.Now()), nil
}
