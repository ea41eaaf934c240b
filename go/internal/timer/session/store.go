package session

import (
	"context"

	"github.com/google/uuid"
	"github.com/mcdev12/tempo/go/internal/timer"
)

// Store is the remote source of truth for timer rows. It offers single-row
// upsert, delete, get and a change feed filtered by user. Every call may
// fail transiently and a subscription may silently stop delivering.
type Store interface {
	// Load returns timer.ErrNotFound when the user has no row
	Load(ctx context.Context, userID uuid.UUID) (*timer.Record, error)
	// Save upserts the row keyed by rec.UserID and stamps LastSyncedAt
	Save(ctx context.Context, rec timer.Record) error
	// Clear deletes the row. Clearing a missing row is not an error.
	Clear(ctx context.Context, userID uuid.UUID) error
	// Subscribe delivers every insert, update and delete of the user's row
	Subscribe(ctx context.Context, userID uuid.UUID, fn func(Change)) (Subscription, error)
}

// Change is one notification from a store's change feed
type Change struct {
	UserID  uuid.UUID
	Record  *timer.Record // nil when Deleted
	Deleted bool
}

// Subscription is a live registration on a store's change feed
type Subscription interface {
	Unsubscribe() error
}

// SubscriptionFunc adapts a plain function to Subscription
type SubscriptionFunc func() error

func (f SubscriptionFunc) Unsubscribe() error { return f() }
