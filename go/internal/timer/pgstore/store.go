// Package pgstore keeps timer rows in Postgres, one row per user in
// active_timers, and turns the table's NOTIFY trigger into a change feed.
package pgstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/mcdev12/tempo/go/internal/sqlutil"
	"github.com/mcdev12/tempo/go/internal/timer"
	"github.com/mcdev12/tempo/go/internal/timer/session"
	"github.com/sqlc-dev/pqtype"
)

// ErrFeedUnavailable is returned by Subscribe when the store runs without
// a notification hub
var ErrFeedUnavailable = errors.New("timer change feed not configured")

const (
	loadTimerSQL = `SELECT user_id, state, time, start_time, task_name, project_id, customer_id, tags, origin, last_synced
FROM active_timers
WHERE user_id = $1`

	upsertTimerSQL = `INSERT INTO active_timers (user_id, state, time, start_time, task_name, project_id, customer_id, tags, origin, last_synced)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
ON CONFLICT (user_id) DO UPDATE SET
    state = EXCLUDED.state,
    time = EXCLUDED.time,
    start_time = EXCLUDED.start_time,
    task_name = EXCLUDED.task_name,
    project_id = EXCLUDED.project_id,
    customer_id = EXCLUDED.customer_id,
    tags = EXCLUDED.tags,
    origin = EXCLUDED.origin,
    last_synced = EXCLUDED.last_synced`

	deleteTimerSQL = `DELETE FROM active_timers WHERE user_id = $1`
)

type Store struct {
	db    *sql.DB
	clock clockwork.Clock
	hub   *Hub
}

var _ session.Store = (*Store)(nil)

// New creates a store over db. hub may be nil, in which case Subscribe
// fails and sessions rely on polling.
func New(db *sql.DB, hub *Hub, clock clockwork.Clock) *Store {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &Store{db: db, clock: clock, hub: hub}
}

func (s *Store) Load(ctx context.Context, userID uuid.UUID) (*timer.Record, error) {
	var (
		rec        timer.Record
		status     string
		startTime  sql.NullTime
		taskName   sql.NullString
		projectID  sql.NullString
		customerID sql.NullString
		tags       pqtype.NullRawMessage
		origin     sql.NullString
		lastSynced sql.NullTime
	)
	err := s.db.QueryRowContext(ctx, loadTimerSQL, userID).Scan(
		&rec.UserID, &status, &rec.AccumulatedSeconds, &startTime,
		&taskName, &projectID, &customerID, &tags, &origin, &lastSynced,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, timer.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load timer %s: %w", userID, err)
	}

	rec.Status = timer.Status(status)
	rec.RunStartedAt = sqlutil.FromSqlTime(startTime)
	rec.TaskName = sqlutil.FromSqlString(taskName, "")
	rec.ProjectID = sqlutil.FromSqlString(projectID, "")
	rec.CustomerID = sqlutil.FromSqlString(customerID, "")
	rec.Origin = sqlutil.FromSqlString(origin, "")
	rec.LastSyncedAt = sqlutil.FromSqlTime(lastSynced)
	if rec.Tags, err = sqlutil.FromSqlJSON(tags); err != nil {
		return nil, fmt.Errorf("failed to decode tags of timer %s: %w", userID, err)
	}
	return &rec, nil
}

func (s *Store) Save(ctx context.Context, rec timer.Record) error {
	if err := rec.Validate(); err != nil {
		return fmt.Errorf("failed to save timer: %w", err)
	}
	tags, err := sqlutil.ToSqlJSON(rec.Tags)
	if err != nil {
		return fmt.Errorf("failed to encode tags: %w", err)
	}
	now := s.clock.Now().UTC()

	_, err = s.db.ExecContext(ctx, upsertTimerSQL,
		rec.UserID,
		string(rec.Status),
		rec.AccumulatedSeconds,
		sqlutil.ToSqlTime(rec.RunStartedAt),
		sqlutil.ToSqlString(rec.TaskName),
		sqlutil.ToSqlString(rec.ProjectID),
		sqlutil.ToSqlString(rec.CustomerID),
		tags,
		sqlutil.ToSqlString(rec.Origin),
		now,
	)
	if err != nil {
		return fmt.Errorf("failed to save timer %s: %w", rec.UserID, err)
	}
	return nil
}

func (s *Store) Clear(ctx context.Context, userID uuid.UUID) error {
	if _, err := s.db.ExecContext(ctx, deleteTimerSQL, userID); err != nil {
		return fmt.Errorf("failed to clear timer %s: %w", userID, err)
	}
	return nil
}

func (s *Store) Subscribe(ctx context.Context, userID uuid.UUID, fn func(session.Change)) (session.Subscription, error) {
	if s.hub == nil {
		return nil, ErrFeedUnavailable
	}
	return s.hub.Subscribe(userID, fn), nil
}
