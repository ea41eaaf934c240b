package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/mcdev12/tempo/go/internal/timer"
	"github.com/rs/zerolog/log"
)

// ErrSyncExhausted is reported when a write failed on every attempt
var ErrSyncExhausted = errors.New("timer sync failed after retries")

// Write is the remote operation that brings the store in line with the
// local state: either an upsert of Record or a delete of the user's row.
type Write struct {
	Clear  bool
	Record timer.Record
}

func (w Write) op() string {
	if w.Clear {
		return "clear"
	}
	return "save"
}

// Result describes the outcome of one write attempt
type Result struct {
	Write     Write
	Attempt   int
	Err       error
	Skipped   bool // identical to the last successful save, not sent
	Exhausted bool
}

// Scheduler persists the local state. Requests are coalesced into a single
// pending slot and the payload is read from the current state at send time,
// so every write and every retry carries the newest state.
type Scheduler struct {
	userID uuid.UUID
	origin string
	store  Store
	clock  clockwork.Clock
	cfg    Config

	source   func() Write
	onResult func(Result)

	wake chan struct{}

	mu       sync.Mutex
	queued   bool
	periodic bool
	inflight bool
	retrying bool
	unsynced bool

	lastWrite *Write
	lastOK    *Write
	lastOKAt  time.Time
}

// NewScheduler creates a scheduler. source is called on the scheduler's
// goroutine to read the write to send; onResult observes every attempt.
func NewScheduler(userID uuid.UUID, origin string, store Store, clock clockwork.Clock, cfg Config, source func() Write, onResult func(Result)) *Scheduler {
	if onResult == nil {
		onResult = func(Result) {}
	}
	return &Scheduler{
		userID:   userID,
		origin:   origin,
		store:    store,
		clock:    clock,
		cfg:      cfg.withDefaults(),
		source:   source,
		onResult: onResult,
		wake:     make(chan struct{}, 1),
	}
}

// Request enqueues a write of the current state. It never blocks.
func (s *Scheduler) Request() {
	s.mu.Lock()
	s.queued = true
	s.mu.Unlock()
	s.poke()
}

// SetPeriodic turns the heartbeat save on or off
func (s *Scheduler) SetPeriodic(on bool) {
	s.mu.Lock()
	changed := s.periodic != on
	s.periodic = on
	s.mu.Unlock()
	if changed {
		s.poke()
	}
}

// Dirty reports whether the store may be behind the local state: a write
// is queued, in flight, waiting to retry, or gave up.
func (s *Scheduler) Dirty() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.queued || s.inflight || s.retrying || s.unsynced
}

// Unsynced reports whether the last write failed on every attempt
func (s *Scheduler) Unsynced() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.unsynced
}

// LastWrite returns the most recent write handed to the store, successful
// or not.
func (s *Scheduler) LastWrite() (Write, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.lastWrite == nil {
		return Write{}, false
	}
	return *s.lastWrite, true
}

func (s *Scheduler) poke() {
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

// Run drives persistence until ctx is done
func (s *Scheduler) Run(ctx context.Context) {
	var (
		heartbeat  clockwork.Ticker
		heartbeatC <-chan time.Time
		retry      clockwork.Timer
		retryC     <-chan time.Time
		attempt    int
	)
	cancelRetry := func() {
		if retry != nil {
			stopAndDrainTimer(retry)
			retry, retryC = nil, nil
		}
	}
	defer func() {
		cancelRetry()
		if heartbeat != nil {
			heartbeat.Stop()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return

		case <-s.wake:
			s.mu.Lock()
			queued, periodic := s.queued, s.periodic
			s.mu.Unlock()

			if periodic && heartbeat == nil {
				heartbeat = s.clock.NewTicker(s.cfg.SyncInterval)
				heartbeatC = heartbeat.Chan()
			} else if !periodic && heartbeat != nil {
				heartbeat.Stop()
				heartbeat, heartbeatC = nil, nil
			}
			if !queued {
				continue
			}
			// a fresh request restarts the attempt cycle with the newest state
			cancelRetry()
			attempt = 0

		case <-heartbeatC:
			if retry != nil {
				// the pending retry will send the current state
				continue
			}
			attempt = 0

		case <-retryC:
			retry, retryC = nil, nil
		}

		attempt++
		if s.send(ctx, attempt) {
			attempt = 0
			continue
		}
		if ctx.Err() != nil {
			return
		}
		if attempt < s.cfg.MaxSaveAttempts {
			delay := s.cfg.RetryDelay * time.Duration(attempt)
			retry = s.clock.NewTimer(delay)
			retryC = retry.Chan()
			continue
		}
		attempt = 0
	}
}

// send performs one attempt and reports whether the store is now in line
// with the state it was sent.
func (s *Scheduler) send(ctx context.Context, attempt int) bool {
	s.mu.Lock()
	s.queued = false
	s.inflight = true
	s.retrying = false
	s.mu.Unlock()

	w := s.source()
	w.Record.UserID = s.userID
	if !w.Clear {
		w.Record.Origin = s.origin
	}

	if s.redundant(w) {
		s.mu.Lock()
		s.inflight = false
		s.mu.Unlock()
		s.onResult(Result{Write: w, Attempt: attempt, Skipped: true})
		return true
	}

	s.mu.Lock()
	s.lastWrite = &w
	s.mu.Unlock()

	// a write already handed to the store is allowed to finish even when
	// the session is shutting down
	callCtx := context.WithoutCancel(ctx)
	started := s.clock.Now()
	var err error
	if w.Clear {
		err = s.store.Clear(callCtx, s.userID)
	} else {
		err = s.store.Save(callCtx, w.Record)
	}
	s.cfg.Metrics.RecordSyncAttempt(w.op(), attempt, err == nil, s.clock.Since(started))

	if ctx.Err() != nil {
		s.mu.Lock()
		s.inflight = false
		s.mu.Unlock()
		return false
	}

	res := Result{Write: w, Attempt: attempt, Err: err}

	s.mu.Lock()
	s.inflight = false
	switch {
	case err == nil:
		s.unsynced = false
		s.lastOK = &w
		s.lastOKAt = s.clock.Now()
	case attempt >= s.cfg.MaxSaveAttempts:
		s.unsynced = true
		res.Exhausted = true
		res.Err = fmt.Errorf("%w: %s: %w", ErrSyncExhausted, w.op(), err)
		s.cfg.Metrics.RecordSyncExhausted(w.op())
	default:
		s.retrying = true
	}
	s.mu.Unlock()

	logResult(res)
	s.onResult(res)
	return err == nil
}

// redundant reports whether w repeats the last successful save within the
// sync interval
func (s *Scheduler) redundant(w Write) bool {
	if w.Clear {
		return false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.lastOK == nil || s.lastOK.Clear || s.unsynced || s.queued {
		return false
	}
	if !s.lastOK.Record.SamePayload(w.Record) {
		return false
	}
	return s.clock.Since(s.lastOKAt) < s.cfg.SyncInterval
}

func logResult(res Result) {
	userID := res.Write.Record.UserID.String()
	switch {
	case res.Err == nil:
		if res.Attempt > 1 {
			log.Info().
				Str("user_id", userID).
				Str("op", res.Write.op()).
				Int("attempt", res.Attempt).
				Msg("timer sync succeeded after retry")
		}
	case res.Exhausted:
		log.Warn().
			Err(res.Err).
			Str("user_id", userID).
			Str("op", res.Write.op()).
			Int("attempt", res.Attempt).
			Msg("giving up on timer sync, local state kept")
	default:
		log.Error().
			Err(res.Err).
			Str("user_id", userID).
			Str("op", res.Write.op()).
			Int("attempt", res.Attempt).
			Msg("timer sync failed, retrying")
	}
}

// stopAndDrainTimer stops a timer and drains its channel so a fire that
// raced the stop is not observed later.
func stopAndDrainTimer(t clockwork.Timer) {
	if !t.Stop() {
		select {
		case <-t.Chan():
		default:
		}
	}
}
