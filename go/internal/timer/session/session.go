package session

import (
	"context"
	"errors"
	"sync"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/mcdev12/tempo/go/internal/timer"
	"github.com/rs/zerolog/log"
)

var (
	ErrSessionClosed = errors.New("timer session closed")
	ErrNotOpened     = errors.New("timer session not opened")
)

// Session owns the timer of one authenticated user: the state machine, the
// display ticker, the sync scheduler and the realtime bridge. Intents are
// applied locally and return at once; persistence happens in the
// background and never rolls local state back.
type Session struct {
	userID uuid.UUID
	origin string
	clock  clockwork.Clock
	cfg    Config

	machine *timer.Machine
	loader  *Loader
	sched   *Scheduler
	ticker  *Ticker
	bridge  *Bridge

	ready     chan struct{}
	readyOnce sync.Once
	ctx       context.Context
	cancel    context.CancelFunc
	wg        sync.WaitGroup

	mu       sync.Mutex
	details  timer.Details
	cleared  bool   // the latest local effect was a reset
	gen      uint64 // bumped on every local transition
	sentGen  uint64 // gen of the state handed to the last write
	ackedGen uint64 // gen of the state the store last accepted
	warned   bool   // watchers were told the store is behind
	owner    bool   // the running segment was opened by this session
	deferred *remoteChange
	opened   bool
	closed   bool
	watchers map[int]chan Event
	nextID   int
}

// remoteChange is a feed change that arrived while a write was pending
type remoteChange struct {
	rec *timer.Record
	gen uint64
}

// New creates a session for userID. It does no I/O until Open.
func New(userID uuid.UUID, store Store, clock clockwork.Clock, cfg Config) *Session {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	cfg = cfg.withDefaults()

	s := &Session{
		userID:   userID,
		origin:   uuid.NewString(),
		clock:    clock,
		cfg:      cfg,
		machine:  timer.NewMachine(clock, timer.Stopped()),
		loader:   NewLoader(store, clock),
		ticker:   NewTicker(clock, cfg.TickInterval),
		ready:    make(chan struct{}),
		watchers: make(map[int]chan Event),
	}
	s.sched = NewScheduler(userID, s.origin, store, clock, cfg, s.currentWrite, s.handleResult)
	s.bridge = NewBridge(userID, store, clock, cfg.PollInterval, s.handleChange, s.poll)
	return s
}

func (s *Session) UserID() uuid.UUID { return s.userID }

// Origin identifies this session instance on the rows it writes
func (s *Session) Origin() string { return s.origin }

// Open reconciles the stored row, subscribes to changes and starts the
// background loops. A failed initial load is logged and the session starts
// from Stopped/0; the poller reconciles once the store is reachable.
func (s *Session) Open(ctx context.Context) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrSessionClosed
	}
	if s.opened {
		s.mu.Unlock()
		return nil
	}
	s.opened = true
	s.ctx, s.cancel = context.WithCancel(context.WithoutCancel(ctx))
	s.mu.Unlock()
	defer s.markReady()

	rec, state, err := s.loader.Load(ctx, s.userID)
	if err != nil {
		log.Warn().Err(err).Str("user_id", s.userID.String()).Msg("initial timer load failed, starting stopped")
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrSessionClosed
	}
	if err == nil {
		s.seedLocked(rec, state)
	}
	s.wg.Add(3)
	s.mu.Unlock()

	s.bridge.Subscribe(s.ctx)

	go func() {
		defer s.wg.Done()
		s.sched.Run(s.ctx)
	}()
	go func() {
		defer s.wg.Done()
		s.bridge.Run(s.ctx)
	}()
	go func() {
		defer s.wg.Done()
		s.tickLoop(s.ctx)
	}()

	snap := s.Snapshot()
	log.Info().
		Str("user_id", s.userID.String()).
		Str("session", s.origin).
		Str("status", string(snap.Status)).
		Int64("elapsed", snap.DisplaySeconds).
		Msg("timer session opened")
	return nil
}

// Ready is closed once Open has finished loading, or on Shutdown
func (s *Session) Ready() <-chan struct{} {
	return s.ready
}

func (s *Session) markReady() {
	s.readyOnce.Do(func() { close(s.ready) })
}

func (s *Session) Start() (Snapshot, error) {
	return s.apply("start", func() timer.Transition { return s.machine.Start() })
}

func (s *Session) Pause() (Snapshot, error) {
	return s.apply("pause", func() timer.Transition { return s.machine.Pause() })
}

func (s *Session) Resume() (Snapshot, error) {
	return s.apply("resume", func() timer.Transition { return s.machine.Resume() })
}

// Reset returns the timer to Stopped/0 and deletes the stored row
func (s *Session) Reset() (Snapshot, error) {
	return s.apply("reset", func() timer.Transition { return s.machine.Reset() })
}

// Stop freezes the counter and returns the elapsed seconds for the
// "save entry" flow.
func (s *Session) Stop() (timer.StopResult, Snapshot, error) {
	var res timer.StopResult
	snap, err := s.apply("stop", func() timer.Transition {
		var tr timer.Transition
		tr, res = s.machine.Stop()
		return tr
	})
	return res, snap, err
}

// SetAccumulated overrides the counter; a running segment keeps counting
func (s *Session) SetAccumulated(seconds int64) (Snapshot, error) {
	var setErr error
	snap, err := s.apply("set_accumulated", func() timer.Transition {
		var tr timer.Transition
		tr, setErr = s.machine.SetAccumulated(seconds)
		return tr
	})
	if err != nil {
		return snap, err
	}
	return snap, setErr
}

// SetDetails replaces the passthrough association fields
func (s *Session) SetDetails(d timer.Details) (Snapshot, error) {
	return s.apply("set_details", func() timer.Transition {
		st := s.machine.State()
		if s.details.Equal(d) {
			return timer.Transition{State: st}
		}
		s.details = d
		return timer.Transition{State: st, Effect: timer.EffectSave, Changed: true}
	})
}

// Refresh reconciles against the store right now, as a reload would
func (s *Session) Refresh(ctx context.Context) (Snapshot, error) {
	if err := s.checkOpen(); err != nil {
		return Snapshot{}, err
	}
	gen := s.generation()
	rec, _, err := s.loader.Load(ctx, s.userID)
	if err != nil {
		return s.Snapshot(), err
	}
	s.applyRemote(rec, &gen, "refresh")
	return s.Snapshot(), nil
}

// Snapshot returns the current observable state
func (s *Session) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshotLocked()
}

// Watch registers for events. The returned cancel func unregisters; the
// channel is closed on cancel or session shutdown. Slow watchers miss
// events rather than block the session.
func (s *Session) Watch() (<-chan Event, func()) {
	s.mu.Lock()
	defer s.mu.Unlock()

	ch := make(chan Event, s.cfg.WatchBuffer)
	if s.closed {
		close(ch)
		return ch, func() {}
	}
	id := s.nextID
	s.nextID++
	s.watchers[id] = ch

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			s.mu.Lock()
			defer s.mu.Unlock()
			if w, ok := s.watchers[id]; ok {
				delete(s.watchers, id)
				close(w)
			}
		})
	}
}

// Shutdown stops every loop and drops the feed subscription. It waits for
// the loops to exit or for ctx, whichever comes first. Intents after
// Shutdown fail with ErrSessionClosed.
func (s *Session) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	opened := s.opened
	s.broadcastLocked(Event{Kind: EventClosed, Snapshot: s.snapshotLocked()})
	for id, w := range s.watchers {
		delete(s.watchers, id)
		close(w)
	}
	s.mu.Unlock()

	s.bridge.Close()
	s.ticker.Stop()
	s.sched.SetPeriodic(false)
	if !opened {
		s.markReady()
		return nil
	}
	s.cancel()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		return ctx.Err()
	}

	log.Info().Str("user_id", s.userID.String()).Str("session", s.origin).Msg("timer session closed")
	return nil
}

func (s *Session) apply(op string, fn func() timer.Transition) (Snapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return Snapshot{}, ErrSessionClosed
	}
	if !s.opened {
		return Snapshot{}, ErrNotOpened
	}

	wasRunning := s.machine.State().Running()
	tr := fn()
	if tr.Effect == timer.EffectNone {
		return s.snapshotLocked(), nil
	}

	s.gen++
	switch {
	case !tr.State.Running():
		s.owner = false
	case !wasRunning:
		s.owner = true
	}
	s.cleared = tr.Effect == timer.EffectClear
	if s.cleared {
		s.details = timer.Details{}
	}
	s.sched.Request()
	s.runLocked(tr.State)

	snap := s.snapshotLocked()
	s.broadcastLocked(Event{Kind: EventSnapshot, Snapshot: snap})

	log.Debug().
		Str("user_id", s.userID.String()).
		Str("op", op).
		Str("status", string(tr.State.Status)).
		Int64("elapsed", snap.DisplaySeconds).
		Msg("timer transition")
	return snap, nil
}

// currentWrite is the scheduler's view of what the store should hold
func (s *Session) currentWrite() Write {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sentGen = s.gen
	if s.cleared {
		return Write{Clear: true, Record: timer.Record{UserID: s.userID}}
	}
	return Write{Record: s.machine.State().Record(s.userID, s.details)}
}

func (s *Session) handleResult(res Result) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	if res.Err == nil {
		s.ackedGen = s.sentGen
		s.adoptDeferredLocked()
	}
	switch {
	case res.Skipped:
	case res.Exhausted:
		s.warned = true
		s.broadcastLocked(Event{Kind: EventWarning, Snapshot: s.snapshotLocked(), Message: res.Err.Error()})
	case res.Err == nil && s.warned:
		s.warned = false
		s.broadcastLocked(Event{Kind: EventSnapshot, Snapshot: s.snapshotLocked()})
	}
}

func (s *Session) handleChange(c Change) {
	var rec *timer.Record
	if !c.Deleted {
		rec = c.Record
	}
	s.applyRemote(rec, nil, "feed")
}

func (s *Session) poll(ctx context.Context) {
	if s.sched.Unsynced() {
		// retries gave up; try again on the poll cadence even when no
		// heartbeat is running
		s.sched.Request()
	}
	gen := s.generation()
	rec, _, err := s.loader.Load(ctx, s.userID)
	if err != nil {
		if ctx.Err() == nil {
			log.Error().Err(err).Str("user_id", s.userID.String()).Msg("timer poll failed")
		}
		return
	}
	s.applyRemote(rec, &gen, "poll")
}

// applyRemote reseeds local state from a record observed in the store, nil
// meaning no row. A loaded record is dropped when a local transition
// happened after the load began (gen moved), and echoes of this session's
// own writes are ignored.
//
// While the store may be behind local state nothing is applied. If the
// pending write only restates state the store already accepted, a feed
// change is newer than anything this session knows and is kept until the
// write settles. Otherwise the pending local intent wins and the change is
// dropped. Loaded records are always dropped; the next poll sees the row.
func (s *Session) applyRemote(rec *timer.Record, gen *uint64, source string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	if gen != nil && *gen != s.gen {
		return
	}
	if s.isEcho(rec) {
		return
	}
	if s.sched.Dirty() {
		if gen == nil && s.gen == s.ackedGen && (rec == nil || rec.Origin != s.origin) {
			s.deferred = &remoteChange{rec: rec, gen: s.gen}
		}
		return
	}
	s.reseedLocked(rec, source)
}

// adoptDeferredLocked applies a feed change held back by a write that has
// now landed. The landed write may have overwritten that change in the
// store, so the adopted state is written back.
func (s *Session) adoptDeferredLocked() {
	d := s.deferred
	if d == nil || s.sched.Dirty() {
		return
	}
	s.deferred = nil
	if d.gen != s.gen {
		// a local intent came after the change and wins
		return
	}
	if s.reseedLocked(d.rec, "deferred feed") {
		s.sched.Request()
	}
}

// reseedLocked reports whether rec changed the observable state
func (s *Session) reseedLocked(rec *timer.Record, source string) bool {
	now := s.clock.Now()
	state := timer.Reconcile(rec, now)
	current := s.machine.State()
	var details timer.Details
	if rec != nil {
		details = rec.Details
	}
	if state.Status == current.Status &&
		state.Display(now) == current.Display(now) &&
		details.Equal(s.details) {
		return false
	}

	s.seedLocked(rec, state)
	s.broadcastLocked(Event{Kind: EventSnapshot, Snapshot: s.snapshotLocked()})

	log.Info().
		Str("user_id", s.userID.String()).
		Str("source", source).
		Str("status", string(state.Status)).
		Int64("elapsed", state.Display(now)).
		Msg("timer reconciled from remote")
	return true
}

// isEcho reports whether rec is this session's own last write coming back
func (s *Session) isEcho(rec *timer.Record) bool {
	if rec == nil || rec.Origin != s.origin {
		return false
	}
	last, ok := s.sched.LastWrite()
	return ok && !last.Clear && last.Record.SamePayload(*rec)
}

func (s *Session) seedLocked(rec *timer.Record, state timer.State) {
	s.machine.Seed(state)
	s.owner = false
	s.details = timer.Details{}
	s.cleared = rec == nil
	if rec != nil {
		s.details = rec.Details
	}
	s.runLocked(state)
}

// runLocked starts or stops the display ticker and heartbeat saves. Only
// the session that opened the running segment sends heartbeats; a session
// that learned of the segment from the store just displays it.
func (s *Session) runLocked(state timer.State) {
	running := state.Running()
	if running {
		s.ticker.Start()
	} else {
		s.ticker.Stop()
	}
	s.sched.SetPeriodic(running && s.owner)
}

func (s *Session) tickLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-s.ticker.C():
			s.mu.Lock()
			if !s.closed {
				s.broadcastLocked(Event{Kind: EventSnapshot, Snapshot: s.snapshotLocked()})
			}
			s.mu.Unlock()
		}
	}
}

func (s *Session) snapshotLocked() Snapshot {
	st := s.machine.State()
	now := s.clock.Now()
	snap := Snapshot{
		UserID:             s.userID,
		Status:             st.Status,
		DisplaySeconds:     st.Display(now),
		AccumulatedSeconds: st.Accumulated,
		Details:            s.details,
		Unsynced:           s.sched.Unsynced(),
		At:                 now,
	}
	if st.RunStartedAt != nil {
		t := *st.RunStartedAt
		snap.RunStartedAt = &t
	}
	return snap
}

func (s *Session) broadcastLocked(ev Event) {
	for _, w := range s.watchers {
		select {
		case w <- ev:
		default:
		}
	}
}

func (s *Session) generation() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.gen
}

func (s *Session) checkOpen() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrSessionClosed
	}
	if !s.opened {
		return ErrNotOpened
	}
	return nil
}
