package session

import (
	"context"
	"errors"
	"sync"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/mcdev12/tempo/go/internal/timer"
)

var errUnavailable = errors.New("store unavailable")

// fakeStore is an in-memory Store with fault injection
type fakeStore struct {
	clock clockwork.Clock

	mu     sync.Mutex
	rows   map[uuid.UUID]timer.Record
	subs   map[int]func(Change)
	nextID int

	failWrites    int  // fail the next n Save/Clear calls
	failAll       bool // fail every Save/Clear call
	failSubscribe bool
	failLoads     bool
	writeGate     chan struct{} // when set, writes block until it yields
	loadGate      chan struct{}
	loadEntered   chan struct{}

	saves  []timer.Record
	clears int
	calls  int
}

func newFakeStore(clock clockwork.Clock) *fakeStore {
	return &fakeStore{
		clock: clock,
		rows:  make(map[uuid.UUID]timer.Record),
		subs:  make(map[int]func(Change)),
	}
}

func (f *fakeStore) Load(ctx context.Context, userID uuid.UUID) (*timer.Record, error) {
	f.mu.Lock()
	rec, ok := f.rows[userID]
	fail := f.failLoads
	gate, entered := f.loadGate, f.loadEntered
	f.mu.Unlock()

	if entered != nil {
		entered <- struct{}{}
	}
	if gate != nil {
		<-gate
	}
	if fail {
		return nil, errUnavailable
	}
	if !ok {
		return nil, timer.ErrNotFound
	}
	return &rec, nil
}

func (f *fakeStore) Save(ctx context.Context, rec timer.Record) error {
	if err := f.beginWrite(); err != nil {
		return err
	}
	now := f.clock.Now()
	rec.LastSyncedAt = &now

	f.mu.Lock()
	f.rows[rec.UserID] = rec
	f.saves = append(f.saves, rec)
	subs := f.subscribers()
	f.mu.Unlock()

	for _, fn := range subs {
		r := rec
		fn(Change{UserID: rec.UserID, Record: &r})
	}
	return nil
}

func (f *fakeStore) Clear(ctx context.Context, userID uuid.UUID) error {
	if err := f.beginWrite(); err != nil {
		return err
	}
	f.mu.Lock()
	delete(f.rows, userID)
	f.clears++
	subs := f.subscribers()
	f.mu.Unlock()

	for _, fn := range subs {
		fn(Change{UserID: userID, Deleted: true})
	}
	return nil
}

func (f *fakeStore) Subscribe(ctx context.Context, userID uuid.UUID, fn func(Change)) (Subscription, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failSubscribe {
		return nil, errUnavailable
	}
	id := f.nextID
	f.nextID++
	f.subs[id] = fn
	return SubscriptionFunc(func() error {
		f.mu.Lock()
		delete(f.subs, id)
		f.mu.Unlock()
		return nil
	}), nil
}

func (f *fakeStore) beginWrite() error {
	f.mu.Lock()
	f.calls++
	gate := f.writeGate
	fail := f.failAll || f.failWrites > 0
	if f.failWrites > 0 {
		f.failWrites--
	}
	f.mu.Unlock()

	if gate != nil {
		<-gate
	}
	if fail {
		return errUnavailable
	}
	return nil
}

func (f *fakeStore) subscribers() []func(Change) {
	out := make([]func(Change), 0, len(f.subs))
	for _, fn := range f.subs {
		out = append(out, fn)
	}
	return out
}

// put writes a row as another device would, notifying subscribers
func (f *fakeStore) put(rec timer.Record) {
	f.mu.Lock()
	f.rows[rec.UserID] = rec
	subs := f.subscribers()
	f.mu.Unlock()
	for _, fn := range subs {
		r := rec
		fn(Change{UserID: rec.UserID, Record: &r})
	}
}

func (f *fakeStore) row(userID uuid.UUID) (timer.Record, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	rec, ok := f.rows[userID]
	return rec, ok
}

func (f *fakeStore) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func (f *fakeStore) saved() []timer.Record {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]timer.Record(nil), f.saves...)
}

func (f *fakeStore) subscriberCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.subs)
}

func (f *fakeStore) set(fn func(f *fakeStore)) {
	f.mu.Lock()
	defer f.mu.Unlock()
	fn(f)
}
