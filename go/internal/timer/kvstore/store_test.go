package kvstore

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/mcdev12/tempo/go/internal/timer"
	"github.com/mcdev12/tempo/go/internal/timer/session"
	"github.com/nats-io/nats.go/jetstream"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeEntry struct {
	jetstream.KeyValueEntry
	key   string
	value []byte
	op    jetstream.KeyValueOp
}

func (e fakeEntry) Key() string                     { return e.key }
func (e fakeEntry) Value() []byte                   { return e.value }
func (e fakeEntry) Operation() jetstream.KeyValueOp { return e.op }

type fakeWatcher struct {
	jetstream.KeyWatcher
	updates chan jetstream.KeyValueEntry
	once    sync.Once
}

func (w *fakeWatcher) Updates() <-chan jetstream.KeyValueEntry { return w.updates }

func (w *fakeWatcher) Stop() error {
	w.once.Do(func() { close(w.updates) })
	return nil
}

// fakeKV implements the parts of a bucket the store uses
type fakeKV struct {
	jetstream.KeyValue

	mu       sync.Mutex
	data     map[string][]byte
	watchers map[string][]*fakeWatcher
	putErr   error
}

func newFakeKV() *fakeKV {
	return &fakeKV{data: make(map[string][]byte), watchers: make(map[string][]*fakeWatcher)}
}

func (kv *fakeKV) Get(ctx context.Context, key string) (jetstream.KeyValueEntry, error) {
	kv.mu.Lock()
	defer kv.mu.Unlock()
	v, ok := kv.data[key]
	if !ok {
		return nil, jetstream.ErrKeyNotFound
	}
	return fakeEntry{key: key, value: v, op: jetstream.KeyValuePut}, nil
}

func (kv *fakeKV) Put(ctx context.Context, key string, value []byte) (uint64, error) {
	kv.mu.Lock()
	defer kv.mu.Unlock()
	if kv.putErr != nil {
		return 0, kv.putErr
	}
	kv.data[key] = value
	kv.publish(fakeEntry{key: key, value: value, op: jetstream.KeyValuePut})
	return uint64(len(kv.data)), nil
}

func (kv *fakeKV) Delete(ctx context.Context, key string, opts ...jetstream.KVDeleteOpt) error {
	kv.mu.Lock()
	defer kv.mu.Unlock()
	delete(kv.data, key)
	kv.publish(fakeEntry{key: key, op: jetstream.KeyValueDelete})
	return nil
}

func (kv *fakeKV) Watch(ctx context.Context, keys string, opts ...jetstream.WatchOpt) (jetstream.KeyWatcher, error) {
	kv.mu.Lock()
	defer kv.mu.Unlock()
	w := &fakeWatcher{updates: make(chan jetstream.KeyValueEntry, 16)}
	// the real watcher marks the end of initial values with nil
	w.updates <- nil
	kv.watchers[keys] = append(kv.watchers[keys], w)
	return w, nil
}

func (kv *fakeKV) publish(e fakeEntry) {
	for _, w := range kv.watchers[e.key] {
		func() {
			defer func() { _ = recover() }() // stopped watcher
			w.updates <- e
		}()
	}
}

func TestStore_SaveLoadClear(t *testing.T) {
	ctx := context.Background()
	clock := clockwork.NewFakeClockAt(time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC))
	kv := newFakeKV()
	s := New(kv, WithClock(clock))
	id := uuid.New()

	_, err := s.Load(ctx, id)
	require.ErrorIs(t, err, timer.ErrNotFound)

	start := clock.Now().Add(-time.Minute)
	rec := timer.Record{UserID: id, Status: timer.StatusRunning, AccumulatedSeconds: 30, RunStartedAt: &start, Origin: "tab-1"}
	require.NoError(t, s.Save(ctx, rec))

	raw := kv.data[key(id)]
	var wire map[string]any
	require.NoError(t, json.Unmarshal(raw, &wire))
	assert.Equal(t, "running", wire["state"])
	assert.EqualValues(t, 30, wire["time"])

	got, err := s.Load(ctx, id)
	require.NoError(t, err)
	assert.True(t, rec.SamePayload(*got))
	assert.Equal(t, "tab-1", got.Origin)
	require.NotNil(t, got.LastSyncedAt)
	assert.True(t, got.LastSyncedAt.Equal(clock.Now()))

	require.NoError(t, s.Clear(ctx, id))
	_, err = s.Load(ctx, id)
	require.ErrorIs(t, err, timer.ErrNotFound)
}

func TestStore_SaveValidatesAndWrapsErrors(t *testing.T) {
	ctx := context.Background()
	kv := newFakeKV()
	s := New(kv)

	err := s.Save(ctx, timer.Record{UserID: uuid.New(), Status: timer.StatusPaused, AccumulatedSeconds: -4})
	require.ErrorIs(t, err, timer.ErrInvalidRecord)

	boom := errors.New("no responders")
	kv.putErr = boom
	err = s.Save(ctx, timer.Record{UserID: uuid.New(), Status: timer.StatusStopped})
	require.ErrorIs(t, err, boom)
}

func TestStore_LoadRejectsCorruptEntries(t *testing.T) {
	kv := newFakeKV()
	id := uuid.New()
	kv.data[key(id)] = []byte("{not json")

	_, err := New(kv).Load(context.Background(), id)
	require.Error(t, err)
	assert.NotErrorIs(t, err, timer.ErrNotFound)
}

func TestStore_SubscribeDeliversPutsAndDeletes(t *testing.T) {
	ctx := context.Background()
	kv := newFakeKV()
	s := New(kv)
	id := uuid.New()

	changes := make(chan session.Change, 8)
	sub, err := s.Subscribe(ctx, id, func(c session.Change) { changes <- c })
	require.NoError(t, err)

	kv.mu.Lock()
	kv.publish(fakeEntry{key: key(id), value: []byte("garbage"), op: jetstream.KeyValuePut})
	kv.mu.Unlock()
	require.NoError(t, s.Save(ctx, timer.Record{UserID: id, Status: timer.StatusPaused, AccumulatedSeconds: 12}))
	require.NoError(t, s.Clear(ctx, id))

	first := receive(t, changes)
	require.NotNil(t, first.Record)
	assert.Equal(t, id, first.UserID)
	assert.Equal(t, int64(12), first.Record.AccumulatedSeconds)

	second := receive(t, changes)
	assert.True(t, second.Deleted)
	assert.Nil(t, second.Record)

	require.NoError(t, sub.Unsubscribe())
}

func receive(t *testing.T, ch <-chan session.Change) session.Change {
	t.Helper()
	select {
	case c := <-ch:
		return c
	case <-time.After(2 * time.Second):
		t.Fatal("no change delivered")
		return session.Change{}
	}
}
