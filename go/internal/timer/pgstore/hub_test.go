package pgstore

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/lib/pq"
	"github.com/mcdev12/tempo/go/internal/timer"
	"github.com/mcdev12/tempo/go/internal/timer/session"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestHub() (*Hub, chan *pq.Notification, chan struct{}) {
	h, notify, closed, _ := newTestHubWithPings(clockwork.NewFakeClock())
	return h, notify, closed
}

func newTestHubWithPings(clock clockwork.Clock) (*Hub, chan *pq.Notification, chan struct{}, chan struct{}) {
	notify := make(chan *pq.Notification, 8)
	closed := make(chan struct{})
	pings := make(chan struct{}, 8)
	cfg := DefaultHubConfig()
	h := newHub(cfg, clock, notify, func() error {
		pings <- struct{}{}
		return nil
	}, func() error {
		close(closed)
		return nil
	})
	return h, notify, closed, pings
}

func TestHub_DispatchesRowsByUser(t *testing.T) {
	h, notify, closed := newTestHub()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- h.Run(ctx) }()

	alice, bob := uuid.New(), uuid.New()
	changes := make(chan session.Change, 4)
	sub := h.Subscribe(alice, func(c session.Change) { changes <- c })
	h.Subscribe(bob, func(c session.Change) { t.Error("bob must not see alice's changes") })

	notify <- nil // reconnect marker
	notify <- &pq.Notification{Channel: "timer_changes", Extra: "not json"}
	notify <- &pq.Notification{Channel: "timer_changes", Extra: fmt.Sprintf(
		`{"op":"UPDATE","user_id":"%s","record":{"user_id":"%s","state":"running","time":12,"start_time":"2026-03-02T09:00:00.123456+00:00","task_name":null,"project_id":"p1","customer_id":null,"tags":["a"],"origin":"tab-9","last_synced":"2026-03-02T09:00:01+00:00"}}`,
		alice, alice)}
	notify <- &pq.Notification{Channel: "timer_changes", Extra: fmt.Sprintf(`{"op":"DELETE","user_id":"%s"}`, alice)}

	first := recv(t, changes)
	require.NotNil(t, first.Record)
	assert.Equal(t, alice, first.UserID)
	assert.Equal(t, timer.StatusRunning, first.Record.Status)
	assert.Equal(t, int64(12), first.Record.AccumulatedSeconds)
	assert.Equal(t, "p1", first.Record.ProjectID)
	assert.Equal(t, []string{"a"}, first.Record.Tags)
	assert.Equal(t, "tab-9", first.Record.Origin)
	require.NoError(t, first.Record.Validate())

	second := recv(t, changes)
	assert.True(t, second.Deleted)

	require.NoError(t, sub.Unsubscribe())
	notify <- &pq.Notification{Extra: fmt.Sprintf(`{"op":"DELETE","user_id":"%s"}`, alice)}

	cancel()
	require.NoError(t, <-done)
	<-closed
	assert.Empty(t, changes)
}

func recv(t *testing.T, ch <-chan session.Change) session.Change {
	t.Helper()
	select {
	case c := <-ch:
		return c
	case <-time.After(2 * time.Second):
		t.Fatal("no change delivered")
		return session.Change{}
	}
}

func TestHub_PingsOnClockCadence(t *testing.T) {
	clock := clockwork.NewFakeClock()
	h, _, closed, pings := newTestHubWithPings(clock)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- h.Run(ctx) }()

	require.NoError(t, clock.BlockUntilContext(ctx, 1))
	assert.Empty(t, pings)

	clock.Advance(DefaultHubConfig().PingInterval)
	select {
	case <-pings:
	case <-time.After(2 * time.Second):
		t.Fatal("no ping after the interval")
	}

	cancel()
	require.NoError(t, <-done)
	<-closed
}
