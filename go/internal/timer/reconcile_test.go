package timer

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReconcile_NoRecordIsFreshTimer(t *testing.T) {
	s := Reconcile(nil, at(100))
	assert.True(t, s.Equal(Stopped()))
}

func TestReconcile_RunningFoldsTimeAway(t *testing.T) {
	rec := &Record{
		UserID:             uuid.New(),
		Status:             StatusRunning,
		AccumulatedSeconds: 100,
		RunStartedAt:       ptr(at(0)),
	}

	s := Reconcile(rec, at(50))

	assert.Equal(t, StatusRunning, s.Status)
	assert.Equal(t, int64(150), s.Accumulated)
	require.NotNil(t, s.RunStartedAt)
	assert.True(t, s.RunStartedAt.Equal(at(50)))
	assert.Equal(t, int64(150), s.Display(at(50)))
	requireInvariants(t, s)
}

func TestReconcile_CarriesSubSecondRemainder(t *testing.T) {
	rec := &Record{
		UserID:             uuid.New(),
		Status:             StatusRunning,
		AccumulatedSeconds: 0,
		RunStartedAt:       ptr(at(0)),
	}
	now := at(10).Add(700 * time.Millisecond)

	s := Reconcile(rec, now)
	assert.Equal(t, int64(10), s.Accumulated)
	// 0.3s later a full 11th second has elapsed since the original start
	assert.Equal(t, int64(11), s.Display(at(11)))
}

func TestReconcile_NonRunningUnchanged(t *testing.T) {
	for _, st := range []Status{StatusPaused, StatusStopped} {
		rec := &Record{UserID: uuid.New(), Status: st, AccumulatedSeconds: 100}
		s := Reconcile(rec, at(86400))
		assert.Equal(t, st, s.Status)
		assert.Equal(t, int64(100), s.Accumulated)
		assert.Nil(t, s.RunStartedAt)
	}
}

func TestReconcile_CrashMidRun(t *testing.T) {
	// started at t=0, last periodic sync at t=9 wrote the same row,
	// process died at t=10, reload at t=15
	rec := &Record{
		UserID:             uuid.New(),
		Status:             StatusRunning,
		AccumulatedSeconds: 0,
		RunStartedAt:       ptr(at(0)),
		LastSyncedAt:       ptr(at(9)),
	}
	s := Reconcile(rec, at(15))
	assert.Equal(t, int64(15), s.Accumulated)
	assert.Equal(t, StatusRunning, s.Status)
}

func TestReconcile_FutureRunStartClampsToZero(t *testing.T) {
	rec := &Record{
		UserID:             uuid.New(),
		Status:             StatusRunning,
		AccumulatedSeconds: 20,
		RunStartedAt:       ptr(at(300)),
	}
	s := Reconcile(rec, at(0))
	assert.Equal(t, int64(20), s.Accumulated)
	assert.Equal(t, StatusRunning, s.Status)
	assert.True(t, s.RunStartedAt.Equal(at(0)))
}

func TestReconcile_RepairsBrokenRows(t *testing.T) {
	// running without a start instant: keep running from now, add nothing
	s := Reconcile(&Record{Status: StatusRunning, AccumulatedSeconds: 5}, at(40))
	assert.Equal(t, int64(5), s.Accumulated)
	requireInvariants(t, s)

	// paused with a stray start instant: the instant is dropped
	s = Reconcile(&Record{Status: StatusPaused, AccumulatedSeconds: 5, RunStartedAt: ptr(at(0))}, at(40))
	assert.Equal(t, int64(5), s.Accumulated)
	requireInvariants(t, s)

	s = Reconcile(&Record{Status: StatusPaused, AccumulatedSeconds: -3}, at(40))
	assert.Equal(t, int64(0), s.Accumulated)
}
