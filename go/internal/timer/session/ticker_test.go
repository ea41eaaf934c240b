package session

import (
	"context"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTicker_StartStop(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), waitFor)
	defer cancel()

	clock := clockwork.NewFakeClockAt(epoch)
	tk := NewTicker(clock, time.Second)
	assert.False(t, tk.Running())

	tk.Start()
	tk.Start()
	assert.True(t, tk.Running())
	require.NoError(t, clock.BlockUntilContext(ctx, 1))

	clock.Advance(time.Second)
	select {
	case now := <-tk.C():
		assert.True(t, now.Equal(epoch.Add(time.Second)))
	case <-ctx.Done():
		t.Fatal("no tick")
	}

	tk.Stop()
	tk.Stop()
	assert.False(t, tk.Running())
	clock.Advance(3 * time.Second)
	select {
	case <-tk.C():
		t.Fatal("tick after stop")
	case <-time.After(20 * time.Millisecond):
	}
}

func TestTicker_DropsUnconsumedTicks(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), waitFor)
	defer cancel()

	clock := clockwork.NewFakeClockAt(epoch)
	tk := NewTicker(clock, time.Second)
	tk.Start()
	defer tk.Stop()
	require.NoError(t, clock.BlockUntilContext(ctx, 1))

	for i := 0; i < 5; i++ {
		clock.Advance(time.Second)
	}
	time.Sleep(20 * time.Millisecond)

	received := 0
	for {
		select {
		case <-tk.C():
			received++
			continue
		default:
		}
		break
	}
	assert.LessOrEqual(t, received, 1)
}

func TestTicker_RestartDoesNotCatchUp(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), waitFor)
	defer cancel()

	clock := clockwork.NewFakeClockAt(epoch)
	tk := NewTicker(clock, time.Second)
	tk.Start()
	require.NoError(t, clock.BlockUntilContext(ctx, 1))
	tk.Stop()

	clock.Advance(10 * time.Second)
	tk.Start()
	defer tk.Stop()
	require.NoError(t, clock.BlockUntilContext(ctx, 1))

	clock.Advance(500 * time.Millisecond)
	select {
	case <-tk.C():
		t.Fatal("restarted ticker fired early")
	case <-time.After(20 * time.Millisecond):
	}
	clock.Advance(500 * time.Millisecond)
	select {
	case now := <-tk.C():
		assert.True(t, now.Equal(epoch.Add(11*time.Second)))
	case <-ctx.Done():
		t.Fatal("no tick after restart")
	}
}
