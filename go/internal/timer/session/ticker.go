package session

import (
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
)

// Ticker emits display ticks while a timer runs. Ticks are best effort:
// a tick that finds the previous one unconsumed is dropped, and a
// restarted ticker begins a fresh period instead of catching up.
type Ticker struct {
	clock    clockwork.Clock
	interval time.Duration
	out      chan time.Time

	mu   sync.Mutex
	stop chan struct{}
	done chan struct{}
}

func NewTicker(clock clockwork.Clock, interval time.Duration) *Ticker {
	return &Ticker{
		clock:    clock,
		interval: interval,
		out:      make(chan time.Time, 1),
	}
}

// C delivers ticks. The channel is never closed.
func (t *Ticker) C() <-chan time.Time {
	return t.out
}

// Running reports whether ticks are being produced
func (t *Ticker) Running() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.stop != nil
}

// Start begins ticking. Calling Start on a running ticker does nothing.
func (t *Ticker) Start() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.stop != nil {
		return
	}
	t.stop = make(chan struct{})
	t.done = make(chan struct{})
	go t.loop(t.clock.NewTicker(t.interval), t.stop, t.done)
}

// Stop halts ticking and discards a tick not yet consumed. Calling Stop on
// a stopped ticker does nothing.
func (t *Ticker) Stop() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.stop == nil {
		return
	}
	close(t.stop)
	<-t.done
	t.stop, t.done = nil, nil

	select {
	case <-t.out:
	default:
	}
}

func (t *Ticker) loop(ct clockwork.Ticker, stop <-chan struct{}, done chan<- struct{}) {
	defer close(done)
	defer ct.Stop()
	for {
		select {
		case <-stop:
			return
		case now := <-ct.Chan():
			select {
			case t.out <- now:
			default:
			}
		}
	}
}
