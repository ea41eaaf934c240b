package timer

import (
	"sync"

	"github.com/jonboulle/clockwork"
)

// Machine is a concurrency-safe holder for a State that stamps every
// transition with the time of its clock.
type Machine struct {
	clock clockwork.Clock

	mu    sync.Mutex
	state State
}

// NewMachine creates a machine seeded with initial
func NewMachine(clock clockwork.Clock, initial State) *Machine {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &Machine{clock: clock, state: initial.normalized()}
}

// State returns a copy of the current state
func (m *Machine) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Display returns the elapsed seconds at the clock's current time
func (m *Machine) Display() int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state.Display(m.clock.Now())
}

// Seed replaces the state wholesale, e.g. after reconciliation
func (m *Machine) Seed(s State) {
	m.mu.Lock()
	m.state = s.normalized()
	m.mu.Unlock()
}

func (m *Machine) Start() Transition  { return m.apply(func(s State) Transition { return s.Start(m.clock.Now()) }) }
func (m *Machine) Pause() Transition  { return m.apply(func(s State) Transition { return s.Pause(m.clock.Now()) }) }
func (m *Machine) Resume() Transition { return m.apply(func(s State) Transition { return s.Resume(m.clock.Now()) }) }
func (m *Machine) Reset() Transition  { return m.apply(func(s State) Transition { return s.Reset() }) }

// Stop freezes the counter and returns the elapsed seconds of the session
func (m *Machine) Stop() (Transition, StopResult) {
	m.mu.Lock()
	defer m.mu.Unlock()
	tr, res := m.state.Stop(m.clock.Now())
	m.state = tr.State
	return tr, res
}

// SetAccumulated overrides the counter
func (m *Machine) SetAccumulated(seconds int64) (Transition, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	tr, err := m.state.SetAccumulated(seconds)
	if err != nil {
		return tr, err
	}
	m.state = tr.State
	return tr, nil
}

func (m *Machine) apply(fn func(State) Transition) Transition {
	m.mu.Lock()
	defer m.mu.Unlock()
	tr := fn(m.state)
	m.state = tr.State
	return tr
}
