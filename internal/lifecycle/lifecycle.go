// Package lifecycle holds the state machine of a core endpoint.
//
// # State Machine
//
//	Stopped/Error ──start──→ Loading ──(extension)──→ Running
//	Running ──stop──→ Stopped
//	Running/Error/Loading/Paused ──force-stop──→ Stopped
//
// Guarded transitions check the current state and move to their target
// under one lock, so two concurrent starts cannot both pass the guard.
// Set is ungated and used by extensions to report progress or failure.
package lifecycle

import (
	"slices"
	"sync"

	"github.com/wagiedev/parabox-connector-go/internal/envelope"
)

// Rule is a guarded transition.
type Rule struct {
	Name    string
	Allowed []envelope.State
	Target  envelope.State
}

// Built-in rules.
var (
	Start = Rule{
		Name:    "start",
		Allowed: []envelope.State{envelope.StateStopped, envelope.StateError},
		Target:  envelope.StateLoading,
	}
	Stop = Rule{
		Name:    "stop",
		Allowed: []envelope.State{envelope.StateRunning},
		Target:  envelope.StateStopped,
	}
	ForceStop = Rule{
		Name: "force_stop",
		Allowed: []envelope.State{
			envelope.StateRunning,
			envelope.StateError,
			envelope.StateLoading,
			envelope.StatePaused,
		},
		Target: envelope.StateStopped,
	}
)

// Transition describes one state change.
type Transition struct {
	From    envelope.State
	To      envelope.State
	Message string
}

// Machine is a mutex-guarded lifecycle state.
//
// Observers see transitions one at a time in the order they were applied, so
// the last transition observed always matches the current state. An observer
// must not change the state itself.
type Machine struct {
	// transitionMu is held from a state write until its observers return.
	transitionMu sync.Mutex

	mu      sync.RWMutex
	state   envelope.State
	message string

	observersMu sync.RWMutex
	observers   []func(Transition)
}

// New creates a machine in the Stopped state.
func New() *Machine {
	return &Machine{state: envelope.StateStopped}
}

// State returns the current state and its message.
func (m *Machine) State() (envelope.State, string) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	return m.state, m.message
}

// Is reports whether the current state is s.
func (m *Machine) Is(s envelope.State) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()

	return m.state == s
}

// OnTransition adds an observer run after every state change. Observers run
// on the goroutine that changed the state.
func (m *Machine) OnTransition(fn func(Transition)) {
	m.observersMu.Lock()
	defer m.observersMu.Unlock()

	m.observers = append(m.observers, fn)
}

// Apply moves to rule.Target if the current state is allowed. It reports
// false and leaves the state untouched otherwise.
func (m *Machine) Apply(rule Rule) (Transition, bool) {
	m.transitionMu.Lock()
	defer m.transitionMu.Unlock()

	m.mu.Lock()

	if !slices.Contains(rule.Allowed, m.state) {
		m.mu.Unlock()

		return Transition{}, false
	}

	t := Transition{From: m.state, To: rule.Target}
	m.state = rule.Target
	m.message = ""
	m.mu.Unlock()

	m.notify(t)

	return t, true
}

// Set moves to state unconditionally.
func (m *Machine) Set(state envelope.State, message string) Transition {
	m.transitionMu.Lock()
	defer m.transitionMu.Unlock()

	m.mu.Lock()
	t := Transition{From: m.state, To: state, Message: message}
	m.state = state
	m.message = message
	m.mu.Unlock()

	m.notify(t)

	return t
}

func (m *Machine) notify(t Transition) {
	m.observersMu.RLock()
	observers := m.observers
	m.observersMu.RUnlock()

	for _, fn := range observers {
		fn(t)
	}
}
