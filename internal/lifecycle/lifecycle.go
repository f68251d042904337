// Package lifecycle models the agent's own run state as an explicit
// state machine. It is purely observational: nothing in the data path
// consults it, and it never drives behavior — it exists so the
// operational surface can report what phase of its run the agent is
// currently in.
package lifecycle

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/looplab/fsm"
)

// States the agent passes through over one run.
const (
	StateStarting = "starting"
	StateRunning  = "running"
	StateDraining = "draining"
	StateStopping = "stopping"
	StateStopped  = "stopped"
)

// Events that drive state transitions.
const (
	EventStart      = "start"
	EventBeginDrain = "begin_drain"
	EventEndDrain   = "end_drain"
	EventShutdown   = "shutdown"
	EventStopped    = "stopped"
)

// Snapshot is an immutable view of the current lifecycle state,
// suitable for publishing over /stats or /ws.
type Snapshot struct {
	State string    `json:"state"`
	Since time.Time `json:"since"`
}

// Machine wraps a looplab/fsm instance modelling the agent's run
// phases. Safe for concurrent use.
type Machine struct {
	mu            sync.RWMutex
	fsm           *fsm.FSM
	since         time.Time
	onStateChange func(from, to string)
}

// New creates a Machine in StateStarting. onStateChange, if non-nil,
// is invoked after every transition (used to push lifecycle updates
// over the WebSocket hub).
func New(onStateChange func(from, to string)) *Machine {
	m := &Machine{
		onStateChange: onStateChange,
		since:         time.Now(),
	}

	m.fsm = fsm.NewFSM(
		StateStarting,
		fsm.Events{
			{Name: EventStart, Src: []string{StateStarting}, Dst: StateRunning},
			{Name: EventBeginDrain, Src: []string{StateRunning}, Dst: StateDraining},
			{Name: EventEndDrain, Src: []string{StateDraining}, Dst: StateRunning},
			{Name: EventShutdown, Src: []string{StateRunning, StateDraining, StateStarting}, Dst: StateStopping},
			{Name: EventStopped, Src: []string{StateStopping}, Dst: StateStopped},
		},
		fsm.Callbacks{
			"after_event": func(_ context.Context, e *fsm.Event) {
				if m.onStateChange != nil && e.Src != e.Dst {
					m.onStateChange(e.Src, e.Dst)
				}
			},
		},
	)

	return m
}

// Trigger fires an event against the current state.
func (m *Machine) Trigger(event string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.fsm.Event(context.Background(), event); err != nil {
		return fmt.Errorf("lifecycle: trigger %s: %w", event, err)
	}
	m.since = time.Now()
	return nil
}

// Current returns the current state name.
func (m *Machine) Current() string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.fsm.Current()
}

// State returns a snapshot of the current lifecycle state.
func (m *Machine) State() Snapshot {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return Snapshot{State: m.fsm.Current(), Since: m.since}
}
