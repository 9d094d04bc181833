// Package event implements the event emitter (C7): the controller's side of
// the "listener notification transport" the core leaves abstract. A
// concrete transport (internal/httpapi's SSE relay, a CLI printer, a test
// spy) implements Listener and registers with an Emitter.
package event

import (
	"sync"

	"github.com/mastercactapus/buildctl/internal/driverapi"
	"github.com/mastercactapus/buildctl/internal/machinestate"
)

// StateChangeEvent is delivered synchronously inside the worker on every
// successful state transition, and once more, immediately, to a listener
// that has just registered.
type StateChangeEvent struct {
	Prev    machinestate.State
	Current machinestate.State
}

// ProgressEvent is emitted once per processed line during a build.
type ProgressEvent struct {
	ElapsedMs        int64
	EstimatedTotalMs int64
	LinesProcessed   int
	LinesTotal       int
}

// ToolStatusEvent is emitted from status polling when temperature
// monitoring is enabled.
type ToolStatusEvent struct {
	Tool driverapi.ToolTemperature
}

// Listener receives the three event kinds the emitter publishes. A
// transport that only cares about one kind is free to no-op the others.
type Listener interface {
	OnStateChange(StateChangeEvent)
	OnProgress(ProgressEvent)
	OnToolStatus(ToolStatusEvent)
}

// Emitter fans events out to registered listeners. It is safe for
// concurrent use: the listener list is guarded by its own lock, and
// emission clones the list before dispatching so adding or removing a
// listener mid-emission never affects the emission in progress.
type Emitter struct {
	mu        sync.Mutex
	listeners []Listener
	current   func() machinestate.State
}

// NewEmitter constructs an Emitter. current is consulted to deliver an
// immediate state snapshot to a listener on registration; it may be nil,
// in which case no such snapshot is sent.
func NewEmitter(current func() machinestate.State) *Emitter {
	return &Emitter{current: current}
}

// AddListener registers l and, if a current-state function was supplied,
// immediately delivers a StateChangeEvent with Prev equal to Current so the
// new listener starts with an accurate picture.
func (e *Emitter) AddListener(l Listener) {
	e.mu.Lock()
	e.listeners = append(e.listeners, l)
	e.mu.Unlock()

	if e.current != nil {
		s := e.current()
		l.OnStateChange(StateChangeEvent{Prev: s, Current: s})
	}
}

// RemoveListener unregisters l. It takes effect on the next emission; an
// emission already in progress is unaffected.
func (e *Emitter) RemoveListener(l Listener) {
	e.mu.Lock()
	defer e.mu.Unlock()
	for i, existing := range e.listeners {
		if existing == l {
			e.listeners = append(e.listeners[:i:i], e.listeners[i+1:]...)
			return
		}
	}
}

func (e *Emitter) snapshot() []Listener {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]Listener, len(e.listeners))
	copy(out, e.listeners)
	return out
}

// EmitStateChange publishes a state transition to every registered listener.
func (e *Emitter) EmitStateChange(ev StateChangeEvent) {
	for _, l := range e.snapshot() {
		l.OnStateChange(ev)
	}
}

// EmitProgress publishes a progress update to every registered listener.
func (e *Emitter) EmitProgress(ev ProgressEvent) {
	for _, l := range e.snapshot() {
		l.OnProgress(ev)
	}
}

// EmitToolStatus publishes a tool status update to every registered listener.
func (e *Emitter) EmitToolStatus(ev ToolStatusEvent) {
	for _, l := range e.snapshot() {
		l.OnToolStatus(ev)
	}
}
