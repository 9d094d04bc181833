// Package machinestate holds the machine-wide state machine (C3): a
// composite (phase, paused) tuple with the transition rules and derived
// predicates the rest of the controller reasons about.
package machinestate

// Phase is one leg of the machine's top-level state machine.
type Phase int

const (
	NotAttached Phase = iota
	Connecting
	Ready
	Building
	BuildingRemote
	Stopping
	Reset
)

func (p Phase) String() string {
	switch p {
	case NotAttached:
		return "not attached"
	case Connecting:
		return "connecting"
	case Ready:
		return "ready"
	case Building:
		return "building"
	case BuildingRemote:
		return "building remote"
	case Stopping:
		return "stopping"
	case Reset:
		return "reset"
	default:
		return "unknown"
	}
}

// State is an immutable snapshot of the machine's state. Every value
// returned to a caller is a copy; State has no pointer fields so a plain
// assignment already produces a deep copy.
type State struct {
	Phase  Phase
	Paused bool
}

// IsBuilding reports whether the machine is in either building phase.
func (s State) IsBuilding() bool {
	return s.Phase == Building || s.Phase == BuildingRemote
}

// IsConnected reports whether a driver is attached and has completed (or is
// past) its connection handshake.
func (s State) IsConnected() bool {
	return s.Phase != NotAttached && s.Phase != Connecting
}

// IsReady reports whether the machine is idle and able to accept a new job.
func (s State) IsReady() bool {
	return s.Phase == Ready
}

// IsPaused reports whether a build is currently paused. Paused is only ever
// true while IsBuilding is also true.
func (s State) IsPaused() bool {
	return s.Paused
}

// Equal reports whether two states describe the same phase and pause flag.
func (s State) Equal(o State) bool {
	return s.Phase == o.Phase && s.Paused == o.Paused
}

// CanTransition reports whether moving from s to next is one of the
// allowed transitions in §4.3. The worker is the only actor that calls it,
// and its setState ignores any transition it rejects; it is also exercised
// directly by tests to pin down the state machine's shape.
func (s State) CanTransition(next Phase) bool {
	switch s.Phase {
	case NotAttached:
		return next == Connecting
	case Connecting:
		return next == Ready || next == NotAttached
	case Ready:
		return next == Building || next == BuildingRemote || next == Reset || next == NotAttached
	case Building, BuildingRemote:
		return next == Stopping || next == Ready || next == Connecting || next == Reset || next == NotAttached
	case Stopping:
		return next == Ready || next == Connecting || next == NotAttached
	case Reset:
		return next == Ready || next == NotAttached
	default:
		return false
	}
}
