package lifecycle

import (
	"fmt"
)

// State represents the lifecycle state of a session.
type State int

const (
	// StateRequested indicates the session record exists but nothing has run.
	StateRequested State = iota

	// StatePulling indicates the image is being pulled and the unit created.
	StatePulling

	// StateStarting indicates the unit is being started and attached.
	StateStarting

	// StateProbing indicates the unit runs and readiness is being polled.
	StateProbing

	// StateRunning indicates the session answers and is routed.
	StateRunning

	// StateStopping indicates teardown is in progress.
	StateStopping

	// StateRemoved indicates teardown finished.
	StateRemoved

	// StateFailed indicates the spawn failed after best-effort cleanup.
	StateFailed
)

var stateNames = map[State]string{
	StateRequested: "requested",
	StatePulling:   "pulling",
	StateStarting:  "starting",
	StateProbing:   "probing",
	StateRunning:   "running",
	StateStopping:  "stopping",
	StateRemoved:   "removed",
	StateFailed:    "failed",
}

// String returns a human-readable string for the state.
func (s State) String() string {
	if name, ok := stateNames[s]; ok {
		return name
	}
	return "unknown"
}

// MarshalText encodes the state by name.
func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// UnmarshalText decodes a state name.
func (s *State) UnmarshalText(b []byte) error {
	for st, name := range stateNames {
		if name == string(b) {
			*s = st
			return nil
		}
	}
	return fmt.Errorf("unknown state %q", b)
}

// IsTerminal reports whether no further lifecycle work happens in s.
func (s State) IsTerminal() bool {
	return s == StateRemoved || s == StateFailed
}

// IsSpawning reports whether s is part of an in-flight spawn.
func (s State) IsSpawning() bool {
	switch s {
	case StateRequested, StatePulling, StateStarting, StateProbing:
		return true
	}
	return false
}

// transitions lists the allowed successors of each state.
var transitions = map[State][]State{
	StateRequested: {StatePulling, StateStopping},
	StatePulling:   {StateStarting, StateFailed, StateStopping},
	StateStarting:  {StateProbing, StateFailed, StateStopping},
	StateProbing:   {StateRunning, StateFailed, StateStopping},
	StateRunning:   {StateStopping},
	StateStopping:  {StateRemoved},
	StateFailed:    {StateStopping},
	StateRemoved:   nil,
}

// CanTransition reports whether from -> to is allowed.
func CanTransition(from, to State) bool {
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}
