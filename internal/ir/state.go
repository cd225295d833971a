package ir

import "fmt"

// EngineState is the lifecycle state reported by the external engine.
type EngineState int

const (
	StateUninitialized EngineState = iota
	StateInitializing
	StateActive
	StateStopping
	StateStopped
)

var stateNames = map[EngineState]string{
	StateUninitialized: "uninitialized",
	StateInitializing:  "initializing",
	StateActive:        "active",
	StateStopping:      "stopping",
	StateStopped:       "stopped",
}

func (s EngineState) String() string {
	if n, ok := stateNames[s]; ok {
		return n
	}
	return fmt.Sprintf("EngineState(%d)", int(s))
}

// ParseEngineState parses the lower-case state name.
func ParseEngineState(s string) (EngineState, error) {
	for st, n := range stateNames {
		if n == s {
			return st, nil
		}
	}
	return StateUninitialized, fmt.Errorf("unknown engine state %q", s)
}
