package runtime

import "fmt"

// State is the lifecycle state. States are ordered and only move forward.
type State int

const (
	StateIdle State = iota
	StateInitializing
	StateActive
	StateShuttingDown
	StateShutdown
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateInitializing:
		return "initializing"
	case StateActive:
		return "active"
	case StateShuttingDown:
		return "shutting_down"
	case StateShutdown:
		return "shutdown"
	}
	return fmt.Sprintf("state(%d)", int(s))
}
