package body

import (
	"time"

	"github.com/teslashibe/go-body/pkg/indicator"
)

// State is the controller state. Advertising means no brain is connected;
// the others are substates of Connected.
type State string

const (
	StateAdvertising  State = "advertising"
	StateIdle         State = "idle"
	StateExecuting    State = "executing"
	StateEmergency    State = "emergency"
	StateBrainOffline State = "brain_offline"
)

// Connected reports whether s is a connected substate.
func (s State) Connected() bool {
	return s != StateAdvertising
}

func (s State) mode() indicator.Mode {
	switch s {
	case StateEmergency:
		return indicator.ModeEmergency
	case StateBrainOffline:
		return indicator.ModeBrainOffline
	case StateExecuting:
		return indicator.ModeExecuting
	case StateIdle:
		return indicator.ModeIdle
	default:
		return indicator.ModeAdvertising
	}
}

// Clock supplies the time for each tick. Tests drive it by hand.
type Clock interface {
	Now() time.Time
}

// SystemClock is the wall clock.
type SystemClock struct{}

// Now implements Clock.
func (SystemClock) Now() time.Time { return time.Now() }
