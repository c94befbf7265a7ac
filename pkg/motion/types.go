// Package motion converts drive commands into ramped left/right wheel speeds.
//
// A command is either a single move or a sequence of timed steps. The latest
// command always replaces the previous one. Every tick the actual wheel
// speeds move toward the target by at most one ramp step, so the motors
// never see a torque jump.
package motion

import (
	"fmt"
	"time"
)

// Direction is a drive direction.
type Direction string

// Directions. DirNone means no motion is intended.
const (
	DirNone     Direction = ""
	DirForward  Direction = "forward"
	DirBackward Direction = "backward"
	DirLeft     Direction = "left"
	DirRight    Direction = "right"
	DirStop     Direction = "stop"
	DirPause    Direction = "pause" // hold still for the step duration
)

// Speed limits in percent.
const (
	MaxSpeed = 100
	MinSpeed = -100
)

// ParseDirection validates a wire direction.
func ParseDirection(s string) (Direction, error) {
	switch d := Direction(s); d {
	case DirForward, DirBackward, DirLeft, DirRight, DirStop, DirPause:
		return d, nil
	default:
		return DirNone, fmt.Errorf("motion: unknown direction %q", s)
	}
}

// Moving reports whether the direction drives the wheels.
func (d Direction) Moving() bool {
	switch d {
	case DirForward, DirBackward, DirLeft, DirRight:
		return true
	}
	return false
}

// Speeds is a per-side speed in percent, negative is reverse.
type Speeds struct {
	Left  int `json:"left"`
	Right int `json:"right"`
}

// Zero reports whether both sides are stopped.
func (s Speeds) Zero() bool {
	return s.Left == 0 && s.Right == 0
}

// Speeds maps a direction and magnitude onto differential drive:
// forward (+,+), backward (-,-), left (-,+), right (+,-).
func (d Direction) Speeds(pct int) Speeds {
	pct = clamp(pct, 0, MaxSpeed)
	switch d {
	case DirForward:
		return Speeds{Left: pct, Right: pct}
	case DirBackward:
		return Speeds{Left: -pct, Right: -pct}
	case DirLeft:
		return Speeds{Left: -pct, Right: pct}
	case DirRight:
		return Speeds{Left: pct, Right: -pct}
	default:
		return Speeds{}
	}
}

// Step is one timed segment of motion.
type Step struct {
	Direction Direction
	Speed     int           // 0..100
	Duration  time.Duration // 0 with Continuous unset completes at once
	// Continuous steps run until replaced or cancelled. Only single moves
	// without a duration are continuous.
	Continuous bool
}

// Command is what the motion controller executes: one or more steps.
type Command struct {
	Steps []Step
	// Total is the server supplied total duration; reported, not recomputed.
	Total time.Duration
	Label string
	// Sequence is false for single moves.
	Sequence bool
}

// Single builds a single move. A zero duration runs until stopped.
func Single(dir Direction, speed int, duration time.Duration) Command {
	return Command{
		Steps: []Step{{
			Direction:  dir,
			Speed:      speed,
			Duration:   duration,
			Continuous: duration <= 0,
		}},
		Total: duration,
		Label: string(dir),
	}
}

// NewSequence builds a multi-step command.
func NewSequence(steps []Step, total time.Duration, label string) Command {
	return Command{
		Steps:    steps,
		Total:    total,
		Label:    label,
		Sequence: true,
	}
}

// FirstDirection returns the direction of the first moving step, used for
// the safety check before a command is accepted.
func (c Command) FirstDirection() Direction {
	for _, s := range c.Steps {
		if s.Direction.Moving() {
			return s.Direction
		}
	}
	return DirNone
}

// Progress describes the active command for telemetry.
type Progress struct {
	Label    string
	Sequence bool
	Step     int // zero based
	Steps    int
	Elapsed  time.Duration
	Total    time.Duration
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// clampStep limits delta to +/- maxStep.
func clampStep(delta, maxStep int) int {
	if delta > maxStep {
		return maxStep
	}
	if delta < -maxStep {
		return -maxStep
	}
	return delta
}
