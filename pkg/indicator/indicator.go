// Package indicator maps the controller state to the status LED.
//
// Render is a pure function of the operational mode, an optional brain
// override and the animation phase. Output turns the rendered state into
// the RGB value for one instant.
package indicator

import (
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"
)

// Mode is the controller state the indicator reflects.
type Mode string

// Modes, in the order they are checked by Render.
const (
	ModeEmergency    Mode = "emergency"
	ModeBrainOffline Mode = "brain_offline"
	ModeAdvertising  Mode = "advertising"
	ModeIdle         Mode = "idle"
	ModeExecuting    Mode = "executing"
)

// Pattern is the LED animation.
type Pattern string

// Patterns.
const (
	PatternSolid   Pattern = "solid"
	PatternBlink   Pattern = "blink"
	PatternBreathe Pattern = "breathe"
)

// RGB is an 8-bit color.
type RGB struct {
	R uint8 `json:"r"`
	G uint8 `json:"g"`
	B uint8 `json:"b"`
}

// Named colors.
var (
	Black = RGB{}
	Red   = RGB{255, 0, 0}
	Green = RGB{0, 255, 0}
	Blue  = RGB{0, 0, 255}
	Amber = RGB{255, 160, 0}
	White = RGB{255, 255, 255}
)

var namedColors = map[string]RGB{
	"off":    Black,
	"black":  Black,
	"red":    Red,
	"green":  Green,
	"blue":   Blue,
	"amber":  Amber,
	"orange": {255, 100, 0},
	"yellow": {255, 220, 0},
	"white":  White,
	"purple": {160, 0, 255},
	"cyan":   {0, 255, 255},
	"pink":   {255, 80, 160},
}

// ErrBadColor is returned by ParseColor.
var ErrBadColor = errors.New("indicator: unrecognized color")

// State is the rendered indicator.
type State struct {
	Mode       Mode    `json:"mode"`
	Color      RGB     `json:"color"`
	Pattern    Pattern `json:"pattern"`
	Hz         float64 `json:"hz,omitempty"`
	Brightness float64 `json:"brightness"` // 0..1
	Override   bool    `json:"override"`
	// Phase is the time since the indicator entered this state.
	Phase time.Duration `json:"-"`
}

// Action is a brain light command.
type Action string

// Light actions.
const (
	ActionOn    Action = "on"
	ActionOff   Action = "off"
	ActionBlink Action = "blink"
)

// Override is the brain-requested light, honored only in Idle.
type Override struct {
	Action    Action
	Color     RGB
	Intensity int // 0..100
}

// Render returns the indicator state for mode at the given animation phase.
// Safety states always win; an override only shows while idle.
func Render(mode Mode, override *Override, phase time.Duration) State {
	st := render(mode, override)
	st.Phase = phase
	return st
}

func render(mode Mode, override *Override) State {
	switch mode {
	case ModeEmergency:
		return State{Mode: mode, Color: Red, Pattern: PatternBlink, Hz: 2, Brightness: 1}
	case ModeBrainOffline:
		return State{Mode: mode, Color: Amber, Pattern: PatternBreathe, Hz: 1, Brightness: 1}
	case ModeAdvertising:
		return State{Mode: mode, Color: Blue, Pattern: PatternBlink, Hz: 0.5, Brightness: 0.3}
	case ModeExecuting:
		return State{Mode: mode, Color: Green, Pattern: PatternSolid, Brightness: 1}
	}

	if override != nil {
		st := State{Mode: mode, Color: override.Color, Pattern: PatternSolid, Override: true,
			Brightness: float64(clampPct(override.Intensity)) / 100}
		switch override.Action {
		case ActionOff:
			st.Color = Black
			st.Brightness = 0
		case ActionBlink:
			st.Pattern = PatternBlink
			st.Hz = 1
		}
		return st
	}
	return State{Mode: ModeIdle, Color: Blue, Pattern: PatternBreathe, Hz: 0.25, Brightness: 1}
}

// Output returns the color to show at s.Phase.
func (s State) Output() RGB {
	phase := s.Phase
	level := s.Brightness
	switch s.Pattern {
	case PatternBlink:
		if s.Hz > 0 {
			period := time.Duration(float64(time.Second) / s.Hz)
			if phase%period >= period/2 {
				level = 0
			}
		}
	case PatternBreathe:
		if s.Hz > 0 {
			// raised cosine, dark at phase 0
			x := 2 * math.Pi * s.Hz * phase.Seconds()
			level *= (1 - math.Cos(x)) / 2
		}
	}
	return scale(s.Color, level)
}

// ParseColor accepts a color name or "rgb(r,g,b)".
func ParseColor(s string) (RGB, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	if c, ok := namedColors[s]; ok {
		return c, nil
	}
	if strings.HasPrefix(s, "rgb(") && strings.HasSuffix(s, ")") {
		parts := strings.Split(s[4:len(s)-1], ",")
		if len(parts) != 3 {
			return RGB{}, fmt.Errorf("%w: %q", ErrBadColor, s)
		}
		var v [3]uint8
		for i, p := range parts {
			n, err := strconv.Atoi(strings.TrimSpace(p))
			if err != nil || n < 0 || n > 255 {
				return RGB{}, fmt.Errorf("%w: %q", ErrBadColor, s)
			}
			v[i] = uint8(n)
		}
		return RGB{v[0], v[1], v[2]}, nil
	}
	return RGB{}, fmt.Errorf("%w: %q", ErrBadColor, s)
}

func scale(c RGB, level float64) RGB {
	if level <= 0 {
		return Black
	}
	if level >= 1 {
		return c
	}
	return RGB{
		R: uint8(math.Round(float64(c.R) * level)),
		G: uint8(math.Round(float64(c.G) * level)),
		B: uint8(math.Round(float64(c.B) * level)),
	}
}

func clampPct(v int) int {
	if v < 0 {
		return 0
	}
	if v > 100 {
		return 100
	}
	return v
}

// SameLook reports whether two states render the same animation, ignoring
// the phase.
func (s State) SameLook(o State) bool {
	s.Phase, o.Phase = 0, 0
	return s == o
}
