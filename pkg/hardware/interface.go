// Package hardware provides the motor, sensor and LED drivers used by the
// body controller.
//
// Like the rest of the controller it follows the Interface Segregation
// Principle: the control loop depends on the small interfaces below, and a
// board implements whichever it supports.
package hardware

import (
	"errors"

	"github.com/teslashibe/go-body/pkg/safety"
)

// Drive sets the wheel speeds in percent, -100..100.
type Drive interface {
	SetSpeeds(left, right int) error
}

// Sensors provides the latest safety reading. ok is false until the board
// produced its first sample.
type Sensors interface {
	Latest() (r safety.Reading, ok bool)
}

// Light sets the status LED color.
type Light interface {
	SetRGB(r, g, b uint8) error
}

// Board is the composite interface of a full body board.
type Board interface {
	Drive
	Sensors
	Light
	Close() error
}

// ErrClosed indicates the board was closed.
var ErrClosed = errors.New("hardware: board closed")

var (
	_ Board = (*SimBoard)(nil)
	_ Board = (*SerialBoard)(nil)
)
