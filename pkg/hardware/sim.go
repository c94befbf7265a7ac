package hardware

import (
	"sync"

	"github.com/teslashibe/go-body/pkg/safety"
)

// SimBoard is an in-memory board. Readings and faults are injected by
// tests, the dashboard or the CLI; outputs are recorded.
type SimBoard struct {
	mu sync.Mutex

	reading safety.Reading
	hasRead bool

	left, right int
	rgb         [3]uint8

	driveErr error
	lightErr error

	driveWrites int
	lightWrites int
}

// NewSimBoard creates a board that starts with the given reading.
func NewSimBoard(initial safety.Reading) *SimBoard {
	return &SimBoard{reading: initial.Clone(), hasRead: initial.Valid}
}

// SetReading replaces the current sensor reading.
func (s *SimBoard) SetReading(r safety.Reading) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.reading = r.Clone()
	s.hasRead = true
}

// FailDrive makes every following SetSpeeds return err (nil heals).
func (s *SimBoard) FailDrive(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.driveErr = err
}

// FailLight makes every following SetRGB return err (nil heals).
func (s *SimBoard) FailLight(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lightErr = err
}

// Latest implements Sensors.
func (s *SimBoard) Latest() (safety.Reading, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.reading.Clone(), s.hasRead
}

// SetSpeeds implements Drive.
func (s *SimBoard) SetSpeeds(left, right int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.driveErr != nil {
		return s.driveErr
	}
	s.left, s.right = left, right
	s.driveWrites++
	return nil
}

// SetRGB implements Light.
func (s *SimBoard) SetRGB(r, g, b uint8) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.lightErr != nil {
		return s.lightErr
	}
	s.rgb = [3]uint8{r, g, b}
	s.lightWrites++
	return nil
}

// Speeds returns the last wheel speeds written.
func (s *SimBoard) Speeds() (left, right int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.left, s.right
}

// RGB returns the last LED color written.
func (s *SimBoard) RGB() [3]uint8 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.rgb
}

// Writes returns how many drive and light writes succeeded.
func (s *SimBoard) Writes() (drive, light int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.driveWrites, s.lightWrites
}

// Close implements Board.
func (s *SimBoard) Close() error { return nil }
