// Package heartbeat implements the dead-man's switch for the brain link.
//
// The brain proves liveness by sending a heartbeat roughly every second.
// The Supervisor only tracks when the last one arrived; whether the brain
// is online is derived from elapsed time, never stored.
package heartbeat

import "time"

// DefaultTimeout is the silence window after which the brain is offline.
// With a 1s cadence one missed heartbeat is tolerated, two are not.
const DefaultTimeout = 3000 * time.Millisecond

// Status is the heartbeat view exposed to telemetry.
type Status struct {
	LastReceived    time.Time
	SinceLast       time.Duration
	RemoteTimestamp int64 // unix ms as sent by the brain, 0 if none yet
	Online          bool
}

// Supervisor tracks heartbeat freshness. It is owned by the control loop
// and is not safe for concurrent use.
type Supervisor struct {
	timeout      time.Duration
	lastReceived time.Time
	remoteTS     int64
	count        uint64
}

// NewSupervisor creates a supervisor whose clock starts at start, usually
// the moment the peer connected. The brain therefore has one full timeout
// to send its first heartbeat.
func NewSupervisor(timeout time.Duration, start time.Time) *Supervisor {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Supervisor{
		timeout:      timeout,
		lastReceived: start,
	}
}

// Record marks a heartbeat received at ts. The remote timestamp is kept for
// reporting only and has no effect on liveness.
func (s *Supervisor) Record(ts time.Time, remoteTS int64) {
	if ts.After(s.lastReceived) {
		s.lastReceived = ts
	}
	s.remoteTS = remoteTS
	s.count++
}

// IsOnline reports whether less than the timeout has elapsed since the last
// heartbeat.
func (s *Supervisor) IsOnline(now time.Time) bool {
	return now.Sub(s.lastReceived) < s.timeout
}

// Status returns a snapshot for telemetry.
func (s *Supervisor) Status(now time.Time) Status {
	return Status{
		LastReceived:    s.lastReceived,
		SinceLast:       now.Sub(s.lastReceived),
		RemoteTimestamp: s.remoteTS,
		Online:          s.IsOnline(now),
	}
}

// Count returns how many heartbeats were recorded.
func (s *Supervisor) Count() uint64 {
	return s.count
}

// Timeout returns the configured silence window.
func (s *Supervisor) Timeout() time.Duration {
	return s.timeout
}
