// Package safety evaluates sensor readings against fixed thresholds.
//
// The monitor is purely reactive: it has no model of the world, only the
// latest reading and the direction the robot intends to move.
package safety

import "github.com/teslashibe/go-body/pkg/motion"

// Reason explains a Stop verdict. It is sent verbatim in telemetry.
type Reason string

// Stop reasons.
const (
	ReasonNone              Reason = ""
	ReasonSensorUnavailable Reason = "sensor_unavailable"
	ReasonCliff             Reason = "cliff"
	ReasonFrontObstacle     Reason = "front_obstacle"
	ReasonRearObstacle      Reason = "rear_obstacle"
	ReasonCriticalBattery   Reason = "critical_battery"
)

// Verdict is the result of one evaluation.
type Verdict struct {
	Stop   bool
	Reason Reason
}

// OK reports whether motion may continue.
func (v Verdict) OK() bool { return !v.Stop }

// Ok is the verdict that allows motion.
func Ok() Verdict { return Verdict{} }

// StopFor returns a stop verdict with the given reason.
func StopFor(r Reason) Verdict { return Verdict{Stop: true, Reason: r} }

// Thresholds configures the monitor.
type Thresholds struct {
	DistanceCM         int // obstacle distance, exclusive
	LowBatteryPct      int // below this the speed cap applies
	CriticalBatteryPct int // below this motion stops and latches
	LowBatterySpeedCap int // percent
}

// DefaultThresholds returns the reference thresholds.
func DefaultThresholds() Thresholds {
	return Thresholds{
		DistanceCM:         10,
		LowBatteryPct:      10,
		CriticalBatteryPct: 5,
		LowBatterySpeedCap: 50,
	}
}

// Monitor evaluates readings. The only state it carries across ticks is
// the low-battery flag and the critical-battery latch. Owned by the control
// loop; not safe for concurrent use.
type Monitor struct {
	th         Thresholds
	lowBattery bool
	latched    bool
}

// NewMonitor creates a monitor.
func NewMonitor(th Thresholds) *Monitor {
	return &Monitor{th: th}
}

// Thresholds returns the configured thresholds.
func (m *Monitor) Thresholds() Thresholds { return m.th }

// Evaluate checks r for the intended direction. Only the first matching
// reason is reported, in this order: sensor unavailable, cliff, front
// obstacle (forward only), rear obstacle (backward only), critical battery.
func (m *Monitor) Evaluate(r Reading, dir motion.Direction) Verdict {
	if !r.Valid {
		return StopFor(ReasonSensorUnavailable)
	}

	m.lowBattery = r.BatteryPct < m.th.LowBatteryPct
	if r.BatteryPct < m.th.CriticalBatteryPct {
		m.latched = true
	}

	switch {
	case r.HasCliff():
		return StopFor(ReasonCliff)
	case dir == motion.DirForward && r.DistanceFrontCM < m.th.DistanceCM:
		return StopFor(ReasonFrontObstacle)
	case dir == motion.DirBackward && r.DistanceRearCM < m.th.DistanceCM:
		return StopFor(ReasonRearObstacle)
	case m.latched:
		return StopFor(ReasonCriticalBattery)
	}
	return Ok()
}

// SpeedCap returns the maximum allowed speed in percent: the low-battery
// cap while the battery is low, MaxSpeed otherwise.
func (m *Monitor) SpeedCap() int {
	if m.lowBattery {
		return m.th.LowBatterySpeedCap
	}
	return motion.MaxSpeed
}

// LowBattery reports whether the last valid reading was below the low
// battery bound.
func (m *Monitor) LowBattery() bool { return m.lowBattery }

// Latched reports whether the critical-battery latch is set.
func (m *Monitor) Latched() bool { return m.latched }

// Acknowledge clears the critical-battery latch if r shows the battery back
// at or above the critical bound. It returns false while the latch must
// stay set.
func (m *Monitor) Acknowledge(r Reading) bool {
	if !m.latched {
		return true
	}
	if !r.Valid || r.BatteryPct < m.th.CriticalBatteryPct {
		return false
	}
	m.latched = false
	return true
}

// Cleared reports whether the condition behind a stop for reason no longer
// holds in r. An obstacle stop clears once that side reads at or beyond the
// distance threshold.
func (m *Monitor) Cleared(reason Reason, r Reading) bool {
	if !r.Valid {
		return false
	}
	switch reason {
	case ReasonCliff:
		return !r.HasCliff()
	case ReasonFrontObstacle:
		return r.DistanceFrontCM >= m.th.DistanceCM
	case ReasonRearObstacle:
		return r.DistanceRearCM >= m.th.DistanceCM
	case ReasonCriticalBattery:
		return r.BatteryPct >= m.th.CriticalBatteryPct
	default:
		return true
	}
}
