package web

import (
	"github.com/teslashibe/go-body/pkg/indicator"
	"github.com/teslashibe/go-body/pkg/motion"
	"github.com/teslashibe/go-body/pkg/telemetry"
)

// Status is the dashboard view of a controller snapshot.
type Status struct {
	State      string `json:"state"`
	Reason     string `json:"reason,omitempty"`
	Timestamp  int64  `json:"timestamp"` // unix ms
	UptimeSec  int64  `json:"uptime_sec"`
	FreeMemory uint64 `json:"free_memory"`

	Sensors SensorStatus  `json:"sensors"`
	Target  motion.Speeds `json:"target"`
	Actual  motion.Speeds `json:"actual"`

	Sequence  *SequenceStatus `json:"sequence,omitempty"`
	Indicator IndicatorStatus `json:"indicator"`

	BrainOnline      bool  `json:"brain_online"`
	SinceHeartbeatMS int64 `json:"since_heartbeat_ms"`
}

// SensorStatus reports the safety sensors.
type SensorStatus struct {
	Valid      bool     `json:"valid"`
	FrontCM    int      `json:"front_cm"`
	RearCM     int      `json:"rear_cm"`
	BatteryPct int      `json:"battery_pct"`
	LowBattery bool     `json:"low_battery"`
	Cliffs     []string `json:"cliffs"`
}

// SequenceStatus reports the active command.
type SequenceStatus struct {
	Label     string `json:"label,omitempty"`
	Sequence  bool   `json:"sequence"`
	Step      int    `json:"step"`
	Steps     int    `json:"steps"`
	ElapsedMS int64  `json:"elapsed_ms"`
	TotalMS   int64  `json:"total_ms"`
}

// IndicatorStatus is the rendered light plus its current output color.
type IndicatorStatus struct {
	indicator.State
	Output indicator.RGB `json:"output"`
}

// NewStatus converts a snapshot.
func NewStatus(s telemetry.Snapshot) Status {
	st := Status{
		State:      s.State,
		Reason:     string(s.Reason),
		Timestamp:  s.At.UnixMilli(),
		UptimeSec:  int64(s.Uptime().Seconds()),
		FreeMemory: s.FreeMemory,
		Sensors: SensorStatus{
			Valid:      s.Reading.Valid,
			FrontCM:    s.Reading.DistanceFrontCM,
			RearCM:     s.Reading.DistanceRearCM,
			BatteryPct: s.Reading.BatteryPct,
			LowBattery: s.LowBattery,
			Cliffs:     s.Reading.Cliffs(),
		},
		Target:           s.Target,
		Actual:           s.Actual,
		Indicator:        IndicatorStatus{State: s.Indicator, Output: s.Indicator.Output()},
		BrainOnline:      s.Heartbeat.Online,
		SinceHeartbeatMS: s.Heartbeat.SinceLast.Milliseconds(),
	}
	if p := s.Progress; p != nil {
		st.Sequence = &SequenceStatus{
			Label:     p.Label,
			Sequence:  p.Sequence,
			Step:      p.Step,
			Steps:     p.Steps,
			ElapsedMS: p.Elapsed.Milliseconds(),
			TotalMS:   p.Total.Milliseconds(),
		}
	}
	return st
}
