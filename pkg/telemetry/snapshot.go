// Package telemetry builds status reports and decides when to send them.
package telemetry

import (
	"runtime"
	"time"

	"github.com/teslashibe/go-body/pkg/heartbeat"
	"github.com/teslashibe/go-body/pkg/indicator"
	"github.com/teslashibe/go-body/pkg/motion"
	"github.com/teslashibe/go-body/pkg/protocol"
	"github.com/teslashibe/go-body/pkg/safety"
)

// Snapshot is a read-only view of the controller at one instant. It is
// built fresh for every emission and never mutated afterwards.
type Snapshot struct {
	At         time.Time
	Started    time.Time
	State      string
	Reason     safety.Reason
	Reading    safety.Reading
	LowBattery bool
	Target     motion.Speeds
	Actual     motion.Speeds
	Progress   *motion.Progress
	Indicator  indicator.State
	Heartbeat  heartbeat.Status
	FreeMemory uint64
}

// Uptime returns the time since the controller started.
func (s Snapshot) Uptime() time.Duration {
	return s.At.Sub(s.Started)
}

// Message renders the snapshot for the wire. section selects which parts
// are included; state, reason, uptime and free memory are always present.
func (s Snapshot) Message(section protocol.Section) protocol.Telemetry {
	t := protocol.Telemetry{
		Type:       protocol.TypeTelemetry,
		Timestamp:  s.At.UnixMilli(),
		State:      s.State,
		Reason:     string(s.Reason),
		Uptime:     int64(s.Uptime() / time.Second),
		FreeMemory: s.FreeMemory,
	}

	all := section == protocol.SectionAll
	if all || section == protocol.SectionBattery {
		t.Battery = &protocol.BatterySection{Pct: s.Reading.BatteryPct, Low: s.LowBattery}
	}
	if all || section == protocol.SectionSensors {
		t.Sensors = &protocol.SensorsSection{
			FrontCM: s.Reading.DistanceFrontCM,
			RearCM:  s.Reading.DistanceRearCM,
			Cliffs:  s.Reading.Cliffs(),
		}
	}
	if all || section == protocol.SectionStatus {
		out := s.Indicator.Output()
		t.Motors = &protocol.MotorsSection{Left: s.Actual.Left, Right: s.Actual.Right}
		t.LEDs = &protocol.LEDSection{R: out.R, G: out.G, B: out.B, Pattern: string(s.Indicator.Pattern)}
		t.Heartbeat = &protocol.HeartbeatSection{
			LastReceivedMS: s.Heartbeat.SinceLast.Milliseconds(),
			BrainOnline:    s.Heartbeat.Online,
		}
		if s.Progress != nil {
			t.Sequence = &protocol.SequenceSection{
				Step:      s.Progress.Step,
				Steps:     s.Progress.Steps,
				ElapsedMS: s.Progress.Elapsed.Milliseconds(),
			}
		}
	}
	return t
}

// FreeMemory estimates the memory the process can still use without
// growing the heap: reserved from the OS but not allocated to live objects.
func FreeMemory() uint64 {
	var ms runtime.MemStats
	runtime.ReadMemStats(&ms)
	if ms.Sys < ms.HeapAlloc {
		return 0
	}
	return ms.Sys - ms.HeapAlloc
}
