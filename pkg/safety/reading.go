package safety

import (
	mapset "github.com/deckarep/golang-set/v2"
)

// Cliff sensor IDs reported by the reference board.
const (
	CliffFrontLeft  = "front_left"
	CliffFrontRight = "front_right"
	CliffRearLeft   = "rear_left"
	CliffRearRight  = "rear_right"
)

// CliffSensors lists the cliff sensor IDs in bit order (bit 0 first).
var CliffSensors = []string{CliffFrontLeft, CliffFrontRight, CliffRearLeft, CliffRearRight}

// Reading is one poll of the safety sensors. Treat it as immutable once
// built; use NewReading or Clone so the cliff set is never shared.
type Reading struct {
	Valid           bool // false until the board produced a first sample
	CliffFlags      mapset.Set[string]
	DistanceFrontCM int
	DistanceRearCM  int
	BatteryPct      int
}

// NewReading builds a valid reading with the given tripped cliff sensors.
func NewReading(frontCM, rearCM, batteryPct int, cliffs ...string) Reading {
	return Reading{
		Valid:           true,
		CliffFlags:      mapset.NewThreadUnsafeSet(cliffs...),
		DistanceFrontCM: frontCM,
		DistanceRearCM:  rearCM,
		BatteryPct:      batteryPct,
	}
}

// ReadingFromMask decodes a cliff bit mask (bit i = CliffSensors[i]).
func ReadingFromMask(frontCM, rearCM, batteryPct int, mask uint8) Reading {
	var cliffs []string
	for i, id := range CliffSensors {
		if mask&(1<<i) != 0 {
			cliffs = append(cliffs, id)
		}
	}
	return NewReading(frontCM, rearCM, batteryPct, cliffs...)
}

// Clone returns a deep copy.
func (r Reading) Clone() Reading {
	out := r
	if r.CliffFlags != nil {
		out.CliffFlags = r.CliffFlags.Clone()
	}
	return out
}

// HasCliff reports whether any cliff sensor is tripped.
func (r Reading) HasCliff() bool {
	return r.CliffFlags != nil && r.CliffFlags.Cardinality() > 0
}

// Cliffs returns the tripped sensor IDs in a stable order.
func (r Reading) Cliffs() []string {
	out := []string{}
	if r.CliffFlags == nil {
		return out
	}
	for _, id := range CliffSensors {
		if r.CliffFlags.Contains(id) {
			out = append(out, id)
		}
	}
	// unknown IDs from non-reference boards go last
	for _, id := range mapset.Sorted(r.CliffFlags) {
		if !r.knownCliff(id) {
			out = append(out, id)
		}
	}
	return out
}

func (r Reading) knownCliff(id string) bool {
	for _, known := range CliffSensors {
		if known == id {
			return true
		}
	}
	return false
}
