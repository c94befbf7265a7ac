package protocol

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/teslashibe/go-body/pkg/motion"
)

// =============================================================================
// Helper functions for building brain → body messages
// =============================================================================

// NewMoveMessage encodes a move command. A zero duration is omitted.
func NewMoveMessage(id string, dir motion.Direction, speed int, duration time.Duration) ([]byte, error) {
	msg := map[string]any{
		"type":      TypeMove,
		"direction": dir,
		"speed":     speed,
	}
	if duration > 0 {
		msg["duration"] = duration.Milliseconds()
	}
	return encode(id, msg)
}

// NewSequenceMessage encodes a move_sequence command.
func NewSequenceMessage(id string, steps []motion.Step, description string) ([]byte, error) {
	wire := make([]map[string]any, 0, len(steps))
	var total time.Duration
	for _, s := range steps {
		wire = append(wire, map[string]any{
			"direction":   s.Direction,
			"speed":       s.Speed,
			"duration_ms": s.Duration.Milliseconds(),
		})
		total += s.Duration
	}
	msg := map[string]any{
		"type":              TypeMoveSequence,
		"total_duration_ms": total.Milliseconds(),
		"steps":             wire,
	}
	if description != "" {
		msg["description"] = description
	}
	return encode(id, msg)
}

// NewStopMessage encodes a stop command.
func NewStopMessage(id string) ([]byte, error) {
	return encode(id, map[string]any{"type": TypeStop})
}

// NewResetMessage encodes an emergency acknowledgement.
func NewResetMessage(id string) ([]byte, error) {
	return encode(id, map[string]any{"type": TypeReset})
}

// NewLightMessage encodes a light command. color is a name or "rgb(r,g,b)".
func NewLightMessage(id, action, color string, intensity int) ([]byte, error) {
	msg := map[string]any{
		"type":      TypeLight,
		"action":    action,
		"intensity": intensity,
	}
	if color != "" {
		msg["color"] = color
	}
	return encode(id, msg)
}

// NewTelemetryRequest encodes a telemetry request.
func NewTelemetryRequest(id string, section Section) ([]byte, error) {
	msg := map[string]any{"type": TypeTelemetry}
	if section != SectionAll {
		msg["request"] = section
	}
	return encode(id, msg)
}

// NewHeartbeatMessage encodes a heartbeat stamped with ts.
func NewHeartbeatMessage(ts time.Time) ([]byte, error) {
	return json.Marshal(map[string]any{
		"type":      TypeHeartbeat,
		"timestamp": ts.UnixMilli(),
	})
}

func encode(id string, msg map[string]any) ([]byte, error) {
	if id != "" {
		msg["command_id"] = id
	}
	data, err := json.Marshal(msg)
	if err != nil {
		return nil, fmt.Errorf("protocol: encode %v: %w", msg["type"], err)
	}
	if len(data) > MaxPayload {
		return nil, fmt.Errorf("%w: %d bytes", ErrTooLarge, len(data))
	}
	return data, nil
}
