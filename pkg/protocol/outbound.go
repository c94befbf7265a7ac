package protocol

import (
	"encoding/json"
	"errors"
	"fmt"
)

// Ack statuses.
const (
	StatusOK    = "ok"
	StatusError = "error"
)

// =============================================================================
// Body → Brain Message Types
// =============================================================================

// Ack answers every command except heartbeats and telemetry requests.
type Ack struct {
	Status    string `json:"status"`
	CommandID string `json:"command_id"`
	ErrorMsg  string `json:"error_msg,omitempty"`
}

// OK reports whether the ack is positive.
func (a Ack) OK() bool { return a.Status == StatusOK }

// Telemetry is the status report pushed to the brain. Sections are
// omitted when not selected.
type Telemetry struct {
	Type       MessageType       `json:"type"`
	Timestamp  int64             `json:"timestamp"` // unix ms
	State      string            `json:"state"`
	Reason     string            `json:"reason,omitempty"`
	Battery    *BatterySection   `json:"battery,omitempty"`
	Sensors    *SensorsSection   `json:"sensors,omitempty"`
	Motors     *MotorsSection    `json:"motors,omitempty"`
	LEDs       *LEDSection       `json:"leds,omitempty"`
	Heartbeat  *HeartbeatSection `json:"heartbeat,omitempty"`
	Sequence   *SequenceSection  `json:"sequence,omitempty"`
	Uptime     int64             `json:"uptime"`      // seconds
	FreeMemory uint64            `json:"free_memory"` // bytes
}

// BatterySection reports charge.
type BatterySection struct {
	Pct int  `json:"pct"`
	Low bool `json:"low"`
}

// SensorsSection reports the safety sensors.
type SensorsSection struct {
	FrontCM int      `json:"front_cm"`
	RearCM  int      `json:"rear_cm"`
	Cliffs  []string `json:"cliffs"`
}

// MotorsSection reports the actual wheel speeds.
type MotorsSection struct {
	Left  int `json:"left"`
	Right int `json:"right"`
}

// LEDSection reports the indicator output.
type LEDSection struct {
	R       uint8  `json:"r"`
	G       uint8  `json:"g"`
	B       uint8  `json:"b"`
	Pattern string `json:"pattern"`
}

// HeartbeatSection reports link liveness.
type HeartbeatSection struct {
	LastReceivedMS int64 `json:"last_received_ms"` // ms since the last heartbeat
	BrainOnline    bool  `json:"brain_online"`
}

// SequenceSection reports progress of the active command.
type SequenceSection struct {
	Step      int   `json:"step"`
	Steps     int   `json:"steps"`
	ElapsedMS int64 `json:"elapsed_ms"`
}

// =============================================================================
// Encoding
// =============================================================================

// EncodeAck returns the JSON encoding of a.
func EncodeAck(a Ack) ([]byte, error) {
	return json.Marshal(a)
}

// EncodeTelemetry encodes t within maxPayload bytes. Optional sections are
// dropped, sequence first and LEDs second, if the full report does not fit.
func EncodeTelemetry(t Telemetry, maxPayload int) ([]byte, error) {
	t.Type = TypeTelemetry
	data, err := json.Marshal(t)
	if err != nil {
		return nil, err
	}
	if len(data) <= maxPayload {
		return data, nil
	}

	t.Sequence = nil
	if data, err = json.Marshal(t); err != nil || len(data) <= maxPayload {
		return data, err
	}
	t.LEDs = nil
	if data, err = json.Marshal(t); err != nil || len(data) <= maxPayload {
		return data, err
	}
	return nil, fmt.Errorf("%w: telemetry is %d bytes", ErrTooLarge, len(data))
}

// Outbound is a decoded body → brain message, used by brain-side clients.
// Exactly one field is set.
type Outbound struct {
	Ack       *Ack
	Telemetry *Telemetry
}

// DecodeOutbound parses a body → brain message.
func DecodeOutbound(data []byte) (Outbound, error) {
	var probe struct {
		Type   string `json:"type"`
		Status string `json:"status"`
	}
	if err := json.Unmarshal(data, &probe); err != nil {
		return Outbound{}, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	switch {
	case probe.Type == string(TypeTelemetry):
		var t Telemetry
		if err := json.Unmarshal(data, &t); err != nil {
			return Outbound{}, fmt.Errorf("%w: %v", ErrMalformed, err)
		}
		return Outbound{Telemetry: &t}, nil
	case probe.Status != "":
		var a Ack
		if err := json.Unmarshal(data, &a); err != nil {
			return Outbound{}, fmt.Errorf("%w: %v", ErrMalformed, err)
		}
		return Outbound{Ack: &a}, nil
	}
	return Outbound{}, errors.Join(ErrMalformed, ErrUnknownType)
}
