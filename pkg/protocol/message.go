// Package protocol defines the JSON messages exchanged between the brain
// and the body over the link.
//
// Inbound commands are decoded strictly: wrong types, unknown message types,
// missing required fields and out-of-range values reject the whole message.
// Unknown fields are tolerated.
package protocol

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/teslashibe/go-body/pkg/indicator"
	"github.com/teslashibe/go-body/pkg/motion"
)

// MaxPayload is the largest message the link carries, in bytes.
const MaxPayload = 512

// MessageType identifies a message.
type MessageType string

const (
	// Brain → Body
	TypeMove         MessageType = "move"
	TypeMoveSequence MessageType = "move_sequence"
	TypeStop         MessageType = "stop"
	TypeLight        MessageType = "light"
	TypeTelemetry    MessageType = "telemetry"
	TypeHeartbeat    MessageType = "heartbeat"
	TypeReset        MessageType = "reset"
)

// Command is a decoded inbound message.
type Command interface {
	Type() MessageType
	// ID returns the brain supplied command_id, empty if none was sent.
	ID() string
}

// Header carries the fields common to every command.
type Header struct {
	CommandID string
}

// ID implements Command.
func (h Header) ID() string { return h.CommandID }

// =============================================================================
// Brain → Body Command Types
// =============================================================================

// Move drives in one direction. A zero Duration runs until stopped.
type Move struct {
	Header
	Direction motion.Direction
	Speed     int
	Duration  time.Duration
}

// Type implements Command.
func (Move) Type() MessageType { return TypeMove }

// Motion converts the move for the motion controller.
func (m Move) Motion() motion.Command {
	return motion.Single(m.Direction, m.Speed, m.Duration)
}

// MoveSequence runs timed steps in order.
type MoveSequence struct {
	Header
	Steps         []motion.Step
	Total         time.Duration
	Description   string
	EmotionDuring string
}

// Type implements Command.
func (MoveSequence) Type() MessageType { return TypeMoveSequence }

// Motion converts the sequence for the motion controller.
func (s MoveSequence) Motion() motion.Command {
	label := s.Description
	if label == "" {
		label = s.EmotionDuring
	}
	return motion.NewSequence(s.Steps, s.Total, label)
}

// Stop cancels any motion.
type Stop struct{ Header }

// Type implements Command.
func (Stop) Type() MessageType { return TypeStop }

// Light sets the indicator override.
type Light struct {
	Header
	Action    indicator.Action
	Color     indicator.RGB
	Intensity int
}

// Type implements Command.
func (Light) Type() MessageType { return TypeLight }

// Override converts the command for the indicator.
func (l Light) Override() *indicator.Override {
	return &indicator.Override{Action: l.Action, Color: l.Color, Intensity: l.Intensity}
}

// Section selects part of a telemetry report.
type Section string

// Telemetry sections. SectionAll is used when the request names none.
const (
	SectionAll     Section = ""
	SectionSensors Section = "sensors"
	SectionBattery Section = "battery"
	SectionStatus  Section = "status"
)

// TelemetryRequest asks for an immediate telemetry report.
type TelemetryRequest struct {
	Header
	Request Section
}

// Type implements Command.
func (TelemetryRequest) Type() MessageType { return TypeTelemetry }

// Heartbeat proves the brain is alive. Timestamp is informational.
type Heartbeat struct {
	Header
	Timestamp int64
}

// Type implements Command.
func (Heartbeat) Type() MessageType { return TypeHeartbeat }

// Reset acknowledges an emergency.
type Reset struct{ Header }

// Type implements Command.
func (Reset) Type() MessageType { return TypeReset }

// =============================================================================
// Wire structs. Pointer fields distinguish "absent" from zero.
// =============================================================================

type envelope struct {
	Type      *string `json:"type"`
	CommandID *string `json:"command_id"`
}

type moveWire struct {
	Direction *string `json:"direction"`
	Speed     *int    `json:"speed"`
	Duration  *int64  `json:"duration"`
}

type stepWire struct {
	Direction  *string `json:"direction"`
	Speed      *int    `json:"speed"`
	DurationMS *int64  `json:"duration_ms"`
}

type sequenceWire struct {
	TotalDurationMS *int64      `json:"total_duration_ms"`
	Steps           *[]stepWire `json:"steps"`
	Description     *string     `json:"description"`
	EmotionDuring   *string     `json:"emotion_during"`
}

type lightWire struct {
	Action    *string `json:"action"`
	Color     *string `json:"color"`
	Intensity *int    `json:"intensity"`
}

type telemetryWire struct {
	Request *string `json:"request"`
}

type heartbeatWire struct {
	Timestamp *int64 `json:"timestamp"`
}

// =============================================================================
// Decoding
// =============================================================================

// Decode parses one inbound message. Every failure is a *DecodeError.
func Decode(data []byte) (Command, error) {
	return DecodeLimit(data, MaxPayload)
}

// DecodeLimit is Decode with a custom payload limit.
func DecodeLimit(data []byte, maxPayload int) (Command, error) {
	if len(data) > maxPayload {
		return nil, &DecodeError{Detail: fmt.Sprintf("%d > %d bytes", len(data), maxPayload), Err: ErrTooLarge}
	}

	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, jsonError("", err)
	}

	var id string
	if env.CommandID != nil {
		id = *env.CommandID
	}

	cmd, err := decodeBody(data, env, Header{CommandID: id})
	if err != nil {
		var de *DecodeError
		if errors.As(err, &de) {
			de.CommandID = id
			return nil, de
		}
		return nil, &DecodeError{CommandID: id, Detail: err.Error(), Err: ErrMalformed}
	}
	return cmd, nil
}

func decodeBody(data []byte, env envelope, h Header) (Command, error) {
	if env.Type == nil {
		return nil, missing("type")
	}

	switch MessageType(*env.Type) {
	case TypeMove:
		return decodeMove(data, h)
	case TypeMoveSequence:
		return decodeSequence(data, h)
	case TypeStop:
		return Stop{Header: h}, nil
	case TypeReset:
		return Reset{Header: h}, nil
	case TypeLight:
		return decodeLight(data, h)
	case TypeTelemetry:
		return decodeTelemetry(data, h)
	case TypeHeartbeat:
		var w heartbeatWire
		if err := json.Unmarshal(data, &w); err != nil {
			return nil, jsonError("", err)
		}
		hb := Heartbeat{Header: h}
		if w.Timestamp != nil {
			hb.Timestamp = *w.Timestamp
		}
		return hb, nil
	default:
		return nil, &DecodeError{Field: "type", Detail: *env.Type, Err: ErrUnknownType}
	}
}

func decodeMove(data []byte, h Header) (Command, error) {
	var w moveWire
	if err := json.Unmarshal(data, &w); err != nil {
		return nil, jsonError("", err)
	}
	dir, speed, err := decodeStep("", w.Direction, w.Speed)
	if err != nil {
		return nil, err
	}
	if dir == motion.DirPause {
		return nil, outOfRange("direction", "pause is only valid in a sequence")
	}
	m := Move{Header: h, Direction: dir, Speed: speed}
	if w.Duration != nil {
		if m.Duration, err = millis("duration", *w.Duration); err != nil {
			return nil, err
		}
	}
	return m, nil
}

func decodeSequence(data []byte, h Header) (Command, error) {
	var w sequenceWire
	if err := json.Unmarshal(data, &w); err != nil {
		return nil, jsonError("", err)
	}
	if w.Steps == nil {
		return nil, missing("steps")
	}
	if len(*w.Steps) == 0 {
		return nil, outOfRange("steps", "must not be empty")
	}

	seq := MoveSequence{Header: h}
	var sum time.Duration
	for i, sw := range *w.Steps {
		prefix := fmt.Sprintf("steps[%d].", i)
		dir, speed, err := decodeStep(prefix, sw.Direction, sw.Speed)
		if err != nil {
			return nil, err
		}
		step := motion.Step{Direction: dir, Speed: speed}
		if sw.DurationMS != nil {
			if step.Duration, err = millis(prefix+"duration_ms", *sw.DurationMS); err != nil {
				return nil, err
			}
		}
		if sum > math.MaxInt64-step.Duration {
			return nil, outOfRange("steps", "total duration overflows")
		}
		sum += step.Duration
		seq.Steps = append(seq.Steps, step)
	}

	if w.TotalDurationMS != nil {
		total, err := millis("total_duration_ms", *w.TotalDurationMS)
		if err != nil {
			return nil, err
		}
		seq.Total = total
	} else {
		seq.Total = sum
	}
	if w.Description != nil {
		seq.Description = *w.Description
	}
	if w.EmotionDuring != nil {
		seq.EmotionDuring = *w.EmotionDuring
	}
	return seq, nil
}

// MaxDurationMS bounds every duration field. Larger values would overflow
// time.Duration.
const MaxDurationMS = math.MaxInt64 / int64(time.Millisecond)

func millis(field string, ms int64) (time.Duration, error) {
	if ms < 0 {
		return 0, outOfRange(field, "must be >= 0")
	}
	if ms > MaxDurationMS {
		return 0, outOfRange(field, fmt.Sprintf("must be <= %d", MaxDurationMS))
	}
	return time.Duration(ms) * time.Millisecond, nil
}

// decodeStep validates a direction and its speed. Speed is required only
// for directions that drive the wheels.
func decodeStep(prefix string, dirField *string, speedField *int) (motion.Direction, int, error) {
	if dirField == nil {
		return motion.DirNone, 0, missing(prefix + "direction")
	}
	dir, err := motion.ParseDirection(*dirField)
	if err != nil {
		return motion.DirNone, 0, outOfRange(prefix+"direction", *dirField)
	}
	if !dir.Moving() {
		return dir, 0, nil
	}
	if speedField == nil {
		return motion.DirNone, 0, missing(prefix + "speed")
	}
	if *speedField < 0 || *speedField > motion.MaxSpeed {
		return motion.DirNone, 0, outOfRange(prefix+"speed", "must be 0-100")
	}
	return dir, *speedField, nil
}

func decodeLight(data []byte, h Header) (Command, error) {
	var w lightWire
	if err := json.Unmarshal(data, &w); err != nil {
		return nil, jsonError("", err)
	}
	if w.Action == nil {
		return nil, missing("action")
	}
	l := Light{Header: h, Action: indicator.Action(*w.Action), Color: indicator.White, Intensity: 100}
	switch l.Action {
	case indicator.ActionOn, indicator.ActionOff, indicator.ActionBlink:
	default:
		return nil, outOfRange("action", *w.Action)
	}
	if w.Color != nil {
		c, err := indicator.ParseColor(*w.Color)
		if err != nil {
			return nil, outOfRange("color", *w.Color)
		}
		l.Color = c
	}
	if w.Intensity != nil {
		if *w.Intensity < 0 || *w.Intensity > 100 {
			return nil, outOfRange("intensity", "must be 0-100")
		}
		l.Intensity = *w.Intensity
	}
	return l, nil
}

func decodeTelemetry(data []byte, h Header) (Command, error) {
	var w telemetryWire
	if err := json.Unmarshal(data, &w); err != nil {
		return nil, jsonError("", err)
	}
	req := TelemetryRequest{Header: h}
	if w.Request != nil {
		switch s := Section(*w.Request); s {
		case SectionSensors, SectionBattery, SectionStatus:
			req.Request = s
		default:
			return nil, outOfRange("request", *w.Request)
		}
	}
	return req, nil
}

// jsonError maps encoding/json failures onto DecodeError.
func jsonError(field string, err error) error {
	var typeErr *json.UnmarshalTypeError
	if errors.As(err, &typeErr) {
		f := typeErr.Field
		if f == "" {
			f = field
		}
		return &DecodeError{Field: f, Detail: "expected " + typeErr.Type.String(), Err: ErrMalformed}
	}
	return &DecodeError{Field: field, Detail: err.Error(), Err: ErrMalformed}
}
