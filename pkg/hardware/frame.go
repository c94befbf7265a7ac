package hardware

import (
	"errors"
	"fmt"

	"github.com/fxamacker/cbor/v2"

	"github.com/teslashibe/go-body/pkg/safety"
)

// Framing bytes of the board serial protocol.
const (
	StartByte = 0x7E
	EndByte   = 0x7F
	EscByte   = 0x7D
	EscXor    = 0x20
)

// Message types.
const (
	MsgSetMotors  = 0x10 // host → board {0: left, 1: right}
	MsgSetLED     = 0x11 // host → board {0: r, 1: g, 2: b}
	MsgSensorData = 0x20 // board → host {0: front_cm, 1: rear_cm, 2: battery_pct, 3: cliff_mask}
)

// MaxFramePayload bounds the CBOR payload of one frame.
const MaxFramePayload = 64

const (
	crcPolynomial = 0x1021
	crcInitial    = 0xFFFF
)

// Frame errors.
var (
	ErrFrameCRC    = errors.New("hardware: frame crc mismatch")
	ErrFrameLength = errors.New("hardware: frame length mismatch")
	ErrFrameSize   = errors.New("hardware: frame too large")
)

// Frame is one decoded board message.
type Frame struct {
	Type    uint8
	Payload map[int]int64
}

// wireFrame is the CBOR payload: [type, {key: value}].
type wireFrame struct {
	_       struct{} `cbor:",toarray"`
	Type    uint8
	Payload map[int]int64
}

// crc16 computes CRC-16-CCITT.
func crc16(data []byte) uint16 {
	crc := uint16(crcInitial)
	for _, b := range data {
		crc ^= uint16(b) << 8
		for i := 0; i < 8; i++ {
			if crc&0x8000 != 0 {
				crc = (crc << 1) ^ crcPolynomial
			} else {
				crc <<= 1
			}
		}
	}
	return crc
}

// EncodeFrame builds a wire frame: START, stuffed(len, cbor, crc), END.
func EncodeFrame(f Frame) ([]byte, error) {
	payload, err := cbor.Marshal(wireFrame{Type: f.Type, Payload: f.Payload})
	if err != nil {
		return nil, fmt.Errorf("hardware: encode frame: %w", err)
	}
	if len(payload) > MaxFramePayload {
		return nil, fmt.Errorf("%w: %d bytes", ErrFrameSize, len(payload))
	}

	data := make([]byte, 0, len(payload)+3)
	data = append(data, byte(len(payload)))
	data = append(data, payload...)
	crc := crc16(data)
	data = append(data, byte(crc>>8), byte(crc))

	out := make([]byte, 0, len(data)*2+2)
	out = append(out, StartByte)
	for _, b := range data {
		if b == StartByte || b == EndByte || b == EscByte {
			out = append(out, EscByte, b^EscXor)
		} else {
			out = append(out, b)
		}
	}
	return append(out, EndByte), nil
}

// FrameDecoder reassembles frames from a byte stream. Garbage between
// frames is skipped.
type FrameDecoder struct {
	buf     []byte
	inFrame bool
	escape  bool
}

// Feed processes one byte. It returns a frame when one completes, or an
// error when a completed frame is corrupt.
func (d *FrameDecoder) Feed(b byte) (*Frame, error) {
	switch {
	case b == StartByte:
		d.buf = d.buf[:0]
		d.inFrame = true
		d.escape = false
		return nil, nil
	case !d.inFrame:
		return nil, nil
	case b == EndByte:
		d.inFrame = false
		return decodeData(d.buf)
	case b == EscByte:
		d.escape = true
		return nil, nil
	}

	if d.escape {
		b ^= EscXor
		d.escape = false
	}
	if len(d.buf) >= MaxFramePayload+3 {
		d.inFrame = false
		return nil, ErrFrameSize
	}
	d.buf = append(d.buf, b)
	return nil, nil
}

func decodeData(data []byte) (*Frame, error) {
	if len(data) < 3 || int(data[0]) != len(data)-3 {
		return nil, ErrFrameLength
	}
	body := data[:len(data)-2]
	want := uint16(data[len(data)-2])<<8 | uint16(data[len(data)-1])
	if got := crc16(body); got != want {
		return nil, fmt.Errorf("%w: 0x%04X != 0x%04X", ErrFrameCRC, got, want)
	}

	var w wireFrame
	if err := cbor.Unmarshal(body[1:], &w); err != nil {
		return nil, fmt.Errorf("hardware: decode frame: %w", err)
	}
	return &Frame{Type: w.Type, Payload: w.Payload}, nil
}

// MotorsFrame builds a SET_MOTORS frame.
func MotorsFrame(left, right int) Frame {
	return Frame{Type: MsgSetMotors, Payload: map[int]int64{0: int64(left), 1: int64(right)}}
}

// LEDFrame builds a SET_LED frame.
func LEDFrame(r, g, b uint8) Frame {
	return Frame{Type: MsgSetLED, Payload: map[int]int64{0: int64(r), 1: int64(g), 2: int64(b)}}
}

// SensorFrame builds a SENSOR_DATA frame, as sent by the board.
func SensorFrame(frontCM, rearCM, batteryPct int, cliffMask uint8) Frame {
	return Frame{Type: MsgSensorData, Payload: map[int]int64{
		0: int64(frontCM), 1: int64(rearCM), 2: int64(batteryPct), 3: int64(cliffMask),
	}}
}

// Reading converts a SENSOR_DATA frame. Missing keys make it invalid.
func (f Frame) Reading() (safety.Reading, error) {
	if f.Type != MsgSensorData {
		return safety.Reading{}, fmt.Errorf("hardware: frame type 0x%02X is not sensor data", f.Type)
	}
	var v [4]int64
	for k := range v {
		val, ok := f.Payload[k]
		if !ok {
			return safety.Reading{}, fmt.Errorf("hardware: sensor frame missing key %d", k)
		}
		v[k] = val
	}
	return safety.ReadingFromMask(int(v[0]), int(v[1]), int(v[2]), uint8(v[3])), nil
}
