package protocol

import (
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/teslashibe/go-body/pkg/indicator"
	"github.com/teslashibe/go-body/pkg/motion"
)

func TestDecode_Move(t *testing.T) {
	cmd, err := Decode([]byte(`{"type":"move","direction":"forward","speed":60,"duration":1500,"command_id":"abc"}`))
	require.NoError(t, err)

	m, ok := cmd.(Move)
	require.True(t, ok, "got %T", cmd)
	assert.Equal(t, "abc", m.ID())
	assert.Equal(t, motion.DirForward, m.Direction)
	assert.Equal(t, 60, m.Speed)
	assert.Equal(t, 1500*time.Millisecond, m.Duration)

	mc := m.Motion()
	require.Len(t, mc.Steps, 1)
	assert.False(t, mc.Steps[0].Continuous)
}

func TestDecode_MoveWithoutDurationIsContinuous(t *testing.T) {
	cmd, err := Decode([]byte(`{"type":"move","direction":"left","speed":30}`))
	require.NoError(t, err)
	assert.True(t, cmd.(Move).Motion().Steps[0].Continuous)
}

func TestDecode_MoveStopNeedsNoSpeed(t *testing.T) {
	cmd, err := Decode([]byte(`{"type":"move","direction":"stop"}`))
	require.NoError(t, err)
	assert.Equal(t, motion.DirStop, cmd.(Move).Direction)
}

func TestDecode_Sequence(t *testing.T) {
	raw := `{"type":"move_sequence","total_duration_ms":2400,"description":"wiggle","emotion_during":"happy",
		"steps":[{"direction":"forward","speed":40,"duration_ms":800},
		         {"direction":"pause","duration_ms":800},
		         {"direction":"backward","speed":40,"duration_ms":800}]}`
	cmd, err := Decode([]byte(raw))
	require.NoError(t, err)

	seq, ok := cmd.(MoveSequence)
	require.True(t, ok)
	assert.Equal(t, 2400*time.Millisecond, seq.Total)
	assert.Equal(t, "happy", seq.EmotionDuring)
	require.Len(t, seq.Steps, 3)
	assert.Equal(t, motion.DirPause, seq.Steps[1].Direction)

	mc := seq.Motion()
	assert.True(t, mc.Sequence)
	assert.Equal(t, "wiggle", mc.Label)
}

func TestDecode_SequenceTotalDefaultsToSum(t *testing.T) {
	cmd, err := Decode([]byte(`{"type":"move_sequence","steps":[{"direction":"left","speed":10,"duration_ms":300},{"direction":"right","speed":10}]}`))
	require.NoError(t, err)
	seq := cmd.(MoveSequence)
	assert.Equal(t, 300*time.Millisecond, seq.Total)
	assert.Zero(t, seq.Steps[1].Duration)
}

func TestDecode_Light(t *testing.T) {
	cmd, err := Decode([]byte(`{"type":"light","action":"blink","color":"rgb(10,20,30)","intensity":40}`))
	require.NoError(t, err)
	l := cmd.(Light)
	assert.Equal(t, indicator.ActionBlink, l.Action)
	assert.Equal(t, indicator.RGB{R: 10, G: 20, B: 30}, l.Color)
	assert.Equal(t, 40, l.Override().Intensity)

	cmd, err = Decode([]byte(`{"type":"light","action":"on"}`))
	require.NoError(t, err)
	assert.Equal(t, indicator.White, cmd.(Light).Color)
	assert.Equal(t, 100, cmd.(Light).Intensity)
}

func TestDecode_Simple(t *testing.T) {
	tests := []struct {
		raw  string
		want MessageType
	}{
		{`{"type":"stop"}`, TypeStop},
		{`{"type":"reset","command_id":"r1"}`, TypeReset},
		{`{"type":"heartbeat","timestamp":1700000000000}`, TypeHeartbeat},
		{`{"type":"heartbeat"}`, TypeHeartbeat},
		{`{"type":"telemetry","request":"battery"}`, TypeTelemetry},
		{`{"type":"telemetry"}`, TypeTelemetry},
		{`{"type":"stop","extra":{"ignored":true}}`, TypeStop},
	}
	for _, tt := range tests {
		cmd, err := Decode([]byte(tt.raw))
		require.NoError(t, err, tt.raw)
		assert.Equal(t, tt.want, cmd.Type(), tt.raw)
	}

	cmd, _ := Decode([]byte(`{"type":"heartbeat","timestamp":1700000000000}`))
	assert.Equal(t, int64(1700000000000), cmd.(Heartbeat).Timestamp)
}

func TestDecode_Rejects(t *testing.T) {
	tests := []struct {
		name  string
		raw   string
		err   error
		field string
	}{
		{"not json", `{"type":`, ErrMalformed, ""},
		{"array", `[]`, ErrMalformed, ""},
		{"no type", `{"direction":"forward"}`, ErrMissingField, "type"},
		{"type not string", `{"type":7}`, ErrMalformed, "type"},
		{"unknown type", `{"type":"fly"}`, ErrUnknownType, "type"},
		{"move no direction", `{"type":"move","speed":10}`, ErrMissingField, "direction"},
		{"move bad direction", `{"type":"move","direction":"up","speed":10}`, ErrOutOfRange, "direction"},
		{"move pause", `{"type":"move","direction":"pause","speed":10}`, ErrOutOfRange, "direction"},
		{"move no speed", `{"type":"move","direction":"forward"}`, ErrMissingField, "speed"},
		{"move speed high", `{"type":"move","direction":"forward","speed":101}`, ErrOutOfRange, "speed"},
		{"move speed negative", `{"type":"move","direction":"forward","speed":-1}`, ErrOutOfRange, "speed"},
		{"move speed string", `{"type":"move","direction":"forward","speed":"fast"}`, ErrMalformed, "speed"},
		{"move speed float", `{"type":"move","direction":"forward","speed":10.5}`, ErrMalformed, "speed"},
		{"move negative duration", `{"type":"move","direction":"forward","speed":10,"duration":-5}`, ErrOutOfRange, "duration"},
		{"move duration overflow", `{"type":"move","direction":"forward","speed":10,"duration":9223372036855}`, ErrOutOfRange, "duration"},
		{"sequence step duration overflow", `{"type":"move_sequence","steps":[{"direction":"left","speed":10,"duration_ms":9223372036855}]}`, ErrOutOfRange, "steps[0].duration_ms"},
		{"sequence negative step duration", `{"type":"move_sequence","steps":[{"direction":"left","speed":10,"duration_ms":-1}]}`, ErrOutOfRange, "steps[0].duration_ms"},
		{"sequence total overflow", `{"type":"move_sequence","steps":[{"direction":"left","speed":10}],"total_duration_ms":9223372036855}`, ErrOutOfRange, "total_duration_ms"},
		{"sequence sum overflow", `{"type":"move_sequence","steps":[{"direction":"left","speed":10,"duration_ms":9223372036854},{"direction":"right","speed":10,"duration_ms":9223372036854}]}`, ErrOutOfRange, "steps"},
		{"sequence no steps", `{"type":"move_sequence","total_duration_ms":10}`, ErrMissingField, "steps"},
		{"sequence empty", `{"type":"move_sequence","steps":[]}`, ErrOutOfRange, "steps"},
		{"sequence bad step", `{"type":"move_sequence","steps":[{"direction":"left","speed":10},{"direction":"nope"}]}`, ErrOutOfRange, "steps[1].direction"},
		{"sequence step speed", `{"type":"move_sequence","steps":[{"direction":"left"}]}`, ErrMissingField, "steps[0].speed"},
		{"light no action", `{"type":"light","color":"red"}`, ErrMissingField, "action"},
		{"light bad action", `{"type":"light","action":"strobe"}`, ErrOutOfRange, "action"},
		{"light bad color", `{"type":"light","action":"on","color":"rgb(300,0,0)"}`, ErrOutOfRange, "color"},
		{"light intensity", `{"type":"light","action":"on","intensity":150}`, ErrOutOfRange, "intensity"},
		{"telemetry bad section", `{"type":"telemetry","request":"camera"}`, ErrOutOfRange, "request"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cmd, err := Decode([]byte(tt.raw))
			assert.Nil(t, cmd)
			require.ErrorIs(t, err, tt.err)

			var de *DecodeError
			require.ErrorAs(t, err, &de)
			assert.Equal(t, tt.field, de.Field)
		})
	}
}

func TestDecode_ErrorKeepsCommandID(t *testing.T) {
	_, err := Decode([]byte(`{"type":"move","command_id":"c-9","direction":"forward","speed":500}`))
	var de *DecodeError
	require.ErrorAs(t, err, &de)
	assert.Equal(t, "c-9", de.CommandID)
}

func TestDecode_TooLarge(t *testing.T) {
	raw := `{"type":"stop","pad":"` + strings.Repeat("x", MaxPayload) + `"}`
	_, err := Decode([]byte(raw))
	assert.ErrorIs(t, err, ErrTooLarge)

	_, err = DecodeLimit([]byte(`{"type":"stop"}`), 8)
	assert.ErrorIs(t, err, ErrTooLarge)
}

func TestHelpers_RoundTripThroughDecode(t *testing.T) {
	build := []func() ([]byte, error){
		func() ([]byte, error) { return NewMoveMessage("m", motion.DirRight, 20, time.Second) },
		func() ([]byte, error) {
			return NewSequenceMessage("s", []motion.Step{
				{Direction: motion.DirForward, Speed: 10, Duration: 200 * time.Millisecond},
				{Direction: motion.DirPause, Duration: 100 * time.Millisecond},
			}, "demo")
		},
		func() ([]byte, error) { return NewStopMessage("x") },
		func() ([]byte, error) { return NewResetMessage("r") },
		func() ([]byte, error) { return NewLightMessage("l", "on", "amber", 70) },
		func() ([]byte, error) { return NewTelemetryRequest("t", SectionStatus) },
		func() ([]byte, error) { return NewHeartbeatMessage(time.UnixMilli(1000)) },
	}
	for i, b := range build {
		data, err := b()
		require.NoError(t, err, i)
		_, err = Decode(data)
		assert.NoError(t, err, string(data))
	}

	data, _ := NewSequenceMessage("", []motion.Step{{Direction: motion.DirLeft, Speed: 5, Duration: 250 * time.Millisecond}}, "")
	cmd, err := Decode(data)
	require.NoError(t, err)
	assert.Equal(t, 250*time.Millisecond, cmd.(MoveSequence).Total)
}

func TestEncodeAck(t *testing.T) {
	data, err := EncodeAck(Ack{Status: StatusError, CommandID: "id-1", ErrorMsg: "bad"})
	require.NoError(t, err)
	assert.JSONEq(t, `{"status":"error","command_id":"id-1","error_msg":"bad"}`, string(data))

	data, err = EncodeAck(Ack{Status: StatusOK, CommandID: "id-2"})
	require.NoError(t, err)
	assert.JSONEq(t, `{"status":"ok","command_id":"id-2"}`, string(data))
}

func fullTelemetry() Telemetry {
	return Telemetry{
		Timestamp:  1760000000000,
		State:      "brain_offline",
		Reason:     "sensor_unavailable",
		Battery:    &BatterySection{Pct: 100, Low: false},
		Sensors:    &SensorsSection{FrontCM: 400, RearCM: 400, Cliffs: []string{"front_left", "front_right", "rear_left", "rear_right"}},
		Motors:     &MotorsSection{Left: -100, Right: -100},
		LEDs:       &LEDSection{R: 255, G: 160, B: 255, Pattern: "breathe"},
		Heartbeat:  &HeartbeatSection{LastReceivedMS: 99999999, BrainOnline: false},
		Sequence:   &SequenceSection{Step: 10, Steps: 12, ElapsedMS: 9999999},
		Uptime:     99999999,
		FreeMemory: 9999999999,
	}
}

func TestEncodeTelemetry_FitsPayload(t *testing.T) {
	data, err := EncodeTelemetry(fullTelemetry(), MaxPayload)
	require.NoError(t, err)
	assert.LessOrEqual(t, len(data), MaxPayload)

	var got map[string]any
	require.NoError(t, json.Unmarshal(data, &got))
	assert.Equal(t, "telemetry", got["type"])
	assert.Contains(t, got, "heartbeat")
	assert.Contains(t, got, "battery")
}

func TestEncodeTelemetry_DropsOptionalSections(t *testing.T) {
	tel := fullTelemetry()

	data, err := EncodeTelemetry(tel, 420)
	require.NoError(t, err)
	assert.NotContains(t, string(data), `"sequence"`)

	_, err = EncodeTelemetry(tel, 100)
	assert.ErrorIs(t, err, ErrTooLarge)
}

func TestDecodeOutbound(t *testing.T) {
	data, _ := EncodeTelemetry(fullTelemetry(), MaxPayload)
	out, err := DecodeOutbound(data)
	require.NoError(t, err)
	require.NotNil(t, out.Telemetry)
	assert.Equal(t, -100, out.Telemetry.Motors.Left)

	ack, _ := EncodeAck(Ack{Status: StatusOK, CommandID: "z"})
	out, err = DecodeOutbound(ack)
	require.NoError(t, err)
	require.NotNil(t, out.Ack)
	assert.True(t, out.Ack.OK())

	_, err = DecodeOutbound([]byte(`{"hello":1}`))
	assert.ErrorIs(t, err, ErrMalformed)
}
