package hardware

import (
	"bytes"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/teslashibe/go-body/pkg/safety"
)

func TestCRC16(t *testing.T) {
	// CRC-16/CCITT-FALSE check value
	assert.Equal(t, uint16(0x29B1), crc16([]byte("123456789")))
}

func decodeAll(t *testing.T, stream []byte) ([]*Frame, []error) {
	t.Helper()
	var dec FrameDecoder
	var frames []*Frame
	var errs []error
	for _, b := range stream {
		f, err := dec.Feed(b)
		if err != nil {
			errs = append(errs, err)
		}
		if f != nil {
			frames = append(frames, f)
		}
	}
	return frames, errs
}

func TestFrame_RoundTrip(t *testing.T) {
	tests := []Frame{
		MotorsFrame(-100, 100),
		MotorsFrame(0, 0),
		LEDFrame(0x7E, 0x7F, 0x7D), // every framing byte needs escaping
		SensorFrame(8, 250, 42, 0b0101),
	}
	for _, want := range tests {
		data, err := EncodeFrame(want)
		require.NoError(t, err)
		assert.Equal(t, byte(StartByte), data[0])
		assert.Equal(t, byte(EndByte), data[len(data)-1])
		assert.Equal(t, 1, bytes.Count(data, []byte{StartByte}))

		frames, errs := decodeAll(t, data)
		require.Empty(t, errs)
		require.Len(t, frames, 1)
		assert.Equal(t, want.Type, frames[0].Type)
		assert.Equal(t, want.Payload, frames[0].Payload)
	}
}

func TestFrame_SkipsNoiseAndDetectsCorruption(t *testing.T) {
	good, err := EncodeFrame(SensorFrame(30, 30, 90, 0))
	require.NoError(t, err)

	bad := append([]byte(nil), good...)
	bad[3] ^= 0x01

	stream := append([]byte{0x00, 0x13, EndByte}, bad...)
	stream = append(stream, good...)

	frames, errs := decodeAll(t, stream)
	require.Len(t, frames, 1)
	require.Len(t, errs, 1)
	assert.True(t, errors.Is(errs[0], ErrFrameCRC) || errors.Is(errs[0], ErrFrameLength))
}

func TestFrame_Reading(t *testing.T) {
	r, err := SensorFrame(8, 20, 4, 0b1000).Reading()
	require.NoError(t, err)
	assert.True(t, r.Valid)
	assert.Equal(t, 8, r.DistanceFrontCM)
	assert.Equal(t, []string{safety.CliffRearRight}, r.Cliffs())

	_, err = MotorsFrame(1, 1).Reading()
	assert.Error(t, err)
	_, err = Frame{Type: MsgSensorData, Payload: map[int]int64{0: 1}}.Reading()
	assert.Error(t, err)
}

func TestSimBoard(t *testing.T) {
	sim := NewSimBoard(safety.Reading{})
	_, ok := sim.Latest()
	assert.False(t, ok)

	sim.SetReading(safety.NewReading(50, 60, 70))
	r, ok := sim.Latest()
	require.True(t, ok)
	assert.Equal(t, 60, r.DistanceRearCM)

	require.NoError(t, sim.SetSpeeds(10, -10))
	l, rr := sim.Speeds()
	assert.Equal(t, 10, l)
	assert.Equal(t, -10, rr)

	boom := errors.New("h-bridge fault")
	sim.FailDrive(boom)
	assert.ErrorIs(t, sim.SetSpeeds(20, 20), boom)
	require.NoError(t, sim.SetRGB(1, 2, 3))
	assert.Equal(t, [3]uint8{1, 2, 3}, sim.RGB())

	drive, light := sim.Writes()
	assert.Equal(t, 1, drive)
	assert.Equal(t, 1, light)
}

// fakePort is a serial port whose input is fed by the test.
type fakePort struct {
	in  *io.PipeReader
	src *io.PipeWriter

	mu  sync.Mutex
	out bytes.Buffer
}

func newFakePort() *fakePort {
	r, w := io.Pipe()
	return &fakePort{in: r, src: w}
}

func (p *fakePort) Read(b []byte) (int, error) { return p.in.Read(b) }

func (p *fakePort) Write(b []byte) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.out.Write(b)
}

func (p *fakePort) Close() error { return p.in.Close() }

func (p *fakePort) written() []byte {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]byte(nil), p.out.Bytes()...)
}

func TestSerialBoard(t *testing.T) {
	port := newFakePort()
	board := NewSerialBoard(port, SerialConfig{StaleAfter: time.Hour}, nil)
	defer board.Close()

	_, ok := board.Latest()
	assert.False(t, ok, "no reading before the first frame")

	frame, err := EncodeFrame(SensorFrame(5, 40, 77, 0b0001))
	require.NoError(t, err)
	_, err = port.src.Write(frame)
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		_, ok := board.Latest()
		return ok
	}, time.Second, 5*time.Millisecond)

	r, _ := board.Latest()
	assert.True(t, r.Valid)
	assert.Equal(t, 5, r.DistanceFrontCM)
	assert.True(t, r.HasCliff())

	require.NoError(t, board.SetSpeeds(-30, 30))
	require.NoError(t, board.SetRGB(0, 0, 255))
	var frames []*Frame
	require.Eventually(t, func() bool {
		var errs []error
		frames, errs = decodeAll(t, port.written())
		return len(errs) == 0 && len(frames) == 2
	}, time.Second, 5*time.Millisecond)
	assert.Equal(t, MotorsFrame(-30, 30).Payload, frames[0].Payload)
	assert.Equal(t, uint8(MsgSetLED), frames[1].Type)
}

func TestSerialBoard_StaleReading(t *testing.T) {
	port := newFakePort()
	board := NewSerialBoard(port, SerialConfig{StaleAfter: 100 * time.Millisecond}, nil)
	defer board.Close()

	clock := time.Unix(100, 0)
	var mu sync.Mutex
	board.now = func() time.Time { mu.Lock(); defer mu.Unlock(); return clock }

	frame, _ := EncodeFrame(SensorFrame(50, 50, 50, 0))
	port.src.Write(frame)
	require.Eventually(t, func() bool { _, ok := board.Latest(); return ok }, time.Second, 5*time.Millisecond)

	r, _ := board.Latest()
	assert.True(t, r.Valid)

	mu.Lock()
	clock = clock.Add(200 * time.Millisecond)
	mu.Unlock()
	r, _ = board.Latest()
	assert.False(t, r.Valid, "reading should go stale")
}

func TestSerialBoard_WriteAfterClose(t *testing.T) {
	board := NewSerialBoard(newFakePort(), SerialConfig{}, nil)
	require.NoError(t, board.Close())
	assert.ErrorIs(t, board.SetSpeeds(0, 0), ErrClosed)
}

// gatedPort blocks every write until the test opens the gate.
type gatedPort struct {
	*fakePort
	gate    chan struct{}
	entered chan struct{}
	err     error
}

func newGatedPort() *gatedPort {
	return &gatedPort{fakePort: newFakePort(), gate: make(chan struct{}), entered: make(chan struct{}, 16)}
}

func (p *gatedPort) Write(b []byte) (int, error) {
	select {
	case p.entered <- struct{}{}:
	default:
	}
	<-p.gate
	if p.err != nil {
		return 0, p.err
	}
	return p.fakePort.Write(b)
}

func TestSerialBoard_SlowPortNeverBlocksCaller(t *testing.T) {
	port := newGatedPort()
	board := NewSerialBoard(port, SerialConfig{}, nil)

	require.NoError(t, board.SetSpeeds(10, 10))
	<-port.entered // the writer is now stuck on the first frame

	start := time.Now()
	for i := 0; i < 100; i++ {
		require.NoError(t, board.SetSpeeds(i, -i))
		require.NoError(t, board.SetRGB(uint8(i), 0, 0))
	}
	assert.Less(t, time.Since(start), 500*time.Millisecond)

	close(port.gate)
	require.NoError(t, board.Close())

	frames, errs := decodeAll(t, port.written())
	require.Empty(t, errs)
	require.Len(t, frames, 3, "superseded frames are not written")
	assert.Equal(t, MotorsFrame(10, 10).Payload, frames[0].Payload)
	assert.Equal(t, MotorsFrame(99, -99).Payload, frames[1].Payload)
	assert.Equal(t, LEDFrame(99, 0, 0).Payload, frames[2].Payload)
}

func TestSerialBoard_WriteErrorSurfacesOnNextCall(t *testing.T) {
	port := newGatedPort()
	port.err = errors.New("device unplugged")
	close(port.gate)
	board := NewSerialBoard(port, SerialConfig{}, nil)
	defer board.Close()

	require.NoError(t, board.SetSpeeds(20, 20))
	require.Eventually(t, func() bool {
		return board.SetSpeeds(20, 20) != nil
	}, time.Second, 5*time.Millisecond)
	assert.ErrorContains(t, board.SetRGB(1, 2, 3), "device unplugged")
}

func TestSerialBoard_CloseFlushesStop(t *testing.T) {
	port := newFakePort()
	board := NewSerialBoard(port, SerialConfig{}, nil)

	require.NoError(t, board.SetSpeeds(0, 0))
	require.NoError(t, board.Close())

	frames, errs := decodeAll(t, port.written())
	require.Empty(t, errs)
	require.NotEmpty(t, frames)
	assert.Equal(t, MotorsFrame(0, 0).Payload, frames[len(frames)-1].Payload)
}
