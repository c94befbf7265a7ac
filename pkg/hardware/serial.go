package hardware

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"go.bug.st/serial"

	"github.com/teslashibe/go-body/pkg/safety"
)

// SerialConfig configures a SerialBoard.
type SerialConfig struct {
	Port string
	Baud int
	// StaleAfter marks the reading invalid when no sensor frame arrived for
	// this long. Zero disables the check.
	StaleAfter time.Duration
}

// DefaultSerialConfig returns the reference serial settings.
func DefaultSerialConfig() SerialConfig {
	return SerialConfig{
		Port:       "/dev/ttyUSB0",
		Baud:       115200,
		StaleAfter: 500 * time.Millisecond,
	}
}

// SerialBoard talks to the motor/sensor/LED microcontroller over a serial
// port using framed CBOR messages. A reader goroutine keeps the latest
// sensor frame.
//
// SetSpeeds and SetRGB never touch the port. They park the encoded frame in
// a one-deep slot per kind and a writer goroutine sends it; a newer frame
// replaces one not yet sent. A failed write is returned by the next call.
type SerialBoard struct {
	cfg    SerialConfig
	port   io.ReadWriteCloser
	logger *slog.Logger
	now    func() time.Time

	mu       sync.RWMutex
	reading  safety.Reading
	readAt   time.Time
	hasRead  bool
	badFrame uint64
	closed   bool

	outMu    sync.Mutex
	motors   []byte // pending, nil when sent
	led      []byte
	writeErr error
	kick     chan struct{}
	stop     chan struct{}

	done       chan struct{}
	writerDone chan struct{}
}

// OpenSerial opens cfg.Port with 8N1 framing.
func OpenSerial(cfg SerialConfig, logger *slog.Logger) (*SerialBoard, error) {
	mode := &serial.Mode{
		BaudRate: cfg.Baud,
		DataBits: 8,
		Parity:   serial.NoParity,
		StopBits: serial.OneStopBit,
	}
	port, err := serial.Open(cfg.Port, mode)
	if err != nil {
		return nil, fmt.Errorf("hardware: open serial port %s: %w", cfg.Port, err)
	}
	return NewSerialBoard(port, cfg, logger), nil
}

// NewSerialBoard runs the protocol over an already open port.
func NewSerialBoard(port io.ReadWriteCloser, cfg SerialConfig, logger *slog.Logger) *SerialBoard {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	b := &SerialBoard{
		cfg:        cfg,
		port:       port,
		logger:     logger,
		now:        time.Now,
		kick:       make(chan struct{}, 1),
		stop:       make(chan struct{}),
		done:       make(chan struct{}),
		writerDone: make(chan struct{}),
	}
	go b.readLoop()
	go b.writeLoop()
	return b
}

func (b *SerialBoard) readLoop() {
	defer close(b.done)

	var dec FrameDecoder
	buf := make([]byte, 128)
	for {
		n, err := b.port.Read(buf)
		for _, c := range buf[:n] {
			frame, ferr := dec.Feed(c)
			if ferr != nil {
				b.mu.Lock()
				b.badFrame++
				b.mu.Unlock()
				b.logger.Debug("bad board frame", "error", ferr)
				continue
			}
			if frame != nil {
				b.handleFrame(frame)
			}
		}
		if err != nil {
			b.mu.RLock()
			closed := b.closed
			b.mu.RUnlock()
			if !closed && !errors.Is(err, io.EOF) {
				b.logger.Error("serial read failed", "error", err)
			}
			return
		}
	}
}

func (b *SerialBoard) handleFrame(f *Frame) {
	if f.Type != MsgSensorData {
		b.logger.Debug("unexpected board frame", "type", f.Type)
		return
	}
	r, err := f.Reading()
	if err != nil {
		b.logger.Debug("bad sensor frame", "error", err)
		return
	}
	b.mu.Lock()
	b.reading = r
	b.readAt = b.now()
	b.hasRead = true
	b.mu.Unlock()
}

// Latest implements Sensors. A stale reading is returned with Valid unset.
func (b *SerialBoard) Latest() (safety.Reading, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if !b.hasRead {
		return safety.Reading{}, false
	}
	r := b.reading.Clone()
	if b.cfg.StaleAfter > 0 && b.now().Sub(b.readAt) > b.cfg.StaleAfter {
		r.Valid = false
	}
	return r, true
}

// SetSpeeds implements Drive.
func (b *SerialBoard) SetSpeeds(left, right int) error {
	return b.queue(MotorsFrame(left, right))
}

// SetRGB implements Light.
func (b *SerialBoard) SetRGB(r, g, bl uint8) error {
	return b.queue(LEDFrame(r, g, bl))
}

// BadFrames returns the number of corrupt frames received.
func (b *SerialBoard) BadFrames() uint64 {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.badFrame
}

func (b *SerialBoard) queue(f Frame) error {
	data, err := EncodeFrame(f)
	if err != nil {
		return err
	}
	b.mu.RLock()
	closed := b.closed
	b.mu.RUnlock()
	if closed {
		return ErrClosed
	}

	b.outMu.Lock()
	if err := b.writeErr; err != nil {
		b.outMu.Unlock()
		return err
	}
	if f.Type == MsgSetLED {
		b.led = data
	} else {
		b.motors = data
	}
	b.outMu.Unlock()

	select {
	case b.kick <- struct{}{}:
	default:
	}
	return nil
}

func (b *SerialBoard) writeLoop() {
	defer close(b.writerDone)
	for {
		select {
		case <-b.kick:
			b.flush()
		case <-b.stop:
			b.flush()
			return
		}
	}
}

// flush writes the pending motor frame, then the pending LED frame.
func (b *SerialBoard) flush() {
	b.outMu.Lock()
	motors, led := b.motors, b.led
	b.motors, b.led = nil, nil
	failed := b.writeErr != nil
	b.outMu.Unlock()
	if failed {
		return
	}

	for _, data := range [][]byte{motors, led} {
		if data == nil {
			continue
		}
		if _, err := b.port.Write(data); err != nil {
			b.logger.Error("serial write failed", "error", err)
			b.outMu.Lock()
			b.writeErr = fmt.Errorf("hardware: serial write: %w", err)
			b.outMu.Unlock()
			return
		}
	}
}

// Close implements Board. Pending frames are written first, then the port
// is closed and Close waits for the reader to exit.
func (b *SerialBoard) Close() error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil
	}
	b.closed = true
	b.mu.Unlock()

	close(b.stop)
	<-b.writerDone
	err := b.port.Close()
	<-b.done
	return err
}
