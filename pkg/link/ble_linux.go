//go:build linux

package link

import (
	"context"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/currantlabs/ble"
	"github.com/currantlabs/ble/linux"
	"github.com/pkg/errors"
)

// Nordic UART service layout: the brain writes commands to RX and
// subscribes to TX for acks and telemetry.
var (
	UARTServiceUUID = ble.MustParse("6e400001-b5a3-f393-e0a9-e50e24dcca9e")
	UARTRXCharUUID  = ble.MustParse("6e400002-b5a3-f393-e0a9-e50e24dcca9e")
	UARTTXCharUUID  = ble.MustParse("6e400003-b5a3-f393-e0a9-e50e24dcca9e")
)

const readvertiseDelay = time.Second

// BLE is a peripheral link over the host's HCI adapter. One central at a
// time; each RX write is one message.
type BLE struct {
	cfg    Config
	logger *slog.Logger

	mu        sync.Mutex
	dev       ble.Device
	q         *Queue
	peer      *blePeer
	readvert  context.CancelFunc
	closeOnce sync.Once
}

type blePeer struct {
	conn ble.Conn
	addr string
	gen  uint64
	out  outbox
}

// NewBLE creates an unstarted BLE link.
func NewBLE(cfg Config, logger *slog.Logger) *BLE {
	if cfg.SendBuffer <= 0 {
		cfg.SendBuffer = DefaultConfig().SendBuffer
	}
	if cfg.Name == "" {
		cfg.Name = DefaultConfig().Name
	}
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &BLE{cfg: cfg, logger: logger}
}

// Start implements Link. It opens the default HCI device, registers the
// UART service and advertises until ctx is done.
func (b *BLE) Start(ctx context.Context, q *Queue) error {
	dev, err := linux.NewDevice()
	if err != nil {
		return errors.Wrap(err, "link: open hci device")
	}
	ble.SetDefaultDevice(dev)

	svc := ble.NewService(UARTServiceUUID)
	rx := svc.NewCharacteristic(UARTRXCharUUID)
	rx.HandleWrite(ble.WriteHandlerFunc(b.handleWrite))
	tx := svc.NewCharacteristic(UARTTXCharUUID)
	tx.HandleNotify(ble.NotifyHandlerFunc(b.handleNotify))

	if err := ble.AddService(svc); err != nil {
		dev.Stop()
		return errors.Wrap(err, "link: add uart service")
	}

	b.mu.Lock()
	b.dev = dev
	b.q = q
	b.mu.Unlock()

	go b.advertise(ctx)
	go func() {
		<-ctx.Done()
		b.Close()
	}()
	return nil
}

// advertise keeps the peripheral discoverable. A disconnect cancels the
// current round so advertising resumes right away.
func (b *BLE) advertise(ctx context.Context) {
	for ctx.Err() == nil {
		round, cancel := context.WithCancel(ctx)
		b.mu.Lock()
		b.readvert = cancel
		b.mu.Unlock()

		b.logger.Info("ble advertising", "name", b.cfg.Name)
		err := ble.AdvertiseNameAndServices(round, b.cfg.Name, UARTServiceUUID)
		cancel()
		if ctx.Err() != nil {
			return
		}
		if err != nil && !errors.Is(err, context.Canceled) {
			b.logger.Warn("ble advertising stopped", "error", errors.Wrap(err, "link: advertise"))
			select {
			case <-ctx.Done():
				return
			case <-time.After(readvertiseDelay):
			}
		}
	}
}

// attach returns the peer for conn, creating it on first contact. It
// returns nil for a second central.
func (b *BLE) attach(conn ble.Conn) *blePeer {
	b.mu.Lock()
	if b.peer != nil {
		peer := b.peer
		b.mu.Unlock()
		if peer.conn == conn {
			return peer
		}
		return nil
	}
	if b.q == nil {
		b.mu.Unlock()
		return nil
	}
	peer := &blePeer{
		conn: conn,
		addr: strings.ToUpper(conn.RemoteAddr().String()),
		out:  make(outbox, b.cfg.SendBuffer),
	}
	b.peer = peer
	q := b.q
	b.mu.Unlock()

	peer.gen = q.Connected(peer.addr)
	b.logger.Info("brain connected", "peer", peer.addr, "gen", peer.gen)
	go b.watch(peer, q)
	return peer
}

func (b *BLE) watch(peer *blePeer, q *Queue) {
	<-peer.conn.Disconnected()

	b.mu.Lock()
	if b.peer == peer {
		b.peer = nil
	}
	readvert := b.readvert
	b.mu.Unlock()

	q.Disconnected(peer.gen, peer.addr)
	b.logger.Info("brain disconnected", "peer", peer.addr, "gen", peer.gen)
	if readvert != nil {
		readvert()
	}
}

func (b *BLE) handleWrite(req ble.Request, rsp ble.ResponseWriter) {
	peer := b.attach(req.Conn())
	if peer == nil {
		rsp.SetStatus(ble.ErrReqNotSupp)
		return
	}
	data := append([]byte(nil), req.Data()...)

	b.mu.Lock()
	q := b.q
	b.mu.Unlock()
	if !q.Message(peer.gen, data) {
		b.logger.Debug("inbound queue full, message dropped", "dropped", q.Dropped())
	}
}

// handleNotify streams the outbox to the subscribed central.
func (b *BLE) handleNotify(req ble.Request, n ble.Notifier) {
	peer := b.attach(req.Conn())
	if peer == nil {
		return
	}
	for {
		select {
		case <-n.Context().Done():
			return
		case data := <-peer.out:
			if _, err := n.Write(data); err != nil {
				b.logger.Debug("ble notify failed", "error", errors.Wrap(err, "link: notify"))
				return
			}
		}
	}
}

// Send implements Link.
func (b *BLE) Send(data []byte) error {
	b.mu.Lock()
	peer := b.peer
	b.mu.Unlock()
	if peer == nil {
		return ErrNotConnected
	}
	return peer.out.push(data)
}

// Close implements Link.
func (b *BLE) Close() error {
	var err error
	b.closeOnce.Do(func() {
		b.mu.Lock()
		dev, peer, readvert := b.dev, b.peer, b.readvert
		b.mu.Unlock()
		if readvert != nil {
			readvert()
		}
		if peer != nil {
			peer.conn.Close()
		}
		if dev != nil {
			err = errors.Wrap(dev.Stop(), "link: stop hci device")
		}
	})
	return err
}
