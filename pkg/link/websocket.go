package link

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/gofiber/contrib/websocket"
	"github.com/gofiber/fiber/v2"
)

// BrainPath is the websocket endpoint the brain connects to.
const BrainPath = "/ws/brain"

const writeTimeout = time.Second

// WebSocket is a link that accepts one brain over a websocket.
type WebSocket struct {
	cfg    Config
	logger *slog.Logger
	app    *fiber.App
	owned  bool // app created here and listened on by Start

	mu   sync.Mutex
	q    *Queue
	peer *wsPeer
}

type wsPeer struct {
	conn *websocket.Conn
	gen  uint64
	out  outbox
	done chan struct{}
	wg   sync.WaitGroup
}

// NewWebSocket creates a websocket link that listens on cfg.Addr.
func NewWebSocket(cfg Config, logger *slog.Logger) *WebSocket {
	app := fiber.New(fiber.Config{DisableStartupMessage: true})
	w := newWebSocket(cfg, logger, app)
	w.owned = true
	return w
}

// MountWebSocket registers the link on an existing fiber app, sharing its
// listener. Start then only attaches the queue.
func MountWebSocket(app *fiber.App, cfg Config, logger *slog.Logger) *WebSocket {
	return newWebSocket(cfg, logger, app)
}

func newWebSocket(cfg Config, logger *slog.Logger, app *fiber.App) *WebSocket {
	def := DefaultConfig()
	if cfg.SendBuffer <= 0 {
		cfg.SendBuffer = def.SendBuffer
	}
	if cfg.MaxPayload <= 0 {
		cfg.MaxPayload = def.MaxPayload
	}
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	w := &WebSocket{cfg: cfg, logger: logger, app: app}
	w.registerRoutes(app)
	return w
}

func (w *WebSocket) registerRoutes(app *fiber.App) {
	app.Use(BrainPath, func(c *fiber.Ctx) error {
		if !websocket.IsWebSocketUpgrade(c) {
			return fiber.ErrUpgradeRequired
		}
		w.mu.Lock()
		busy := w.peer != nil
		ready := w.q != nil
		w.mu.Unlock()
		if !ready {
			return fiber.ErrServiceUnavailable
		}
		if busy {
			return fiber.NewError(fiber.StatusConflict, ErrBusy.Error())
		}
		return c.Next()
	})
	app.Get(BrainPath, websocket.New(w.handleBrain))
}

// Start implements Link.
func (w *WebSocket) Start(ctx context.Context, q *Queue) error {
	w.mu.Lock()
	w.q = q
	w.mu.Unlock()

	if !w.owned {
		return nil
	}

	errc := make(chan error, 1)
	go func() {
		errc <- w.app.Listen(w.cfg.Addr)
	}()
	go func() {
		<-ctx.Done()
		w.Close()
	}()

	// surface immediate bind failures
	select {
	case err := <-errc:
		return err
	case <-time.After(100 * time.Millisecond):
		w.logger.Info("websocket link listening", "addr", w.cfg.Addr, "path", BrainPath)
		return nil
	}
}

// Send implements Link.
func (w *WebSocket) Send(data []byte) error {
	w.mu.Lock()
	peer := w.peer
	w.mu.Unlock()
	if peer == nil {
		return ErrNotConnected
	}
	return peer.out.push(data)
}

// Close implements Link.
func (w *WebSocket) Close() error {
	w.mu.Lock()
	peer := w.peer
	w.mu.Unlock()
	if peer != nil {
		peer.conn.Close()
	}
	if w.owned {
		return w.app.Shutdown()
	}
	return nil
}

// Connected reports whether a brain is attached.
func (w *WebSocket) Connected() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.peer != nil
}

// handleBrain runs for the lifetime of one brain connection.
func (w *WebSocket) handleBrain(c *websocket.Conn) {
	w.mu.Lock()
	if w.peer != nil || w.q == nil {
		w.mu.Unlock()
		c.WriteMessage(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.ClosePolicyViolation, ErrBusy.Error()))
		return
	}
	peerAddr := c.RemoteAddr().String()
	peer := &wsPeer{
		conn: c,
		out:  make(outbox, w.cfg.SendBuffer),
		done: make(chan struct{}),
	}
	w.peer = peer
	q := w.q
	w.mu.Unlock()

	// may block while the loop catches up, so never under w.mu
	peer.gen = q.Connected(peerAddr)

	w.logger.Info("brain connected", "peer", peerAddr, "gen", peer.gen)

	defer func() {
		w.mu.Lock()
		if w.peer == peer {
			w.peer = nil
		}
		w.mu.Unlock()
		close(peer.done)
		peer.wg.Wait()
		q.Disconnected(peer.gen, peerAddr)
		w.logger.Info("brain disconnected", "peer", peerAddr, "gen", peer.gen)
	}()

	peer.wg.Add(1)
	go func() {
		defer peer.wg.Done()
		w.writeLoop(peer)
	}()

	// Oversized frames are still delivered so the codec can reject them
	// with an error ack; anything far beyond the limit closes the socket.
	c.SetReadLimit(int64(w.cfg.MaxPayload) * 4)

	for {
		_, data, err := c.ReadMessage()
		if err != nil {
			w.logger.Debug("brain read ended", "peer", peerAddr, "error", err)
			return
		}
		if !q.Message(peer.gen, data) {
			w.logger.Debug("inbound queue full, message dropped", "dropped", q.Dropped())
		}
	}
}

func (w *WebSocket) writeLoop(peer *wsPeer) {
	for {
		select {
		case <-peer.done:
			return
		case data := <-peer.out:
			peer.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := peer.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				w.logger.Debug("brain write failed", "error", err)
				peer.conn.Close()
				return
			}
		}
	}
}
