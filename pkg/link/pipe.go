package link

import (
	"context"
	"sync"
)

// Pipe is an in-memory link. The brain side is driven through the
// PipePeer returned by Connect. Used by tests and simulations.
type Pipe struct {
	cfg Config

	mu     sync.Mutex
	q      *Queue
	peer   *PipePeer
	closed bool
}

// NewPipe creates an unstarted pipe.
func NewPipe(cfg Config) *Pipe {
	if cfg.SendBuffer <= 0 {
		cfg.SendBuffer = DefaultConfig().SendBuffer
	}
	return &Pipe{cfg: cfg}
}

// Start implements Link.
func (p *Pipe) Start(ctx context.Context, q *Queue) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return ErrClosed
	}
	p.q = q
	go func() {
		<-ctx.Done()
		p.Close()
	}()
	return nil
}

// Connect attaches a brain peer. Only one peer may be connected.
func (p *Pipe) Connect(name string) (*PipePeer, error) {
	p.mu.Lock()
	if p.closed || p.q == nil {
		p.mu.Unlock()
		return nil, ErrClosed
	}
	if p.peer != nil {
		p.mu.Unlock()
		return nil, ErrBusy
	}
	peer := &PipePeer{
		pipe:  p,
		name:  name,
		inbox: make(outbox, p.cfg.SendBuffer),
	}
	p.peer = peer
	p.mu.Unlock()

	peer.gen = p.q.Connected(name)
	return peer, nil
}

// Send implements Link.
func (p *Pipe) Send(data []byte) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.peer == nil {
		return ErrNotConnected
	}
	return p.peer.inbox.push(data)
}

// Close implements Link.
func (p *Pipe) Close() error {
	p.mu.Lock()
	peer := p.peer
	p.closed = true
	p.mu.Unlock()
	if peer != nil {
		peer.Disconnect()
	}
	return nil
}

// PipePeer is the brain end of a Pipe.
type PipePeer struct {
	pipe  *Pipe
	name  string
	gen   uint64
	inbox outbox
	once  sync.Once
}

// Write delivers a message to the body. It reports false if the body's
// queue was full and the message was dropped.
func (pp *PipePeer) Write(data []byte) bool {
	return pp.pipe.q.Message(pp.gen, data)
}

// Recv returns the next message sent by the body, if any, without blocking.
func (pp *PipePeer) Recv() ([]byte, bool) {
	select {
	case data, ok := <-pp.inbox:
		return data, ok
	default:
		return nil, false
	}
}

// RecvAll drains every pending message.
func (pp *PipePeer) RecvAll() [][]byte {
	var out [][]byte
	for {
		data, ok := pp.Recv()
		if !ok {
			return out
		}
		out = append(out, data)
	}
}

// Disconnect detaches the peer.
func (pp *PipePeer) Disconnect() {
	pp.once.Do(func() {
		p := pp.pipe
		p.mu.Lock()
		if p.peer == pp {
			p.peer = nil
		}
		p.mu.Unlock()
		p.q.Disconnected(pp.gen, pp.name)
	})
}
