// Package link carries messages between the brain and the body.
//
// A Link owns its own goroutines and publishes everything it receives into
// a bounded Queue that the control loop drains once per tick. Sending never
// blocks: a full outbound buffer returns ErrSaturated and the frame is lost.
package link

import (
	"context"
	"errors"
)

// Sentinel errors for the link package.
var (
	// ErrNotConnected indicates there is no peer to send to.
	ErrNotConnected = errors.New("link: not connected")

	// ErrSaturated indicates the outbound buffer is full.
	ErrSaturated = errors.New("link: send buffer saturated")

	// ErrClosed indicates the link was closed.
	ErrClosed = errors.New("link: closed")

	// ErrBusy indicates a second peer tried to connect.
	ErrBusy = errors.New("link: peer already connected")
)

// Link is a message transport to a single brain peer.
type Link interface {
	// Start begins advertising or listening. Lifecycle and message events
	// are published into q until ctx is done or Close is called.
	Start(ctx context.Context, q *Queue) error

	// Send queues data for the connected peer without blocking.
	Send(data []byte) error

	// Close stops the link and drops any peer.
	Close() error
}

// Config holds the settings shared by all link implementations.
type Config struct {
	Name       string // advertised name
	Addr       string // listen address
	SendBuffer int    // outbound frames buffered per peer
	MaxPayload int    // bytes
}

// DefaultConfig returns the reference link settings.
func DefaultConfig() Config {
	return Config{
		Name:       "ROBI-BODY",
		Addr:       ":8765",
		SendBuffer: 16,
		MaxPayload: 512,
	}
}

// outbox is a bounded, non-blocking outbound buffer for one peer.
type outbox chan []byte

func (o outbox) push(data []byte) error {
	buf := make([]byte, len(data))
	copy(buf, data)
	select {
	case o <- buf:
		return nil
	default:
		return ErrSaturated
	}
}
