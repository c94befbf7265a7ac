//go:build !linux

package link

import (
	"context"
	"errors"
	"log/slog"
)

// BLE is only available on Linux.
type BLE struct{}

// NewBLE returns a link whose Start always fails on this platform.
func NewBLE(cfg Config, logger *slog.Logger) *BLE { return &BLE{} }

// Start implements Link.
func (*BLE) Start(context.Context, *Queue) error {
	return errors.New("link: BLE is only available on Linux")
}

// Send implements Link.
func (*BLE) Send([]byte) error { return ErrNotConnected }

// Close implements Link.
func (*BLE) Close() error { return nil }
