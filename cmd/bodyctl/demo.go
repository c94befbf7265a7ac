package main

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/teslashibe/go-body/pkg/link"
	"github.com/teslashibe/go-body/pkg/motion"
	"github.com/teslashibe/go-body/pkg/protocol"
)

// demoPatrol is the sequence the demo brain repeats.
var demoPatrol = []motion.Step{
	{Direction: motion.DirForward, Speed: 60, Duration: 1500 * time.Millisecond},
	{Direction: motion.DirPause, Duration: 500 * time.Millisecond},
	{Direction: motion.DirLeft, Speed: 40, Duration: 800 * time.Millisecond},
	{Direction: motion.DirBackward, Speed: 40, Duration: time.Second},
}

// runDemoBrain plays a brain over an in-memory link: a heartbeat every
// second and a patrol sequence every eight.
func runDemoBrain(ctx context.Context, pipe *link.Pipe, logger *slog.Logger) {
	var peer *link.PipePeer
	for peer == nil {
		p, err := pipe.Connect("demo-brain")
		switch {
		case err == nil:
			peer = p
		case errors.Is(err, link.ErrBusy):
			return
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(50 * time.Millisecond):
		}
	}
	defer peer.Disconnect()
	logger.Info("demo brain connected")

	heartbeat := time.NewTicker(time.Second)
	defer heartbeat.Stop()
	patrol := time.NewTicker(8 * time.Second)
	defer patrol.Stop()
	drain := time.NewTicker(200 * time.Millisecond)
	defer drain.Stop()

	send := func(data []byte, err error) {
		if err != nil {
			logger.Error("encode demo message", "error", err)
			return
		}
		if !peer.Write(data) {
			logger.Warn("body queue full")
		}
	}

	send(protocol.NewSequenceMessage("", demoPatrol, "patrol"))
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-heartbeat.C:
			send(protocol.NewHeartbeatMessage(now))
		case <-patrol.C:
			send(protocol.NewSequenceMessage("", demoPatrol, "patrol"))
		case <-drain.C:
			for _, data := range peer.RecvAll() {
				out, err := protocol.DecodeOutbound(data)
				if err != nil {
					logger.Warn("bad body message", "error", err)
					continue
				}
				if out.Ack != nil && !out.Ack.OK() {
					logger.Info("command rejected", "command_id", out.Ack.CommandID, "error", out.Ack.ErrorMsg)
				}
				if out.Telemetry != nil {
					logger.Debug("telemetry", "state", out.Telemetry.State, "reason", out.Telemetry.Reason)
				}
			}
		}
	}
}
