// Package body runs the robot body control loop.
//
// A single goroutine owns every piece of mutable state. Each tick it drains
// the link queue, checks the heartbeat and the safety sensors, applies
// commands, ramps the motors, renders the indicator and emits telemetry, in
// that order. Link and board drivers only talk to the loop through the
// bounded link queue and the cached sensor reading.
package body

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/teslashibe/go-body/internal/config"
	"github.com/teslashibe/go-body/internal/log"
	"github.com/teslashibe/go-body/pkg/hardware"
	"github.com/teslashibe/go-body/pkg/heartbeat"
	"github.com/teslashibe/go-body/pkg/indicator"
	"github.com/teslashibe/go-body/pkg/link"
	"github.com/teslashibe/go-body/pkg/motion"
	"github.com/teslashibe/go-body/pkg/protocol"
	"github.com/teslashibe/go-body/pkg/safety"
	"github.com/teslashibe/go-body/pkg/telemetry"
)

// Command rejection reasons, sent as error_msg in acks.
var (
	ErrEmergency    = errors.New("emergency stop active, send reset")
	ErrBrainOffline = errors.New("brain offline")
	ErrBlocked      = errors.New("blocked by safety")
	ErrDriveFault   = errors.New("drive disabled after fault")
	ErrLightFault   = errors.New("light disabled after fault")
	ErrNotIdle      = errors.New("light override is only honored while idle")
	ErrLatched      = errors.New("critical battery, charge before reset")

	// ErrMissingDependency is returned by New.
	ErrMissingDependency = errors.New("body: missing dependency")
)

// Options wires a Controller.
type Options struct {
	Config  config.Config
	Link    link.Link
	Queue   *link.Queue // created from Config when nil
	Drive   hardware.Drive
	Sensors hardware.Sensors
	Light   hardware.Light
	Clock   Clock        // SystemClock when nil
	Logger  *slog.Logger // discards when nil

	// Observer receives a snapshot on every state change and once per
	// telemetry interval, connected or not. It runs on the loop goroutine
	// and must not block.
	Observer func(telemetry.Snapshot)

	// NewID generates ack command ids for commands sent without one.
	NewID func() string

	// FreeMemory is sampled once per telemetry interval.
	// telemetry.FreeMemory when nil.
	FreeMemory func() uint64
}

// Stats are loop diagnostics.
type Stats struct {
	Ticks       uint64
	Overruns    uint64
	Rejected    uint64 // inbound messages that failed to decode
	Stale       uint64 // messages from a closed connection
	AcksDropped uint64
}

// Controller is the body state machine. Tick and Run must be called from a
// single goroutine.
type Controller struct {
	cfg      config.Config
	link     link.Link
	queue    *link.Queue
	drive    hardware.Drive
	sensors  hardware.Sensors
	light    hardware.Light
	clock    Clock
	logger   *slog.Logger
	observer func(telemetry.Snapshot)
	newID    func() string
	memory   func() uint64

	hb       *heartbeat.Supervisor
	safety   *safety.Monitor
	motion   *motion.Controller
	reporter *telemetry.Reporter

	state           State
	stateSince      time.Time
	stateChanged    bool
	gen             uint64
	reading         safety.Reading
	verdict         safety.Verdict
	emergencyReason safety.Reason
	resetPending    bool
	override        *indicator.Override
	pending         []protocol.Command

	ind        indicator.State
	lastRGB    indicator.RGB
	rgbWritten bool
	lastDrive  motion.Speeds
	driveSent  bool
	driveFault bool
	lightFault bool

	freeMemory uint64

	started      time.Time
	now          time.Time
	tickCount    uint64
	pollEvery    uint64
	refreshEvery uint64
	stats        Stats
}

// New creates a controller in the Advertising state.
func New(opts Options) (*Controller, error) {
	if opts.Link == nil || opts.Drive == nil || opts.Sensors == nil || opts.Light == nil {
		return nil, ErrMissingDependency
	}
	cfg := opts.Config
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if opts.Queue == nil {
		opts.Queue = link.NewQueue(cfg.Link.QueueSize)
	}
	if opts.Clock == nil {
		opts.Clock = SystemClock{}
	}
	if opts.Logger == nil {
		opts.Logger = log.Discard()
	}
	if opts.NewID == nil {
		opts.NewID = uuid.NewString
	}
	if opts.FreeMemory == nil {
		opts.FreeMemory = telemetry.FreeMemory
	}

	now := opts.Clock.Now()
	c := &Controller{
		cfg:      cfg,
		link:     opts.Link,
		queue:    opts.Queue,
		drive:    opts.Drive,
		sensors:  opts.Sensors,
		light:    opts.Light,
		clock:    opts.Clock,
		logger:   opts.Logger,
		observer: opts.Observer,
		newID:    opts.NewID,
		memory:   opts.FreeMemory,
		safety: safety.NewMonitor(safety.Thresholds{
			DistanceCM:         cfg.Safety.DistanceThresholdCM,
			LowBatteryPct:      cfg.Safety.LowBatteryPct,
			CriticalBatteryPct: cfg.Safety.CriticalBatteryPct,
			LowBatterySpeedCap: cfg.Safety.LowBatterySpeedCap,
		}),
		motion:       motion.NewController(cfg.Motion.RampStep, cfg.Motion.RampDelay),
		reporter:     telemetry.NewReporter(cfg.Timing.TelemetryInterval, cfg.Link.MaxPayload, opts.Logger),
		state:        StateAdvertising,
		stateSince:   now,
		started:      now,
		now:          now,
		pollEvery:    uint64(cfg.Timing.TicksPer(cfg.Timing.SensorPoll)),
		refreshEvery: uint64(cfg.Timing.TicksPer(cfg.Timing.TelemetryInterval)),
	}
	return c, nil
}

// Queue returns the inbound queue the link publishes into.
func (c *Controller) Queue() *link.Queue { return c.queue }

// State returns the current state. Loop goroutine only.
func (c *Controller) State() State { return c.state }

// Stats returns loop diagnostics. Loop goroutine only.
func (c *Controller) Stats() Stats { return c.stats }

// Run starts the link and ticks every loop period until ctx is done. The
// motors are stopped and the link closed on return.
func (c *Controller) Run(ctx context.Context) error {
	if err := c.link.Start(ctx, c.queue); err != nil {
		return fmt.Errorf("body: start link: %w", err)
	}
	defer c.shutdown()

	period := c.cfg.Timing.LoopPeriod
	ticker := time.NewTicker(period)
	defer ticker.Stop()

	c.logger.Info("control loop running", "period", period, "link", c.cfg.Link.Kind, "board", c.cfg.Board.Kind)
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			start := time.Now()
			c.Tick()
			if elapsed := time.Since(start); elapsed > period {
				c.stats.Overruns++
				c.logger.Warn("tick overran", "elapsed", elapsed, "period", period)
			}
		}
	}
}

func (c *Controller) shutdown() {
	if !c.driveFault {
		if err := c.drive.SetSpeeds(0, 0); err != nil {
			c.logger.Error("stop motors on shutdown", "error", err)
		}
	}
	if !c.lightFault {
		c.light.SetRGB(0, 0, 0)
	}
	if err := c.link.Close(); err != nil {
		c.logger.Warn("close link", "error", err)
	}
	c.logger.Info("control loop stopped", "ticks", c.stats.Ticks, "overruns", c.stats.Overruns)
}

// Tick runs one control cycle at the clock's current time.
func (c *Controller) Tick() {
	c.now = c.clock.Now()
	c.stateChanged = false

	if c.tickCount%c.pollEvery == 0 {
		c.pollSensors()
	}
	if c.tickCount%c.refreshEvery == 0 {
		c.freeMemory = c.memory()
	}
	c.tickCount++
	c.stats.Ticks++

	c.queue.Drain(c.cfg.Link.QueueSize, c.handleEvent)

	if c.state.Connected() {
		c.checkHeartbeat()
		c.checkSafety()
		c.applyCommands()
	}
	c.pending = c.pending[:0]

	c.updateMotion()
	c.updateIndicator()

	if c.state.Connected() {
		c.reporter.Flush(c.now, c.link, c.Snapshot)
	}
	if c.observer != nil && (c.stateChanged || c.tickCount%c.refreshEvery == 0) {
		c.observer(c.Snapshot())
	}
}

func (c *Controller) pollSensors() {
	r, ok := c.sensors.Latest()
	if !ok {
		r = safety.Reading{}
	}
	c.reading = r
}

// =============================================================================
// Link events
// =============================================================================

func (c *Controller) handleEvent(ev link.Event) {
	switch ev.Kind {
	case link.EventConnected:
		c.onConnect(ev)
	case link.EventDisconnected:
		if ev.Gen == c.gen && c.state.Connected() {
			c.onDisconnect(ev)
		}
	case link.EventMessage:
		if ev.Gen != c.gen || !c.state.Connected() {
			c.stats.Stale++
			return
		}
		c.onMessage(ev.Data)
	}
}

func (c *Controller) onConnect(ev link.Event) {
	if c.state.Connected() {
		c.logger.Warn("new connection replaces current one", "old_gen", c.gen, "gen", ev.Gen)
	}
	c.gen = ev.Gen
	c.hb = heartbeat.NewSupervisor(c.cfg.Timing.HeartbeatTimeout, c.now)
	c.reporter.Reset(c.now)
	c.motion.Reset()
	c.pending = c.pending[:0]
	c.resetPending = false
	c.emergencyReason = safety.ReasonNone
	c.logger.Info("brain connected", "peer", ev.Peer, "gen", ev.Gen)
	c.setState(StateIdle)
}

func (c *Controller) onDisconnect(ev link.Event) {
	c.logger.Info("brain disconnected", "peer", ev.Peer, "gen", ev.Gen)
	c.motion.Reset()
	c.pending = c.pending[:0]
	c.resetPending = false
	c.writeDrive(motion.Speeds{}, true)
	c.setState(StateAdvertising)
}

func (c *Controller) onMessage(data []byte) {
	cmd, err := protocol.DecodeLimit(data, c.cfg.Link.MaxPayload)
	if err != nil {
		var id string
		var de *protocol.DecodeError
		if errors.As(err, &de) {
			id = de.CommandID
		}
		c.stats.Rejected++
		c.logger.Debug("rejected message", "error", err)
		c.ack(id, err)
		return
	}
	if hb, ok := cmd.(protocol.Heartbeat); ok {
		c.hb.Record(c.now, hb.Timestamp)
		return
	}
	c.pending = append(c.pending, cmd)
}

// =============================================================================
// Supervision
// =============================================================================

func (c *Controller) checkHeartbeat() {
	if !c.hb.IsOnline(c.now) {
		if c.state != StateBrainOffline {
			c.motion.Cancel()
			c.resetPending = false
			c.logger.Warn("brain heartbeat lost", "since_last", c.now.Sub(c.hb.Status(c.now).LastReceived))
			c.setState(StateBrainOffline)
		}
		return
	}
	if c.state == StateBrainOffline {
		c.logger.Info("brain heartbeat restored")
		if c.emergencyReason != safety.ReasonNone {
			c.setState(StateEmergency)
			return
		}
		c.setState(StateIdle)
	}
}

func (c *Controller) checkSafety() {
	v := c.evaluate()

	switch c.state {
	case StateExecuting:
		if v.Stop {
			c.enterEmergency(v.Reason)
		}
	case StateEmergency:
		if c.resetPending && c.safety.Cleared(c.emergencyReason, c.reading) && c.safety.Acknowledge(c.reading) {
			c.logger.Info("emergency cleared", "reason", c.emergencyReason)
			c.resetPending = false
			c.emergencyReason = safety.ReasonNone
			c.setState(StateIdle)
		}
	}
}

// evaluate runs the safety monitor against the direction of the current
// step and records the verdict.
func (c *Controller) evaluate() safety.Verdict {
	v := c.safety.Evaluate(c.reading, c.motion.Direction())
	if v != c.verdict {
		if v.Stop {
			c.logger.Warn("safety stop", "reason", v.Reason, "state", c.state)
		} else {
			c.logger.Info("safety clear", "previous", c.verdict.Reason)
		}
		c.reporter.Push()
	}
	c.verdict = v
	return v
}

func (c *Controller) enterEmergency(reason safety.Reason) {
	c.motion.Cancel()
	c.emergencyReason = reason
	c.resetPending = false
	c.logger.Warn("emergency stop", "reason", reason)
	c.setState(StateEmergency)
}

func (c *Controller) setState(next State) {
	if next == c.state {
		return
	}
	c.logger.Info("state change", "from", c.state, "to", next)
	c.state = next
	c.stateSince = c.now
	c.stateChanged = true
	c.override = nil
	c.reporter.Push()
}

// =============================================================================
// Outputs
// =============================================================================

// updateMotion moves the step cursor, vets a newly entered step against the
// current reading and only then ramps toward its target.
func (c *Controller) updateMotion() {
	dt := c.cfg.Timing.LoopPeriod
	res := c.motion.Advance(dt)
	if res.StepChanged && c.state == StateExecuting && c.motion.Active() {
		if v := c.evaluate(); v.Stop {
			c.enterEmergency(v.Reason)
		}
	}
	if res.Completed && c.state == StateExecuting {
		c.logger.Info("motion complete")
		c.setState(StateIdle)
	}
	out := c.motion.Ramp(dt, c.safety.SpeedCap())
	c.writeDrive(out.Actual, false)
}

// writeDrive sends speeds to the motors, skipping unchanged values except
// for a periodic refresh.
func (c *Controller) writeDrive(s motion.Speeds, force bool) {
	if c.driveFault {
		return
	}
	if !force && c.driveSent && s == c.lastDrive && c.tickCount%c.refreshEvery != 0 {
		return
	}
	if err := c.drive.SetSpeeds(s.Left, s.Right); err != nil {
		c.driveFault = true
		c.logger.Error("drive fault, motors disabled", "error", err)
		c.motion.Reset()
		if c.state == StateExecuting {
			c.setState(StateIdle)
		}
		c.reporter.Push()
		return
	}
	c.lastDrive = s
	c.driveSent = true
}

func (c *Controller) updateIndicator() {
	c.ind = indicator.Render(c.state.mode(), c.override, c.now.Sub(c.stateSince))
	if c.lightFault {
		return
	}
	rgb := c.ind.Output()
	if c.rgbWritten && rgb == c.lastRGB {
		return
	}
	if err := c.light.SetRGB(rgb.R, rgb.G, rgb.B); err != nil {
		c.lightFault = true
		c.logger.Error("light fault, indicator disabled", "error", err)
		c.reporter.Push()
		return
	}
	c.lastRGB = rgb
	c.rgbWritten = true
}

// Snapshot builds a telemetry snapshot of the current tick. Loop goroutine
// only.
func (c *Controller) Snapshot() telemetry.Snapshot {
	var progress *motion.Progress
	if p, ok := c.motion.Progress(); ok {
		progress = &p
	}
	var hb heartbeat.Status
	if c.hb != nil && c.state.Connected() {
		hb = c.hb.Status(c.now)
	}
	return telemetry.Snapshot{
		At:         c.now,
		Started:    c.started,
		State:      string(c.state),
		Reason:     c.reason(),
		Reading:    c.reading.Clone(),
		LowBattery: c.safety.LowBattery(),
		Target:     c.motion.Target(),
		Actual:     c.motion.Actual(),
		Progress:   progress,
		Indicator:  c.ind,
		Heartbeat:  hb,
		FreeMemory: c.freeMemory,
	}
}

// reason is the stop reason reported in telemetry.
func (c *Controller) reason() safety.Reason {
	if c.state == StateEmergency {
		return c.emergencyReason
	}
	if c.verdict.Stop {
		return c.verdict.Reason
	}
	return safety.ReasonNone
}
