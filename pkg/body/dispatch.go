package body

import (
	"fmt"

	"github.com/teslashibe/go-body/pkg/motion"
	"github.com/teslashibe/go-body/pkg/protocol"
)

func (c *Controller) applyCommands() {
	for _, cmd := range c.pending {
		c.dispatch(cmd)
	}
}

// dispatch applies one decoded command and acks it. Telemetry requests are
// answered with a report instead of an ack.
func (c *Controller) dispatch(cmd protocol.Command) {
	switch m := cmd.(type) {
	case protocol.Move:
		if m.Direction == motion.DirStop {
			c.stop(m.ID())
			return
		}
		c.startMotion(m.ID(), m.Motion())
	case protocol.MoveSequence:
		c.startMotion(m.ID(), m.Motion())
	case protocol.Stop:
		c.stop(m.ID())
	case protocol.Light:
		c.setLight(m)
	case protocol.TelemetryRequest:
		c.reporter.Request(m.Request)
	case protocol.Reset:
		c.reset(m.ID())
	default:
		c.logger.Warn("unhandled command", "type", cmd.Type())
	}
}

func (c *Controller) startMotion(id string, mc motion.Command) {
	switch {
	case c.driveFault:
		c.ack(id, ErrDriveFault)
		return
	case c.state == StateEmergency:
		c.ack(id, ErrEmergency)
		return
	case c.state == StateBrainOffline:
		c.ack(id, ErrBrainOffline)
		return
	}

	if v := c.safety.Evaluate(c.reading, mc.FirstDirection()); v.Stop {
		c.logger.Info("motion blocked", "reason", v.Reason, "label", mc.Label)
		c.reporter.Push()
		c.ack(id, fmt.Errorf("%w: %s", ErrBlocked, v.Reason))
		return
	}

	c.motion.SetTarget(mc)
	c.logger.Info("motion started", "label", mc.Label, "sequence", mc.Sequence, "steps", len(mc.Steps), "total", mc.Total)
	c.setState(StateExecuting)
	c.ack(id, nil)
}

// stop is idempotent: it always acks ok.
func (c *Controller) stop(id string) {
	c.motion.Cancel()
	if c.state == StateExecuting {
		c.setState(StateIdle)
	}
	c.ack(id, nil)
}

func (c *Controller) setLight(m protocol.Light) {
	switch {
	case c.lightFault:
		c.ack(m.ID(), ErrLightFault)
	case c.state != StateIdle:
		c.ack(m.ID(), ErrNotIdle)
	default:
		c.override = m.Override()
		c.ack(m.ID(), nil)
	}
}

// reset arms recovery from Emergency; the controller returns to Idle on the
// first tick the stop condition no longer holds. Outside Emergency it only
// tries to clear the critical-battery latch.
func (c *Controller) reset(id string) {
	if c.state == StateEmergency {
		c.resetPending = true
		c.logger.Info("emergency reset requested", "reason", c.emergencyReason)
		c.ack(id, nil)
		return
	}
	if !c.safety.Acknowledge(c.reading) {
		c.ack(id, ErrLatched)
		return
	}
	c.ack(id, nil)
}

func (c *Controller) ack(id string, err error) {
	if id == "" {
		id = c.newID()
	}
	a := protocol.Ack{Status: protocol.StatusOK, CommandID: id}
	if err != nil {
		a.Status = protocol.StatusError
		a.ErrorMsg = err.Error()
	}
	data, encErr := protocol.EncodeAck(a)
	if encErr != nil {
		c.logger.Error("encode ack", "error", encErr)
		return
	}
	if sendErr := c.link.Send(data); sendErr != nil {
		c.stats.AcksDropped++
		c.logger.Debug("ack dropped", "command_id", id, "error", sendErr)
	}
}
