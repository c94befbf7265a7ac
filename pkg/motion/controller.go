package motion

import (
	"time"
)

// TickResult reports what one Tick did.
type TickResult struct {
	Target      Speeds
	Actual      Speeds
	StepChanged bool // the cursor moved to a new step
	Completed   bool // the last step finished this tick
}

// Controller tracks the active command and ramps the wheel speeds.
//
// It is owned by the control loop and is not safe for concurrent use.
type Controller struct {
	rampStep  int
	rampDelay time.Duration

	target Speeds
	actual Speeds

	// Active command state (cmd nil = idle)
	cmd         *Command
	cursor      int
	stepElapsed time.Duration
	elapsed     time.Duration
	started     bool

	rampAcc time.Duration
}

// NewController creates a controller that moves each side by at most
// rampStep percent every rampDelay.
func NewController(rampStep int, rampDelay time.Duration) *Controller {
	if rampStep <= 0 {
		rampStep = 1
	}
	return &Controller{
		rampStep:  rampStep,
		rampDelay: rampDelay,
	}
}

// SetTarget replaces whatever was running with cmd. There is no queueing;
// the latest command wins and starts from its first step.
func (c *Controller) SetTarget(cmd Command) {
	c.cmd = &cmd
	c.cursor = 0
	c.stepElapsed = 0
	c.elapsed = 0
	c.started = false
}

// Cancel drops the active command. The target becomes zero right away; the
// actual speeds keep ramping down on the following ticks.
func (c *Controller) Cancel() {
	c.cmd = nil
	c.cursor = 0
	c.stepElapsed = 0
	c.elapsed = 0
	c.started = false
	c.target = Speeds{}
}

// Reset cancels and zeroes the actual speeds synchronously. Only used when
// the link drops, where stopping outweighs smoothness.
func (c *Controller) Reset() {
	c.Cancel()
	c.actual = Speeds{}
	c.rampAcc = 0
}

// Active reports whether a command is in flight.
func (c *Controller) Active() bool {
	return c.cmd != nil
}

// Target returns the current target speeds.
func (c *Controller) Target() Speeds {
	return c.target
}

// Actual returns the current ramped speeds.
func (c *Controller) Actual() Speeds {
	return c.actual
}

// Direction returns the direction of the step in progress, DirNone if idle.
func (c *Controller) Direction() Direction {
	if c.cmd == nil || c.cursor >= len(c.cmd.Steps) {
		return DirNone
	}
	return c.cmd.Steps[c.cursor].Direction
}

// Progress describes the active command. ok is false when idle.
func (c *Controller) Progress() (p Progress, ok bool) {
	if c.cmd == nil {
		return Progress{}, false
	}
	return Progress{
		Label:    c.cmd.Label,
		Sequence: c.cmd.Sequence,
		Step:     c.cursor,
		Steps:    len(c.cmd.Steps),
		Elapsed:  c.elapsed,
		Total:    c.cmd.Total,
	}, true
}

// Tick advances the active command by dt, recomputes the target with the
// given speed cap and ramps the actual speeds one step toward it. It is
// Advance followed by Ramp.
//
// The tick on which a command was set does not consume time, so a command
// set at t finishes its first step at t+duration.
func (c *Controller) Tick(dt time.Duration, speedCap int) TickResult {
	res := c.Advance(dt)
	ramped := c.Ramp(dt, speedCap)
	res.Target = ramped.Target
	res.Actual = ramped.Actual
	return res
}

// Advance moves the step cursor by dt without touching the speeds. Callers
// that must vet a new step before it drives the wheels check Direction
// between Advance and Ramp.
func (c *Controller) Advance(dt time.Duration) TickResult {
	var res TickResult
	if c.cmd == nil {
		return res
	}

	if c.started {
		c.stepElapsed += dt
		c.elapsed += dt
	}
	c.started = true

	for c.cursor < len(c.cmd.Steps) {
		step := c.cmd.Steps[c.cursor]
		if step.Continuous || c.stepElapsed < step.Duration {
			break
		}
		c.stepElapsed -= step.Duration
		c.cursor++
		res.StepChanged = true
	}
	if c.cursor >= len(c.cmd.Steps) {
		c.cmd = nil
		c.stepElapsed = 0
		c.started = false
		res.Completed = true
	}
	return res
}

// Ramp recomputes the target for the current step with the given speed cap
// and moves the actual speeds one ramp step toward it.
func (c *Controller) Ramp(dt time.Duration, speedCap int) TickResult {
	c.target = c.computeTarget(speedCap)
	c.ramp(dt)
	return TickResult{Target: c.target, Actual: c.actual}
}

func (c *Controller) computeTarget(speedCap int) Speeds {
	if c.cmd == nil {
		return Speeds{}
	}
	step := c.cmd.Steps[c.cursor]
	speed := step.Speed
	if speedCap >= 0 && speed > speedCap {
		speed = speedCap
	}
	return step.Direction.Speeds(speed)
}

// ramp moves actual toward target by at most one ramp step, and at most
// once per call.
func (c *Controller) ramp(dt time.Duration) {
	if c.rampDelay > 0 {
		c.rampAcc += dt
		if c.rampAcc < c.rampDelay {
			return
		}
		c.rampAcc %= c.rampDelay
	}
	c.actual.Left += clampStep(c.target.Left-c.actual.Left, c.rampStep)
	c.actual.Right += clampStep(c.target.Right-c.actual.Right, c.rampStep)
}
