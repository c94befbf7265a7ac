package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestDefault_IsValid(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())

	assert.Equal(t, 50*time.Millisecond, cfg.Timing.LoopPeriod)
	assert.Equal(t, 3000*time.Millisecond, cfg.Timing.HeartbeatTimeout)
	assert.Equal(t, 10, cfg.Motion.RampStep)
	assert.Equal(t, 10, cfg.Safety.DistanceThresholdCM)
	assert.Equal(t, 512, cfg.Link.MaxPayload)
	assert.Equal(t, 2, cfg.Timing.TicksPer(cfg.Timing.SensorPoll))
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"zero loop", func(c *Config) { c.Timing.LoopPeriod = 0 }},
		{"loop too slow", func(c *Config) { c.Timing.LoopPeriod = 100 * time.Millisecond }},
		{"poll not multiple", func(c *Config) { c.Timing.SensorPoll = 120 * time.Millisecond }},
		{"ramp delay not multiple", func(c *Config) { c.Motion.RampDelay = 75 * time.Millisecond }},
		{"critical above low", func(c *Config) { c.Safety.CriticalBatteryPct = 20 }},
		{"cap zero", func(c *Config) { c.Safety.LowBatterySpeedCap = 0 }},
		{"ramp step too big", func(c *Config) { c.Motion.RampStep = 150 }},
		{"unknown link", func(c *Config) { c.Link.Kind = "zigbee" }},
		{"unknown board", func(c *Config) { c.Board.Kind = "gpio" }},
		{"serial without port", func(c *Config) { c.Board.Kind = BoardSerial; c.Board.Port = "" }},
		{"no queue", func(c *Config) { c.Link.QueueSize = 0 }},
		{"journal without limit", func(c *Config) { c.Journal.Path = "body.db"; c.Journal.MaxEntries = 0 }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(&cfg)
			assert.ErrorIs(t, cfg.Validate(), ErrInvalid)
		})
	}
}

func TestLoad_YAMLOverridesDefaults(t *testing.T) {
	path := writeFile(t, "body.yaml", `
timing:
  loop_period: 25ms
  sensor_poll: 100ms
  heartbeat_timeout: 2s
  telemetry_interval: 500ms
motion:
  ramp_step: 5
  ramp_delay: 25ms
link:
  kind: pipe
board:
  kind: sim
log_level: debug
`)
	envFile := writeFile(t, ".env", "")

	cfg, err := Load(path, envFile)
	require.NoError(t, err)

	assert.Equal(t, 25*time.Millisecond, cfg.Timing.LoopPeriod)
	assert.Equal(t, 2*time.Second, cfg.Timing.HeartbeatTimeout)
	assert.Equal(t, 5, cfg.Motion.RampStep)
	assert.Equal(t, LinkPipe, cfg.Link.Kind)
	assert.Equal(t, "debug", cfg.LogLevel)
	// untouched keys keep defaults
	assert.Equal(t, 10, cfg.Safety.DistanceThresholdCM)
	assert.Equal(t, "ROBI-BODY", cfg.Link.Name)
}

func TestLoad_EnvOverridesFile(t *testing.T) {
	path := writeFile(t, "body.yaml", "link:\n  kind: ws\n")
	envFile := writeFile(t, ".env", "BODY_SERIAL_BAUD=9600\n")

	t.Setenv("BODY_LINK", "pipe")
	t.Setenv("BODY_LINK_NAME", "TEST-BODY")
	t.Setenv("BODY_HEARTBEAT_TIMEOUT", "4s")

	cfg, err := Load(path, envFile)
	require.NoError(t, err)
	t.Cleanup(func() { os.Unsetenv("BODY_SERIAL_BAUD") })

	assert.Equal(t, LinkPipe, cfg.Link.Kind)
	assert.Equal(t, "TEST-BODY", cfg.Link.Name)
	assert.Equal(t, 4*time.Second, cfg.Timing.HeartbeatTimeout)
	assert.Equal(t, 9600, cfg.Board.Baud)
}

func TestLoad_BadEnv(t *testing.T) {
	envFile := writeFile(t, ".env", "")
	t.Setenv("BODY_LOOP_PERIOD", "fast")

	_, err := Load("", envFile)
	assert.ErrorIs(t, err, ErrInvalid)
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}
