// Package config provides the immutable body controller configuration.
//
// Values are layered: Default(), then an optional YAML file, then a .env
// file and BODY_* environment variables. The result is validated once and
// passed by value into the control loop; nothing reads timing constants from
// globals.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// ErrInvalid is wrapped by every validation failure.
var ErrInvalid = errors.New("config: invalid configuration")

// Link kinds.
const (
	LinkBLE       = "ble"
	LinkWebSocket = "ws"
	LinkPipe      = "pipe"
)

// Board kinds.
const (
	BoardSim    = "sim"
	BoardSerial = "serial"
)

// Config is the complete controller configuration.
type Config struct {
	Timing    TimingConfig    `yaml:"timing"`
	Safety    SafetyConfig    `yaml:"safety"`
	Motion    MotionConfig    `yaml:"motion"`
	Link      LinkConfig      `yaml:"link"`
	Board     BoardConfig     `yaml:"board"`
	Dashboard DashboardConfig `yaml:"dashboard"`
	Journal   JournalConfig   `yaml:"journal"`
	LogLevel  string          `yaml:"log_level"`
}

// TimingConfig holds the loop cadence and every timeout derived from it.
type TimingConfig struct {
	LoopPeriod        time.Duration `yaml:"loop_period"`
	SensorPoll        time.Duration `yaml:"sensor_poll"`
	HeartbeatTimeout  time.Duration `yaml:"heartbeat_timeout"`
	TelemetryInterval time.Duration `yaml:"telemetry_interval"`
}

// SafetyConfig holds the reactive safety thresholds.
type SafetyConfig struct {
	DistanceThresholdCM int `yaml:"distance_threshold_cm"`
	LowBatteryPct       int `yaml:"low_battery_pct"`
	CriticalBatteryPct  int `yaml:"critical_battery_pct"`
	LowBatterySpeedCap  int `yaml:"low_battery_speed_cap"`
}

// MotionConfig holds the ramp parameters.
type MotionConfig struct {
	RampStep  int           `yaml:"ramp_step"`  // percent per ramp tick
	RampDelay time.Duration `yaml:"ramp_delay"` // time between ramp ticks
}

// LinkConfig describes the transport to the brain.
type LinkConfig struct {
	Kind       string `yaml:"kind"`        // ble, ws, pipe
	Name       string `yaml:"name"`        // advertised name (BLE)
	Addr       string `yaml:"addr"`        // listen address (ws)
	QueueSize  int    `yaml:"queue_size"`  // inbound event queue capacity
	SendBuffer int    `yaml:"send_buffer"` // outbound frames buffered before drops
	MaxPayload int    `yaml:"max_payload"` // bytes
}

// BoardConfig describes the motor/sensor/LED hardware.
type BoardConfig struct {
	Kind string `yaml:"kind"` // sim, serial
	Port string `yaml:"port"`
	Baud int    `yaml:"baud"`
}

// DashboardConfig controls the optional status dashboard.
type DashboardConfig struct {
	Enabled bool   `yaml:"enabled"`
	Addr    string `yaml:"addr"`
}

// JournalConfig controls the persistent state transition journal.
type JournalConfig struct {
	Path       string `yaml:"path"` // empty disables the journal
	MaxEntries int    `yaml:"max_entries"`
}

// Default returns the reference configuration.
func Default() Config {
	return Config{
		Timing: TimingConfig{
			LoopPeriod:        50 * time.Millisecond,
			SensorPoll:        100 * time.Millisecond,
			HeartbeatTimeout:  3000 * time.Millisecond,
			TelemetryInterval: 1000 * time.Millisecond,
		},
		Safety: SafetyConfig{
			DistanceThresholdCM: 10,
			LowBatteryPct:       10,
			CriticalBatteryPct:  5,
			LowBatterySpeedCap:  50,
		},
		Motion: MotionConfig{
			RampStep:  10,
			RampDelay: 50 * time.Millisecond,
		},
		Link: LinkConfig{
			Kind:       LinkWebSocket,
			Name:       "ROBI-BODY",
			Addr:       ":8765",
			QueueSize:  64,
			SendBuffer: 16,
			MaxPayload: 512,
		},
		Board: BoardConfig{
			Kind: BoardSim,
			Port: "/dev/ttyUSB0",
			Baud: 115200,
		},
		Dashboard: DashboardConfig{
			Enabled: false,
			Addr:    ":8080",
		},
		Journal: JournalConfig{
			MaxEntries: 1000,
		},
		LogLevel: "info",
	}
}

// Load builds a configuration from defaults, the YAML file at path (if not
// empty), the given .env files (".env" when none are given, ignored if
// missing) and BODY_* environment variables.
func Load(path string, envFiles ...string) (Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("config: read %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("config: parse %s: %w", path, err)
		}
	}

	if len(envFiles) == 0 {
		_ = godotenv.Load()
	} else if err := godotenv.Load(envFiles...); err != nil {
		return Config{}, fmt.Errorf("config: load env files: %w", err)
	}

	if err := cfg.applyEnv(); err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c *Config) applyEnv() error {
	c.LogLevel = getEnv("BODY_LOG_LEVEL", c.LogLevel)
	c.Link.Kind = getEnv("BODY_LINK", c.Link.Kind)
	c.Link.Name = getEnv("BODY_LINK_NAME", c.Link.Name)
	c.Link.Addr = getEnv("BODY_LINK_ADDR", c.Link.Addr)
	c.Board.Kind = getEnv("BODY_BOARD", c.Board.Kind)
	c.Board.Port = getEnv("BODY_SERIAL_PORT", c.Board.Port)
	c.Dashboard.Addr = getEnv("BODY_DASHBOARD_ADDR", c.Dashboard.Addr)
	c.Journal.Path = getEnv("BODY_JOURNAL", c.Journal.Path)

	var err error
	if c.Board.Baud, err = getEnvAsInt("BODY_SERIAL_BAUD", c.Board.Baud); err != nil {
		return err
	}
	if c.Dashboard.Enabled, err = getEnvAsBool("BODY_DASHBOARD", c.Dashboard.Enabled); err != nil {
		return err
	}
	if c.Timing.LoopPeriod, err = getEnvAsDuration("BODY_LOOP_PERIOD", c.Timing.LoopPeriod); err != nil {
		return err
	}
	if c.Timing.HeartbeatTimeout, err = getEnvAsDuration("BODY_HEARTBEAT_TIMEOUT", c.Timing.HeartbeatTimeout); err != nil {
		return err
	}
	return nil
}

// Validate checks ranges and that the loop period divides every timing
// constant, so each cadence lands exactly on a tick.
func (c Config) Validate() error {
	t := c.Timing
	if t.LoopPeriod <= 0 {
		return fmt.Errorf("%w: loop_period must be positive", ErrInvalid)
	}
	if t.LoopPeriod > 50*time.Millisecond {
		return fmt.Errorf("%w: loop_period %v exceeds 50ms", ErrInvalid, t.LoopPeriod)
	}
	cadences := []struct {
		name string
		d    time.Duration
	}{
		{"sensor_poll", t.SensorPoll},
		{"heartbeat_timeout", t.HeartbeatTimeout},
		{"telemetry_interval", t.TelemetryInterval},
		{"ramp_delay", c.Motion.RampDelay},
	}
	for _, cd := range cadences {
		if cd.d <= 0 {
			return fmt.Errorf("%w: %s must be positive", ErrInvalid, cd.name)
		}
		if cd.d%t.LoopPeriod != 0 {
			return fmt.Errorf("%w: %s %v is not a multiple of loop_period %v", ErrInvalid, cd.name, cd.d, t.LoopPeriod)
		}
	}

	s := c.Safety
	if s.DistanceThresholdCM <= 0 {
		return fmt.Errorf("%w: distance_threshold_cm must be positive", ErrInvalid)
	}
	if s.CriticalBatteryPct < 0 || s.CriticalBatteryPct >= s.LowBatteryPct || s.LowBatteryPct > 100 {
		return fmt.Errorf("%w: need 0 <= critical_battery_pct < low_battery_pct <= 100", ErrInvalid)
	}
	if s.LowBatterySpeedCap <= 0 || s.LowBatterySpeedCap > 100 {
		return fmt.Errorf("%w: low_battery_speed_cap must be in (0,100]", ErrInvalid)
	}

	if c.Motion.RampStep <= 0 || c.Motion.RampStep > 100 {
		return fmt.Errorf("%w: ramp_step must be in (0,100]", ErrInvalid)
	}

	switch c.Link.Kind {
	case LinkBLE, LinkWebSocket, LinkPipe:
	default:
		return fmt.Errorf("%w: unknown link kind %q", ErrInvalid, c.Link.Kind)
	}
	if c.Link.QueueSize <= 0 || c.Link.SendBuffer <= 0 {
		return fmt.Errorf("%w: queue_size and send_buffer must be positive", ErrInvalid)
	}
	if c.Link.MaxPayload <= 0 {
		return fmt.Errorf("%w: max_payload must be positive", ErrInvalid)
	}

	if c.Journal.Path != "" && c.Journal.MaxEntries <= 0 {
		return fmt.Errorf("%w: journal max_entries must be positive", ErrInvalid)
	}

	switch c.Board.Kind {
	case BoardSim:
	case BoardSerial:
		if c.Board.Port == "" || c.Board.Baud <= 0 {
			return fmt.Errorf("%w: serial board needs port and baud", ErrInvalid)
		}
	default:
		return fmt.Errorf("%w: unknown board kind %q", ErrInvalid, c.Board.Kind)
	}
	return nil
}

// TicksPer returns how many loop periods fit in d.
func (t TimingConfig) TicksPer(d time.Duration) int {
	return int(d / t.LoopPeriod)
}

func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok && value != "" {
		return value
	}
	return fallback
}

func getEnvAsInt(key string, fallback int) (int, error) {
	value, ok := os.LookupEnv(key)
	if !ok || value == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(value)
	if err != nil {
		return 0, fmt.Errorf("%w: %s: %v", ErrInvalid, key, err)
	}
	return n, nil
}

func getEnvAsBool(key string, fallback bool) (bool, error) {
	value, ok := os.LookupEnv(key)
	if !ok || value == "" {
		return fallback, nil
	}
	b, err := strconv.ParseBool(value)
	if err != nil {
		return false, fmt.Errorf("%w: %s: %v", ErrInvalid, key, err)
	}
	return b, nil
}

func getEnvAsDuration(key string, fallback time.Duration) (time.Duration, error) {
	value, ok := os.LookupEnv(key)
	if !ok || value == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		return 0, fmt.Errorf("%w: %s: %v", ErrInvalid, key, err)
	}
	return d, nil
}
