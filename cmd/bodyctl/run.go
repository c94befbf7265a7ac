package main

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/teslashibe/go-body/internal/config"
	"github.com/teslashibe/go-body/internal/log"
	"github.com/teslashibe/go-body/pkg/body"
	"github.com/teslashibe/go-body/pkg/hardware"
	"github.com/teslashibe/go-body/pkg/journal"
	"github.com/teslashibe/go-body/pkg/link"
	"github.com/teslashibe/go-body/pkg/safety"
	"github.com/teslashibe/go-body/pkg/telemetry"
	"github.com/teslashibe/go-body/pkg/web"
)

var runFlags struct {
	configPath    string
	link          string
	board         string
	port          string
	dashboard     bool
	dashboardAddr string
	journalPath   string
	logLevel      string
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Start the body control loop",
	Long: `Start the body control loop.

Configuration is layered: defaults, the --config YAML file, .env, BODY_*
environment variables and finally these flags.

With --link pipe a built-in demo brain drives the body, which together with
--board sim and --dashboard runs entirely without hardware.`,
	RunE: runBody,
}

func init() {
	f := runCmd.Flags()
	f.StringVarP(&runFlags.configPath, "config", "c", "", "YAML configuration file")
	f.StringVarP(&runFlags.link, "link", "l", "", "Brain link: ble, ws or pipe")
	f.StringVarP(&runFlags.board, "board", "b", "", "Hardware board: sim or serial")
	f.StringVarP(&runFlags.port, "port", "p", "", "Serial port of the board")
	f.BoolVar(&runFlags.dashboard, "dashboard", false, "Serve the status dashboard")
	f.StringVar(&runFlags.dashboardAddr, "dashboard-addr", "", "Dashboard listen address")
	f.StringVar(&runFlags.journalPath, "journal", "", "State transition journal database")
	f.StringVar(&runFlags.logLevel, "log-level", "", "debug, info, warn or error")
}

func runBody(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(runFlags.configPath)
	if err != nil {
		return err
	}
	applyRunFlags(cmd, &cfg)
	if err := cfg.Validate(); err != nil {
		return err
	}

	log.Init(cfg.LogLevel)
	logger := log.L()

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	board, sim, err := openBoard(cfg)
	if err != nil {
		return err
	}
	defer board.Close()

	jr, journalDone, err := startJournal(ctx, cfg)
	if err != nil {
		return err
	}
	defer func() {
		cancel()
		<-journalDone
	}()

	var dash *web.Server
	if cfg.Dashboard.Enabled {
		opts := web.Options{Addr: cfg.Dashboard.Addr, Logger: log.Component("web")}
		if sim != nil {
			opts.Sim = sim
		}
		if jr != nil {
			opts.Journal = jr
		}
		dash = web.NewServer(opts)
	}

	brainLink, pipe := openLink(cfg, dash)

	opts := body.Options{
		Config:  cfg,
		Link:    brainLink,
		Drive:   board,
		Sensors: board,
		Light:   board,
		Logger:  log.Component("body"),
	}
	var observers []func(telemetry.Snapshot)
	if dash != nil {
		observers = append(observers, dash.Observe)
	}
	if jr != nil {
		observers = append(observers, jr.Observe)
	}
	opts.Observer = fanOut(observers...)
	ctrl, err := body.New(opts)
	if err != nil {
		return err
	}

	if dash != nil {
		go func() {
			if err := dash.Run(ctx); err != nil {
				logger.Error("dashboard failed", "error", err)
				cancel()
			}
		}()
	}
	if pipe != nil {
		go runDemoBrain(ctx, pipe, log.Component("demo"))
	}

	logger.Info("body starting", "version", version, "link", cfg.Link.Kind, "board", cfg.Board.Kind,
		"dashboard", cfg.Dashboard.Enabled, "journal", cfg.Journal.Path)
	return ctrl.Run(ctx)
}

// startJournal opens the configured journal and runs its writer until ctx is
// done. The returned channel closes once the database is closed; it is
// already closed when no journal is configured.
func startJournal(ctx context.Context, cfg config.Config) (*journal.Journal, <-chan struct{}, error) {
	done := make(chan struct{})
	if cfg.Journal.Path == "" {
		close(done)
		return nil, done, nil
	}
	jr, err := journal.Open(cfg.Journal.Path, cfg.Journal.MaxEntries, log.Component("journal"))
	if err != nil {
		return nil, nil, err
	}
	go func() {
		defer close(done)
		jr.Run(ctx)
	}()
	return jr, done, nil
}

func applyRunFlags(cmd *cobra.Command, cfg *config.Config) {
	f := cmd.Flags()
	if f.Changed("link") {
		cfg.Link.Kind = runFlags.link
	}
	if f.Changed("board") {
		cfg.Board.Kind = runFlags.board
	}
	if f.Changed("port") {
		cfg.Board.Port = runFlags.port
	}
	if f.Changed("dashboard") {
		cfg.Dashboard.Enabled = runFlags.dashboard
	}
	if f.Changed("dashboard-addr") {
		cfg.Dashboard.Addr = runFlags.dashboardAddr
	}
	if f.Changed("journal") {
		cfg.Journal.Path = runFlags.journalPath
	}
	if f.Changed("log-level") {
		cfg.LogLevel = runFlags.logLevel
	}
}

// fanOut calls every observer in order. It returns nil when there are none.
func fanOut(observers ...func(telemetry.Snapshot)) func(telemetry.Snapshot) {
	switch len(observers) {
	case 0:
		return nil
	case 1:
		return observers[0]
	}
	return func(s telemetry.Snapshot) {
		for _, o := range observers {
			o(s)
		}
	}
}

// openBoard returns the board and, for the simulated board, its injector.
func openBoard(cfg config.Config) (hardware.Board, *hardware.SimBoard, error) {
	switch cfg.Board.Kind {
	case config.BoardSerial:
		sc := hardware.DefaultSerialConfig()
		sc.Port, sc.Baud = cfg.Board.Port, cfg.Board.Baud
		b, err := hardware.OpenSerial(sc, log.Component("board"))
		if err != nil {
			return nil, nil, err
		}
		return b, nil, nil
	case config.BoardSim:
		sim := hardware.NewSimBoard(safety.NewReading(200, 200, 100))
		return sim, sim, nil
	}
	return nil, nil, fmt.Errorf("unknown board %q", cfg.Board.Kind)
}

// openLink builds the brain link. A websocket link shares the dashboard's
// listener when both use the same address.
func openLink(cfg config.Config, dash *web.Server) (link.Link, *link.Pipe) {
	lc := link.Config{
		Name:       cfg.Link.Name,
		Addr:       cfg.Link.Addr,
		SendBuffer: cfg.Link.SendBuffer,
		MaxPayload: cfg.Link.MaxPayload,
	}
	logger := log.Component("link")

	switch cfg.Link.Kind {
	case config.LinkBLE:
		return link.NewBLE(lc, logger), nil
	case config.LinkPipe:
		p := link.NewPipe(lc)
		return p, p
	}
	if dash != nil && cfg.Dashboard.Addr == cfg.Link.Addr {
		return link.MountWebSocket(dash.App(), lc, logger), nil
	}
	return link.NewWebSocket(lc, logger), nil
}
