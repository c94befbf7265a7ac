// Package web provides the body status dashboard: a small REST API, a live
// telemetry websocket and, with the simulated board, sensor injection.
package web

import (
	"context"
	"embed"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"sync"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/filesystem"
	"github.com/gofiber/websocket/v2"

	"github.com/teslashibe/go-body/pkg/hub"
	"github.com/teslashibe/go-body/pkg/journal"
	"github.com/teslashibe/go-body/pkg/safety"
	"github.com/teslashibe/go-body/pkg/telemetry"
)

//go:embed static
var static embed.FS

// ReadingInjector accepts simulated sensor readings.
type ReadingInjector interface {
	SetReading(safety.Reading)
}

// JournalReader lists recent state transitions.
type JournalReader interface {
	Recent(n int) ([]journal.Entry, error)
}

const (
	defaultJournalLimit = 50
	maxJournalLimit     = 500
)

// Options configures a Server.
type Options struct {
	Addr   string
	Logger *slog.Logger
	// Sim enables POST /api/sim/reading when set.
	Sim ReadingInjector
	// Journal enables GET /api/journal when set.
	Journal JournalReader
}

// Server is the dashboard server.
type Server struct {
	app    *fiber.App
	addr   string
	logger *slog.Logger
	sim    ReadingInjector
	jr     JournalReader

	statusHub *hub.Hub

	mu     sync.RWMutex
	latest *Status
}

// NewServer creates a dashboard server. Call Run to serve it.
func NewServer(opts Options) *Server {
	if opts.Logger == nil {
		opts.Logger = slog.New(slog.DiscardHandler)
	}
	s := &Server{
		addr:      opts.Addr,
		logger:    opts.Logger,
		sim:       opts.Sim,
		jr:        opts.Journal,
		statusHub: hub.New("telemetry", opts.Logger),
	}

	app := fiber.New(fiber.Config{
		AppName:               "Body Dashboard",
		DisableStartupMessage: true,
	})

	// CORS for local development
	app.Use(cors.New())

	api := app.Group("/api")
	api.Get("/health", s.handleHealth)
	api.Get("/status", s.handleStatus)
	if s.sim != nil {
		api.Post("/sim/reading", s.handleSimReading)
	}
	if s.jr != nil {
		api.Get("/journal", s.handleJournal)
	}

	app.Use("/ws", func(c *fiber.Ctx) error {
		if websocket.IsWebSocketUpgrade(c) {
			return c.Next()
		}
		return fiber.ErrUpgradeRequired
	})
	app.Get("/ws/telemetry", websocket.New(s.handleTelemetryWS))

	app.Use("/", filesystem.New(filesystem.Config{
		Root:       http.FS(static),
		PathPrefix: "static",
		Index:      "index.html",
	}))

	s.app = app
	return s
}

// App returns the fiber app, for tests.
func (s *Server) App() *fiber.App { return s.app }

// Run serves until ctx is done.
func (s *Server) Run(ctx context.Context) error {
	go s.statusHub.Run(ctx)
	go func() {
		<-ctx.Done()
		if err := s.app.Shutdown(); err != nil {
			s.logger.Warn("dashboard shutdown", "error", err)
		}
	}()

	s.logger.Info("dashboard listening", "addr", s.addr)
	if err := s.app.Listen(s.addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Observe records a snapshot and streams it to dashboard clients. It never
// blocks, so it can be used as the controller observer.
func (s *Server) Observe(snap telemetry.Snapshot) {
	st := NewStatus(snap)
	s.mu.Lock()
	s.latest = &st
	s.mu.Unlock()

	if s.statusHub.ClientCount() == 0 {
		return
	}
	if err := s.statusHub.BroadcastJSON(st); err != nil {
		s.logger.Warn("encode dashboard status", "error", err)
	}
}

// Latest returns the last observed status.
func (s *Server) Latest() (Status, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.latest == nil {
		return Status{}, false
	}
	return *s.latest, true
}

func (s *Server) handleHealth(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{"status": "ok"})
}

func (s *Server) handleStatus(c *fiber.Ctx) error {
	st, ok := s.Latest()
	if !ok {
		return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{
			"error": "no status yet",
		})
	}
	return c.JSON(st)
}

func (s *Server) handleJournal(c *fiber.Ctx) error {
	limit := defaultJournalLimit
	if q := c.Query("limit"); q != "" {
		n, err := strconv.Atoi(q)
		if err != nil || n <= 0 {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "limit must be a positive integer"})
		}
		limit = min(n, maxJournalLimit)
	}
	entries, err := s.jr.Recent(limit)
	if err != nil {
		s.logger.Warn("read journal", "error", err)
		return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{"error": err.Error()})
	}
	return c.JSON(entries)
}

// SimReadingRequest is the body of POST /api/sim/reading.
type SimReadingRequest struct {
	FrontCM    int      `json:"front_cm"`
	RearCM     int      `json:"rear_cm"`
	BatteryPct int      `json:"battery_pct"`
	Cliffs     []string `json:"cliffs"`
	// Valid defaults to true; false simulates a sensor failure.
	Valid *bool `json:"valid"`
}

func (s *Server) handleSimReading(c *fiber.Ctx) error {
	var req SimReadingRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": err.Error()})
	}
	if req.BatteryPct < 0 || req.BatteryPct > 100 || req.FrontCM < 0 || req.RearCM < 0 {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "value out of range"})
	}
	for _, id := range req.Cliffs {
		if !knownCliff(id) {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "unknown cliff sensor " + id})
		}
	}

	r := safety.NewReading(req.FrontCM, req.RearCM, req.BatteryPct, req.Cliffs...)
	if req.Valid != nil {
		r.Valid = *req.Valid
	}
	s.sim.SetReading(r)
	s.logger.Info("sim reading injected", "front_cm", r.DistanceFrontCM, "rear_cm", r.DistanceRearCM,
		"battery_pct", r.BatteryPct, "cliffs", req.Cliffs, "valid", r.Valid)
	return c.SendStatus(fiber.StatusNoContent)
}

func knownCliff(id string) bool {
	for _, c := range safety.CliffSensors {
		if c == id {
			return true
		}
	}
	return false
}

// handleTelemetryWS streams status updates, starting with the latest one.
func (s *Server) handleTelemetryWS(c *websocket.Conn) {
	var hello []byte
	if st, ok := s.Latest(); ok {
		hello, _ = json.Marshal(st)
	}
	hub.NewClient(s.statusHub, c, hello).Run()
}
