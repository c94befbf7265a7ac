package main

import (
	"context"
	"encoding/json"
	"errors"
	"path/filepath"
	"testing"
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/teslashibe/go-body/internal/config"
	"github.com/teslashibe/go-body/pkg/journal"
	"github.com/teslashibe/go-body/pkg/protocol"
	"github.com/teslashibe/go-body/pkg/telemetry"
)

func TestMergeReport(t *testing.T) {
	full := &protocol.Telemetry{
		State:   "idle",
		Battery: &protocol.BatterySection{Pct: 80},
		Sensors: &protocol.SensorsSection{FrontCM: 40},
		Motors:  &protocol.MotorsSection{},
	}
	partial := &protocol.Telemetry{State: "executing", Battery: &protocol.BatterySection{Pct: 79}}

	got := mergeReport(full, partial)
	if got.State != "executing" || got.Battery.Pct != 79 {
		t.Errorf("partial report fields not applied: %+v", got)
	}
	if got.Sensors == nil || got.Sensors.FrontCM != 40 || got.Motors == nil {
		t.Error("sections missing from the partial report should be kept")
	}
	if mergeReport(nil, partial).Sensors != nil {
		t.Error("nothing to keep without a previous report")
	}
}

func TestMonitorKeys(t *testing.T) {
	tests := []struct {
		key  string
		want protocol.MessageType
	}{
		{"w", protocol.TypeMove},
		{"d", protocol.TypeMove},
		{" ", protocol.TypeStop},
		{"r", protocol.TypeReset},
		{"l", protocol.TypeLight},
		{"t", protocol.TypeTelemetry},
	}
	for _, tt := range tests {
		out := make(chan []byte, 1)
		m := newMonitorModel("ws://test", 50, out)
		m.Update(tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune(tt.key)})

		select {
		case data := <-out:
			cmd, err := protocol.Decode(data)
			if err != nil {
				t.Fatalf("key %q sent an invalid message: %v", tt.key, err)
			}
			if cmd.Type() != tt.want {
				t.Errorf("key %q sent %s, want %s", tt.key, cmd.Type(), tt.want)
			}
		default:
			t.Errorf("key %q sent nothing", tt.key)
		}
	}
}

func TestMonitorPausesHeartbeats(t *testing.T) {
	out := make(chan []byte, 4)
	m := newMonitorModel("ws://test", 50, out)

	next, _ := m.Update(tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune("h")})
	next, _ = next.Update(heartbeatTickMsg{})
	if len(out) != 0 {
		t.Fatal("heartbeat sent while paused")
	}

	next, _ = next.Update(tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune("h")})
	next.Update(heartbeatTickMsg{})
	if len(out) != 1 {
		t.Fatalf("got %d messages, want one heartbeat", len(out))
	}
	var hb map[string]any
	if err := json.Unmarshal(<-out, &hb); err != nil || hb["type"] != "heartbeat" {
		t.Errorf("unexpected heartbeat %v (%v)", hb, err)
	}
}

func TestOpenLink(t *testing.T) {
	cfg := config.Default()
	cfg.Link.Kind = config.LinkPipe
	l, pipe := openLink(cfg, nil)
	if pipe == nil || l == nil {
		t.Fatal("pipe link expected")
	}

	cfg.Link.Kind = config.LinkWebSocket
	if _, pipe := openLink(cfg, nil); pipe != nil {
		t.Error("websocket link returned a pipe")
	}
}

func TestOpenBoard(t *testing.T) {
	cfg := config.Default()
	board, sim, err := openBoard(cfg)
	if err != nil {
		t.Fatal(err)
	}
	defer board.Close()
	if sim == nil {
		t.Fatal("sim board should expose its injector")
	}
	if r, ok := board.Latest(); !ok || !r.Valid {
		t.Error("sim board should start with a valid reading")
	}
}

func TestFanOut(t *testing.T) {
	if fanOut() != nil {
		t.Error("no observers should give a nil observer")
	}

	var calls []string
	a := func(s telemetry.Snapshot) { calls = append(calls, "a:"+s.State) }
	b := func(s telemetry.Snapshot) { calls = append(calls, "b:"+s.State) }

	fanOut(a)(telemetry.Snapshot{State: "idle"})
	fanOut(a, b)(telemetry.Snapshot{State: "emergency"})

	want := []string{"a:idle", "a:emergency", "b:emergency"}
	if len(calls) != len(want) {
		t.Fatalf("calls = %v, want %v", calls, want)
	}
	for i := range want {
		if calls[i] != want[i] {
			t.Errorf("calls[%d] = %s, want %s", i, calls[i], want[i])
		}
	}
}

func TestStartJournal(t *testing.T) {
	cfg := config.Default()
	jr, done, err := startJournal(context.Background(), cfg)
	if err != nil || jr != nil {
		t.Fatalf("no path: journal %v, err %v", jr, err)
	}
	select {
	case <-done:
	default:
		t.Error("done should be closed when no journal is configured")
	}

	cfg.Journal.Path = filepath.Join(t.TempDir(), "journal.db")
	ctx, cancel := context.WithCancel(context.Background())
	jr, done, err = startJournal(ctx, cfg)
	if err != nil {
		t.Fatal(err)
	}
	jr.Observe(telemetry.Snapshot{State: "idle"})
	jr.Observe(telemetry.Snapshot{State: "executing"})

	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("journal writer did not stop")
	}
	if _, err := jr.Recent(1); !errors.Is(err, journal.ErrClosed) {
		t.Errorf("Recent after stop = %v, want ErrClosed", err)
	}

	// the database lock is released, so it reopens with the flushed entry
	ctx, cancel = context.WithCancel(context.Background())
	defer cancel()
	reopened, done, err := startJournal(ctx, cfg)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	got, err := reopened.Recent(5)
	if err != nil || len(got) != 1 || got[0].To != "executing" {
		t.Errorf("Recent = %+v, %v", got, err)
	}
	cancel()
	<-done
}
