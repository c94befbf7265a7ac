package main

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/progress"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/gorilla/websocket"
	"github.com/spf13/cobra"

	"github.com/teslashibe/go-body/pkg/motion"
	"github.com/teslashibe/go-body/pkg/protocol"
)

const (
	monitorHeartbeat = time.Second
	monitorWriteWait = time.Second
)

var monitorFlags struct {
	url   string
	speed int
}

var monitorCmd = &cobra.Command{
	Use:   "monitor",
	Short: "Drive a body from the terminal",
	Long: `Connect to a body's websocket link as its brain.

The monitor sends a heartbeat every second and shows every telemetry report.
Keys: w/a/s/d move, space stop, r reset, l cycle light, t request telemetry,
h pause heartbeats (the body goes brain_offline after 3s), q quit.`,
	RunE: runMonitor,
}

func init() {
	f := monitorCmd.Flags()
	f.StringVarP(&monitorFlags.url, "url", "u", "ws://localhost:8765/ws/brain", "Body websocket URL")
	f.IntVar(&monitorFlags.speed, "speed", 60, "Drive speed in percent")
}

func runMonitor(cmd *cobra.Command, args []string) error {
	if monitorFlags.speed < 0 || monitorFlags.speed > motion.MaxSpeed {
		return fmt.Errorf("speed must be 0-%d", motion.MaxSpeed)
	}

	ctx, cancel := context.WithTimeout(cmd.Context(), 5*time.Second)
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, monitorFlags.url, nil)
	cancel()
	if err != nil {
		return fmt.Errorf("connect to %s: %w", monitorFlags.url, err)
	}
	defer conn.Close()

	out := make(chan []byte, 16)
	if hb, err := protocol.NewHeartbeatMessage(time.Now()); err == nil {
		out <- hb
	}
	p := tea.NewProgram(newMonitorModel(monitorFlags.url, monitorFlags.speed, out), tea.WithAltScreen())

	go func() {
		for {
			_, data, err := conn.ReadMessage()
			if err != nil {
				p.Send(connClosedMsg{err})
				return
			}
			msg, err := protocol.DecodeOutbound(data)
			if err != nil {
				continue
			}
			p.Send(outboundMsg(msg))
		}
	}()
	go func() {
		for data := range out {
			conn.SetWriteDeadline(time.Now().Add(monitorWriteWait))
			if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
				p.Send(connClosedMsg{err})
				return
			}
		}
	}()

	final, err := p.Run()
	close(out)
	if err != nil {
		return err
	}
	if m, ok := final.(monitorModel); ok && m.err != nil {
		return m.err
	}
	return nil
}

//////////////////////////////////////////////////////////////
// Messages
//////////////////////////////////////////////////////////////

type heartbeatTickMsg time.Time

type outboundMsg protocol.Outbound

type connClosedMsg struct{ err error }

//////////////////////////////////////////////////////////////
// Styles
//////////////////////////////////////////////////////////////

var (
	titleStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("12"))
	labelStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("8")).Width(12)
	okStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("10"))
	errStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("9"))
	helpStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("8"))
	boxStyle   = lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).Padding(0, 1)

	stateColors = map[string]lipgloss.Color{
		"idle":          "12",
		"executing":     "10",
		"emergency":     "9",
		"brain_offline": "214",
		"advertising":   "8",
	}
)

var lightCycle = []struct{ action, color string }{
	{"on", "purple"},
	{"blink", "cyan"},
	{"on", "white"},
	{"off", ""},
}

//////////////////////////////////////////////////////////////
// Model
//////////////////////////////////////////////////////////////

type monitorModel struct {
	url   string
	speed int
	out   chan<- []byte

	heartbeats bool
	sent       int
	dropped    int
	lightIdx   int

	report    *protocol.Telemetry
	reports   int
	lastAck   *protocol.Ack
	acksOK    int
	acksError int

	battery progress.Model
	width   int
	err     error
}

func newMonitorModel(url string, speed int, out chan<- []byte) monitorModel {
	return monitorModel{
		url:        url,
		speed:      speed,
		out:        out,
		heartbeats: true,
		battery:    progress.New(progress.WithDefaultGradient(), progress.WithWidth(30)),
		width:      80,
	}
}

func (m monitorModel) Init() tea.Cmd {
	return heartbeatTick()
}

func heartbeatTick() tea.Cmd {
	return tea.Tick(monitorHeartbeat, func(t time.Time) tea.Msg {
		return heartbeatTickMsg(t)
	})
}

func (m monitorModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		return m.handleKey(msg)

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.battery.Width = max(10, min(40, msg.Width-30))

	case heartbeatTickMsg:
		if m.heartbeats {
			m.send(protocol.NewHeartbeatMessage(time.Time(msg)))
		}
		return m, heartbeatTick()

	case outboundMsg:
		if msg.Ack != nil {
			m.lastAck = msg.Ack
			if msg.Ack.OK() {
				m.acksOK++
			} else {
				m.acksError++
			}
		}
		if msg.Telemetry != nil {
			m.report = mergeReport(m.report, msg.Telemetry)
			m.reports++
		}

	case connClosedMsg:
		m.err = fmt.Errorf("connection closed: %w", msg.err)
		return m, tea.Quit
	}
	return m, nil
}

func (m monitorModel) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "q", "ctrl+c", "esc":
		return m, tea.Quit
	case "w", "up":
		m.send(protocol.NewMoveMessage("", motion.DirForward, m.speed, 0))
	case "s", "down":
		m.send(protocol.NewMoveMessage("", motion.DirBackward, m.speed, 0))
	case "a", "left":
		m.send(protocol.NewMoveMessage("", motion.DirLeft, m.speed, 0))
	case "d", "right":
		m.send(protocol.NewMoveMessage("", motion.DirRight, m.speed, 0))
	case " ":
		m.send(protocol.NewStopMessage(""))
	case "r":
		m.send(protocol.NewResetMessage(""))
	case "l":
		lc := lightCycle[m.lightIdx%len(lightCycle)]
		m.lightIdx++
		m.send(protocol.NewLightMessage("", lc.action, lc.color, 80))
	case "t":
		m.send(protocol.NewTelemetryRequest("", protocol.SectionAll))
	case "h":
		m.heartbeats = !m.heartbeats
	}
	return m, nil
}

// send queues a message for the writer without blocking the UI.
func (m *monitorModel) send(data []byte, err error) {
	if err != nil {
		m.err = err
		return
	}
	select {
	case m.out <- data:
		m.sent++
	default:
		m.dropped++
	}
}

// mergeReport keeps sections a partial report leaves out.
func mergeReport(prev, next *protocol.Telemetry) *protocol.Telemetry {
	merged := *next
	if prev == nil {
		return &merged
	}
	if merged.Battery == nil {
		merged.Battery = prev.Battery
	}
	if merged.Sensors == nil {
		merged.Sensors = prev.Sensors
	}
	if merged.Motors == nil {
		merged.Motors = prev.Motors
		merged.LEDs = prev.LEDs
		merged.Heartbeat = prev.Heartbeat
		merged.Sequence = prev.Sequence
	}
	return &merged
}

//////////////////////////////////////////////////////////////
// View
//////////////////////////////////////////////////////////////

func (m monitorModel) View() string {
	var b strings.Builder
	b.WriteString(titleStyle.Render("bodyctl monitor") + "  " + helpStyle.Render(m.url) + "\n\n")

	b.WriteString(boxStyle.Render(m.statusView()))
	b.WriteString("\n")

	row := func(label, value string) {
		b.WriteString(labelStyle.Render(label) + value + "\n")
	}
	hb := okStyle.Render("sending")
	if !m.heartbeats {
		hb = errStyle.Render("paused")
	}
	row("heartbeat", hb)
	row("sent", fmt.Sprintf("%d (dropped %d)", m.sent, m.dropped))
	row("acks", fmt.Sprintf("%s / %s", okStyle.Render(fmt.Sprint(m.acksOK)), errStyle.Render(fmt.Sprint(m.acksError))))
	if a := m.lastAck; a != nil {
		if a.OK() {
			row("last ack", okStyle.Render("ok")+" "+helpStyle.Render(a.CommandID))
		} else {
			row("last ack", errStyle.Render(a.ErrorMsg)+" "+helpStyle.Render(a.CommandID))
		}
	}
	if m.err != nil {
		row("error", errStyle.Render(m.err.Error()))
	}

	b.WriteString("\n" + helpStyle.Render("w/a/s/d move · space stop · r reset · l light · t telemetry · h heartbeat · q quit"))
	return b.String()
}

func (m monitorModel) statusView() string {
	t := m.report
	if t == nil {
		return helpStyle.Render("waiting for telemetry…")
	}

	var b strings.Builder
	row := func(label, value string) {
		b.WriteString(labelStyle.Render(label) + value + "\n")
	}

	state := lipgloss.NewStyle().Bold(true).Foreground(stateColors[t.State]).Render(t.State)
	if t.Reason != "" {
		state += " " + errStyle.Render(t.Reason)
	}
	row("state", state)

	if bat := t.Battery; bat != nil {
		pct := fmt.Sprintf(" %d%%", bat.Pct)
		if bat.Low {
			pct = errStyle.Render(pct + " low")
		}
		row("battery", m.battery.ViewAs(float64(bat.Pct)/100)+pct)
	}
	if s := t.Sensors; s != nil {
		cliffs := "none"
		if len(s.Cliffs) > 0 {
			cliffs = errStyle.Render(strings.Join(s.Cliffs, ", "))
		}
		row("distance", fmt.Sprintf("front %d cm · rear %d cm", s.FrontCM, s.RearCM))
		row("cliffs", cliffs)
	}
	if mo := t.Motors; mo != nil {
		row("motors", fmt.Sprintf("L %4d  R %4d", mo.Left, mo.Right))
	}
	if led := t.LEDs; led != nil {
		swatch := lipgloss.NewStyle().
			Background(lipgloss.Color(fmt.Sprintf("#%02x%02x%02x", led.R, led.G, led.B))).
			Render("    ")
		row("light", swatch+" "+led.Pattern)
	}
	if seq := t.Sequence; seq != nil {
		row("sequence", fmt.Sprintf("step %d/%d · %d ms", seq.Step+1, seq.Steps, seq.ElapsedMS))
	}
	if hb := t.Heartbeat; hb != nil {
		row("brain", fmt.Sprintf("online=%v · last %d ms ago", hb.BrainOnline, hb.LastReceivedMS))
	}
	row("uptime", fmt.Sprintf("%ds · reports %d", t.Uptime, m.reports))
	return strings.TrimRight(b.String(), "\n")
}
