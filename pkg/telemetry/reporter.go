package telemetry

import (
	"log/slog"
	"time"

	"github.com/teslashibe/go-body/pkg/protocol"
)

// DefaultInterval is the periodic report cadence.
const DefaultInterval = 1000 * time.Millisecond

// Sender is the outbound half of a link. Send must not block.
type Sender interface {
	Send(data []byte) error
}

// Stats counts reports.
type Stats struct {
	Sent    uint64
	Dropped uint64
}

// Reporter schedules telemetry: periodically, immediately when pushed,
// and on explicit request. It never queues; a report that cannot be sent
// right away is dropped and counted. Owned by the control loop.
type Reporter struct {
	interval   time.Duration
	maxPayload int
	logger     *slog.Logger

	next     time.Time
	push     bool
	requests []protocol.Section
	stats    Stats
}

// NewReporter creates a reporter. A nil logger discards.
func NewReporter(interval time.Duration, maxPayload int, logger *slog.Logger) *Reporter {
	if interval <= 0 {
		interval = DefaultInterval
	}
	if maxPayload <= 0 {
		maxPayload = protocol.MaxPayload
	}
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Reporter{interval: interval, maxPayload: maxPayload, logger: logger}
}

// Reset restarts the periodic schedule at now, typically on connect, and
// forgets pending pushes and requests.
func (r *Reporter) Reset(now time.Time) {
	r.next = now.Add(r.interval)
	r.push = false
	r.requests = r.requests[:0]
}

// Push asks for a full report on the next Flush.
func (r *Reporter) Push() { r.push = true }

// Request asks for a report of one section on the next Flush.
func (r *Reporter) Request(section protocol.Section) {
	r.requests = append(r.requests, section)
}

// Due reports whether Flush would send anything at now.
func (r *Reporter) Due(now time.Time) bool {
	return r.push || len(r.requests) > 0 || !now.Before(r.next)
}

// Flush sends whatever is due at now. snapshot is only called when a
// report is actually sent.
func (r *Reporter) Flush(now time.Time, out Sender, snapshot func() Snapshot) {
	if !r.Due(now) {
		return
	}

	snap := snapshot()
	sendAll := r.push || !now.Before(r.next)
	if sendAll {
		r.send(out, snap.Message(protocol.SectionAll))
		r.next = now.Add(r.interval)
	}
	for _, section := range r.requests {
		r.send(out, snap.Message(section))
	}
	r.push = false
	r.requests = r.requests[:0]
}

// Stats returns the counters.
func (r *Reporter) Stats() Stats { return r.stats }

func (r *Reporter) send(out Sender, msg protocol.Telemetry) {
	data, err := protocol.EncodeTelemetry(msg, r.maxPayload)
	if err != nil {
		r.stats.Dropped++
		r.logger.Warn("telemetry encode failed", "error", err)
		return
	}
	if err := out.Send(data); err != nil {
		r.stats.Dropped++
		r.logger.Debug("telemetry dropped", "error", err, "dropped", r.stats.Dropped)
		return
	}
	r.stats.Sent++
}
