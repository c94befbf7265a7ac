// Package journal keeps a persistent log of controller state transitions,
// so emergencies and brain losses can be inspected after a reboot.
//
// Observe is called on the control loop goroutine and never blocks: entries
// go through a bounded channel to a writer goroutine that owns the bbolt
// transactions.
package journal

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"go.etcd.io/bbolt"

	"github.com/teslashibe/go-body/pkg/telemetry"
)

const (
	bucketName    = "transitions"
	pendingBuffer = 64
	openTimeout   = time.Second

	// DefaultMaxEntries bounds the journal when no limit is configured.
	DefaultMaxEntries = 1000
)

// ErrClosed is returned by Recent after Run has returned.
var ErrClosed = errors.New("journal: closed")

// Entry is one state transition.
type Entry struct {
	Seq    uint64    `json:"seq"`
	At     time.Time `json:"at"`
	From   string    `json:"from"`
	To     string    `json:"to"`
	Reason string    `json:"reason,omitempty"`
}

// Journal is a bbolt backed transition log.
type Journal struct {
	db         *bbolt.DB
	logger     *slog.Logger
	maxEntries int

	pending chan Entry
	dropped atomic.Uint64
	closed  atomic.Bool

	// loop goroutine only
	last string
}

// Open opens or creates the journal database at path.
func Open(path string, maxEntries int, logger *slog.Logger) (*Journal, error) {
	if maxEntries <= 0 {
		maxEntries = DefaultMaxEntries
	}
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}

	db, err := bbolt.Open(path, 0o600, &bbolt.Options{Timeout: openTimeout})
	if err != nil {
		return nil, fmt.Errorf("journal: open %s: %w", path, err)
	}
	err = db.Update(func(tx *bbolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists([]byte(bucketName))
		return err
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("journal: create bucket: %w", err)
	}

	return &Journal{
		db:         db,
		logger:     logger,
		maxEntries: maxEntries,
		pending:    make(chan Entry, pendingBuffer),
	}, nil
}

// Observe records a transition when snap's state differs from the previous
// snapshot. The first snapshot only sets the baseline.
func (j *Journal) Observe(snap telemetry.Snapshot) {
	prev := j.last
	j.last = snap.State
	if prev == "" || prev == snap.State {
		return
	}

	e := Entry{At: snap.At, From: prev, To: snap.State, Reason: string(snap.Reason)}
	select {
	case j.pending <- e:
	default:
		j.dropped.Add(1)
	}
}

// Dropped returns how many transitions were lost because the writer fell
// behind.
func (j *Journal) Dropped() uint64 {
	return j.dropped.Load()
}

// Run writes pending entries until ctx is done, then flushes what is left
// and closes the database.
func (j *Journal) Run(ctx context.Context) {
	defer func() {
		j.closed.Store(true)
		if err := j.db.Close(); err != nil {
			j.logger.Warn("journal close", "error", err)
		}
	}()

	for {
		select {
		case e := <-j.pending:
			j.write(e)
		case <-ctx.Done():
			for {
				select {
				case e := <-j.pending:
					j.write(e)
				default:
					return
				}
			}
		}
	}
}

func (j *Journal) write(e Entry) {
	err := j.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket([]byte(bucketName))
		seq, err := b.NextSequence()
		if err != nil {
			return err
		}
		e.Seq = seq
		data, err := json.Marshal(e)
		if err != nil {
			return err
		}
		if err := b.Put(key(seq), data); err != nil {
			return err
		}
		return prune(b, seq, j.maxEntries)
	})
	if err != nil {
		j.logger.Error("journal write failed", "error", err, "to", e.To)
		return
	}
	j.logger.Debug("transition journaled", "from", e.From, "to", e.To, "reason", e.Reason)
}

// prune deletes entries older than the newest limit. Keys are sequential,
// so everything at or below seq-limit goes.
func prune(b *bbolt.Bucket, seq uint64, limit int) error {
	if seq <= uint64(limit) {
		return nil
	}
	oldest := seq - uint64(limit)
	c := b.Cursor()
	for k, _ := c.First(); k != nil && binary.BigEndian.Uint64(k) <= oldest; k, _ = c.First() {
		if err := c.Delete(); err != nil {
			return err
		}
	}
	return nil
}

// Recent returns up to n entries, newest first.
func (j *Journal) Recent(n int) ([]Entry, error) {
	if j.closed.Load() {
		return nil, ErrClosed
	}
	out := []Entry{}
	err := j.db.View(func(tx *bbolt.Tx) error {
		c := tx.Bucket([]byte(bucketName)).Cursor()
		for k, v := c.Last(); k != nil && len(out) < n; k, v = c.Prev() {
			var e Entry
			if err := json.Unmarshal(v, &e); err != nil {
				return fmt.Errorf("journal: entry %d: %w", binary.BigEndian.Uint64(k), err)
			}
			out = append(out, e)
		}
		return nil
	})
	return out, err
}

func key(seq uint64) []byte {
	b := make([]byte, 8)
	binary.BigEndian.PutUint64(b, seq)
	return b
}
