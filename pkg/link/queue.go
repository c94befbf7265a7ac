package link

import (
	"sync/atomic"
)

// EventKind distinguishes link events.
type EventKind int

const (
	EventConnected EventKind = iota
	EventDisconnected
	EventMessage
)

func (k EventKind) String() string {
	switch k {
	case EventConnected:
		return "connected"
	case EventDisconnected:
		return "disconnected"
	case EventMessage:
		return "message"
	}
	return "unknown"
}

// Event is one thing that happened on the link. Gen identifies the
// connection it belongs to; the loop discards messages of stale
// connections.
type Event struct {
	Kind EventKind
	Gen  uint64
	Peer string
	Data []byte
}

const lifecycleBuffer = 8

// Queue is the bounded hand-off between link goroutines and the control
// loop. Lifecycle events have their own channel so a burst of messages can
// never crowd out a disconnect.
type Queue struct {
	lifecycle chan Event
	messages  chan Event
	gen       atomic.Uint64
	dropped   atomic.Uint64
}

// NewQueue creates a queue holding up to size messages.
func NewQueue(size int) *Queue {
	if size <= 0 {
		size = 64
	}
	return &Queue{
		lifecycle: make(chan Event, lifecycleBuffer),
		messages:  make(chan Event, size),
	}
}

// Connected publishes a new connection and returns its generation.
// Lifecycle events block if the loop has fallen far behind; they are never
// dropped.
func (q *Queue) Connected(peer string) uint64 {
	gen := q.gen.Add(1)
	q.lifecycle <- Event{Kind: EventConnected, Gen: gen, Peer: peer}
	return gen
}

// Disconnected publishes the end of connection gen.
func (q *Queue) Disconnected(gen uint64, peer string) {
	q.lifecycle <- Event{Kind: EventDisconnected, Gen: gen, Peer: peer}
}

// Message publishes an inbound message without blocking. It returns false
// and counts a drop when the queue is full.
func (q *Queue) Message(gen uint64, data []byte) bool {
	select {
	case q.messages <- Event{Kind: EventMessage, Gen: gen, Data: data}:
		return true
	default:
		q.dropped.Add(1)
		return false
	}
}

// Drain calls fn for every pending lifecycle event, then for at most max
// pending messages (all of them if max <= 0). It never blocks.
//
// Lifecycle events are drained again after each message is taken, so the
// Connected event of a connection is always delivered before its messages.
func (q *Queue) Drain(max int, fn func(Event)) {
	q.drainLifecycle(fn)
	for n := 0; max <= 0 || n < max; n++ {
		select {
		case ev := <-q.messages:
			q.drainLifecycle(fn)
			fn(ev)
		default:
			return
		}
	}
}

func (q *Queue) drainLifecycle(fn func(Event)) {
	for {
		select {
		case ev := <-q.lifecycle:
			fn(ev)
		default:
			return
		}
	}
}

// Dropped returns the number of messages dropped because the queue was full.
func (q *Queue) Dropped() uint64 {
	return q.dropped.Load()
}

// Len returns the number of pending messages.
func (q *Queue) Len() int {
	return len(q.messages)
}
