// Package eventq
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Ordered per-consumer buffers of decoded, not yet dispatched events.
// A Queue is not safe for concurrent use on its own; the display that
// owns it serializes access under its connection lock.

package eventq

import (
	"github.com/eapache/queue"
)

// Dispatcher receives events popped from a queue.
type Dispatcher interface {
	DispatchEvent(ev *Event) error
}

// Event is one decoded message waiting on a queue.
type Event struct {
	Target Dispatcher
	Sender uint32
	Opcode uint16
	Args   []byte
}

// Queue is a FIFO of events in wire arrival order.
type Queue struct {
	name      string
	events    *queue.Queue
	destroyed bool
}

// New creates an empty queue.
func New(name string) *Queue {
	return &Queue{
		name:   name,
		events: queue.New(),
	}
}

// Name returns the diagnostic name given at creation.
func (q *Queue) Name() string { return q.name }

// Push appends ev. Pushing onto a destroyed queue drops the event and
// reports false.
func (q *Queue) Push(ev *Event) bool {
	if q.destroyed {
		return false
	}
	q.events.Add(ev)
	return true
}

// Pop removes the oldest event.
func (q *Queue) Pop() (*Event, bool) {
	if q.events.Length() == 0 {
		return nil, false
	}
	return q.events.Remove().(*Event), true
}

// Peek returns the oldest event without removing it.
func (q *Queue) Peek() (*Event, bool) {
	if q.events.Length() == 0 {
		return nil, false
	}
	return q.events.Peek().(*Event), true
}

// Len returns the number of pending events.
func (q *Queue) Len() int { return q.events.Length() }

// Destroy discards pending events and rejects further pushes.
// It returns the number of events discarded.
func (q *Queue) Destroy() int {
	n := q.events.Length()
	q.events = queue.New()
	q.destroyed = true
	return n
}

// Destroyed reports whether Destroy was called.
func (q *Queue) Destroyed() bool { return q.destroyed }
