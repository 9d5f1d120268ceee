// Package queue provides the bounded per-endpoint message queue.
//
// A Queue holds two lanes: urgent messages sit ahead of normal ones, each
// lane in arrival order. The limit counts both lanes together. Messages
// pushed with Force ignore the limit; the broker uses this for synthetic
// status messages, which must never be lost.
//
// Forced messages are not bounded. A sender that keeps issuing requests to
// a replier whose queue is full, without reading its own queue, collects
// one QueueFull status per request, so its queue can grow well past the
// limit. Each status is a header-only message, and the growth stops as
// soon as the sender reads or closes. Len may therefore exceed Limit;
// Enqueue keeps refusing until the backlog drains below the limit.
package queue

import (
	"sync"

	"github.com/cuemby/kbus/pkg/message"
)

// DefaultLimit is the capacity of a new queue.
const DefaultLimit = 100

// Queue is a bounded FIFO of messages for one endpoint. Safe for concurrent
// use.
type Queue struct {
	mu     sync.Mutex
	items  []*message.Message
	urgent int // items[:urgent] are urgent
	limit  int
	closed bool

	signal chan struct{} // message available (buffered, size 1)
	freed  chan struct{} // closed and replaced whenever space is released
}

// New creates an empty queue. limit <= 0 selects DefaultLimit.
func New(limit int) *Queue {
	if limit <= 0 {
		limit = DefaultLimit
	}
	return &Queue{
		items:  make([]*message.Message, 0, 8),
		limit:  limit,
		signal: make(chan struct{}, 1),
		freed:  make(chan struct{}),
	}
}

// Enqueue appends m if there is room. It returns false when the queue is
// full or closed.
func (q *Queue) Enqueue(m *message.Message) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed || len(q.items) >= q.limit {
		return false
	}
	q.push(m)
	return true
}

// Force appends m regardless of the limit. It returns false only when the
// queue is closed.
func (q *Queue) Force(m *message.Message) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return false
	}
	q.push(m)
	return true
}

func (q *Queue) push(m *message.Message) {
	if m.IsUrgent() {
		q.items = append(q.items, nil)
		copy(q.items[q.urgent+1:], q.items[q.urgent:])
		q.items[q.urgent] = m
		q.urgent++
	} else {
		q.items = append(q.items, m)
	}

	select {
	case q.signal <- struct{}{}:
	default:
	}
}

// TryDequeue removes and returns the head message without blocking.
func (q *Queue) TryDequeue() (*message.Message, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.items) == 0 {
		return nil, false
	}

	m := q.items[0]
	q.items[0] = nil
	if len(q.items) == 1 {
		q.items = q.items[:0]
	} else {
		q.items = q.items[1:]
	}
	if q.urgent > 0 {
		q.urgent--
	}
	q.release()
	return m, true
}

// RemoveFunc drops every queued message for which drop returns true and
// returns them in queue order.
func (q *Queue) RemoveFunc(drop func(*message.Message) bool) []*message.Message {
	q.mu.Lock()
	defer q.mu.Unlock()

	var removed []*message.Message
	kept := q.items[:0]
	urgent := 0
	for i, m := range q.items {
		if drop(m) {
			removed = append(removed, m)
			continue
		}
		if i < q.urgent {
			urgent++
		}
		kept = append(kept, m)
	}
	for i := len(kept); i < len(q.items); i++ {
		q.items[i] = nil
	}
	q.items = kept
	q.urgent = urgent

	if len(removed) > 0 {
		q.release()
	}
	return removed
}

// RoomOrWait reports whether n more messages fit. When they do not, it
// also returns a channel that is closed the next time space is released,
// obtained atomically with the check so no release can be missed. A closed
// queue always reports room; sends to it are discarded.
func (q *Queue) RoomOrWait(n int) (bool, <-chan struct{}) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed || len(q.items)+n <= q.limit {
		return true, nil
	}
	return false, q.freed
}

// HasRoom reports whether n more messages fit.
func (q *Queue) HasRoom(n int) bool {
	ok, _ := q.RoomOrWait(n)
	return ok
}

// Wait returns a channel that signals when a message may be available. It
// is closed when the queue closes.
func (q *Queue) Wait() <-chan struct{} {
	return q.signal
}

// Len returns the number of queued messages.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// Limit returns the current capacity.
func (q *Queue) Limit() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.limit
}

// SetLimit changes the capacity and returns the previous one. Messages
// already queued beyond a lowered limit stay queued. n <= 0 is ignored.
func (q *Queue) SetLimit(n int) int {
	q.mu.Lock()
	defer q.mu.Unlock()

	prev := q.limit
	if n <= 0 {
		return prev
	}
	q.limit = n
	if n > prev {
		q.release()
	}
	return prev
}

// Close discards the queue contents, wakes every waiter, and returns the
// discarded messages. Later Enqueue and Force calls fail.
func (q *Queue) Close() []*message.Message {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return nil
	}
	q.closed = true
	drained := q.items
	q.items = nil
	q.urgent = 0
	close(q.signal)
	close(q.freed)
	return drained
}

// release wakes senders blocked on a full queue. Caller holds q.mu.
func (q *Queue) release() {
	if q.closed {
		return
	}
	close(q.freed)
	q.freed = make(chan struct{})
}
