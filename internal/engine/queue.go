package engine

import (
	"sync"

	"github.com/roach88/anchorsync/internal/ir"
)

// item is either an inbound event or a closure to run on the owner goroutine.
type item struct {
	event ir.Event
	fn    func()
}

// eventQueue is the thread-safe FIFO between producers and the owner.
//
// Producers append under the lock; the owner takes the whole backlog in one
// call so the lock is held only for the swap. Items pushed while a batch is
// being applied wait for the next tick.
type eventQueue struct {
	mu     sync.Mutex
	items  []item
	closed bool
	clock  *Clock
}

func newEventQueue(clock *Clock) *eventQueue {
	return &eventQueue{
		items: make([]item, 0, 64),
		clock: clock,
	}
}

// Enqueue stamps ev with the next receipt seq and appends it.
// Returns false once the queue is closed.
func (q *eventQueue) Enqueue(ev ir.Event) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return false
	}
	ev.Seq = q.clock.Next()
	q.items = append(q.items, item{event: ev})
	return true
}

// Post appends a closure. Returns false once the queue is closed.
func (q *eventQueue) Post(fn func()) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed || fn == nil {
		return false
	}
	q.items = append(q.items, item{fn: fn})
	return true
}

// TakeAll removes and returns everything queued so far, oldest first.
func (q *eventQueue) TakeAll() []item {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.items) == 0 {
		return nil
	}
	batch := q.items
	q.items = make([]item, 0, cap(batch))
	return batch
}

// Len returns the current backlog.
func (q *eventQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// Close rejects further items. Items already queued are dropped.
func (q *eventQueue) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()

	q.closed = true
	q.items = nil
}

// Closed reports whether Close has been called.
func (q *eventQueue) Closed() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.closed
}
