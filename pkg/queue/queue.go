// Package queue implements a thread-safe pending/processed event
// FIFO. A TAILQ-style linked list behind one mutex becomes an
// explicit container/list behind one sync.Mutex, with bounded,
// reject-oldest overflow rather than unbounded growth.
package queue

import (
	"container/list"
	"context"
	"sync"

	"github.com/guy-davidi/ravn-sub000/pkg/event"
)

// DefaultMaxPending is the recommended pending-queue bound.
const DefaultMaxPending = 1024

// Stats is a point-in-time snapshot of queue state.
type Stats struct {
	TotalEvents     uint64
	PendingLen      int
	ProcessedLen    int
	LastEventTimeNs int64
	DroppedOverflow uint64
}

// EventQueue is a bounded, thread-safe FIFO of canonical events with a
// second FIFO of already-processed events for inspection and metrics.
type EventQueue struct {
	maxPending int

	mu        sync.Mutex
	cond      *sync.Cond
	pending   *list.List
	processed *list.List

	totalEvents     uint64
	lastEventTimeNs int64
	droppedOverflow uint64
	closed          bool
}

// New builds an EventQueue bounded at maxPending.
func New(maxPending int) *EventQueue {
	if maxPending <= 0 {
		maxPending = DefaultMaxPending
	}
	q := &EventQueue{
		maxPending: maxPending,
		pending:    list.New(),
		processed:  list.New(),
	}
	q.cond = sync.NewCond(&q.mu)
	return q
}

// Enqueue takes ownership of ev, appending it to pending. If the queue
// is already at its bound, the oldest pending event is dropped and
// droppedOverflow is incremented — the producer is never blocked.
func (q *EventQueue) Enqueue(ev event.Event) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.pending.Len() >= q.maxPending {
		q.pending.Remove(q.pending.Front())
		q.droppedOverflow++
	}

	q.pending.PushBack(ev)
	q.totalEvents++
	if ev.Timestamp > q.lastEventTimeNs {
		q.lastEventTimeNs = ev.Timestamp
	}
	q.cond.Signal()
}

// Dequeue removes and returns the head of pending. The second return
// value is false if pending was empty.
func (q *EventQueue) Dequeue() (event.Event, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	front := q.pending.Front()
	if front == nil {
		return event.Event{}, false
	}
	q.pending.Remove(front)
	return front.Value.(event.Event), true
}

// DequeueWait blocks until pending is non-empty, the queue is shut
// down, or ctx is cancelled. It returns the head of pending if there is
// one, even after shutdown or cancellation, and false only when it
// stops with pending empty.
func (q *EventQueue) DequeueWait(ctx context.Context) (event.Event, bool) {
	stop := make(chan struct{})
	if ctx != nil {
		go func() {
			select {
			case <-ctx.Done():
				q.mu.Lock()
				q.cond.Broadcast()
				q.mu.Unlock()
			case <-stop:
			}
		}()
		defer close(stop)
	}

	q.mu.Lock()
	defer q.mu.Unlock()
	for q.pending.Len() == 0 && !q.closed {
		if ctx != nil && ctx.Err() != nil {
			return event.Event{}, false
		}
		q.cond.Wait()
	}
	if q.pending.Len() == 0 {
		return event.Event{}, false
	}
	front := q.pending.Front()
	q.pending.Remove(front)
	return front.Value.(event.Event), true
}

// Shutdown wakes any DequeueWait callers with an empty-and-done result.
func (q *EventQueue) Shutdown() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.closed = true
	q.cond.Broadcast()
}

// MarkProcessed sets ev's processed flag (once), stamps processed-time,
// and appends it to the processed list. Re-marking an already-processed
// event is a no-op.
func (q *EventQueue) MarkProcessed(ev event.Event, nowNs int64) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if ev.Processed {
		return
	}
	ev.MarkProcessed(nowNs)
	q.processed.PushBack(ev)
}

// Stats returns a snapshot of queue counters.
func (q *EventQueue) Stats() Stats {
	q.mu.Lock()
	defer q.mu.Unlock()

	return Stats{
		TotalEvents:     q.totalEvents,
		PendingLen:      q.pending.Len(),
		ProcessedLen:    q.processed.Len(),
		LastEventTimeNs: q.lastEventTimeNs,
		DroppedOverflow: q.droppedOverflow,
	}
}

// Drain removes and returns every pending event, in FIFO order. Used
// during graceful shutdown to give the scorer a final
// best-effort pass before the probe manager tears down.
func (q *EventQueue) Drain() []event.Event {
	q.mu.Lock()
	defer q.mu.Unlock()

	out := make([]event.Event, 0, q.pending.Len())
	for e := q.pending.Front(); e != nil; e = e.Next() {
		out = append(out, e.Value.(event.Event))
	}
	q.pending.Init()
	return out
}
