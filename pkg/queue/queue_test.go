package queue

import (
	"context"
	"testing"
	"time"

	"github.com/guy-davidi/ravn-sub000/pkg/event"
)

func TestEnqueueDequeueOrder(t *testing.T) {
	q := New(16)
	for i := 0; i < 5; i++ {
		q.Enqueue(event.Event{PID: uint32(i), Category: event.ExecFS})
	}
	for i := 0; i < 5; i++ {
		ev, ok := q.Dequeue()
		if !ok {
			t.Fatalf("expected event %d", i)
		}
		if ev.PID != uint32(i) {
			t.Errorf("got pid %d, want %d (FIFO order broken)", ev.PID, i)
		}
	}
	if _, ok := q.Dequeue(); ok {
		t.Error("expected empty queue")
	}
}

func TestOverflowDropsOldest(t *testing.T) {
	q := New(10)
	for i := 0; i < 20; i++ {
		q.Enqueue(event.Event{PID: uint32(i), Category: event.ExecFS})
	}

	stats := q.Stats()
	if stats.TotalEvents != 20 {
		t.Errorf("total events = %d, want 20", stats.TotalEvents)
	}
	if stats.DroppedOverflow != 10 {
		t.Errorf("dropped overflow = %d, want 10", stats.DroppedOverflow)
	}
	if stats.PendingLen > 10 {
		t.Errorf("pending len %d exceeds bound 10", stats.PendingLen)
	}

	first, ok := q.Dequeue()
	if !ok {
		t.Fatal("expected a pending event")
	}
	if first.PID != 10 {
		t.Errorf("oldest surviving pid = %d, want 10 (events 0-9 should have been dropped)", first.PID)
	}
}

func TestNoDoubleMarkOnSameEvent(t *testing.T) {
	ev := event.Event{PID: 1, Category: event.ExecFS}
	ev.MarkProcessed(100)
	if !ev.Processed || ev.ProcessedTime != 100 {
		t.Fatalf("first MarkProcessed did not take effect: %+v", ev)
	}
	ev.MarkProcessed(200)
	if ev.ProcessedTime != 100 {
		t.Errorf("second MarkProcessed changed ProcessedTime to %d, want unchanged 100", ev.ProcessedTime)
	}
}

func TestDefaultMaxPendingOnNonPositive(t *testing.T) {
	q := New(0)
	if q.maxPending != DefaultMaxPending {
		t.Errorf("maxPending = %d, want default %d", q.maxPending, DefaultMaxPending)
	}
}

func TestDequeueWaitUnblocksOnEnqueue(t *testing.T) {
	q := New(16)
	done := make(chan event.Event, 1)
	go func() {
		ev, ok := q.DequeueWait(context.Background())
		if !ok {
			t.Error("expected an event, got shutdown/cancel")
		}
		done <- ev
	}()

	time.Sleep(10 * time.Millisecond)
	q.Enqueue(event.Event{PID: 7})

	select {
	case ev := <-done:
		if ev.PID != 7 {
			t.Errorf("got pid %d, want 7", ev.PID)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("DequeueWait never unblocked")
	}
}

func TestDequeueWaitReturnsOnShutdown(t *testing.T) {
	q := New(16)
	done := make(chan bool, 1)
	go func() {
		_, ok := q.DequeueWait(context.Background())
		done <- ok
	}()

	time.Sleep(10 * time.Millisecond)
	q.Shutdown()

	select {
	case ok := <-done:
		if ok {
			t.Error("expected DequeueWait to return false after Shutdown")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("DequeueWait never returned after Shutdown")
	}
}

func TestDequeueWaitReturnsOnContextCancel(t *testing.T) {
	q := New(16)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan bool, 1)
	go func() {
		_, ok := q.DequeueWait(ctx)
		done <- ok
	}()

	time.Sleep(10 * time.Millisecond)
	cancel()

	select {
	case ok := <-done:
		if ok {
			t.Error("expected DequeueWait to return false after context cancel")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("DequeueWait never returned after cancel")
	}
}

func TestDrainEmptiesPending(t *testing.T) {
	q := New(16)
	for i := 0; i < 3; i++ {
		q.Enqueue(event.Event{PID: uint32(i)})
	}
	drained := q.Drain()
	if len(drained) != 3 {
		t.Fatalf("drained %d events, want 3", len(drained))
	}
	if stats := q.Stats(); stats.PendingLen != 0 {
		t.Errorf("pending len after drain = %d, want 0", stats.PendingLen)
	}
}
