package store

import (
	"context"
	"testing"

	"github.com/guy-davidi/ravn-sub000/pkg/event"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(":memory:")
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestInsertAndGetRoundTrips(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	ev := event.Event{
		Timestamp: 42,
		Category:  event.ExecFS,
		Type:      event.TypeProcessSpawn,
		Severity:  event.SeverityLow,
		PID:       7,
		UID:       1000,
		GID:       1000,
		Comm:      "bash",
		Filename:  "/usr/bin/bash",
		Raw:       []byte{1, 2, 3},
	}
	id, err := s.Insert(ctx, ev)
	if err != nil {
		t.Fatalf("Insert: %v", err)
	}

	got, err := s.Get(ctx, id)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.PID != ev.PID || got.Comm != ev.Comm || got.Filename != ev.Filename {
		t.Fatalf("round trip mismatch: got %+v, want %+v", got, ev)
	}
	if len(got.Raw) != 3 {
		t.Errorf("Raw = %v, want 3 bytes", got.Raw)
	}
	if got.Processed {
		t.Error("expected Processed = false for a freshly inserted event")
	}
}

func TestGetMissingReturnsErrNotFound(t *testing.T) {
	s := openTestStore(t)
	if _, err := s.Get(context.Background(), 999); err != ErrNotFound {
		t.Fatalf("Get missing id: got %v, want ErrNotFound", err)
	}
}

func TestMarkProcessedFlipsFlag(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	id, _ := s.Insert(ctx, event.Event{Timestamp: 1, Category: event.ExecFS, PID: 1})

	if err := s.MarkProcessed(ctx, id); err != nil {
		t.Fatalf("MarkProcessed: %v", err)
	}
	got, err := s.Get(ctx, id)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if !got.Processed {
		t.Error("expected Processed = true after MarkProcessed")
	}
}

func TestMarkProcessedMissingReturnsErrNotFound(t *testing.T) {
	s := openTestStore(t)
	if err := s.MarkProcessed(context.Background(), 999); err != ErrNotFound {
		t.Fatalf("MarkProcessed missing id: got %v, want ErrNotFound", err)
	}
}

func TestListByPIDOrdersNewestFirst(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	for _, ts := range []int64{10, 30, 20} {
		s.Insert(ctx, event.Event{Timestamp: ts, Category: event.ExecFS, PID: 5})
	}
	s.Insert(ctx, event.Event{Timestamp: 99, Category: event.ExecFS, PID: 6})

	got, err := s.ListByPID(ctx, 5, 0)
	if err != nil {
		t.Fatalf("ListByPID: %v", err)
	}
	if len(got) != 3 {
		t.Fatalf("len = %d, want 3", len(got))
	}
	if got[0].Timestamp != 30 || got[1].Timestamp != 20 || got[2].Timestamp != 10 {
		t.Errorf("order = %v, want [30 20 10]", []int64{got[0].Timestamp, got[1].Timestamp, got[2].Timestamp})
	}
}

func TestDeleteOlderThanRemovesMatchingRows(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	for _, ts := range []int64{5, 15, 25} {
		s.Insert(ctx, event.Event{Timestamp: ts, Category: event.ExecFS, PID: 1})
	}

	n, err := s.DeleteOlderThan(ctx, 16)
	if err != nil {
		t.Fatalf("DeleteOlderThan: %v", err)
	}
	if n != 2 {
		t.Errorf("deleted = %d, want 2", n)
	}
	remaining, _ := s.ListByPID(ctx, 1, 0)
	if len(remaining) != 1 || remaining[0].Timestamp != 25 {
		t.Errorf("remaining = %+v, want one event at ts=25", remaining)
	}
}
