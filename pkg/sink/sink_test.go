package sink

import (
	"bytes"
	"context"
	"log"
	"strings"
	"testing"

	"github.com/guy-davidi/ravn-sub000/pkg/event"
	"github.com/guy-davidi/ravn-sub000/pkg/scoring"
)

func sampleResult() scoring.Result {
	return scoring.Result{
		Timestamp:       123,
		PID:             99,
		UID:             0,
		Category:        event.Security,
		ThreatScore:     82.5,
		IsAnomaly:       true,
		IsThreat:        true,
		ThreatLevel:     scoring.LevelHigh,
		Recommendations: []string{"isolate host", "rotate credentials"},
		Confidence:      70,
	}
}

func TestLogSinkPublishWritesOneLine(t *testing.T) {
	var buf bytes.Buffer
	s := NewLogSink(log.New(&buf, "", 0))
	if err := s.Publish(context.Background(), sampleResult()); err != nil {
		t.Fatalf("Publish: %v", err)
	}
	out := buf.String()
	if !strings.Contains(out, "pid=99") || !strings.Contains(out, "level=high") {
		t.Fatalf("unexpected log line: %q", out)
	}
	if err := s.Close(); err != nil {
		t.Errorf("Close: %v", err)
	}
}

func TestToRecordMapsAllFields(t *testing.T) {
	r := toRecord(sampleResult())
	if r.PID != 99 || r.Category != "security" || r.ThreatLevel != "high" {
		t.Fatalf("unexpected record: %+v", r)
	}
	if len(r.Recommendations) != 2 {
		t.Fatalf("Recommendations = %v, want 2 entries", r.Recommendations)
	}
}

func TestRedisSinkPublishFailsClosedWhenUnreachable(t *testing.T) {
	cfg := DefaultRedisSinkConfig("127.0.0.1:1") // nothing listens here
	cfg.MaxAttempts = 1
	cfg.InitialDelay = 0
	s := NewRedisSink(cfg)
	defer s.Close()

	err := s.Publish(context.Background(), sampleResult())
	if err == nil {
		t.Fatal("expected Publish to fail when redis is unreachable")
	}

	s.mu.Lock()
	buffered := len(s.pending)
	s.mu.Unlock()
	if buffered != 1 {
		t.Fatalf("pending buffer = %d, want 1 (record retained for retry)", buffered)
	}
}
