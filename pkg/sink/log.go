package sink

import (
	"context"
	"log"

	"github.com/guy-davidi/ravn-sub000/pkg/scoring"
)

// LogSink writes each result as a log line. It never fails, making it
// a safe default sink.
type LogSink struct {
	logger *log.Logger
}

// NewLogSink builds a LogSink. A nil logger uses log.Default().
func NewLogSink(logger *log.Logger) *LogSink {
	if logger == nil {
		logger = log.Default()
	}
	return &LogSink{logger: logger}
}

func (s *LogSink) Publish(_ context.Context, result scoring.Result) error {
	rec := toRecord(result)
	s.logger.Printf("[sink] pid=%d uid=%d category=%s threat=%.1f level=%s anomaly=%v recs=%d",
		rec.PID, rec.UID, rec.Category, rec.ThreatScore, rec.ThreatLevel, rec.IsAnomaly, len(rec.Recommendations))
	return nil
}

func (s *LogSink) Close() error { return nil }
