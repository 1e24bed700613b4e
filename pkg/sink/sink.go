// Package sink publishes scored results to an external consumer. The contract is
// deliberately thin: one publish method, no acknowledgement, no batching —
// the Pipeline Driver owns retry/drop policy via the Sink
// implementation it chooses.
package sink

import (
	"context"
	"errors"
	"time"

	"github.com/guy-davidi/ravn-sub000/pkg/scoring"
)

// ErrUnavailable is returned by Publish when the sink cannot currently
// accept results (e.g. the backing broker connection is down).
var ErrUnavailable = errors.New("sink: unavailable")

// Sink is the publisher contract for scored results.
type Sink interface {
	Publish(ctx context.Context, result scoring.Result) error
	Close() error
}

// Record is the wire shape of a published result.
type Record struct {
	TimestampNs     int64    `json:"timestamp_ns"`
	PID             uint32   `json:"pid"`
	UID             uint32   `json:"uid"`
	Category        string   `json:"category"`
	AnomalyScore    float64  `json:"anomaly_score"`
	ThreatScore     float64  `json:"threat_score"`
	IsAnomaly       bool     `json:"is_anomaly"`
	IsThreat        bool     `json:"is_threat"`
	ThreatLevel     string   `json:"threat_level"`
	Recommendations []string `json:"recommendations"`
	Confidence      float64  `json:"confidence"`
}

func toRecord(r scoring.Result) Record {
	return Record{
		TimestampNs:     r.Timestamp,
		PID:             r.PID,
		UID:             r.UID,
		Category:        r.Category.String(),
		AnomalyScore:    r.AnomalyScore,
		ThreatScore:     r.ThreatScore,
		IsAnomaly:       r.IsAnomaly,
		IsThreat:        r.IsThreat,
		ThreatLevel:     r.ThreatLevel.String(),
		Recommendations: r.Recommendations,
		Confidence:      r.Confidence,
	}
}

// defaultPublishTimeout bounds a single Publish call; sinks that talk to a
// network broker should respect ctx but never block the driver
// indefinitely if ctx carries no deadline of its own.
const defaultPublishTimeout = 2 * time.Second
