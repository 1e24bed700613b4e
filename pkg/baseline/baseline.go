// Package baseline maintains the running baseline statistics that
// contextualize the Feature Extractor and Scoring Engine, and
// checkpoints them to bbolt so they survive a restart.
//
// Grounded on the getSchemaVersion/setSchemaVersion bucket pattern in
// diff_integration.go: one bucket, one well-known key, View/Update
// around a single bbolt.DB handle.
package baseline

import (
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"go.etcd.io/bbolt"

	"github.com/guy-davidi/ravn-sub000/pkg/features"
)

const (
	bucketBaseline = "baseline"
	keyStats       = "stats"

	// EstablishThreshold is the minimum number of folded events before
	// Established flips true.
	EstablishThreshold = 100

	// alpha is the exponential-moving-average smoothing factor.
	alpha = 0.1
)

// Stats is the running baseline snapshot. It is folded into once per
// scored event and read once per feature extraction.
type Stats struct {
	EventCount       uint64  `json:"event_count"`
	EventsPerMinute  float64 `json:"events_per_minute"`
	AvgProcessCount  float64 `json:"avg_process_count"`
	AvgNetworkConns  float64 `json:"avg_network_conns"`
	AvgFileOps       float64 `json:"avg_file_ops"`
	Established      bool    `json:"established"`
	LastFoldedAtNs   int64   `json:"last_folded_at_ns"`
}

// Context projects Stats into the inputs the Feature Extractor needs.
func (s Stats) Context() features.BaselineContext {
	return features.BaselineContext{AvgProcessCount: s.AvgProcessCount}
}

// Store owns the in-memory Stats plus its bbolt-backed checkpoint.
type Store struct {
	mu    sync.RWMutex
	stats Stats
	db    *bbolt.DB
}

// Open creates or loads a baseline checkpoint at path. An empty path
// runs memory-only (no persistence, useful for tests).
func Open(path string) (*Store, error) {
	s := &Store{stats: Stats{}}
	if path == "" {
		return s, nil
	}
	db, err := bbolt.Open(path, 0o600, &bbolt.Options{Timeout: 1 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("baseline: open %s: %w", path, err)
	}
	if err := db.Update(func(tx *bbolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists([]byte(bucketBaseline))
		return err
	}); err != nil {
		db.Close()
		return nil, fmt.Errorf("baseline: init bucket: %w", err)
	}
	s.db = db
	if err := s.restore(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) restore() error {
	return s.db.View(func(tx *bbolt.Tx) error {
		b := tx.Bucket([]byte(bucketBaseline))
		raw := b.Get([]byte(keyStats))
		if len(raw) == 0 {
			return nil
		}
		var stats Stats
		if err := json.Unmarshal(raw, &stats); err != nil {
			return fmt.Errorf("baseline: decode checkpoint: %w", err)
		}
		s.mu.Lock()
		s.stats = stats
		s.mu.Unlock()
		return nil
	})
}

// Checkpoint persists the current Stats. Safe to call periodically
// from the Pipeline Driver's status tick.
func (s *Store) Checkpoint() error {
	if s.db == nil {
		return nil
	}
	s.mu.RLock()
	raw, err := json.Marshal(s.stats)
	s.mu.RUnlock()
	if err != nil {
		return fmt.Errorf("baseline: encode checkpoint: %w", err)
	}
	return s.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket([]byte(bucketBaseline))
		return b.Put([]byte(keyStats), raw)
	})
}

// Close flushes a final checkpoint and releases the database handle.
func (s *Store) Close() error {
	if s.db == nil {
		return nil
	}
	if err := s.Checkpoint(); err != nil {
		s.db.Close()
		return err
	}
	return s.db.Close()
}

// Snapshot returns a copy of the current Stats.
func (s *Store) Snapshot() Stats {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.stats
}

// FoldObservation blends one window's worth of observed counts into
// the running EMAs and flips Established once EventCount clears
// EstablishThreshold.
func (s *Store) FoldObservation(processCount, networkConns, fileOps int, nowNs int64) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.stats.EventCount++
	if last := s.stats.LastFoldedAtNs; last != 0 && nowNs > last {
		instRate := 60e9 / float64(nowNs-last)
		s.stats.EventsPerMinute = ema(s.stats.EventsPerMinute, instRate)
	}
	s.stats.LastFoldedAtNs = nowNs
	s.stats.AvgProcessCount = ema(s.stats.AvgProcessCount, float64(processCount))
	s.stats.AvgNetworkConns = ema(s.stats.AvgNetworkConns, float64(networkConns))
	s.stats.AvgFileOps = ema(s.stats.AvgFileOps, float64(fileOps))

	if !s.stats.Established && s.stats.EventCount > EstablishThreshold {
		s.stats.Established = true
	}
}

func ema(prev, sample float64) float64 {
	if prev == 0 {
		return sample
	}
	return alpha*sample + (1-alpha)*prev
}
