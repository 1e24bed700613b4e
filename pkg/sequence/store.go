// Package sequence implements the sliding-time-window, per-process
// event history that feeds the Feature Extractor (pkg/features).
// Grounded on pkg/ebpf/profiler.go's mutex-guarded map-of-counters
// shape, generalized from path strings to process ids and from scalar
// counts to ordered (type, timestamp) entries.
package sequence

import (
	"sort"
	"sync"

	"github.com/guy-davidi/ravn-sub000/pkg/event"
)

// NMaxEvents bounds a single sequence's entry count.
const NMaxEvents = 512

// PMax is the hard cap on tracked processes.
const PMax = 100

// DefaultWindowSeconds is the sliding window size.
const DefaultWindowSeconds = 10

// Entry is one (event type, timestamp) pair in a sequence.
type Entry struct {
	Type      event.EventType
	Category  event.Category
	Timestamp int64 // nanoseconds
}

// Sequence is the per-pid ordered event history within the current
// window.
type Sequence struct {
	PID         uint32
	Entries     []Entry
	CachedScore float64
	CreatedAt   int64 // nanoseconds, = first event observed
	lastTouched int64 // nanoseconds, used for LRU eviction at PMax
}

// View is a read-only snapshot handed to the scorer. No copying is
// required: it aliases the sequence's backing slice, so callers must
// not hold a View across a subsequent Ingest for the same pid.
type View struct {
	PID         uint32
	Entries     []Entry
	CachedScore float64
	CreatedAt   int64
	WindowStart int64
	WindowEnd   int64
}

// Store is the sliding-window collection of per-pid sequences.
type Store struct {
	windowSize int64 // nanoseconds

	mu          sync.RWMutex
	sequences   map[uint32]*Sequence
	windowStart int64
	windowEnd   int64

	evictions       uint64
	burstDrops      uint64
	clockClampCount uint64
}

// New builds a Store with the given window size in seconds. A
// non-positive value falls back to DefaultWindowSeconds.
func New(windowSeconds int) *Store {
	if windowSeconds <= 0 {
		windowSeconds = DefaultWindowSeconds
	}
	return &Store{
		windowSize: int64(windowSeconds) * 1e9,
		sequences:  make(map[uint32]*Sequence),
	}
}

// Ingest locates or creates the sequence for ev.PID, appends
// (event type, timestamp) subject to the per-sequence cap, rolls the
// window forward if ev.Timestamp crosses the current end, and evicts
// sequences untouched for longer than the window.
func (s *Store) Ingest(ev event.Event) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if ev.Timestamp > s.windowEnd {
		s.windowEnd = ev.Timestamp
		s.windowStart = s.windowEnd - s.windowSize
	}

	seq, ok := s.sequences[ev.PID]
	if !ok {
		if len(s.sequences) >= PMax {
			s.evictLRULocked()
		}
		seq = &Sequence{PID: ev.PID, CreatedAt: ev.Timestamp}
		s.sequences[ev.PID] = seq
	}

	ts := ev.Timestamp
	if n := len(seq.Entries); n > 0 && ts < seq.Entries[n-1].Timestamp {
		// Clamp non-monotonic timestamps within a sequence.
		ts = seq.Entries[n-1].Timestamp
		s.clockClampCount++
	}

	if len(seq.Entries) >= NMaxEvents {
		// Ring behaviour: discard the oldest entry.
		seq.Entries = seq.Entries[1:]
		s.burstDrops++
	}
	seq.Entries = append(seq.Entries, Entry{Type: ev.Type, Category: ev.Category, Timestamp: ts})
	seq.lastTouched = ts

	s.evictExpiredLocked(s.windowEnd)
}

// evictLRULocked drops the least-recently-updated sequence, ties
// broken by pid ascending.
func (s *Store) evictLRULocked() {
	var (
		victimPID   uint32
		victimTouch int64
		found       bool
	)
	pids := make([]uint32, 0, len(s.sequences))
	for pid := range s.sequences {
		pids = append(pids, pid)
	}
	sort.Slice(pids, func(i, j int) bool { return pids[i] < pids[j] })

	for _, pid := range pids {
		touch := s.sequences[pid].lastTouched
		if !found || touch < victimTouch {
			victimPID, victimTouch = pid, touch
			found = true
		}
	}
	if found {
		delete(s.sequences, victimPID)
		s.evictions++
	}
}

// EvictExpired drops per-sequence entries older than now - windowSize,
// and whole sequences left with zero entries. Calling it twice with
// the same now is idempotent.
func (s *Store) EvictExpired(now int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.evictExpiredLocked(now)
}

func (s *Store) evictExpiredLocked(now int64) {
	cutoff := now - s.windowSize
	for pid, seq := range s.sequences {
		i := 0
		for i < len(seq.Entries) && seq.Entries[i].Timestamp < cutoff {
			i++
		}
		if i > 0 {
			seq.Entries = seq.Entries[i:]
		}
		if len(seq.Entries) == 0 {
			delete(s.sequences, pid)
		}
	}
}

// Snapshot returns a read-only view of the sequence for pid, if any.
func (s *Store) Snapshot(pid uint32) (View, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	seq, ok := s.sequences[pid]
	if !ok {
		return View{}, false
	}
	return View{
		PID:         seq.PID,
		Entries:     seq.Entries,
		CachedScore: seq.CachedScore,
		CreatedAt:   seq.CreatedAt,
		WindowStart: s.windowStart,
		WindowEnd:   s.windowEnd,
	}, true
}

// SetCachedScore updates the last-computed threat score for pid, if a
// sequence still exists for it.
func (s *Store) SetCachedScore(pid uint32, score float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if seq, ok := s.sequences[pid]; ok {
		seq.CachedScore = score
	}
}

// Stats summarizes store-wide counters for the status snapshot.
type Stats struct {
	TrackedProcesses int
	Evictions        uint64
	BurstDrops       uint64
	ClockClamps      uint64
	WindowStart      int64
	WindowEnd        int64
}

func (s *Store) Stats() Stats {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return Stats{
		TrackedProcesses: len(s.sequences),
		Evictions:        s.evictions,
		BurstDrops:       s.burstDrops,
		ClockClamps:      s.clockClampCount,
		WindowStart:      s.windowStart,
		WindowEnd:        s.windowEnd,
	}
}
