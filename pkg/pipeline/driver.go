// Package pipeline couples the Probe Manager, Normalizer, Event
// Queue, Sequence Store, Feature Extractor, and Scoring Engine into
// a single control loop. Every scored event also flows, best-effort,
// into the optional persisted event log and audit journal so neither
// is left dark when configured.
//
// Grounded on the StartMonitoring/consumeEBPFEvents/Close shape in
// main.go: a cancellable monitorCtx, one goroutine per
// producer/consumer stage tracked by a sync.WaitGroup, and strictly
// reverse-order teardown in Close.
package pipeline

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/guy-davidi/ravn-sub000/internal/metrics"
	"github.com/guy-davidi/ravn-sub000/pkg/audit"
	"github.com/guy-davidi/ravn-sub000/pkg/baseline"
	"github.com/guy-davidi/ravn-sub000/pkg/event"
	"github.com/guy-davidi/ravn-sub000/pkg/features"
	"github.com/guy-davidi/ravn-sub000/pkg/probe"
	"github.com/guy-davidi/ravn-sub000/pkg/queue"
	"github.com/guy-davidi/ravn-sub000/pkg/scoring"
	"github.com/guy-davidi/ravn-sub000/pkg/sequence"
	"github.com/guy-davidi/ravn-sub000/pkg/sink"
	"github.com/guy-davidi/ravn-sub000/pkg/store"
)

// auditBatchSize is how many published-result CIDs accumulate before
// the Driver commits a Merkle root over them.
const auditBatchSize = 128

// DefaultStatusInterval is how often the driver emits a status
// snapshot.
const DefaultStatusInterval = 60 * time.Second

// Config tunes the driver. A zero-value Config falls back to documented
// defaults wherever zero isn't a sensible setting.
type Config struct {
	WindowSeconds  int
	StatusInterval time.Duration
}

// Status is the periodic counters snapshot.
type Status struct {
	Probe    probe.Stats
	Queue    queue.Stats
	Sequence sequence.Stats
	Baseline baseline.Stats

	Normalized             uint64
	DroppedDecode          uint64
	DroppedUnknownCategory uint64
	Truncated              uint64
	Scored                 uint64
	SinkFailures           uint64
}

// Audit bundles the optional audit-trail components the Driver feeds
// alongside scoring. A zero-value Audit disables all of it: no journal
// writes, no CAS puts, no Merkle roots.
type Audit struct {
	Journal  *audit.Journal      // raw payload -> write-ahead journal
	Payloads *audit.PayloadStore // published-result CID -> content-addressed store
	Roots    *audit.RootManager  // periodic Merkle root over CID batches
}

// Driver is the Pipeline Driver (C7): it owns no business logic of its
// own beyond wiring and lifecycle — every decision is delegated to the
// component it couples.
type Driver struct {
	cfg Config

	probes     probe.Manager
	norm       event.Normalizer
	queue      *queue.EventQueue
	seq        *sequence.Store
	base       *baseline.Store
	scorer     *scoring.Engine
	sink       sink.Sink
	eventStore *store.Store

	journal  *audit.Journal
	payloads *audit.PayloadStore
	rootMgr  *audit.RootManager

	mu         sync.Mutex
	normalized uint64
	scored     uint64
	sinkFails  uint64

	auditMu   sync.Mutex
	batchCIDs []string
	batchSeq  int

	monitorCtx context.Context
	cancelMon  context.CancelFunc
	wg         sync.WaitGroup
}

// New builds a Driver. sink may be nil, in which case scored results
// are computed and folded into the baseline but never published. es
// may be nil to skip the persisted event log. aud's fields may each be
// nil independently; any nil component is simply skipped.
func New(cfg Config, probes probe.Manager, q *queue.EventQueue, seq *sequence.Store, base *baseline.Store, scorer *scoring.Engine, sk sink.Sink, es *store.Store, aud Audit) *Driver {
	if cfg.StatusInterval <= 0 {
		cfg.StatusInterval = DefaultStatusInterval
	}
	if cfg.WindowSeconds <= 0 {
		cfg.WindowSeconds = sequence.DefaultWindowSeconds
	}
	return &Driver{
		cfg:        cfg,
		probes:     probes,
		queue:      q,
		seq:        seq,
		base:       base,
		scorer:     scorer,
		sink:       sk,
		eventStore: es,
		journal:    aud.Journal,
		payloads:   aud.Payloads,
		rootMgr:    aud.Roots,
	}
}

// Start begins the control loop: probe ingestion, normalize-and-enqueue,
// dequeue-score-publish, and the periodic status tick each run in their
// own goroutine under a context derived from ctx.
func (d *Driver) Start(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}
	d.monitorCtx, d.cancelMon = context.WithCancel(ctx)

	if err := d.probes.Start(d.monitorCtx); err != nil {
		d.cancelMon()
		return err
	}

	d.wg.Add(3)
	go func() { defer d.wg.Done(); d.consumeLoop(d.monitorCtx) }()
	go func() { defer d.wg.Done(); d.scoreLoop(d.monitorCtx) }()
	go func() { defer d.wg.Done(); d.statusLoop(d.monitorCtx) }()
	return nil
}

// consumeLoop is the "poll" half of the loop: it drains the Probe
// Manager's record channel (fed by its own ring-buffer/perf readers),
// normalizes each raw record, and enqueues the result.
func (d *Driver) consumeLoop(ctx context.Context) {
	records := d.probes.Records()
	for {
		select {
		case <-ctx.Done():
			return
		case rec, ok := <-records:
			if !ok {
				return
			}
			var ev event.Event
			d.mu.Lock()
			err := d.norm.Normalize(rec.Raw, rec.Identity, &ev)
			if err == nil {
				d.normalized++
			}
			d.mu.Unlock()
			if err != nil {
				metrics.ObserveDropped("decode_error")
				continue
			}
			metrics.ObserveNormalized(ev.Category.String())
			d.queue.Enqueue(ev)
			metrics.SetQueuePending(d.queue.Stats().PendingLen)
		}
	}
}

// scoreLoop is the scoring half of the loop: for each dequeued event,
// ingest into the sequence store, extract features, score, publish,
// fold into the baseline, and mark processed.
func (d *Driver) scoreLoop(ctx context.Context) {
	for {
		ev, ok := d.queue.DequeueWait(ctx)
		if !ok {
			return
		}
		d.processOne(ctx, ev)
	}
}

func (d *Driver) processOne(ctx context.Context, ev event.Event) {
	d.seq.Ingest(ev)
	view, _ := d.seq.Snapshot(ev.PID)

	var rowID int64
	haveRow := false
	if d.eventStore != nil {
		id, err := d.eventStore.Insert(ctx, ev)
		if err != nil {
			log.Printf("[pipeline] event store insert failed: %v", err)
		} else {
			rowID, haveRow = id, true
		}
	}
	if d.journal != nil {
		if err := d.journal.LogPayload(ev.PID, ev.Category.String(), ev.Raw); err != nil {
			log.Printf("[pipeline] audit journal write failed: %v", err)
		}
	}

	bctx := features.BaselineContext{}
	if d.base != nil {
		bctx = d.base.Snapshot().Context()
	}
	vec := features.Extract(view, bctx, int64(d.cfg.WindowSeconds)*1e9, event.Now())

	start := time.Now()
	result := d.scorer.Score(ev, vec, len(view.Entries))
	metrics.ObserveScoring(start, result.ThreatLevel.String(), ev.Category.String())
	d.seq.SetCachedScore(ev.PID, result.ThreatScore)

	d.mu.Lock()
	d.scored++
	d.mu.Unlock()

	if d.sink != nil {
		if err := d.sink.Publish(ctx, result); err != nil {
			d.mu.Lock()
			d.sinkFails++
			d.mu.Unlock()
			metrics.AddSinkFailures(1)
			log.Printf("[pipeline] sink publish failed: %v", err)
		} else if d.payloads != nil {
			cid, err := d.payloads.Put(ev.Raw)
			if err != nil {
				log.Printf("[pipeline] audit payload store put failed: %v", err)
			} else {
				d.addToBatch(cid)
			}
		}
	}

	if d.base != nil {
		netOps, fileOps := countCategories(view)
		d.base.FoldObservation(d.seq.Stats().TrackedProcesses, netOps, fileOps, ev.Timestamp)
		metrics.SetBaselineEstablished(d.base.Snapshot().Established)
	}

	if haveRow {
		if err := d.eventStore.MarkProcessed(ctx, rowID); err != nil {
			log.Printf("[pipeline] event store mark processed failed: %v", err)
		}
	}

	d.queue.MarkProcessed(ev, event.Now())
	metrics.AddQueueProcessed(1)
}

// addToBatch accumulates cid into the current published-result batch
// and, once it reaches auditBatchSize, commits a Merkle root over it.
func (d *Driver) addToBatch(cid string) {
	if d.rootMgr == nil {
		return
	}
	d.auditMu.Lock()
	d.batchCIDs = append(d.batchCIDs, cid)
	var batch []string
	var seq int
	if len(d.batchCIDs) >= auditBatchSize {
		batch = d.batchCIDs
		d.batchCIDs = nil
		d.batchSeq++
		seq = d.batchSeq
	}
	d.auditMu.Unlock()

	if batch == nil {
		return
	}
	d.commitBatch(seq, batch)
}

func (d *Driver) commitBatch(seq int, cids []string) {
	batchID := fmt.Sprintf("batch-%06d", seq)
	if _, err := d.rootMgr.BuildAndCache(batchID, cids); err != nil {
		log.Printf("[pipeline] merkle root build failed for %s: %v", batchID, err)
	}
}

func countCategories(view sequence.View) (netOps, fileOps int) {
	for _, e := range view.Entries {
		switch e.Category {
		case event.Network:
			netOps++
		case event.ExecFS:
			fileOps++
		}
	}
	return netOps, fileOps
}

// statusLoop emits a periodic Status snapshot.
func (d *Driver) statusLoop(ctx context.Context) {
	ticker := time.NewTicker(d.cfg.StatusInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s := d.Status()
			log.Printf("[pipeline] status: probes attached=%d failed=%d fallback=%v | queue pending=%d dropped=%d | sequences tracked=%d | scored=%d sink_failures=%d",
				s.Probe.Attached, s.Probe.FailedAttach, s.Probe.UsingFallback,
				s.Queue.PendingLen, s.Queue.DroppedOverflow,
				s.Sequence.TrackedProcesses, s.Scored, s.SinkFailures)
			metrics.SetProbeStats(s.Probe.Attached)
			metrics.SetQueuePending(s.Queue.PendingLen)
			metrics.SetSequenceStats(s.Sequence.TrackedProcesses)
			if d.base != nil {
				_ = d.base.Checkpoint()
			}
		}
	}
}

// Status returns a point-in-time snapshot of every component's
// counters, for callers that want it outside the log line above (e.g.
// internal/metrics).
func (d *Driver) Status() Status {
	d.mu.Lock()
	normalized, scored, sinkFails := d.normalized, d.scored, d.sinkFails
	droppedDecode := d.norm.DroppedDecode
	droppedUnknown := d.norm.DroppedUnknownCategory
	truncated := d.norm.Truncated
	d.mu.Unlock()

	var baseStats baseline.Stats
	if d.base != nil {
		baseStats = d.base.Snapshot()
	}

	return Status{
		Probe:                  d.probes.Stats(),
		Queue:                  d.queue.Stats(),
		Sequence:               d.seq.Stats(),
		Baseline:               baseStats,
		Normalized:             normalized,
		DroppedDecode:          droppedDecode,
		DroppedUnknownCategory: droppedUnknown,
		Truncated:              truncated,
		Scored:                 scored,
		SinkFailures:           sinkFails,
	}
}

// Stop cancels the control loop, waits for every goroutine to exit,
// best-effort-drains and scores whatever remains pending, then tears
// down the Probe Manager. This is the strict reverse-order cleanup:
// driver stop -> queue drain -> probe detach-all -> delete-all (the
// latter two owned by probes.Close()).
func (d *Driver) Stop() error {
	if d.cancelMon != nil {
		d.cancelMon()
	}
	d.queue.Shutdown()
	d.wg.Wait()

	drainCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	for _, ev := range d.queue.Drain() {
		d.processOne(drainCtx, ev)
	}

	if d.base != nil {
		if err := d.base.Checkpoint(); err != nil {
			log.Printf("[pipeline] final baseline checkpoint failed: %v", err)
		}
	}

	if d.rootMgr != nil {
		d.auditMu.Lock()
		remaining := d.batchCIDs
		d.batchCIDs = nil
		if len(remaining) > 0 {
			d.batchSeq++
		}
		seq := d.batchSeq
		d.auditMu.Unlock()
		if len(remaining) > 0 {
			d.commitBatch(seq, remaining)
		}
	}

	return d.probes.Close()
}
