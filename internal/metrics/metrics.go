package metrics

import (
	"context"
	"errors"
	"log"
	"net/http"
	"runtime"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "ravn"

var (
	// Registry is a dedicated Prometheus registry for all agent metrics.
	Registry = prometheus.NewRegistry()

	// EventsNormalizedTotal counts raw records successfully normalized
	// into canonical events, by category.
	EventsNormalizedTotal = promauto.With(Registry).NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "events_normalized_total",
			Help:      "Total canonical events produced by the normalizer",
		},
		[]string{"category"},
	)

	// EventsDroppedTotal counts records dropped before becoming a
	// canonical event, by reason.
	EventsDroppedTotal = promauto.With(Registry).NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "events_dropped_total",
			Help:      "Total raw records dropped before normalization completed",
		},
		[]string{"reason"}, // decode_error | unknown_category | queue_overflow
	)

	// QueuePendingLength gauges the current pending-queue depth.
	QueuePendingLength = promauto.With(Registry).NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "queue_pending_length",
			Help:      "Current number of events waiting to be scored",
		},
	)

	// QueueProcessedTotal counts events that reached mark-processed.
	QueueProcessedTotal = promauto.With(Registry).NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "queue_processed_total",
			Help:      "Total events marked processed",
		},
	)

	// ProbesAttached gauges the number of probes currently attached.
	ProbesAttached = promauto.With(Registry).NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "probes_attached",
			Help:      "Number of kernel probes currently attached",
		},
	)

	// ProbesFailedTotal counts probe attach/load failures by category.
	ProbesFailedTotal = promauto.With(Registry).NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "probes_failed_total",
			Help:      "Total probe load/attach failures",
		},
		[]string{"probe", "reason"},
	)

	// ScoringDuration measures wall time spent scoring one event.
	ScoringDuration = promauto.With(Registry).NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "scoring_duration_microseconds",
			Help:      "Duration of a single event's feature-extract+score pass",
			Buckets:   []float64{5, 10, 25, 50, 100, 250, 500, 1000, 2500, 5000},
		},
	)

	// ThreatLevelTotal counts scored events by threat level and category.
	ThreatLevelTotal = promauto.With(Registry).NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "threat_level_total",
			Help:      "Total scored events by threat level and event category",
		},
		[]string{"level", "category"},
	)

	// SequencesTracked gauges the number of live per-pid sequences.
	SequencesTracked = promauto.With(Registry).NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "sequences_tracked",
			Help:      "Number of per-pid sequences currently held in the sliding window",
		},
	)

	// SequenceEvictionsTotal counts sequence evictions at the P_MAX cap.
	SequenceEvictionsTotal = promauto.With(Registry).NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sequence_evictions_total",
			Help:      "Total sequences evicted for exceeding the tracked-process cap",
		},
	)

	// SinkFailuresTotal counts publish failures to the configured sink.
	SinkFailuresTotal = promauto.With(Registry).NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sink_failures_total",
			Help:      "Total failed publish attempts to the result sink",
		},
	)

	// BaselineEstablished reports whether the baseline has seen enough
	// samples to be considered established (0 or 1).
	BaselineEstablished = promauto.With(Registry).NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "baseline_established",
			Help:      "1 once the baseline has observed its minimum sample count",
		},
	)

	// AgentInfo exposes static information about the running agent.
	AgentInfo = promauto.With(Registry).NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "agent_info",
			Help:      "Static information about the running agent",
		},
		[]string{"os", "arch", "version", "probe_backend"},
	)

	// Up is a liveness gauge for the agent.
	Up = promauto.With(Registry).NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "up",
			Help:      "1 if the agent is running and healthy",
		},
	)
)

func init() {
	Registry.MustRegister(prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}))
	Registry.MustRegister(prometheus.NewGoCollector())
	Up.Set(1)
}

// SetAgentInfo publishes a single info metric for the running agent.
func SetAgentInfo(osName, arch, version, probeBackend string) {
	if osName == "" {
		osName = runtime.GOOS
	}
	if arch == "" {
		arch = runtime.GOARCH
	}
	if probeBackend == "" {
		probeBackend = "unknown"
	}
	if version == "" {
		version = "dev"
	}
	AgentInfo.WithLabelValues(osName, arch, version, probeBackend).Set(1)
}

// ObserveScoring records the duration of one feature-extract+score pass
// and tallies the resulting threat level by category.
func ObserveScoring(start time.Time, level, category string) {
	elapsed := float64(time.Since(start)) / float64(time.Microsecond)
	ScoringDuration.Observe(elapsed)
	ThreatLevelTotal.WithLabelValues(level, category).Inc()
}

// ObserveNormalized increments the per-category normalized-event counter.
func ObserveNormalized(category string) {
	EventsNormalizedTotal.WithLabelValues(category).Inc()
}

// ObserveDropped increments the dropped-event counter for reason.
func ObserveDropped(reason string) {
	EventsDroppedTotal.WithLabelValues(reason).Inc()
}

// SetQueuePending updates the pending-queue depth gauge.
func SetQueuePending(pending int) {
	QueuePendingLength.Set(float64(pending))
}

// AddQueueProcessed increments the processed-event counter by n.
func AddQueueProcessed(n int) {
	if n <= 0 {
		return
	}
	QueueProcessedTotal.Add(float64(n))
}

// SetProbeStats updates the probe gauges from a point-in-time snapshot.
func SetProbeStats(attached int) {
	ProbesAttached.Set(float64(attached))
}

// ObserveProbeFailure increments the per-probe failure counter.
func ObserveProbeFailure(probe, reason string) {
	ProbesFailedTotal.WithLabelValues(probe, reason).Inc()
}

// SetSequenceStats updates the sequence-store gauge.
func SetSequenceStats(tracked int) {
	SequencesTracked.Set(float64(tracked))
}

// AddSequenceEvictions increments the sequence eviction counter.
func AddSequenceEvictions(n int) {
	if n <= 0 {
		return
	}
	SequenceEvictionsTotal.Add(float64(n))
}

// AddSinkFailures increments the sink failure counter.
func AddSinkFailures(n int) {
	if n <= 0 {
		return
	}
	SinkFailuresTotal.Add(float64(n))
}

// SetBaselineEstablished toggles the baseline-established gauge.
func SetBaselineEstablished(established bool) {
	if established {
		BaselineEstablished.Set(1)
		return
	}
	BaselineEstablished.Set(0)
}

// SetUp toggles the liveness gauge.
func SetUp(healthy bool) {
	if healthy {
		Up.Set(1)
		return
	}
	Up.Set(0)
}

// Serve starts the /metrics HTTP endpoint on the provided address.
func Serve(ctx context.Context, addr string, logger *log.Logger) error {
	if ctx == nil {
		ctx = context.Background()
	}
	if logger == nil {
		logger = log.Default()
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(Registry, promhttp.HandlerOpts{EnableOpenMetrics: true}))

	srv := &http.Server{Addr: addr, Handler: mux}

	idleClosed := make(chan struct{})
	go func() {
		defer close(idleClosed)
		<-ctx.Done()
		_ = srv.Shutdown(context.Background())
	}()

	logger.Printf("[metrics] Prometheus endpoint listening on %s", addr)
	err := srv.ListenAndServe()
	if errors.Is(err, http.ErrServerClosed) {
		<-idleClosed
		return nil
	}

	return err
}
