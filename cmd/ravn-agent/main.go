// Command ravn-agent runs the host-resident runtime-security agent:
// it loads the configured kernel probes, normalizes and scores every
// record they produce, and publishes the results to the configured
// sink until told to stop.
package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/cockroachdb/pebble"
	"github.com/go-redis/redis/v8"
	"github.com/spf13/cobra"

	"github.com/guy-davidi/ravn-sub000/internal/metrics"
	"github.com/guy-davidi/ravn-sub000/pkg/audit"
	"github.com/guy-davidi/ravn-sub000/pkg/baseline"
	"github.com/guy-davidi/ravn-sub000/pkg/classifier"
	"github.com/guy-davidi/ravn-sub000/pkg/config"
	"github.com/guy-davidi/ravn-sub000/pkg/pipeline"
	"github.com/guy-davidi/ravn-sub000/pkg/probe"
	"github.com/guy-davidi/ravn-sub000/pkg/queue"
	"github.com/guy-davidi/ravn-sub000/pkg/scoring"
	"github.com/guy-davidi/ravn-sub000/pkg/sequence"
	"github.com/guy-davidi/ravn-sub000/pkg/sink"
	"github.com/guy-davidi/ravn-sub000/pkg/store"
)

// Exit codes for init failures. 0 is reserved for a normal, signalled
// stop; every init failure gets its own code so a wrapping supervisor
// can tell them apart without parsing log output.
const (
	exitOK                = 0
	exitProbeLoadFailed   = 10
	exitAttachFailed      = 11
	exitSinkConnectFailed = 12
	exitInsufficientPrivs = 13
	exitConfigInvalid     = 14
)

var (
	configPath   string
	metricsAddr  string
	debugEnabled bool

	// exitCode is set by runAgent before it returns an error, so main
	// can os.Exit with the right code after every deferred cleanup in
	// runAgent has already run.
	exitCode = exitOK
)

func logDebug(format string, args ...interface{}) {
	if !debugEnabled {
		return
	}
	log.Printf("[DEBUG] "+format, args...)
}

func main() {
	rootCmd := &cobra.Command{
		Use:   "ravn-agent",
		Short: "ravn-agent - host-resident runtime security monitoring",
		Long: `ravn-agent attaches kernel probes across six categories
(exec-fs, network, system, security, vulnerability, update), normalizes
every record into a canonical event, scores it against a rolling
per-process baseline, and publishes threat assessments to a sink.

Example:
  ravn-agent --config /etc/ravn/agent.yaml
  ravn-agent --metrics-addr :9090 --debug`,
		RunE: runAgent,
	}

	rootCmd.Flags().StringVar(&configPath, "config", "", "Path to a YAML configuration file (defaults are used if omitted)")
	rootCmd.Flags().StringVar(&metricsAddr, "metrics-addr", ":9090", "Address the Prometheus /metrics endpoint listens on")
	rootCmd.PersistentFlags().BoolVar(&debugEnabled, "debug", false, "Enable verbose debug logging")

	if err := rootCmd.Execute(); err != nil {
		log.Print(err)
		if exitCode == exitOK {
			exitCode = 1
		}
		os.Exit(exitCode)
	}
}

func runAgent(cmd *cobra.Command, _ []string) error {
	cfg := config.DefaultConfig()
	if configPath != "" {
		loaded, err := config.LoadFromFile(configPath)
		if err != nil {
			exitCode = exitConfigInvalid
			return err
		}
		cfg = loaded
	}
	cfg = config.LoadFromEnv(cfg)

	if err := cfg.Validate(); err != nil {
		exitCode = exitConfigInvalid
		return err
	}

	logDebug("configuration: window=%ds min_events=%d sink=%s probe_dir=%s",
		cfg.WindowSeconds, cfg.MinEventsForAnalysis, cfg.Sink.Kind, cfg.Probe.ArtifactDir)

	metricsCtx, stopMetrics := context.WithCancel(context.Background())
	defer stopMetrics()
	go func() {
		if err := metrics.Serve(metricsCtx, metricsAddr, log.Default()); err != nil {
			log.Printf("[ravn-agent] metrics server: %v", err)
		}
	}()

	probes, err := probe.NewManager(cfg.ProbeManagerConfig())
	if err != nil {
		if isPrivilegeError(err) {
			exitCode = exitInsufficientPrivs
		} else {
			exitCode = exitProbeLoadFailed
		}
		return err
	}

	cls := classifier.New(cfg.ClassifierContextConfig())
	scorer := scoring.New(cfg.ScoringEngineConfig(), cls)
	seq := sequence.New(cfg.WindowSeconds)

	var base *baseline.Store
	if cfg.BaselinePath != "" {
		base, err = baseline.Open(cfg.BaselinePath)
		if err != nil {
			log.Printf("[ravn-agent] baseline open failed, continuing without persistence: %v", err)
			base = nil
		} else {
			defer base.Close()
		}
	}

	var eventStore *store.Store
	if cfg.StorePath != "" {
		eventStore, err = store.Open(cfg.StorePath)
		if err != nil {
			log.Printf("[ravn-agent] event store open failed, continuing without persistence: %v", err)
			eventStore = nil
		} else {
			defer eventStore.Close()
		}
	}

	var aud pipeline.Audit
	if cfg.AuditPath != "" {
		auditDB, err := pebble.Open(cfg.AuditPath, &pebble.Options{})
		if err != nil {
			log.Printf("[ravn-agent] audit store open failed, continuing without journaling: %v", err)
		} else {
			defer auditDB.Close()
			payloads, err := audit.NewPayloadStore(auditDB, "sha256")
			if err != nil {
				log.Printf("[ravn-agent] audit payload store init failed: %v", err)
			} else {
				stopCompactor := audit.StartCompactor(auditDB, payloads)
				defer stopCompactor()
				aud.Journal = audit.NewJournal(auditDB)
				aud.Payloads = payloads
				aud.Roots = audit.NewRootManager()
			}
		}
	}

	sk, err := buildSink(cfg)
	if err != nil {
		exitCode = exitSinkConnectFailed
		return err
	}
	defer sk.Close()

	driver := pipeline.New(cfg.PipelineConfig(), probes, queue.New(queue.DefaultMaxPending), seq, base, scorer, sk, eventStore, aud)

	metrics.SetAgentInfo("", "", "dev", probeBackendName(cfg))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := driver.Start(ctx); err != nil {
		if isPrivilegeError(err) {
			exitCode = exitInsufficientPrivs
		} else {
			exitCode = exitAttachFailed
		}
		return err
	}

	if eventStore != nil {
		go runRetention(ctx, eventStore, eventRetention)
	}

	log.Printf("[ravn-agent] started, metrics on %s", metricsAddr)
	<-ctx.Done()
	log.Printf("[ravn-agent] stop signal received, draining")

	metrics.SetUp(false)
	if err := driver.Stop(); err != nil {
		log.Printf("[ravn-agent] shutdown error: %v", err)
	}

	return nil
}

// eventRetention bounds how long persisted events are kept in the
// optional event log (written by the pipeline's driver on every
// scored event) before runRetention reclaims them.
const eventRetention = 7 * 24 * time.Hour

// runRetention periodically prunes events older than retention from
// the optional event log. It runs independently of the scoring loop
// that writes to the log: the store is a queryable record of what
// happened, not an input to scoring.
func runRetention(ctx context.Context, s *store.Store, retention time.Duration) {
	ticker := time.NewTicker(time.Hour)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			cutoff := time.Now().Add(-retention).UnixNano()
			n, err := s.DeleteOlderThan(ctx, cutoff)
			if err != nil {
				log.Printf("[ravn-agent] event store retention pass failed: %v", err)
				continue
			}
			if n > 0 {
				log.Printf("[ravn-agent] event store retention: pruned %d rows", n)
			}
		}
	}
}

// buildSink constructs the configured result sink, defaulting to a
// LogSink when no kind or an unrecognized kind is set (Validate
// already rejects anything but "log"/"redis" before this runs). A
// Redis sink is preflighted with a PING so a broker that's down at
// startup surfaces as a sink-connect failure instead of silently
// buffering every result until the bounded local queue overflows.
func buildSink(cfg *config.Config) (sink.Sink, error) {
	switch cfg.Sink.Kind {
	case "redis":
		rc := cfg.RedisSinkConfig()
		rdb := redis.NewClient(&redis.Options{Addr: rc.Addr, Password: rc.Password, DB: rc.DB})
		defer rdb.Close()
		pingCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		if err := rdb.Ping(pingCtx).Err(); err != nil {
			return nil, fmt.Errorf("redis sink: %w", err)
		}
		return sink.NewRedisSink(rc), nil
	default:
		return sink.NewLogSink(log.Default()), nil
	}
}

func probeBackendName(cfg *config.Config) string {
	if cfg.Probe.ForceFallback {
		return "fsnotify"
	}
	return "ebpf"
}

// isPrivilegeError reports whether err originated from insufficient
// kernel privileges (CAP_BPF/CAP_SYS_ADMIN, or read access to a probe
// artifact) rather than a verifier rejection or a missing artifact.
func isPrivilegeError(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "insufficient privilege") || strings.Contains(msg, "permission denied")
}
