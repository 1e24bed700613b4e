// Package config assembles the agent's runtime configuration from
// defaults, a YAML file, and environment overrides, then hands each
// sub-config to the package that owns it (pkg/probe, pkg/classifier,
// pkg/scoring, pkg/sink, pkg/store). Grounded on the DiffConfig/
// EBPFConfig shape in pkg/ebpf's original pkg/config/config.go:
// a flat top-level struct with nested component configs, a
// DefaultConfig/LoadFromEnv/Validate trio, and env var names under a
// single project prefix.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/guy-davidi/ravn-sub000/pkg/classifier"
	"github.com/guy-davidi/ravn-sub000/pkg/event"
	"github.com/guy-davidi/ravn-sub000/pkg/pipeline"
	"github.com/guy-davidi/ravn-sub000/pkg/probe"
	"github.com/guy-davidi/ravn-sub000/pkg/scoring"
	"github.com/guy-davidi/ravn-sub000/pkg/sink"
)

// Config is the agent's full runtime configuration.
type Config struct {
	// WindowSeconds sizes the Sequence Store's sliding window.
	WindowSeconds int `yaml:"window_seconds"`

	// MinEventsForAnalysis is handed to the Scoring Engine, where it
	// only scales each result's Confidence; events are scored
	// regardless of how many a pid has in its window.
	MinEventsForAnalysis int `yaml:"min_events_for_analysis"`

	// StatusInterval controls how often the Pipeline Driver logs a
	// status snapshot and checkpoints the baseline.
	StatusInterval time.Duration `yaml:"status_interval"`

	// BaselinePath is where baseline statistics are checkpointed via
	// bbolt. Empty runs memory-only (no persistence across restarts).
	BaselinePath string `yaml:"baseline_path"`

	// StorePath is the sqlite event log's path. ":memory:" or empty
	// disables durable persistence.
	StorePath string `yaml:"store_path"`

	// AuditPath is the Pebble database backing the raw-payload
	// journal and content-addressed audit store.
	AuditPath string `yaml:"audit_path"`

	Scoring    ScoringConfig    `yaml:"scoring"`
	Classifier ClassifierConfig `yaml:"classifier"`
	Probe      ProbeConfig      `yaml:"probe"`
	Sink       SinkConfig       `yaml:"sink"`
}

// ScoringConfig mirrors scoring.Config's tunable weights and
// thresholds in a YAML/env-friendly shape.
type ScoringConfig struct {
	AnomalyFrequencyWeight float64            `yaml:"anomaly_frequency_weight"`
	AnomalyPatternWeight   float64            `yaml:"anomaly_pattern_weight"`
	AnomalyContextWeight   float64            `yaml:"anomaly_context_weight"`
	AnomalyThreshold       float64            `yaml:"anomaly_threshold"`
	ThreatSeverityWeight   float64            `yaml:"threat_severity_weight"`
	ThreatFrequencyWeight  float64            `yaml:"threat_frequency_weight"`
	ThreatPatternWeight    float64            `yaml:"threat_pattern_weight"`
	ThreatContextWeight    float64            `yaml:"threat_context_weight"`
	ThreatThreshold        float64            `yaml:"threat_threshold"`
	ThreatAnomalyScale     float64            `yaml:"threat_anomaly_scale"`
	CategorySeverity       map[string]float64 `yaml:"category_severity"`
}

// ClassifierConfig mirrors classifier.Config.
type ClassifierConfig struct {
	SuspiciousProcesses []string `yaml:"suspicious_processes"`
	SuspiciousPaths     []string `yaml:"suspicious_paths"`
	SensitivePaths      []string `yaml:"sensitive_paths"`
	ExecutablePaths     []string `yaml:"executable_paths"`
	ConfigPaths         []string `yaml:"config_paths"`
	LogPaths            []string `yaml:"log_paths"`
	TempPaths           []string `yaml:"temp_paths"`
	SuspiciousPorts     []int    `yaml:"suspicious_ports"`
}

// ProbeConfig mirrors probe.Config.
type ProbeConfig struct {
	ArtifactDir       string   `yaml:"artifact_dir"`
	EventBufferSize   int      `yaml:"event_buffer_size"`
	AllowFallback     bool     `yaml:"allow_fallback"`
	ForceFallback     bool     `yaml:"force_fallback"`
	FallbackWatchDirs []string `yaml:"fallback_watch_dirs"`
	BTFCacheDir       string   `yaml:"btf_cache_dir"`
	BTFAllowDownload  bool     `yaml:"btf_allow_download"`
	BTFHubMirror      string   `yaml:"btf_hub_mirror"`
}

// SinkConfig selects and configures the published-result sink.
type SinkConfig struct {
	// Kind is "log" (default) or "redis".
	Kind          string        `yaml:"kind"`
	RedisAddr     string        `yaml:"redis_addr"`
	RedisPassword string        `yaml:"redis_password"`
	RedisDB       int           `yaml:"redis_db"`
	RedisListKey  string        `yaml:"redis_list_key"`
	MaxAttempts   int           `yaml:"max_attempts"`
	InitialDelay  time.Duration `yaml:"initial_delay"`
	MaxDelay      time.Duration `yaml:"max_delay"`
	BackoffFactor float64       `yaml:"backoff_factor"`
	BufferSize    int           `yaml:"buffer_size"`
}

// DefaultConfig returns the agent's built-in defaults. Scoring weights
// and thresholds and the classifier lists are copied from
// scoring.DefaultConfig and classifier.DefaultConfig; the remaining
// values are set here and can differ from the owning package's own
// defaults (MinEventsForAnalysis, the probe artifact directory and the
// probe event buffer size all do).
func DefaultConfig() *Config {
	scoringDefault := scoring.DefaultConfig()
	categorySeverity := make(map[string]float64, len(scoringDefault.CategorySeverity))
	for cat, weight := range scoringDefault.CategorySeverity {
		categorySeverity[cat.String()] = weight
	}

	classifierDefault := classifier.DefaultConfig()
	suspiciousPorts := make([]int, 0, len(classifierDefault.SuspiciousPorts))
	for _, p := range classifierDefault.SuspiciousPorts {
		suspiciousPorts = append(suspiciousPorts, int(p))
	}

	return &Config{
		WindowSeconds:        10,
		MinEventsForAnalysis: 5,
		StatusInterval:       pipeline.DefaultStatusInterval,
		BaselinePath:         "",
		StorePath:            "",
		AuditPath:            "",

		Scoring: ScoringConfig{
			AnomalyFrequencyWeight: scoringDefault.AnomalyFrequencyWeight,
			AnomalyPatternWeight:   scoringDefault.AnomalyPatternWeight,
			AnomalyContextWeight:   scoringDefault.AnomalyContextWeight,
			AnomalyThreshold:       scoringDefault.AnomalyThreshold,
			ThreatSeverityWeight:   scoringDefault.ThreatSeverityWeight,
			ThreatFrequencyWeight:  scoringDefault.ThreatFrequencyWeight,
			ThreatPatternWeight:    scoringDefault.ThreatPatternWeight,
			ThreatContextWeight:    scoringDefault.ThreatContextWeight,
			ThreatThreshold:        scoringDefault.ThreatThreshold,
			ThreatAnomalyScale:     scoringDefault.ThreatAnomalyScale,
			CategorySeverity:       categorySeverity,
		},

		Classifier: ClassifierConfig{
			SuspiciousProcesses: classifierDefault.SuspiciousProcesses,
			SuspiciousPaths:     classifierDefault.SuspiciousPaths,
			SensitivePaths:      classifierDefault.SensitivePaths,
			ExecutablePaths:     classifierDefault.ExecutablePaths,
			ConfigPaths:         classifierDefault.ConfigPaths,
			LogPaths:            classifierDefault.LogPaths,
			TempPaths:           classifierDefault.TempPaths,
			SuspiciousPorts:     suspiciousPorts,
		},

		Probe: ProbeConfig{
			ArtifactDir:      "/opt/ravn/probes",
			EventBufferSize:  4096,
			AllowFallback:    true,
			ForceFallback:    false,
			BTFCacheDir:      defaultBTFCacheDir(),
			BTFAllowDownload: true,
			BTFHubMirror:     "https://github.com/aquasecurity/btfhub-archive/raw/main",
		},

		Sink: SinkConfig{
			Kind:          "log",
			RedisListKey:  "ravn:results",
			MaxAttempts:   3,
			InitialDelay:  100 * time.Millisecond,
			MaxDelay:      5 * time.Second,
			BackoffFactor: 2.0,
			BufferSize:    1024,
		},
	}
}

func defaultBTFCacheDir() string {
	if _, err := os.Stat("/var/cache"); err == nil || os.IsPermission(err) {
		return "/var/cache/ravn/btf"
	}
	return os.TempDir() + "/ravn/btf"
}

// LoadFromFile reads and parses a YAML configuration file on top of
// DefaultConfig's values.
func LoadFromFile(path string) (*Config, error) {
	cfg := DefaultConfig()
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("config: parse %s: %w", path, err)
	}
	return cfg, nil
}

// LoadFromEnv loads configuration from environment variables layered
// on top of cfg (pass DefaultConfig() or a file-loaded Config).
func LoadFromEnv(cfg *Config) *Config {
	if v := os.Getenv("RAVN_WINDOW_SECONDS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.WindowSeconds = n
		}
	}
	if v := os.Getenv("RAVN_MIN_EVENTS_FOR_ANALYSIS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.MinEventsForAnalysis = n
		}
	}
	if v := os.Getenv("RAVN_STATUS_INTERVAL"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.StatusInterval = d
		}
	}
	if v := os.Getenv("RAVN_BASELINE_PATH"); v != "" {
		cfg.BaselinePath = v
	}
	if v := os.Getenv("RAVN_STORE_PATH"); v != "" {
		cfg.StorePath = v
	}
	if v := os.Getenv("RAVN_AUDIT_PATH"); v != "" {
		cfg.AuditPath = v
	}

	if v := os.Getenv("RAVN_PROBE_ARTIFACT_DIR"); v != "" {
		cfg.Probe.ArtifactDir = v
	}
	if v := os.Getenv("RAVN_PROBE_EVENT_BUFFER_SIZE"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.Probe.EventBufferSize = n
		}
	}
	if v := os.Getenv("RAVN_PROBE_ALLOW_FALLBACK"); v != "" {
		cfg.Probe.AllowFallback = v == "1" || v == "true" || v == "TRUE"
	}
	if v := os.Getenv("RAVN_PROBE_FORCE_FALLBACK"); v != "" {
		cfg.Probe.ForceFallback = v == "1" || v == "true" || v == "TRUE"
	}

	if v := os.Getenv("RAVN_SINK_KIND"); v != "" {
		cfg.Sink.Kind = v
	}
	if v := os.Getenv("RAVN_SINK_REDIS_ADDR"); v != "" {
		cfg.Sink.RedisAddr = v
	}
	if v := os.Getenv("RAVN_SINK_REDIS_PASSWORD"); v != "" {
		cfg.Sink.RedisPassword = v
	}

	return cfg
}

// Validate checks the configuration for internally consistent values.
func (c *Config) Validate() error {
	if c.WindowSeconds <= 0 {
		return fmt.Errorf("config: window_seconds must be positive, got %d", c.WindowSeconds)
	}
	if c.MinEventsForAnalysis < 0 {
		return fmt.Errorf("config: min_events_for_analysis must be >= 0, got %d", c.MinEventsForAnalysis)
	}
	if c.StatusInterval <= 0 {
		return fmt.Errorf("config: status_interval must be positive, got %s", c.StatusInterval)
	}

	sum := c.Scoring.AnomalyFrequencyWeight + c.Scoring.AnomalyPatternWeight + c.Scoring.AnomalyContextWeight
	if sum < 0.99 || sum > 1.01 {
		return fmt.Errorf("config: anomaly weights must sum to ~1.0, got %.3f", sum)
	}
	threatSum := c.Scoring.ThreatSeverityWeight + c.Scoring.ThreatFrequencyWeight + c.Scoring.ThreatPatternWeight + c.Scoring.ThreatContextWeight
	if threatSum < 0.99 || threatSum > 1.01 {
		return fmt.Errorf("config: threat weights must sum to ~1.0, got %.3f", threatSum)
	}
	if c.Scoring.ThreatThreshold <= 0 || c.Scoring.ThreatThreshold > 100 {
		return fmt.Errorf("config: threat_threshold must be in (0, 100], got %.1f", c.Scoring.ThreatThreshold)
	}

	if c.Probe.EventBufferSize <= 0 {
		return fmt.Errorf("config: probe.event_buffer_size must be positive, got %d", c.Probe.EventBufferSize)
	}
	if c.Probe.ForceFallback && !c.Probe.AllowFallback {
		return fmt.Errorf("config: probe.force_fallback requires probe.allow_fallback")
	}

	switch c.Sink.Kind {
	case "log":
	case "redis":
		if c.Sink.RedisAddr == "" {
			return fmt.Errorf("config: sink.redis_addr is required when sink.kind is \"redis\"")
		}
	default:
		return fmt.Errorf("config: invalid sink.kind: %s (must be \"log\" or \"redis\")", c.Sink.Kind)
	}

	return nil
}

// ScoringEngineConfig projects the YAML-friendly ScoringConfig into
// scoring.Config for Engine construction.
func (c *Config) ScoringEngineConfig() scoring.Config {
	sc := scoring.DefaultConfig()
	sc.AnomalyFrequencyWeight = c.Scoring.AnomalyFrequencyWeight
	sc.AnomalyPatternWeight = c.Scoring.AnomalyPatternWeight
	sc.AnomalyContextWeight = c.Scoring.AnomalyContextWeight
	sc.AnomalyThreshold = c.Scoring.AnomalyThreshold
	sc.ThreatSeverityWeight = c.Scoring.ThreatSeverityWeight
	sc.ThreatFrequencyWeight = c.Scoring.ThreatFrequencyWeight
	sc.ThreatPatternWeight = c.Scoring.ThreatPatternWeight
	sc.ThreatContextWeight = c.Scoring.ThreatContextWeight
	sc.ThreatThreshold = c.Scoring.ThreatThreshold
	sc.ThreatAnomalyScale = c.Scoring.ThreatAnomalyScale
	sc.MinEventsForAnalysis = c.MinEventsForAnalysis
	for name, weight := range c.Scoring.CategorySeverity {
		if cat, ok := event.CategoryFromProbeName(name); ok {
			sc.CategorySeverity[cat] = weight
		}
	}
	return sc
}

// ClassifierContextConfig projects ClassifierConfig into
// classifier.Config.
func (c *Config) ClassifierContextConfig() classifier.Config {
	ports := make([]uint16, 0, len(c.Classifier.SuspiciousPorts))
	for _, p := range c.Classifier.SuspiciousPorts {
		ports = append(ports, uint16(p))
	}
	return classifier.Config{
		SuspiciousProcesses: c.Classifier.SuspiciousProcesses,
		SuspiciousPaths:     c.Classifier.SuspiciousPaths,
		SensitivePaths:      c.Classifier.SensitivePaths,
		ExecutablePaths:     c.Classifier.ExecutablePaths,
		ConfigPaths:         c.Classifier.ConfigPaths,
		LogPaths:            c.Classifier.LogPaths,
		TempPaths:           c.Classifier.TempPaths,
		SuspiciousPorts:     ports,
	}
}

// ProbeManagerConfig projects ProbeConfig into probe.Config.
func (c *Config) ProbeManagerConfig() probe.Config {
	return probe.Config{
		ArtifactDir:       c.Probe.ArtifactDir,
		EventBufferSize:   c.Probe.EventBufferSize,
		AllowFallback:     c.Probe.AllowFallback,
		ForceFallback:     c.Probe.ForceFallback,
		FallbackWatchDirs: c.Probe.FallbackWatchDirs,
		BTF: probe.BTFConfig{
			CacheDir:      c.Probe.BTFCacheDir,
			AllowDownload: c.Probe.BTFAllowDownload,
			HubMirror:     c.Probe.BTFHubMirror,
		},
	}
}

// RedisSinkConfig projects SinkConfig into sink.RedisSinkConfig, valid
// only when c.Sink.Kind == "redis".
func (c *Config) RedisSinkConfig() sink.RedisSinkConfig {
	return sink.RedisSinkConfig{
		Addr:          c.Sink.RedisAddr,
		Password:      c.Sink.RedisPassword,
		DB:            c.Sink.RedisDB,
		ListKey:       c.Sink.RedisListKey,
		MaxAttempts:   c.Sink.MaxAttempts,
		InitialDelay:  c.Sink.InitialDelay,
		MaxDelay:      c.Sink.MaxDelay,
		BackoffFactor: c.Sink.BackoffFactor,
		BufferSize:    c.Sink.BufferSize,
	}
}

// PipelineConfig projects the top-level Config into pipeline.Config.
func (c *Config) PipelineConfig() pipeline.Config {
	return pipeline.Config{
		WindowSeconds:  c.WindowSeconds,
		StatusInterval: c.StatusInterval,
	}
}
