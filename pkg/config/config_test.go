package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestDefaultConfigIsValid(t *testing.T) {
	cfg := DefaultConfig()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("DefaultConfig() failed Validate(): %v", err)
	}
	if cfg.WindowSeconds != 10 {
		t.Errorf("WindowSeconds = %d, want 10", cfg.WindowSeconds)
	}
	if cfg.Sink.Kind != "log" {
		t.Errorf("Sink.Kind = %q, want \"log\"", cfg.Sink.Kind)
	}
	if len(cfg.Classifier.SuspiciousProcesses) == 0 {
		t.Error("expected default classifier suspicious processes to be non-empty")
	}
}

func TestLoadFromFileOverridesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ravn.yaml")
	yamlBody := []byte(`
window_seconds: 30
min_events_for_analysis: 3
sink:
  kind: redis
  redis_addr: "127.0.0.1:6379"
`)
	if err := os.WriteFile(path, yamlBody, 0o600); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	cfg, err := LoadFromFile(path)
	if err != nil {
		t.Fatalf("LoadFromFile: %v", err)
	}
	if cfg.WindowSeconds != 30 {
		t.Errorf("WindowSeconds = %d, want 30", cfg.WindowSeconds)
	}
	if cfg.MinEventsForAnalysis != 3 {
		t.Errorf("MinEventsForAnalysis = %d, want 3", cfg.MinEventsForAnalysis)
	}
	if cfg.Sink.Kind != "redis" || cfg.Sink.RedisAddr != "127.0.0.1:6379" {
		t.Errorf("Sink = %+v, want kind=redis addr=127.0.0.1:6379", cfg.Sink)
	}
	// Untouched defaults should survive the partial override.
	if cfg.Scoring.ThreatThreshold != 70 {
		t.Errorf("ThreatThreshold = %.1f, want unchanged default 70", cfg.Scoring.ThreatThreshold)
	}
}

func TestLoadFromEnvOverridesConfig(t *testing.T) {
	t.Setenv("RAVN_WINDOW_SECONDS", "15")
	t.Setenv("RAVN_SINK_KIND", "redis")
	t.Setenv("RAVN_SINK_REDIS_ADDR", "redis.internal:6379")
	t.Setenv("RAVN_PROBE_FORCE_FALLBACK", "true")
	t.Setenv("RAVN_PROBE_ALLOW_FALLBACK", "true")

	cfg := LoadFromEnv(DefaultConfig())

	if cfg.WindowSeconds != 15 {
		t.Errorf("WindowSeconds = %d, want 15", cfg.WindowSeconds)
	}
	if cfg.Sink.Kind != "redis" || cfg.Sink.RedisAddr != "redis.internal:6379" {
		t.Errorf("Sink = %+v, want kind=redis addr=redis.internal:6379", cfg.Sink)
	}
	if !cfg.Probe.ForceFallback {
		t.Error("expected ForceFallback to be true")
	}
}

func TestValidateRejectsBadConfig(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{"valid default", func(c *Config) {}, false},
		{"zero window", func(c *Config) { c.WindowSeconds = 0 }, true},
		{"negative min events", func(c *Config) { c.MinEventsForAnalysis = -1 }, true},
		{"bad anomaly weights", func(c *Config) { c.Scoring.AnomalyFrequencyWeight = 0.9 }, true},
		{"bad threat threshold", func(c *Config) { c.Scoring.ThreatThreshold = 150 }, true},
		{"zero probe buffer", func(c *Config) { c.Probe.EventBufferSize = 0 }, true},
		{"force fallback without allow", func(c *Config) {
			c.Probe.AllowFallback = false
			c.Probe.ForceFallback = true
		}, true},
		{"redis sink missing addr", func(c *Config) {
			c.Sink.Kind = "redis"
			c.Sink.RedisAddr = ""
		}, true},
		{"unknown sink kind", func(c *Config) { c.Sink.Kind = "kafka" }, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestScoringEngineConfigProjectsCategorySeverity(t *testing.T) {
	cfg := DefaultConfig()
	sc := cfg.ScoringEngineConfig()
	if len(sc.CategorySeverity) == 0 {
		t.Fatal("expected non-empty CategorySeverity")
	}
	if sc.MinEventsForAnalysis != cfg.MinEventsForAnalysis {
		t.Errorf("MinEventsForAnalysis = %d, want %d", sc.MinEventsForAnalysis, cfg.MinEventsForAnalysis)
	}
}

func TestClassifierContextConfigProjectsPorts(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Classifier.SuspiciousPorts = []int{4444, 31337}
	cc := cfg.ClassifierContextConfig()
	if len(cc.SuspiciousPorts) != 2 || cc.SuspiciousPorts[0] != 4444 {
		t.Errorf("SuspiciousPorts = %v, want [4444 31337]", cc.SuspiciousPorts)
	}
}

func TestRedisSinkConfigProjectsFields(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Sink.Kind = "redis"
	cfg.Sink.RedisAddr = "localhost:6379"
	rc := cfg.RedisSinkConfig()
	if rc.Addr != "localhost:6379" {
		t.Errorf("Addr = %q, want localhost:6379", rc.Addr)
	}
	if rc.ListKey != cfg.Sink.RedisListKey {
		t.Errorf("ListKey = %q, want %q", rc.ListKey, cfg.Sink.RedisListKey)
	}
}
