package probe

import "time"

// Config configures the Probe Manager. It is the probe-facing subset
// of the agent's overall configuration, owned here so pkg/probe has no dependency on pkg/config.
type Config struct {
	// ArtifactDir is searched for "<category>.bpf.o" for each of the
	// six named categories. Probe artifacts are built by a separate
	// toolchain and deployed alongside the agent binary, not embedded
	// into it.
	ArtifactDir string

	// EventBufferSize, in bytes, sizes the perf reader's per-CPU buffer
	// (at least one page) and, divided by 4096 (minimum 256), the
	// capacity of the shared record channel. Ring buffer sizes come from
	// the artifact's own map definitions.
	EventBufferSize int

	// AllowFallback permits falling back to the fsnotify watcher when
	// eBPF is unavailable (non-Linux, verifier rejection, insufficient
	// privilege). If false, such failures are returned to the caller.
	AllowFallback bool
	// ForceFallback skips the eBPF attempt entirely, used in tests and
	// on hosts known not to support the required kernel features.
	ForceFallback bool
	// FallbackWatchDirs lists directories the fsnotify backend watches
	// in place of the exec-fs probe when falling back.
	FallbackWatchDirs []string

	BTF BTFConfig
}

// BTFConfig controls CO-RE BTF spec discovery (pkg/probe/btf_loader_linux.go).
type BTFConfig struct {
	CacheDir      string
	AllowDownload bool
	HubMirror     string
	Timeout       time.Duration
}

// DefaultConfig returns sane defaults for a standard Linux deployment.
func DefaultConfig() Config {
	return Config{
		ArtifactDir:       "/usr/lib/ravn-agent/probes",
		EventBufferSize:   1 << 20, // 1 MiB, matches os page-size multiples well
		AllowFallback:     true,
		ForceFallback:     false,
		FallbackWatchDirs: []string{"/tmp", "/etc", "/var/tmp"},
		BTF: BTFConfig{
			AllowDownload: true,
			HubMirror:     "https://github.com/aquasecurity/btfhub-archive/raw/main",
			Timeout:       30 * time.Second,
		},
	}
}
