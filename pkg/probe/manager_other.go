//go:build !linux

package probe

// NewManager always returns the fsnotify fallback on non-Linux
// platforms: eBPF is a Linux-kernel-only facility.
func NewManager(cfg Config) (Manager, error) {
	if cfg.ArtifactDir == "" {
		cfg = DefaultConfig()
	}
	if !cfg.AllowFallback {
		return nil, ErrUnsupported
	}
	return newFallbackManager(cfg), nil
}
