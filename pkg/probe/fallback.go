package probe

import (
	"context"
	"log"
	"os"
	"sync"

	"github.com/fsnotify/fsnotify"

	"github.com/guy-davidi/ravn-sub000/pkg/event"
)

// fallbackManager provides exec-fs visibility via fsnotify when eBPF
// is unavailable: non-Linux platforms, kernels that reject the
// verifier, or insufficient privilege to attach. It only covers the
// exec-fs category — fsnotify has no equivalent for network, security,
// or vulnerability telemetry, so Handles() reports only the exec-fs
// probe and the other categories have no handle in this backend.
type fallbackManager struct {
	cfg     Config
	watcher *fsnotify.Watcher
	handle  *Handle
	records chan RawRecord

	mu      sync.Mutex
	cancel  context.CancelFunc
	dropped uint64
}

func newFallbackManager(cfg Config) *fallbackManager {
	return &fallbackManager{
		cfg:     cfg,
		handle:  newHandle(CategoryProbeNames[event.ExecFS], event.ExecFS),
		records: make(chan RawRecord, 256),
	}
}

func (m *fallbackManager) Start(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	w, err := fsnotify.NewWatcher()
	if err != nil {
		m.handle.fail(err)
		return err
	}
	if err := m.handle.advance(StateLoaded); err != nil {
		return err
	}

	dirs := m.cfg.FallbackWatchDirs
	if len(dirs) == 0 {
		dirs = DefaultConfig().FallbackWatchDirs
	}
	attached := false
	for _, dir := range dirs {
		if err := w.Add(dir); err != nil {
			log.Printf("[probe] fallback: watch %s: %v", dir, err)
			continue
		}
		attached = true
	}
	if !attached {
		w.Close()
		err := ErrAttachFailed
		m.handle.fail(err)
		return err
	}
	if err := m.handle.advance(StateAttached); err != nil {
		return err
	}

	m.watcher = w
	runCtx, cancel := context.WithCancel(ctx)
	m.cancel = cancel
	go m.drain(runCtx)
	return nil
}

func (m *fallbackManager) drain(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-m.watcher.Events:
			if !ok {
				return
			}
			m.deliver(ctx, ev)
		case err, ok := <-m.watcher.Errors:
			if !ok {
				return
			}
			log.Printf("[probe] fallback: watcher error: %v", err)
		}
	}
}

func (m *fallbackManager) deliver(ctx context.Context, ev fsnotify.Event) {
	var typeID uint8
	switch {
	case ev.Op&fsnotify.Create != 0:
		typeID = 2 // TypeFileCreate, per event.eventTypeFor's exec-fs table
	case ev.Op&fsnotify.Remove != 0:
		typeID = 3 // TypeFileDelete
	case ev.Op&fsnotify.Write != 0:
		typeID = 4 // TypeFileModify
	default:
		return
	}

	// fsnotify carries no actor identity, so pid/uid are left at the
	// agent's own — the filename is still useful signal on its own.
	raw := event.EncodeExecFSRecord(uint64(event.Now()), uint32(os.Getpid()), uint32(os.Getpid()), uint32(os.Getuid()), uint32(os.Getgid()), "", typeID, ev.Name)
	rec := RawRecord{Raw: raw, Identity: event.ProbeIdentity{Name: CategoryProbeNames[event.ExecFS], Category: event.ExecFS}}

	select {
	case <-ctx.Done():
	case m.records <- rec:
	default:
		m.mu.Lock()
		m.dropped++
		m.mu.Unlock()
	}
}

func (m *fallbackManager) Records() <-chan RawRecord { return m.records }

func (m *fallbackManager) Handles() []HandleSnapshot {
	return []HandleSnapshot{m.handle.Snapshot()}
}

func (m *fallbackManager) Stats() Stats {
	m.mu.Lock()
	defer m.mu.Unlock()
	attached := 0
	if m.handle.State() == StateAttached {
		attached = 1
	}
	return Stats{Attached: attached, Dropped: m.dropped, UsingFallback: true}
}

func (m *fallbackManager) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.cancel != nil {
		m.cancel()
	}
	if m.watcher != nil {
		m.watcher.Close()
	}
	_ = m.handle.advance(StateDetached)
	_ = m.handle.advance(StateDeleted)
	return nil
}
