//go:build linux

package probe

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/cilium/ebpf"
	"github.com/cilium/ebpf/btf"
	"github.com/cilium/ebpf/link"
	"github.com/cilium/ebpf/perf"
	"github.com/cilium/ebpf/ringbuf"

	"github.com/guy-davidi/ravn-sub000/pkg/event"
)

// kprobeSymbol and tracepointGroup/name name each category's kernel
// hook point. One category (network) is attached via tracepoint, the
// rest via kprobe, mirroring pkg/ebpf/manager_linux.go's mixed
// kprobe+tracepoint attachment style.
var kprobeSymbol = map[event.Category][]string{
	event.ExecFS:        {"ksys_execve", "__x64_sys_execve"},
	event.System:        {"ksys_exit_group", "__x64_sys_exit_group"},
	event.Security:      {"ksys_setuid", "__x64_sys_setuid"},
	event.Vulnerability: {"ksys_mmap_pgoff", "__x64_sys_mmap"},
	event.Update:        {"ksys_rename", "__x64_sys_rename"},
}

const (
	networkTracepointGroup = "syscalls"
	networkTracepointName  = "sys_enter_connect"
)

type kernelProbe struct {
	handle  *Handle
	name    string
	cat     event.Category
	objects *ebpf.Collection
	link    link.Link
	perfRd  *perf.Reader
	ringRd  *ringbuf.Reader
}

type kernelManager struct {
	cfg     Config
	btfSpec *btf.Spec

	probes  []*kernelProbe
	records chan RawRecord

	mu      sync.Mutex
	cancel  context.CancelFunc
	running bool

	dropped uint64
}

// NewManager builds a Manager for the current configuration. On Linux
// it attempts the real eBPF backend for every configured category; if
// that fails and cfg.AllowFallback is set, it falls back to the
// fsnotify watcher.
func NewManager(cfg Config) (Manager, error) {
	if cfg.ArtifactDir == "" {
		cfg = DefaultConfig()
	}
	if cfg.ForceFallback {
		return newFallbackManager(cfg), nil
	}

	m, err := newKernelManager(cfg)
	if err != nil {
		if cfg.AllowFallback {
			log.Printf("[probe] eBPF backend unavailable (%v), falling back to fsnotify", err)
			return newFallbackManager(cfg), nil
		}
		return nil, err
	}
	return m, nil
}

func newKernelManager(cfg Config) (*kernelManager, error) {
	var btfSpec *btf.Spec
	loader := newBTFLoader(cfg)
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	spec, source, err := loader.LoadSpec(ctx)
	if err == nil {
		btfSpec = spec
		if source != "" {
			log.Printf("[probe] loaded BTF spec from %s", source)
		}
	}

	m := &kernelManager{
		cfg:     cfg,
		btfSpec: btfSpec,
		records: make(chan RawRecord, max(cfg.EventBufferSize/4096, 256)),
	}

	for cat, name := range CategoryProbeNames {
		kp, err := m.loadProbe(cat, name)
		if err != nil {
			// A single category's artifact missing or unattachable is
			// not fatal to the whole manager: the agent keeps running
			// with whichever probes did attach.
			log.Printf("[probe] %s: %v", name, err)
			kp = &kernelProbe{handle: newHandle(name, cat), name: name, cat: cat}
			kp.handle.fail(err)
		}
		m.probes = append(m.probes, kp)
	}

	if m.attachedCount() == 0 {
		m.Close()
		return nil, fmt.Errorf("probe: no category artifact could be loaded from %s", cfg.ArtifactDir)
	}

	return m, nil
}

func (m *kernelManager) attachedCount() int {
	n := 0
	for _, p := range m.probes {
		if p.handle.State() == StateAttached {
			n++
		}
	}
	return n
}

func (m *kernelManager) loadProbe(cat event.Category, name string) (*kernelProbe, error) {
	h := newHandle(name, cat)
	kp := &kernelProbe{handle: h, name: name, cat: cat}

	objPath := filepath.Join(m.cfg.ArtifactDir, name+".bpf.o")
	info, err := os.Stat(objPath)
	if err != nil {
		return kp, fmt.Errorf("stat artifact: %w", err)
	}
	if err := checkArtifactReadable(objPath, info); err != nil {
		return kp, fmt.Errorf("insufficient privilege: %w", err)
	}

	f, err := os.Open(objPath)
	if err != nil {
		return kp, fmt.Errorf("open artifact: %w", err)
	}
	defer f.Close()

	spec, err := ebpf.LoadCollectionSpecFromReader(f)
	if err != nil {
		return kp, fmt.Errorf("load spec: %w", err)
	}

	var opts ebpf.CollectionOptions
	if m.btfSpec != nil {
		opts.Programs = ebpf.ProgramOptions{KernelTypes: m.btfSpec}
	}

	objs, err := spec.Load(&opts)
	if err != nil {
		return kp, fmt.Errorf("load collection (verifier rejection?): %w", err)
	}
	kp.objects = objs
	if err := h.advance(StateLoaded); err != nil {
		return kp, err
	}

	prog := objs.Programs["probe"]
	if prog == nil {
		objs.Close()
		return kp, fmt.Errorf("%w: artifact missing 'probe' program", ErrAttachFailed)
	}

	var lnk link.Link
	if cat == event.Network {
		lnk, err = link.Tracepoint(networkTracepointGroup, networkTracepointName, prog, nil)
	} else {
		attached := false
		for _, sym := range kprobeSymbol[cat] {
			lnk, err = link.Kprobe(sym, prog, nil)
			if err == nil {
				attached = true
				break
			}
		}
		if !attached && err == nil {
			err = fmt.Errorf("no kprobe symbol resolved")
		}
	}
	if err != nil {
		objs.Close()
		return kp, fmt.Errorf("%w: %v", ErrAttachFailed, err)
	}
	kp.link = lnk

	eventsMap := objs.Maps["events"]
	if eventsMap == nil {
		eventsMap = objs.Maps[name+"_events"]
	}
	if eventsMap == nil {
		lnk.Close()
		objs.Close()
		return kp, fmt.Errorf("%w: artifact has neither 'events' nor '%s_events' map", ErrAttachFailed, name)
	}

	if cat == event.System {
		// One category is drained via perf buffer rather than ring
		// buffer, exercising both reader styles (pkg/ebpf/manager_linux.go
		// used perf.Reader for its single syscall map).
		pageSize := os.Getpagesize()
		rd, err := perf.NewReader(eventsMap, max(m.cfg.EventBufferSize, pageSize))
		if err != nil {
			lnk.Close()
			objs.Close()
			return kp, fmt.Errorf("%w: perf reader: %v", ErrAttachFailed, err)
		}
		kp.perfRd = rd
	} else {
		rd, err := ringbuf.NewReader(eventsMap)
		if err != nil {
			lnk.Close()
			objs.Close()
			return kp, fmt.Errorf("%w: ringbuf reader: %v", ErrAttachFailed, err)
		}
		kp.ringRd = rd
	}

	if err := h.advance(StateAttached); err != nil {
		return kp, err
	}
	return kp, nil
}

func (m *kernelManager) Start(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.running {
		return nil
	}
	runCtx, cancel := context.WithCancel(ctx)
	m.cancel = cancel

	for _, p := range m.probes {
		if p.handle.State() != StateAttached {
			continue
		}
		p := p
		if p.perfRd != nil {
			go m.drainPerf(runCtx, p)
		}
		if p.ringRd != nil {
			go m.drainRing(runCtx, p)
		}
	}
	m.running = true
	return nil
}

func (m *kernelManager) drainPerf(ctx context.Context, p *kernelProbe) {
	for {
		rec, err := p.perfRd.Read()
		if err != nil {
			if errors.Is(err, perf.ErrClosed) || ctx.Err() != nil {
				return
			}
			continue
		}
		if rec.LostSamples > 0 {
			m.mu.Lock()
			m.dropped += rec.LostSamples
			m.mu.Unlock()
		}
		m.deliver(ctx, p, rec.RawSample)
	}
}

func (m *kernelManager) drainRing(ctx context.Context, p *kernelProbe) {
	for {
		rec, err := p.ringRd.Read()
		if err != nil {
			if errors.Is(err, ringbuf.ErrClosed) || ctx.Err() != nil {
				return
			}
			continue
		}
		m.deliver(ctx, p, rec.RawSample)
	}
}

func (m *kernelManager) deliver(ctx context.Context, p *kernelProbe, raw []byte) {
	rec := RawRecord{Raw: append([]byte(nil), raw...), Identity: event.ProbeIdentity{Name: p.name, Category: p.cat}}
	select {
	case <-ctx.Done():
	case m.records <- rec:
	}
}

func (m *kernelManager) Records() <-chan RawRecord { return m.records }

func (m *kernelManager) Handles() []HandleSnapshot {
	out := make([]HandleSnapshot, 0, len(m.probes))
	for _, p := range m.probes {
		out = append(out, p.handle.Snapshot())
	}
	return out
}

func (m *kernelManager) Stats() Stats {
	m.mu.Lock()
	defer m.mu.Unlock()
	s := Stats{Dropped: m.dropped}
	for _, p := range m.probes {
		if p.handle.State() == StateAttached {
			s.Attached++
		} else if p.handle.LastError() != nil {
			s.FailedAttach++
		}
	}
	return s
}

// Close detaches and deletes every probe in reverse order: readers
// first, then links, then objects.
func (m *kernelManager) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.cancel != nil {
		m.cancel()
	}
	for i := len(m.probes) - 1; i >= 0; i-- {
		p := m.probes[i]
		if p.perfRd != nil {
			p.perfRd.Close()
		}
		if p.ringRd != nil {
			p.ringRd.Close()
		}
		if p.link != nil {
			p.link.Close()
			_ = p.handle.advance(StateDetached)
		}
		if p.objects != nil {
			p.objects.Close()
		}
		_ = p.handle.advance(StateDeleted)
	}
	if m.btfSpec != nil {
		m.btfSpec.Close()
	}
	m.running = false
	return nil
}

func max(a, b int) int {
	if a > b {
		return a
	}
	return b
}
