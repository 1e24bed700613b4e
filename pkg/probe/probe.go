// Package probe implements the Probe Manager: it loads,
// attaches, and polls the kernel-level probes that feed raw records
// into the Event Normalizer, falling back to an fsnotify watch when
// eBPF is unavailable. Grounded on pkg/ebpf/manager_linux.go's
// load/attach/poll/detach lifecycle, generalized from a single
// filesystem-write probe to six named category probes.
package probe

import (
	"context"
	"errors"
	"sync"

	"github.com/guy-davidi/ravn-sub000/pkg/event"
)

// ErrUnsupported is returned when no probe backend (eBPF nor fsnotify
// fallback) can be started on the current platform/configuration.
var ErrUnsupported = errors.New("probe: no backend available")

// ErrAttachFailed is returned when a named probe could not be attached
// to its kernel hook point.
var ErrAttachFailed = errors.New("probe: attach failed")

// RawRecord is a raw record read from a probe's ring buffer/perf
// buffer/fsnotify watch, tagged with the identity the Normalizer needs
// to resolve its category.
type RawRecord struct {
	Raw      []byte
	Identity event.ProbeIdentity
}

// State is a probe's position in its lifecycle state machine: created
// -> loaded -> attached -> detached -> deleted. Transitions only ever
// move forward, one step at a time.
type State uint8

const (
	StateCreated State = iota
	StateLoaded
	StateAttached
	StateDetached
	StateDeleted
)

func (s State) String() string {
	switch s {
	case StateLoaded:
		return "loaded"
	case StateAttached:
		return "attached"
	case StateDetached:
		return "detached"
	case StateDeleted:
		return "deleted"
	default:
		return "created"
	}
}

// ErrInvalidTransition is returned when a Handle's state machine is
// asked to move somewhere other than forward by exactly one step.
var ErrInvalidTransition = errors.New("probe: invalid state transition")

// Handle tracks one named probe's lifecycle and last-known error.
type Handle struct {
	Name     string
	Category event.Category
	mu       sync.Mutex
	state    State
	lastErr  error
}

func newHandle(name string, cat event.Category) *Handle {
	return &Handle{Name: name, Category: cat, state: StateCreated}
}

// State returns the handle's current lifecycle state.
func (h *Handle) State() State {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.state
}

// LastError returns the error recorded by the most recent failed
// transition attempt, if any.
func (h *Handle) LastError() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.lastErr
}

func (h *Handle) advance(to State) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if to != h.state+1 {
		return ErrInvalidTransition
	}
	h.state = to
	return nil
}

func (h *Handle) fail(err error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.lastErr = err
}

// HandleSnapshot is a point-in-time, copyable view of a Handle
// (Handle itself embeds a mutex and must not be copied).
type HandleSnapshot struct {
	Name     string
	Category event.Category
	State    State
	Err      error
}

// Snapshot returns a copyable view of h's current state.
func (h *Handle) Snapshot() HandleSnapshot {
	h.mu.Lock()
	defer h.mu.Unlock()
	return HandleSnapshot{Name: h.Name, Category: h.Category, State: h.state, Err: h.lastErr}
}

// Stats summarizes probe-manager-wide counters for the status
// snapshot.
type Stats struct {
	Attached      int
	FailedAttach  int
	Dropped       uint64
	UsingFallback bool
}

// Manager owns the set of configured probes: loading their artifacts,
// attaching them to kernel hook points (or an fsnotify watch), and
// delivering RawRecords to a single channel shared across all of them.
type Manager interface {
	// Start begins draining every attached probe. The eBPF backend
	// has already loaded and attached its probes in NewManager; the
	// fsnotify fallback loads and attaches its watch here. Callers
	// should inspect Handles() to see which, if any, failed.
	Start(ctx context.Context) error
	// Records is the fan-in channel every attached probe delivers
	// RawRecords to. Each probe's reader sends into it independently;
	// no per-probe share of delivery or polling time is enforced.
	Records() <-chan RawRecord
	// Handles reports the current lifecycle state of every configured
	// probe.
	Handles() []HandleSnapshot
	Stats() Stats
	// Close detaches and deletes every probe in reverse attach order.
	Close() error
}

// Category names the Probe Manager uses for each of the six probe
// artifacts. These are also the probe identity names the Normalizer
// receives with every RawRecord.
var CategoryProbeNames = map[event.Category]string{
	event.ExecFS:        "exec-fs",
	event.Network:       "network",
	event.System:        "system",
	event.Security:      "security",
	event.Vulnerability: "vulnerability",
	event.Update:        "update",
}
