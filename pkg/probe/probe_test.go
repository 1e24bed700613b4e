package probe

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/guy-davidi/ravn-sub000/pkg/event"
)

func TestHandleStateMachineOnlyMovesForward(t *testing.T) {
	h := newHandle("exec-fs", event.ExecFS)
	if h.State() != StateCreated {
		t.Fatalf("initial state = %v, want created", h.State())
	}
	if err := h.advance(StateAttached); err != ErrInvalidTransition {
		t.Fatalf("skipping a state should fail, got %v", err)
	}
	if err := h.advance(StateLoaded); err != nil {
		t.Fatalf("created->loaded: %v", err)
	}
	if err := h.advance(StateAttached); err != nil {
		t.Fatalf("loaded->attached: %v", err)
	}
	if err := h.advance(StateLoaded); err != ErrInvalidTransition {
		t.Fatalf("backward transition should fail, got %v", err)
	}
	if err := h.advance(StateDetached); err != nil {
		t.Fatalf("attached->detached: %v", err)
	}
	if err := h.advance(StateDeleted); err != nil {
		t.Fatalf("detached->deleted: %v", err)
	}
	if h.State() != StateDeleted {
		t.Fatalf("final state = %v, want deleted", h.State())
	}
}

func TestHandleSnapshotIsIndependentCopy(t *testing.T) {
	h := newHandle("network", event.Network)
	h.fail(ErrAttachFailed)
	snap := h.Snapshot()
	if snap.Name != "network" || snap.Category != event.Network {
		t.Fatalf("snapshot fields wrong: %+v", snap)
	}
	if snap.Err != ErrAttachFailed {
		t.Fatalf("snapshot.Err = %v, want ErrAttachFailed", snap.Err)
	}
}

func TestFallbackManagerDeliversFileCreateRecords(t *testing.T) {
	dir := t.TempDir()
	cfg := DefaultConfig()
	cfg.ForceFallback = true
	cfg.FallbackWatchDirs = []string{dir}

	m := newFallbackManager(cfg)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := m.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer m.Close()

	target := filepath.Join(dir, "suspicious")
	if err := os.WriteFile(target, []byte("x"), 0o644); err != nil {
		t.Fatalf("write file: %v", err)
	}

	select {
	case rec := <-m.Records():
		if rec.Identity.Category != event.ExecFS {
			t.Errorf("category = %v, want ExecFS", rec.Identity.Category)
		}
		var out event.Event
		var n event.Normalizer
		if err := n.Normalize(rec.Raw, rec.Identity, &out); err != nil {
			t.Fatalf("normalize fallback record: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for a fallback record")
	}

	snaps := m.Handles()
	if len(snaps) != 1 || snaps[0].State != StateAttached {
		t.Fatalf("handles = %+v, want one attached handle", snaps)
	}
	if !m.Stats().UsingFallback {
		t.Error("expected Stats().UsingFallback = true")
	}
}

func TestFallbackManagerFailsWithNoWatchableDirs(t *testing.T) {
	cfg := DefaultConfig()
	cfg.FallbackWatchDirs = []string{filepath.Join(t.TempDir(), "does-not-exist")}
	m := newFallbackManager(cfg)
	if err := m.Start(context.Background()); err == nil {
		t.Fatal("expected Start to fail when no configured directory can be watched")
	}
}
