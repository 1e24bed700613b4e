package features

import (
	"math"
	"testing"

	"github.com/guy-davidi/ravn-sub000/pkg/event"
	"github.com/guy-davidi/ravn-sub000/pkg/sequence"
)

func approx(t *testing.T, name string, got, want, eps float64) {
	t.Helper()
	if math.Abs(got-want) > eps {
		t.Errorf("%s = %v, want %v (+/- %v)", name, got, want, eps)
	}
}

func TestExtractEmptySequenceIsZeroVector(t *testing.T) {
	v := Extract(sequence.View{}, BaselineContext{}, int64(10e9), int64(10e9))
	if len(v) != Width {
		t.Fatalf("len = %d, want %d", len(v), Width)
	}
	for i, x := range v {
		if x != 0 {
			t.Errorf("dim %d = %v, want 0 for empty sequence", i, x)
		}
	}
}

func TestExtractAllDimsClampedAndSized(t *testing.T) {
	view := sequence.View{
		PID: 1,
		Entries: []sequence.Entry{
			{Type: event.TypeProcessSpawn, Category: event.ExecFS, Timestamp: 0},
			{Type: event.TypeFileAccessTemp, Category: event.ExecFS, Timestamp: 500_000_000},
			{Type: event.TypeFileCreate, Category: event.ExecFS, Timestamp: 1_000_000_000},
			{Type: event.TypeNetConnect, Category: event.Network, Timestamp: 1_200_000_000},
			{Type: event.TypeNetDataTransfer, Category: event.Network, Timestamp: 3_000_000_000},
		},
	}
	v := Extract(view, BaselineContext{}, int64(10e9), int64(3e9))

	if len(v) != Width {
		t.Fatalf("len = %d, want %d", len(v), Width)
	}
	for i, x := range v {
		if x < 0 || x > 1 {
			t.Errorf("dim %d = %v, out of [0,1]", i, x)
		}
	}

	// Temporal group.
	approx(t, "events/sec", v[TemporalOffset+0], 5.0/3.0/100, 1e-6)
	approx(t, "burst fraction", v[TemporalOffset+1], 0.75, 1e-6)
	approx(t, "quiet fraction", v[TemporalOffset+5], 0, 1e-6)
	approx(t, "duration fraction", v[TemporalOffset+3], 0.3, 1e-6)
	approx(t, "peak decile", v[TemporalOffset+4], 0.2, 1e-6)

	// Process group: 3 ExecFS-category entries, 1 is TypeProcessSpawn.
	approx(t, "spawn fraction", v[ProcessOffset+0], 1.0/3.0, 1e-6)
	approx(t, "process residual", v[ProcessOffset+11], 2.0/3.0, 1e-6)

	// File group: temp + create each 1 of 2 file-typed entries.
	approx(t, "file temp fraction", v[FileOffset+4], 0.5, 1e-6)
	approx(t, "file create fraction", v[FileOffset+5], 0.5, 1e-6)

	// Network group: connect + data-transfer each 1 of 2 network entries.
	approx(t, "net connect fraction", v[NetworkOffset+0], 0.5, 1e-6)
	approx(t, "net transfer fraction", v[NetworkOffset+2], 0.5, 1e-6)

	// Security group is untouched: all zero.
	for i := 0; i < SecurityDims; i++ {
		if v[SecurityOffset+i] != 0 {
			t.Errorf("security dim %d = %v, want 0", i, v[SecurityOffset+i])
		}
	}

	// Behavioural composites derived from the above.
	approx(t, "stealth", v[BehaviorOffset+0], 0.25, 1e-6)
	approx(t, "lateral-movement", v[BehaviorOffset+3], 0.25, 1e-6)
	approx(t, "communication-pattern", v[BehaviorOffset+9], 0.25, 1e-6)
}

func TestPadExtendsToConfiguredWidth(t *testing.T) {
	v := Vector{0.1, 0.2, 0.3}
	padded := v.Pad(10)
	if len(padded) != 10 {
		t.Fatalf("len = %d, want 10", len(padded))
	}
	for i := 3; i < 10; i++ {
		if padded[i] != 0 {
			t.Errorf("padded[%d] = %v, want 0", i, padded[i])
		}
	}
}

func TestPadNoOpWhenAlreadyWideEnough(t *testing.T) {
	v := make(Vector, Width)
	padded := v.Pad(Width - 1)
	if len(padded) != Width {
		t.Fatalf("len = %d, want %d (Pad must not truncate)", len(padded), Width)
	}
}
