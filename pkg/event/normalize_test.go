package event

import (
	"bytes"
	"encoding/binary"
	"testing"
)

func encodeHeader(t *testing.T, ts uint64, pid, tgid, uid, gid uint32, comm string) []byte {
	t.Helper()
	buf := &bytes.Buffer{}
	hdr := wireHeader{Timestamp: ts, PID: pid, TGID: tgid, UID: uid, GID: gid}
	copy(hdr.Comm[:], comm)
	if err := binary.Write(buf, binary.LittleEndian, &hdr); err != nil {
		t.Fatalf("encode header: %v", err)
	}
	return buf.Bytes()
}

func TestNormalizeExecFS(t *testing.T) {
	raw := encodeHeader(t, 123456789, 4321, 4321, 0, 0, "nc")
	raw = append(raw, 0) // TypeID = 0 -> TypeProcessSpawn
	var fn [FilenameBytes]byte
	copy(fn[:], "/tmp/x")
	raw = append(raw, fn[:]...)

	var n Normalizer
	var out Event
	if err := n.Normalize(raw, ProbeIdentity{Name: "exec-fs", Category: ExecFS}, &out); err != nil {
		t.Fatalf("normalize: %v", err)
	}

	if out.Category != ExecFS {
		t.Errorf("category = %v, want ExecFS", out.Category)
	}
	if out.Type != TypeProcessSpawn {
		t.Errorf("type = %v, want TypeProcessSpawn", out.Type)
	}
	if out.PID != 4321 {
		t.Errorf("pid = %d, want 4321", out.PID)
	}
	if out.Comm != "nc" {
		t.Errorf("comm = %q, want nc", out.Comm)
	}
	if out.Filename != "/tmp/x" {
		t.Errorf("filename = %q, want /tmp/x", out.Filename)
	}
	if out.Severity != SeverityLow {
		t.Errorf("severity = %v, want low", out.Severity)
	}
	if err := out.Validate(); err != nil {
		t.Errorf("validate: %v", err)
	}
}

func TestNormalizeUnknownCategoryFails(t *testing.T) {
	raw := encodeHeader(t, 1, 1, 1, 0, 0, "x")
	raw = append(raw, 0)

	var n Normalizer
	var out Event
	err := n.Normalize(raw, ProbeIdentity{Name: "mystery", Category: Unknown}, &out)
	if err == nil {
		t.Fatal("expected error for unknown category")
	}
	if out.Category != Unknown {
		t.Errorf("out must be left untouched on failure, got category %v", out.Category)
	}
	if n.DroppedUnknownCategory != 1 {
		t.Errorf("DroppedUnknownCategory = %d, want 1", n.DroppedUnknownCategory)
	}
}

func TestNormalizeShortRecordFails(t *testing.T) {
	var n Normalizer
	var out Event
	err := n.Normalize([]byte{1, 2, 3}, ProbeIdentity{Name: "exec-fs", Category: ExecFS}, &out)
	if err == nil {
		t.Fatal("expected decode error for short record")
	}
	if n.DroppedDecode != 1 {
		t.Errorf("DroppedDecode = %d, want 1", n.DroppedDecode)
	}
}

func TestNormalizeTruncatesLongComm(t *testing.T) {
	raw := encodeHeader(t, 1, 1, 1, 0, 0, "0123456789abcdef-extra") // already truncated by fixed array copy
	raw = append(raw, 0)
	var fn [FilenameBytes]byte
	raw = append(raw, fn[:]...)

	var n Normalizer
	var out Event
	if err := n.Normalize(raw, ProbeIdentity{Name: "exec-fs", Category: ExecFS}, &out); err != nil {
		t.Fatalf("normalize: %v", err)
	}
	if len(out.Comm) > CommBytes {
		t.Errorf("comm not bounded: %d bytes", len(out.Comm))
	}
}

func TestNormalizeSecurityCredentialChange(t *testing.T) {
	raw := encodeHeader(t, 5, 100, 100, 0, 0, "sudo")
	raw = append(raw, 0) // TypeID 0 -> credential change (simplified setuid event)
	buf := &bytes.Buffer{}
	tail := struct {
		TargetPID uint32
		NewUID    int64
		NewGID    int64
	}{TargetPID: 0, NewUID: 0, NewGID: 0}
	_ = binary.Write(buf, binary.LittleEndian, &tail)
	raw = append(raw, buf.Bytes()...)

	var n Normalizer
	var out Event
	if err := n.Normalize(raw, ProbeIdentity{Name: "security", Category: Security}, &out); err != nil {
		t.Fatalf("normalize: %v", err)
	}
	if out.Type != TypeCredentialChange {
		t.Errorf("type = %v, want TypeCredentialChange", out.Type)
	}
	if out.Severity != SeverityHigh {
		t.Errorf("severity = %v, want high", out.Severity)
	}
}

func TestNormalizeRawPayloadTruncation(t *testing.T) {
	raw := encodeHeader(t, 1, 1, 1, 0, 0, "big")
	raw = append(raw, 0)
	var fn [FilenameBytes]byte
	raw = append(raw, fn[:]...)
	padding := make([]byte, RawCapacity) // push total length well past RawCapacity
	raw = append(raw, padding...)

	var n Normalizer
	var out Event
	if err := n.Normalize(raw, ProbeIdentity{Name: "exec-fs", Category: ExecFS}, &out); err != nil {
		t.Fatalf("normalize: %v", err)
	}
	if len(out.Raw) != RawCapacity {
		t.Errorf("raw len = %d, want %d", len(out.Raw), RawCapacity)
	}
	if !out.Truncated {
		t.Error("expected Truncated=true")
	}
	if out.RawSize <= RawCapacity {
		t.Errorf("RawSize = %d, should record the pre-truncation length", out.RawSize)
	}
	if n.Truncated != 1 {
		t.Errorf("Truncated counter = %d, want 1", n.Truncated)
	}
}

func TestMarkProcessedIdempotent(t *testing.T) {
	e := Event{Category: ExecFS}
	e.MarkProcessed(100)
	if !e.Processed || e.ProcessedTime != 100 {
		t.Fatalf("first MarkProcessed did not take effect")
	}
	e.MarkProcessed(200)
	if e.ProcessedTime != 100 {
		t.Errorf("second MarkProcessed must be a no-op, got ProcessedTime=%d", e.ProcessedTime)
	}
}
