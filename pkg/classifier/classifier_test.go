package classifier

import "testing"

func TestDefaultsMatchKnownSuspects(t *testing.T) {
	c := New(Config{})

	if !c.IsSuspiciousProcess("nc") {
		t.Error("expected nc to be flagged suspicious")
	}
	if !c.IsSuspiciousProcess("NC") {
		t.Error("matching should be case-insensitive")
	}
	if c.IsSuspiciousProcess("postgres") {
		t.Error("postgres should not be flagged suspicious by default")
	}
	if !c.IsTempPath("/tmp/x") {
		t.Error("expected /tmp/x to be a temp path")
	}
	if !c.IsSensitivePath("/etc/shadow") {
		t.Error("expected /etc/shadow to be sensitive")
	}
	if !c.IsSuspiciousPort(4444) {
		t.Error("expected port 4444 to be suspicious")
	}
	if c.IsSuspiciousPort(443) {
		t.Error("port 443 should not be flagged by default")
	}
}

func TestPartialOverrideFallsBackPerField(t *testing.T) {
	c := New(Config{SuspiciousProcesses: []string{"evilbinary"}})
	if !c.IsSuspiciousProcess("evilbinary") {
		t.Error("expected override to take effect")
	}
	if !c.IsSuspiciousPort(4444) {
		t.Error("expected unset fields to fall back to defaults")
	}
}
