// Package features projects a per-pid sequence (pkg/sequence) plus
// global baseline context into a fixed-length numeric feature vector.
// The extractor is pure: it never mutates its inputs and has no side
// effects.
package features

import (
	"math"

	"github.com/guy-davidi/ravn-sub000/pkg/event"
	"github.com/guy-davidi/ravn-sub000/pkg/sequence"
)

// Dimension group sizes.
const (
	TemporalDims = 8
	ProcessDims  = 12
	FileDims     = 10
	NetworkDims  = 8
	SecurityDims = 8
	SystemDims   = 8
	BehaviorDims = 10

	// Width is the total vector length. It is extensible up to the
	// configured weight-vector length W; unused trailing slots are
	// zero-filled by Pad.
	Width = TemporalDims + ProcessDims + FileDims + NetworkDims + SecurityDims + SystemDims + BehaviorDims
)

// Group start offsets within a Vector.
const (
	TemporalOffset = 0
	ProcessOffset  = TemporalOffset + TemporalDims
	FileOffset     = ProcessOffset + ProcessDims
	NetworkOffset  = FileOffset + FileDims
	SecurityOffset = NetworkOffset + NetworkDims
	SystemOffset   = SecurityOffset + SecurityDims
	BehaviorOffset = SystemOffset + SystemDims
)

// Vector is the fixed-length, non-negative feature projection. Every
// component is in [0, 1].
type Vector []float64

// Pad extends v to length w (the configured weight-vector length),
// zero-filling any extra trailing slots. If v is already >= w it is
// returned unchanged.
func (v Vector) Pad(w int) Vector {
	if len(v) >= w {
		return v
	}
	out := make(Vector, w)
	copy(out, v)
	return out
}

// BaselineContext is the global context the extractor folds in
// alongside the per-pid sequence. It is produced by pkg/baseline.
type BaselineContext struct {
	AvgProcessCount float64 // running average of concurrently tracked processes
}

// Extract projects view (plus global baseline context) into a Width-
// length Vector. now is the wall-clock time in nanoseconds the caller
// is extracting at (used to compute sequence duration when the window
// end hasn't advanced past view's last entry).
func Extract(view sequence.View, baseline BaselineContext, windowSizeNs int64, now int64) Vector {
	v := make(Vector, Width)
	if len(view.Entries) == 0 {
		return v // empty sequence: all-zero vector
	}

	extractTemporal(v, view, windowSizeNs, now)
	extractProcess(v, view)
	extractFile(v, view)
	extractNetwork(v, view)
	extractSecurity(v, view)
	extractSystem(v, view, baseline)
	extractBehavioral(v)

	for i := range v {
		v[i] = clamp01(v[i])
	}
	return v
}

func clamp01(x float64) float64 {
	if math.IsNaN(x) || x < 0 {
		return 0
	}
	if x > 1 {
		return 1
	}
	return x
}

func gaps(entries []sequence.Entry) []float64 {
	if len(entries) < 2 {
		return nil
	}
	out := make([]float64, 0, len(entries)-1)
	for i := 1; i < len(entries); i++ {
		out = append(out, float64(entries[i].Timestamp-entries[i-1].Timestamp)/1e9)
	}
	return out
}

func mean(xs []float64) float64 {
	if len(xs) == 0 {
		return 0
	}
	sum := 0.0
	for _, x := range xs {
		sum += x
	}
	return sum / float64(len(xs))
}

func stddev(xs []float64, m float64) float64 {
	if len(xs) == 0 {
		return 0
	}
	var sumSq float64
	for _, x := range xs {
		d := x - m
		sumSq += d * d
	}
	return math.Sqrt(sumSq / float64(len(xs)))
}

// extractTemporal fills the 8 Temporal dims.
func extractTemporal(v Vector, view sequence.View, windowSizeNs int64, now int64) {
	entries := view.Entries
	n := len(entries)
	first, last := entries[0].Timestamp, entries[n-1].Timestamp
	durationSec := float64(last-first) / 1e9
	if durationSec <= 0 {
		durationSec = float64(windowSizeNs) / 1e9 / float64(sequence.NMaxEvents)
		if durationSec <= 0 {
			durationSec = 1e-3
		}
	}

	g := gaps(entries)

	eventsPerSec := float64(n) / durationSec
	v[TemporalOffset+0] = eventsPerSec / 100 // normalize against a 100 evt/s watermark

	burstCount := 0
	quietCount := 0
	for _, gap := range g {
		if gap < 1.0 {
			burstCount++
		}
		if gap > 2.0 {
			quietCount++
		}
	}
	if len(g) > 0 {
		v[TemporalOffset+1] = float64(burstCount) / float64(len(g))
		v[TemporalOffset+5] = float64(quietCount) / float64(len(g))
	}

	m := mean(g)
	if m > 0 {
		cv := stddev(g, m) / m
		v[TemporalOffset+2] = cv / 2 // CV of 2.0 (very bursty/irregular) saturates the dim
	}

	v[TemporalOffset+3] = float64(last-first) / float64(windowSizeNs)

	// Peak-activity decile: busiest of 10 equal sub-intervals vs. a
	// uniform share.
	if last > first {
		buckets := make([]int, 10)
		span := last - first
		for _, e := range entries {
			idx := int(float64(e.Timestamp-first) / float64(span) * 10)
			if idx >= 10 {
				idx = 9
			}
			buckets[idx]++
		}
		peak := 0
		for _, c := range buckets {
			if c > peak {
				peak = c
			}
		}
		v[TemporalOffset+4] = float64(peak) / float64(n)
	}

	if n >= 4 {
		half := n / 2
		firstHalfDur := float64(entries[half-1].Timestamp-entries[0].Timestamp) / 1e9
		secondHalfDur := float64(entries[n-1].Timestamp-entries[half].Timestamp) / 1e9
		rateFirst := safeRate(half, firstHalfDur)
		rateSecond := safeRate(n-half, secondHalfDur)
		accel := (rateSecond - rateFirst) / 100
		if accel > 0 {
			v[TemporalOffset+6] = accel
		} else {
			v[TemporalOffset+7] = -accel
		}
	}
}

func safeRate(count int, durationSec float64) float64 {
	if durationSec <= 0 {
		return float64(count) * 1000
	}
	return float64(count) / durationSec
}

// extractProcess fills the 12 Process dims.
func extractProcess(v Vector, view sequence.View) {
	counts := make(map[event.EventType]int)
	total := 0
	for _, e := range view.Entries {
		if e.Category != event.ExecFS && e.Category != event.System && e.Category != event.Security {
			continue
		}
		counts[e.Type]++
		total++
	}
	if total == 0 {
		return
	}

	types := []event.EventType{
		event.TypeProcessSpawn, event.TypeProcessExit, event.TypeProcessCwdChange,
		event.TypeProcessEnvChange, event.TypeProcessSignal, event.TypeProcessPriorityChange,
		event.TypeProcessGroupOp, event.TypeProcessSessionOp, event.TypeProcessAffinityChange,
		event.TypeProcessMemMap, event.TypeCredentialChange,
	}
	matched := 0
	for i, t := range types {
		c := counts[t]
		matched += c
		v[ProcessOffset+i] = float64(c) / float64(total)
	}
	v[ProcessOffset+11] = float64(total-matched) / float64(total) // "other/complex" residual
}

// extractFile fills the 10 File dims.
func extractFile(v Vector, view sequence.View) {
	types := []event.EventType{
		event.TypeFileAccessSensitive, event.TypeFileAccessExecutable, event.TypeFileAccessConfig,
		event.TypeFileAccessLog, event.TypeFileAccessTemp, event.TypeFileCreate, event.TypeFileDelete,
		event.TypeFileModify, event.TypeFileDirTraversal, event.TypeFilePermissionChange,
	}
	total := 0
	counts := make(map[event.EventType]int)
	for _, e := range view.Entries {
		for _, t := range types {
			if e.Type == t {
				counts[t]++
				total++
			}
		}
	}
	if total == 0 {
		return
	}
	for i, t := range types {
		v[FileOffset+i] = float64(counts[t]) / float64(total)
	}
}

// extractNetwork fills the 8 Network dims.
func extractNetwork(v Vector, view sequence.View) {
	types := []event.EventType{
		event.TypeNetConnect, event.TypeNetSuspiciousPort, event.TypeNetDataTransfer,
		event.TypeNetLongLived, event.TypeNetProtocolDiversity, event.TypeNetExternal,
		event.TypeNetListen, event.TypeNetError,
	}
	total := 0
	counts := make(map[event.EventType]int)
	for _, e := range view.Entries {
		if e.Category != event.Network {
			continue
		}
		total++
		counts[e.Type]++
	}
	if total == 0 {
		return
	}
	for i, t := range types {
		v[NetworkOffset+i] = float64(counts[t]) / float64(total)
	}
}

// extractSecurity fills the 8 Security dims.
func extractSecurity(v Vector, view sequence.View) {
	types := []event.EventType{
		event.TypePrivilegeEscalation, event.TypeAuthEvent, event.TypeFailedOp,
		event.TypeSuspiciousSyscall, event.TypeCapabilityChange, event.TypeSecurityContextChange,
		event.TypeAuditEvent, event.TypePolicyViolation,
	}
	total := 0
	counts := make(map[event.EventType]int)
	for _, e := range view.Entries {
		if e.Category != event.Security {
			continue
		}
		total++
		if e.Type == event.TypeCredentialChange {
			// The simplified generic setuid event is folded into
			// capability-changes, the closest of the 8 named dims.
			counts[event.TypeCapabilityChange]++
			continue
		}
		counts[e.Type]++
	}
	if total == 0 {
		return
	}
	for i, t := range types {
		v[SecurityOffset+i] = float64(counts[t]) / float64(total)
	}
}

// extractSystem fills the 8 System-resource dims. These are
// heuristic, derived estimates rather than direct OS telemetry — the
// pipeline has no syscall-accounting source beyond the event stream
// itself, so intensity is approximated from event composition.
func extractSystem(v Vector, view sequence.View, baseline BaselineContext) {
	n := len(view.Entries)
	if n == 0 {
		return
	}

	var memMap, fileOps, signals, systemCat int
	for _, e := range view.Entries {
		switch e.Type {
		case event.TypeProcessMemMap:
			memMap++
		case event.TypeProcessSignal:
			signals++
		}
		switch e.Type {
		case event.TypeFileAccessSensitive, event.TypeFileAccessExecutable, event.TypeFileAccessConfig,
			event.TypeFileAccessLog, event.TypeFileAccessTemp, event.TypeFileCreate, event.TypeFileDelete,
			event.TypeFileModify, event.TypeFileDirTraversal, event.TypeFilePermissionChange:
			fileOps++
		}
		if e.Category == event.System {
			systemCat++
		}
	}

	cpuIntensity := float64(n) / float64(sequence.NMaxEvents)
	memIntensity := float64(memMap) / float64(n)
	diskIntensity := float64(fileOps) / float64(n)

	v[SystemOffset+0] = cpuIntensity
	v[SystemOffset+1] = memIntensity
	v[SystemOffset+2] = diskIntensity
	v[SystemOffset+3] = (cpuIntensity + memIntensity + diskIntensity) / 3 // load-impact
	v[SystemOffset+4] = baseline.AvgProcessCount / sequence.PMax          // contention
	v[SystemOffset+5] = float64(n) / float64(sequence.NMaxEvents)         // syscall frequency proxy
	v[SystemOffset+6] = float64(signals) / float64(n)
	v[SystemOffset+7] = float64(systemCat) / float64(n)
}

// extractBehavioral fills the 10 Behavioural dims as documented
// composites of the groups already computed above.
func extractBehavioral(v Vector) {
	tempAccess := v[FileOffset+4]
	dirTraversal := v[FileOffset+8]
	quietFraction := v[TemporalOffset+5]
	burstIntensity := v[TemporalOffset+1]
	credChange := v[SecurityOffset+4] // capability-changes dim, folds in credential change
	netExternal := v[NetworkOffset+5]
	netTransfer := v[NetworkOffset+2]
	suspiciousPort := v[NetworkOffset+1]
	privEsc := v[SecurityOffset+0]
	failedOps := v[SecurityOffset+2]
	suspiciousSyscall := v[SecurityOffset+3]
	auditEvents := v[SecurityOffset+6]
	policyViolation := v[SecurityOffset+7]
	memIntensity := v[SystemOffset+1]

	v[BehaviorOffset+0] = avg(tempAccess, quietFraction)                  // stealth
	v[BehaviorOffset+1] = avg(credChange, policyViolation)                // persistence
	v[BehaviorOffset+2] = avg(quietFraction, failedOps)                   // evasion
	v[BehaviorOffset+3] = avg(netExternal, netTransfer)                   // lateral-movement
	v[BehaviorOffset+4] = avg(netTransfer, suspiciousPort)                // exfiltration
	v[BehaviorOffset+5] = avg(suspiciousSyscall, dirTraversal)            // command-injection
	v[BehaviorOffset+6] = avg(memIntensity, suspiciousSyscall)            // buffer-overflow
	v[BehaviorOffset+7] = avg(memIntensity, privEsc)                      // code-injection
	v[BehaviorOffset+8] = avg(auditEvents, dirTraversal)                  // anti-forensics
	v[BehaviorOffset+9] = avg(burstIntensity, netExternal, suspiciousPort) // communication-pattern
}

func avg(xs ...float64) float64 {
	if len(xs) == 0 {
		return 0
	}
	var sum float64
	for _, x := range xs {
		sum += x
	}
	return sum / float64(len(xs))
}
