// Package scoring implements the Scoring Engine: it
// turns one canonical event, its sequence-derived feature vector, and
// a running baseline into an anomaly score, a threat score, a threat
// level, and a bounded set of recommendations.
package scoring

import (
	"time"

	"github.com/guy-davidi/ravn-sub000/pkg/classifier"
	"github.com/guy-davidi/ravn-sub000/pkg/event"
	"github.com/guy-davidi/ravn-sub000/pkg/features"
)

// Level is the classified threat tier.
type Level uint8

const (
	LevelNone Level = iota
	LevelLow
	LevelMedium
	LevelHigh
)

func (l Level) String() string {
	switch l {
	case LevelHigh:
		return "high"
	case LevelMedium:
		return "medium"
	case LevelLow:
		return "low"
	default:
		return "none"
	}
}

// MaxRecommendations bounds the recommendation list per result.
const MaxRecommendations = 10

// Config holds every tunable constant the Scoring Engine uses. All
// fields have defaults from DefaultConfig; every weight and threshold
// that's meant to be configurable lives here, not as a literal in
// the formula.
type Config struct {
	// AnomalyWeights: frequency/pattern/context, must sum to ~1.0.
	AnomalyFrequencyWeight float64
	AnomalyPatternWeight   float64
	AnomalyContextWeight   float64
	AnomalyThreshold       float64

	// ThreatWeights: severity/frequency/pattern/context, must sum to ~1.0.
	ThreatSeverityWeight float64
	ThreatFrequencyWeight float64
	ThreatPatternWeight   float64
	ThreatContextWeight   float64

	// ThreatThreshold is the "high" cutoff.
	// Medium and low are derived from it (threshold-20, threshold-40)
	// so a single configured knob keeps all three bands consistent.
	ThreatThreshold float64

	// ThreatAnomalyScale rescales the (small-magnitude) anomaly
	// sub-scores onto the same 0-100 order of magnitude as
	// CategorySeverity before they're blended into the threat score.
	ThreatAnomalyScale float64

	CategorySeverity map[event.Category]float64

	FrequencyBaseByCategory      map[event.Category]float64
	SuspiciousPathFrequencyBonus float64

	PatternSuspiciousProcessBonus float64
	PatternSensitiveFileBonus     float64
	PatternRootActorBonus         float64
	PatternTempPathBonus          float64

	ContextOutOfHoursBonus float64
	ContextWeekendBonus    float64
	OutOfHoursStartHourUTC int
	OutOfHoursEndHourUTC   int

	// MinEventsForAnalysis does not gate scoring: every event scores.
	// It scales Result.Confidence, which is observedCount divided by
	// this value, clamped to [0, 1].
	MinEventsForAnalysis int
}

// DefaultConfig returns the documented default configuration.
func DefaultConfig() Config {
	return Config{
		AnomalyFrequencyWeight: 0.4,
		AnomalyPatternWeight:   0.3,
		AnomalyContextWeight:   0.3,
		AnomalyThreshold:       2.0,

		ThreatSeverityWeight:  0.3,
		ThreatFrequencyWeight: 0.2,
		ThreatPatternWeight:   0.3,
		ThreatContextWeight:   0.2,
		ThreatThreshold:       70,
		ThreatAnomalyScale:    20,

		CategorySeverity: map[event.Category]float64{
			event.Vulnerability: 80,
			event.Security:      60,
			event.System:        50,
			event.Network:       40,
			event.ExecFS:        30,
			event.Update:        20,
		},

		FrequencyBaseByCategory: map[event.Category]float64{
			event.Vulnerability: 1.5,
			event.Security:      1.0,
			event.System:        0.5,
			event.Network:       0.5,
			event.ExecFS:        0.2,
			event.Update:        0.1,
		},
		SuspiciousPathFrequencyBonus: 1.5,

		PatternSuspiciousProcessBonus: 2.5,
		PatternSensitiveFileBonus:     2.0,
		PatternRootActorBonus:         1.0,
		PatternTempPathBonus:          1.5,

		ContextOutOfHoursBonus: 0.6,
		ContextWeekendBonus:    0.4,
		OutOfHoursStartHourUTC: 20,
		OutOfHoursEndHourUTC:   8,

		MinEventsForAnalysis: 100,
	}
}

// Result is the scored outcome of a single event, matching the
// published result schema.
type Result struct {
	Timestamp       int64
	PID             uint32
	UID             uint32
	Category        event.Category
	AnomalyScore    float64
	ThreatScore     float64
	IsAnomaly       bool
	IsThreat        bool
	ThreatLevel     Level
	Recommendations []string
	Confidence      float64
}

// Engine scores events using cfg and a shared classifier context.
type Engine struct {
	cfg Config
	cls *classifier.Context
}

// New builds an Engine. A zero-value cfg is replaced with
// DefaultConfig.
func New(cfg Config, cls *classifier.Context) *Engine {
	if cfg.CategorySeverity == nil {
		cfg = DefaultConfig()
	}
	return &Engine{cfg: cfg, cls: cls}
}

// Score produces a Result for ev given its sequence-derived feature
// vector and the number of times this pid has been observed so far
// (used only to decide BaselineEstablished-adjacent confidence, not to
// gate scoring itself — every event gets scored from day one).
func (e *Engine) Score(ev event.Event, vec features.Vector, observedCount int) Result {
	freq := e.frequencyAnomaly(ev)
	pattern := e.patternAnomaly(ev)
	ctx := e.contextAnomaly(ev)

	anomaly := e.cfg.AnomalyFrequencyWeight*freq + e.cfg.AnomalyPatternWeight*pattern + e.cfg.AnomalyContextWeight*ctx
	isAnomaly := anomaly >= e.cfg.AnomalyThreshold

	severity := e.cfg.CategorySeverity[ev.Category]
	threatFreq := clampScale(freq, e.cfg.ThreatAnomalyScale)
	threatPattern := clampScale(pattern, e.cfg.ThreatAnomalyScale)
	threatContext := clampScale(ctx, e.cfg.ThreatAnomalyScale)

	threat := e.cfg.ThreatSeverityWeight*severity +
		e.cfg.ThreatFrequencyWeight*threatFreq +
		e.cfg.ThreatPatternWeight*threatPattern +
		e.cfg.ThreatContextWeight*threatContext
	threat = clampRange(threat, 0, 100)

	level := e.classify(threat)
	isThreat := level == LevelMedium || level == LevelHigh

	confidence := confidenceFor(observedCount, e.cfg.MinEventsForAnalysis)

	return Result{
		Timestamp:       ev.Timestamp,
		PID:             ev.PID,
		UID:             ev.UID,
		Category:        ev.Category,
		AnomalyScore:    anomaly,
		ThreatScore:     threat,
		IsAnomaly:       isAnomaly,
		IsThreat:        isThreat,
		ThreatLevel:     level,
		Recommendations: e.recommend(level, ev.Category),
		Confidence:      confidence,
	}
}

func clampScale(x, scale float64) float64 {
	v := x * scale
	if v > 100 {
		return 100
	}
	if v < 0 {
		return 0
	}
	return v
}

func clampRange(x, lo, hi float64) float64 {
	if x < lo {
		return lo
	}
	if x > hi {
		return hi
	}
	return x
}

func (e *Engine) classify(threat float64) Level {
	switch {
	case threat >= e.cfg.ThreatThreshold:
		return LevelHigh
	case threat >= e.cfg.ThreatThreshold-20:
		return LevelMedium
	case threat >= e.cfg.ThreatThreshold-40:
		return LevelLow
	default:
		return LevelNone
	}
}

// frequencyAnomaly combines event-type-dependent constants with
// suspicious-path additions.
func (e *Engine) frequencyAnomaly(ev event.Event) float64 {
	score := e.cfg.FrequencyBaseByCategory[ev.Category]
	if e.cls != nil && ev.Filename != "" && e.cls.IsSuspiciousPath(ev.Filename) {
		score += e.cfg.SuspiciousPathFrequencyBonus
	}
	return score
}

// patternAnomaly combines suspicious-process-name additions,
// sensitive-file additions, and a root-actor addition.
func (e *Engine) patternAnomaly(ev event.Event) float64 {
	var score float64
	if e.cls == nil {
		return score
	}
	if ev.Comm != "" && e.cls.IsSuspiciousProcess(ev.Comm) {
		score += e.cfg.PatternSuspiciousProcessBonus
	}
	if ev.Filename != "" && e.cls.IsSensitivePath(ev.Filename) {
		score += e.cfg.PatternSensitiveFileBonus
	}
	if ev.UID == 0 {
		score += e.cfg.PatternRootActorBonus
	}
	if ev.Category == event.ExecFS && ev.Filename != "" && e.cls.IsTempPath(ev.Filename) {
		score += e.cfg.PatternTempPathBonus
	}
	return score
}

// contextAnomaly combines a time-of-day and a day-of-week component.
func (e *Engine) contextAnomaly(ev event.Event) float64 {
	var score float64
	t := time.Unix(0, ev.Timestamp).UTC()
	hour := t.Hour()
	if hour >= e.cfg.OutOfHoursStartHourUTC || hour < e.cfg.OutOfHoursEndHourUTC {
		score += e.cfg.ContextOutOfHoursBonus
	}
	if wd := t.Weekday(); wd == time.Saturday || wd == time.Sunday {
		score += e.cfg.ContextWeekendBonus
	}
	return score
}

func confidenceFor(observedCount, minEvents int) float64 {
	if minEvents <= 0 {
		return 1
	}
	c := float64(observedCount) / float64(minEvents)
	if c > 1 {
		return 1
	}
	if c < 0 {
		return 0
	}
	return c
}

// recommend returns a bounded, deterministic recommendation list keyed
// by (level, category), looked up from a table instead of built by ad
// hoc string concatenation.
func (e *Engine) recommend(level Level, cat event.Category) []string {
	if level == LevelNone {
		return nil
	}
	recs := recommendationTable[key{level, cat}]
	if len(recs) == 0 {
		recs = recommendationTable[key{level, event.Unknown}]
	}
	if len(recs) > MaxRecommendations {
		recs = recs[:MaxRecommendations]
	}
	out := make([]string, len(recs))
	copy(out, recs)
	return out
}

type key struct {
	level Level
	cat   event.Category
}

var recommendationTable = map[key][]string{
	{LevelHigh, event.Security}:      {"isolate the host from the network", "capture a forensic memory snapshot", "escalate to the incident-response on-call"},
	{LevelHigh, event.Vulnerability}: {"patch the affected package immediately", "check for exploitation indicators in recent logs"},
	{LevelHigh, event.ExecFS}:        {"suspend the process", "inspect the executed binary's provenance"},
	{LevelHigh, event.Network}:       {"block the remote endpoint", "inspect outbound traffic for exfiltration"},
	{LevelHigh, event.Unknown}:       {"investigate the process immediately"},

	{LevelMedium, event.Security}:      {"review the credential change for legitimacy"},
	{LevelMedium, event.Vulnerability}: {"schedule the affected package for patching"},
	{LevelMedium, event.ExecFS}:        {"review the process's parent and arguments"},
	{LevelMedium, event.Network}:       {"review the connection against known-good destinations"},
	{LevelMedium, event.Unknown}:       {"flag for analyst review"},

	{LevelLow, event.Unknown}: {"log for trend analysis"},
}
