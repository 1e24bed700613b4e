package scoring

import (
	"testing"

	"github.com/guy-davidi/ravn-sub000/pkg/classifier"
	"github.com/guy-davidi/ravn-sub000/pkg/event"
	"github.com/guy-davidi/ravn-sub000/pkg/features"
)

// businessHoursTuesday is 2024-01-02T14:00:00Z, a weekday business-hours
// timestamp under the default out-of-hours/weekend windows.
const businessHoursTuesday = int64(1704204000) * 1e9

func TestScoreUncommonToolExecAsRootFromTemp(t *testing.T) {
	e := New(DefaultConfig(), classifier.New(classifier.Config{}))
	ev := event.Event{
		Timestamp: businessHoursTuesday,
		Category:  event.ExecFS,
		Comm:      "nc",
		Filename:  "/tmp/x",
		UID:       0,
	}
	r := e.Score(ev, make(features.Vector, features.Width), 5)

	if !r.IsAnomaly {
		t.Errorf("anomaly score %v, want >= anomaly threshold", r.AnomalyScore)
	}
	if r.ThreatScore < 30 {
		t.Errorf("threat score %v, want >= 30", r.ThreatScore)
	}
	if r.ThreatLevel == LevelNone {
		t.Errorf("threat level = none, want at least low")
	}
}

func TestScoreVulnerabilityEventBusinessHours(t *testing.T) {
	e := New(DefaultConfig(), classifier.New(classifier.Config{}))
	ev := event.Event{
		Timestamp: businessHoursTuesday,
		Category:  event.Vulnerability,
		Comm:      "updater",
		UID:       1000,
	}
	r := e.Score(ev, make(features.Vector, features.Width), 150)

	if r.ThreatScore < 24 {
		t.Errorf("threat score %v, want >= 24 (severity alone is 80*0.3=24)", r.ThreatScore)
	}
	if r.IsAnomaly {
		t.Errorf("expected a bare vulnerability-category event with no markers to not cross the anomaly threshold")
	}
}

func TestScoreBenignUpdateEventIsNone(t *testing.T) {
	e := New(DefaultConfig(), classifier.New(classifier.Config{}))
	ev := event.Event{
		Timestamp: businessHoursTuesday,
		Category:  event.Update,
		Comm:      "apt",
		UID:       1000,
	}
	r := e.Score(ev, make(features.Vector, features.Width), 150)

	if r.ThreatLevel != LevelNone {
		t.Errorf("level = %v, want none", r.ThreatLevel)
	}
	if r.IsThreat {
		t.Error("expected is_threat=false for a benign update event")
	}
	if r.Recommendations != nil {
		t.Errorf("expected no recommendations for level none, got %v", r.Recommendations)
	}
}

func TestScoreWithNilClassifierDoesNotPanic(t *testing.T) {
	e := New(DefaultConfig(), nil)
	ev := event.Event{Timestamp: businessHoursTuesday, Category: event.ExecFS, Comm: "nc", Filename: "/tmp/x", UID: 0}
	r := e.Score(ev, make(features.Vector, features.Width), 0)
	if r.ThreatScore < 0 || r.ThreatScore > 100 {
		t.Errorf("threat score %v out of [0,100]", r.ThreatScore)
	}
}

func TestLevelAndIsThreatAgree(t *testing.T) {
	e := New(DefaultConfig(), classifier.New(classifier.Config{}))
	for _, tc := range []struct {
		cat  event.Category
		comm string
		uid  uint32
		path string
	}{
		{event.Update, "apt", 1000, ""},
		{event.Vulnerability, "scanner", 1000, ""},
		{event.Security, "su", 0, "/etc/shadow"},
	} {
		ev := event.Event{Timestamp: businessHoursTuesday, Category: tc.cat, Comm: tc.comm, UID: tc.uid, Filename: tc.path}
		r := e.Score(ev, make(features.Vector, features.Width), 150)
		wantThreat := r.ThreatLevel == LevelMedium || r.ThreatLevel == LevelHigh
		if r.IsThreat != wantThreat {
			t.Errorf("category %v: is_threat=%v inconsistent with level=%v", tc.cat, r.IsThreat, r.ThreatLevel)
		}
		if len(r.Recommendations) > MaxRecommendations {
			t.Errorf("category %v: %d recommendations, want <= %d", tc.cat, len(r.Recommendations), MaxRecommendations)
		}
	}
}

func TestConfidenceForClampsToUnitRange(t *testing.T) {
	if c := confidenceFor(0, 100); c != 0 {
		t.Errorf("confidence = %v, want 0", c)
	}
	if c := confidenceFor(200, 100); c != 1 {
		t.Errorf("confidence = %v, want 1 (clamped)", c)
	}
	if c := confidenceFor(50, 100); c != 0.5 {
		t.Errorf("confidence = %v, want 0.5", c)
	}
}
