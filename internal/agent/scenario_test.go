package agent

import (
	"testing"
	"time"

	"github.com/fentz26/murmur/internal/cooldown"
	"github.com/fentz26/murmur/internal/engine"
	"github.com/fentz26/murmur/internal/models"
)

// Walks the engine and ledger through a synthetic fault timeline:
// repeated drops detect and fix once, a recurrence inside the cooldown
// is suppressed, and the next full episode after the cooldown expires
// dispatches again.
func TestFaultTimeline(t *testing.T) {
	rule := models.Rule{
		ID:          "wifi_instability",
		Kinds:       []models.ObservationKind{models.KindConnDown},
		ClearKinds:  []models.ObservationKind{models.KindConnUp},
		Threshold:   3,
		Window:      5 * time.Minute,
		TargetFixer: "reconnect",
		Cooldown:    10 * time.Minute,
	}
	eng := engine.New([]models.Rule{rule})
	ledger := cooldown.New()

	t0 := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	obsAt := func(at time.Time) models.Observation {
		return models.Observation{
			Source:    "connectivity",
			Kind:      models.KindConnDown,
			Target:    "8.8.8.8:53",
			Timestamp: at,
		}
	}

	// Three drops inside the window: exactly one detection
	eng.Process(obsAt(t0))
	eng.Process(obsAt(t0.Add(2 * time.Second)))
	dets, _ := eng.Process(obsAt(t0.Add(4 * time.Second)))
	if len(dets) != 1 {
		t.Fatalf("Expected 1 detection at threshold, got %d", len(dets))
	}
	det := dets[0]

	// Admitted and fixed; the fix completion finalizes and re-arms
	if err := ledger.Admit(det.Rule, det.Target, rule.Cooldown, det.Timestamp); err != nil {
		t.Fatalf("Expected first admission, got %v", err)
	}
	ledger.Finalize(det.Rule, det.Target, det.Timestamp)
	eng.ResetAfterFix(det.Rule, det.Target)

	// The fault recurs ten seconds later: re-detected but suppressed
	dets, _ = eng.Process(obsAt(t0.Add(14 * time.Second)))
	if len(dets) != 1 {
		t.Fatalf("Expected re-detection for the recurring fault, got %d", len(dets))
	}
	err := ledger.Admit(dets[0].Rule, dets[0].Target, rule.Cooldown, dets[0].Timestamp)
	if err != cooldown.ErrCooldownActive {
		t.Fatalf("Expected ErrCooldownActive inside cooldown, got %v", err)
	}

	// A fresh episode after the cooldown expired dispatches again
	lateStart := t0.Add(11 * time.Minute)
	eng.Process(obsAt(lateStart))
	eng.Process(obsAt(lateStart.Add(2 * time.Second)))
	dets, _ = eng.Process(obsAt(lateStart.Add(4 * time.Second)))
	if len(dets) != 1 {
		t.Fatalf("Expected detection for the new episode, got %d", len(dets))
	}
	if err := ledger.Admit(dets[0].Rule, dets[0].Target, rule.Cooldown, dets[0].Timestamp); err != nil {
		t.Fatalf("Expected admission after cooldown expiry, got %v", err)
	}
	ledger.Finalize(dets[0].Rule, dets[0].Target, dets[0].Timestamp)
}
