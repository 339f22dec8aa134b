package cooldown

import (
	"testing"
	"time"
)

func TestAdmit_FirstFireAllowed(t *testing.T) {
	l := New()
	now := time.Now()

	if err := l.Admit("wifi_instability", "8.8.8.8:53", 10*time.Minute, now); err != nil {
		t.Fatalf("Admit failed on first fire: %v", err)
	}
}

func TestAdmit_InFlightSuppressed(t *testing.T) {
	l := New()
	now := time.Now()

	if err := l.Admit("r", "t", time.Minute, now); err != nil {
		t.Fatalf("Admit failed: %v", err)
	}

	// Second admission while the first has not finalized
	if err := l.Admit("r", "t", time.Minute, now); err != ErrInFlight {
		t.Errorf("Expected ErrInFlight, got %v", err)
	}
}

func TestAdmit_CooldownSuppressed(t *testing.T) {
	l := New()
	t0 := time.Now()

	if err := l.Admit("r", "t", 10*time.Minute, t0); err != nil {
		t.Fatalf("Admit failed: %v", err)
	}
	l.Finalize("r", "t", t0)

	if err := l.Admit("r", "t", 10*time.Minute, t0.Add(5*time.Minute)); err != ErrCooldownActive {
		t.Errorf("Expected ErrCooldownActive inside the window, got %v", err)
	}
	if err := l.Admit("r", "t", 10*time.Minute, t0.Add(10*time.Minute)); err != nil {
		t.Errorf("Expected admission at the window boundary, got %v", err)
	}
}

func TestAdmit_FailedFixStillCoolsDown(t *testing.T) {
	l := New()
	t0 := time.Now()

	if err := l.Admit("r", "t", time.Hour, t0); err != nil {
		t.Fatalf("Admit failed: %v", err)
	}
	// Finalize is called regardless of fix outcome
	l.Finalize("r", "t", t0)

	if err := l.Admit("r", "t", time.Hour, t0.Add(time.Second)); err != ErrCooldownActive {
		t.Errorf("Expected cooldown after a finalized attempt, got %v", err)
	}
}

func TestAdmit_IndependentKeys(t *testing.T) {
	l := New()
	now := time.Now()

	if err := l.Admit("r", "host-a", time.Hour, now); err != nil {
		t.Fatalf("Admit failed for host-a: %v", err)
	}
	if err := l.Admit("r", "host-b", time.Hour, now); err != nil {
		t.Errorf("Different target should admit independently, got %v", err)
	}
	if err := l.Admit("r2", "host-a", time.Hour, now); err != nil {
		t.Errorf("Different rule should admit independently, got %v", err)
	}
}

func TestLastFired(t *testing.T) {
	l := New()
	t0 := time.Now()

	if _, ok := l.LastFired("r", "t"); ok {
		t.Error("LastFired should report false before any fire")
	}

	if err := l.Admit("r", "t", time.Minute, t0); err != nil {
		t.Fatalf("Admit failed: %v", err)
	}
	if _, ok := l.LastFired("r", "t"); ok {
		t.Error("LastFired should report false while in flight")
	}

	l.Finalize("r", "t", t0)
	got, ok := l.LastFired("r", "t")
	if !ok {
		t.Fatal("LastFired should report true after Finalize")
	}
	if !got.Equal(t0) {
		t.Errorf("Expected lastFired %v, got %v", t0, got)
	}
}

func TestFinalize_DoesNotRewind(t *testing.T) {
	l := New()
	t0 := time.Now()

	if err := l.Admit("r", "t", 0, t0); err != nil {
		t.Fatalf("Admit failed: %v", err)
	}
	l.Finalize("r", "t", t0)

	if err := l.Admit("r", "t", 0, t0); err != nil {
		t.Fatalf("Admit failed: %v", err)
	}
	l.Finalize("r", "t", t0.Add(-time.Hour))

	got, ok := l.LastFired("r", "t")
	if !ok {
		t.Fatal("LastFired should report true")
	}
	if !got.Equal(t0) {
		t.Errorf("Older Finalize must not rewind lastFired: got %v, want %v", got, t0)
	}
}
