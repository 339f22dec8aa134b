package agent

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/fentz26/murmur/internal/engine"
	"github.com/fentz26/murmur/internal/fixers"
	"github.com/fentz26/murmur/internal/history"
	"github.com/fentz26/murmur/internal/models"
	"github.com/fentz26/murmur/internal/monitors"
)

var errFixFailed = errors.New("nothing to reconnect to")

// scriptMonitor replays canned observation batches, one per Sample call.
// After the script runs out it reports nothing.
type scriptMonitor struct {
	name     string
	interval time.Duration

	mu      sync.Mutex
	batches [][]models.Observation
	samples int
}

func (m *scriptMonitor) Name() string            { return m.name }
func (m *scriptMonitor) Interval() time.Duration { return m.interval }

func (m *scriptMonitor) Sample(ctx context.Context) []models.Observation {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.samples++
	if len(m.batches) == 0 {
		return nil
	}
	batch := m.batches[0]
	m.batches = m.batches[1:]
	return batch
}

func (m *scriptMonitor) sampleCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.samples
}

// panicMonitor panics on every Sample call.
type panicMonitor struct{}

func (panicMonitor) Name() string            { return "flaky" }
func (panicMonitor) Interval() time.Duration { return 20 * time.Millisecond }
func (panicMonitor) Sample(ctx context.Context) []models.Observation {
	panic("probe exploded")
}

// recordFixer counts Apply invocations.
type recordFixer struct {
	name  string
	delay time.Duration
	err   error

	mu    sync.Mutex
	calls []string
}

func (f *recordFixer) Name() string { return f.name }

func (f *recordFixer) Apply(ctx context.Context, target string) error {
	if f.delay > 0 {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(f.delay):
		}
	}
	f.mu.Lock()
	f.calls = append(f.calls, target)
	f.mu.Unlock()
	return f.err
}

func (f *recordFixer) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

func (f *recordFixer) lastTarget() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.calls) == 0 {
		return ""
	}
	return f.calls[len(f.calls)-1]
}

func down(at time.Time) models.Observation {
	return models.Observation{
		Source:    "net",
		Kind:      models.KindConnDown,
		Target:    "8.8.8.8:53",
		Timestamp: at,
	}
}

func testRule(cooldown time.Duration) models.Rule {
	return models.Rule{
		ID:          "conn_flap",
		Kinds:       []models.ObservationKind{models.KindConnDown},
		ClearKinds:  []models.ObservationKind{models.KindConnUp},
		Threshold:   2,
		Window:      time.Minute,
		TargetFixer: "fix",
		Cooldown:    cooldown,
	}
}

func newTestStore(t *testing.T) *history.Store {
	t.Helper()
	s, err := history.New(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("Failed to create store: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func testOptions() Options {
	opts := DefaultOptions()
	opts.FixTimeout = 2 * time.Second
	opts.StopTimeout = 5 * time.Second
	opts.PruneInterval = 0
	return opts
}

// waitFor polls cond until it holds or the timeout elapses.
func waitFor(t *testing.T, timeout time.Duration, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("Timed out waiting for %s", what)
}

func TestStart_RejectsUnknownFixer(t *testing.T) {
	reg := fixers.NewRegistry()
	eng := engine.New([]models.Rule{testRule(time.Hour)})
	a := New(nil, eng, reg, newTestStore(t), testOptions())

	err := a.Start()
	if err == nil {
		t.Fatal("Expected Start to fail with unregistered fixer")
	}
	if a.State() != models.AgentStopped {
		t.Errorf("Expected agent to stay stopped, got %s", a.State())
	}
}

func TestStart_RejectsNonPositiveInterval(t *testing.T) {
	reg := fixers.NewRegistry()
	if err := reg.Register(&recordFixer{name: "fix"}); err != nil {
		t.Fatalf("Register failed: %v", err)
	}
	mon := &scriptMonitor{name: "net", interval: 0}
	a := New([]monitors.Monitor{mon}, engine.New([]models.Rule{testRule(time.Hour)}), reg, newTestStore(t), testOptions())

	if err := a.Start(); err == nil {
		t.Fatal("Expected Start to fail with zero interval monitor")
	}
}

func TestLifecycle(t *testing.T) {
	reg := fixers.NewRegistry()
	if err := reg.Register(&recordFixer{name: "fix"}); err != nil {
		t.Fatalf("Register failed: %v", err)
	}
	mon := &scriptMonitor{name: "net", interval: time.Hour}
	a := New([]monitors.Monitor{mon}, engine.New([]models.Rule{testRule(time.Hour)}), reg, newTestStore(t), testOptions())

	if a.State() != models.AgentStopped {
		t.Fatalf("Expected stopped before Start, got %s", a.State())
	}
	if err := a.ForceScan(); err != ErrNotRunning {
		t.Errorf("Expected ErrNotRunning before Start, got %v", err)
	}

	if err := a.Start(); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	if a.State() != models.AgentRunning {
		t.Errorf("Expected running, got %s", a.State())
	}
	if err := a.Start(); err == nil {
		t.Error("Expected second Start to fail")
	}

	a.Stop()
	if a.State() != models.AgentStopped {
		t.Errorf("Expected stopped after Stop, got %s", a.State())
	}
	if err := a.ForceScan(); err != ErrNotRunning {
		t.Errorf("Expected ErrNotRunning after Stop, got %v", err)
	}

	// Stop is idempotent
	a.Stop()
}

func TestDetectionDispatchesFixOnce(t *testing.T) {
	fixer := &recordFixer{name: "fix"}
	reg := fixers.NewRegistry()
	if err := reg.Register(fixer); err != nil {
		t.Fatalf("Register failed: %v", err)
	}

	now := time.Now().UTC()
	mon := &scriptMonitor{
		name:     "net",
		interval: time.Hour,
		batches: [][]models.Observation{
			{down(now), down(now.Add(time.Second))},
		},
	}
	store := newTestStore(t)
	a := New([]monitors.Monitor{mon}, engine.New([]models.Rule{testRule(time.Hour)}), reg, store, testOptions())

	if err := a.Start(); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	defer a.Stop()

	waitFor(t, 3*time.Second, "fix to run", func() bool {
		return fixer.callCount() == 1
	})
	if got := fixer.lastTarget(); got != "8.8.8.8:53" {
		t.Errorf("Expected fix target 8.8.8.8:53, got %s", got)
	}

	waitFor(t, 3*time.Second, "fix record", func() bool {
		recs, _ := store.Query(time.Time{}, []models.RecordKind{models.RecordFix}, 0)
		return len(recs) == 1
	})
	recs, err := store.Query(time.Time{}, []models.RecordKind{models.RecordFix}, 0)
	if err != nil {
		t.Fatalf("Query failed: %v", err)
	}
	if recs[0].Outcome != string(models.FixSuccess) {
		t.Errorf("Expected success outcome, got %s", recs[0].Outcome)
	}

	// Detection and its triggering observations are in the audit log
	dets, _ := store.Query(time.Time{}, []models.RecordKind{models.RecordDetection}, 0)
	if len(dets) != 1 {
		t.Errorf("Expected 1 detection record, got %d", len(dets))
	}
	obs, _ := store.Query(time.Time{}, []models.RecordKind{models.RecordObservation}, 0)
	if len(obs) != 2 {
		t.Errorf("Expected 2 observation records, got %d", len(obs))
	}
}

func TestCooldownSuppressesRepeatFix(t *testing.T) {
	fixer := &recordFixer{name: "fix"}
	reg := fixers.NewRegistry()
	if err := reg.Register(fixer); err != nil {
		t.Fatalf("Register failed: %v", err)
	}

	now := time.Now().UTC()
	mon := &scriptMonitor{
		name:     "net",
		interval: time.Hour,
		batches: [][]models.Observation{
			{down(now), down(now.Add(time.Second))},
			{down(now.Add(2 * time.Second))},
		},
	}
	store := newTestStore(t)
	a := New([]monitors.Monitor{mon}, engine.New([]models.Rule{testRule(time.Hour)}), reg, store, testOptions())

	if err := a.Start(); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	defer a.Stop()

	waitFor(t, 3*time.Second, "first fix", func() bool {
		return fixer.callCount() == 1
	})
	waitFor(t, 3*time.Second, "fix finalized", func() bool {
		recs, _ := store.Query(time.Time{}, []models.RecordKind{models.RecordFix}, 0)
		return len(recs) == 1
	})

	// The fault recurs inside the cooldown window
	if err := a.ForceScan(); err != nil {
		t.Fatalf("ForceScan failed: %v", err)
	}

	waitFor(t, 3*time.Second, "skipped record", func() bool {
		recs, _ := store.Query(time.Time{}, []models.RecordKind{models.RecordFix}, 0)
		for _, r := range recs {
			if r.Outcome == string(models.FixSkipped) {
				return true
			}
		}
		return false
	})

	recs, _ := store.Query(time.Time{}, []models.RecordKind{models.RecordFix}, 0)
	var skipped *models.HistoryRecord
	for i := range recs {
		if recs[i].Outcome == string(models.FixSkipped) {
			skipped = &recs[i]
		}
	}
	if skipped == nil {
		t.Fatal("Expected a skipped fix record")
	}
	if skipped.Detail != models.ReasonCooldownActive {
		t.Errorf("Expected reason %s, got %s", models.ReasonCooldownActive, skipped.Detail)
	}
	if fixer.callCount() != 1 {
		t.Errorf("Expected fixer to run exactly once, ran %d times", fixer.callCount())
	}
}

func TestFailedFixIsRecordedAndAgentSurvives(t *testing.T) {
	fixer := &recordFixer{name: "fix", err: errFixFailed}
	reg := fixers.NewRegistry()
	if err := reg.Register(fixer); err != nil {
		t.Fatalf("Register failed: %v", err)
	}

	now := time.Now().UTC()
	mon := &scriptMonitor{
		name:     "net",
		interval: time.Hour,
		batches: [][]models.Observation{
			{down(now), down(now.Add(time.Second))},
		},
	}
	store := newTestStore(t)
	a := New([]monitors.Monitor{mon}, engine.New([]models.Rule{testRule(time.Hour)}), reg, store, testOptions())

	if err := a.Start(); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	defer a.Stop()

	waitFor(t, 3*time.Second, "failed fix record", func() bool {
		recs, _ := store.Query(time.Time{}, []models.RecordKind{models.RecordFix}, 0)
		return len(recs) == 1 && recs[0].Outcome == string(models.FixFailed)
	})
	if a.State() != models.AgentRunning {
		t.Errorf("Expected agent to keep running after a failed fix, got %s", a.State())
	}
}

func TestFixTimeout(t *testing.T) {
	fixer := &recordFixer{name: "fix", delay: time.Minute}
	reg := fixers.NewRegistry()
	if err := reg.Register(fixer); err != nil {
		t.Fatalf("Register failed: %v", err)
	}

	now := time.Now().UTC()
	mon := &scriptMonitor{
		name:     "net",
		interval: time.Hour,
		batches: [][]models.Observation{
			{down(now), down(now.Add(time.Second))},
		},
	}
	store := newTestStore(t)
	opts := testOptions()
	opts.FixTimeout = 50 * time.Millisecond
	a := New([]monitors.Monitor{mon}, engine.New([]models.Rule{testRule(time.Hour)}), reg, store, opts)

	if err := a.Start(); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	defer a.Stop()

	waitFor(t, 3*time.Second, "timeout record", func() bool {
		recs, _ := store.Query(time.Time{}, []models.RecordKind{models.RecordFix}, 0)
		return len(recs) == 1
	})
	recs, _ := store.Query(time.Time{}, []models.RecordKind{models.RecordFix}, 0)
	if recs[0].Outcome != string(models.FixFailed) {
		t.Errorf("Expected failed outcome, got %s", recs[0].Outcome)
	}
	if recs[0].Detail != models.ReasonTimeout {
		t.Errorf("Expected reason %s, got %s", models.ReasonTimeout, recs[0].Detail)
	}
}

func TestMonitorIsolation(t *testing.T) {
	fixer := &recordFixer{name: "fix"}
	reg := fixers.NewRegistry()
	if err := reg.Register(fixer); err != nil {
		t.Fatalf("Register failed: %v", err)
	}

	now := time.Now().UTC()
	good := &scriptMonitor{
		name:     "net",
		interval: time.Hour,
		batches: [][]models.Observation{
			{down(now), down(now.Add(time.Second))},
		},
	}
	store := newTestStore(t)
	mons := []monitors.Monitor{good, panicMonitor{}}
	a := New(mons, engine.New([]models.Rule{testRule(time.Hour)}), reg, store, testOptions())

	if err := a.Start(); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	defer a.Stop()

	// The healthy monitor's pipeline keeps working
	waitFor(t, 3*time.Second, "fix despite panicking sibling", func() bool {
		return fixer.callCount() == 1
	})

	// The panicking probe is reported, not fatal
	waitFor(t, 3*time.Second, "probe error records", func() bool {
		recs, _ := store.Query(time.Time{}, []models.RecordKind{models.RecordError}, 0)
		return len(recs) >= 1
	})
	recs, _ := store.Query(time.Time{}, []models.RecordKind{models.RecordError}, 0)
	if recs[0].Source != "flaky" {
		t.Errorf("Expected error attributed to flaky monitor, got %s", recs[0].Source)
	}
	if a.State() != models.AgentRunning {
		t.Errorf("Expected agent running, got %s", a.State())
	}
}

func TestForceScanTriggersImmediateSample(t *testing.T) {
	reg := fixers.NewRegistry()
	if err := reg.Register(&recordFixer{name: "fix"}); err != nil {
		t.Fatalf("Register failed: %v", err)
	}
	mon := &scriptMonitor{name: "net", interval: time.Hour}
	a := New([]monitors.Monitor{mon}, engine.New([]models.Rule{testRule(time.Hour)}), reg, newTestStore(t), testOptions())

	if err := a.Start(); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	defer a.Stop()

	waitFor(t, 3*time.Second, "initial sample", func() bool {
		return mon.sampleCount() == 1
	})

	if err := a.ForceScan(); err != nil {
		t.Fatalf("ForceScan failed: %v", err)
	}
	waitFor(t, 3*time.Second, "kicked sample", func() bool {
		return mon.sampleCount() == 2
	})
}

func TestStatusReflectsLastObservation(t *testing.T) {
	reg := fixers.NewRegistry()
	if err := reg.Register(&recordFixer{name: "fix"}); err != nil {
		t.Fatalf("Register failed: %v", err)
	}
	now := time.Now().UTC()
	mon := &scriptMonitor{
		name:     "net",
		interval: time.Hour,
		batches:  [][]models.Observation{{down(now)}},
	}
	a := New([]monitors.Monitor{mon}, engine.New([]models.Rule{testRule(time.Hour)}), reg, newTestStore(t), testOptions())

	if err := a.Start(); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	defer a.Stop()

	waitFor(t, 3*time.Second, "status update", func() bool {
		return len(a.Status()) == 1
	})
	st := a.Status()[0]
	if st.Monitor != "net" {
		t.Errorf("Expected monitor net, got %s", st.Monitor)
	}
	if st.LastKind != models.KindConnDown {
		t.Errorf("Expected last kind conn_down, got %s", st.LastKind)
	}
}

func TestStopWaitsForInFlightFix(t *testing.T) {
	fixer := &recordFixer{name: "fix", delay: 100 * time.Millisecond}
	reg := fixers.NewRegistry()
	if err := reg.Register(fixer); err != nil {
		t.Fatalf("Register failed: %v", err)
	}

	now := time.Now().UTC()
	mon := &scriptMonitor{
		name:     "net",
		interval: time.Hour,
		batches: [][]models.Observation{
			{down(now), down(now.Add(time.Second))},
		},
	}
	store := newTestStore(t)
	a := New([]monitors.Monitor{mon}, engine.New([]models.Rule{testRule(time.Hour)}), reg, store, testOptions())

	if err := a.Start(); err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	// Give the pipeline time to admit and dispatch the fix
	waitFor(t, 3*time.Second, "detection record", func() bool {
		recs, _ := store.Query(time.Time{}, []models.RecordKind{models.RecordDetection}, 0)
		return len(recs) == 1
	})

	a.Stop()

	if fixer.callCount() != 1 {
		t.Errorf("Expected fix to complete before Stop returned, got %d calls", fixer.callCount())
	}
	if a.State() != models.AgentStopped {
		t.Errorf("Expected stopped, got %s", a.State())
	}
}
