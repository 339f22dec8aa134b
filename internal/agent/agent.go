// Package agent provides the cooperative scheduler that drives the
// detection-and-remediation pipeline and owns the process lifecycle.
package agent

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/fentz26/murmur/internal/bus"
	"github.com/fentz26/murmur/internal/cooldown"
	"github.com/fentz26/murmur/internal/engine"
	"github.com/fentz26/murmur/internal/fixers"
	"github.com/fentz26/murmur/internal/history"
	"github.com/fentz26/murmur/internal/metrics"
	"github.com/fentz26/murmur/internal/models"
	"github.com/fentz26/murmur/internal/monitors"
)

// ErrConfigInvalid marks wiring errors that are fatal at Start. No
// runtime error is ever fatal to the agent.
var ErrConfigInvalid = errors.New("invalid configuration")

// ErrNotRunning is returned by operations that require a running agent.
var ErrNotRunning = errors.New("agent not running")

// Options bounds the runtime behavior of the agent.
type Options struct {
	// FixTimeout bounds one fixer invocation.
	FixTimeout time.Duration
	// MaxConcurrentFixes bounds parallel fixer invocations.
	MaxConcurrentFixes int
	// StopTimeout bounds how long Stop waits for quiescence.
	StopTimeout time.Duration

	// History retention bounds, applied on PruneInterval.
	HistoryMaxRecords int
	HistoryMaxAge     time.Duration
	HistoryKeepRecent int
	PruneInterval     time.Duration
}

// DefaultOptions returns the default runtime bounds.
func DefaultOptions() Options {
	return Options{
		FixTimeout:         30 * time.Second,
		MaxConcurrentFixes: 4,
		StopTimeout:        45 * time.Second,
		HistoryMaxRecords:  10000,
		HistoryMaxAge:      7 * 24 * time.Hour,
		HistoryKeepRecent:  100,
		PruneInterval:      10 * time.Minute,
	}
}

// Agent ticks the monitors at their configured intervals, funnels their
// observations through the pattern engine, gates detections through the
// cooldown ledger, and dispatches admitted detections to fixers.
type Agent struct {
	monitors []monitors.Monitor
	bus      *bus.Bus
	engine   *engine.Engine
	ledger   *cooldown.Ledger
	registry *fixers.Registry
	store    *history.Store
	opts     Options

	mu    sync.RWMutex
	state models.AgentState
	// status holds the last known observation per monitor.
	status map[string]models.MonitorStatus
	// kicks holds the per-monitor force-scan channels.
	kicks map[string]chan struct{}

	ctx    context.Context
	cancel context.CancelFunc

	monitorWG sync.WaitGroup
	pipeWG    sync.WaitGroup
	fixWG     sync.WaitGroup
	// fixSlots bounds concurrent fixer invocations.
	fixSlots chan struct{}
}

// New creates an agent. Start validates the wiring.
func New(mons []monitors.Monitor, eng *engine.Engine, reg *fixers.Registry, store *history.Store, opts Options) *Agent {
	if opts.FixTimeout <= 0 {
		opts.FixTimeout = DefaultOptions().FixTimeout
	}
	if opts.MaxConcurrentFixes < 1 {
		opts.MaxConcurrentFixes = DefaultOptions().MaxConcurrentFixes
	}
	if opts.StopTimeout <= 0 {
		opts.StopTimeout = DefaultOptions().StopTimeout
	}

	return &Agent{
		monitors: mons,
		engine:   eng,
		ledger:   cooldown.New(),
		registry: reg,
		store:    store,
		opts:     opts,
		state:    models.AgentStopped,
		status:   make(map[string]models.MonitorStatus),
		kicks:    make(map[string]chan struct{}),
		fixSlots: make(chan struct{}, opts.MaxConcurrentFixes),
	}
}

// Start validates the wiring and spawns the sampling loops and the
// pipeline. Fatal only on malformed configuration.
func (a *Agent) Start() error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.state != models.AgentStopped {
		return fmt.Errorf("agent already %s", a.state)
	}

	if err := a.validate(); err != nil {
		return err
	}

	a.ctx, a.cancel = context.WithCancel(context.Background())
	a.bus = bus.New()
	a.state = models.AgentRunning

	for _, m := range a.monitors {
		kick := make(chan struct{}, 1)
		a.kicks[m.Name()] = kick
		a.monitorWG.Add(1)
		go a.monitorLoop(m, kick)
	}

	a.pipeWG.Add(1)
	go a.pipelineLoop()

	if a.opts.PruneInterval > 0 {
		a.pipeWG.Add(1)
		go a.pruneLoop()
	}

	log.Printf("Agent started with %d monitors, %d rules, %d fixers",
		len(a.monitors), len(a.engine.Rules()), a.registry.Count())
	return nil
}

// validate checks that every rule's fixer is registered and every
// monitor has a positive interval.
func (a *Agent) validate() error {
	for _, m := range a.monitors {
		if m.Interval() <= 0 {
			return fmt.Errorf("%w: monitor %q has non-positive interval", ErrConfigInvalid, m.Name())
		}
	}
	for _, r := range a.engine.Rules() {
		if r.Cooldown <= 0 {
			return fmt.Errorf("%w: rule %q has non-positive cooldown", ErrConfigInvalid, r.ID)
		}
		if _, ok := a.registry.Get(r.TargetFixer); !ok {
			return fmt.Errorf("%w: rule %q references unknown fixer %q", ErrConfigInvalid, r.ID, r.TargetFixer)
		}
	}
	return nil
}

// Stop signals all loops to finish their current tick and not begin
// another, then waits (bounded) for quiescence. In-flight fixes finish
// or hit their own timeout; they are never killed mid-action.
func (a *Agent) Stop() {
	a.mu.Lock()
	if a.state != models.AgentRunning {
		a.mu.Unlock()
		return
	}
	a.state = models.AgentStopping
	cancel := a.cancel
	a.mu.Unlock()

	cancel()
	a.monitorWG.Wait()

	// No more publishers; close the bus so the pipeline drains and exits.
	a.bus.Close()
	a.pipeWG.Wait()

	if !waitTimeout(&a.fixWG, a.opts.StopTimeout) {
		log.Printf("Stop: timed out waiting for in-flight fixes")
	}

	a.mu.Lock()
	a.state = models.AgentStopped
	a.kicks = make(map[string]chan struct{})
	a.mu.Unlock()
	log.Printf("Agent stopped")
}

// State returns the current lifecycle state.
func (a *Agent) State() models.AgentState {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.state
}

// Status returns the last known state per monitor.
func (a *Agent) Status() []models.MonitorStatus {
	a.mu.RLock()
	defer a.mu.RUnlock()

	out := make([]models.MonitorStatus, 0, len(a.status))
	for _, st := range a.status {
		out = append(out, st)
	}
	return out
}

// ForceScan triggers an immediate out-of-schedule sample from every
// monitor without altering the regular intervals.
func (a *Agent) ForceScan() error {
	a.mu.RLock()
	defer a.mu.RUnlock()

	if a.state != models.AgentRunning {
		return ErrNotRunning
	}
	for _, kick := range a.kicks {
		select {
		case kick <- struct{}{}:
		default:
			// A scan is already pending for this monitor.
		}
	}
	return nil
}

// monitorLoop ticks one monitor at its interval. A failing probe never
// halts the loop; it reports probe_error observations instead.
func (a *Agent) monitorLoop(m monitors.Monitor, kick chan struct{}) {
	defer a.monitorWG.Done()

	ticker := time.NewTicker(m.Interval())
	defer ticker.Stop()

	// Take an initial sample so status is answerable immediately.
	a.sample(m)

	for {
		select {
		case <-a.ctx.Done():
			return
		case <-ticker.C:
			a.sample(m)
		case <-kick:
			a.sample(m)
		}
	}
}

// sample runs one Sample call and publishes its observations. A panic in
// a probe is converted into a probe_error observation so one misbehaving
// monitor cannot take down the scheduler.
func (a *Agent) sample(m monitors.Monitor) {
	defer func() {
		if r := recover(); r != nil {
			log.Printf("Monitor %s panicked: %v", m.Name(), r)
			a.bus.Publish([]models.Observation{{
				Source:    m.Name(),
				Kind:      models.KindProbeError,
				Detail:    fmt.Sprintf("panic: %v", r),
				Timestamp: time.Now().UTC(),
			}})
		}
	}()

	obs := m.Sample(a.ctx)
	if len(obs) == 0 {
		return
	}

	metrics.ObserveSample(m.Name(), len(obs))
	a.updateStatus(m.Name(), obs[len(obs)-1])
	a.bus.Publish(obs)
}

func (a *Agent) updateStatus(monitor string, last models.Observation) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.status[monitor] = models.MonitorStatus{
		Monitor:    monitor,
		LastKind:   last.Kind,
		LastValue:  last.Value,
		LastSample: last.Timestamp,
	}
}

// pipelineLoop is the single consumer of the bus: it feeds the pattern
// engine and hands detections to the dispatcher.
func (a *Agent) pipelineLoop() {
	defer a.pipeWG.Done()

	for obs := range a.bus.Observations() {
		if obs.Kind == models.KindProbeError {
			a.record(models.HistoryRecord{
				Kind:      models.RecordError,
				Source:    obs.Source,
				Target:    obs.Target,
				Outcome:   "probe_error",
				Detail:    obs.Detail,
				Seq:       obs.Seq,
				Timestamp: obs.Timestamp,
			})
			continue
		}

		detections, predErrs := a.engine.Process(obs)

		for _, perr := range predErrs {
			log.Printf("Pattern engine: %v", perr)
			a.record(models.HistoryRecord{
				Kind:      models.RecordError,
				Rule:      perr.Rule,
				Source:    perr.Source,
				Target:    perr.Target,
				Outcome:   "predicate_error",
				Detail:    perr.Err.Error(),
				Seq:       obs.Seq,
				Timestamp: obs.Timestamp,
			})
		}

		for _, det := range detections {
			a.handleDetection(det)
		}
	}
}

// handleDetection records the detection with its triggering
// observations, gates it through the cooldown ledger, and dispatches it.
func (a *Agent) handleDetection(det models.Detection) {
	metrics.ObserveDetection(det.Rule)
	log.Printf("Detection: rule=%s target=%s", det.Rule, det.Target)

	// Observations are retained in history only when they contributed
	// to a detection.
	for _, obs := range det.Observations {
		a.record(models.HistoryRecord{
			Kind:      models.RecordObservation,
			Rule:      det.Rule,
			Source:    obs.Source,
			Target:    obs.Target,
			Outcome:   string(obs.Kind),
			Detail:    obs.Value,
			Seq:       obs.Seq,
			Timestamp: obs.Timestamp,
		})
	}
	a.record(models.HistoryRecord{
		Kind:      models.RecordDetection,
		Rule:      det.Rule,
		Target:    det.Target,
		Outcome:   "detected",
		Timestamp: det.Timestamp,
	})

	rule, ok := a.ruleByID(det.Rule)
	if !ok {
		return
	}

	if err := a.ledger.Admit(det.Rule, det.Target, rule.Cooldown, time.Now().UTC()); err != nil {
		metrics.ObserveSuppressed(det.Rule)
		metrics.ObserveFix(rule.TargetFixer, models.FixSkipped)
		a.record(models.HistoryRecord{
			Kind:      models.RecordFix,
			Rule:      det.Rule,
			Target:    det.Target,
			Source:    rule.TargetFixer,
			Outcome:   string(models.FixSkipped),
			Detail:    models.ReasonCooldownActive,
			Timestamp: time.Now().UTC(),
		})
		return
	}

	fixer, _ := a.registry.Get(rule.TargetFixer)

	a.fixWG.Add(1)
	a.fixSlots <- struct{}{}
	go func() {
		defer a.fixWG.Done()
		defer func() { <-a.fixSlots }()
		a.runFix(det, rule, fixer)
	}()
}

// runFix executes one admitted fix attempt with a bounded timeout. The
// cooldown advances regardless of outcome, so failed fixes retry no
// faster than the cooldown allows.
func (a *Agent) runFix(det models.Detection, rule models.Rule, fixer fixers.Fixer) {
	// Deliberately not derived from the agent context: an in-flight
	// remediation is allowed to finish during shutdown.
	ctx, cancel := context.WithTimeout(context.Background(), a.opts.FixTimeout)
	defer cancel()

	done := make(chan error, 1)
	go func() {
		done <- fixer.Apply(ctx, det.Target)
	}()

	result := models.FixSuccess
	reason := ""
	select {
	case err := <-done:
		if err != nil {
			result = models.FixFailed
			reason = err.Error()
		}
	case <-ctx.Done():
		// Beyond the deadline the underlying action is not awaited.
		result = models.FixFailed
		reason = models.ReasonTimeout
	}

	a.ledger.Finalize(det.Rule, det.Target, det.Timestamp)
	a.engine.ResetAfterFix(det.Rule, det.Target)
	metrics.ObserveFix(fixer.Name(), result)

	log.Printf("Fix %s for rule=%s target=%s: %s %s", fixer.Name(), det.Rule, det.Target, result, reason)
	a.record(models.HistoryRecord{
		Kind:      models.RecordFix,
		Rule:      det.Rule,
		Target:    det.Target,
		Source:    fixer.Name(),
		Outcome:   string(result),
		Detail:    reason,
		Timestamp: time.Now().UTC(),
	})
}

// pruneLoop applies the history retention policy periodically.
func (a *Agent) pruneLoop() {
	defer a.pipeWG.Done()

	ticker := time.NewTicker(a.opts.PruneInterval)
	defer ticker.Stop()

	for {
		select {
		case <-a.ctx.Done():
			return
		case <-ticker.C:
			n, err := a.store.Prune(a.opts.HistoryMaxRecords, a.opts.HistoryMaxAge, a.opts.HistoryKeepRecent)
			if err != nil {
				log.Printf("History prune error: %v", err)
			} else if n > 0 {
				log.Printf("History prune: evicted %d records", n)
			}
		}
	}
}

func (a *Agent) ruleByID(id string) (models.Rule, bool) {
	for _, r := range a.engine.Rules() {
		if r.ID == id {
			return r, true
		}
	}
	return models.Rule{}, false
}

func (a *Agent) record(rec models.HistoryRecord) {
	if _, err := a.store.Append(rec); err != nil {
		log.Printf("History append error: %v", err)
	}
}

// waitTimeout waits for wg up to d; reports whether it finished.
func waitTimeout(wg *sync.WaitGroup, d time.Duration) bool {
	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return true
	case <-time.After(d):
		return false
	}
}
