// Package engine matches the ordered observation stream against the
// configured rule set and emits edge-triggered detections.
package engine

import (
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/fentz26/murmur/internal/models"
)

// PredicateError reports an observation a rule's predicate could not
// evaluate. It is recorded to history and never stops the engine.
type PredicateError struct {
	Rule   string
	Source string
	Target string
	Err    error
}

func (e *PredicateError) Error() string {
	return fmt.Sprintf("rule %s: predicate error for %s/%s: %v", e.Rule, e.Source, e.Target, e.Err)
}

// ruleState tracks one (rule, target) pair across time.
type ruleState struct {
	// hits holds the timestamps of matching observations inside the
	// trailing window, oldest first.
	hits []models.Observation
	// latched is set after a detection fires and suppresses re-firing
	// while the predicate stays continuously true.
	latched   bool
	lastMatch time.Time
}

// Engine evaluates every rule incrementally against the observation
// stream. A rule's predicate transitioning false to true emits exactly
// one Detection; it does not re-emit while the predicate remains true.
type Engine struct {
	rules []models.Rule

	mu     sync.Mutex
	states map[string]*ruleState
}

// New creates an engine for a fixed rule set.
func New(rules []models.Rule) *Engine {
	return &Engine{
		rules:  rules,
		states: make(map[string]*ruleState),
	}
}

// Rules returns the configured rule set.
func (e *Engine) Rules() []models.Rule {
	return e.rules
}

func stateKey(ruleID, target string) string {
	return ruleID + "\x00" + target
}

func kindIn(kind models.ObservationKind, kinds []models.ObservationKind) bool {
	for _, k := range kinds {
		if k == kind {
			return true
		}
	}
	return false
}

// Process evaluates one observation against every rule. Multiple rules
// may match the same observation; each emits its own Detection.
// Predicate failures are returned alongside and never abort evaluation
// of the remaining rules.
func (e *Engine) Process(obs models.Observation) ([]models.Detection, []*PredicateError) {
	e.mu.Lock()
	defer e.mu.Unlock()

	var detections []models.Detection
	var errs []*PredicateError

	for i := range e.rules {
		rule := &e.rules[i]
		if rule.Target != "" && obs.Target != rule.Target {
			continue
		}

		key := stateKey(rule.ID, obs.Target)

		if kindIn(obs.Kind, rule.ClearKinds) {
			if st, ok := e.states[key]; ok {
				st.hits = nil
				st.latched = false
			}
			continue
		}

		if !kindIn(obs.Kind, rule.Kinds) {
			continue
		}

		matched := true
		if rule.MinValue > 0 {
			v, err := strconv.ParseInt(obs.Value, 10, 64)
			if err != nil {
				errs = append(errs, &PredicateError{
					Rule:   rule.ID,
					Source: obs.Source,
					Target: obs.Target,
					Err:    fmt.Errorf("non-numeric value %q: %w", obs.Value, err),
				})
				continue
			}
			matched = v >= rule.MinValue
		}

		st, ok := e.states[key]
		if !ok {
			st = &ruleState{}
			e.states[key] = st
		}

		// A below-threshold reading means the fault is not present:
		// it clears the trailing window like a clear-kind does.
		if !matched {
			st.hits = nil
			st.latched = false
			continue
		}

		// An idle gap longer than the window means the previous fault
		// episode ended without an explicit clear observation.
		if st.latched && !st.lastMatch.IsZero() && obs.Timestamp.Sub(st.lastMatch) > rule.Window {
			st.latched = false
		}
		st.lastMatch = obs.Timestamp

		st.hits = append(st.hits, obs)
		st.prune(obs.Timestamp, rule.Window)

		if len(st.hits) >= rule.Threshold && !st.latched {
			st.latched = true
			triggering := make([]models.Observation, len(st.hits))
			copy(triggering, st.hits)
			detections = append(detections, models.Detection{
				Rule:         rule.ID,
				Target:       obs.Target,
				Timestamp:    obs.Timestamp,
				Observations: triggering,
			})
		}
	}

	return detections, errs
}

// ResetAfterFix re-arms a (rule, target) pair after a fix attempt
// completed. The remediation changed the system, so the pattern must
// re-establish before it can fire again; the trailing window is kept so
// an immediately recurring fault is seen quickly.
func (e *Engine) ResetAfterFix(ruleID, target string) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if st, ok := e.states[stateKey(ruleID, target)]; ok {
		st.latched = false
	}
}

// prune drops window entries older than window relative to now.
func (s *ruleState) prune(now time.Time, window time.Duration) {
	cut := 0
	for cut < len(s.hits) && now.Sub(s.hits[cut].Timestamp) > window {
		cut++
	}
	if cut > 0 {
		s.hits = append(s.hits[:0], s.hits[cut:]...)
	}
}
