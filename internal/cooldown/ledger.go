// Package cooldown tracks when a fix last fired per (rule, target) pair
// and suppresses re-firing inside the configured window.
package cooldown

import (
	"errors"
	"sync"
	"time"
)

// Sentinel results of an admission check.
var (
	ErrCooldownActive = errors.New("cooldown active")
	ErrInFlight       = errors.New("fix already in flight")
)

type entry struct {
	lastFired time.Time
	inFlight  bool
}

// Ledger is the single authority on fix admission. Admit reserves the
// (rule, target) slot so concurrent detections for the same key cannot
// both dispatch; Finalize releases the reservation and advances
// lastFired regardless of fix outcome, so failed fixes are retried no
// faster than the cooldown allows.
type Ledger struct {
	mu      sync.RWMutex
	entries map[string]*entry
}

// New creates an empty Ledger.
func New() *Ledger {
	return &Ledger{entries: make(map[string]*entry)}
}

func key(rule, target string) string {
	return rule + "\x00" + target
}

// Admit decides whether a fix for (rule, target) may run now. On nil the
// slot is reserved and the caller must eventually call Finalize.
func (l *Ledger) Admit(rule, target string, cooldown time.Duration, now time.Time) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	e, ok := l.entries[key(rule, target)]
	if !ok {
		l.entries[key(rule, target)] = &entry{inFlight: true}
		return nil
	}
	if e.inFlight {
		return ErrInFlight
	}
	if now.Sub(e.lastFired) < cooldown {
		return ErrCooldownActive
	}
	e.inFlight = true
	return nil
}

// Finalize records the fire time for a previously admitted key and
// releases its reservation. firedAt is the detection timestamp.
func (l *Ledger) Finalize(rule, target string, firedAt time.Time) {
	l.mu.Lock()
	defer l.mu.Unlock()

	e, ok := l.entries[key(rule, target)]
	if !ok {
		return
	}
	e.inFlight = false
	if firedAt.After(e.lastFired) {
		e.lastFired = firedAt
	}
}

// LastFired returns when a fix last fired for (rule, target).
func (l *Ledger) LastFired(rule, target string) (time.Time, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	e, ok := l.entries[key(rule, target)]
	if !ok || e.lastFired.IsZero() {
		return time.Time{}, false
	}
	return e.lastFired, true
}
