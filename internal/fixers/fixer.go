// Package fixers defines the fixer capability and the reference
// corrective actions shipped with the agent.
package fixers

import (
	"context"
	"fmt"
	"sort"
	"sync"
)

// Fixer applies one corrective action. Apply must be safe to invoke
// repeatedly: the cooldown ledger, not exactly-once delivery, is the
// deduplication mechanism. Apply must honor ctx cancellation; a fixer
// that outlives its deadline is reported as failed and not awaited.
type Fixer interface {
	// Name returns the fixer identifier rules bind to.
	Name() string

	// Apply performs the corrective action for the given target.
	Apply(ctx context.Context, target string) error
}

// Registry manages the registered fixers, resolved once at startup.
type Registry struct {
	mu     sync.RWMutex
	fixers map[string]Fixer
}

// NewRegistry creates an empty fixer registry.
func NewRegistry() *Registry {
	return &Registry{fixers: make(map[string]Fixer)}
}

// Register adds a fixer to the registry.
func (r *Registry) Register(f Fixer) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if f.Name() == "" {
		return fmt.Errorf("fixer name cannot be empty")
	}
	if _, ok := r.fixers[f.Name()]; ok {
		return fmt.Errorf("fixer %q already registered", f.Name())
	}
	r.fixers[f.Name()] = f
	return nil
}

// Get retrieves a fixer by name.
func (r *Registry) Get(name string) (Fixer, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	f, ok := r.fixers[name]
	return f, ok
}

// Names returns the registered fixer names, sorted.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.fixers))
	for name := range r.fixers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Count returns the number of registered fixers.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.fixers)
}
