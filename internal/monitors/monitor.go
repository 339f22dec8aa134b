// Package monitors defines the monitor capability and the reference
// probes shipped with the agent.
package monitors

import (
	"context"
	"time"

	"github.com/fentz26/murmur/internal/models"
)

// Monitor periodically samples one aspect of system state. Sample must
// return promptly, must not apply fixes, and must not panic: a probe
// that cannot sample reports a single probe_error observation instead.
type Monitor interface {
	// Name returns the monitor identifier used as Observation.Source.
	Name() string

	// Interval returns the configured sampling interval.
	Interval() time.Duration

	// Sample probes the system once and reports zero or more observations.
	Sample(ctx context.Context) []models.Observation
}

// probeError builds the standard probe_error observation.
func probeError(source, target string, err error) models.Observation {
	return models.Observation{
		Source:    source,
		Kind:      models.KindProbeError,
		Target:    target,
		Detail:    err.Error(),
		Timestamp: time.Now().UTC(),
	}
}
