// Package metrics exposes the agent's Prometheus collectors.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/fentz26/murmur/internal/models"
)

var (
	observationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "murmur",
			Name:      "observations_total",
			Help:      "Total observations sampled, partitioned by monitor.",
		},
		[]string{"monitor"},
	)

	detectionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "murmur",
			Name:      "detections_total",
			Help:      "Total rule detections emitted, partitioned by rule.",
		},
		[]string{"rule"},
	)

	fixesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "murmur",
			Name:      "fixes_total",
			Help:      "Total fix attempts, partitioned by fixer and result.",
		},
		[]string{"fixer", "result"},
	)

	suppressedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "murmur",
			Name:      "suppressed_total",
			Help:      "Detections suppressed by the cooldown ledger, partitioned by rule.",
		},
		[]string{"rule"},
	)
)

// Register attaches the murmur collectors to the supplied registerer.
func Register(reg prometheus.Registerer) error {
	collectors := []prometheus.Collector{
		observationsTotal,
		detectionsTotal,
		fixesTotal,
		suppressedTotal,
	}

	for _, collector := range collectors {
		if err := reg.Register(collector); err != nil {
			if _, ok := err.(prometheus.AlreadyRegisteredError); ok {
				continue
			}
			return err
		}
	}
	return nil
}

// ObserveSample counts sampled observations for a monitor.
func ObserveSample(monitor string, count int) {
	observationsTotal.WithLabelValues(monitor).Add(float64(count))
}

// ObserveDetection counts one emitted detection.
func ObserveDetection(rule string) {
	detectionsTotal.WithLabelValues(rule).Inc()
}

// ObserveFix counts one completed fix attempt.
func ObserveFix(fixer string, result models.FixResult) {
	fixesTotal.WithLabelValues(fixer, string(result)).Inc()
}

// ObserveSuppressed counts one cooldown suppression.
func ObserveSuppressed(rule string) {
	suppressedTotal.WithLabelValues(rule).Inc()
}
