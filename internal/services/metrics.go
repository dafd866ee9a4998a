package services

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Domain collectors. The artifact label is one of the four artifact types,
// so cardinality stays fixed.
var (
	enhancementsGranted = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "enhancements_granted_total",
			Help: "Enhancements granted by the quota gate.",
		},
		[]string{"artifact"},
	)

	enhancementsDenied = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "enhancements_denied_total",
			Help: "Enhancement requests denied because the quota was spent.",
		},
		[]string{"artifact"},
	)

	generationFailures = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "generation_failures_total",
			Help: "Completion provider failures by artifact.",
		},
		[]string{"artifact"},
	)

	generationDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "generation_duration_seconds",
			Help:    "Completion provider latency by artifact.",
			Buckets: []float64{0.25, 0.5, 1, 2, 4, 8, 15, 30, 60, 90},
		},
		[]string{"artifact"},
	)
)

func init() {
	prometheus.MustRegister(enhancementsGranted, enhancementsDenied, generationFailures, generationDuration)
}
