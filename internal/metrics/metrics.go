// Package metrics exposes the engine's Prometheus instrumentation.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all the Prometheus metrics for the classification engine
type Metrics struct {
	FilesProcessedTotal prometheus.Counter
	FilesFailedTotal    prometheus.Counter
	FilesSkippedTotal   prometheus.Counter
	CheckpointErrors    prometheus.Counter
	AggregateConfidence prometheus.Histogram
}

// NewMetrics creates a new Metrics instance registered with the default
// registry
func NewMetrics() *Metrics {
	return &Metrics{
		FilesProcessedTotal: promauto.NewCounter(prometheus.CounterOpts{
			Name: "flowatlas_files_processed_total",
			Help: "Total number of input files processed",
		}),
		FilesFailedTotal: promauto.NewCounter(prometheus.CounterOpts{
			Name: "flowatlas_files_failed_total",
			Help: "Total number of input files that failed processing",
		}),
		FilesSkippedTotal: promauto.NewCounter(prometheus.CounterOpts{
			Name: "flowatlas_files_skipped_total",
			Help: "Total number of duplicate input files skipped",
		}),
		CheckpointErrors: promauto.NewCounter(prometheus.CounterOpts{
			Name: "flowatlas_checkpoint_errors_total",
			Help: "Total number of failed checkpoint writes",
		}),
		AggregateConfidence: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "flowatlas_aggregate_confidence",
			Help:    "Distribution of aggregate classification confidence",
			Buckets: prometheus.LinearBuckets(0, 0.1, 11),
		}),
	}
}
