package pipeline

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	globalMetrics *Metrics
	metricsOnce   sync.Once
)

// Metrics holds Prometheus collectors for extraction runs.
type Metrics struct {
	StageDuration *prometheus.HistogramVec
	Entities      *prometheus.CounterVec
	Failures      *prometheus.CounterVec
}

// NewMetrics registers the pipeline collectors once with the default
// registry and returns them.
//
//   - roadmapd_pipeline_stage_duration_seconds{stage}
//   - roadmapd_pipeline_entities_total{entity_type}
//   - roadmapd_pipeline_failures_total{stage,code}
func NewMetrics() *Metrics {
	metricsOnce.Do(func() {
		globalMetrics = &Metrics{
			StageDuration: promauto.NewHistogramVec(
				prometheus.HistogramOpts{
					Namespace: "roadmapd",
					Subsystem: "pipeline",
					Name:      "stage_duration_seconds",
					Help:      "Duration of extraction pipeline stages in seconds",
					Buckets:   []float64{0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5, 15, 60, 120},
				},
				[]string{"stage"},
			),
			Entities: promauto.NewCounterVec(
				prometheus.CounterOpts{
					Namespace: "roadmapd",
					Subsystem: "pipeline",
					Name:      "entities_total",
					Help:      "Entities surviving deduplication and enrichment",
				},
				[]string{"entity_type"},
			),
			Failures: promauto.NewCounterVec(
				prometheus.CounterOpts{
					Namespace: "roadmapd",
					Subsystem: "pipeline",
					Name:      "failures_total",
					Help:      "Extraction batches that failed, by stage and code",
				},
				[]string{"stage", "code"},
			),
		}
	})
	return globalMetrics
}
