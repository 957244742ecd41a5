// Package telemetry holds the Prometheus metrics of a pipeline run.
package telemetry

import (
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the pipeline's Prometheus collectors.
type Metrics struct {
	StageDuration     *prometheus.HistogramVec
	GridsWritten      *prometheus.CounterVec
	CategoriesSkipped prometheus.Counter
	RunsTotal         *prometheus.CounterVec
	registry          *prometheus.Registry
}

// New registers the pipeline metrics on a fresh registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)
	return &Metrics{
		StageDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "spatialcompare_stage_duration_seconds",
			Help:    "Wall time of each pipeline stage",
			Buckets: prometheus.ExponentialBuckets(0.001, 4, 10),
		}, []string{"stage"}),
		GridsWritten: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "spatialcompare_grids_written_total",
			Help: "Grids persisted to the store, by output kind",
		}, []string{"kind"}),
		CategoriesSkipped: factory.NewCounter(prometheus.CounterOpts{
			Name: "spatialcompare_categories_skipped_total",
			Help: "Categories with no valid cells in the mean grid",
		}),
		RunsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "spatialcompare_runs_total",
			Help: "Pipeline runs by outcome",
		}, []string{"status"}),
		registry: reg,
	}
}

// Registry returns the registry the metrics are registered on.
func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

// ObserveStage records the duration of stage in seconds.
func (m *Metrics) ObserveStage(stage string, seconds float64) {
	m.StageDuration.WithLabelValues(stage).Observe(seconds)
}

// WroteGrid counts one persisted grid.
func (m *Metrics) WroteGrid(kind string) {
	m.GridsWritten.WithLabelValues(kind).Inc()
}

// WriteTextfile writes the current metric values in the text exposition
// format, for node_exporter's textfile collector.
func (m *Metrics) WriteTextfile(path string) error {
	if err := prometheus.WriteToTextfile(path, m.registry); err != nil {
		return fmt.Errorf("write metrics %s: %w", path, err)
	}
	return nil
}
