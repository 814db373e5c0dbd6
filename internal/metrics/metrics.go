// Package metrics exposes ingestion and validation counters to Prometheus.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/tracelens/backend/internal/models"
)

// Metrics holds every collector the service reports.
type Metrics struct {
	registry *prometheus.Registry

	LinesIngested      *prometheus.CounterVec
	Ingestions         *prometheus.CounterVec
	IngestDuration     prometheus.Histogram
	Validations        *prometheus.CounterVec
	ValidationFindings *prometheus.CounterVec
	ActiveSessions     prometheus.Gauge
}

// New creates the collectors and registers them on a private registry
// together with the Go runtime collectors.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),

		LinesIngested: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "tracelens",
				Subsystem: "ingest",
				Name:      "lines_total",
				Help:      "Log lines ingested, by severity",
			},
			[]string{"severity"},
		),
		Ingestions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "tracelens",
				Subsystem: "ingest",
				Name:      "runs_total",
				Help:      "Ingestion passes, by decoder and outcome",
			},
			[]string{"decoder", "status"},
		),
		IngestDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: "tracelens",
				Subsystem: "ingest",
				Name:      "duration_seconds",
				Help:      "Duration of one ingestion pass",
				Buckets:   prometheus.ExponentialBuckets(0.01, 2, 14),
			},
		),
		Validations: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "tracelens",
				Subsystem: "validate",
				Name:      "runs_total",
				Help:      "Validation passes, by outcome",
			},
			[]string{"status"},
		),
		ValidationFindings: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "tracelens",
				Subsystem: "validate",
				Name:      "findings_total",
				Help:      "Validation findings, by kind",
			},
			[]string{"kind"},
		),
		ActiveSessions: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: "tracelens",
				Name:      "sessions_active",
				Help:      "Parse sessions currently held in memory",
			},
		),
	}

	m.registry.MustRegister(
		m.LinesIngested,
		m.Ingestions,
		m.IngestDuration,
		m.Validations,
		m.ValidationFindings,
		m.ActiveSessions,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// Registry returns the underlying Prometheus registry.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// ObserveIngest records a finished ingestion pass. summary may be nil when
// the pass failed before producing a table.
func (m *Metrics) ObserveIngest(decoder, status string, elapsed time.Duration, summary *models.Summary) {
	if m == nil {
		return
	}
	m.Ingestions.WithLabelValues(decoder, status).Inc()
	m.IngestDuration.Observe(elapsed.Seconds())
	if summary == nil {
		return
	}
	for sev, n := range summary.Severity {
		m.LinesIngested.WithLabelValues(sev.String()).Add(float64(n))
	}
}

// ObserveValidation records a validation pass.
func (m *Metrics) ObserveValidation(report *models.ValidationReport, err error) {
	if m == nil {
		return
	}
	if err != nil {
		m.Validations.WithLabelValues("cancelled").Inc()
		return
	}
	m.Validations.WithLabelValues("ok").Inc()
	m.ValidationFindings.WithLabelValues("inconsistent_exit").Add(float64(len(report.InconsistentExitLines)))
	m.ValidationFindings.WithLabelValues("unmatched_construct").Add(float64(len(report.UnmatchedConstructs)))
}
