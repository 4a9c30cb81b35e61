// Package telemetry records pipeline metrics and trace spans.
package telemetry

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/ppiankov/medfuse/internal/model"
)

const namespace = "medfuse"

// Metrics holds the pipeline collectors on a dedicated registry
type Metrics struct {
	registry *prometheus.Registry

	// runsTotal counts finished runs.
	// Labels: status (ok, degraded, refused, failed)
	runsTotal *prometheus.CounterVec

	// stageDuration measures time spent in each pipeline state.
	// Labels: stage
	stageDuration *prometheus.HistogramVec

	// safetyFindings counts findings raised by the safety gate.
	// Labels: kind, severity
	safetyFindings *prometheus.CounterVec

	// claimVerdicts counts fact-check outcomes.
	// Labels: verdict
	claimVerdicts *prometheus.CounterVec

	// retries counts retried connector and generation calls.
	// Labels: stage
	retries *prometheus.CounterVec
}

// NewMetrics registers the pipeline collectors plus Go runtime and process
// collectors on a fresh registry
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	factory := promauto.With(reg)

	return &Metrics{
		registry: reg,
		runsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "runs_total",
			Help:      "Total pipeline runs by final status",
		}, []string{"status"}),
		stageDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "stage_duration_seconds",
			Help:      "Time spent in each pipeline stage in seconds",
			Buckets:   []float64{0.001, 0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60, 180},
		}, []string{"stage"}),
		safetyFindings: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "safety_findings_total",
			Help:      "Total safety findings by kind and severity",
		}, []string{"kind", "severity"}),
		claimVerdicts: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "claim_verdicts_total",
			Help:      "Total fact-checked claims by verdict",
		}, []string{"verdict"}),
		retries: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "retries_total",
			Help:      "Total retried calls by stage",
		}, []string{"stage"}),
	}
}

// Registry exposes the registry for HTTP handlers and textfile export
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// ObserveStage records time spent in a stage
func (m *Metrics) ObserveStage(stage string, d time.Duration) {
	if m == nil {
		return
	}
	m.stageDuration.WithLabelValues(stage).Observe(d.Seconds())
}

// IncRetry counts one retried call
func (m *Metrics) IncRetry(stage string) {
	if m == nil {
		return
	}
	m.retries.WithLabelValues(stage).Inc()
}

// RecordResult counts the run status, its findings and its claim verdicts
func (m *Metrics) RecordResult(res *model.PipelineResult) {
	if m == nil || res == nil {
		return
	}
	m.runsTotal.WithLabelValues(string(res.Status)).Inc()
	for _, f := range res.Findings {
		m.safetyFindings.WithLabelValues(string(f.Kind), string(f.Severity)).Inc()
	}
	for verdict, n := range res.CountVerdicts() {
		m.claimVerdicts.WithLabelValues(string(verdict)).Add(float64(n))
	}
}

// WriteTextfile writes all metrics in the node_exporter textfile format
func (m *Metrics) WriteTextfile(path string) error {
	return prometheus.WriteToTextfile(path, m.registry)
}
