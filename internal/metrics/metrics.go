package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Pipeline holds the ETL instruments. A nil *Pipeline is valid and records nothing.
type Pipeline struct {
	registry      *prometheus.Registry
	stageDuration *prometheus.HistogramVec
	stageRows     *prometheus.GaugeVec
	stageErrors   *prometheus.CounterVec
	runs          *prometheus.CounterVec
	checkFailures *prometheus.CounterVec
	ingestedRows  prometheus.Counter
}

// New registers the pipeline instruments on a dedicated registry.
func New() *Pipeline {
	registry := prometheus.NewRegistry()
	p := &Pipeline{
		registry: registry,
		stageDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "retailetl_stage_duration_seconds",
			Help:    "Duration of each refresh stage.",
			Buckets: []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60, 120, 300},
		}, []string{"stage"}),
		stageRows: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "retailetl_stage_rows",
			Help: "Rows written by the last execution of each stage.",
		}, []string{"stage"}),
		stageErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "retailetl_stage_errors_total",
			Help: "Stage executions that returned an error.",
		}, []string{"stage"}),
		runs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "retailetl_runs_total",
			Help: "Pipeline runs by type and terminal status.",
		}, []string{"run_type", "status"}),
		checkFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "retailetl_quality_check_failures_total",
			Help: "Failed quality checks by check and severity.",
		}, []string{"check", "severity"}),
		ingestedRows: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "retailetl_ingested_rows_total",
			Help: "Raw rows loaded by the ingest boundary.",
		}),
	}
	registry.MustRegister(
		p.stageDuration,
		p.stageRows,
		p.stageErrors,
		p.runs,
		p.checkFailures,
		p.ingestedRows,
	)
	return p
}

// ObserveStage records a completed stage.
func (p *Pipeline) ObserveStage(stage string, rows int, d time.Duration) {
	if p == nil {
		return
	}
	p.stageDuration.WithLabelValues(stage).Observe(d.Seconds())
	p.stageRows.WithLabelValues(stage).Set(float64(rows))
}

// StageFailed counts a stage error.
func (p *Pipeline) StageFailed(stage string) {
	if p == nil {
		return
	}
	p.stageErrors.WithLabelValues(stage).Inc()
}

// RunFinished counts a run by its terminal status.
func (p *Pipeline) RunFinished(runType, status string) {
	if p == nil {
		return
	}
	p.runs.WithLabelValues(runType, status).Inc()
}

// CheckFailed counts a failed quality check.
func (p *Pipeline) CheckFailed(check, severity string) {
	if p == nil {
		return
	}
	p.checkFailures.WithLabelValues(check, severity).Inc()
}

// Ingested counts loaded raw rows.
func (p *Pipeline) Ingested(rows int) {
	if p == nil {
		return
	}
	p.ingestedRows.Add(float64(rows))
}

// Handler serves the registry in the Prometheus exposition format.
func (p *Pipeline) Handler() http.Handler {
	if p == nil {
		return promhttp.HandlerFor(prometheus.NewRegistry(), promhttp.HandlerOpts{})
	}
	return promhttp.HandlerFor(p.registry, promhttp.HandlerOpts{})
}
