package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// MetricsIngested counts performance samples accepted per model
var MetricsIngested = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "mlmonitor_metrics_ingested_total",
		Help: "Total number of performance metrics ingested",
	},
	[]string{"model"},
)

// IngestFailures counts samples that could not be persisted
var IngestFailures = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "mlmonitor_ingest_failures_total",
		Help: "Total number of performance metrics lost to storage failures",
	},
	[]string{"model"},
)

// AlertsFired counts alert firings by severity
var AlertsFired = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "mlmonitor_alerts_fired_total",
		Help: "Total number of alerts fired",
	},
	[]string{"severity"},
)

// DriftChecks counts drift analyses by type and verdict
var DriftChecks = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "mlmonitor_drift_checks_total",
		Help: "Total number of drift analyses run",
	},
	[]string{"model", "drift_type", "detected"},
)

// AnalysisDuration records latency of statistical analysis jobs
var AnalysisDuration = prometheus.NewHistogramVec(
	prometheus.HistogramOpts{
		Name:    "mlmonitor_analysis_duration_seconds",
		Help:    "Latency in seconds of trend, drift and significance analyses",
		Buckets: prometheus.DefBuckets,
	},
	[]string{"analysis"},
)

func init() {
	prometheus.MustRegister(MetricsIngested, IngestFailures, AlertsFired)
	prometheus.MustRegister(DriftChecks, AnalysisDuration)
}
