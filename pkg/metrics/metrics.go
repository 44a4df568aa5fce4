// Package metrics exposes Prometheus instrumentation for the risk engine.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// HTTP metrics
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "risk_http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "endpoint", "status_code"},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "risk_http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "endpoint"},
	)

	// Evaluation metrics
	EvaluationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "risk_evaluations_total",
			Help: "Total number of risk evaluations by outcome",
		},
		[]string{"decision", "risk_level"},
	)

	EvaluationDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "risk_evaluation_duration_seconds",
			Help:    "End-to-end risk evaluation duration in seconds",
			Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0},
		},
	)

	RuleTriggersTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "risk_rule_triggers_total",
			Help: "Total number of triggered risk rules",
		},
		[]string{"rule"},
	)

	VelocityBreachesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "risk_velocity_breaches_total",
			Help: "Total number of velocity limit breaches",
		},
		[]string{"limit_type"},
	)

	DetectorFailuresTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "risk_detector_failures_total",
			Help: "Detector failures that degraded an evaluation",
		},
		[]string{"detector"},
	)

	FailClosedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "risk_fail_closed_total",
			Help: "Evaluations forced into review by an internal failure",
		},
	)

	// Alerting metrics
	AlertsSentTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "risk_alerts_sent_total",
			Help: "Total number of alert notifications sent",
		},
		[]string{"channel", "status"},
	)

	// System metrics
	DatabaseQueryDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "risk_database_query_duration_seconds",
			Help:    "Database query duration in seconds",
			Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1.0, 5.0},
		},
		[]string{"operation", "table"},
	)

	BlocklistSizeGauge = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "risk_ip_blocklist_size",
			Help: "Number of entries in the loaded IP blocklist snapshot",
		},
	)
)

// RecordEvaluation records the outcome of one risk evaluation.
func RecordEvaluation(decision, riskLevel string, durationSeconds float64) {
	EvaluationsTotal.WithLabelValues(decision, riskLevel).Inc()
	EvaluationDuration.Observe(durationSeconds)
}

// RecordRuleTrigger records a single triggered rule.
func RecordRuleTrigger(rule string) {
	RuleTriggersTotal.WithLabelValues(rule).Inc()
}
