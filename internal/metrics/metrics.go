package metrics

import (
	"net/http"
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// HTTP request metrics
	httpRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "merchantops_http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "endpoint", "status"},
	)

	httpRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "merchantops_http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "endpoint"},
	)

	approvalDecisions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "merchantops_approval_decisions_total",
			Help: "Approval decisions by action type and outcome (approved, rejected, conflict, forbidden)",
		},
		[]string{"action_type", "outcome"},
	)

	executions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "merchantops_executions_total",
			Help: "Execution attempts by action type and result (success, failed, replayed, in_progress)",
		},
		[]string{"action_type", "result"},
	)

	executionDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "merchantops_execution_duration_seconds",
			Help:    "Handler execution duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"action_type"},
	)

	walletDebits = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "merchantops_wallet_debits_total",
			Help: "Guarded wallet debits by reference type and result (ok, insufficient_funds)",
		},
		[]string{"reference_type", "result"},
	)

	stuckExecutions = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "merchantops_stuck_executions",
			Help: "Executions RUNNING longer than the configured threshold at the last scan",
		},
	)

	ledgerMismatches = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "merchantops_ledger_reconcile_mismatches_total",
			Help: "Reconciliations where the ledger sum differed from the wallet balance",
		},
	)
)

// RecordHTTPRequest records an HTTP request
func RecordHTTPRequest(method, endpoint string, statusCode int, durationSeconds float64) {
	status := strconv.Itoa(statusCode/100) + "xx"
	if statusCode < 100 {
		status = "unknown"
	}
	httpRequestsTotal.WithLabelValues(method, endpoint, status).Inc()
	httpRequestDuration.WithLabelValues(method, endpoint).Observe(durationSeconds)
}

func RecordDecision(actionType, outcome string) {
	approvalDecisions.WithLabelValues(actionType, outcome).Inc()
}

func RecordExecution(actionType, result string) {
	executions.WithLabelValues(actionType, result).Inc()
}

func ObserveExecutionDuration(actionType string, seconds float64) {
	executionDuration.WithLabelValues(actionType).Observe(seconds)
}

func RecordDebit(referenceType, result string) {
	walletDebits.WithLabelValues(referenceType, result).Inc()
}

func SetStuckExecutions(n int) {
	stuckExecutions.Set(float64(n))
}

func RecordLedgerMismatch() {
	ledgerMismatches.Inc()
}

// Handler returns the Prometheus metrics HTTP handler
func Handler() http.Handler {
	return promhttp.Handler()
}
