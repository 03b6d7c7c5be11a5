// Package observability provides Prometheus metrics for monitoring.
package observability

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics for the application.
type Metrics struct {
	// Claim metrics
	ClaimsTotal      *prometheus.CounterVec
	ClaimDuration    prometheus.Histogram
	TokensDisbursed  prometheus.Counter
	LamportsReceived prometheus.Counter
	AccountsCreated  prometheus.Counter
	InFlightClaims   prometheus.Gauge
	RateLimitedTotal prometheus.Counter

	// Transfer metrics
	TransfersSubmitted  prometheus.Counter
	TransferOutcomes    *prometheus.CounterVec
	ConfirmationLatency prometheus.Histogram
	ReconcileResults    *prometheus.CounterVec
	OpenReservations    prometheus.Gauge

	// Latency metrics
	RPCCallLatency   *prometheus.HistogramVec
	RPCCallErrors    *prometheus.CounterVec
	WSMessageLatency prometheus.Histogram

	// Database metrics
	DBQueryDuration *prometheus.HistogramVec
	DBQueryErrors   *prometheus.CounterVec

	// Health metrics
	LastSuccessfulDisbursement prometheus.Gauge
	LastReconcileRun           prometheus.Gauge
}

// NewMetrics creates a new Metrics instance with all metrics registered.
func NewMetrics(namespace string) *Metrics {
	return NewMetricsWith(prometheus.DefaultRegisterer, namespace)
}

// NewMetricsWith registers metrics on reg. Tests pass a fresh registry.
func NewMetricsWith(reg prometheus.Registerer, namespace string) *Metrics {
	if namespace == "" {
		namespace = "woofai_presale"
	}
	f := promauto.With(reg)

	return &Metrics{
		// Claim metrics
		ClaimsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "claims",
			Name:      "processed_total",
			Help:      "Total number of claims processed by outcome code",
		}, []string{"outcome"}),
		ClaimDuration: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "claims",
			Name:      "duration_seconds",
			Help:      "End-to-end claim processing duration in seconds",
			Buckets:   []float64{0.1, 0.5, 1, 2, 5, 10, 20, 40, 60, 90},
		}),
		TokensDisbursed: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "claims",
			Name:      "tokens_disbursed_total",
			Help:      "Total tokens disbursed in smallest units",
		}),
		LamportsReceived: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "claims",
			Name:      "lamports_received_total",
			Help:      "Total lamports of payments that were disbursed against",
		}),
		AccountsCreated: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "claims",
			Name:      "token_accounts_created_total",
			Help:      "Total number of buyer token accounts created",
		}),
		InFlightClaims: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "claims",
			Name:      "in_flight",
			Help:      "Number of claims currently being processed",
		}),
		RateLimitedTotal: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "rate_limited_total",
			Help:      "Total number of requests rejected by the rate limiter",
		}),

		// Transfer metrics
		TransfersSubmitted: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "transfers",
			Name:      "submitted_total",
			Help:      "Total number of token transfers submitted",
		}),
		TransferOutcomes: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "transfers",
			Name:      "outcomes_total",
			Help:      "Total number of transfer outcomes by result",
		}, []string{"result"}),
		ConfirmationLatency: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "transfers",
			Name:      "confirmation_latency_seconds",
			Help:      "Time from submission to confirmation in seconds",
			Buckets:   []float64{0.5, 1, 2, 5, 10, 20, 30, 60, 90},
		}),
		ReconcileResults: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "reconcile",
			Name:      "results_total",
			Help:      "Total number of reconciled reservations by result",
		}, []string{"result"}),
		OpenReservations: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "reconcile",
			Name:      "open_reservations",
			Help:      "Number of reservations awaiting a final outcome",
		}),

		// Latency metrics
		RPCCallLatency: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "solana",
			Name:      "rpc_call_latency_seconds",
			Help:      "Solana RPC call latency in seconds",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method"}),
		RPCCallErrors: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "solana",
			Name:      "rpc_call_errors_total",
			Help:      "Total number of failed Solana RPC calls",
		}, []string{"method"}),
		WSMessageLatency: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "solana",
			Name:      "ws_message_latency_seconds",
			Help:      "WebSocket message processing latency in seconds",
			Buckets:   prometheus.DefBuckets,
		}),

		// Database metrics
		DBQueryDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "database",
			Name:      "query_duration_seconds",
			Help:      "Database query duration in seconds",
			Buckets:   prometheus.DefBuckets,
		}, []string{"database", "operation"}),
		DBQueryErrors: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "database",
			Name:      "query_errors_total",
			Help:      "Total number of database query errors",
		}, []string{"database", "operation"}),

		// Health metrics
		LastSuccessfulDisbursement: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "health",
			Name:      "last_successful_disbursement_timestamp",
			Help:      "Unix timestamp of last successful disbursement",
		}),
		LastReconcileRun: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "health",
			Name:      "last_reconcile_run_timestamp",
			Help:      "Unix timestamp of last reconcile pass",
		}),
	}
}

// Handler returns an HTTP handler for the /metrics endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}

// DefaultMetrics is the default metrics instance.
var DefaultMetrics = NewMetrics("")

// RecordClaim records a processed claim by outcome code.
func RecordClaim(outcome string, seconds float64) {
	DefaultMetrics.ClaimsTotal.WithLabelValues(outcome).Inc()
	DefaultMetrics.ClaimDuration.Observe(seconds)
}

// RecordDisbursement records a settled disbursement.
func RecordDisbursement(tokens, lamports uint64, unixSeconds int64) {
	DefaultMetrics.TokensDisbursed.Add(float64(tokens))
	DefaultMetrics.LamportsReceived.Add(float64(lamports))
	DefaultMetrics.LastSuccessfulDisbursement.Set(float64(unixSeconds))
}

// RecordAccountCreated increments the created token accounts counter.
func RecordAccountCreated() {
	DefaultMetrics.AccountsCreated.Inc()
}

// ClaimStarted increments the in-flight gauge and returns a func that decrements it.
func ClaimStarted() func() {
	DefaultMetrics.InFlightClaims.Inc()
	return DefaultMetrics.InFlightClaims.Dec
}

// RecordRateLimited increments the rate limited counter.
func RecordRateLimited() {
	DefaultMetrics.RateLimitedTotal.Inc()
}

// RecordTransferSubmitted increments the submitted transfers counter.
func RecordTransferSubmitted() {
	DefaultMetrics.TransfersSubmitted.Inc()
}

// RecordTransferOutcome records a transfer result ("confirmed", "failed", "expired", "ambiguous").
func RecordTransferOutcome(result string, confirmSeconds float64) {
	DefaultMetrics.TransferOutcomes.WithLabelValues(result).Inc()
	if result == "confirmed" {
		DefaultMetrics.ConfirmationLatency.Observe(confirmSeconds)
	}
}

// RecordReconcile records a reconcile pass.
func RecordReconcile(results map[string]int, open int, unixSeconds int64) {
	for result, n := range results {
		DefaultMetrics.ReconcileResults.WithLabelValues(result).Add(float64(n))
	}
	DefaultMetrics.OpenReservations.Set(float64(open))
	DefaultMetrics.LastReconcileRun.Set(float64(unixSeconds))
}

// RecordRPCLatency records RPC call latency.
func RecordRPCLatency(method string, seconds float64, err error) {
	DefaultMetrics.RPCCallLatency.WithLabelValues(method).Observe(seconds)
	if err != nil {
		DefaultMetrics.RPCCallErrors.WithLabelValues(method).Inc()
	}
}

// RecordWSMessage records websocket message handling latency.
func RecordWSMessage(seconds float64) {
	DefaultMetrics.WSMessageLatency.Observe(seconds)
}

// RecordDBQuery records database query metrics.
func RecordDBQuery(database, operation string, seconds float64, err error) {
	DefaultMetrics.DBQueryDuration.WithLabelValues(database, operation).Observe(seconds)
	if err != nil {
		DefaultMetrics.DBQueryErrors.WithLabelValues(database, operation).Inc()
	}
}
