// Package metrics registers the Prometheus instruments for the engine
// service. One Metrics value is created at startup and handed to the HTTP
// layer; promauto registers everything on the default registry, which the
// /metrics endpoint serves.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics for the engine service.
type Metrics struct {
	// HTTP metrics
	RequestTotal    *prometheus.CounterVec
	RequestDuration *prometheus.HistogramVec

	// Engine operation metrics
	OperationTotal  *prometheus.CounterVec
	OperationErrors *prometheus.CounterVec

	// Domain gauges and counters
	AgentsMinted     prometheus.Counter
	ListingsActive   prometheus.Gauge
	UpgradesByStatus *prometheus.CounterVec
	ActionsExecuted  prometheus.Counter
	RateLimitHits    *prometheus.CounterVec
	StakeHeld        prometheus.Gauge
}

// NewMetrics creates and registers all Prometheus metrics.
func NewMetrics() *Metrics {
	return &Metrics{
		RequestTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "stellai_http_requests_total",
				Help: "Total number of HTTP requests handled",
			},
			[]string{"method", "path", "status"},
		),

		RequestDuration: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "stellai_http_request_duration_seconds",
				Help:    "Duration of HTTP request handling",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "path"},
		),

		OperationTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "stellai_engine_operations_total",
				Help: "Total number of engine operations attempted",
			},
			[]string{"engine", "operation"},
		),

		OperationErrors: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "stellai_engine_operation_errors_total",
				Help: "Total number of engine operations that failed, by error code",
			},
			[]string{"engine", "operation", "code"},
		),

		AgentsMinted: promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "stellai_agents_minted_total",
				Help: "Total number of agent records minted",
			},
		),

		ListingsActive: promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "stellai_listings_active",
				Help: "Number of currently open listings",
			},
		),

		UpgradesByStatus: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "stellai_upgrades_total",
				Help: "Total number of upgrade requests by terminal status",
			},
			[]string{"status"}, // status: requested, completed, failed
		),

		ActionsExecuted: promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "stellai_actions_executed_total",
				Help: "Total number of actions accepted by the execution hub",
			},
		),

		RateLimitHits: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "stellai_rate_limit_hits_total",
				Help: "Total number of actions rejected by the rate limiter",
			},
			[]string{"agent_id"},
		),

		StakeHeld: promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "stellai_stake_held",
				Help: "Stake currently held in the evolution vault",
			},
		),
	}
}

// RecordRequest records one handled HTTP request.
func (m *Metrics) RecordRequest(method, path, status string, duration float64) {
	m.RequestTotal.WithLabelValues(method, path, status).Inc()
	m.RequestDuration.WithLabelValues(method, path).Observe(duration)
}

// RecordOperation records an engine operation attempt and its outcome.
func (m *Metrics) RecordOperation(engine, operation, errCode string) {
	m.OperationTotal.WithLabelValues(engine, operation).Inc()
	if errCode != "" {
		m.OperationErrors.WithLabelValues(engine, operation, errCode).Inc()
	}
}
