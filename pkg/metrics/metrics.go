// Package metrics provides Prometheus metrics instrumentation.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// BatchesTotal tracks mediation outcomes per tenant.
	BatchesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mediator_batches_total",
			Help: "Mediation cycles by outcome",
		},
		[]string{"tenant_id", "outcome"},
	)

	// BatchSize tracks how many inbound messages collapse into one AI turn.
	BatchSize = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "mediator_batch_size",
			Help:    "Inbound messages merged per AI turn",
			Buckets: []float64{1, 2, 3, 5, 8, 13, 21},
		},
		[]string{"tenant_id"},
	)

	// EligibleUsers tracks users selected per sweep.
	EligibleUsers = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "mediator_eligible_users",
			Help: "Users eligible in the last sweep",
		},
		[]string{"tenant_id"},
	)

	// RunDuration tracks AI run lifecycle duration.
	RunDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "assistant_run_duration_seconds",
			Help:    "AI run duration from submit to terminal state",
			Buckets: []float64{1, 2, 5, 10, 20, 30, 45, 60, 120, 300},
		},
		[]string{"responder", "status"},
	)

	// ToolCallsTotal tracks assistant tool-call dispatches.
	ToolCallsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "assistant_tool_calls_total",
			Help: "Assistant tool calls dispatched",
		},
		[]string{"function", "status"},
	)

	// DeliveriesTotal tracks outbound platform sends.
	DeliveriesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "delivery_messages_total",
			Help: "Outbound platform messages by result",
		},
		[]string{"platform", "status"},
	)

	// RecoveredTotal tracks conversations re-armed by the recovery sweep.
	RecoveredTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "recovery_conversations_total",
			Help: "Conversations recovered from failed status",
		},
		[]string{"tenant_id"},
	)

	// LeasesReclaimed tracks expired processing leases taken back.
	LeasesReclaimed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "recovery_leases_reclaimed_total",
			Help: "Expired processing leases reclaimed",
		},
		[]string{"tenant_id"},
	)

	// WebhookEventsTotal tracks normalized inbound webhook events.
	WebhookEventsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "webhook_events_total",
			Help: "Inbound webhook events by result",
		},
		[]string{"platform", "result"},
	)

	// HTTPRequestsTotal tracks API requests.
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "HTTP requests processed",
		},
		[]string{"method", "path", "status"},
	)

	// HTTPRequestDuration tracks API request latency.
	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request duration",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)

	// SweepDuration tracks full multi-tenant sweep duration.
	SweepDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "scheduler_sweep_duration_seconds",
			Help:    "Scheduled job duration",
			Buckets: []float64{.1, .5, 1, 5, 15, 30, 60, 120, 300},
		},
		[]string{"job"},
	)
)

// RecordBatch records one mediation outcome.
func RecordBatch(tenantID, outcome string, size int) {
	BatchesTotal.WithLabelValues(tenantID, outcome).Inc()
	if size > 0 {
		BatchSize.WithLabelValues(tenantID).Observe(float64(size))
	}
}

// RecordDelivery records an outbound send attempt.
func RecordDelivery(platform, status string) {
	DeliveriesTotal.WithLabelValues(platform, status).Inc()
}

// RecordRequest records a completed HTTP request.
func RecordRequest(method, path, status string, seconds float64) {
	HTTPRequestsTotal.WithLabelValues(method, path, status).Inc()
	HTTPRequestDuration.WithLabelValues(method, path).Observe(seconds)
}

// RecordRun records a finished AI run.
func RecordRun(responder, status string, seconds float64) {
	RunDuration.WithLabelValues(responder, status).Observe(seconds)
}
