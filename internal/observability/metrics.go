// Package observability wires Prometheus metrics and OpenTelemetry tracing
// for the tool operation lifecycle engine behind a single centralized
// Metrics/Tracer pair.
package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics centralizes the engine's Prometheus instrumentation: operations
// started per tool, approval actions classified, items executed by the
// schedule executor, executor tick latency, and stale-claim reclaims.
//
// Usage:
//
//	metrics := observability.NewMetrics()
//	metrics.OperationStarted("tweet")
//	defer metrics.SchedulerTick("due_time").Observe(time.Since(start).Seconds())
type Metrics struct {
	// OperationsStarted counts operations started by tool_type.
	OperationsStarted *prometheus.CounterVec

	// OperationsEnded counts operations reaching a terminal status or being
	// handed to the schedule executor (status scheduled).
	// Labels: tool_type, status (executed|scheduled|rejected|failed)
	OperationsEnded *prometheus.CounterVec

	// ApprovalActionsClassified counts classifier outcomes.
	// Labels: action (FULL_APPROVAL|PARTIAL_APPROVAL|REGENERATE_ALL|CANCEL|AWAIT_INPUT|ERROR)
	ApprovalActionsClassified *prometheus.CounterVec

	// RegenerationRounds observes how many regeneration rounds an
	// operation went through before leaving APPROVING.
	RegenerationRounds prometheus.Histogram

	// ItemsExecuted counts items the schedule executor ran to completion.
	// Labels: content_type, outcome (success|failure)
	ItemsExecuted *prometheus.CounterVec

	// SchedulerTickDuration measures executor sweep latency.
	// Labels: sweep (due_time|monitor|reclaim)
	SchedulerTickDuration *prometheus.HistogramVec

	// ClaimsReclaimed counts stale claims the executor took back.
	ClaimsReclaimed prometheus.Counter

	// StorageErrors counts store-layer failures by operation.
	StorageErrors *prometheus.CounterVec
}

// NewMetrics creates and registers all Prometheus metrics. Call once at
// process startup.
func NewMetrics() *Metrics {
	return &Metrics{
		OperationsStarted: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "toolops_operations_started_total",
				Help: "Total number of tool operations started, by tool_type",
			},
			[]string{"tool_type"},
		),
		OperationsEnded: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "toolops_operations_ended_total",
				Help: "Total number of tool operations reaching a terminal status",
			},
			[]string{"tool_type", "status"},
		),
		ApprovalActionsClassified: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "toolops_approval_actions_total",
				Help: "Total number of approval-reply classifications by action",
			},
			[]string{"action"},
		),
		RegenerationRounds: promauto.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "toolops_regeneration_rounds",
				Help:    "Number of regeneration rounds an operation took before leaving APPROVING",
				Buckets: []float64{0, 1, 2, 3, 4, 5},
			},
		),
		ItemsExecuted: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "toolops_items_executed_total",
				Help: "Total number of items the schedule executor ran, by content_type and outcome",
			},
			[]string{"content_type", "outcome"},
		),
		SchedulerTickDuration: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "toolops_scheduler_tick_duration_seconds",
				Help:    "Duration of one executor sweep",
				Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5},
			},
			[]string{"sweep"},
		),
		ClaimsReclaimed: promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "toolops_claims_reclaimed_total",
				Help: "Total number of stale item claims reclaimed",
			},
		),
		StorageErrors: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "toolops_storage_errors_total",
				Help: "Total number of store-layer errors by operation",
			},
			[]string{"operation"},
		),
	}
}

// OperationStarted increments the started counter for tool_type.
func (m *Metrics) OperationStarted(toolType string) {
	m.OperationsStarted.WithLabelValues(toolType).Inc()
}

// OperationEnded increments the ended counter for tool_type and status.
func (m *Metrics) OperationEnded(toolType, status string) {
	m.OperationsEnded.WithLabelValues(toolType, status).Inc()
}

// ApprovalClassified records one classifier outcome.
func (m *Metrics) ApprovalClassified(action string) {
	m.ApprovalActionsClassified.WithLabelValues(action).Inc()
}

// ItemExecuted records one executor-driven item completion.
func (m *Metrics) ItemExecuted(contentType, outcome string) {
	m.ItemsExecuted.WithLabelValues(contentType, outcome).Inc()
}

// SchedulerTick returns the observer for one named sweep's duration.
func (m *Metrics) SchedulerTick(sweep string) prometheus.Observer {
	return m.SchedulerTickDuration.WithLabelValues(sweep)
}

// ClaimReclaimedBy increments the stale-claim reclaim counter by count.
func (m *Metrics) ClaimReclaimedBy(count int) {
	if count <= 0 {
		return
	}
	m.ClaimsReclaimed.Add(float64(count))
}

// StorageError records a store-layer failure for operation.
func (m *Metrics) StorageError(operation string) {
	m.StorageErrors.WithLabelValues(operation).Inc()
}
