// Package metrics exposes the incident pipeline's Prometheus metrics:
// signal throughput, remediation action outcomes, model backend latency,
// and the per-stage timings the Orchestrator emits.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// AlarmsProcessedTotal counts every alarm the Correlator has merged
	// into a CorrelatedEvent.
	AlarmsProcessedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "alarms_processed_total",
		Help: "Total number of alarms merged into correlated events.",
	})

	// SignalsDedupedTotal counts raw signals dropped by the Correlator's
	// (resource, kind, timestamp-bucket) deduplication, by signal kind.
	SignalsDedupedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "signals_deduped_total",
		Help: "Total number of duplicate signals dropped during correlation, by kind.",
	}, []string{"kind"})

	// ActionsExecutedTotal counts remediation actions dispatched by the SOP Executor.
	ActionsExecutedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "actions_executed_total",
		Help: "Total number of remediation actions executed, by action.",
	}, []string{"action"})

	// ActionExecutionErrorsTotal counts failed remediation actions.
	ActionExecutionErrorsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "action_execution_errors_total",
		Help: "Total number of remediation action execution errors, by action and error type.",
	}, []string{"action", "error_type"})

	// ActionProcessingDuration records how long a remediation action took to execute.
	ActionProcessingDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "action_processing_duration_seconds",
		Help:    "Duration of remediation action execution, by action.",
		Buckets: prometheus.DefBuckets,
	}, []string{"action"})

	// SLMAnalysisDuration records how long an RCA model completion took.
	SLMAnalysisDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "slm_analysis_duration_seconds",
		Help:    "Duration of RCA model analysis calls.",
		Buckets: prometheus.DefBuckets,
	})

	// SLMAPICallsTotal counts model backend calls, by provider.
	SLMAPICallsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "slm_api_calls_total",
		Help: "Total number of model backend API calls, by provider.",
	}, []string{"provider"})

	// SLMAPIErrorsTotal counts failed model backend calls, by provider and error type.
	SLMAPIErrorsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "slm_api_errors_total",
		Help: "Total number of model backend API errors, by provider and error type.",
	}, []string{"provider", "error_type"})

	// CollectorCallsTotal counts per-service collector invocations made
	// while gathering a correlation pass, by service and outcome.
	CollectorCallsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "collector_calls_total",
		Help: "Total number of per-service collector calls, by service and outcome.",
	}, []string{"service", "outcome"})

	// SOPsInCooldown reports how many (resource, sop) pairs are currently
	// within their cooldown window.
	SOPsInCooldown = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "sops_in_cooldown",
		Help: "Number of (resource, sop) pairs currently within a cooldown window.",
	})

	// ConcurrentActionsRunning reports how many remediation actions are in flight.
	ConcurrentActionsRunning = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "concurrent_actions_running",
		Help: "Number of remediation actions currently executing.",
	})

	// IncidentsHandledTotal counts incidents the Orchestrator has driven to a
	// terminal or awaiting_approval status, by trigger type and status.
	IncidentsHandledTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "incidents_handled_total",
		Help: "Total number of incidents handled, by trigger type and final status.",
	}, []string{"trigger_type", "status"})

	// StageDuration records each pipeline stage's latency per incident.
	StageDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "incident_stage_duration_seconds",
		Help:    "Duration of each incident pipeline stage.",
		Buckets: prometheus.DefBuckets,
	}, []string{"stage"})
)

// RecordAlarm increments the processed-alarms counter.
func RecordAlarm() {
	AlarmsProcessedTotal.Inc()
}

// RecordDedupedSignal increments the dedup counter for kind.
func RecordDedupedSignal(kind string) {
	SignalsDedupedTotal.WithLabelValues(kind).Inc()
}

// RecordAction records one execution of action, taking duration.
func RecordAction(action string, duration time.Duration) {
	ActionsExecutedTotal.WithLabelValues(action).Inc()
	ActionProcessingDuration.WithLabelValues(action).Observe(duration.Seconds())
}

// RecordActionError increments the action-error counter for action/errorType.
func RecordActionError(action, errorType string) {
	ActionExecutionErrorsTotal.WithLabelValues(action, errorType).Inc()
}

// RecordSLMAnalysis records a model completion's duration.
func RecordSLMAnalysis(duration time.Duration) {
	SLMAnalysisDuration.Observe(duration.Seconds())
}

// RecordSLMAPICall increments the model backend call counter for provider.
func RecordSLMAPICall(provider string) {
	SLMAPICallsTotal.WithLabelValues(provider).Inc()
}

// RecordSLMAPIError increments the model backend error counter for provider/errorType.
func RecordSLMAPIError(provider, errorType string) {
	SLMAPIErrorsTotal.WithLabelValues(provider, errorType).Inc()
}

// RecordCollectorCall increments the collector call counter for service/outcome.
func RecordCollectorCall(service, outcome string) {
	CollectorCallsTotal.WithLabelValues(service, outcome).Inc()
}

// SetSOPsInCooldown sets the current cooldown gauge value.
func SetSOPsInCooldown(n float64) {
	SOPsInCooldown.Set(n)
}

// IncrementConcurrentActions increments the in-flight action gauge.
func IncrementConcurrentActions() {
	ConcurrentActionsRunning.Inc()
}

// DecrementConcurrentActions decrements the in-flight action gauge.
func DecrementConcurrentActions() {
	ConcurrentActionsRunning.Dec()
}

// RecordIncident increments the handled-incidents counter for a trigger
// type and final status.
func RecordIncident(triggerType, status string) {
	IncidentsHandledTotal.WithLabelValues(triggerType, status).Inc()
}

// RecordStageDuration records one pipeline stage's duration.
func RecordStageDuration(stage string, duration time.Duration) {
	StageDuration.WithLabelValues(stage).Observe(duration.Seconds())
}

// Timer measures elapsed time for a single operation and records it against
// the relevant metric when the operation completes.
type Timer struct {
	start time.Time
}

// NewTimer starts a new Timer.
func NewTimer() *Timer {
	return &Timer{start: time.Now()}
}

// Elapsed returns the time since the Timer was created.
func (t *Timer) Elapsed() time.Duration {
	return time.Since(t.start)
}

// RecordAction records the elapsed time as an action execution for action.
func (t *Timer) RecordAction(action string) {
	RecordAction(action, t.Elapsed())
}

// RecordSLMAnalysis records the elapsed time as a model analysis duration.
func (t *Timer) RecordSLMAnalysis() {
	RecordSLMAnalysis(t.Elapsed())
}
