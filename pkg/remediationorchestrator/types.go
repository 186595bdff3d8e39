// Package remediationorchestrator holds the Orchestrator's (C10)
// operational configuration and per-incident progress bookkeeping: phase
// timeouts, the orchestrator's own tunables, which stages of a run have
// produced a durable record, and the polling decision a driving loop
// takes after each step.
package remediationorchestrator

import "time"

// PhaseTimeouts bounds how long the Orchestrator allows each pipeline
// phase to run before treating it as failed.
type PhaseTimeouts struct {
	Processing       time.Duration
	Analyzing        time.Duration
	Executing        time.Duration
	Global           time.Duration
	AwaitingApproval time.Duration
}

// DefaultPhaseTimeouts returns the production phase timeout values.
func DefaultPhaseTimeouts() PhaseTimeouts {
	return PhaseTimeouts{
		Processing:       5 * time.Minute,
		Analyzing:        10 * time.Minute,
		Executing:        30 * time.Minute,
		Global:           60 * time.Minute,
		AwaitingApproval: 24 * time.Hour,
	}
}

// OrchestratorConfig is the Orchestrator's runtime configuration.
type OrchestratorConfig struct {
	Timeouts                PhaseTimeouts
	RetentionPeriod         time.Duration
	MaxConcurrentReconciles int
	EnableMetrics           bool
}

// DefaultConfig returns the production OrchestratorConfig.
func DefaultConfig() OrchestratorConfig {
	return OrchestratorConfig{
		Timeouts:                DefaultPhaseTimeouts(),
		RetentionPeriod:         24 * time.Hour,
		MaxConcurrentReconciles: 10,
		EnableMetrics:           true,
	}
}

// StageRefs tracks which downstream records a single incident run has
// produced so far: the detection pass, the RCA hypothesis, the
// execution/remediation outcome, and (optionally) a dispatched
// notification. An incident is only considered to have made full
// progress through the pipeline's core once all three required refs are
// set; notification is best-effort and never gates completeness.
type StageRefs struct {
	DetectRef       string
	AnalysisRef     string
	ExecutionRef    string
	NotificationRef string
}

// HasAllCore reports whether detection, analysis and execution have each
// produced a record, the precondition for closing out an incident run.
func (r StageRefs) HasAllCore() bool {
	return r.DetectRef != "" && r.AnalysisRef != "" && r.ExecutionRef != ""
}

// PollResult is what one step of the Orchestrator's driving loop reports
// back: whether to run again (immediately or after a delay), which stage
// record it just produced, and any error encountered.
type PollResult struct {
	Requeue      bool
	RequeueAfter time.Duration
	StageStarted string
	Error        error
}

// ShouldRequeue reports whether the driving loop should schedule another
// pass, either immediately (Requeue) or after RequeueAfter elapses.
func (r PollResult) ShouldRequeue() bool {
	return r.Requeue || r.RequeueAfter > 0
}
