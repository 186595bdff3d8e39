// Package orchestrator implements the Orchestrator (C10): the pipeline's
// top-level driver, coordinating the Rule Matcher/Search Service/RCA
// Inferencer, the SOP Bridge and Safety gate and the Executor, recording
// per-stage timings on every IncidentRecord and triggering the Feedback
// Learner on terminal outcomes.
package orchestrator

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	apperrors "github.com/agenticaiops/incident-core/internal/errors"
	"github.com/agenticaiops/incident-core/pkg/audit"
	"github.com/agenticaiops/incident-core/pkg/executor"
	"github.com/agenticaiops/incident-core/pkg/notification/delivery"
	"github.com/agenticaiops/incident-core/pkg/pipeline/types"
	"github.com/agenticaiops/incident-core/pkg/remediationorchestrator"
	"github.com/agenticaiops/incident-core/pkg/sop"
)

// Detector is the subset of the DetectAgent (C2) the Orchestrator depends
// on: reuse a cached result or run a fresh collection.
type Detector interface {
	RunDetection(ctx context.Context, source types.DetectSource, services []string) (*types.DetectResult, error)
}

// Inferencer is the subset of the RCA Inferencer (C7) the Orchestrator
// depends on.
type Inferencer interface {
	Infer(ctx context.Context, event *types.CorrelatedEvent, telemetry types.Telemetry) (*types.RCAResult, error)
}

// Bridge is the subset of the SOP Bridge (C8) the Orchestrator depends on.
type Bridge interface {
	MatchSOPs(ctx context.Context, rca *types.RCAResult, resourceIDs []string) ([]types.SOPCandidate, error)
	Classify(ctx context.Context, candidate types.SOPCandidate, resourceID string, confidence float64, now time.Time) (sop.Classification, error)
	IssueApproval(candidate types.SOPCandidate, now time.Time) *types.ApprovalToken
	RecordExecuted(ctx context.Context, resourceID, sopID string, now time.Time) error
}

// Executor is the subset of the SOP Executor (C9) the Orchestrator
// depends on.
type Executor interface {
	Execute(ctx context.Context, candidate *types.SOPCandidate, mode executor.Mode) (*types.ExecutionOutcome, error)
}

// Notifier delivers the notify_wait stage's external notification.
type Notifier interface {
	Deliver(ctx context.Context, n *delivery.Notification) error
}

// Learner is the subset of the Feedback Learner (C11) the Orchestrator
// depends on. Declared structurally here (rather than importing
// pkg/feedback) so the two packages never need to know about each other.
type Learner interface {
	Record(ctx context.Context, incident *types.IncidentRecord) error
}

// Auditor is the subset of the audit package's BufferedStore the
// Orchestrator depends on: a non-blocking, best-effort recorder of
// every stage transition and terminal outcome. May be nil, in which
// case no audit trail is written.
type Auditor interface {
	Record(e audit.Event)
}

// DefaultDeadline is the end-to-end per-incident cancellation deadline
//.
const DefaultDeadline = 90 * time.Second

// DefaultGracePeriod is the notify_wait stage's wait before execution.
// It applies to every candidate that ends up notify_wait, whether by the
// L3 risk table or by the confidence gate; the SOP Bridge does not
// supply a per-candidate value.
const DefaultGracePeriod = 10 * time.Second

// Orchestrator drives HandleIncident's five-stage pipeline.
type Orchestrator struct {
	detector        Detector
	infer           Inferencer
	bridge          Bridge
	exec            Executor
	notify          Notifier
	learner         Learner
	auditor         Auditor
	log             *logrus.Logger
	deadline        time.Duration
	gracePeriod     time.Duration
	defaultServices []string
	phaseTimeouts   remediationorchestrator.PhaseTimeouts
	enableMetrics   bool
	inflight        chan struct{}
}

// New builds an Orchestrator with spec-default deadline and grace
// period. notify may be nil (notify_wait then skips the external
// notification but still waits out the grace period).
func New(detector Detector, infer Inferencer, bridge Bridge, exec Executor, notify Notifier, learner Learner, defaultServices []string, log *logrus.Logger) *Orchestrator {
	return &Orchestrator{
		detector:        detector,
		infer:           infer,
		bridge:          bridge,
		exec:            exec,
		notify:          notify,
		learner:         learner,
		log:             log,
		deadline:        DefaultDeadline,
		gracePeriod:     DefaultGracePeriod,
		defaultServices: defaultServices,
		phaseTimeouts:   remediationorchestrator.DefaultPhaseTimeouts(),
		enableMetrics:   true,
	}
}

// WithTimings overrides the default end-to-end deadline and notify_wait
// grace period, mainly for tests.
func (o *Orchestrator) WithTimings(deadline, gracePeriod time.Duration) *Orchestrator {
	o.deadline = deadline
	o.gracePeriod = gracePeriod
	return o
}

// WithConfig applies an OrchestratorConfig: cfg.Timeouts bounds the
// end-to-end deadline and each stage's own sub-timeout, cfg.EnableMetrics
// gates audit recording, and cfg.MaxConcurrentReconciles (when positive)
// caps how many HandleIncident runs execute at once, queuing the rest.
func (o *Orchestrator) WithConfig(cfg remediationorchestrator.OrchestratorConfig) *Orchestrator {
	if cfg.Timeouts.Global > 0 {
		o.deadline = cfg.Timeouts.Global
	}
	o.phaseTimeouts = cfg.Timeouts
	o.enableMetrics = cfg.EnableMetrics
	if cfg.MaxConcurrentReconciles > 0 {
		o.inflight = make(chan struct{}, cfg.MaxConcurrentReconciles)
	} else {
		o.inflight = nil
	}
	return o
}

// WithAuditor attaches a non-blocking audit trail recorder. Nil (the
// default) disables auditing entirely.
func (o *Orchestrator) WithAuditor(auditor Auditor) *Orchestrator {
	o.auditor = auditor
	return o
}

func (o *Orchestrator) recordAudit(e audit.Event) {
	if o.auditor == nil || !o.enableMetrics {
		return
	}
	o.auditor.Record(e)
}

func detectSourceFor(t types.TriggerType) types.DetectSource {
	switch t {
	case types.TriggerAlarm:
		return types.DetectSourceAlarm
	case types.TriggerManual:
		return types.DetectSourceManual
	case types.TriggerProactive:
		return types.DetectSourceProactive
	default:
		return types.DetectSourceDetectAgent
	}
}

func telemetryFromEvent(event *types.CorrelatedEvent) types.Telemetry {
	t := types.Telemetry{Metrics: event.Telemetry}
	for _, al := range event.Alarms {
		t.Events = append(t.Events, types.TelemetryEvent{Reason: al.Reason, Type: al.Name, Message: al.Message})
	}
	for _, h := range event.HealthEvents {
		t.Events = append(t.Events, types.TelemetryEvent{Reason: h.Status, Type: "health", Message: h.Message})
	}
	return t
}

func servicesFromPayload(payload map[string]interface{}, fallback []string) []string {
	switch raw := payload["services"].(type) {
	case []string:
		if len(raw) > 0 {
			return raw
		}
	case []interface{}:
		// json.Unmarshal decodes a JSON array into []interface{}, not
		// []string, so a trigger payload that arrived over the wire (the
		// webhook/manual-trigger path) needs this branch as well as the
		// []string one a caller building the payload in-process would hit.
		services := make([]string, 0, len(raw))
		for _, v := range raw {
			if s, ok := v.(string); ok {
				services = append(services, s)
			}
		}
		if len(services) > 0 {
			return services
		}
	}
	return fallback
}

func primaryResource(ids []string) string {
	if len(ids) == 0 {
		return ""
	}
	return ids[0]
}

// HandleIncident drives one run of the pipeline to a terminal or
// awaiting_approval status, honouring the per-stage failure policy.
func (o *Orchestrator) HandleIncident(ctx context.Context, triggerType types.TriggerType, payload map[string]interface{}, cached *types.DetectResult) (*types.IncidentRecord, error) {
	if o.inflight != nil {
		select {
		case o.inflight <- struct{}{}:
			defer func() { <-o.inflight }()
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	if o.deadline > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, o.deadline)
		defer cancel()
	}

	incident := types.NewIncidentRecord(fmt.Sprintf("incident-%d", time.Now().UnixNano()), triggerType, payload)
	incident.Status = types.StatusCollecting
	defer func() { o.auditIncident(incident) }()

	event, err := o.collect(ctx, incident, triggerType, payload, cached)
	if err != nil {
		o.closeFailed(incident, "collect", apperrors.ErrorTypeNetwork, err)
		o.log.WithError(err).WithField("incident_id", incident.IncidentID).Error("collect stage failed")
		return incident, nil
	}

	rcaResult, err := o.analyse(ctx, incident, event)
	if err != nil {
		o.closeFailed(incident, "analyse", apperrors.ErrorTypeInternal, err)
		return incident, nil
	}
	if rcaResult.IsUnknown() {
		// Skipped stages record zero so the timing keys stay a strict
		// prefix of the stage order, like a cache-served collect does.
		incident.RecordStage(types.StageMatch, 0)
		incident.RecordStage(types.StageGate, 0)
		incident.Close(types.StatusAnalysed, "rca produced no hypothesis; advisory only")
		o.learn(ctx, incident)
		return incident, nil
	}

	top, classification, err := o.matchAndClassify(ctx, incident, rcaResult, event.ResourceIDs)
	if err != nil {
		o.closeFailed(incident, "match", apperrors.ErrorTypeInternal, err)
		return incident, nil
	}
	if top == nil {
		incident.RecordStage(types.StageGate, 0)
		incident.Close(types.StatusAnalysed, "no sop candidates matched")
		o.learn(ctx, incident)
		return incident, nil
	}

	o.gate(ctx, incident, *top, classification, primaryResource(event.ResourceIDs))
	o.learn(ctx, incident)
	return incident, nil
}

// closeFailed classifies err via the shared AppError taxonomy and closes
// incident with its safe, client-facing message rather than the raw error
// text: a trigger never receives raw stack traces, only a compact status
// and a human-readable reason. The full err (which may
// wrap a database DSN, an AWS SDK response body, or similar) is preserved
// for operators via the caller's own structured log, not the durable
// IncidentRecord.
func (o *Orchestrator) closeFailed(incident *types.IncidentRecord, stage string, t apperrors.ErrorType, err error) {
	appErr := apperrors.Wrapf(err, t, "%s stage failed", stage)
	incident.Close(types.StatusFailed, apperrors.SafeErrorMessage(appErr))
}

// withPhaseTimeout derives a sub-context bounded by d (the phase's own
// budget from PhaseTimeouts), falling back to ctx unchanged when d is
// zero. The returned cancel must be called by the caller.
func withPhaseTimeout(ctx context.Context, d time.Duration) (context.Context, context.CancelFunc) {
	if d <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, d)
}

func (o *Orchestrator) collect(ctx context.Context, incident *types.IncidentRecord, triggerType types.TriggerType, payload map[string]interface{}, cached *types.DetectResult) (*types.CorrelatedEvent, error) {
	start := time.Now()
	if cached != nil && triggerType != types.TriggerManual && !cached.IsStale(time.Now()) {
		incident.DetectID = cached.DetectID
		incident.RecordStage(types.StageCollect, 0)
		event := cached.Event
		return &event, nil
	}

	phaseCtx, cancel := withPhaseTimeout(ctx, o.phaseTimeouts.Processing)
	defer cancel()

	services := servicesFromPayload(payload, o.defaultServices)
	result, err := o.detector.RunDetection(phaseCtx, detectSourceFor(triggerType), services)
	incident.RecordStage(types.StageCollect, time.Since(start))
	if err != nil {
		return nil, err
	}
	incident.DetectID = result.DetectID
	event := result.Event
	return &event, nil
}

func (o *Orchestrator) analyse(ctx context.Context, incident *types.IncidentRecord, event *types.CorrelatedEvent) (*types.RCAResult, error) {
	start := time.Now()
	phaseCtx, cancel := withPhaseTimeout(ctx, o.phaseTimeouts.Analyzing)
	defer cancel()

	result, err := o.infer.Infer(phaseCtx, event, telemetryFromEvent(event))
	incident.RecordStage(types.StageAnalyse, time.Since(start))
	if err != nil {
		return nil, err
	}
	incident.RCAResult = result
	return result, nil
}

func (o *Orchestrator) matchAndClassify(ctx context.Context, incident *types.IncidentRecord, rca *types.RCAResult, resourceIDs []string) (*types.SOPCandidate, sop.Classification, error) {
	start := time.Now()
	defer func() { incident.RecordStage(types.StageMatch, time.Since(start)) }()

	candidates, err := o.bridge.MatchSOPs(ctx, rca, resourceIDs)
	if err != nil {
		return nil, sop.Classification{}, err
	}
	if len(candidates) == 0 {
		return nil, sop.Classification{}, nil
	}

	top := candidates[0]
	classification, err := o.bridge.Classify(ctx, top, primaryResource(resourceIDs), rca.Confidence, time.Now())
	if err != nil {
		return nil, sop.Classification{}, err
	}
	top.RiskLevel = classification.RiskLevel
	top.ExecutionMode = classification.ExecutionMode
	incident.SelectedSOP = &top
	return &top, classification, nil
}

// gate implements stage 4: dispatch on execution_mode.
func (o *Orchestrator) gate(ctx context.Context, incident *types.IncidentRecord, candidate types.SOPCandidate, classification sop.Classification, resourceID string) {
	start := time.Now()
	defer func() { incident.RecordStage(types.StageGate, time.Since(start)) }()

	switch classification.ExecutionMode {
	case types.ModeAuto:
		o.executeAndClose(ctx, incident, &candidate, resourceID, classification.DryRunForced)

	case types.ModeNotifyWait:
		o.notifyAndWait(ctx, incident, candidate, classification)
		if ctx.Err() != nil {
			incident.Close(types.StatusFailed, "cancelled during notify_wait grace period")
			return
		}
		o.executeAndClose(ctx, incident, &candidate, resourceID, classification.DryRunForced)

	case types.ModeApprovalRequired:
		token := o.bridge.IssueApproval(candidate, time.Now())
		incident.ApprovalToken = token
		incident.Status = types.StatusAwaitingApproval

	case types.ModeReadOnly:
		incident.Close(types.StatusAnalysed, strings.Join(classification.Reasons, "; "))

	default:
		incident.Close(types.StatusFailed, fmt.Sprintf("unknown execution_mode %q", classification.ExecutionMode))
	}
}

func (o *Orchestrator) notifyAndWait(ctx context.Context, incident *types.IncidentRecord, candidate types.SOPCandidate, classification sop.Classification) {
	if o.notify != nil {
		n := &delivery.Notification{
			ID:        incident.IncidentID,
			Subject:   fmt.Sprintf("sop %s pending notify_wait execution", candidate.SOPID),
			Body:      strings.Join(classification.Reasons, "; "),
			CreatedAt: time.Now(),
		}
		if err := o.notify.Deliver(ctx, n); err != nil {
			o.log.WithError(err).WithField("incident_id", incident.IncidentID).Warn("notify_wait delivery failed")
		}
	}

	select {
	case <-time.After(o.gracePeriod):
	case <-ctx.Done():
	}
}

func (o *Orchestrator) executeAndClose(ctx context.Context, incident *types.IncidentRecord, candidate *types.SOPCandidate, resourceID string, dryRun bool) {
	mode := executor.ModeLive
	if dryRun {
		mode = executor.ModeDryRun
	}

	outcome, err := o.exec.Execute(ctx, candidate, mode)
	if err != nil {
		o.closeFailed(incident, "execute", apperrors.ErrorTypeInternal, err)
		return
	}
	incident.Execution = outcome

	if resourceID != "" {
		if err := o.bridge.RecordExecuted(ctx, resourceID, candidate.SOPID, time.Now()); err != nil {
			o.log.WithError(err).WithField("incident_id", incident.IncidentID).Warn("failed to record cooldown")
		}
	}

	if outcome.Succeeded {
		incident.Close(types.StatusExecuted, "")
	} else {
		incident.Close(types.StatusFailed, outcome.Reason)
	}
}

// learn implements stage 5: only terminal {executed, analysed} statuses
// trigger feedback, per the per-stage failure policy.
func (o *Orchestrator) learn(ctx context.Context, incident *types.IncidentRecord) {
	if incident.Status != types.StatusExecuted && incident.Status != types.StatusAnalysed {
		return
	}
	if o.learner == nil {
		return
	}

	start := time.Now()
	if err := o.learner.Record(ctx, incident); err != nil {
		o.log.WithError(err).WithField("incident_id", incident.IncidentID).Warn("feedback learner failed")
	}
	incident.RecordStage(types.StageLearn, time.Since(start))
}

// ResumeAfterApproval continues an awaiting_approval incident once its
// ApprovalToken has been decided: approved runs the Executor live and
// closes executed/failed; rejected or expired closes rejected without
// ever calling the Executor.
func (o *Orchestrator) ResumeAfterApproval(ctx context.Context, incident *types.IncidentRecord, resourceID string) (*types.IncidentRecord, error) {
	if incident.Status != types.StatusAwaitingApproval || incident.ApprovalToken == nil || incident.SelectedSOP == nil {
		return incident, fmt.Errorf("incident %s is not awaiting approval", incident.IncidentID)
	}

	switch incident.ApprovalToken.Status {
	case types.ApprovalApproved:
		o.executeAndClose(ctx, incident, incident.SelectedSOP, resourceID, false)
	case types.ApprovalRejected, types.ApprovalExpired:
		incident.Close(types.StatusRejected, fmt.Sprintf("approval token %s", incident.ApprovalToken.Status))
	default:
		return incident, fmt.Errorf("approval token %s is still pending", incident.ApprovalToken.TokenID)
	}

	o.learn(ctx, incident)
	o.auditIncident(incident)
	return incident, nil
}

// auditIncident records one Event per stage this incident completed
// plus a closing Event for its current status, best-effort and
// non-blocking (pkg/audit.BufferedStore.Record never awaits the sink).
func (o *Orchestrator) auditIncident(incident *types.IncidentRecord) {
	if o.auditor == nil {
		return
	}
	now := time.Now()
	for _, stage := range types.StageOrder {
		ms, ok := incident.StageTimings[stage]
		if !ok {
			continue
		}
		o.recordAudit(audit.StageEvent(incident.IncidentID, string(incident.TriggerType), string(stage), time.Duration(ms)*time.Millisecond, now))
	}
	o.recordAudit(audit.ClosedEvent(incident.IncidentID, string(incident.TriggerType), string(incident.Status), incident.Reason, now))
}
