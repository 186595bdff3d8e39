package orchestrator_test

import (
	"context"
	"sync"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/agenticaiops/incident-core/pkg/detectagent"
	"github.com/agenticaiops/incident-core/pkg/executor"
	"github.com/agenticaiops/incident-core/pkg/feedback"
	"github.com/agenticaiops/incident-core/pkg/knowledge"
	"github.com/agenticaiops/incident-core/pkg/orchestrator"
	"github.com/agenticaiops/incident-core/pkg/pipeline/types"
	"github.com/agenticaiops/incident-core/pkg/rca"
	"github.com/agenticaiops/incident-core/pkg/remediationapprovalrequest"
	"github.com/agenticaiops/incident-core/pkg/rules"
	"github.com/agenticaiops/incident-core/pkg/search"
	"github.com/agenticaiops/incident-core/pkg/sop"
	"github.com/agenticaiops/incident-core/pkg/sop/policy"
)

// scenarioRules is the ruleset the end-to-end scenarios run against; the
// three rules mirror config/rules.yaml's shapes with the confidences the
// scenarios call for.
const scenarioRules = `
rules:
  - id: crash-001
    name: oom-crash-loop
    description: "container repeatedly OOM-killed under sustained memory pressure"
    confidence: 0.85
    symptoms:
      - source: events
        field: reason
        operator: "=="
        value: "OOMKilled"
        required: true
    root_cause: "container memory limit too low for its working set"
    severity: high
    remediation:
      action_id: rollout-restart
      auto_execute: true
      rollback:
        action_id: rollout-undo
  - id: image-001
    name: image-pull-failure
    description: "pod stuck in ImagePullBackOff"
    confidence: 0.95
    symptoms:
      - source: events
        field: reason
        operator: "=="
        value: "ImagePullBackOff"
        required: true
    root_cause: "image tag missing from the registry or pull credentials invalid"
    severity: medium
    remediation:
      action_id: "check image name and registry credentials"
      auto_execute: false
  - id: cpu-001
    name: cpu-saturation
    description: "sustained high CPU utilization"
    confidence: 0.7
    symptoms:
      - source: metrics
        field: cpu_usage_pct
        operator: ">"
        value: "85"
        required: true
    root_cause: "workload exceeds current capacity"
    severity: medium
    remediation:
      action_id: ec2-scale-up
      auto_execute: true
`

type scriptedCorrelator struct {
	mu    sync.Mutex
	calls int
	event types.CorrelatedEvent
}

func (c *scriptedCorrelator) Collect(ctx context.Context, services []string, lookbackMinutes int) (*types.CorrelatedEvent, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls++
	ev := c.event
	ev.Timestamp = time.Now()
	return &ev, nil
}

func (c *scriptedCorrelator) callCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.calls
}

type scriptedModel struct {
	mu       sync.Mutex
	response string
	calls    int
}

func (m *scriptedModel) ChatCompletion(ctx context.Context, prompt string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls++
	return m.response, nil
}

type recordedAction struct {
	actionID string
	dry      bool
}

type actionRecorder struct {
	mu    sync.Mutex
	calls []recordedAction
}

func (r *actionRecorder) handler(actionID string) executor.ActionHandler {
	return func(ctx context.Context, params map[string]interface{}, dry bool) (executor.ActionOutcome, error) {
		r.mu.Lock()
		defer r.mu.Unlock()
		r.calls = append(r.calls, recordedAction{actionID: actionID, dry: dry})
		return executor.ActionOutcome{OK: true, Output: "done"}, nil
	}
}

func (r *actionRecorder) recorded() []recordedAction {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]recordedAction, len(r.calls))
	copy(out, r.calls)
	return out
}

// expectStagePrefix asserts the incident's recorded timing keys form a
// strict prefix of the canonical stage order.
func expectStagePrefix(incident *types.IncidentRecord) {
	GinkgoHelper()
	missing := false
	for _, stage := range types.StageOrder {
		_, ok := incident.StageTimings[stage]
		if missing {
			Expect(ok).To(BeFalse(), "stage %s recorded after a skipped stage", stage)
		}
		if !ok {
			missing = true
		}
	}
	Expect(incident.StageTimings).To(HaveLen(lenStages(incident)))
}

func lenStages(incident *types.IncidentRecord) int {
	n := 0
	for _, stage := range types.StageOrder {
		if _, ok := incident.StageTimings[stage]; ok {
			n++
		}
	}
	return n
}

// The six end-to-end scenarios wire every real component together:
// rule matcher, knowledge store, search service, inferencer (scripted
// model backend), bridge with the Rego confidence gate, cooldown store,
// approval gate, executor and feedback learner — only the cloud-facing
// Correlator and model transport are scripted.
var _ = Describe("incident pipeline end to end", func() {
	var (
		ctx        context.Context
		correlator *scriptedCorrelator
		midModel   *scriptedModel
		matcher    *rules.Matcher
		store      *knowledge.Store
		approvals  *remediationapprovalrequest.Gate
		actions    *actionRecorder
		agent      *detectagent.DetectAgent
		orch       *orchestrator.Orchestrator
	)

	BeforeEach(func() {
		ctx = context.Background()
		log := newLogger()

		matcher = rules.NewMatcher()
		Expect(matcher.LoadBytes([]byte(scenarioRules))).To(Succeed())

		var err error
		store, err = knowledge.NewStore(ctx, knowledge.NewInMemoryObjectStore(), nil, nil, log)
		Expect(err).NotTo(HaveOccurred())

		evaluator, err := policy.NewEvaluator(ctx, policy.Config{})
		Expect(err).NotTo(HaveOccurred())

		catalog := sop.ActionCatalog{
			"rollout-restart": {ActionID: "rollout-restart", Kind: sop.ActionReversibleDisruptive, AutoExecutable: true},
			"ec2-scale-up":    {ActionID: "ec2-scale-up", Kind: sop.ActionIdempotentWrite, AutoExecutable: true},
			"failover":        {ActionID: "failover", Kind: sop.ActionIrreversible, AutoExecutable: true},
			"check image name and registry credentials": {
				ActionID: "manual_review", Description: "check image name and registry credentials",
				Kind: sop.ActionReversibleDisruptive, AutoExecutable: false,
			},
		}

		approvals = remediationapprovalrequest.NewGate()
		bridge := sop.New(matcher, store, catalog, sop.NewInMemoryCooldownStore(), evaluator, approvals, log)

		actions = &actionRecorder{}
		registry := executor.NewActionRegistry()
		for _, id := range []string{"rollout-restart", "rollout-undo", "ec2-scale-up", "failover"} {
			Expect(registry.Register(id, actions.handler(id))).To(Succeed())
		}
		exec := executor.New(registry, log)

		searchSvc := search.NewService(store, nil, log)
		midModel = &scriptedModel{}
		inferencer := rca.New(matcher, searchSvc, midModel, nil, log)

		correlator = &scriptedCorrelator{}
		agent = detectagent.New(correlator, matcher, nil, log)

		learner := feedback.New(store, log)

		orch = orchestrator.New(agent, inferencer, bridge, exec, nil, learner, []string{"kubernetes"}, log).
			WithTimings(10*time.Second, 20*time.Millisecond)
	})

	It("executes a rollout restart for an OOMKilled restart loop", func() {
		correlator.event = types.CorrelatedEvent{
			ResourceIDs: []string{"pod/api-7"},
			Alarms: []types.Alarm{{
				Name:    "kube_pod_container_status_restarts_total",
				Service: "kubernetes",
				Reason:  "OOMKilled",
				Message: "restart count 6 above threshold 5",
			}},
		}

		incident, err := orch.HandleIncident(ctx, types.TriggerAlarm, nil, nil)
		Expect(err).NotTo(HaveOccurred())
		Expect(incident.Status).To(Equal(types.StatusExecuted))
		Expect(incident.RCAResult.PatternID).To(Equal("rule:crash-001"))
		Expect(incident.RCAResult.Evidence).NotTo(BeEmpty())
		Expect(incident.SelectedSOP.SOPID).To(Equal("rule:crash-001"))
		Expect(incident.SelectedSOP.RiskLevel).To(Equal(types.RiskL3))
		// First-ever execution of this sop on pod/api-7, so the forced dry
		// run survives the notify_wait gate.
		Expect(incident.Execution.Mode).To(Equal("dry_run"))
		Expect(actions.recorded()).To(ConsistOf(recordedAction{actionID: "rollout-restart", dry: true}))
		Expect(midModel.calls).To(BeZero())
		expectStagePrefix(incident)
	})

	It("stops at an advisory for an ImagePullBackOff, never executing", func() {
		correlator.event = types.CorrelatedEvent{
			ResourceIDs: []string{"pod/web-3"},
			Alarms: []types.Alarm{{
				Name:    "kube_pod_status_waiting_reason",
				Service: "kubernetes",
				Reason:  "ImagePullBackOff",
			}},
		}

		incident, err := orch.HandleIncident(ctx, types.TriggerAnomaly, nil, nil)
		Expect(err).NotTo(HaveOccurred())
		Expect(incident.Status).To(Equal(types.StatusAnalysed))
		Expect(incident.SelectedSOP.ExecutionMode).To(Equal(types.ModeReadOnly))
		Expect(incident.Reason).To(ContainSubstring("check image name and registry credentials"))
		Expect(incident.Execution).To(BeNil())
		Expect(actions.recorded()).To(BeEmpty())
		expectStagePrefix(incident)
	})

	It("forces a dry run on the first-ever scale-up of a resource, and learns", func() {
		seed := &types.Pattern{
			PatternID:        "ec2-cpu-0001",
			Title:            "EC2 CPU saturation",
			Description:      "sustained CPUUtilization above 90%",
			RemediationHints: []string{"ec2-scale-up"},
			Confidence:       0.9,
			OccurrenceCount:  3,
			SuccessRate:      1.0,
		}
		_, err := store.UpsertPattern(ctx, seed, 0.9)
		Expect(err).NotTo(HaveOccurred())

		midModel.response = `{"pattern_id": "ec2-cpu-0001", "root_cause": "traffic beyond instance capacity",
			"severity": "high", "confidence": 0.9, "evidence": ["CPUUtilization > 90% for 5 min"],
			"recommended_remediation": "ec2-scale-up"}`

		correlator.event = types.CorrelatedEvent{
			ResourceIDs: []string{"i-abc123"},
			Telemetry:   map[string]float64{"cpu_usage_pct": 95},
		}

		incident, err := orch.HandleIncident(ctx, types.TriggerAlarm, nil, nil)
		Expect(err).NotTo(HaveOccurred())
		Expect(incident.Status).To(Equal(types.StatusExecuted))
		Expect(incident.Execution.Mode).To(Equal("dry_run"))
		Expect(actions.recorded()).To(ConsistOf(recordedAction{actionID: "ec2-scale-up", dry: true}))
		Expect(incident.StageTimings).To(HaveKey(types.StageLearn))
		Expect(midModel.calls).To(Equal(1))

		// The learner's delta upsert moved occurrence_count by exactly 1.
		learned, err := store.GetPattern(ctx, "ec2-cpu-0001")
		Expect(err).NotTo(HaveOccurred())
		Expect(learned.OccurrenceCount).To(Equal(4))
		Expect(learned.SuccessRate).To(Equal(1.0))
		expectStagePrefix(incident)
	})

	It("reuses a warm cached detection for a second proactive trigger", func() {
		correlator.event = types.CorrelatedEvent{
			ResourceIDs: []string{"pod/api-7"},
			Alarms:      []types.Alarm{{Name: "restarts", Service: "kubernetes", Reason: "OOMKilled"}},
		}

		first, err := orch.HandleIncident(ctx, types.TriggerProactive, nil, nil)
		Expect(err).NotTo(HaveOccurred())
		Expect(correlator.callCount()).To(Equal(1))

		cached := agent.GetLatest(nil, 0)
		Expect(cached).NotTo(BeNil())

		second, err := orch.HandleIncident(ctx, types.TriggerProactive, nil, cached)
		Expect(err).NotTo(HaveOccurred())
		Expect(correlator.callCount()).To(Equal(1))
		Expect(second.DetectID).To(Equal(first.DetectID))
		Expect(second.IncidentID).NotTo(Equal(first.IncidentID))
		Expect(second.StageTimings[types.StageCollect]).To(Equal(int64(0)))

		// The first run executed rollout-restart on pod/api-7, so the
		// second incident's identical candidate is held by the cooldown.
		Expect(first.Status).To(Equal(types.StatusExecuted))
		Expect(second.Status).To(Equal(types.StatusAnalysed))
		Expect(actions.recorded()).To(HaveLen(1))
		expectStagePrefix(first)
		expectStagePrefix(second)
	})

	It("collects fresh for a manual trigger even when handed a stale result", func() {
		correlator.event = types.CorrelatedEvent{
			ResourceIDs: []string{"pod/api-7"},
			Alarms:      []types.Alarm{{Name: "restarts", Service: "kubernetes", Reason: "OOMKilled"}},
		}

		stale := types.NewDetectResult("detect-old", correlator.event, types.DetectSourceProactive, 300)
		stale.Timestamp = time.Now().Add(-700 * time.Second)
		Expect(stale.IsStale(time.Now())).To(BeTrue())

		incident, err := orch.HandleIncident(ctx, types.TriggerManual, nil, stale)
		Expect(err).NotTo(HaveOccurred())
		Expect(correlator.callCount()).To(Equal(1))
		Expect(incident.DetectID).NotTo(Equal("detect-old"))
	})

	It("rejects an incident whose approval arrives after the token expired", func() {
		seed := &types.Pattern{
			PatternID:        "dr-failover-0001",
			Title:            "primary database unresponsive",
			RemediationHints: []string{"failover"},
			Confidence:       0.9,
			OccurrenceCount:  2,
			SuccessRate:      1.0,
		}
		_, err := store.UpsertPattern(ctx, seed, 0.9)
		Expect(err).NotTo(HaveOccurred())

		midModel.response = `{"pattern_id": "dr-failover-0001", "root_cause": "primary database unresponsive",
			"severity": "critical", "confidence": 0.9, "evidence": ["replica lag alarms", "connection timeouts"]}`

		correlator.event = types.CorrelatedEvent{
			ResourceIDs: []string{"db/primary-1"},
			Anomalies: []types.Anomaly{{
				Metric: "DatabaseConnections", Service: "rds", Severity: types.SeverityCritical, Value: 0, Threshold: 10,
			}},
		}

		incident, err := orch.HandleIncident(ctx, types.TriggerAlarm, nil, nil)
		Expect(err).NotTo(HaveOccurred())
		Expect(incident.Status).To(Equal(types.StatusAwaitingApproval))
		Expect(incident.ApprovalToken).NotTo(BeNil())
		Expect(incident.ApprovalToken.Status).To(Equal(types.ApprovalPending))
		Expect(actions.recorded()).To(BeEmpty())

		// Approval arrives 1000s after issuance against a 900s TTL.
		late := incident.ApprovalToken.RequestedAt.Add(1000 * time.Second)
		_, err = approvals.Approve(incident.ApprovalToken.TokenID, "sre-oncall", "", late)
		Expect(err).To(MatchError(remediationapprovalrequest.ErrExpired))

		resumed, err := orch.ResumeAfterApproval(ctx, incident, "db/primary-1")
		Expect(err).NotTo(HaveOccurred())
		Expect(resumed.Status).To(Equal(types.StatusRejected))
		Expect(actions.recorded()).To(BeEmpty())
		expectStagePrefix(resumed)
	})
})
