// Package sop implements the SOP Bridge & Safety component:
// translating an RCAResult into ranked SOPCandidates and classifying each
// one's risk level and execution mode, gated by confidence and cooldown.
package sop

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/agenticaiops/incident-core/pkg/pipeline/types"
	"github.com/agenticaiops/incident-core/pkg/remediationapprovalrequest"
	"github.com/agenticaiops/incident-core/pkg/sop/policy"
)

// ActionKind classifies an action's disruptiveness for the risk table
//: L1 requires every step read-only, L2 idempotent writes,
// L3 reversible-disruptive, L4 irreversible or security-sensitive.
type ActionKind string

const (
	ActionReadOnly             ActionKind = "read_only"
	ActionIdempotentWrite      ActionKind = "idempotent_write"
	ActionReversibleDisruptive ActionKind = "reversible_disruptive"
	ActionIrreversible         ActionKind = "irreversible"
)

// ActionSpec is one entry in the Bridge's action catalog: how a
// remediation hint or rule action_id maps onto a concrete, classified
// registry action.
type ActionSpec struct {
	ActionID       string
	Description    string
	Kind           ActionKind
	AutoExecutable bool
	Rollback       *types.RollbackSpec
}

// ActionCatalog resolves remediation hints (free-text, as recorded on a
// Pattern) to classified ActionSpecs. Unmatched hints are not discarded:
// the Bridge folds them into an advisory, non-auto-executable step so
// unknown actions never execute without human judgment.
type ActionCatalog map[string]ActionSpec

// RuleSource is the subset of rules.Matcher the Bridge needs to resolve
// an RCAResult sourced from a rule match (PatternID == "rule:<id>").
type RuleSource interface {
	Rules() []types.Rule
}

// PatternSource is the subset of knowledge.Store the Bridge needs to
// resolve an RCAResult sourced from a learned Pattern.
type PatternSource interface {
	GetPattern(ctx context.Context, patternID string) (*types.Pattern, error)
}

// MaxCandidates bounds MatchSOPs' return value.
const MaxCandidates = 5

// modeRank orders ExecutionMode from most to least restrictive; used to
// combine the risk table's base mode with the confidence gate's cap by
// taking whichever is more restrictive (min rank).
var modeRank = map[types.ExecutionMode]int{
	types.ModeReadOnly:         0,
	types.ModeNotifyWait:       1,
	types.ModeAuto:             2,
	types.ModeApprovalRequired: 3,
}

// Classification is the Bridge's verdict for one SOPCandidate.
type Classification struct {
	RiskLevel     types.RiskLevel
	ExecutionMode types.ExecutionMode
	Reasons       []string
	DryRunForced  bool
}

// Bridge is the SOP Bridge & Safety component: MatchSOPs ranks
// candidates, Classify gates them by risk, confidence and cooldown, and
// IssueApproval issues an ApprovalToken for approval_required candidates.
type Bridge struct {
	rules    RuleSource
	patterns PatternSource
	catalog  ActionCatalog
	cooldown CooldownStore
	gate     *policy.Evaluator
	approval *remediationapprovalrequest.Gate
	log      *logrus.Logger

	mu      sync.Mutex
	everRun map[string]bool // "resource|sop" -> has executed at least once
}

// New builds a Bridge. cooldown, gate and approval may not be nil.
func New(rules RuleSource, patterns PatternSource, catalog ActionCatalog, cooldown CooldownStore, gate *policy.Evaluator, approval *remediationapprovalrequest.Gate, log *logrus.Logger) *Bridge {
	return &Bridge{
		rules:    rules,
		patterns: patterns,
		catalog:  catalog,
		cooldown: cooldown,
		gate:     gate,
		approval: approval,
		log:      log,
		everRun:  make(map[string]bool),
	}
}

func (b *Bridge) ruleByID(ruleID string) *types.Rule {
	for _, r := range b.rules.Rules() {
		if r.ID == ruleID {
			rule := r
			return &rule
		}
	}
	return nil
}

// resolveAction maps a hint/action_id string to an ActionSpec, synthesizing
// a safe advisory spec when the catalog has no entry.
func (b *Bridge) resolveAction(hint string) ActionSpec {
	if spec, ok := b.catalog[hint]; ok {
		return spec
	}
	return ActionSpec{
		ActionID:       "manual_review",
		Description:    hint,
		Kind:           ActionReversibleDisruptive,
		AutoExecutable: false,
	}
}

// MatchSOPs translates rca into a ranked, capped list of SOPCandidates
// for the given resources. Returns (nil, nil) when rca carries no
// hypothesis (IsUnknown) or its source cannot be resolved.
func (b *Bridge) MatchSOPs(ctx context.Context, rca *types.RCAResult, resourceIDs []string) ([]types.SOPCandidate, error) {
	if rca == nil || rca.IsUnknown() {
		return nil, nil
	}

	if ruleID, ok := strings.CutPrefix(rca.PatternID, "rule:"); ok {
		rule := b.ruleByID(ruleID)
		if rule == nil {
			return nil, nil
		}
		return []types.SOPCandidate{b.candidateFromRule(rule, resourceIDs)}, nil
	}

	pattern, err := b.patterns.GetPattern(ctx, rca.PatternID)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve pattern %s: %w", rca.PatternID, err)
	}
	if pattern == nil {
		return nil, nil
	}

	candidates := b.candidatesFromPattern(pattern, rca, resourceIDs)
	sort.SliceStable(candidates, func(i, j int) bool {
		return candidateScore(candidates[i], pattern, rca) > candidateScore(candidates[j], pattern, rca)
	})
	if len(candidates) > MaxCandidates {
		candidates = candidates[:MaxCandidates]
	}
	return candidates, nil
}

func candidateScore(c types.SOPCandidate, pattern *types.Pattern, rca *types.RCAResult) float64 {
	return pattern.SuccessRate * rca.Confidence
}

func (b *Bridge) candidateFromRule(rule *types.Rule, resourceIDs []string) types.SOPCandidate {
	spec := ActionSpec{
		ActionID:       rule.Remediation.ActionID,
		Kind:           kindFromAutoExecute(rule.Remediation.AutoExecute),
		AutoExecutable: rule.Remediation.AutoExecute,
		Rollback:       rule.Remediation.Rollback,
	}
	if cataloged, ok := b.catalog[rule.Remediation.ActionID]; ok {
		spec = cataloged
	}
	description := rule.Name
	if spec.Description != "" {
		description = spec.Description
	}
	step := types.SOPStep{
		ID:             "s1",
		Description:    description,
		ActionID:       spec.ActionID,
		Parameters:     rule.Remediation.Parameters,
		AutoExecutable: spec.AutoExecutable,
		Rollback:       spec.Rollback,
		Status:         types.StepPending,
	}
	return types.SOPCandidate{
		SOPID:           "rule:" + rule.ID,
		Name:            rule.Name,
		Description:     rule.Description,
		Steps:           []types.SOPStep{step},
		MatchedTriggers: []string{rule.ID},
		ResourceIDs:     resourceIDs,
	}
}

// kindFromAutoExecute sets the Kind of the spec built when a rule's
// action_id has no catalog entry. Risk classification does not read this
// Kind: it resolves each step's action_id against the catalog again, so
// an uncatalogued action classifies as L3 whatever AutoExecute says.
func kindFromAutoExecute(auto bool) ActionKind {
	if auto {
		return ActionIdempotentWrite
	}
	return ActionReversibleDisruptive
}

func (b *Bridge) candidatesFromPattern(pattern *types.Pattern, rca *types.RCAResult, resourceIDs []string) []types.SOPCandidate {
	candidates := make([]types.SOPCandidate, 0, len(pattern.RemediationHints))
	for i, hint := range pattern.RemediationHints {
		spec := b.resolveAction(hint)
		step := types.SOPStep{
			ID:             fmt.Sprintf("s%d", i+1),
			Description:    hint,
			ActionID:       spec.ActionID,
			AutoExecutable: spec.AutoExecutable,
			Rollback:       spec.Rollback,
			Status:         types.StepPending,
		}
		candidates = append(candidates, types.SOPCandidate{
			SOPID:           fmt.Sprintf("%s#%d", pattern.PatternID, i),
			Name:            pattern.Title,
			Description:     hint,
			Steps:           []types.SOPStep{step},
			MatchedTriggers: []string{pattern.PatternID},
			ResourceIDs:     resourceIDs,
		})
	}
	return candidates
}

// riskLevel derives a candidate's RiskLevel from the worst (most
// disruptive) step kind present.
func (b *Bridge) riskLevel(candidate types.SOPCandidate) types.RiskLevel {
	worst := ActionReadOnly
	for _, step := range candidate.Steps {
		spec := b.resolveAction(step.ActionID)
		if rank(spec.Kind) > rank(worst) {
			worst = spec.Kind
		}
	}
	switch worst {
	case ActionReadOnly:
		return types.RiskL1
	case ActionIdempotentWrite:
		return types.RiskL2
	case ActionReversibleDisruptive:
		return types.RiskL3
	default:
		return types.RiskL4
	}
}

func rank(k ActionKind) int {
	switch k {
	case ActionReadOnly:
		return 0
	case ActionIdempotentWrite:
		return 1
	case ActionReversibleDisruptive:
		return 2
	default:
		return 3
	}
}

// baseExecutionMode implements the risk policy table.
func baseExecutionMode(risk types.RiskLevel) types.ExecutionMode {
	switch risk {
	case types.RiskL1, types.RiskL2:
		return types.ModeAuto
	case types.RiskL3:
		return types.ModeNotifyWait
	default:
		return types.ModeApprovalRequired
	}
}

func resourceSOPKey(resourceID, sopID string) string {
	return resourceID + "|" + sopID
}

// hasAutoStep reports whether any step can actually be dispatched by the
// Executor; a candidate with none is advisory-only regardless of risk.
func hasAutoStep(candidate types.SOPCandidate) bool {
	for _, step := range candidate.Steps {
		if step.AutoExecutable {
			return true
		}
	}
	return false
}

// Classify applies the risk table, the confidence gate, cooldowns
// and first-ever-execution dry-run forcing to one candidate for one
// resource. Cooldown violations return ExecutionMode=read_only with the
// reason recorded, rather than an error: the candidate is still reported
// to the caller, just not runnable.
func (b *Bridge) Classify(ctx context.Context, candidate types.SOPCandidate, resourceID string, confidence float64, now time.Time) (Classification, error) {
	risk := b.riskLevel(candidate)
	mode := baseExecutionMode(risk)
	var reasons []string

	if !hasAutoStep(candidate) {
		reasons = append(reasons, "no auto-executable steps: manual remediation required")
		for _, step := range candidate.Steps {
			if step.Description != "" {
				reasons = append(reasons, step.Description)
			}
		}
		return Classification{RiskLevel: risk, ExecutionMode: types.ModeReadOnly, Reasons: reasons}, nil
	}

	gateResult, err := b.gate.Evaluate(ctx, policy.PolicyInput{Confidence: confidence, RiskLevel: string(risk)})
	if err != nil {
		return Classification{}, fmt.Errorf("confidence gate evaluation failed: %w", err)
	}
	if ceiling, ok := modeRank[types.ExecutionMode(gateResult.MaxExecutionMode)]; ok && ceiling < modeRank[mode] {
		mode = types.ExecutionMode(gateResult.MaxExecutionMode)
		reasons = append(reasons, fmt.Sprintf("confidence %.2f demoted execution_mode to %s", confidence, mode))
	}

	decision, err := b.cooldown.Check(ctx, resourceID, candidate.SOPID, now)
	if err != nil {
		return Classification{}, fmt.Errorf("cooldown check failed: %w", err)
	}
	if !decision.Allowed {
		reasons = append(reasons, decision.Reason)
		return Classification{RiskLevel: risk, ExecutionMode: types.ModeReadOnly, Reasons: reasons}, nil
	}

	dryRunForced := b.markFirstRun(resourceID, candidate.SOPID)
	if dryRunForced {
		reasons = append(reasons, "first execution of this sop for this resource: forcing dry_run")
	}

	return Classification{RiskLevel: risk, ExecutionMode: mode, Reasons: reasons, DryRunForced: dryRunForced}, nil
}

// markFirstRun reports whether (resourceID, sopID) has never executed
// before, and records it as seen. "First-ever
// execution" is interpreted per-resource, not globally per-sop, since a
// sop already proven safe on one resource still hasn't been proven safe
// on a different one.
func (b *Bridge) markFirstRun(resourceID, sopID string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	key := resourceSOPKey(resourceID, sopID)
	if b.everRun[key] {
		return false
	}
	b.everRun[key] = true
	return true
}

// RecordExecuted marks (resourceID, sopID) as executed in the cooldown
// store, to be called once the Executor has run the candidate.
func (b *Bridge) RecordExecuted(ctx context.Context, resourceID, sopID string, now time.Time) error {
	return b.cooldown.Record(ctx, resourceID, sopID, now)
}

// IssueApproval creates an ApprovalToken for a candidate classified
// approval_required.
func (b *Bridge) IssueApproval(candidate types.SOPCandidate, now time.Time) *types.ApprovalToken {
	return b.approval.Issue(candidate, now, types.DefaultApprovalTTL)
}
