package types

import "time"

// RCAResult is the hypothesis produced by the RCA Inferencer: a chosen
// pattern (or a rule or "unknown"), root cause, confidence and evidence.
// Owned by the Orchestrator.
type RCAResult struct {
	PatternID            string    `json:"pattern_id"` // real Pattern id, "rule:<id>", or "unknown"
	RootCause            string    `json:"root_cause"`
	Severity             Severity  `json:"severity"`
	Confidence           float64   `json:"confidence"`
	MatchedSymptoms      []string  `json:"matched_symptoms,omitempty"`
	Evidence             []string  `json:"evidence"`
	RecommendedRemediation string  `json:"recommended_remediation,omitempty"`
	Timestamp            time.Time `json:"timestamp"`
	ModelIdentity        string    `json:"model_identity"` // which inferencer/fallback level produced this
}

// IsUnknown reports whether the inferencer could not produce a hypothesis.
func (r *RCAResult) IsUnknown() bool {
	return r.PatternID == "" || r.PatternID == "unknown"
}

// RiskLevel is the SOP Bridge's safety classification.
type RiskLevel string

const (
	RiskL1 RiskLevel = "L1"
	RiskL2 RiskLevel = "L2"
	RiskL3 RiskLevel = "L3"
	RiskL4 RiskLevel = "L4"
)

// ExecutionMode is the action gate's disposition for a classified
// SOPCandidate.
type ExecutionMode string

const (
	ModeAuto             ExecutionMode = "auto"
	ModeNotifyWait       ExecutionMode = "notify_wait"
	ModeApprovalRequired ExecutionMode = "approval_required"
	ModeReadOnly         ExecutionMode = "read_only"
)

// StepStatus is an SOPStep's lifecycle state.
type StepStatus string

const (
	StepPending StepStatus = "pending"
	StepRunning StepStatus = "running"
	StepDone    StepStatus = "done"
	StepFailed  StepStatus = "failed"
	StepSkipped StepStatus = "skipped"
)

// SOPStep is one ordered action within an SOPCandidate.
type SOPStep struct {
	ID             string                 `json:"id"`
	Description    string                 `json:"description"`
	ActionID       string                 `json:"action_id"`
	Parameters     map[string]interface{} `json:"parameters,omitempty"`
	AutoExecutable bool                   `json:"auto_executable"`
	Rollback       *RollbackSpec          `json:"rollback,omitempty"`
	Status         StepStatus             `json:"status"`
	StartedAt      *time.Time             `json:"started_at,omitempty"`
	EndedAt        *time.Time             `json:"ended_at,omitempty"`
}

// SOPCandidate is one remediation option produced by the SOP Bridge.
type SOPCandidate struct {
	SOPID            string        `json:"sop_id"`
	Name             string        `json:"name"`
	Description      string        `json:"description"`
	EstimatedDuration time.Duration `json:"estimated_duration"`
	Steps            []SOPStep     `json:"steps"`
	RiskLevel        RiskLevel     `json:"risk_level"`
	ExecutionMode    ExecutionMode `json:"execution_mode"`
	MatchedTriggers  []string      `json:"matched_triggers,omitempty"`
	ResourceIDs      []string      `json:"resource_ids,omitempty"`
}

// AllStepsReadOnly reports whether every step is a read-only action
// (describe/list/get), the L1 trigger condition.
func (c *SOPCandidate) AllStepsReadOnly(readOnlyActions map[string]bool) bool {
	for _, s := range c.Steps {
		if !readOnlyActions[s.ActionID] {
			return false
		}
	}
	return true
}

// ApprovalStatus is an ApprovalToken's lifecycle state.
type ApprovalStatus string

const (
	ApprovalPending  ApprovalStatus = "pending"
	ApprovalApproved ApprovalStatus = "approved"
	ApprovalRejected ApprovalStatus = "rejected"
	ApprovalExpired  ApprovalStatus = "expired"
)

// DefaultApprovalTTL is the 15-minute default approval window.
const DefaultApprovalTTL = 15 * time.Minute

// ApprovalToken gates high-risk (L4) execution. Single-use: once consumed
// via Approve/Reject it cannot transition again.
type ApprovalToken struct {
	TokenID       string         `json:"token_id"`
	SOPID         string         `json:"sop_id"`
	RequestedAt   time.Time      `json:"requested_at"`
	ExpiresAt     time.Time      `json:"expires_at"`
	Status        ApprovalStatus `json:"status"`
	Approver      string         `json:"approver,omitempty"`
	Justification string         `json:"justification,omitempty"`
	Candidate     SOPCandidate   `json:"candidate"`
}

// NewApprovalToken creates a pending token expiring ttl after requestedAt
// (DefaultApprovalTTL when ttl is zero).
func NewApprovalToken(tokenID string, candidate SOPCandidate, requestedAt time.Time, ttl time.Duration) *ApprovalToken {
	if ttl <= 0 {
		ttl = DefaultApprovalTTL
	}
	return &ApprovalToken{
		TokenID:     tokenID,
		SOPID:       candidate.SOPID,
		RequestedAt: requestedAt,
		ExpiresAt:   requestedAt.Add(ttl),
		Status:      ApprovalPending,
		Candidate:   candidate,
	}
}

// IsExpired reports whether the token's TTL has elapsed as of now.
func (t *ApprovalToken) IsExpired(now time.Time) bool {
	return now.After(t.ExpiresAt)
}
