package types

import "time"

// IncidentStatus is an IncidentRecord's lifecycle state.
type IncidentStatus string

const (
	StatusCreated          IncidentStatus = "created"
	StatusCollecting       IncidentStatus = "collecting"
	StatusAnalysed         IncidentStatus = "analysed"
	StatusExecuted         IncidentStatus = "executed"
	StatusAwaitingApproval IncidentStatus = "awaiting_approval"
	StatusRejected         IncidentStatus = "rejected"
	StatusFailed           IncidentStatus = "failed"
)

// terminal reports whether a status ends the incident's lifecycle.
func (s IncidentStatus) Terminal() bool {
	switch s {
	case StatusExecuted, StatusRejected, StatusFailed:
		return true
	default:
		return false
	}
}

// StageName identifies one of the Orchestrator's five ordered stages.
type StageName string

const (
	StageCollect StageName = "collect"
	StageAnalyse StageName = "analyse"
	StageMatch   StageName = "match"
	StageGate    StageName = "gate"
	StageLearn   StageName = "learn"
)

// StageOrder is the canonical stage sequence; every IncidentRecord's
// recorded stage_timings keys must be a prefix of this.
var StageOrder = []StageName{StageCollect, StageAnalyse, StageMatch, StageGate, StageLearn}

// ExecutionOutcome summarizes what the Executor did for an incident, if
// it ran at all.
type ExecutionOutcome struct {
	Mode      string    `json:"mode"` // "live" or "dry_run"
	Succeeded bool      `json:"succeeded"`
	Steps     []SOPStep `json:"steps"`
	Reason    string    `json:"reason,omitempty"`
}

// IncidentRecord is the Orchestrator's per-run log: one record per
// HandleIncident invocation, terminal once a final status is reached.
type IncidentRecord struct {
	IncidentID     string             `json:"incident_id"`
	TriggerType    TriggerType        `json:"trigger_type"`
	TriggerPayload map[string]interface{} `json:"trigger_payload,omitempty"`
	DetectID       string             `json:"detect_id,omitempty"`
	RCAResult      *RCAResult         `json:"rca_result,omitempty"`
	SelectedSOP    *SOPCandidate      `json:"selected_sop,omitempty"`
	ApprovalToken  *ApprovalToken     `json:"approval_token,omitempty"`
	Execution      *ExecutionOutcome  `json:"execution,omitempty"`
	StageTimings   map[StageName]int64 `json:"stage_timings"`
	Status         IncidentStatus     `json:"status"`
	Reason         string             `json:"reason,omitempty"`
	CreatedAt      time.Time          `json:"created_at"`
	ClosedAt       *time.Time         `json:"closed_at,omitempty"`
}

// NewIncidentRecord starts a fresh, non-terminal record.
func NewIncidentRecord(incidentID string, triggerType TriggerType, payload map[string]interface{}) *IncidentRecord {
	return &IncidentRecord{
		IncidentID:     incidentID,
		TriggerType:    triggerType,
		TriggerPayload: payload,
		StageTimings:   make(map[StageName]int64),
		Status:         StatusCreated,
		CreatedAt:      time.Now(),
	}
}

// RecordStage stamps the duration of a completed stage.
func (r *IncidentRecord) RecordStage(stage StageName, duration time.Duration) {
	if r.StageTimings == nil {
		r.StageTimings = make(map[StageName]int64)
	}
	r.StageTimings[stage] = duration.Milliseconds()
}

// Close transitions the record to a terminal status and stamps ClosedAt.
func (r *IncidentRecord) Close(status IncidentStatus, reason string) {
	r.Status = status
	r.Reason = reason
	now := time.Now()
	r.ClosedAt = &now
}

// EffectivenessScore is the Feedback Learner's assessment of how well a
// pattern's remediation performed across every incident it was applied
// to; a supplemental data-model type feeding Pattern.RecordOccurrence.
type EffectivenessScore struct {
	PatternID      string    `json:"pattern_id"`
	SuccessCount   int       `json:"success_count"`
	FailureCount   int       `json:"failure_count"`
	Score          float64   `json:"score"`
	LastAssessedAt time.Time `json:"last_assessed_at"`
}

// Ratio returns the success fraction, 0 when no attempts were recorded.
func (e *EffectivenessScore) Ratio() float64 {
	total := e.SuccessCount + e.FailureCount
	if total == 0 {
		return 0
	}
	return float64(e.SuccessCount) / float64(total)
}
