package types

// SymptomSource is the data source a Rule's symptom clause reads from.
type SymptomSource string

const (
	SymptomSourceEvents  SymptomSource = "events"
	SymptomSourceMetrics SymptomSource = "metrics"
	SymptomSourceLogs    SymptomSource = "logs"
)

// SymptomClause is one condition within a Rule: a field drawn from a
// source, matched against an expected value or comparison operator.
type SymptomClause struct {
	Source     SymptomSource `json:"source" yaml:"source"`
	Field      string        `json:"field" yaml:"field"`
	Operator   string        `json:"operator,omitempty" yaml:"operator,omitempty"` // e.g. ">", "<", "==", "range"
	Value      string        `json:"value,omitempty" yaml:"value,omitempty"`
	RangeLow   float64       `json:"range_low,omitempty" yaml:"range_low,omitempty"`
	RangeHigh  float64       `json:"range_high,omitempty" yaml:"range_high,omitempty"`
	Required   bool          `json:"required" yaml:"required"`
}

// RemediationSpec is the action a matched Rule recommends.
type RemediationSpec struct {
	ActionID    string                 `json:"action_id" yaml:"action_id"`
	AutoExecute bool                   `json:"auto_execute" yaml:"auto_execute"`
	Parameters  map[string]interface{} `json:"parameters,omitempty" yaml:"parameters,omitempty"`
	Conditions  []string               `json:"conditions,omitempty" yaml:"conditions,omitempty"`
	Rollback    *RollbackSpec          `json:"rollback,omitempty" yaml:"rollback,omitempty"`
	Checklist   []string               `json:"checklist,omitempty" yaml:"checklist,omitempty"`
}

// RollbackSpec describes how to undo a step or remediation.
type RollbackSpec struct {
	ActionID   string                 `json:"action_id" yaml:"action_id"`
	Parameters map[string]interface{} `json:"parameters,omitempty" yaml:"parameters,omitempty"`
}

// Rule is a declarative symptom→pattern match specification, loaded once
// at startup and immutable at runtime. The yaml tags are the rule
// document's authoring schema; the json tags cover rule snapshots
// embedded in persisted records.
type Rule struct {
	ID          string          `json:"id" yaml:"id"`
	Name        string          `json:"name" yaml:"name"`
	Description string          `json:"description" yaml:"description"`
	Symptoms    []SymptomClause `json:"symptoms" yaml:"symptoms"`
	RootCause   string          `json:"root_cause" yaml:"root_cause"`
	Severity    Severity        `json:"severity" yaml:"severity"`
	Confidence  float64         `json:"confidence" yaml:"confidence"`
	Remediation RemediationSpec `json:"remediation" yaml:"remediation"`
}

// Telemetry is the Rule Matcher's input: normalized events, metrics and
// logs drawn from a CorrelatedEvent.
type Telemetry struct {
	Events  []TelemetryEvent   `json:"events"`
	Metrics map[string]float64 `json:"metrics"`
	Logs    []string           `json:"logs"`
}

// TelemetryEvent is one normalized event entry considered by the Rule
// Matcher's events-source clauses.
type TelemetryEvent struct {
	Reason  string `json:"reason"`
	Type    string `json:"type"`
	Message string `json:"message"`
}

// MatchResult is the Rule Matcher's verdict: the best-scoring rule and
// the clauses that satisfied it.
type MatchResult struct {
	Rule            *Rule    `json:"rule"`
	Confidence      float64  `json:"confidence"`
	MatchedOptional int      `json:"matched_optional"`
	MatchedSymptoms []string `json:"matched_symptoms"`
}
