// Package types holds the incident pipeline's shared data model: the
// entities that flow between the Correlator, DetectAgent, Rule Matcher,
// Knowledge Store, RCA Inferencer, SOP Bridge, Executor, Orchestrator and
// Feedback Learner. None of these types own I/O; they are passed by value
// or pointer between components that do.
package types

import "time"

// Severity is shared across anomalies, rules and RCA results.
type Severity string

const (
	SeverityInfo     Severity = "info"
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

// TriggerType identifies what caused an incident to be handled.
type TriggerType string

const (
	TriggerAlarm     TriggerType = "alarm"
	TriggerAnomaly   TriggerType = "anomaly"
	TriggerProactive TriggerType = "proactive"
	TriggerManual    TriggerType = "manual"
)

// Anomaly is a single threshold-crossing or trend-flagged observation,
// the raw signal before correlation.
type Anomaly struct {
	Metric    string    `json:"metric"`
	Service   string    `json:"service"`
	Severity  Severity  `json:"severity"`
	Value     float64   `json:"value"`
	Threshold float64   `json:"threshold"`
	Timestamp time.Time `json:"timestamp"`
}

// Alarm is an active cloud-provider alarm included in a correlation pass.
type Alarm struct {
	Name      string            `json:"name"`
	Service   string            `json:"service"`
	Reason    string            `json:"reason"`
	Message   string            `json:"message"`
	Labels    map[string]string `json:"labels,omitempty"`
	Timestamp time.Time         `json:"timestamp"`
}

// ChangeEvent is a recent control-plane change (deploy, scale, config edit).
type ChangeEvent struct {
	ResourceID string    `json:"resource_id"`
	Kind       string    `json:"kind"`
	Actor      string    `json:"actor,omitempty"`
	Summary    string    `json:"summary"`
	Timestamp  time.Time `json:"timestamp"`
}

// HealthEvent is a provider-reported health signal for a resource.
type HealthEvent struct {
	ResourceID string    `json:"resource_id"`
	Status     string    `json:"status"`
	Message    string    `json:"message,omitempty"`
	Timestamp  time.Time `json:"timestamp"`
}

// SourceError annotates a CorrelatedEvent with a collector that failed
// during a partial collection, per the Correlator's PartialCollectionError
// policy.
type SourceError struct {
	Service string    `json:"service"`
	Message string    `json:"message"`
	At      time.Time `json:"at"`
}

// CorrelatedEvent is the canonical input to analysis: every signal the
// Correlator gathered in one collection pass, merged in deterministic
// order and deduplicated by (resource_id, kind, timestamp-bucket).
// Immutable after emission — the Correlator never hands out a pointer
// that a caller is meant to mutate.
type CorrelatedEvent struct {
	ID              string             `json:"id"`
	Timestamp       time.Time          `json:"timestamp"`
	LookbackMinutes int                `json:"lookback_minutes"`
	ResourceIDs     []string           `json:"resource_ids"`
	Anomalies       []Anomaly          `json:"anomalies"`
	Alarms          []Alarm            `json:"alarms"`
	Changes         []ChangeEvent      `json:"changes"`
	HealthEvents    []HealthEvent      `json:"health_events"`
	Telemetry       map[string]float64 `json:"telemetry"`
	SourceErrors    []SourceError      `json:"source_errors,omitempty"`
}

// Summary returns a compact human-readable description of the event,
// used as the query text for semantic search and as part of the RCA
// prompt.
func (e *CorrelatedEvent) Summary() string {
	if e == nil {
		return ""
	}
	summary := ""
	for i, a := range e.Anomalies {
		if i > 0 {
			summary += "; "
		}
		summary += string(a.Severity) + " " + a.Metric + " on " + a.Service
	}
	for _, al := range e.Alarms {
		if summary != "" {
			summary += "; "
		}
		summary += al.Reason
	}
	return summary
}

// FreshnessLabel classifies a DetectResult's age against its TTL.
type FreshnessLabel string

const (
	FreshnessFresh FreshnessLabel = "fresh"
	FreshnessWarm  FreshnessLabel = "warm"
	FreshnessStale FreshnessLabel = "stale"
)

const freshWindow = 60 * time.Second

// DetectSource tags where a DetectResult originated.
type DetectSource string

const (
	DetectSourceProactive   DetectSource = "proactive"
	DetectSourceAlarm       DetectSource = "alarm"
	DetectSourceManual      DetectSource = "manual"
	DetectSourceDetectAgent DetectSource = "detect_agent"
)

// RuleMatchSnapshot freezes a Rule Matcher hit at detection time.
type RuleMatchSnapshot struct {
	RuleID     string   `json:"rule_id"`
	RootCause  string   `json:"root_cause"`
	Severity   Severity `json:"severity"`
	Confidence float64  `json:"confidence"`
}

// DetectResult is the cached output of a detection pass, owned by the
// DetectAgent and retained for one TTL per source key.
type DetectResult struct {
	DetectID       string              `json:"detect_id"`
	Timestamp      time.Time           `json:"timestamp"`
	Event          CorrelatedEvent     `json:"event"`
	RuleMatches    []RuleMatchSnapshot `json:"rule_matches,omitempty"`
	Anomalies      []Anomaly           `json:"anomalies"`
	Vectorized     bool                `json:"vectorized"`
	Source         DetectSource        `json:"source"`
	TTLSeconds     int                 `json:"ttl_seconds"`
}

// NewDetectResult applies the default 300s TTL when ttlSeconds is zero.
func NewDetectResult(detectID string, event CorrelatedEvent, source DetectSource, ttlSeconds int) *DetectResult {
	if ttlSeconds <= 0 {
		ttlSeconds = 300
	}
	return &DetectResult{
		DetectID:   detectID,
		Timestamp:  event.Timestamp,
		Event:      event,
		Source:     source,
		TTLSeconds: ttlSeconds,
	}
}

// AgeSeconds returns the result's age relative to now.
func (d *DetectResult) AgeSeconds(now time.Time) float64 {
	return now.Sub(d.Timestamp).Seconds()
}

// IsStale reports whether the result's age has reached its TTL.
func (d *DetectResult) IsStale(now time.Time) bool {
	return d.AgeSeconds(now) >= float64(d.TTLSeconds)
}

// FreshnessLabel classifies the result's age: fresh (<60s), warm (<ttl),
// stale (>=ttl).
func (d *DetectResult) FreshnessLabel(now time.Time) FreshnessLabel {
	age := d.AgeSeconds(now)
	switch {
	case age < freshWindow.Seconds():
		return FreshnessFresh
	case age < float64(d.TTLSeconds):
		return FreshnessWarm
	default:
		return FreshnessStale
	}
}

// Reusable reports whether a cached result may be reused for the given
// trigger type without a fresh collection. A manual trigger never reuses
// a cached result.
func (d *DetectResult) Reusable(trigger TriggerType, now time.Time) bool {
	if trigger == TriggerManual {
		return false
	}
	return d.FreshnessLabel(now) != FreshnessStale
}
