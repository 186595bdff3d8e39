package search

import (
	"context"
	"fmt"

	"github.com/agenticaiops/incident-core/pkg/pipeline/types"
)

// PatternUpserter is the subset of the Knowledge Store (C4) the
// DetectIndexer writes through: the same write-ahead UpsertPattern the
// Feedback Learner uses.
type PatternUpserter interface {
	UpsertPattern(ctx context.Context, pattern *types.Pattern, qualityScore float64) (bool, error)
}

// DetectIndexer adapts a PatternUpserter into the DetectAgent's
// best-effort indexing hook, satisfying detectagent.Indexer without
// detectagent importing this package directly.
//
// A DetectResult isn't itself a learned Pattern, so indexing synthesizes a
// provisional one from the correlated event's symptoms, tagged
// "detect:<detect_id>" to keep its id space disjoint from both
// Feedback-Learner-synthesized "learned:<rule_id>" patterns and
// rule-sourced "rule:<id>" RCAResult pattern ids. Its quality score is the
// confidence of the DetectAgent's own rule-match snapshot when one fired
// during this detection, else a low baseline: most detections carry no
// strong signal yet and shouldn't pollute L1/L2 search results until a
// rule or the Feedback Learner has actually confirmed something.
type DetectIndexer struct {
	patterns PatternUpserter
}

// NewDetectIndexer builds a DetectIndexer over patterns.
func NewDetectIndexer(patterns PatternUpserter) *DetectIndexer {
	return &DetectIndexer{patterns: patterns}
}

// baselineDetectQuality is the quality score given to a detection with no
// rule match: below types.MinIndexableQuality, so it is stored but never
// vector-indexed.
const baselineDetectQuality = 0.3

// IndexDetectResult writes a provisional Pattern snapshot of result
// through the Knowledge Store's write-ahead upsert.
func (i *DetectIndexer) IndexDetectResult(ctx context.Context, result *types.DetectResult) error {
	event := result.Event

	symptoms := make([]string, 0, len(event.Anomalies)+len(event.Alarms))
	for _, a := range event.Anomalies {
		symptoms = append(symptoms, a.Metric)
	}
	for _, al := range event.Alarms {
		symptoms = append(symptoms, al.Reason)
	}

	quality := baselineDetectQuality
	rootCauses := []string{}
	severity := types.SeverityLow
	for _, m := range result.RuleMatches {
		rootCauses = append(rootCauses, m.RootCause)
		if m.Confidence > quality {
			quality = m.Confidence
		}
		severity = m.Severity
	}

	pattern := &types.Pattern{
		PatternID:   fmt.Sprintf("detect:%s", result.DetectID),
		Title:       fmt.Sprintf("detection %s (%s)", result.DetectID, result.Source),
		Description: event.Summary(),
		Category:    "detection",
		Severity:    severity,
		Symptoms:    symptoms,
		RootCauses:  rootCauses,
		CreatedAt:   result.Timestamp,
		UpdatedAt:   result.Timestamp,
	}

	_, err := i.patterns.UpsertPattern(ctx, pattern, quality)
	return err
}
