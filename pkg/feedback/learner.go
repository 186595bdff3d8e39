// Package feedback implements the Feedback Learner (C11): it records an
// incident's outcome into the Knowledge Store, either reinforcing an
// existing Pattern's track record or synthesizing a new one the first
// time a hypothesis proves out.
package feedback

import (
	"context"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/agenticaiops/incident-core/pkg/pipeline/types"
	sharederrors "github.com/agenticaiops/incident-core/pkg/shared/errors"
	"github.com/agenticaiops/incident-core/pkg/shared/logging"
)

// PatternStore is the subset of the Knowledge Store (C4) the Learner
// depends on.
type PatternStore interface {
	GetPattern(ctx context.Context, patternID string) (*types.Pattern, error)
	UpsertPattern(ctx context.Context, pattern *types.Pattern, qualityScore float64) (bool, error)
}

// Learner records closed incidents into the Knowledge Store.
type Learner struct {
	store PatternStore
	log   *logrus.Logger
}

// New builds a Learner over store.
func New(store PatternStore, log *logrus.Logger) *Learner {
	return &Learner{store: store, log: log}
}

// Record upserts a Pattern for incident's hypothesis, folding in whether
// its execution (if any) succeeded. No-op for incidents with no RCA
// hypothesis or an unknown one — there is nothing to reinforce.
func (l *Learner) Record(ctx context.Context, incident *types.IncidentRecord) error {
	if incident == nil || incident.RCAResult == nil || incident.RCAResult.IsUnknown() {
		return nil
	}

	patternID := incident.RCAResult.PatternID
	success := incidentSucceeded(incident)

	var pattern *types.Pattern
	if ruleID, ok := strings.CutPrefix(patternID, "rule:"); ok {
		pattern = l.synthesizeFromRule(incident, ruleID)
	} else {
		existing, err := l.store.GetPattern(ctx, patternID)
		if err != nil {
			return sharederrors.FailedToWithDetails("load pattern for feedback", "knowledge_store", patternID, err)
		}
		if existing != nil {
			pattern = existing
		} else {
			pattern = l.synthesizeFromIncident(incident, patternID)
		}
	}

	// The store merges upserts of the same pattern id by incrementing
	// occurrence_count and running-averaging success_rate, so what goes in
	// here is a one-occurrence delta, not the already-merged totals —
	// sending the fetched pattern back with its count pre-incremented
	// would double-count on merge.
	update := *pattern
	update.OccurrenceCount = 0
	update.SuccessRate = 0
	update.RecordOccurrence(success)

	if _, err := l.store.UpsertPattern(ctx, &update, l.qualityScore(incident)); err != nil {
		return sharederrors.FailedToWithDetails("upsert pattern", "knowledge_store", pattern.PatternID, err)
	}

	l.log.WithFields(logging.NewFields().Component("feedback").Operation("record").
		Resource("pattern", pattern.PatternID).Custom("success", success).
		ToLogrus()).Debug("recorded incident outcome into knowledge store")
	return nil
}

func incidentSucceeded(incident *types.IncidentRecord) bool {
	if incident.Status == types.StatusExecuted && incident.Execution != nil {
		return incident.Execution.Succeeded
	}
	return incident.Status == types.StatusAnalysed
}

// synthesizeFromRule converts a rule match that has now proven out (or
// failed) into a learned Pattern, so future similar incidents can be
// resolved by semantic search rather than a rigid symptom match alone.
// The synthesized id is distinct from the "rule:<id>" RCAResult tag so
// it never collides with the rule-match convention.
func (l *Learner) synthesizeFromRule(incident *types.IncidentRecord, ruleID string) *types.Pattern {
	now := time.Now()
	return &types.Pattern{
		PatternID:        "learned:" + ruleID,
		Title:            incident.RCAResult.RootCause,
		Description:      incident.RCAResult.RootCause,
		Severity:         incident.RCAResult.Severity,
		Symptoms:         incident.RCAResult.MatchedSymptoms,
		RootCauses:       []string{incident.RCAResult.RootCause},
		RemediationHints: remediationHintsFrom(incident),
		Confidence:       incident.RCAResult.Confidence,
		CreatedAt:        now,
		UpdatedAt:        now,
	}
}

// synthesizeFromIncident builds a first-time Pattern for a patternID the
// Knowledge Store has never seen (e.g. a search hit against a reference
// pattern that was never itself persisted).
func (l *Learner) synthesizeFromIncident(incident *types.IncidentRecord, patternID string) *types.Pattern {
	now := time.Now()
	return &types.Pattern{
		PatternID:        patternID,
		Title:            incident.RCAResult.RootCause,
		Description:      incident.RCAResult.RootCause,
		Severity:         incident.RCAResult.Severity,
		Symptoms:         incident.RCAResult.MatchedSymptoms,
		RootCauses:       []string{incident.RCAResult.RootCause},
		RemediationHints: remediationHintsFrom(incident),
		Confidence:       incident.RCAResult.Confidence,
		CreatedAt:        now,
		UpdatedAt:        now,
	}
}

func remediationHintsFrom(incident *types.IncidentRecord) []string {
	if incident.SelectedSOP == nil {
		return nil
	}
	hints := make([]string, 0, len(incident.SelectedSOP.Steps))
	for _, step := range incident.SelectedSOP.Steps {
		hints = append(hints, step.Description)
	}
	return hints
}

// qualityScore gates whether the Knowledge Store indexes the pattern for
// vector search (MinIndexableQuality): the RCA's own confidence in
// this hypothesis is used directly, since a low-confidence hypothesis
// shouldn't be surfaced as a confident semantic match for future
// incidents.
func (l *Learner) qualityScore(incident *types.IncidentRecord) float64 {
	return incident.RCAResult.Confidence
}
