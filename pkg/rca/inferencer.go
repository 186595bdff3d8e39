// Package rca implements the RCA Inferencer (C7): a rule-first, then
// search-augmented, then two-tier model cascade that turns a correlated
// event into a root-cause hypothesis.
package rca

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"strconv"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/sirupsen/logrus"

	"github.com/agenticaiops/incident-core/pkg/pipeline/types"
)

// RuleConfidenceFloor is the Rule Matcher confidence above which a rule
// hit is emitted directly, skipping search and model calls entirely.
const RuleConfidenceFloor = 0.85

// MidModelConfidenceFloor is the mid-capability model's confidence floor;
// below it the same prompt is resubmitted to the high-capability model.
const MidModelConfidenceFloor = 0.7

// DefaultSearchLimit is how many hits are requested from the Search
// Service to ground the model prompt.
const DefaultSearchLimit = 3

// RuleMatcher is the subset of the Rule Matcher (C3) the Inferencer reads.
type RuleMatcher interface {
	Match(telemetry types.Telemetry) *types.MatchResult
}

// Searcher is the subset of the Search Service (C5) the Inferencer reads.
type Searcher interface {
	Search(ctx context.Context, query string, strategy types.SearchStrategy, docType, service string, limit int, minScore float64) *types.SearchResult
}

// ModelClient is a single model backend's chat-completion surface.
type ModelClient interface {
	ChatCompletion(ctx context.Context, prompt string) (string, error)
}

// Inferencer runs the rule -> search -> mid-model -> high-model cascade
// into a root-cause hypothesis.
type Inferencer struct {
	rules     RuleMatcher
	search    Searcher
	midModel  ModelClient
	highModel ModelClient
	log       *logrus.Logger
}

// New builds an Inferencer. highModel may be nil, in which case a
// low-confidence mid-model result is returned as-is.
func New(rules RuleMatcher, search Searcher, midModel, highModel ModelClient, log *logrus.Logger) *Inferencer {
	return &Inferencer{rules: rules, search: search, midModel: midModel, highModel: highModel, log: log}
}

// Infer produces an RCAResult for event by walking the cascade.
func (i *Inferencer) Infer(ctx context.Context, event *types.CorrelatedEvent, telemetry types.Telemetry) (*types.RCAResult, error) {
	now := time.Now()

	if i.rules != nil {
		if match := i.rules.Match(telemetry); match != nil && match.Confidence >= RuleConfidenceFloor {
			return &types.RCAResult{
				PatternID:       "rule:" + match.Rule.ID,
				RootCause:       match.Rule.RootCause,
				Severity:        match.Rule.Severity,
				Confidence:      match.Confidence,
				MatchedSymptoms: match.MatchedSymptoms,
				Evidence:        []string{"rule_matcher"},
				Timestamp:       now,
				ModelIdentity:   "rule_matcher",
			}, nil
		}
	}

	var hits []types.SearchHit
	if i.search != nil {
		result := i.search.Search(ctx, event.Summary(), types.StrategySemantic, "", "", DefaultSearchLimit, types.L2StopThreshold)
		if result != nil {
			hits = result.Hits
		}
	}

	prompt := buildPrompt(event, hits)

	if i.midModel == nil {
		return unknownResult(now, "no model backend configured"), nil
	}

	midRaw, err := backoff.Retry(ctx, func() (string, error) {
		return i.midModel.ChatCompletion(ctx, prompt)
	}, backoff.WithMaxTries(3), backoff.WithBackOff(backoff.NewExponentialBackOff()))
	if err != nil {
		return nil, fmt.Errorf("mid-capability model call failed: %w", err)
	}
	midResult := parseResponse(midRaw, now, "mid_model")

	if midResult.Confidence >= MidModelConfidenceFloor || i.highModel == nil {
		return midResult, nil
	}

	highRaw, err := backoff.Retry(ctx, func() (string, error) {
		return i.highModel.ChatCompletion(ctx, prompt)
	}, backoff.WithMaxTries(3), backoff.WithBackOff(backoff.NewExponentialBackOff()))
	if err != nil {
		i.log.WithError(err).Warn("high-capability model call failed, falling back to mid-model result")
		return midResult, nil
	}
	highResult := parseResponse(highRaw, now, "high_model")

	if highResult.Confidence > midResult.Confidence {
		return highResult, nil
	}
	return midResult, nil
}

func unknownResult(now time.Time, reason string) *types.RCAResult {
	return &types.RCAResult{
		PatternID:     "unknown",
		RootCause:     reason,
		Confidence:    0,
		Evidence:      []string{reason},
		Timestamp:     now,
		ModelIdentity: "none",
	}
}

const promptTemplate = `You are an incident root-cause analysis assistant.
Given the incident summary and related known patterns below, respond with a
JSON object containing "pattern_id" (a known pattern id, or "unknown"),
"root_cause", "severity", "confidence" (0-1), "evidence" (a list of short
strings) and optionally "recommended_remediation".

Incident summary: %s

Related patterns:
%s
`

func buildPrompt(event *types.CorrelatedEvent, hits []types.SearchHit) string {
	related := ""
	for _, h := range hits {
		if h.Pattern == nil {
			continue
		}
		related += fmt.Sprintf("- [%s] %s: %s (score %.2f)\n", h.PatternID, h.Pattern.Title, h.Pattern.Description, h.Score)
	}
	if related == "" {
		related = "(none found)\n"
	}
	return fmt.Sprintf(promptTemplate, event.Summary(), related)
}

var jsonObjectRe = regexp.MustCompile(`(?s)\{.*\}`)

type modelResponse struct {
	PatternID              string   `json:"pattern_id"`
	RootCause              string   `json:"root_cause"`
	Severity               string   `json:"severity"`
	Confidence             json.Number `json:"confidence"`
	Evidence               []string `json:"evidence"`
	RecommendedRemediation string   `json:"recommended_remediation"`
}

// parseResponse extracts the first JSON object from raw, tolerating a
// model that wraps it in prose. A response that cannot be parsed yields
// an "unknown" result with zero confidence rather than an error, since
// the cascade always needs a value to compare against.
func parseResponse(raw string, now time.Time, modelIdentity string) *types.RCAResult {
	match := jsonObjectRe.FindString(raw)
	if match == "" {
		return unknownResult(now, "model response did not contain a parseable JSON object")
	}

	var resp modelResponse
	if err := json.Unmarshal([]byte(match), &resp); err != nil {
		return unknownResult(now, "model response failed to parse as JSON")
	}

	confidence, _ := strconv.ParseFloat(resp.Confidence.String(), 64)
	patternID := resp.PatternID
	if patternID == "" {
		patternID = "unknown"
	}

	return &types.RCAResult{
		PatternID:              patternID,
		RootCause:              resp.RootCause,
		Severity:               types.Severity(resp.Severity),
		Confidence:             confidence,
		Evidence:               resp.Evidence,
		RecommendedRemediation: resp.RecommendedRemediation,
		Timestamp:              now,
		ModelIdentity:          modelIdentity,
	}
}
