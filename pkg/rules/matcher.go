// Package rules implements the Rule Matcher (C3): a deterministic
// symptom→pattern matcher driven by a declarative, hot-reloadable ruleset.
package rules

import (
	"fmt"
	"os"
	"regexp"
	"strconv"
	"strings"
	"sync/atomic"

	"github.com/agenticaiops/incident-core/pkg/pipeline/types"
	"gopkg.in/yaml.v3"
)

// Ruleset is an immutable, loaded snapshot of declarative rules. A reload
// swaps the Matcher's pointer to a new Ruleset; in-flight Match calls keep
// the snapshot they started with.
type Ruleset struct {
	Rules []types.Rule
}

type ruleFile struct {
	Rules []types.Rule `yaml:"rules"`
}

// Matcher matches a Telemetry snapshot against the current Ruleset.
type Matcher struct {
	current atomic.Pointer[Ruleset]
}

// NewMatcher returns a Matcher with an empty ruleset.
func NewMatcher() *Matcher {
	m := &Matcher{}
	m.current.Store(&Ruleset{})
	return m
}

// LoadBytes parses a YAML rule document and swaps it in atomically.
func (m *Matcher) LoadBytes(data []byte) error {
	var f ruleFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return fmt.Errorf("failed to parse rules document: %w", err)
	}
	m.current.Store(&Ruleset{Rules: f.Rules})
	return nil
}

// LoadFile reads and loads a rule document from path.
func (m *Matcher) LoadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read rules file: %w", err)
	}
	return m.LoadBytes(data)
}

// Rules returns the current ruleset's rules.
func (m *Matcher) Rules() []types.Rule {
	return m.current.Load().Rules
}

// Match returns the best-matching rule for telemetry, or nil when no rule's
// required clauses are all satisfied.
func (m *Matcher) Match(telemetry types.Telemetry) *types.MatchResult {
	var best *types.MatchResult

	for i := range m.current.Load().Rules {
		rule := &m.current.Load().Rules[i]

		var required, optional []types.SymptomClause
		for _, c := range rule.Symptoms {
			if c.Required {
				required = append(required, c)
			} else {
				optional = append(optional, c)
			}
		}
		if len(required) == 0 {
			continue
		}

		var matchedSymptoms []string
		allRequiredMatch := true
		for _, c := range required {
			if matchClause(c, telemetry) {
				matchedSymptoms = append(matchedSymptoms, clauseLabel(c))
			} else {
				allRequiredMatch = false
				break
			}
		}
		if !allRequiredMatch {
			continue
		}

		matchedOptional := 0
		for _, c := range optional {
			if matchClause(c, telemetry) {
				matchedOptional++
				matchedSymptoms = append(matchedSymptoms, clauseLabel(c))
			}
		}

		candidate := &types.MatchResult{
			Rule:            rule,
			Confidence:      rule.Confidence,
			MatchedOptional: matchedOptional,
			MatchedSymptoms: matchedSymptoms,
		}

		if best == nil ||
			candidate.Confidence > best.Confidence ||
			(candidate.Confidence == best.Confidence && candidate.MatchedOptional > best.MatchedOptional) {
			best = candidate
		}
	}

	return best
}

func clauseLabel(c types.SymptomClause) string {
	if c.Field != "" {
		return string(c.Source) + "." + c.Field
	}
	return string(c.Source)
}

func matchClause(c types.SymptomClause, t types.Telemetry) bool {
	switch c.Source {
	case types.SymptomSourceEvents:
		return matchEvents(c, t.Events)
	case types.SymptomSourceMetrics:
		return matchMetric(c, t.Metrics)
	case types.SymptomSourceLogs:
		return matchLogs(c, t.Logs)
	default:
		return false
	}
}

func matchEvents(c types.SymptomClause, events []types.TelemetryEvent) bool {
	for _, e := range events {
		if c.Field == "message" {
			if c.Value != "" && strings.Contains(strings.ToLower(e.Message), strings.ToLower(c.Value)) {
				return true
			}
			continue
		}
		if c.Value != "" && (strings.EqualFold(e.Reason, c.Value) || strings.EqualFold(e.Type, c.Value)) {
			return true
		}
	}
	return false
}

func matchMetric(c types.SymptomClause, metrics map[string]float64) bool {
	value, ok := metrics[c.Field]
	if !ok {
		return false
	}
	if c.Operator == "" {
		return true
	}

	switch c.Operator {
	case "range":
		return value >= c.RangeLow && value <= c.RangeHigh
	case ">":
		return compareNumeric(value, c.Value, func(a, b float64) bool { return a > b })
	case "<":
		return compareNumeric(value, c.Value, func(a, b float64) bool { return a < b })
	case ">=":
		return compareNumeric(value, c.Value, func(a, b float64) bool { return a >= b })
	case "<=":
		return compareNumeric(value, c.Value, func(a, b float64) bool { return a <= b })
	case "==":
		return compareNumeric(value, c.Value, func(a, b float64) bool { return a == b })
	default:
		return false
	}
}

func compareNumeric(value float64, raw string, cmp func(a, b float64) bool) bool {
	threshold, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return false
	}
	return cmp(value, threshold)
}

func matchLogs(c types.SymptomClause, logs []string) bool {
	if c.Value == "" {
		return false
	}
	re, err := regexp.Compile("(?i)" + c.Value)
	if err != nil {
		return false
	}
	for _, line := range logs {
		if re.MatchString(line) {
			return true
		}
	}
	return false
}
