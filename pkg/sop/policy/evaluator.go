// Package policy evaluates the SOP Bridge's confidence-gate rule via
// Rego: a built-in module caps a candidate's execution mode by the RCA
// hypothesis's confidence, and an operator can swap in a custom .rego
// file without a rebuild.
package policy

import (
	"context"
	"fmt"
	"os"

	"github.com/open-policy-agent/opa/rego"
)

// defaultModule implements the confidence gate: below
// 0.6 confidence the ceiling is notify_wait; below 0.4 it is read_only.
// "approval_required" is the least restrictive cap value: it means no
// demotion applies, since approval_required sits at the top of the
// execution_mode ranking the SOP Bridge uses to combine this cap with a
// candidate's risk-table classification.
const defaultModule = `
package sop.policy

default max_execution_mode = "approval_required"

max_execution_mode = "read_only" {
	input.confidence < 0.4
}

max_execution_mode = "notify_wait" {
	input.confidence < 0.6
	input.confidence >= 0.4
}
`

const queryExpr = "data.sop.policy.max_execution_mode"

// Config selects which Rego module the Evaluator loads. PolicyPath may
// be empty, in which case the built-in confidence-gate module is used.
type Config struct {
	PolicyPath string
}

// PolicyInput is the confidence-gate decision's input document.
type PolicyInput struct {
	Confidence float64 `json:"confidence"`
	RiskLevel  string  `json:"risk_level"`
}

// Result is the confidence gate's verdict: the highest execution_mode
// permitted regardless of the risk table's own classification.
type Result struct {
	MaxExecutionMode string
}

// Evaluator prepares and runs the confidence-gate query against its
// loaded module.
type Evaluator struct {
	query rego.PreparedEvalQuery
}

// NewEvaluator loads cfg.PolicyPath (or the built-in default module when
// empty) and prepares it for repeated evaluation.
func NewEvaluator(ctx context.Context, cfg Config) (*Evaluator, error) {
	module := defaultModule
	if cfg.PolicyPath != "" {
		data, err := os.ReadFile(cfg.PolicyPath)
		if err != nil {
			return nil, fmt.Errorf("failed to read policy file: %w", err)
		}
		module = string(data)
	}

	query, err := rego.New(
		rego.Query(queryExpr),
		rego.Module("confidence_gate.rego", module),
	).PrepareForEval(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to prepare policy query: %w", err)
	}

	return &Evaluator{query: query}, nil
}

// Evaluate runs the confidence-gate policy against input.
func (e *Evaluator) Evaluate(ctx context.Context, input PolicyInput) (*Result, error) {
	doc := map[string]interface{}{
		"confidence": input.Confidence,
		"risk_level": input.RiskLevel,
	}

	results, err := e.query.Eval(ctx, rego.EvalInput(doc))
	if err != nil {
		return nil, fmt.Errorf("policy evaluation failed: %w", err)
	}
	if len(results) == 0 || len(results[0].Expressions) == 0 {
		return &Result{MaxExecutionMode: "approval_required"}, nil
	}

	mode, _ := results[0].Expressions[0].Value.(string)
	if mode == "" {
		mode = "approval_required"
	}
	return &Result{MaxExecutionMode: mode}, nil
}
