package executor

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/agenticaiops/incident-core/pkg/infrastructure/metrics"
	"github.com/agenticaiops/incident-core/pkg/notification/delivery"
	"github.com/agenticaiops/incident-core/pkg/pipeline/types"
)

// Notifier delivers the high-severity alert a failed rollback emits.
type Notifier interface {
	Deliver(ctx context.Context, n *delivery.Notification) error
}

// actionErrorType labels a failed dispatch for the action-error counter.
func actionErrorType(result ActionOutcome, err error) string {
	if err != nil {
		return "dispatch_error"
	}
	if result.Error != "" {
		return "handler_error"
	}
	return "not_ok"
}

// Mode is the Executor's own dispatch mode, distinct from a
// SOPCandidate's risk-derived ExecutionMode (auto/notify_wait/...).
type Mode string

const (
	ModeLive   Mode = "live"
	ModeDryRun Mode = "dry_run"
)

// Executor runs a SOPCandidate's steps in order against an ActionRegistry,
// sequentially: dry-run-aware, rollback-on-failure, never
// re-ordering steps.
type Executor struct {
	registry *ActionRegistry
	notify   Notifier
	log      *logrus.Logger

	mu      sync.Mutex
	waiters map[string]chan ActionOutcome
}

// New builds an Executor dispatching through registry.
func New(registry *ActionRegistry, log *logrus.Logger) *Executor {
	return &Executor{
		registry: registry,
		log:      log,
		waiters:  make(map[string]chan ActionOutcome),
	}
}

// WithNotifier attaches the transport a rollback failure alerts through.
// Nil (the default) degrades to the log line alone.
func (e *Executor) WithNotifier(n Notifier) *Executor {
	e.notify = n
	return e
}

func waiterKey(sopID string, stepIndex int) string {
	return fmt.Sprintf("%s:%d", sopID, stepIndex)
}

// CompleteStep delivers an externally-obtained outcome for a non-auto
// step that Execute is currently waiting on. It is a no-op error if no
// such step is pending.
func (e *Executor) CompleteStep(sopID string, stepIndex int, outcome ActionOutcome) error {
	e.mu.Lock()
	ch, ok := e.waiters[waiterKey(sopID, stepIndex)]
	e.mu.Unlock()
	if !ok {
		return fmt.Errorf("no pending step %d for sop %s", stepIndex, sopID)
	}
	ch <- outcome
	return nil
}

func (e *Executor) registerWaiter(sopID string, stepIndex int) chan ActionOutcome {
	ch := make(chan ActionOutcome, 1)
	e.mu.Lock()
	e.waiters[waiterKey(sopID, stepIndex)] = ch
	e.mu.Unlock()
	return ch
}

func (e *Executor) clearWaiter(sopID string, stepIndex int) {
	e.mu.Lock()
	delete(e.waiters, waiterKey(sopID, stepIndex))
	e.mu.Unlock()
}

// Execute runs candidate's steps in order, returning the recorded
// ExecutionOutcome. It mutates candidate.Steps in place with start/end
// timestamps and status, threading the mode-aware dispatch through every
// handler invocation.
func (e *Executor) Execute(ctx context.Context, candidate *types.SOPCandidate, mode Mode) (*types.ExecutionOutcome, error) {
	dry := mode == ModeDryRun
	outcome := &types.ExecutionOutcome{Mode: string(mode), Succeeded: true}

	for i := range candidate.Steps {
		step := &candidate.Steps[i]

		if ctx.Err() != nil {
			e.failRemaining(ctx, candidate, i, "incident deadline exceeded")
			outcome.Succeeded = false
			outcome.Reason = "cancelled: " + ctx.Err().Error()
			break
		}

		now := time.Now()
		step.StartedAt = &now
		step.Status = types.StepRunning

		var result ActionOutcome
		var err error
		if step.AutoExecutable {
			metrics.IncrementConcurrentActions()
			result, err = e.registry.Execute(ctx, step.ActionID, step.Parameters, dry)
			metrics.DecrementConcurrentActions()
			if err == nil && result.OK {
				metrics.RecordAction(step.ActionID, time.Since(now))
			} else {
				metrics.RecordActionError(step.ActionID, actionErrorType(result, err))
			}
		} else {
			result, err = e.awaitManualCompletion(ctx, candidate.SOPID, i)
		}

		ended := time.Now()
		step.EndedAt = &ended

		if err != nil || !result.OK {
			step.Status = types.StepFailed
			outcome.Succeeded = false
			reason := result.Error
			if err != nil {
				reason = err.Error()
				if step.AutoExecutable && !e.registry.IsRegistered(step.ActionID) {
					reason = "unknown_action"
				}
			}
			outcome.Reason = reason

			if step.Rollback != nil {
				e.runRollback(ctx, candidate.SOPID, step, dry)
			}

			e.failRemaining(ctx, candidate, i+1, "preceding step failed")
			break
		}

		step.Status = types.StepDone
	}

	outcome.Steps = candidate.Steps
	return outcome, nil
}

func (e *Executor) awaitManualCompletion(ctx context.Context, sopID string, stepIndex int) (ActionOutcome, error) {
	ch := e.registerWaiter(sopID, stepIndex)
	defer e.clearWaiter(sopID, stepIndex)

	select {
	case result := <-ch:
		return result, nil
	case <-ctx.Done():
		return ActionOutcome{}, ctx.Err()
	}
}

// runRollback invokes a failed step's declared rollback. A rollback that
// itself fails escalates: the failure is logged at error level and a
// high-severity notification is dispatched through the attached
// transport, best-effort.
func (e *Executor) runRollback(ctx context.Context, sopID string, step *types.SOPStep, dry bool) {
	result, err := e.registry.Execute(ctx, step.Rollback.ActionID, step.Rollback.Parameters, dry)
	if err == nil && result.OK {
		return
	}

	reason := result.Error
	if err != nil {
		reason = err.Error()
	}
	e.log.WithFields(logrus.Fields{
		"sop_id":    sopID,
		"step_id":   step.ID,
		"action_id": step.Rollback.ActionID,
		"reason":    reason,
	}).Error("rollback failed, escalating incident")

	if e.notify == nil {
		return
	}
	n := &delivery.Notification{
		ID:        fmt.Sprintf("rollback-failed-%s-%s", sopID, step.ID),
		Subject:   fmt.Sprintf("rollback %s failed for sop %s", step.Rollback.ActionID, sopID),
		Body:      reason,
		Labels:    map[string]string{"severity": "critical"},
		CreatedAt: time.Now(),
	}
	if derr := e.notify.Deliver(ctx, n); derr != nil {
		e.log.WithError(derr).Warn("failed to deliver rollback failure notification")
	}
}

// failRemaining marks every step from index onward as skipped, the
// Executor never re-ordering or re-attempting them after a failure.
func (e *Executor) failRemaining(ctx context.Context, candidate *types.SOPCandidate, from int, reason string) {
	for i := from; i < len(candidate.Steps); i++ {
		if candidate.Steps[i].Status == types.StepPending || candidate.Steps[i].Status == "" {
			candidate.Steps[i].Status = types.StepSkipped
		}
	}
}
