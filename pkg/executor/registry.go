// Package executor implements the SOP Executor (C9): a process-wide
// registry of action handlers and an Execute loop that runs a
// SOPCandidate's steps in order, honouring dry-run and per-step rollback.
package executor

import (
	"context"
	"fmt"
	"sync"
)

// ActionOutcome is what an ActionHandler reports back for one step.
type ActionOutcome struct {
	OK     bool
	Output interface{}
	Error  string
}

// ActionHandler performs one action, given its parameters and dispatch
// mode. dry reports whether the handler must only describe what it would
// do, never mutating state.
type ActionHandler func(ctx context.Context, params map[string]interface{}, dry bool) (ActionOutcome, error)

// ActionRegistry is the process-wide string-id → handler map the
// Executor dispatches through. Rule and SOP documents reference actions
// by id, keeping declarations loosely coupled from the handlers that
// run them.
type ActionRegistry struct {
	mu       sync.RWMutex
	handlers map[string]ActionHandler
}

// NewActionRegistry returns an empty ActionRegistry.
func NewActionRegistry() *ActionRegistry {
	return &ActionRegistry{handlers: make(map[string]ActionHandler)}
}

// Register adds handler under actionID. Re-registering an already
// registered id is an error.
func (r *ActionRegistry) Register(actionID string, handler ActionHandler) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.handlers[actionID]; exists {
		return fmt.Errorf("action %q already registered", actionID)
	}
	r.handlers[actionID] = handler
	return nil
}

// Unregister removes actionID, if present. Safe to call on an id that was
// never registered.
func (r *ActionRegistry) Unregister(actionID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.handlers, actionID)
}

// IsRegistered reports whether actionID has a handler.
func (r *ActionRegistry) IsRegistered(actionID string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.handlers[actionID]
	return ok
}

// Count returns the number of registered actions.
func (r *ActionRegistry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.handlers)
}

// Execute dispatches actionID with params and dry, returning an
// "unknown action: <id>" error when no handler is registered.
func (r *ActionRegistry) Execute(ctx context.Context, actionID string, params map[string]interface{}, dry bool) (ActionOutcome, error) {
	r.mu.RLock()
	handler, ok := r.handlers[actionID]
	r.mu.RUnlock()

	if !ok {
		return ActionOutcome{}, fmt.Errorf("unknown action: %s", actionID)
	}
	return handler(ctx, params, dry)
}
