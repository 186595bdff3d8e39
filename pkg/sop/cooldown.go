package sop

import (
	"context"
	"sync"
	"time"

	"github.com/agenticaiops/incident-core/pkg/infrastructure/metrics"
)

// ResourceCooldownWindow is the per-(resource_id, sop_id) re-execution
// cooldown window.
const ResourceCooldownWindow = 30 * time.Minute

// GlobalWindow and GlobalMaxRuns bound how often any single SOP may run
// across every resource.
const (
	GlobalWindow  = 5 * time.Minute
	GlobalMaxRuns = 3
)

// CooldownDecision is the verdict of a cooldown check.
type CooldownDecision struct {
	Allowed bool
	Reason  string
}

// CooldownStore enforces the two cooldown rules: at most one
// execution per (resource_id, sop_id) per ResourceCooldownWindow, and at
// most GlobalMaxRuns executions of any sop_id per GlobalWindow.
type CooldownStore interface {
	Check(ctx context.Context, resourceID, sopID string, now time.Time) (CooldownDecision, error)
	Record(ctx context.Context, resourceID, sopID string, now time.Time) error
}

// InMemoryCooldownStore is a process-local CooldownStore guarded by a
// short critical section. Each NewInMemoryCooldownStore call returns an
// independent store.
type InMemoryCooldownStore struct {
	mu         sync.Mutex
	lastRun    map[string]time.Time   // "resource|sop" -> last execution time
	globalRuns map[string][]time.Time // sop -> recent execution times
}

// NewInMemoryCooldownStore returns an empty InMemoryCooldownStore.
func NewInMemoryCooldownStore() *InMemoryCooldownStore {
	return &InMemoryCooldownStore{
		lastRun:    make(map[string]time.Time),
		globalRuns: make(map[string][]time.Time),
	}
}

func cooldownKey(resourceID, sopID string) string {
	return resourceID + "|" + sopID
}

// Check reports whether (resourceID, sopID) may execute at now.
func (s *InMemoryCooldownStore) Check(ctx context.Context, resourceID, sopID string, now time.Time) (CooldownDecision, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if last, ok := s.lastRun[cooldownKey(resourceID, sopID)]; ok {
		if now.Sub(last) < ResourceCooldownWindow {
			return CooldownDecision{Allowed: false, Reason: "resource cooldown active"}, nil
		}
	}

	count := 0
	for _, t := range s.globalRuns[sopID] {
		if now.Sub(t) < GlobalWindow {
			count++
		}
	}
	if count >= GlobalMaxRuns {
		return CooldownDecision{Allowed: false, Reason: "global sop rate limit reached"}, nil
	}

	return CooldownDecision{Allowed: true}, nil
}

// Record marks (resourceID, sopID) as executed at now.
func (s *InMemoryCooldownStore) Record(ctx context.Context, resourceID, sopID string, now time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.lastRun[cooldownKey(resourceID, sopID)] = now

	runs := s.globalRuns[sopID]
	pruned := runs[:0]
	for _, t := range runs {
		if now.Sub(t) < GlobalWindow {
			pruned = append(pruned, t)
		}
	}
	s.globalRuns[sopID] = append(pruned, now)

	active := 0
	for _, t := range s.lastRun {
		if now.Sub(t) < ResourceCooldownWindow {
			active++
		}
	}
	metrics.SetSOPsInCooldown(float64(active))
	return nil
}

var _ CooldownStore = (*InMemoryCooldownStore)(nil)
