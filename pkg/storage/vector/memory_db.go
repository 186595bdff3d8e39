package vector

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	sharedmath "github.com/agenticaiops/incident-core/pkg/shared/math"
)

// MemoryVectorDatabase is an in-process, cosine-similarity-backed Database.
// It is the Knowledge Store's default index: no external dependency, full
// semantic fallback search, bounded to what fits in a single process's
// memory.
type MemoryVectorDatabase struct {
	mu       sync.RWMutex
	patterns map[string]*ActionPattern
	log      *logrus.Logger
}

// NewMemoryVectorDatabase creates an empty in-memory pattern store.
func NewMemoryVectorDatabase(log *logrus.Logger) *MemoryVectorDatabase {
	if log == nil {
		log = logrus.New()
	}
	return &MemoryVectorDatabase{
		patterns: make(map[string]*ActionPattern),
		log:      log,
	}
}

// StoreActionPattern inserts or replaces a pattern by ID, stamping UpdatedAt.
func (db *MemoryVectorDatabase) StoreActionPattern(_ context.Context, pattern *ActionPattern) error {
	if pattern.ID == "" {
		return fmt.Errorf("pattern ID cannot be empty")
	}
	if len(pattern.Embedding) == 0 {
		return fmt.Errorf("pattern embedding cannot be empty")
	}

	db.mu.Lock()
	defer db.mu.Unlock()

	stored := *pattern
	stored.UpdatedAt = time.Now()
	db.patterns[pattern.ID] = &stored
	return nil
}

// GetPattern returns the pattern with the given ID.
func (db *MemoryVectorDatabase) GetPattern(id string) (*ActionPattern, error) {
	db.mu.RLock()
	defer db.mu.RUnlock()

	pattern, ok := db.patterns[id]
	if !ok {
		return nil, fmt.Errorf("pattern with ID %s not found", id)
	}
	return pattern, nil
}

// FindSimilarPatterns ranks stored patterns by cosine similarity to query,
// excluding query itself, filtering below threshold, and capping at limit.
func (db *MemoryVectorDatabase) FindSimilarPatterns(_ context.Context, query *ActionPattern, limit int, threshold float64) ([]*SimilarPattern, error) {
	if len(query.Embedding) == 0 {
		return nil, fmt.Errorf("query pattern embedding cannot be empty")
	}

	db.mu.RLock()
	defer db.mu.RUnlock()

	var matches []*SimilarPattern
	for id, pattern := range db.patterns {
		if id == query.ID {
			continue
		}
		similarity := sharedmath.CosineSimilarity(query.Embedding, pattern.Embedding)
		if similarity < threshold {
			continue
		}
		matches = append(matches, &SimilarPattern{Pattern: pattern, Similarity: similarity})
	}

	sort.Slice(matches, func(i, j int) bool {
		return matches[i].Similarity > matches[j].Similarity
	})

	if limit > 0 && len(matches) > limit {
		matches = matches[:limit]
	}
	for i, m := range matches {
		m.Rank = i + 1
	}
	return matches, nil
}

// UpdatePatternEffectiveness records a fresh effectiveness score, creating
// the EffectivenessData block if the pattern never had one.
func (db *MemoryVectorDatabase) UpdatePatternEffectiveness(_ context.Context, id string, score float64) error {
	db.mu.Lock()
	defer db.mu.Unlock()

	pattern, ok := db.patterns[id]
	if !ok {
		return fmt.Errorf("pattern with ID %s not found", id)
	}

	if pattern.EffectivenessData == nil {
		pattern.EffectivenessData = &EffectivenessData{}
	}
	pattern.EffectivenessData.Score = score
	pattern.EffectivenessData.LastAssessed = time.Now()
	pattern.UpdatedAt = time.Now()
	return nil
}

// SearchBySemantics matches text against action type, alert name, resource
// type, and context labels as a fallback when no query vector is available,
// sorted by descending effectiveness.
func (db *MemoryVectorDatabase) SearchBySemantics(_ context.Context, text string, limit int) ([]*ActionPattern, error) {
	needle := strings.ToLower(text)

	db.mu.RLock()
	defer db.mu.RUnlock()

	var matches []*ActionPattern
	for _, pattern := range db.patterns {
		if matchesSemanticText(pattern, needle) {
			matches = append(matches, pattern)
		}
	}

	sort.Slice(matches, func(i, j int) bool {
		return effectivenessScore(matches[i]) > effectivenessScore(matches[j])
	})

	if limit > 0 && len(matches) > limit {
		matches = matches[:limit]
	}
	return matches, nil
}

func matchesSemanticText(pattern *ActionPattern, needle string) bool {
	haystacks := []string{
		pattern.ActionType,
		pattern.AlertName,
		pattern.AlertSeverity,
		pattern.ResourceType,
		pattern.ResourceName,
	}
	for _, field := range haystacks {
		if strings.Contains(strings.ToLower(field), needle) {
			return true
		}
	}
	for _, v := range pattern.ContextLabels {
		if strings.Contains(strings.ToLower(v), needle) {
			return true
		}
	}
	return false
}

func effectivenessScore(pattern *ActionPattern) float64 {
	if pattern.EffectivenessData == nil {
		return 0.0
	}
	return pattern.EffectivenessData.Score
}

// DeletePattern removes a pattern by ID.
func (db *MemoryVectorDatabase) DeletePattern(_ context.Context, id string) error {
	db.mu.Lock()
	defer db.mu.Unlock()

	if _, ok := db.patterns[id]; !ok {
		return fmt.Errorf("pattern with ID %s not found", id)
	}
	delete(db.patterns, id)
	return nil
}

// GetPatternAnalytics summarizes the current pattern population.
func (db *MemoryVectorDatabase) GetPatternAnalytics(_ context.Context) (*PatternAnalytics, error) {
	db.mu.RLock()
	defer db.mu.RUnlock()

	analytics := &PatternAnalytics{
		PatternsByActionType:      make(map[string]int),
		PatternsBySeverity:        make(map[string]int),
		EffectivenessDistribution: make(map[string]int),
		GeneratedAt:               time.Now(),
	}

	all := make([]*ActionPattern, 0, len(db.patterns))
	for _, pattern := range db.patterns {
		all = append(all, pattern)
	}
	analytics.TotalPatterns = len(all)

	var scoreSum float64
	var scoreCount int
	for _, pattern := range all {
		analytics.PatternsByActionType[pattern.ActionType]++
		analytics.PatternsBySeverity[pattern.AlertSeverity]++

		if pattern.EffectivenessData != nil {
			scoreSum += pattern.EffectivenessData.Score
			scoreCount++
			analytics.EffectivenessDistribution[effectivenessBucket(pattern.EffectivenessData.Score)]++
		}
	}
	if scoreCount > 0 {
		analytics.AverageEffectiveness = scoreSum / float64(scoreCount)
	}

	top := make([]*ActionPattern, len(all))
	copy(top, all)
	sort.Slice(top, func(i, j int) bool {
		return effectivenessScore(top[i]) > effectivenessScore(top[j])
	})
	analytics.TopPerformingPatterns = capPatterns(top, 5)

	recent := make([]*ActionPattern, len(all))
	copy(recent, all)
	sort.Slice(recent, func(i, j int) bool {
		return recent[i].CreatedAt.After(recent[j].CreatedAt)
	})
	analytics.RecentPatterns = capPatterns(recent, 10)

	return analytics, nil
}

func capPatterns(patterns []*ActionPattern, n int) []*ActionPattern {
	if len(patterns) > n {
		return patterns[:n]
	}
	return patterns
}

// effectivenessBucket labels a score for the PatternAnalytics distribution.
func effectivenessBucket(score float64) string {
	switch {
	case score >= 0.95:
		return "excellent"
	case score >= 0.8:
		return "very_good"
	case score >= 0.7:
		return "good"
	case score >= 0.6:
		return "fair"
	default:
		return "poor"
	}
}

// GetPatternCount returns the number of stored patterns.
func (db *MemoryVectorDatabase) GetPatternCount() int {
	db.mu.RLock()
	defer db.mu.RUnlock()
	return len(db.patterns)
}

// Clear removes every stored pattern.
func (db *MemoryVectorDatabase) Clear() {
	db.mu.Lock()
	defer db.mu.Unlock()
	db.patterns = make(map[string]*ActionPattern)
}

// IsHealthy always succeeds for the in-memory implementation; it exists to
// satisfy Database for implementations that front a real service.
func (db *MemoryVectorDatabase) IsHealthy(_ context.Context) error {
	return nil
}

var _ Database = (*MemoryVectorDatabase)(nil)
