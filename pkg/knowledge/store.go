// Package knowledge implements the Knowledge Store (C4): the authoritative
// pattern repository, backed by an object store for durability and a vector
// index for similarity search. The object store is always written first;
// a vector-index write failure is logged and never rolls back the write.
package knowledge

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/agenticaiops/incident-core/pkg/pipeline/types"
	"github.com/agenticaiops/incident-core/pkg/storage/vector"
)

const objectKeyPrefix = "pattern/"

// ObjectStore is the authoritative key/value persistence contract.
type ObjectStore interface {
	Put(ctx context.Context, key string, value []byte) error
	Get(ctx context.Context, key string) ([]byte, error)
	List(ctx context.Context, prefix string) ([]string, error)
}

// Embedder turns pattern text into a vector for indexing.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float64, error)
}

// Store is the Knowledge Store: Postgres-backed (or any ObjectStore)
// authoritative patterns fronting a vector.Database index.
type Store struct {
	objects ObjectStore
	vectors vector.Database
	embed   Embedder
	log     *logrus.Logger

	locks sync.Map // pattern_id -> *sync.Mutex

	cacheMu sync.RWMutex
	cache   map[string]*types.Pattern
}

// NewStore builds a Store over objects (durable) and vectors (similarity
// index), priming its in-process cache from whatever objects already holds.
func NewStore(ctx context.Context, objects ObjectStore, vectors vector.Database, embed Embedder, log *logrus.Logger) (*Store, error) {
	s := &Store{
		objects: objects,
		vectors: vectors,
		embed:   embed,
		log:     log,
		cache:   make(map[string]*types.Pattern),
	}
	if err := s.primeCache(ctx); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Store) primeCache(ctx context.Context) error {
	keys, err := s.objects.List(ctx, objectKeyPrefix)
	if err != nil {
		return fmt.Errorf("failed to list existing patterns: %w", err)
	}
	for _, key := range keys {
		data, err := s.objects.Get(ctx, key)
		if err != nil || data == nil {
			continue
		}
		var p types.Pattern
		if err := json.Unmarshal(data, &p); err != nil {
			continue
		}
		s.cacheMu.Lock()
		s.cache[p.PatternID] = &p
		s.cacheMu.Unlock()
	}
	return nil
}

func (s *Store) lockFor(patternID string) *sync.Mutex {
	l, _ := s.locks.LoadOrStore(patternID, &sync.Mutex{})
	return l.(*sync.Mutex)
}

func objectKey(patternID string) string {
	return objectKeyPrefix + patternID
}

// UpsertPattern writes pattern to the object store first, then best-effort
// indexes its embedding when qualityScore meets the indexable floor.
// Concurrent upserts of the same pattern id serialise and merge
// occurrence_count/success_rate.
func (s *Store) UpsertPattern(ctx context.Context, pattern *types.Pattern, qualityScore float64) (bool, error) {
	lock := s.lockFor(pattern.PatternID)
	lock.Lock()
	defer lock.Unlock()

	existing, _ := s.getPatternLocked(ctx, pattern.PatternID)
	merged := mergePattern(existing, pattern)

	data, err := json.Marshal(merged)
	if err != nil {
		return false, fmt.Errorf("failed to serialize pattern: %w", err)
	}
	if err := s.objects.Put(ctx, objectKey(merged.PatternID), data); err != nil {
		return false, fmt.Errorf("failed to persist pattern: %w", err)
	}

	s.cacheMu.Lock()
	s.cache[merged.PatternID] = merged
	s.cacheMu.Unlock()

	if merged.Indexable(qualityScore) && s.vectors != nil && s.embed != nil {
		if err := s.index(ctx, merged); err != nil {
			s.log.WithError(err).WithField("pattern_id", merged.PatternID).Warn("vector index write failed, flagged for re-indexing")
		}
	}

	return true, nil
}

func mergePattern(existing, incoming *types.Pattern) *types.Pattern {
	merged := *incoming
	now := time.Now()
	if existing != nil {
		merged.OccurrenceCount = existing.OccurrenceCount + incoming.OccurrenceCount
		if merged.OccurrenceCount > 0 {
			merged.SuccessRate = (existing.SuccessRate*float64(existing.OccurrenceCount) +
				incoming.SuccessRate*float64(incoming.OccurrenceCount)) / float64(merged.OccurrenceCount)
		}
		if existing.CreatedAt.Before(now) && !existing.CreatedAt.IsZero() {
			merged.CreatedAt = existing.CreatedAt
		}
	}
	if merged.CreatedAt.IsZero() {
		merged.CreatedAt = now
	}
	merged.UpdatedAt = now
	return &merged
}

func (s *Store) index(ctx context.Context, p *types.Pattern) error {
	embedding, err := s.embed.Embed(ctx, p.EmbeddingText())
	if err != nil {
		return err
	}
	return s.vectors.StoreActionPattern(ctx, &vector.ActionPattern{
		ID:            p.PatternID,
		ActionType:    p.Category,
		AlertName:     p.Title,
		AlertSeverity: string(p.Severity),
		Embedding:     embedding,
		CreatedAt:     p.CreatedAt,
		UpdatedAt:     p.UpdatedAt,
	})
}

// GetPattern returns the pattern for patternID, or (nil, nil) when absent.
func (s *Store) GetPattern(ctx context.Context, patternID string) (*types.Pattern, error) {
	return s.getPatternLocked(ctx, patternID)
}

func (s *Store) getPatternLocked(ctx context.Context, patternID string) (*types.Pattern, error) {
	s.cacheMu.RLock()
	p, ok := s.cache[patternID]
	s.cacheMu.RUnlock()
	if ok {
		return p, nil
	}

	data, err := s.objects.Get(ctx, objectKey(patternID))
	if err != nil {
		return nil, fmt.Errorf("failed to read pattern: %w", err)
	}
	if data == nil {
		return nil, nil
	}
	var pattern types.Pattern
	if err := json.Unmarshal(data, &pattern); err != nil {
		return nil, fmt.Errorf("failed to deserialize pattern: %w", err)
	}
	return &pattern, nil
}

// SearchKeyword scores every cached pattern by substring/symptom overlap
// against query, applying filters post-match, used by Search Service L1.
func (s *Store) SearchKeyword(query string, filters map[string]string, k int) []types.SearchHit {
	q := strings.ToLower(query)

	s.cacheMu.RLock()
	defer s.cacheMu.RUnlock()

	var hits []types.SearchHit
	for _, p := range s.cache {
		if !matchesFilters(p, filters) {
			continue
		}
		score := keywordScore(q, p)
		if score <= 0 {
			continue
		}
		hits = append(hits, types.SearchHit{PatternID: p.PatternID, Pattern: p, Score: score, Layer: "L1"})
	}
	return topK(hits, k)
}

func matchesFilters(p *types.Pattern, filters map[string]string) bool {
	for k, v := range filters {
		switch k {
		case "doc_type", "category":
			if p.Category != v {
				return false
			}
		case "service":
			if p.Service != v {
				return false
			}
		}
	}
	return true
}

func keywordScore(query string, p *types.Pattern) float64 {
	haystack := strings.ToLower(p.Title + " " + p.Description)
	score := 0.0
	if query != "" && strings.Contains(haystack, query) {
		score += 0.6
	}
	for _, symptom := range p.Symptoms {
		if query != "" && strings.Contains(strings.ToLower(symptom), query) {
			score += 0.2
		}
	}
	if score > 1.0 {
		score = 1.0
	}
	return score
}

func topK(hits []types.SearchHit, k int) []types.SearchHit {
	for i := 0; i < len(hits); i++ {
		for j := i + 1; j < len(hits); j++ {
			if hits[j].Score > hits[i].Score {
				hits[i], hits[j] = hits[j], hits[i]
			}
		}
	}
	if k > 0 && len(hits) > k {
		hits = hits[:k]
	}
	return hits
}

// SearchVector runs a cosine-kNN query against the vector index, used by
// Search Service L2.
func (s *Store) SearchVector(ctx context.Context, query string, filters map[string]string, k int, minScore float64) ([]types.SearchHit, error) {
	if s.vectors == nil || s.embed == nil {
		return nil, nil
	}

	queryVector, err := s.embed.Embed(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to embed search query: %w", err)
	}

	similar, err := s.vectors.FindSimilarPatterns(ctx, &vector.ActionPattern{Embedding: queryVector}, k, minScore)
	if err != nil {
		return nil, fmt.Errorf("vector search failed: %w", err)
	}

	hits := make([]types.SearchHit, 0, len(similar))
	for _, sp := range similar {
		p, _ := s.getPatternLocked(ctx, sp.Pattern.ID)
		if p != nil && !matchesFilters(p, filters) {
			continue
		}
		hits = append(hits, types.SearchHit{PatternID: sp.Pattern.ID, Pattern: p, Score: sp.Similarity, Layer: "L2"})
	}
	return hits, nil
}

// RebuildIndex re-embeds and re-indexes every known pattern.
func (s *Store) RebuildIndex(ctx context.Context) (rebuilt int, failed int) {
	s.cacheMu.RLock()
	patterns := make([]*types.Pattern, 0, len(s.cache))
	for _, p := range s.cache {
		patterns = append(patterns, p)
	}
	s.cacheMu.RUnlock()

	for _, p := range patterns {
		if s.vectors == nil || s.embed == nil {
			continue
		}
		if err := s.index(ctx, p); err != nil {
			failed++
			continue
		}
		rebuilt++
	}
	return rebuilt, failed
}
