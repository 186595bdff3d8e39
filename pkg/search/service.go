// Package search implements the Search Service (C5): a layered L1
// (keyword) / L2 (vector) / L3 (external) retriever over the Knowledge
// Store, selectable by strategy and stopping as early as each strategy's
// thresholds allow.
package search

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/agenticaiops/incident-core/pkg/pipeline/types"
)

// MaxQueryLength is the query text length truncation applied before
// embedding.
const MaxQueryLength = 2048

// KnowledgeSource is the subset of the Knowledge Store the Search Service
// queries.
type KnowledgeSource interface {
	SearchKeyword(query string, filters map[string]string, k int) []types.SearchHit
	SearchVector(ctx context.Context, query string, filters map[string]string, k int, minScore float64) ([]types.SearchHit, error)
}

// ExternalRetriever is an optional L3 managed knowledge base (Bedrock
// Knowledge Bases-style).
type ExternalRetriever interface {
	Retrieve(ctx context.Context, query string, k int) ([]types.SearchHit, error)
}

// Service implements the layered L1/L2/L3 cascade.
type Service struct {
	knowledge KnowledgeSource
	external  ExternalRetriever
	log       *logrus.Logger
}

// NewService builds a Service. external may be nil, in which case L3 is
// never attempted.
func NewService(knowledge KnowledgeSource, external ExternalRetriever, log *logrus.Logger) *Service {
	return &Service{knowledge: knowledge, external: external, log: log}
}

// Search runs the layered cascade selected by strategy.
func (s *Service) Search(ctx context.Context, query string, strategy types.SearchStrategy, docType, service string, limit int, minScore float64) *types.SearchResult {
	start := time.Now()
	if len(query) > MaxQueryLength {
		query = query[:MaxQueryLength]
	}

	filters := map[string]string{}
	if docType != "" {
		filters["doc_type"] = docType
	}
	if service != "" {
		filters["service"] = service
	}

	var hits []types.SearchHit
	var levels []string

	l1 := s.knowledge.SearchKeyword(query, filters, limit)
	levels = append(levels, "L1")
	hits = append(hits, l1...)

	if strategy == types.StrategyFast {
		return finish(hits, strategy, levels, start)
	}

	if strategy != types.StrategyDeep && topScore(l1) >= types.L1StopThreshold {
		return finish(hits, strategy, levels, start)
	}

	l2, err := s.knowledge.SearchVector(ctx, query, filters, limit, minScore)
	levels = append(levels, "L2")
	if err != nil {
		s.log.WithError(err).Warn("L2 vector search unavailable, degrading to L1 results")
		return finish(hits, strategy, levels, start)
	}
	hits = append(hits, l2...)

	if strategy == types.StrategySemantic {
		return finish(hits, strategy, levels, start)
	}

	if strategy != types.StrategyDeep && topScore(l2) >= types.L2StopThreshold {
		return finish(hits, strategy, levels, start)
	}

	if s.external != nil {
		l3, err := s.external.Retrieve(ctx, query, limit)
		levels = append(levels, "L3")
		if err != nil {
			s.log.WithError(err).Warn("L3 retrieval failed")
		} else {
			hits = append(hits, l3...)
		}
	}

	return finish(hits, strategy, levels, start)
}

func topScore(hits []types.SearchHit) float64 {
	top := 0.0
	for _, h := range hits {
		if h.Score > top {
			top = h.Score
		}
	}
	return top
}

func finish(hits []types.SearchHit, strategy types.SearchStrategy, levels []string, start time.Time) *types.SearchResult {
	return &types.SearchResult{
		Hits:         hits,
		StrategyUsed: strategy,
		LevelsTried:  levels,
		DurationMS:   time.Since(start).Milliseconds(),
		TotalHits:    len(hits),
	}
}
