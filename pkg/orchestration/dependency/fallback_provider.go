package dependency

import (
	"context"
	"fmt"
	"sort"
	"sync"

	sharedmath "github.com/agenticaiops/incident-core/pkg/shared/math"
	"github.com/sirupsen/logrus"
)

// FallbackMetrics tracks how often a FallbackProvider has been used and how
// those calls resolved.
type FallbackMetrics struct {
	TotalOperations      int64
	SuccessfulOperations int64
	FailedOperations     int64
	FallbacksProvided    int64
}

// FallbackProvider stands in for an external dependency (a vector index, a
// pattern store) when the real one is unreachable, trading precision for
// continuity.
type FallbackProvider interface {
	ProvideFallback(ctx context.Context, operation string, params map[string]interface{}) (interface{}, error)
	GetMetrics() FallbackMetrics
}

// VectorSearchResult is a similarity hit returned by InMemoryVectorFallback.
type VectorSearchResult struct {
	ID         string
	Similarity float64
	Metadata   map[string]interface{}
}

type storedVector struct {
	id       string
	vector   []float64
	metadata map[string]interface{}
}

// InMemoryVectorFallback answers vector store/search operations from an
// in-process map, so the Knowledge Store's semantic search keeps working
// (in degraded form) when the configured vector database is unreachable.
type InMemoryVectorFallback struct {
	mu      sync.Mutex
	log     *logrus.Logger
	vectors map[string]storedVector
	metrics FallbackMetrics
}

// NewInMemoryVectorFallback builds an empty in-memory vector fallback.
func NewInMemoryVectorFallback(log *logrus.Logger) *InMemoryVectorFallback {
	return &InMemoryVectorFallback{
		log:     log,
		vectors: make(map[string]storedVector),
	}
}

// CalculateSimilarity returns the cosine similarity between v1 and v2,
// or 0 when either vector has zero magnitude.
func (f *InMemoryVectorFallback) CalculateSimilarity(v1, v2 []float64) float64 {
	return sharedmath.CosineSimilarity(v1, v2)
}

func (f *InMemoryVectorFallback) record(success bool) {
	f.metrics.TotalOperations++
	f.metrics.FallbacksProvided++
	if success {
		f.metrics.SuccessfulOperations++
	} else {
		f.metrics.FailedOperations++
	}
}

// ProvideFallback handles "store" and "search" operations against the
// in-memory vector map.
func (f *InMemoryVectorFallback) ProvideFallback(ctx context.Context, operation string, params map[string]interface{}) (interface{}, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	switch operation {
	case "store":
		id, _ := params["id"].(string)
		vec, _ := params["vector"].([]float64)
		meta, _ := params["metadata"].(map[string]interface{})
		if id == "" || vec == nil {
			f.record(false)
			return nil, fmt.Errorf("store requires id and vector parameters")
		}
		f.vectors[id] = storedVector{id: id, vector: vec, metadata: meta}
		f.record(true)
		return id, nil

	case "search":
		query, _ := params["vector"].([]float64)
		limit, _ := params["limit"].(int)
		if limit <= 0 {
			limit = 10
		}
		results := make([]VectorSearchResult, 0, len(f.vectors))
		for _, sv := range f.vectors {
			results = append(results, VectorSearchResult{
				ID:         sv.id,
				Similarity: f.CalculateSimilarity(query, sv.vector),
				Metadata:   sv.metadata,
			})
		}
		sort.Slice(results, func(i, j int) bool { return results[i].Similarity > results[j].Similarity })
		if len(results) > limit {
			results = results[:limit]
		}
		f.record(true)
		return results, nil

	default:
		f.record(false)
		return nil, fmt.Errorf("unsupported vector fallback operation: %s", operation)
	}
}

// GetMetrics returns the fallback's usage metrics.
func (f *InMemoryVectorFallback) GetMetrics() FallbackMetrics {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.metrics
}

// InMemoryPatternFallback answers pattern store/lookup operations from an
// in-process slice, standing in for the Knowledge Store's pattern index.
type InMemoryPatternFallback struct {
	mu       sync.Mutex
	log      *logrus.Logger
	patterns []map[string]interface{}
	metrics  FallbackMetrics
}

// NewInMemoryPatternFallback builds an empty in-memory pattern fallback.
func NewInMemoryPatternFallback(log *logrus.Logger) *InMemoryPatternFallback {
	return &InMemoryPatternFallback{log: log}
}

func (f *InMemoryPatternFallback) record(success bool) {
	f.metrics.TotalOperations++
	f.metrics.FallbacksProvided++
	if success {
		f.metrics.SuccessfulOperations++
	} else {
		f.metrics.FailedOperations++
	}
}

// ProvideFallback handles "store_pattern" and "get_patterns_by_type"
// operations against the in-memory pattern slice.
func (f *InMemoryPatternFallback) ProvideFallback(ctx context.Context, operation string, params map[string]interface{}) (interface{}, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	switch operation {
	case "store_pattern":
		pattern, _ := params["pattern"].(map[string]interface{})
		if pattern == nil {
			f.record(false)
			return nil, fmt.Errorf("store_pattern requires a pattern parameter")
		}
		f.patterns = append(f.patterns, pattern)
		f.record(true)
		return pattern["id"], nil

	case "get_patterns_by_type":
		patternType, _ := params["type"].(string)
		orderBy, _ := params["order_by"].(string)

		matches := make([]map[string]interface{}, 0)
		for _, p := range f.patterns {
			if t, _ := p["type"].(string); t == patternType {
				matches = append(matches, p)
			}
		}
		if orderBy == "success_rate" {
			sort.Slice(matches, func(i, j int) bool {
				return successRate(matches[i]) > successRate(matches[j])
			})
		}
		f.record(true)
		return matches, nil

	default:
		f.record(false)
		return nil, fmt.Errorf("unsupported pattern fallback operation: %s", operation)
	}
}

func successRate(pattern map[string]interface{}) float64 {
	v, _ := pattern["success_rate"].(float64)
	return v
}

// GetMetrics returns the fallback's usage metrics.
func (f *InMemoryPatternFallback) GetMetrics() FallbackMetrics {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.metrics
}

// DependencyConfig governs the DependencyManager's fallback behavior.
type DependencyConfig struct {
	EnableFallbacks bool
}

// HealthReport summarizes which fallback providers are registered.
type HealthReport struct {
	FallbacksAvailable []string
}

// DependencyManager tracks registered fallback providers for the pipeline's
// external dependencies (vector store, pattern store, model backend).
type DependencyManager struct {
	mu        sync.Mutex
	cfg       *DependencyConfig
	log       *logrus.Logger
	fallbacks map[string]FallbackProvider
}

// NewDependencyManager builds a manager using cfg.
func NewDependencyManager(cfg *DependencyConfig, log *logrus.Logger) *DependencyManager {
	return &DependencyManager{
		cfg:       cfg,
		log:       log,
		fallbacks: make(map[string]FallbackProvider),
	}
}

// RegisterFallback registers provider under name.
func (dm *DependencyManager) RegisterFallback(name string, provider FallbackProvider) error {
	if !dm.cfg.EnableFallbacks {
		return fmt.Errorf("fallbacks are disabled")
	}
	dm.mu.Lock()
	defer dm.mu.Unlock()
	dm.fallbacks[name] = provider
	return nil
}

// GetHealthReport lists the names of all registered fallback providers.
func (dm *DependencyManager) GetHealthReport() HealthReport {
	dm.mu.Lock()
	defer dm.mu.Unlock()
	names := make([]string, 0, len(dm.fallbacks))
	for name := range dm.fallbacks {
		names = append(names, name)
	}
	sort.Strings(names)
	return HealthReport{FallbacksAvailable: names}
}
