package dependency_test

import (
	"context"
	"time"

	"github.com/agenticaiops/incident-core/pkg/orchestration/dependency"
	"github.com/sirupsen/logrus"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

var _ = Describe("Fallback Provider Logic", func() {
	var (
		logger *logrus.Logger
		ctx    context.Context
	)

	BeforeEach(func() {
		logger = logrus.New()
		logger.SetLevel(logrus.ErrorLevel) // Reduce noise during tests
		ctx = context.Background()
	})

	// Business Requirement: BR-REL-009 - Fallback mechanisms for external dependencies
	Context("BR-REL-009: Vector Database Fallback Provider", func() {
		It("should provide in-memory vector storage fallback", func() {
			// Business Contract: Vector database fallback should maintain similarity search capability
			fallback := dependency.NewInMemoryVectorFallback(logger)

			// Test vector storage
			testVector := []float64{0.1, 0.2, 0.3, 0.4, 0.5}
			metadata := map[string]interface{}{
				"pattern_type": "cpu_spike",
				"namespace":    "production",
			}

			params := map[string]interface{}{
				"id":       "test_pattern_1",
				"vector":   testVector,
				"metadata": metadata,
			}

			// Store vector using fallback
			result, err := fallback.ProvideFallback(ctx, "store", params)
			Expect(err).ToNot(HaveOccurred())
			Expect(result).ToNot(BeNil())

			// Verify storage metrics
			metrics := fallback.GetMetrics()
			Expect(metrics.FallbacksProvided).To(Equal(int64(1)))
			Expect(metrics.TotalOperations).To(Equal(int64(1)))
			Expect(metrics.SuccessfulOperations).To(Equal(int64(1)))
		})

		It("should perform similarity search in fallback mode", func() {
			// Business Requirement: BR-REL-009 - Similarity search capability in fallback
			fallback := dependency.NewInMemoryVectorFallback(logger)

			// Store multiple test vectors
			vectors := []struct {
				id     string
				vector []float64
				meta   map[string]interface{}
			}{
				{"pattern_1", []float64{0.1, 0.2, 0.3}, map[string]interface{}{"type": "cpu"}},
				{"pattern_2", []float64{0.2, 0.3, 0.4}, map[string]interface{}{"type": "memory"}},
				{"pattern_3", []float64{0.1, 0.15, 0.25}, map[string]interface{}{"type": "cpu"}},
			}

			for _, v := range vectors {
				params := map[string]interface{}{
					"id":       v.id,
					"vector":   v.vector,
					"metadata": v.meta,
				}
				_, err := fallback.ProvideFallback(ctx, "store", params)
				Expect(err).ToNot(HaveOccurred())
			}

			// Perform similarity search
			searchParams := map[string]interface{}{
				"vector": []float64{0.12, 0.18, 0.28}, // Similar to pattern_1 and pattern_3
				"limit":  2,
			}

			result, err := fallback.ProvideFallback(ctx, "search", searchParams)
			Expect(err).ToNot(HaveOccurred())

			// Business Validation: Should return similar vectors
			searchResults, ok := result.([]dependency.VectorSearchResult)
			Expect(ok).To(BeTrue())
			Expect(len(searchResults)).To(BeNumerically(">=", 1))

			// Verify similarity calculation accuracy
			for _, res := range searchResults {
				Expect(res.Similarity).To(BeNumerically(">", 0.0))
				Expect(res.Similarity).To(BeNumerically("<=", 1.0))
			}
		})

		It("should calculate vector similarity with mathematical precision", func() {
			// Business Requirement: BR-REL-009 - Mathematical accuracy in similarity calculations
			fallback := dependency.NewInMemoryVectorFallback(logger)

			// Test cosine similarity calculation
			testCases := []struct {
				name      string
				vector1   []float64
				vector2   []float64
				expected  float64
				tolerance float64
			}{
				{"identical_vectors", []float64{1, 0, 0}, []float64{1, 0, 0}, 1.0, 0.001},
				{"orthogonal_vectors", []float64{1, 0, 0}, []float64{0, 1, 0}, 0.0, 0.001},
				{"opposite_vectors", []float64{1, 0, 0}, []float64{-1, 0, 0}, -1.0, 0.001},
				{"similar_vectors", []float64{1, 1, 0}, []float64{1, 0.5, 0}, 0.949, 0.01},
			}

			for _, tc := range testCases {
				similarity := fallback.CalculateSimilarity(tc.vector1, tc.vector2)
				Expect(similarity).To(BeNumerically("~", tc.expected, tc.tolerance),
					"Similarity calculation failed for case: %s", tc.name)
			}
		})

		It("should handle edge cases in vector operations", func() {
			// Business Requirement: BR-REL-009 - Robustness in edge cases
			fallback := dependency.NewInMemoryVectorFallback(logger)

			// Test with zero vectors
			zeroVector := []float64{0, 0, 0}
			normalVector := []float64{1, 2, 3}

			similarity := fallback.CalculateSimilarity(zeroVector, normalVector)
			Expect(similarity).To(Equal(0.0)) // Zero vector should have 0 similarity

			// Test with empty search
			searchParams := map[string]interface{}{
				"vector": []float64{1, 2, 3},
				"limit":  5,
			}

			result, err := fallback.ProvideFallback(ctx, "search", searchParams)
			Expect(err).ToNot(HaveOccurred())

			searchResults, ok := result.([]dependency.VectorSearchResult)
			Expect(ok).To(BeTrue())
			Expect(len(searchResults)).To(Equal(0)) // No stored vectors to find
		})
	})

	// Business Requirement: BR-REL-009 - Pattern store fallback mechanisms
	Context("BR-REL-009: Pattern Store Fallback Provider", func() {
		It("should provide in-memory pattern storage fallback", func() {
			// Business Contract: Pattern store fallback should maintain pattern retrieval capability
			fallback := dependency.NewInMemoryPatternFallback(logger)

			// Test pattern storage
			pattern := map[string]interface{}{
				"id":           "pattern_cpu_spike_001",
				"type":         "cpu_spike",
				"namespace":    "production",
				"actions":      []string{"scale_up", "check_resources"},
				"success_rate": 0.85,
				"created_at":   time.Now().Unix(),
			}

			params := map[string]interface{}{
				"pattern": pattern,
			}

			// Store pattern using fallback
			result, err := fallback.ProvideFallback(ctx, "store_pattern", params)
			Expect(err).ToNot(HaveOccurred())
			Expect(result).ToNot(BeNil())

			// Verify storage metrics
			metrics := fallback.GetMetrics()
			Expect(metrics.FallbacksProvided).To(Equal(int64(1)))
			Expect(metrics.TotalOperations).To(Equal(int64(1)))
		})

		It("should retrieve patterns by type in fallback mode", func() {
			// Business Requirement: BR-REL-009 - Pattern retrieval capability
			fallback := dependency.NewInMemoryPatternFallback(logger)

			// Store multiple patterns
			patterns := []map[string]interface{}{
				{
					"id":           "cpu_pattern_1",
					"type":         "cpu_spike",
					"success_rate": 0.9,
				},
				{
					"id":           "memory_pattern_1",
					"type":         "memory_leak",
					"success_rate": 0.8,
				},
				{
					"id":           "cpu_pattern_2",
					"type":         "cpu_spike",
					"success_rate": 0.85,
				},
			}

			for _, pattern := range patterns {
				params := map[string]interface{}{
					"pattern": pattern,
				}
				_, err := fallback.ProvideFallback(ctx, "store_pattern", params)
				Expect(err).ToNot(HaveOccurred())
			}

			// Retrieve patterns by type
			searchParams := map[string]interface{}{
				"type": "cpu_spike",
			}

			result, err := fallback.ProvideFallback(ctx, "get_patterns_by_type", searchParams)
			Expect(err).ToNot(HaveOccurred())

			// Business Validation: Should return CPU spike patterns only
			retrievedPatterns, ok := result.([]map[string]interface{})
			Expect(ok).To(BeTrue())
			Expect(len(retrievedPatterns)).To(Equal(2))

			for _, pattern := range retrievedPatterns {
				Expect(pattern["type"]).To(Equal("cpu_spike"))
			}
		})

		It("should maintain pattern ordering by success rate", func() {
			// Business Requirement: BR-REL-009 - Pattern ranking capability
			fallback := dependency.NewInMemoryPatternFallback(logger)

			// Store patterns with different success rates
			patterns := []map[string]interface{}{
				{"id": "pattern_low", "type": "test", "success_rate": 0.6},
				{"id": "pattern_high", "type": "test", "success_rate": 0.95},
				{"id": "pattern_medium", "type": "test", "success_rate": 0.8},
			}

			for _, pattern := range patterns {
				params := map[string]interface{}{
					"pattern": pattern,
				}
				_, err := fallback.ProvideFallback(ctx, "store_pattern", params)
				Expect(err).ToNot(HaveOccurred())
			}

			// Retrieve patterns ordered by success rate
			searchParams := map[string]interface{}{
				"type":     "test",
				"order_by": "success_rate",
			}

			result, err := fallback.ProvideFallback(ctx, "get_patterns_by_type", searchParams)
			Expect(err).ToNot(HaveOccurred())

			retrievedPatterns, ok := result.([]map[string]interface{})
			Expect(ok).To(BeTrue())
			Expect(len(retrievedPatterns)).To(Equal(3))

			// Business Validation: Should be ordered by success rate (descending)
			Expect(retrievedPatterns[0]["id"]).To(Equal("pattern_high"))   // 0.95
			Expect(retrievedPatterns[1]["id"]).To(Equal("pattern_medium")) // 0.8
			Expect(retrievedPatterns[2]["id"]).To(Equal("pattern_low"))    // 0.6
		})
	})

	// Business Requirement: BR-ERR-007 - Fallback mechanisms for AI services
	Context("BR-ERR-007: AI Service Fallback Integration", func() {
		It("should provide graceful degradation for AI decision making", func() {
			// Business Contract: AI fallbacks should maintain decision-making capability
			dm := dependency.NewDependencyManager(&dependency.DependencyConfig{
				EnableFallbacks: true,
			}, logger)

			// Register fallback providers
			vectorFallback := dependency.NewInMemoryVectorFallback(logger)
			patternFallback := dependency.NewInMemoryPatternFallback(logger)

			err := dm.RegisterFallback("vector_fallback", vectorFallback)
			Expect(err).ToNot(HaveOccurred())
			err = dm.RegisterFallback("pattern_fallback", patternFallback)
			Expect(err).ToNot(HaveOccurred())

			// Test that fallbacks are properly registered
			report := dm.GetHealthReport()
			Expect(report.FallbacksAvailable).To(ContainElement("vector_fallback"))
			Expect(report.FallbacksAvailable).To(ContainElement("pattern_fallback"))
		})

		It("should track fallback usage metrics accurately", func() {
			// Business Requirement: BR-ERR-007 - Fallback metrics for monitoring
			fallback := dependency.NewInMemoryVectorFallback(logger)

			// Perform multiple operations
			operations := []string{"store", "search", "store", "search", "store"}

			for i, op := range operations {
				params := map[string]interface{}{
					"id":     "test_" + string(rune(i)),
					"vector": []float64{float64(i), float64(i + 1), float64(i + 2)},
				}
				if op == "search" {
					params = map[string]interface{}{
						"vector": []float64{0.5, 1.5, 2.5},
						"limit":  3,
					}
				}

				_, err := fallback.ProvideFallback(ctx, op, params)
				Expect(err).ToNot(HaveOccurred())
			}

			// Business Validation: Metrics should be accurate
			metrics := fallback.GetMetrics()
			Expect(metrics.TotalOperations).To(Equal(int64(5)))
			Expect(metrics.FallbacksProvided).To(Equal(int64(5)))
			Expect(metrics.SuccessfulOperations).To(Equal(int64(5)))
			Expect(metrics.FailedOperations).To(Equal(int64(0)))
		})
	})

	// Business Requirement: BR-RELIABILITY-006 - Fallback reliability validation
	Context("BR-RELIABILITY-006: Fallback Reliability and Performance", func() {
		It("should maintain acceptable performance under load", func() {
			// Business Contract: Fallbacks should perform within acceptable limits
			fallback := dependency.NewInMemoryVectorFallback(logger)

			// Store many vectors to test performance
			numVectors := 100
			start := time.Now()

			for i := 0; i < numVectors; i++ {
				params := map[string]interface{}{
					"id":       "perf_test_" + string(rune(i)),
					"vector":   []float64{float64(i), float64(i + 1), float64(i + 2)},
					"metadata": map[string]interface{}{"index": i},
				}

				_, err := fallback.ProvideFallback(ctx, "store", params)
				Expect(err).ToNot(HaveOccurred())
			}

			storeDuration := time.Since(start)

			// Business Validation: Storage should complete within reasonable time
			Expect(storeDuration).To(BeNumerically("<", 1*time.Second))

			// Test search performance
			start = time.Now()
			searchParams := map[string]interface{}{
				"vector": []float64{50, 51, 52},
				"limit":  10,
			}

			result, err := fallback.ProvideFallback(ctx, "search", searchParams)
			Expect(err).ToNot(HaveOccurred())

			searchDuration := time.Since(start)

			// Business Validation: Search should be fast
			Expect(searchDuration).To(BeNumerically("<", 100*time.Millisecond))

			searchResults, ok := result.([]dependency.VectorSearchResult)
			Expect(ok).To(BeTrue())
			Expect(len(searchResults)).To(BeNumerically("<=", 10))
		})

		It("should handle concurrent operations safely", func() {
			// Business Requirement: BR-RELIABILITY-006 - Thread safety
			fallback := dependency.NewInMemoryVectorFallback(logger)

			// Test concurrent operations
			numGoroutines := 10
			operationsPerGoroutine := 20

			done := make(chan bool, numGoroutines)

			for i := 0; i < numGoroutines; i++ {
				go func(workerID int) {
					defer func() { done <- true }()

					for j := 0; j < operationsPerGoroutine; j++ {
						params := map[string]interface{}{
							"id":     "concurrent_" + string(rune(workerID)) + "_" + string(rune(j)),
							"vector": []float64{float64(workerID), float64(j), float64(workerID + j)},
						}

						_, err := fallback.ProvideFallback(ctx, "store", params)
						Expect(err).ToNot(HaveOccurred())
					}
				}(i)
			}

			// Wait for all goroutines to complete
			for i := 0; i < numGoroutines; i++ {
				select {
				case <-done:
					// Success
				case <-time.After(5 * time.Second):
					Fail("Concurrent operations timed out")
				}
			}

			// Business Validation: All operations should complete successfully
			metrics := fallback.GetMetrics()
			expectedOperations := int64(numGoroutines * operationsPerGoroutine)
			Expect(metrics.TotalOperations).To(Equal(expectedOperations))
			Expect(metrics.SuccessfulOperations).To(Equal(expectedOperations))
		})
	})
})
