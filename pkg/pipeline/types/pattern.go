package types

import "time"

// MinIndexableQuality is the quality_score floor below which a Pattern is
// persisted but not written to the vector index (see Knowledge Store,
// UpsertPattern).
const MinIndexableQuality = 0.7

// Pattern is a learned incident template: symptoms, typical root causes
// and remediation hints, with an occurrence/success track record. Owned
// by the Knowledge Store; mutable only via upsert.
type Pattern struct {
	PatternID       string    `json:"pattern_id"`
	Title           string    `json:"title"`
	Description     string    `json:"description"`
	Category        string    `json:"category"`
	Service         string    `json:"service"`
	Severity        Severity  `json:"severity"`
	Symptoms        []string  `json:"symptoms"`
	RootCauses      []string  `json:"root_causes"`
	RemediationHints []string `json:"remediation_hints"`
	Confidence      float64   `json:"confidence"`
	OccurrenceCount int       `json:"occurrence_count"`
	SuccessRate     float64   `json:"success_rate"`
	CreatedAt       time.Time `json:"created_at"`
	UpdatedAt       time.Time `json:"updated_at"`
	Embedding       []float32 `json:"embedding,omitempty"`
}

// Indexable reports whether the pattern's quality meets the floor for
// vector indexing.
func (p *Pattern) Indexable(qualityScore float64) bool {
	return qualityScore >= MinIndexableQuality
}

// RecordOccurrence bumps occurrence_count by one and folds success into a
// running average of success_rate.
func (p *Pattern) RecordOccurrence(success bool) {
	n := p.OccurrenceCount
	outcome := 0.0
	if success {
		outcome = 1.0
	}
	p.OccurrenceCount = n + 1
	if n == 0 {
		p.SuccessRate = outcome
	} else {
		p.SuccessRate = (p.SuccessRate*float64(n) + outcome) / float64(n+1)
	}
	p.UpdatedAt = time.Now()
}

// EmbeddingText returns the text the Knowledge Store embeds to index the
// pattern: title || description || root causes.
func (p *Pattern) EmbeddingText() string {
	text := p.Title + " " + p.Description
	for _, rc := range p.RootCauses {
		text += " " + rc
	}
	return text
}

// SearchHit is one ranked result from a Knowledge Store or Search Service
// query.
type SearchHit struct {
	PatternID string  `json:"pattern_id"`
	Pattern   *Pattern `json:"pattern,omitempty"`
	Score     float64 `json:"score"`
	Layer     string  `json:"layer"`
}

// SearchStrategy selects which layers a Search Service query may use.
type SearchStrategy string

const (
	StrategyFast     SearchStrategy = "fast"
	StrategySemantic SearchStrategy = "semantic"
	StrategyDeep     SearchStrategy = "deep"
	StrategyAuto     SearchStrategy = "auto"
)

// Layer thresholds: L1 stops auto/fast cascades at this score, L2 stops
// auto/semantic cascades at this score without invoking the embedder.
const (
	L1StopThreshold = 0.85
	L2StopThreshold = 0.70
)

// SearchResult is the ranked outcome of a Search Service query.
type SearchResult struct {
	Hits         []SearchHit   `json:"hits"`
	StrategyUsed SearchStrategy `json:"strategy_used"`
	LevelsTried  []string      `json:"levels_tried"`
	DurationMS   int64         `json:"duration_ms"`
	TotalHits    int           `json:"total_hits"`
}
