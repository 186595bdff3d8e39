// Package detectagent implements the DetectAgent (C2): it owns a small
// per-source cache of the most recent DetectResult and mediates all cloud
// collections so concurrent callers coalesce onto one in-flight collection.
package detectagent

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/singleflight"

	"github.com/agenticaiops/incident-core/pkg/pipeline/types"
)

// Correlator is the subset of the Correlator (C1) the DetectAgent depends on.
type Correlator interface {
	Collect(ctx context.Context, services []string, lookbackMinutes int) (*types.CorrelatedEvent, error)
}

// RuleMatcher is the subset of the Rule Matcher (C3) used to snapshot rule
// hits into a fresh DetectResult.
type RuleMatcher interface {
	Match(telemetry types.Telemetry) *types.MatchResult
}

// Indexer indexes a fresh DetectResult via the Search Service, best-effort.
type Indexer interface {
	IndexDetectResult(ctx context.Context, result *types.DetectResult) error
}

// DefaultLookbackMinutes is used when RunDetection isn't given one.
const DefaultLookbackMinutes = 15

// DefaultTTLSeconds is the default cache TTL for a fresh DetectResult.
const DefaultTTLSeconds = 300

// Health reports the DetectAgent's current cache state.
type Health struct {
	Collecting       bool
	LatestDetectID   string
	LatestAgeSeconds float64
	CacheSize        int
}

// DetectAgent mediates cloud collections behind a cache and a collection
// lock.
type DetectAgent struct {
	correlator Correlator
	matcher    RuleMatcher
	indexer    Indexer
	persister  Persister
	log        *logrus.Logger

	collectionLock sync.Mutex
	collecting     bool
	group          singleflight.Group

	mu    sync.Mutex
	cache map[types.DetectSource]*types.DetectResult
}

// New builds a DetectAgent. indexer may be nil, in which case every
// RunDetection leaves vectorized=false.
func New(correlator Correlator, matcher RuleMatcher, indexer Indexer, log *logrus.Logger) *DetectAgent {
	return &DetectAgent{
		correlator: correlator,
		matcher:    matcher,
		indexer:    indexer,
		log:        log,
		cache:      make(map[types.DetectSource]*types.DetectResult),
	}
}

// WithPersister enables file-backed (or otherwise durable) persistence
// of every fresh DetectResult, matching the `detect_cache/{detect_id}.json`
// key layout. Mirrors the WithAuditor/WithTimings builder
// pattern used elsewhere in this core (e.g. pkg/orchestrator).
func (d *DetectAgent) WithPersister(p Persister) *DetectAgent {
	d.persister = p
	return d
}

// RunDetection performs a fresh correlation for source, snapshots any rule
// match, indexes the result best-effort, caches it, and returns it.
// Concurrent calls for the same source coalesce onto one collection.
func (d *DetectAgent) RunDetection(ctx context.Context, source types.DetectSource, services []string) (*types.DetectResult, error) {
	key := string(source)
	v, err, _ := d.group.Do(key, func() (interface{}, error) {
		return d.runDetectionLocked(ctx, source, services)
	})
	if err != nil {
		return nil, err
	}
	return v.(*types.DetectResult), nil
}

func (d *DetectAgent) runDetectionLocked(ctx context.Context, source types.DetectSource, services []string) (*types.DetectResult, error) {
	d.collectionLock.Lock()
	d.collecting = true
	defer func() {
		d.collecting = false
		d.collectionLock.Unlock()
	}()

	event, err := d.correlator.Collect(ctx, services, DefaultLookbackMinutes)
	if err != nil {
		return nil, fmt.Errorf("detection failed for source %s: %w", source, err)
	}

	result := types.NewDetectResult(fmt.Sprintf("detect-%d", time.Now().UnixNano()), *event, source, DefaultTTLSeconds)

	if d.matcher != nil {
		telemetry := telemetryFrom(event)
		if match := d.matcher.Match(telemetry); match != nil {
			result.RuleMatches = append(result.RuleMatches, types.RuleMatchSnapshot{
				RuleID:     match.Rule.ID,
				RootCause:  match.Rule.RootCause,
				Severity:   match.Rule.Severity,
				Confidence: match.Confidence,
			})
		}
	}

	if d.indexer != nil {
		if err := d.indexer.IndexDetectResult(ctx, result); err != nil {
			d.log.WithError(err).WithField("detect_id", result.DetectID).Warn("best-effort indexing failed")
			result.Vectorized = false
		} else {
			result.Vectorized = true
		}
	}

	d.mu.Lock()
	d.cache[source] = result
	d.mu.Unlock()

	if d.persister != nil {
		if err := d.persister.Persist(ctx, result); err != nil {
			d.log.WithError(err).WithField("detect_id", result.DetectID).Warn("best-effort detect cache persistence failed")
		}
	}

	return result, nil
}

func telemetryFrom(event *types.CorrelatedEvent) types.Telemetry {
	t := types.Telemetry{Metrics: event.Telemetry}
	for _, al := range event.Alarms {
		t.Events = append(t.Events, types.TelemetryEvent{Reason: al.Reason, Type: al.Name, Message: al.Message})
	}
	for _, h := range event.HealthEvents {
		t.Events = append(t.Events, types.TelemetryEvent{Reason: h.Status, Type: "health", Message: h.Message})
	}
	return t
}

// GetLatest returns the latest cached result for source (when given) whose
// age is within maxAge (its own TTL, when maxAge is zero). It returns nil
// when nothing in cache satisfies the request.
func (d *DetectAgent) GetLatest(source *types.DetectSource, maxAge time.Duration) *types.DetectResult {
	d.mu.Lock()
	defer d.mu.Unlock()

	now := time.Now()
	var best *types.DetectResult
	for key, result := range d.cache {
		if source != nil && key != *source {
			continue
		}
		age := time.Duration(result.AgeSeconds(now)) * time.Second
		limit := maxAge
		if limit <= 0 {
			limit = time.Duration(result.TTLSeconds) * time.Second
		}
		if age > limit {
			continue
		}
		if best == nil || result.Timestamp.After(best.Timestamp) {
			best = result
		}
	}
	return best
}

// Reuse decides whether a caller may reuse an already-obtained DetectResult
// for trigger rather than calling RunDetection again, per the freshness
// policy. A manual trigger never reuses a cached result.
func Reuse(result *types.DetectResult, trigger types.TriggerType, now time.Time) bool {
	if result == nil {
		return false
	}
	return result.Reusable(trigger, now)
}

// HealthStatus reports the agent's current cache state.
func (d *DetectAgent) HealthStatus() Health {
	d.mu.Lock()
	defer d.mu.Unlock()

	h := Health{Collecting: d.collecting, CacheSize: len(d.cache)}
	var latest *types.DetectResult
	for _, r := range d.cache {
		if latest == nil || r.Timestamp.After(latest.Timestamp) {
			latest = r
		}
	}
	if latest != nil {
		h.LatestDetectID = latest.DetectID
		h.LatestAgeSeconds = latest.AgeSeconds(time.Now())
	}
	return h
}
