// Package correlator implements the Correlator (C1): it fans out per-service
// collectors in parallel, merges their partial signals in deterministic
// order, deduplicates by a 60-second timestamp bucket, and reports partial
// collection failures without discarding what succeeded.
package correlator

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/agenticaiops/incident-core/pkg/infrastructure/metrics"
	"github.com/agenticaiops/incident-core/pkg/pipeline/types"
)

// DefaultCollectorTimeout is the per-collector call budget.
const DefaultCollectorTimeout = 10 * time.Second

// DefaultTotalTimeout bounds one whole Collect call.
const DefaultTotalTimeout = 30 * time.Second

// PartialSignal is one collector's contribution to a collection pass.
type PartialSignal struct {
	Service      string
	Anomalies    []types.Anomaly
	Alarms       []types.Alarm
	Changes      []types.ChangeEvent
	HealthEvents []types.HealthEvent
}

// Collector gathers one service's signals for the given lookback window.
type Collector interface {
	Service() string
	Collect(ctx context.Context, lookbackMinutes int) (*PartialSignal, error)
}

// CollectionError is returned only when every configured collector failed.
type CollectionError struct {
	Failures map[string]error
}

func (e *CollectionError) Error() string {
	return fmt.Sprintf("all %d collectors failed", len(e.Failures))
}

// Correlator fans out Collectors and merges their results into one
// CorrelatedEvent.
type Correlator struct {
	collectors       []Collector
	collectorTimeout time.Duration
	totalTimeout     time.Duration
	log              *logrus.Logger
}

// NewCorrelator builds a Correlator over collectors, using the default
// timeouts.
func NewCorrelator(collectors []Collector, log *logrus.Logger) *Correlator {
	return &Correlator{
		collectors:       collectors,
		collectorTimeout: DefaultCollectorTimeout,
		totalTimeout:     DefaultTotalTimeout,
		log:              log,
	}
}

// WithTimeouts overrides the default per-collector and total timeouts.
func (c *Correlator) WithTimeouts(collector, total time.Duration) *Correlator {
	c.collectorTimeout = collector
	c.totalTimeout = total
	return c
}

type collectOutcome struct {
	signal *PartialSignal
	err    error
}

// Collect runs every applicable collector in parallel and merges their
// output. services, when non-empty, restricts which collectors run.
func (c *Correlator) Collect(ctx context.Context, services []string, lookbackMinutes int) (*types.CorrelatedEvent, error) {
	if lookbackMinutes <= 0 {
		lookbackMinutes = 15
	}

	ctx, cancel := context.WithTimeout(ctx, c.totalTimeout)
	defer cancel()

	wanted := map[string]bool{}
	for _, s := range services {
		wanted[s] = true
	}

	active := make([]Collector, 0, len(c.collectors))
	for _, col := range c.collectors {
		if len(wanted) == 0 || wanted[col.Service()] {
			active = append(active, col)
		}
	}

	outcomes := make([]collectOutcome, len(active))
	group, gctx := errgroup.WithContext(ctx)
	for i, col := range active {
		i, col := i, col
		group.Go(func() error {
			outcomes[i] = c.collectOne(gctx, col, lookbackMinutes)
			return nil
		})
	}
	_ = group.Wait()

	start := time.Now()
	event := &types.CorrelatedEvent{
		ID:              uuid.NewString(),
		Timestamp:       start,
		LookbackMinutes: lookbackMinutes,
		Telemetry:       map[string]float64{},
	}

	failures := map[string]error{}
	signals := make([]*PartialSignal, 0, len(active))
	for i, col := range active {
		o := outcomes[i]
		if o.err != nil {
			failures[col.Service()] = o.err
			continue
		}
		signals = append(signals, o.signal)
	}

	if len(active) > 0 && len(failures) == len(active) {
		return nil, &CollectionError{Failures: failures}
	}

	sort.Slice(signals, func(i, j int) bool { return signals[i].Service < signals[j].Service })

	resourceSet := map[string]bool{}
	for _, sig := range signals {
		mergeSignal(event, sig, resourceSet)
	}

	event.ResourceIDs = sortedKeys(resourceSet)
	for service, err := range failures {
		event.SourceErrors = append(event.SourceErrors, types.SourceError{
			Service: service,
			Message: err.Error(),
			At:      start,
		})
	}
	sort.Slice(event.SourceErrors, func(i, j int) bool { return event.SourceErrors[i].Service < event.SourceErrors[j].Service })

	computeTelemetry(event)

	return event, nil
}

func (c *Correlator) collectOne(ctx context.Context, col Collector, lookbackMinutes int) collectOutcome {
	var result *PartialSignal
	op := func() (*PartialSignal, error) {
		callCtx, cancel := context.WithTimeout(ctx, c.collectorTimeout)
		defer cancel()
		return col.Collect(callCtx, lookbackMinutes)
	}

	result, err := backoff.Retry(ctx, op,
		backoff.WithMaxTries(2),
		backoff.WithBackOff(backoff.NewExponentialBackOff()),
	)
	if err != nil {
		c.log.WithError(err).WithField("service", col.Service()).Warn("collector failed")
		metrics.RecordCollectorCall(col.Service(), "error")
		return collectOutcome{err: err}
	}
	metrics.RecordCollectorCall(col.Service(), "ok")
	return collectOutcome{signal: result}
}

func bucket60(t time.Time) int64 {
	return t.Unix() / 60
}

func mergeSignal(event *types.CorrelatedEvent, sig *PartialSignal, resourceSet map[string]bool) {
	seen := map[string]bool{}

	for _, a := range sig.Anomalies {
		key := fmt.Sprintf("anomaly|%s|%s|%d", a.Service, a.Metric, bucket60(a.Timestamp))
		if seen[key] {
			metrics.RecordDedupedSignal("anomaly")
			continue
		}
		seen[key] = true
		event.Anomalies = append(event.Anomalies, a)
		resourceSet[a.Service] = true
	}

	for _, al := range sig.Alarms {
		key := fmt.Sprintf("alarm|%s|%s|%d", al.Service, al.Name, bucket60(al.Timestamp))
		if seen[key] {
			metrics.RecordDedupedSignal("alarm")
			continue
		}
		seen[key] = true
		event.Alarms = append(event.Alarms, al)
		resourceSet[al.Service] = true
		metrics.RecordAlarm()
	}

	for _, ch := range sig.Changes {
		key := fmt.Sprintf("change|%s|%s|%d", ch.ResourceID, ch.Kind, bucket60(ch.Timestamp))
		if seen[key] {
			metrics.RecordDedupedSignal("change")
			continue
		}
		seen[key] = true
		event.Changes = append(event.Changes, ch)
		resourceSet[ch.ResourceID] = true
	}

	for _, h := range sig.HealthEvents {
		key := fmt.Sprintf("health|%s|%s|%d", h.ResourceID, h.Status, bucket60(h.Timestamp))
		if seen[key] {
			metrics.RecordDedupedSignal("health")
			continue
		}
		seen[key] = true
		event.HealthEvents = append(event.HealthEvents, h)
		resourceSet[h.ResourceID] = true
	}
}

func sortedKeys(set map[string]bool) []string {
	out := make([]string, 0, len(set))
	for k := range set {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

func computeTelemetry(event *types.CorrelatedEvent) {
	sums := map[string]float64{}
	counts := map[string]int{}
	for _, a := range event.Anomalies {
		sums[a.Metric] += a.Value
		counts[a.Metric]++
	}
	for metric, sum := range sums {
		event.Telemetry[metric] = sum / float64(counts[metric])
	}
}
