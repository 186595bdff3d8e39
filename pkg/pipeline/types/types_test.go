package types_test

import (
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/agenticaiops/incident-core/pkg/pipeline/types"
)

var _ = Describe("DetectResult freshness", func() {
	var base time.Time

	BeforeEach(func() {
		base = time.Now()
	})

	It("is fresh within 60s", func() {
		d := types.NewDetectResult("d1", types.CorrelatedEvent{Timestamp: base}, types.DetectSourceAlarm, 300)
		Expect(d.FreshnessLabel(base.Add(30 * time.Second))).To(Equal(types.FreshnessFresh))
	})

	It("is warm before ttl and stale at or after ttl", func() {
		d := types.NewDetectResult("d2", types.CorrelatedEvent{Timestamp: base}, types.DetectSourceProactive, 300)
		Expect(d.FreshnessLabel(base.Add(120 * time.Second))).To(Equal(types.FreshnessWarm))
		Expect(d.IsStale(base.Add(120 * time.Second))).To(BeFalse())
		Expect(d.FreshnessLabel(base.Add(300 * time.Second))).To(Equal(types.FreshnessStale))
		Expect(d.IsStale(base.Add(300 * time.Second))).To(BeTrue())
	})

	It("is never reusable by a manual trigger even when fresh", func() {
		d := types.NewDetectResult("d3", types.CorrelatedEvent{Timestamp: base}, types.DetectSourceAlarm, 300)
		Expect(d.Reusable(types.TriggerManual, base.Add(time.Second))).To(BeFalse())
	})

	It("is reusable by non-manual triggers while fresh or warm", func() {
		d := types.NewDetectResult("d4", types.CorrelatedEvent{Timestamp: base}, types.DetectSourceProactive, 300)
		Expect(d.Reusable(types.TriggerProactive, base.Add(100*time.Second))).To(BeTrue())
		Expect(d.Reusable(types.TriggerProactive, base.Add(301*time.Second))).To(BeFalse())
	})

	It("defaults ttl to 300s when unspecified", func() {
		d := types.NewDetectResult("d5", types.CorrelatedEvent{Timestamp: base}, types.DetectSourceManual, 0)
		Expect(d.TTLSeconds).To(Equal(300))
	})
})

var _ = Describe("Pattern.RecordOccurrence", func() {
	It("increments occurrence_count by exactly one per call", func() {
		p := &types.Pattern{PatternID: "p1"}
		p.RecordOccurrence(true)
		Expect(p.OccurrenceCount).To(Equal(1))
		p.RecordOccurrence(true)
		Expect(p.OccurrenceCount).To(Equal(2))
	})

	It("converges success_rate toward 1 over repeated successes", func() {
		p := &types.Pattern{PatternID: "p2"}
		for i := 0; i < 10; i++ {
			p.RecordOccurrence(true)
		}
		Expect(p.SuccessRate).To(BeNumerically("~", 1.0, 0.001))
	})

	It("pulls success_rate down on a failure", func() {
		p := &types.Pattern{PatternID: "p3"}
		p.RecordOccurrence(true)
		p.RecordOccurrence(true)
		p.RecordOccurrence(false)
		Expect(p.SuccessRate).To(BeNumerically("~", 0.667, 0.01))
	})
})

var _ = Describe("ApprovalToken", func() {
	It("is not expired before its TTL elapses", func() {
		now := time.Now()
		tok := types.NewApprovalToken("t1", types.SOPCandidate{SOPID: "sop-1"}, now, 0)
		Expect(tok.ExpiresAt.Sub(tok.RequestedAt)).To(Equal(types.DefaultApprovalTTL))
		Expect(tok.IsExpired(now.Add(time.Minute))).To(BeFalse())
	})

	It("is expired once its TTL elapses", func() {
		now := time.Now()
		tok := types.NewApprovalToken("t2", types.SOPCandidate{SOPID: "sop-1"}, now, 5*time.Minute)
		Expect(tok.IsExpired(now.Add(6 * time.Minute))).To(BeTrue())
	})

	It("starts pending", func() {
		tok := types.NewApprovalToken("t3", types.SOPCandidate{SOPID: "sop-1"}, time.Now(), 0)
		Expect(tok.Status).To(Equal(types.ApprovalPending))
	})
})

var _ = Describe("IncidentRecord stage ordering", func() {
	It("starts with an empty stage_timings map in created status", func() {
		rec := types.NewIncidentRecord("inc-1", types.TriggerAlarm, nil)
		Expect(rec.Status).To(Equal(types.StatusCreated))
		Expect(rec.StageTimings).To(BeEmpty())
	})

	It("records stage durations in milliseconds", func() {
		rec := types.NewIncidentRecord("inc-2", types.TriggerAlarm, nil)
		rec.RecordStage(types.StageCollect, 17*time.Second)
		Expect(rec.StageTimings[types.StageCollect]).To(Equal(int64(17000)))
	})

	It("stamps ClosedAt and status on Close", func() {
		rec := types.NewIncidentRecord("inc-3", types.TriggerAlarm, nil)
		rec.Close(types.StatusExecuted, "")
		Expect(rec.Status.Terminal()).To(BeTrue())
		Expect(rec.ClosedAt).NotTo(BeNil())
	})
})
