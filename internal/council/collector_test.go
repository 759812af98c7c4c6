package council_test

import (
	"context"
	"time"

	"basegraph.app/council/internal/council"
	"basegraph.app/council/internal/model"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

var _ = Describe("Collector", func() {
	ctx := context.Background()
	participants := []string{"alpha", "bravo", "charlie", "delta"}

	answers := func() map[string]string {
		return map[string]string{
			"alpha":   "quality 4",
			"bravo":   "quality 3",
			"charlie": "quality 2",
			"delta":   "quality 1",
		}
	}

	It("collects one response per participant in order", func() {
		gw := newFakeGateway(answers())
		res, err := council.NewCollector(gw, 3, 0, 0).Collect(ctx, "q", participants)

		Expect(err).NotTo(HaveOccurred())
		Expect(res.Succeeded).To(Equal(4))
		Expect(res.Partial).To(BeFalse())
		for i, r := range res.Responses {
			Expect(r.ModelID).To(Equal(participants[i]))
			Expect(r.Succeeded).To(BeTrue())
		}
		Expect(gw.callsAt(council.StageCollect)).To(HaveLen(4))
	})

	It("records failures without aborting the others", func() {
		gw := newFakeGateway(answers()).failAt(council.StageCollect, "bravo")
		res, err := council.NewCollector(gw, 3, 0, 2).Collect(ctx, "q", participants)

		Expect(err).NotTo(HaveOccurred())
		Expect(res.Partial).To(BeTrue())
		Expect(res.Succeeded).To(Equal(3))
		Expect(res.Responses[1].Succeeded).To(BeFalse())
		Expect(res.Responses[1].ErrorKind).To(Equal(model.ErrorKindTransport))
	})

	DescribeTable("fails below quorum",
		func(failing []string) {
			gw := newFakeGateway(answers()).failAt(council.StageCollect, failing...)
			res, err := council.NewCollector(gw, 3, 0, 0).Collect(ctx, "q", participants)

			Expect(err).To(MatchError(council.ErrInsufficientQuorum))
			Expect(res.Succeeded).To(Equal(len(participants) - len(failing)))
			Expect(council.FailureReasonFor(ctx, err)).To(Equal(model.FailureInsufficientQuorum))
		},
		Entry("two failures", []string{"alpha", "delta"}),
		Entry("three failures", []string{"alpha", "bravo", "delta"}),
		Entry("everyone down", []string{"alpha", "bravo", "charlie", "delta"}),
	)

	It("never runs with a quorum below three", func() {
		gw := newFakeGateway(answers()).failAt(council.StageCollect, "alpha", "bravo")
		_, err := council.NewCollector(gw, 1, 0, 0).Collect(ctx, "q", participants)
		Expect(err).To(MatchError(council.ErrInsufficientQuorum))
	})

	It("honours a raised quorum", func() {
		gw := newFakeGateway(answers()).failAt(council.StageCollect, "delta")
		_, err := council.NewCollector(gw, 4, 0, 0).Collect(ctx, "q", participants)
		Expect(err).To(MatchError(council.ErrInsufficientQuorum))
	})

	It("reports the session deadline rather than quorum", func() {
		gw := newFakeGateway(answers())
		gw.block[council.StageCollect] = true

		deadline, cancel := context.WithTimeout(ctx, 20*time.Millisecond)
		defer cancel()

		res, err := council.NewCollector(gw, 3, 0, 0).Collect(deadline, "q", participants)
		Expect(err).To(MatchError(context.DeadlineExceeded))
		Expect(res.Succeeded).To(Equal(0))
		Expect(council.FailureReasonFor(deadline, err)).To(Equal(model.FailureTimeout))
	})
})
