package council_test

import (
	"context"
	"strings"

	"basegraph.app/council/internal/council"
	"basegraph.app/council/internal/model"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

var _ = Describe("Reviewer", func() {
	var (
		ctx        context.Context
		anonymizer *council.Anonymizer
		entries    []model.AnonymizedEntry
		mapping    map[string]string
		judges     []string
	)

	BeforeEach(func() {
		ctx = context.Background()
		anonymizer = council.NewAnonymizer()
		judges = []string{"alpha", "bravo", "charlie", "delta"}

		var err error
		entries, mapping, err = anonymizer.Anonymize(successes(judges...), judges)
		Expect(err).NotTo(HaveOccurred())
	})

	request := func(participants ...string) council.ReviewRequest {
		return council.ReviewRequest{
			Question:     "How should we shard the ledger?",
			Entries:      entries,
			Judges:       judges,
			Participants: participants,
		}
	}

	It("collects a valid ranking from every judge", func() {
		gw := newFakeGateway(nil)
		res := council.NewReviewer(gw, anonymizer, 0, 0).Review(ctx, request(judges...))

		Expect(res.Rejected).To(BeEmpty())
		Expect(res.Rankings).To(HaveLen(4))
		for _, r := range res.Rankings {
			Expect(r.OrderedLabels).To(HaveLen(4))
			// quality 4 belongs to alpha, so every judge puts alpha first
			Expect(mapping[r.OrderedLabels[0]]).To(Equal("alpha"))
		}
	})

	It("never sends a model id to a judge", func() {
		participants := append(judges, "echo")
		gw := newFakeGateway(nil)
		council.NewReviewer(gw, anonymizer, 0, 0).Review(ctx, request(participants...))

		calls := gw.callsAt(council.StageReview)
		Expect(calls).To(HaveLen(4))
		for _, call := range calls {
			for _, id := range participants {
				Expect(strings.ToLower(call.Prompt)).NotTo(ContainSubstring(id))
			}
			labels, _ := parseReviewPrompt(call.Prompt)
			Expect(labels).To(ConsistOf(keys(mapping)))
		}
	})

	It("shuffles presentation independently per judge", func() {
		orders := map[string]bool{}
		for range 10 {
			gw := newFakeGateway(nil)
			council.NewReviewer(gw, anonymizer, 0, 0).Review(ctx, request(judges...))
			for _, call := range gw.callsAt(council.StageReview) {
				labels, _ := parseReviewPrompt(call.Prompt)
				orders[strings.Join(labels, ",")] = true
			}
		}
		Expect(len(orders)).To(BeNumerically(">", 1))
	})

	It("drops only the vote of a failing judge", func() {
		gw := newFakeGateway(nil).failAt(council.StageReview, "charlie")
		res := council.NewReviewer(gw, anonymizer, 0, 0).Review(ctx, request(judges...))

		Expect(res.Rankings).To(HaveLen(3))
		Expect(res.Rejected).To(HaveLen(1))
		Expect(res.Rejected[0].JudgeModelID).To(Equal("charlie"))
		Expect(res.Rejected[0].Kind).To(Equal(model.ErrorKindTransport))

		agg := council.Aggregate(res.Rankings, mapping, council.LinearBorda{})
		_, ranked := agg.Score("charlie")
		Expect(ranked).To(BeTrue())
	})

	It("records malformed rankings for diagnostics", func() {
		gw := newFakeGateway(nil)
		gw.judgeFn = func(judge string, labels []string, texts map[string]string) string {
			if judge == "bravo" {
				return jsonRanking([]string{labels[0], labels[0], labels[1], labels[2]})
			}
			if judge == "delta" {
				return listRanking(append(labels[:3:3], "Response-ZZZZZ"))
			}
			return listRanking(labels)
		}
		res := council.NewReviewer(gw, anonymizer, 0, 0).Review(ctx, request(judges...))

		Expect(res.Rankings).To(HaveLen(2))
		Expect(res.Rejected).To(HaveLen(2))
		for _, r := range res.Rejected {
			Expect(r.Kind).To(Equal(model.ErrorKindMalformedRanking))
			Expect(r.Raw).NotTo(BeEmpty())
		}
	})

	It("does not match participant ids against the fixed instructions", func() {
		judges = []string{"ranking", "schema", "label", "json"}
		var err error
		entries, mapping, err = anonymizer.Anonymize(successes(judges...), judges)
		Expect(err).NotTo(HaveOccurred())

		gw := newFakeGateway(nil)
		res := council.NewReviewer(gw, anonymizer, 0, 0).Review(ctx, request(judges...))

		Expect(gw.callsAt(council.StageReview)).To(HaveLen(4))
		Expect(res.Rejected).To(BeEmpty())
		Expect(res.Rankings).To(HaveLen(4))
		for _, r := range res.Rankings {
			Expect(mapping[r.OrderedLabels[0]]).To(Equal("ranking"))
		}
	})

	It("withholds prompts whose answers still name a participant", func() {
		tampered := append([]model.AnonymizedEntry(nil), entries...)
		tampered[0].Text = "as Bravo said earlier"
		req := request(judges...)
		req.Entries = tampered

		gw := newFakeGateway(nil)
		res := council.NewReviewer(gw, anonymizer, 0, 0).Review(ctx, req)

		Expect(gw.callsAt(council.StageReview)).To(BeEmpty())
		Expect(res.Rejected).To(HaveLen(4))
		Expect(res.Rejected[0].Kind).To(Equal(model.ErrorKindAnonymityGuard))
	})

	It("withholds prompts that would reveal a participant", func() {
		req := request(judges...)
		req.Question = "Is alpha better than bravo?"

		gw := newFakeGateway(nil)
		res := council.NewReviewer(gw, anonymizer, 0, 0).Review(ctx, req)

		Expect(gw.callsAt(council.StageReview)).To(BeEmpty())
		Expect(res.Rankings).To(BeEmpty())
		Expect(res.Rejected).To(HaveLen(4))
		for _, r := range res.Rejected {
			Expect(r.Kind).To(Equal(model.ErrorKindAnonymityGuard))
			Expect(r.Reason).To(HavePrefix(council.RejectAnonymityGuard))
		}
	})
})

func keys(m map[string]string) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	return out
}
