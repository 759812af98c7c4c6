package council_test

import (
	"encoding/json"
	"fmt"
	"math/rand/v2"

	"basegraph.app/council/internal/council"
	"basegraph.app/council/internal/model"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

var _ = Describe("Aggregate", func() {
	// label -> model
	mapping := map[string]string{
		"Response-AAAAA": "alpha",
		"Response-BBBBB": "bravo",
		"Response-CCCCC": "charlie",
		"Response-DDDDD": "delta",
	}
	const (
		a = "Response-AAAAA"
		b = "Response-BBBBB"
		c = "Response-CCCCC"
		d = "Response-DDDDD"
	)

	rankings := []model.PeerRanking{
		{JudgeModelID: "alpha", OrderedLabels: []string{a, b, c, d}},
		{JudgeModelID: "bravo", OrderedLabels: []string{b, a, c, d}},
		{JudgeModelID: "charlie", OrderedLabels: []string{a, c, b, d}},
		{JudgeModelID: "delta", OrderedLabels: []string{b, a, d, c}},
	}

	It("sums linear Borda points and sorts by score", func() {
		agg := council.Aggregate(rankings, mapping, council.LinearBorda{})

		Expect(agg.Judges).To(Equal(4))
		Expect(agg.Entries).To(Equal(4))
		Expect(agg.Policy).To(Equal("linear"))
		Expect(agg.ScoredModels).To(Equal([]model.ScoredModel{
			{ModelID: "alpha", BordaScore: 10, SelfPreferenceFlag: true},
			{ModelID: "bravo", BordaScore: 9, SelfPreferenceFlag: true},
			{ModelID: "charlie", BordaScore: 4},
			{ModelID: "delta", BordaScore: 1},
		}))
	})

	It("conserves judges x N(N-1)/2 points", func() {
		agg := council.Aggregate(rankings, mapping, council.LinearBorda{})
		Expect(agg.TotalPoints()).To(Equal(4 * (4 * 3 / 2)))

		agg = council.Aggregate(rankings[:3], mapping, council.LinearBorda{})
		Expect(agg.TotalPoints()).To(Equal(3 * (4 * 3 / 2)))
	})

	It("conserves points for random valid rankings of any size", func() {
		rng := rand.New(rand.NewPCG(7, 11))

		for n := 3; n <= 12; n++ {
			m := make(map[string]string, n)
			labels := make([]string, n)
			for i := range n {
				labels[i] = fmt.Sprintf("Response-%05d", i)
				m[labels[i]] = fmt.Sprintf("model-%02d", i)
			}

			for trial := 0; trial < 20; trial++ {
				judges := 1 + rng.IntN(n)
				votes := make([]model.PeerRanking, judges)
				for j := range votes {
					ordered := append([]string(nil), labels...)
					rng.Shuffle(len(ordered), func(a, b int) { ordered[a], ordered[b] = ordered[b], ordered[a] })
					votes[j] = model.PeerRanking{JudgeModelID: fmt.Sprintf("model-%02d", j), OrderedLabels: ordered}
				}

				linear := council.Aggregate(votes, m, council.LinearBorda{})
				Expect(linear.Judges).To(Equal(judges))
				Expect(linear.TotalPoints()).To(Equal(judges*n*(n-1)/2),
					"linear n=%d judges=%d", n, judges)

				shifted := council.Aggregate(votes, m, council.NMinusPositionBorda{})
				Expect(shifted.TotalPoints()).To(Equal(judges*n*(n+1)/2),
					"n-minus-position n=%d judges=%d", n, judges)
			}
		}
	})

	It("supports the N minus position policy", func() {
		agg := council.Aggregate(rankings, mapping, council.NMinusPositionBorda{})
		Expect(agg.TotalPoints()).To(Equal(4 * (4 + 3 + 2 + 1)))
		Expect(agg.ScoredModels[0]).To(Equal(model.ScoredModel{ModelID: "alpha", BordaScore: 14, SelfPreferenceFlag: true}))
	})

	It("is byte-identical across calls and input orderings", func() {
		first, err := json.Marshal(council.Aggregate(rankings, mapping, council.LinearBorda{}))
		Expect(err).NotTo(HaveOccurred())

		reversed := []model.PeerRanking{rankings[3], rankings[2], rankings[1], rankings[0]}
		for range 10 {
			again, err := json.Marshal(council.Aggregate(reversed, mapping, council.LinearBorda{}))
			Expect(err).NotTo(HaveOccurred())
			Expect(again).To(Equal(first))
		}
	})

	It("breaks ties by model id", func() {
		tied := []model.PeerRanking{
			{JudgeModelID: "x", OrderedLabels: []string{d, c, b, a}},
			{JudgeModelID: "y", OrderedLabels: []string{a, b, c, d}},
		}
		agg := council.Aggregate(tied, mapping, council.LinearBorda{})

		ids := make([]string, len(agg.ScoredModels))
		for i, m := range agg.ScoredModels {
			Expect(m.BordaScore).To(Equal(3))
			ids[i] = m.ModelID
		}
		Expect(ids).To(Equal([]string{"alpha", "bravo", "charlie", "delta"}))
	})

	It("ignores rankings that are not a permutation", func() {
		bad := append([]model.PeerRanking{
			{JudgeModelID: "echo", OrderedLabels: []string{a, a, b, c}},
			{JudgeModelID: "foxtrot", OrderedLabels: []string{a, b, c}},
		}, rankings...)

		Expect(council.Aggregate(bad, mapping, council.LinearBorda{})).
			To(Equal(council.Aggregate(rankings, mapping, council.LinearBorda{})))
	})

	It("scores every entry even without valid votes", func() {
		agg := council.Aggregate(nil, mapping, nil)
		Expect(agg.Judges).To(Equal(0))
		Expect(agg.ScoredModels).To(HaveLen(4))
		Expect(agg.TotalPoints()).To(Equal(0))
		Expect(agg.ScoredModels[0].ModelID).To(Equal("alpha"))
		Expect(agg.Bias.Entries).To(BeEmpty())
	})

	Describe("self-preference", func() {
		It("flags a judge that ranked itself first without changing its points", func() {
			honest := []model.PeerRanking{
				{JudgeModelID: "alpha", OrderedLabels: []string{b, a, c, d}},
				{JudgeModelID: "bravo", OrderedLabels: []string{a, b, c, d}},
				{JudgeModelID: "charlie", OrderedLabels: []string{a, b, c, d}},
			}
			selfish := []model.PeerRanking{
				{JudgeModelID: "alpha", OrderedLabels: []string{a, b, c, d}},
				honest[1], honest[2],
			}

			before := council.Aggregate(honest, mapping, council.LinearBorda{})
			after := council.Aggregate(selfish, mapping, council.LinearBorda{})

			scoreBefore, _ := before.Score("alpha")
			scoreAfter, _ := after.Score("alpha")
			// moving itself from 2nd to 1st is worth exactly one point
			Expect(scoreAfter - scoreBefore).To(Equal(1))
			Expect(after.TotalPoints()).To(Equal(before.TotalPoints()))

			Expect(after.ScoredModels[0]).To(Equal(model.ScoredModel{ModelID: "alpha", BordaScore: 9, SelfPreferenceFlag: true}))
			Expect(before.ScoredModels[0].SelfPreferenceFlag).To(BeFalse())
		})

		It("reports self position against the peer mean", func() {
			agg := council.Aggregate(rankings, mapping, council.LinearBorda{})

			Expect(agg.Bias.SelfPreferenceCount).To(Equal(2))
			Expect(agg.Bias.SelfPreferenceRate).To(Equal(0.5))
			Expect(agg.Bias.Entries).To(Equal([]model.BiasEntry{
				{JudgeModelID: "alpha", SelfPosition: 0, PeerMeanPosition: 2.0 / 3.0, RankedSelfFirst: true},
				{JudgeModelID: "bravo", SelfPosition: 0, PeerMeanPosition: 1, RankedSelfFirst: true},
				{JudgeModelID: "charlie", SelfPosition: 1, PeerMeanPosition: 7.0 / 3.0},
				{JudgeModelID: "delta", SelfPosition: 2, PeerMeanPosition: 3},
			}))
		})

		It("skips judges whose response was not in the set", func() {
			outsider := append([]model.PeerRanking{
				{JudgeModelID: "echo", OrderedLabels: []string{a, b, c, d}},
			}, rankings...)
			agg := council.Aggregate(outsider, mapping, council.LinearBorda{})

			Expect(agg.Judges).To(Equal(5))
			Expect(agg.Bias.Entries).To(HaveLen(4))
		})
	})

	Describe("Weights", func() {
		It("normalizes scores into shares", func() {
			weights := council.Weights(council.Aggregate(rankings, mapping, council.LinearBorda{}))
			Expect(weights[0]).To(Equal(model.ModelWeight{ModelID: "alpha", BordaScore: 10, Share: 10.0 / 24.0}))

			total := 0.0
			for _, w := range weights {
				total += w.Share
			}
			Expect(total).To(BeNumerically("~", 1.0, 1e-9))
		})

		It("splits evenly when no points were cast", func() {
			weights := council.Weights(council.Aggregate(nil, mapping, nil))
			for _, w := range weights {
				Expect(w.Share).To(Equal(0.25))
			}
		})
	})

	DescribeTable("PolicyByName",
		func(name, expected string, ok bool) {
			p, err := council.PolicyByName(name)
			if !ok {
				Expect(err).To(HaveOccurred())
				return
			}
			Expect(err).NotTo(HaveOccurred())
			Expect(p.Name()).To(Equal(expected))
		},
		Entry("default", "", "linear", true),
		Entry("linear", "linear", "linear", true),
		Entry("n minus position", "n_minus_position", "n_minus_position", true),
		Entry("unknown", "plurality", "", false),
	)
})
