package council

import (
	"fmt"
	"sort"

	"basegraph.app/council/internal/model"
)

// BordaPolicy converts a 0-indexed position among n entries into points.
type BordaPolicy interface {
	Name() string
	Points(position, n int) int
}

// LinearBorda awards n-1 points to the top entry down to 0 for the last,
// so a ranking distributes exactly n(n-1)/2 points.
type LinearBorda struct{}

func (LinearBorda) Name() string { return "linear" }
func (LinearBorda) Points(position, n int) int { return n - 1 - position }

// NMinusPositionBorda awards n points to the top entry down to 1.
type NMinusPositionBorda struct{}

func (NMinusPositionBorda) Name() string { return "n_minus_position" }
func (NMinusPositionBorda) Points(position, n int) int { return n - position }

func PolicyByName(name string) (BordaPolicy, error) {
	switch name {
	case "", LinearBorda{}.Name():
		return LinearBorda{}, nil
	case NMinusPositionBorda{}.Name():
		return NMinusPositionBorda{}, nil
	default:
		return nil, fmt.Errorf("unknown borda policy %q", name)
	}
}

// Aggregate de-anonymizes each ranking and sums Borda points. It is a pure
// function of its inputs: rankings that are not a permutation of the
// mapping's labels are ignored, every mapped model is scored even with no
// votes, and ties are broken by model id ascending.
func Aggregate(rankings []model.PeerRanking, mapping map[string]string, policy BordaPolicy) model.AggregateRanking {
	if policy == nil {
		policy = LinearBorda{}
	}

	labels := make([]string, 0, len(mapping))
	for label := range mapping {
		labels = append(labels, label)
	}
	sort.Strings(labels)
	n := len(labels)

	ownLabel := make(map[string]string, n) // model id -> label
	scores := make(map[string]int, n)
	for _, label := range labels {
		ownLabel[mapping[label]] = label
		scores[mapping[label]] = 0
	}

	valid := make([]model.PeerRanking, 0, len(rankings))
	for _, r := range rankings {
		if validatePermutation(r.OrderedLabels, labels) == nil {
			valid = append(valid, r)
		}
	}
	sort.SliceStable(valid, func(i, j int) bool {
		return valid[i].JudgeModelID < valid[j].JudgeModelID
	})

	// positions[modelID][judge] is where that judge placed the model
	positions := make(map[string]map[string]int, n)
	for _, r := range valid {
		for pos, label := range r.OrderedLabels {
			modelID := mapping[label]
			scores[modelID] += policy.Points(pos, n)
			if positions[modelID] == nil {
				positions[modelID] = make(map[string]int, len(valid))
			}
			positions[modelID][r.JudgeModelID] = pos
		}
	}

	selfFirst := make(map[string]bool)
	bias := model.BiasReport{Entries: []model.BiasEntry{}}
	for _, r := range valid {
		if _, ok := ownLabel[r.JudgeModelID]; !ok {
			continue
		}
		selfPos := positions[r.JudgeModelID][r.JudgeModelID]

		peerSum, peers := 0, 0
		for _, other := range valid {
			if other.JudgeModelID == r.JudgeModelID {
				continue
			}
			peerSum += positions[r.JudgeModelID][other.JudgeModelID]
			peers++
		}
		peerMean := -1.0
		if peers > 0 {
			peerMean = float64(peerSum) / float64(peers)
		}

		entry := model.BiasEntry{
			JudgeModelID:     r.JudgeModelID,
			SelfPosition:     selfPos,
			PeerMeanPosition: peerMean,
			RankedSelfFirst:  selfPos == 0,
		}
		if entry.RankedSelfFirst {
			selfFirst[r.JudgeModelID] = true
			bias.SelfPreferenceCount++
		}
		bias.Entries = append(bias.Entries, entry)
	}
	if len(bias.Entries) > 0 {
		bias.SelfPreferenceRate = float64(bias.SelfPreferenceCount) / float64(len(bias.Entries))
	}

	scored := make([]model.ScoredModel, 0, n)
	for modelID, score := range scores {
		scored = append(scored, model.ScoredModel{
			ModelID:            modelID,
			BordaScore:         score,
			SelfPreferenceFlag: selfFirst[modelID],
		})
	}
	sort.Slice(scored, func(i, j int) bool {
		if scored[i].BordaScore != scored[j].BordaScore {
			return scored[i].BordaScore > scored[j].BordaScore
		}
		return scored[i].ModelID < scored[j].ModelID
	})

	return model.AggregateRanking{
		ScoredModels: scored,
		Judges:       len(valid),
		Entries:      n,
		Policy:       policy.Name(),
		Bias:         bias,
	}
}

// Weights turns scores into the distribution handed to the chairman. With
// no points cast every model gets an equal share.
func Weights(agg model.AggregateRanking) []model.ModelWeight {
	total := agg.TotalPoints()
	weights := make([]model.ModelWeight, len(agg.ScoredModels))
	for i, m := range agg.ScoredModels {
		share := 0.0
		switch {
		case total > 0:
			share = float64(m.BordaScore) / float64(total)
		case len(agg.ScoredModels) > 0:
			share = 1 / float64(len(agg.ScoredModels))
		}
		weights[i] = model.ModelWeight{ModelID: m.ModelID, BordaScore: m.BordaScore, Share: share}
	}
	return weights
}
