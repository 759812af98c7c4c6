package model

import "time"

// ModelResponse is one backend's answer to the original question.
type ModelResponse struct {
	ModelID   string    `json:"model_id"`
	Text      string    `json:"text"`
	LatencyMs int64     `json:"latency_ms"`
	Succeeded bool      `json:"succeeded"`
	ErrorKind ErrorKind `json:"error_kind,omitempty"`
	Error     string    `json:"error,omitempty"`
}

// AnonymizedEntry is the judging unit. It deliberately has no model field.
type AnonymizedEntry struct {
	Label string `json:"label"`
	Text  string `json:"text"`
}

// PeerRanking is one judge's validated ordering, best first.
type PeerRanking struct {
	JudgeModelID  string   `json:"judge_model_id"`
	OrderedLabels []string `json:"ordered_labels"`
}

// RejectedRanking records a judge vote that was dropped, for diagnostics.
type RejectedRanking struct {
	JudgeModelID string    `json:"judge_model_id"`
	Kind         ErrorKind `json:"kind"`
	Reason       string    `json:"reason"`
	Raw          string    `json:"raw,omitempty"`
}

type ScoredModel struct {
	ModelID            string `json:"model_id"`
	BordaScore         int    `json:"borda_score"`
	SelfPreferenceFlag bool   `json:"self_preference_flag"`
}

// BiasEntry compares where a judge placed its own response with where its
// peers placed it. Positions are 0-indexed; PeerMeanPosition is -1 when no
// peer ranked the response.
type BiasEntry struct {
	JudgeModelID     string  `json:"judge_model_id"`
	SelfPosition     int     `json:"self_position"`
	PeerMeanPosition float64 `json:"peer_mean_position"`
	RankedSelfFirst  bool    `json:"ranked_self_first"`
}

type BiasReport struct {
	Entries             []BiasEntry `json:"entries"`
	SelfPreferenceCount int         `json:"self_preference_count"`
	SelfPreferenceRate  float64     `json:"self_preference_rate"`
}

// AggregateRanking is the consensus output, sorted by score descending with
// ties broken by model id ascending.
type AggregateRanking struct {
	ScoredModels []ScoredModel `json:"scored_models"`
	Judges       int           `json:"judges"`
	Entries      int           `json:"entries"`
	Policy       string        `json:"policy"`
	Bias         BiasReport    `json:"bias"`
}

// TotalPoints is the sum of all Borda scores.
func (a AggregateRanking) TotalPoints() int {
	total := 0
	for _, m := range a.ScoredModels {
		total += m.BordaScore
	}
	return total
}

// Score returns the Borda score of a model and whether it was ranked.
func (a AggregateRanking) Score(modelID string) (int, bool) {
	for _, m := range a.ScoredModels {
		if m.ModelID == modelID {
			return m.BordaScore, true
		}
	}
	return 0, false
}

type ModelWeight struct {
	ModelID    string  `json:"model_id"`
	BordaScore int     `json:"borda_score"`
	Share      float64 `json:"share"`
}

// SynthesisResult is the final artifact; immutable once created.
type SynthesisResult struct {
	SessionID       int64         `json:"session_id,string"`
	FinalAnswer     string        `json:"final_answer"`
	Weights         []ModelWeight `json:"weights"`
	ChairmanModelID string        `json:"chairman_model_id"`
	CompletedAt     time.Time     `json:"completed_at"`
}
