package council

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"basegraph.app/council/common/logger"
	"basegraph.app/council/internal/gateway"
	"basegraph.app/council/internal/model"
)

const StageSynthesize = "synthesize"

// Chairman writes the final answer. A failed chairman gets exactly one
// replacement: the highest-scored other model.
type Chairman struct {
	gw         gateway.Gateway
	designated string
	timeout    time.Duration
	now        func() time.Time
}

func NewChairman(gw gateway.Gateway, designated string, timeout time.Duration, now func() time.Time) *Chairman {
	if now == nil {
		now = time.Now
	}
	return &Chairman{gw: gw, designated: designated, timeout: timeout, now: now}
}

// Select picks the first chairman: the request's, else the configured one,
// else the top Borda model.
func (c *Chairman) Select(d model.Deliberation, agg model.AggregateRanking) string {
	if d.ChairmanModelID != nil && *d.ChairmanModelID != "" {
		return *d.ChairmanModelID
	}
	if c.designated != "" {
		return c.designated
	}
	if len(agg.ScoredModels) > 0 {
		return agg.ScoredModels[0].ModelID
	}
	return ""
}

// Fallback is the highest-scored model other than failed.
func Fallback(agg model.AggregateRanking, failed string) (string, bool) {
	for _, m := range agg.ScoredModels {
		if m.ModelID != failed {
			return m.ModelID, true
		}
	}
	return "", false
}

// Synthesize returns the result and every attempt made, successful or not.
func (c *Chairman) Synthesize(ctx context.Context, d model.Deliberation, agg model.AggregateRanking, responses []model.ModelResponse) (*model.SynthesisResult, []model.ChairmanAttempt, error) {
	ctx = logger.WithLogFields(ctx, logger.LogFields{Stage: logger.Ptr(StageSynthesize)})

	weights := Weights(agg)
	prompt := chairmanPrompt(d.Question, weightedSources(weights, responses))

	chairman := c.Select(d, agg)
	var attempts []model.ChairmanAttempt

	for rung := 0; rung < 2 && chairman != ""; rung++ {
		attemptCtx := logger.WithLogFields(ctx, logger.LogFields{Attempt: logger.Ptr(rung + 1)})
		out, err := c.gw.Complete(attemptCtx, chairman, prompt, c.timeout)
		if err == nil {
			attempts = append(attempts, model.ChairmanAttempt{ModelID: chairman})
			slog.InfoContext(attemptCtx, "synthesis complete", "chairman", chairman)
			return &model.SynthesisResult{
				SessionID:       d.ID,
				FinalAnswer:     out.Text,
				Weights:         weights,
				ChairmanModelID: chairman,
				CompletedAt:     c.now().UTC(),
			}, attempts, nil
		}

		attempts = append(attempts, model.ChairmanAttempt{
			ModelID: chairman,
			Error:   err.Error(),
			Kind:    gateway.KindOf(err),
		})
		slog.WarnContext(attemptCtx, "chairman failed", "chairman", chairman, "error", err)

		if ctx.Err() != nil {
			return nil, attempts, fmt.Errorf("synthesize: %w", ctx.Err())
		}
		next, ok := Fallback(agg, chairman)
		if !ok {
			break
		}
		chairman = next
	}

	return nil, attempts, fmt.Errorf("synthesize: %d chairman attempts failed: %w", len(attempts), ErrSynthesisUnavailable)
}

// weightedSources pairs each successful response with its consensus
// weight, highest first.
func weightedSources(weights []model.ModelWeight, responses []model.ModelResponse) []weightedResponse {
	text := make(map[string]string, len(responses))
	for _, r := range responses {
		if r.Succeeded {
			text[r.ModelID] = r.Text
		}
	}

	sources := make([]weightedResponse, 0, len(weights))
	for _, w := range weights {
		t, ok := text[w.ModelID]
		if !ok {
			continue
		}
		sources = append(sources, weightedResponse{
			ModelID:    w.ModelID,
			BordaScore: w.BordaScore,
			Share:      w.Share,
			Text:       t,
		})
	}
	return sources
}
