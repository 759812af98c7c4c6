package council

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"basegraph.app/council/common/logger"
	"basegraph.app/council/core/config"
	"basegraph.app/council/internal/gateway"
	"basegraph.app/council/internal/model"
)

const StageCollect = "collect"

type CollectResult struct {
	Responses []model.ModelResponse // one per participant, in participant order
	Partial   bool
	Succeeded int
}

// Collector asks every participant the question concurrently.
type Collector struct {
	gw      gateway.Gateway
	quorum  int
	timeout time.Duration // zero lets each backend use its own timeout
	limit   int
}

// NewCollector never accepts a quorum below config.MinQuorum.
func NewCollector(gw gateway.Gateway, quorum int, timeout time.Duration, limit int) *Collector {
	return &Collector{gw: gw, quorum: max(quorum, config.MinQuorum), timeout: timeout, limit: limit}
}

// Collect never aborts on a single backend failure. It returns
// ErrInsufficientQuorum, alongside the full result, when too few succeed.
func (c *Collector) Collect(ctx context.Context, question string, participants []string) (CollectResult, error) {
	ctx = logger.WithLogFields(ctx, logger.LogFields{Stage: logger.Ptr(StageCollect)})

	responses := make([]model.ModelResponse, len(participants))
	for i, id := range participants {
		responses[i] = model.ModelResponse{ModelID: id, ErrorKind: model.ErrorKindTransport, Error: "not attempted"}
	}

	fanOut(ctx, c.limit, participants, func(ctx context.Context, i int, modelID string) {
		start := time.Now()
		out, err := c.gw.Complete(ctx, modelID, collectPrompt(question), c.timeout)
		latency := time.Since(start).Milliseconds()
		if err != nil {
			responses[i] = model.ModelResponse{
				ModelID:   modelID,
				LatencyMs: latency,
				ErrorKind: gateway.KindOf(err),
				Error:     err.Error(),
			}
			return
		}
		responses[i] = model.ModelResponse{
			ModelID:   modelID,
			Text:      out.Text,
			LatencyMs: latency,
			Succeeded: true,
		}
	})

	result := CollectResult{Responses: responses}
	for _, r := range responses {
		if r.Succeeded {
			result.Succeeded++
		} else {
			result.Partial = true
		}
	}

	slog.InfoContext(ctx, "collection finished",
		"participants", len(participants),
		"succeeded", result.Succeeded,
		"partial", result.Partial)

	if err := ctx.Err(); err != nil {
		return result, fmt.Errorf("collect: %w", err)
	}
	if result.Succeeded < c.quorum {
		return result, fmt.Errorf("collect: %d of %d succeeded, need %d: %w",
			result.Succeeded, len(participants), c.quorum, ErrInsufficientQuorum)
	}
	return result, nil
}
