package council

import (
	"context"
	"errors"

	"basegraph.app/council/internal/model"
)

var (
	ErrInsufficientQuorum   = errors.New("insufficient quorum")
	ErrSynthesisUnavailable = errors.New("synthesis unavailable")
	ErrMalformedRanking     = errors.New("malformed ranking")
	ErrAnonymityViolation   = errors.New("judge prompt names a participant")
	ErrIllegalTransition    = errors.New("illegal state transition")
)

// Reasons recorded on rejected judge votes.
const (
	RejectAnonymityGuard = "anonymity_guard"
	RejectJudgeFailed    = "judge_failed"
	RejectMalformed      = "malformed"
)

// FailureReasonFor maps a fatal stage error to the reason surfaced to
// callers. A spent deadline wins over whatever the stage reported. Errors
// outside the pipeline taxonomy are internal faults.
func FailureReasonFor(ctx context.Context, err error) model.FailureReason {
	switch {
	case ctx.Err() != nil || errors.Is(err, context.DeadlineExceeded):
		return model.FailureTimeout
	case errors.Is(err, ErrInsufficientQuorum):
		return model.FailureInsufficientQuorum
	case errors.Is(err, ErrSynthesisUnavailable):
		return model.FailureSynthesisUnavailable
	default:
		return model.FailureInternal
	}
}
