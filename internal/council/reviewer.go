package council

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"basegraph.app/council/common/logger"
	"basegraph.app/council/internal/gateway"
	"basegraph.app/council/internal/model"
)

const StageReview = "review"

type ReviewResult struct {
	Rankings []model.PeerRanking     // valid votes, in participant order
	Rejected []model.RejectedRanking // dropped votes, in participant order
}

// Reviewer asks every participant to rank the anonymized entries.
type Reviewer struct {
	gw         gateway.Gateway
	anonymizer *Anonymizer
	timeout    time.Duration
	limit      int
}

func NewReviewer(gw gateway.Gateway, anonymizer *Anonymizer, timeout time.Duration, limit int) *Reviewer {
	return &Reviewer{gw: gw, anonymizer: anonymizer, timeout: timeout, limit: limit}
}

type ReviewRequest struct {
	Question string
	Entries  []model.AnonymizedEntry

	// Judges are the participants asked to vote.
	Judges []string

	// Participants are every model id that must never reach a judge.
	Participants []string
}

type judgeOutcome struct {
	ranking  *model.PeerRanking
	rejected *model.RejectedRanking
}

// Review attempts every judge exactly once. Judge failures and malformed
// replies only drop that judge's vote.
func (r *Reviewer) Review(ctx context.Context, req ReviewRequest) ReviewResult {
	ctx = logger.WithLogFields(ctx, logger.LogFields{Stage: logger.Ptr(StageReview)})

	labels := make([]string, len(req.Entries))
	for i, e := range req.Entries {
		labels[i] = e.Label
	}

	outcomes := make([]judgeOutcome, len(req.Judges))
	for i, judge := range req.Judges {
		outcomes[i] = judgeOutcome{rejected: &model.RejectedRanking{
			JudgeModelID: judge,
			Kind:         model.ErrorKindTransport,
			Reason:       RejectJudgeFailed,
		}}
	}

	fanOut(ctx, r.limit, req.Judges, func(ctx context.Context, i int, judge string) {
		outcomes[i] = r.judge(ctx, req, labels, judge)
	})

	var result ReviewResult
	for _, o := range outcomes {
		if o.ranking != nil {
			result.Rankings = append(result.Rankings, *o.ranking)
		} else {
			result.Rejected = append(result.Rejected, *o.rejected)
		}
	}

	slog.InfoContext(ctx, "review finished",
		"judges", len(req.Judges),
		"valid", len(result.Rankings),
		"rejected", len(result.Rejected))
	return result
}

func (r *Reviewer) judge(ctx context.Context, req ReviewRequest, labels []string, judge string) judgeOutcome {
	reject := func(kind model.ErrorKind, reason string, raw string, err error) judgeOutcome {
		slog.WarnContext(ctx, "judge vote dropped",
			"judge", judge,
			"kind", kind,
			"reason", reason,
			"error", err)
		return judgeOutcome{rejected: &model.RejectedRanking{
			JudgeModelID: judge,
			Kind:         kind,
			Reason:       fmt.Sprintf("%s: %v", reason, err),
			Raw:          raw,
		}}
	}

	presentation, err := r.anonymizer.Shuffle(req.Entries)
	if err != nil {
		return reject(model.ErrorKindTransport, RejectJudgeFailed, "", err)
	}

	if leaked, found := leakedParticipant(req.Question, presentation, req.Participants); found {
		return reject(model.ErrorKindAnonymityGuard, RejectAnonymityGuard, "",
			fmt.Errorf("%w: %s", ErrAnonymityViolation, leaked))
	}
	prompt := reviewPrompt(req.Question, presentation)

	out, err := r.gw.Complete(ctx, judge, prompt, r.timeout)
	if err != nil {
		return reject(gateway.KindOf(err), RejectJudgeFailed, "", err)
	}

	ordered, err := ParseRanking(out.Text, labels)
	if err != nil {
		kind := model.ErrorKindMalformedRanking
		if !errors.Is(err, ErrMalformedRanking) {
			kind = model.ErrorKindTransport
		}
		return reject(kind, RejectMalformed, logger.Truncate(out.Text, 2000), err)
	}

	return judgeOutcome{ranking: &model.PeerRanking{JudgeModelID: judge, OrderedLabels: ordered}}
}

// leakedParticipant scans the parts of a judge prompt that come from callers
// and models. The fixed instructions, schema and generated labels carry no
// identity, and ids that happen to be ordinary words must not match them.
func leakedParticipant(question string, entries []model.AnonymizedEntry, participants []string) (string, bool) {
	if id, found := mentionsAny(question, participants); found {
		return id, true
	}
	for _, e := range entries {
		if id, found := mentionsAny(e.Text, participants); found {
			return id, true
		}
	}
	return "", false
}
