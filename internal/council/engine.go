package council

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"basegraph.app/council/common/logger"
	"basegraph.app/council/internal/gateway"
	"basegraph.app/council/internal/metrics"
	"basegraph.app/council/internal/model"
)

// StatusRecorder publishes caller-visible snapshots.
type StatusRecorder interface {
	Put(ctx context.Context, snap model.StatusSnapshot) error
}

// AuditSink durably records a finished deliberation. Write-once.
type AuditSink interface {
	Record(ctx context.Context, sessionID int64, trail model.AuditTrail) error
}

type Options struct {
	Quorum           int
	CallTimeout      time.Duration // zero lets each backend decide
	SessionTimeout   time.Duration
	MaxParallelCalls int
	ChairmanModel    string
	Policy           BordaPolicy
	AuditTimeout     time.Duration
	Now              func() time.Time
	Metrics          *metrics.Metrics
}

// Engine runs deliberations. It holds no per-session state, so one Engine
// serves any number of concurrent sessions.
type Engine struct {
	collector  *Collector
	anonymizer *Anonymizer
	reviewer   *Reviewer
	chairman   *Chairman
	status     StatusRecorder
	sink       AuditSink
	opts       Options
}

func NewEngine(gw gateway.Gateway, status StatusRecorder, sink AuditSink, opts Options) *Engine {
	return NewEngineWithAnonymizer(gw, status, sink, NewAnonymizer(), opts)
}

// NewEngineWithAnonymizer lets tests supply a deterministic label source.
func NewEngineWithAnonymizer(gw gateway.Gateway, status StatusRecorder, sink AuditSink, anonymizer *Anonymizer, opts Options) *Engine {
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Policy == nil {
		opts.Policy = LinearBorda{}
	}
	if opts.AuditTimeout <= 0 {
		opts.AuditTimeout = 10 * time.Second
	}
	return &Engine{
		collector:  NewCollector(gw, opts.Quorum, opts.CallTimeout, opts.MaxParallelCalls),
		anonymizer: anonymizer,
		reviewer:   NewReviewer(gw, anonymizer, opts.CallTimeout, opts.MaxParallelCalls),
		chairman:   NewChairman(gw, opts.ChairmanModel, opts.CallTimeout, opts.Now),
		status:     status,
		sink:       sink,
		opts:       opts,
	}
}

// Run drives one deliberation to a terminal state and returns the final
// snapshot. The audit trail is recorded whatever the outcome.
func (e *Engine) Run(ctx context.Context, d model.Deliberation) model.StatusSnapshot {
	ctx = logger.WithLogFields(ctx, logger.LogFields{
		SessionID: logger.Ptr(d.ID),
		Component: "council.engine",
	})

	span := logger.StartSpan(ctx, "council.deliberation")
	defer span.End()
	span.SetAttributes(
		attribute.Int64("council.session_id", d.ID),
		attribute.Int("council.participants", len(d.Participants)),
	)
	ctx = span.Context()

	if e.opts.SessionTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.opts.SessionTimeout)
		defer cancel()
	}

	e.opts.Metrics.SessionStarted()
	defer e.opts.Metrics.SessionEnded()

	s := NewSession(d)
	s.deliberation.UpdatedAt = e.opts.Now().UTC()
	e.publish(ctx, s)

	slog.InfoContext(ctx, "deliberation started", "participants", d.Participants)

	if err := e.run(ctx, s); err != nil {
		reason := FailureReasonFor(ctx, err)
		if failErr := s.Fail(reason, e.opts.Now().UTC()); failErr != nil {
			slog.ErrorContext(ctx, "could not fail session", "error", failErr)
		}
		span.RecordError(err)
		if reason == model.FailureInternal {
			slog.ErrorContext(ctx, "deliberation aborted by internal fault", "error", err)
		} else {
			slog.WarnContext(ctx, "deliberation failed", "reason", reason, "error", err)
		}
		e.publish(ctx, s)
	} else {
		slog.InfoContext(ctx, "deliberation complete", "chairman", s.synthesis.ChairmanModelID)
	}

	e.record(ctx, s)

	reason := ""
	if s.deliberation.FailureReason != nil {
		reason = string(*s.deliberation.FailureReason)
	}
	e.opts.Metrics.DeliberationFinished(string(s.State()), reason)
	span.SetAttributes(attribute.String("council.state", string(s.State())))

	return s.Snapshot()
}

func (e *Engine) run(ctx context.Context, s *Session) error {
	d := s.Deliberation()

	err := e.stage(ctx, StageCollect, func(ctx context.Context) error {
		res, err := e.collector.Collect(ctx, d.Question, d.Participants)
		s.responses, s.partial = res.Responses, res.Partial
		return err
	})
	if err != nil {
		return err
	}

	entries, mapping, err := e.anonymizer.Anonymize(s.responses, d.Participants)
	if err != nil {
		return err
	}
	s.entries, s.mapping = entries, mapping
	if err := e.advance(ctx, s, model.StateAnonymized); err != nil {
		return err
	}

	if err := e.advance(ctx, s, model.StateReviewing); err != nil {
		return err
	}
	err = e.stage(ctx, StageReview, func(ctx context.Context) error {
		res := e.reviewer.Review(ctx, ReviewRequest{
			Question:     d.Question,
			Entries:      s.entries,
			Judges:       s.judges(),
			Participants: d.Participants,
		})
		s.rankings, s.rejected = res.Rankings, res.Rejected
		for _, r := range res.Rejected {
			e.opts.Metrics.RankingRejected(string(r.Kind))
		}
		return ctx.Err()
	})
	if err != nil {
		return err
	}

	agg := Aggregate(s.rankings, s.mapping, e.opts.Policy)
	s.aggregate = &agg
	for _, m := range agg.ScoredModels {
		if m.SelfPreferenceFlag {
			e.opts.Metrics.SelfPreferenceDetected(m.ModelID)
		}
	}
	if err := e.advance(ctx, s, model.StateAggregated); err != nil {
		return err
	}

	if err := e.advance(ctx, s, model.StateSynthesizing); err != nil {
		return err
	}
	err = e.stage(ctx, StageSynthesize, func(ctx context.Context) error {
		result, attempts, err := e.chairman.Synthesize(ctx, d, agg, s.responses)
		s.synthesis, s.attempts = result, attempts
		return err
	})
	if err != nil {
		return err
	}

	return e.advance(ctx, s, model.StateComplete)
}

// stage wraps one pipeline stage in a span and a duration observation.
func (e *Engine) stage(ctx context.Context, name string, fn func(ctx context.Context) error) error {
	span := logger.StartSpan(ctx, "council."+name)
	defer span.End()

	start := time.Now()
	err := fn(span.Context())
	e.opts.Metrics.ObserveStage(name, time.Since(start))
	if err != nil {
		span.RecordError(err)
	}
	return err
}

// advance refuses to move forward once the session deadline is spent.
func (e *Engine) advance(ctx context.Context, s *Session, to model.State) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("before %s: %w", to, err)
	}
	if err := s.Transition(to, e.opts.Now().UTC()); err != nil {
		return err
	}
	e.publish(ctx, s)
	return nil
}

func (e *Engine) publish(ctx context.Context, s *Session) {
	if e.status == nil {
		return
	}
	// the final snapshot must land even after the session deadline
	pubCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), e.opts.AuditTimeout)
	defer cancel()
	if err := e.status.Put(pubCtx, s.Snapshot()); err != nil {
		slog.ErrorContext(ctx, "failed to publish status", "state", s.State(), "error", err)
	}
}

func (e *Engine) record(ctx context.Context, s *Session) {
	if e.sink == nil {
		return
	}
	recCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), e.opts.AuditTimeout)
	defer cancel()

	if err := e.sink.Record(recCtx, s.ID(), s.AuditTrail(e.opts.Now().UTC())); err != nil {
		e.opts.Metrics.AuditSinkFailed()
		slog.ErrorContext(ctx, "failed to record audit trail",
			"error", err,
			"timed_out", errors.Is(err, context.DeadlineExceeded))
	}
}
