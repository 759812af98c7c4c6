package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"basegraph.app/council/common/logger"
	"basegraph.app/council/internal/model"
	"basegraph.app/council/internal/queue"
	"basegraph.app/council/internal/session"
)

type Config struct {
	MaxAttempts int
	ErrorDelay  time.Duration // pause after a failed read
	Now         func() time.Time
}

type Worker struct {
	consumer Consumer
	runner   DeliberationRunner
	status   StatusReader
	cfg      Config

	stopCh    chan struct{}
	stoppedCh chan struct{}
}

func New(consumer Consumer, runner DeliberationRunner, status StatusReader, cfg Config) *Worker {
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 3
	}
	if cfg.ErrorDelay <= 0 {
		cfg.ErrorDelay = time.Second
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Worker{
		consumer:  consumer,
		runner:    runner,
		status:    status,
		cfg:       cfg,
		stopCh:    make(chan struct{}),
		stoppedCh: make(chan struct{}),
	}
}

func (w *Worker) Run(ctx context.Context) error {
	ctx = logger.WithLogFields(ctx, logger.LogFields{
		Component: "council.worker",
	})

	defer close(w.stoppedCh)

	slog.InfoContext(ctx, "worker started")

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-w.stopCh:
			slog.InfoContext(ctx, "worker stopping")
			return nil
		default:
			if err := w.processOneBatch(ctx); err != nil {
				slog.ErrorContext(ctx, "batch processing error", "error", err)
				time.Sleep(w.cfg.ErrorDelay)
			}
		}
	}
}

func (w *Worker) Stop() {
	close(w.stopCh)
	<-w.stoppedCh
}

func (w *Worker) processOneBatch(ctx context.Context) error {
	messages, err := w.consumer.Read(ctx)
	if err != nil {
		return fmt.Errorf("reading from stream: %w", err)
	}

	for _, msg := range messages {
		if err := w.processMessageSafe(ctx, msg); err != nil {
			slog.ErrorContext(ctx, "message processing failed",
				"error", err,
				"message_id", msg.ID,
				"session_id", msg.SessionID)
			w.handleFailedMessage(ctx, msg, err)
		}
	}

	return nil
}

func (w *Worker) processMessageSafe(ctx context.Context, msg queue.Message) (err error) {
	defer func() {
		if r := recover(); r != nil {
			slog.ErrorContext(ctx, "panic recovered in message processing",
				"panic", r,
				"message_id", msg.ID,
				"session_id", msg.SessionID)
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return w.ProcessMessage(ctx, msg)
}

// ProcessMessage runs one deliberation task to a terminal state. A FAILED
// deliberation is an outcome, not a delivery error, so the message is acked
// either way. Exported so it can be reused by the reclaimer.
func (w *Worker) ProcessMessage(ctx context.Context, msg queue.Message) error {
	msgID := msg.ID
	attempt := msg.Attempt
	ctx = logger.WithLogFields(ctx, logger.LogFields{
		SessionID: &msg.SessionID,
		MessageID: &msgID,
		Attempt:   &attempt,
	})

	slog.InfoContext(ctx, "processing message", "participants", len(msg.Participants))

	snap, err := w.status.Get(ctx, msg.SessionID)
	switch {
	case errors.Is(err, session.ErrNotFound):
		// status expired or was never published; the task is still valid
	case err != nil:
		return fmt.Errorf("reading session status: %w", err)
	case snap.State.Terminal():
		slog.InfoContext(ctx, "session already finished, skipping", "state", snap.State)
		w.ack(ctx, msg)
		return nil
	}

	span := logger.StartSpanFromTraceID(ctx, msg.TraceID, "council.worker.deliberate")
	defer span.End()
	span.SetAttributes(attribute.Int("council.delivery_attempt", msg.Attempt))

	start := time.Now()
	result := w.runner.Run(span.Context(), deliberationFrom(msg, w.cfg.Now().UTC()))

	w.ack(ctx, msg)

	slog.InfoContext(ctx, "deliberation finished",
		"state", result.State,
		"duration_ms", time.Since(start).Milliseconds())
	return nil
}

func (w *Worker) ack(ctx context.Context, msg queue.Message) {
	if err := w.consumer.Ack(ctx, msg); err != nil {
		// the reclaimer will redeliver; a finished session is skipped then
		slog.WarnContext(ctx, "failed to ACK message",
			"error", err,
			"message_id", msg.ID)
	}
}

func (w *Worker) handleFailedMessage(ctx context.Context, msg queue.Message, err error) {
	if msg.Attempt >= w.cfg.MaxAttempts {
		slog.ErrorContext(ctx, "max attempts reached, sending to DLQ",
			"message_id", msg.ID,
			"session_id", msg.SessionID,
			"attempts", msg.Attempt)
		if dlqErr := w.consumer.SendDLQ(ctx, msg, err.Error()); dlqErr != nil {
			slog.ErrorContext(ctx, "failed to send to DLQ", "error", dlqErr)
		}
		return
	}

	slog.WarnContext(ctx, "requeuing failed message",
		"message_id", msg.ID,
		"session_id", msg.SessionID,
		"attempt", msg.Attempt)
	if requeueErr := w.consumer.Requeue(ctx, msg, err.Error()); requeueErr != nil {
		slog.ErrorContext(ctx, "failed to requeue message", "error", requeueErr)
	}
}

func deliberationFrom(msg queue.Message, now time.Time) model.Deliberation {
	return model.Deliberation{
		ID:              msg.SessionID,
		Question:        msg.Question,
		Participants:    msg.Participants,
		ChairmanModelID: msg.ChairmanModelID,
		State:           model.StateCollecting,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
}
