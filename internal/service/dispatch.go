package service

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"basegraph.app/council/internal/model"
	"basegraph.app/council/internal/queue"
)

// Runner is satisfied by *council.Engine.
type Runner interface {
	Run(ctx context.Context, d model.Deliberation) model.StatusSnapshot
}

// InlineDispatcher runs deliberations in-process, at most limit at a time.
type InlineDispatcher struct {
	runner Runner
	slots  chan struct{}
	wg     sync.WaitGroup
}

func NewInlineDispatcher(runner Runner, limit int) *InlineDispatcher {
	if limit <= 0 {
		limit = 1
	}
	return &InlineDispatcher{
		runner: runner,
		slots:  make(chan struct{}, limit),
	}
}

// Dispatch returns ErrOverloaded instead of queueing when every slot is busy.
// The run outlives the request, so it keeps the caller's values but not its
// cancellation.
func (d *InlineDispatcher) Dispatch(ctx context.Context, delib model.Deliberation, _ *string) error {
	select {
	case d.slots <- struct{}{}:
	default:
		return ErrOverloaded
	}

	runCtx := context.WithoutCancel(ctx)
	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		defer func() { <-d.slots }()
		defer func() {
			if r := recover(); r != nil {
				slog.ErrorContext(runCtx, "panic recovered in deliberation",
					"panic", r,
					"session_id", delib.ID)
			}
		}()
		d.runner.Run(runCtx, delib)
	}()
	return nil
}

// Wait blocks until every dispatched deliberation has finished.
func (d *InlineDispatcher) Wait() {
	d.wg.Wait()
}

// QueueDispatcher hands deliberations to workers over the task stream.
type QueueDispatcher struct {
	producer queue.Producer
}

func NewQueueDispatcher(producer queue.Producer) *QueueDispatcher {
	return &QueueDispatcher{producer: producer}
}

func (d *QueueDispatcher) Dispatch(ctx context.Context, delib model.Deliberation, traceID *string) error {
	if err := d.producer.Enqueue(ctx, queue.Task{
		TaskType:        queue.TaskTypeDeliberate,
		SessionID:       delib.ID,
		Question:        delib.Question,
		Participants:    delib.Participants,
		ChairmanModelID: delib.ChairmanModelID,
		TraceID:         traceID,
		Attempt:         1,
	}); err != nil {
		return fmt.Errorf("enqueueing deliberation: %w", err)
	}
	return nil
}
