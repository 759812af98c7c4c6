package worker

import (
	"context"

	"basegraph.app/council/internal/model"
	"basegraph.app/council/internal/queue"
)

// Consumer abstracts the message queue for testability.
type Consumer interface {
	Read(ctx context.Context) ([]queue.Message, error)
	Ack(ctx context.Context, msg queue.Message) error
	Requeue(ctx context.Context, msg queue.Message, errMsg string) error
	SendDLQ(ctx context.Context, msg queue.Message, errMsg string) error
}

// DeliberationRunner is satisfied by *council.Engine. Run always reaches a
// terminal state and reports it through the returned snapshot.
type DeliberationRunner interface {
	Run(ctx context.Context, d model.Deliberation) model.StatusSnapshot
}

// StatusReader is the read half of session.Registry.
type StatusReader interface {
	Get(ctx context.Context, sessionID int64) (model.StatusSnapshot, error)
}
