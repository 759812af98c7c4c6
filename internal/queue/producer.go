package queue

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/redis/go-redis/v9"
)

type Producer interface {
	Enqueue(ctx context.Context, task Task) error
	Close() error
}

type redisProducer struct {
	client *redis.Client
	stream string
	logger *slog.Logger
}

func NewRedisProducer(client *redis.Client, stream string, logger *slog.Logger) Producer {
	if logger == nil {
		logger = slog.Default()
	}
	return &redisProducer{
		client: client,
		stream: stream,
		logger: logger,
	}
}

func (p *redisProducer) Enqueue(ctx context.Context, task Task) error {
	attempt := task.Attempt
	if attempt <= 0 {
		attempt = 1
	}

	participants, err := encodeParticipants(task.Participants)
	if err != nil {
		return err
	}

	taskType := task.TaskType
	if taskType == "" {
		taskType = TaskTypeDeliberate
	}

	fields := map[string]any{
		"task_type":    string(taskType),
		"session_id":   task.SessionID,
		"question":     task.Question,
		"participants": participants,
		"attempt":      attempt,
	}

	if task.ChairmanModelID != nil && *task.ChairmanModelID != "" {
		fields["chairman_model_id"] = *task.ChairmanModelID
	}
	if task.TraceID != nil && *task.TraceID != "" {
		fields["trace_id"] = *task.TraceID
	}

	if err := p.client.XAdd(ctx, &redis.XAddArgs{
		Stream: p.stream,
		Values: fields,
	}).Err(); err != nil {
		return fmt.Errorf("enqueue deliberation: %w", err)
	}

	p.logger.InfoContext(ctx, "enqueued deliberation",
		"session_id", task.SessionID,
		"participants", len(task.Participants),
		"attempt", attempt)
	return nil
}

func (p *redisProducer) Close() error {
	return p.client.Close()
}
