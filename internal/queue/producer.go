package queue

import (
	"context"
	"fmt"
	"log/slog"
	"time"

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

	fields := map[string]any{
		"task_type": string(task.TaskType),
		"attempt":   attempt,
	}

	switch task.TaskType {
	case TaskTypeNotification:
		fields["agent"] = task.Agent
		fields["source"] = task.Source
		fields["type"] = task.Type
		fields["payload"] = string(task.Payload)
		if task.OriginURL != "" {
			fields["origin_url"] = task.OriginURL
		}
	case TaskTypeLifecycle:
		fields["subscription_id"] = task.SubscriptionID
		fields["lifecycle_event"] = task.LifecycleEvent
	default:
		return fmt.Errorf("unknown task_type %q", task.TaskType)
	}

	receivedAt := task.ReceivedAt
	if receivedAt.IsZero() {
		receivedAt = time.Now().UTC()
	}
	fields["received_at"] = receivedAt.Format(time.RFC3339Nano)

	if task.TraceID != "" {
		fields["trace_id"] = task.TraceID
	}

	if err := p.client.XAdd(ctx, &redis.XAddArgs{
		Stream: p.stream,
		Values: fields,
	}).Err(); err != nil {
		return fmt.Errorf("enqueue task: %w", err)
	}

	p.logger.InfoContext(ctx, "enqueued task",
		"task_type", task.TaskType,
		"agent", task.Agent,
		"source", task.Source,
		"type", task.Type,
		"subscription_id", task.SubscriptionID,
		"attempt", attempt)
	return nil
}

func (p *redisProducer) Close() error {
	return p.client.Close()
}
