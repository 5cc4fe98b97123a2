package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"nexus.app/ingest/common/logger"
	"nexus.app/ingest/internal/model"
)

type ConsumerConfig struct {
	Stream       string        // Redis stream name
	Group        string        // Redis consumer group name
	Consumer     string        // Redis consumer name
	DLQStream    string        // Dead letter stream for poison messages
	BatchSize    int64         // Number of messages to read per batch
	Block        time.Duration // How long to block/poll for new messages
	MaxAttempts  int           // Maximum delivery attempts before the DLQ
	RequeueDelay time.Duration // Delay before retrying failed messages
}

// Message is one dequeued task plus its delivery bookkeeping.
type Message struct {
	ID             string
	TaskType       TaskType
	Agent          string
	Source         string
	Type           string
	OriginURL      string
	Payload        json.RawMessage
	ReceivedAt     time.Time
	SubscriptionID string
	LifecycleEvent string
	TraceID        string
	Attempt        int
	Raw            redis.XMessage
}

// WebhookMessage reconstructs the canonical envelope for notification tasks.
func (m Message) WebhookMessage() model.WebhookMessage {
	return model.WebhookMessage{
		AgentName:       m.Agent,
		Source:          m.Source,
		Type:            m.Type,
		OriginURL:       m.OriginURL,
		RawNotification: m.Payload,
		ReceivedAt:      m.ReceivedAt,
	}
}

// LifecycleSignal reconstructs the lifecycle signal for lifecycle tasks.
func (m Message) LifecycleSignal() model.LifecycleSignal {
	return model.LifecycleSignal{
		SubscriptionID: m.SubscriptionID,
		Event:          model.LifecycleEvent(m.LifecycleEvent),
		ReceivedAt:     m.ReceivedAt,
	}
}

// MessageProcessor processes a queue message.
type MessageProcessor func(ctx context.Context, msg Message) error

type RedisConsumer struct {
	client *redis.Client
	cfg    ConsumerConfig
}

func NewRedisConsumer(client *redis.Client, cfg ConsumerConfig) (*RedisConsumer, error) {
	consumer := &RedisConsumer{
		client: client,
		cfg:    cfg,
	}

	if err := consumer.ensureGroup(context.Background()); err != nil { //nolint:contextcheck
		return nil, err
	}

	return consumer, nil
}

func (c *RedisConsumer) MaxAttempts() int {
	return c.cfg.MaxAttempts
}

func (c *RedisConsumer) ensureGroup(ctx context.Context) error {
	// Consumer groups are just readers, messages live in the stream itself.
	// Starting from "0" instead of "$" means we don't lose messages that
	// arrived while no group existed (e.g. during restarts).
	if err := c.client.XGroupCreateMkStream(ctx, c.cfg.Stream, c.cfg.Group, "0").Err(); err != nil && err.Error() != "BUSYGROUP Consumer Group name already exists" {
		return fmt.Errorf("creating consumer group: %w", err)
	}
	return nil
}

func (c *RedisConsumer) Read(ctx context.Context) ([]Message, error) {
	ctx = logger.WithLogFields(ctx, logger.LogFields{
		Component: "ingest.queue.consumer",
	})

	streams, err := c.client.XReadGroup(ctx, &redis.XReadGroupArgs{
		Group:    c.cfg.Group,
		Consumer: c.cfg.Consumer,
		// > = new messages not yet delivered to anyone. Unacked messages
		// are picked up by the reclaimer on a different goroutine.
		Streams: []string{c.cfg.Stream, ">"},
		Count:   c.cfg.BatchSize,
		Block:   c.cfg.Block,
	}).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return []Message{}, nil
		}
		return nil, fmt.Errorf("reading from stream: %w", err)
	}

	var messages []Message
	for _, stream := range streams {
		for _, msg := range stream.Messages {
			parsed, parseErr := ParseMessage(msg)
			if parseErr != nil {
				slog.ErrorContext(ctx, "failed to parse message",
					"error", parseErr,
					"raw_message_id", msg.ID,
					"stream", c.cfg.Stream)
				_ = c.Ack(ctx, Message{ID: msg.ID, Raw: msg})
				continue
			}
			messages = append(messages, parsed)
		}
	}

	if len(messages) > 0 {
		slog.DebugContext(ctx, "read messages from stream",
			"count", len(messages),
			"stream", c.cfg.Stream,
			"consumer", c.cfg.Consumer)
	}

	return messages, nil
}

func (c *RedisConsumer) Ack(ctx context.Context, msg Message) error {
	if err := c.client.XAck(ctx, c.cfg.Stream, c.cfg.Group, msg.ID).Err(); err != nil {
		return fmt.Errorf("xack (stream=%s): %w", c.cfg.Stream, err)
	}

	slog.DebugContext(ctx, "message acknowledged", "stream", c.cfg.Stream)
	return nil
}

func (c *RedisConsumer) Requeue(ctx context.Context, msg Message, errMsg string) error {
	nextAttempt := msg.Attempt + 1

	if err := c.Ack(ctx, msg); err != nil {
		return fmt.Errorf("acking failed message for requeue: %w", err)
	}

	values := messageValues(msg, nextAttempt)
	if errMsg != "" {
		values["last_error"] = errMsg
	}

	if c.cfg.RequeueDelay > 0 {
		time.Sleep(c.cfg.RequeueDelay)
	}

	if err := c.client.XAdd(ctx, &redis.XAddArgs{
		Stream: c.cfg.Stream,
		Values: values,
	}).Err(); err != nil {
		return fmt.Errorf("xadd requeue: %w", err)
	}

	slog.InfoContext(ctx, "message requeued for retry",
		"next_attempt", nextAttempt,
		"reason", errMsg)
	return nil
}

func (c *RedisConsumer) SendDLQ(ctx context.Context, msg Message, errMsg string) error {
	if err := c.Ack(ctx, msg); err != nil {
		return fmt.Errorf("acking failed message for dlq: %w", err)
	}

	values := messageValues(msg, msg.Attempt)
	values["error"] = errMsg

	if err := c.client.XAdd(ctx, &redis.XAddArgs{
		Stream: c.cfg.DLQStream,
		Values: values,
	}).Err(); err != nil {
		return fmt.Errorf("xadd dlq (stream=%s): %w", c.cfg.DLQStream, err)
	}

	slog.ErrorContext(ctx, "message sent to DLQ",
		"final_error", errMsg,
		"dlq_stream", c.cfg.DLQStream)
	return nil
}

func ParseMessage(msg redis.XMessage) (Message, error) {
	taskType := TaskType(stringValue(msg.Values, "task_type"))

	attempt, err := intValue(msg.Values, "attempt")
	if err != nil {
		return Message{}, err
	}
	if attempt == 0 {
		attempt = 1
	}

	receivedAt, err := timeValue(msg.Values, "received_at")
	if err != nil {
		return Message{}, err
	}

	parsed := Message{
		ID:             msg.ID,
		TaskType:       taskType,
		Agent:          stringValue(msg.Values, "agent"),
		Source:         stringValue(msg.Values, "source"),
		Type:           stringValue(msg.Values, "type"),
		OriginURL:      stringValue(msg.Values, "origin_url"),
		Payload:        json.RawMessage(stringValue(msg.Values, "payload")),
		ReceivedAt:     receivedAt,
		SubscriptionID: stringValue(msg.Values, "subscription_id"),
		LifecycleEvent: stringValue(msg.Values, "lifecycle_event"),
		TraceID:        stringValue(msg.Values, "trace_id"),
		Attempt:        attempt,
		Raw:            msg,
	}

	switch taskType {
	case TaskTypeNotification:
		if parsed.Agent == "" || parsed.Source == "" || parsed.Type == "" {
			return Message{}, fmt.Errorf("missing agent, source or type")
		}
		if len(parsed.Payload) == 0 {
			return Message{}, fmt.Errorf("missing payload")
		}
	case TaskTypeLifecycle:
		if parsed.SubscriptionID == "" || parsed.LifecycleEvent == "" {
			return Message{}, fmt.Errorf("missing subscription_id or lifecycle_event")
		}
	default:
		return Message{}, fmt.Errorf("unknown task_type %q", taskType)
	}

	return parsed, nil
}

func stringValue(values map[string]any, key string) string {
	raw, ok := values[key]
	if !ok {
		return ""
	}
	return fmt.Sprint(raw)
}

func intValue(values map[string]any, key string) (int, error) {
	raw, ok := values[key]
	if !ok {
		return 0, nil
	}
	num, err := strconv.Atoi(fmt.Sprint(raw))
	if err != nil {
		return 0, fmt.Errorf("parsing %s: %w", key, err)
	}
	return num, nil
}

func timeValue(values map[string]any, key string) (time.Time, error) {
	raw, ok := values[key]
	if !ok {
		return time.Time{}, nil
	}
	t, err := time.Parse(time.RFC3339Nano, fmt.Sprint(raw))
	if err != nil {
		return time.Time{}, fmt.Errorf("parsing %s: %w", key, err)
	}
	return t, nil
}

func messageValues(msg Message, attempt int) map[string]any {
	values := map[string]any{
		"task_type": string(msg.TaskType),
		"attempt":   attempt,
	}

	switch msg.TaskType {
	case TaskTypeNotification:
		values["agent"] = msg.Agent
		values["source"] = msg.Source
		values["type"] = msg.Type
		values["payload"] = string(msg.Payload)
		if msg.OriginURL != "" {
			values["origin_url"] = msg.OriginURL
		}
	case TaskTypeLifecycle:
		values["subscription_id"] = msg.SubscriptionID
		values["lifecycle_event"] = msg.LifecycleEvent
	}

	if !msg.ReceivedAt.IsZero() {
		values["received_at"] = msg.ReceivedAt.Format(time.RFC3339Nano)
	}
	if msg.TraceID != "" {
		values["trace_id"] = msg.TraceID
	}

	return values
}
