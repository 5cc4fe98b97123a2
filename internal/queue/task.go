package queue

import (
	"encoding/json"
	"time"

	"nexus.app/ingest/internal/model"
)

type TaskType string

const (
	// TaskTypeNotification carries a canonical WebhookMessage toward a
	// resource-specific handler.
	TaskTypeNotification TaskType = "notification"
	// TaskTypeLifecycle carries a subscription lifecycle signal toward the
	// subscription manager.
	TaskTypeLifecycle TaskType = "lifecycle"
)

// Task is the unit handed to the producer. Exactly one of the two payload
// shapes is populated depending on TaskType.
type Task struct {
	TaskType TaskType

	// notification fields
	Agent      string
	Source     string
	Type       string
	OriginURL  string
	Payload    json.RawMessage
	ReceivedAt time.Time

	// lifecycle fields
	SubscriptionID string
	LifecycleEvent string

	TraceID string
	Attempt int
}

// NotificationTask wraps a canonical WebhookMessage.
func NotificationTask(msg model.WebhookMessage) Task {
	return Task{
		TaskType:   TaskTypeNotification,
		Agent:      msg.AgentName,
		Source:     msg.Source,
		Type:       msg.Type,
		OriginURL:  msg.OriginURL,
		Payload:    msg.RawNotification,
		ReceivedAt: msg.ReceivedAt,
	}
}

// LifecycleTask wraps a subscription lifecycle signal.
func LifecycleTask(sig model.LifecycleSignal) Task {
	return Task{
		TaskType:       TaskTypeLifecycle,
		SubscriptionID: sig.SubscriptionID,
		LifecycleEvent: string(sig.Event),
		ReceivedAt:     sig.ReceivedAt,
	}
}
