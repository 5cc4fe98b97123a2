package model

import (
	"encoding/json"
	"time"
)

// WebhookMessage is the canonical envelope produced by the webhook relay.
// It is immutable once enqueued; the raw provider payload travels opaque
// until a type handler hydrates it.
type WebhookMessage struct {
	AgentName       string          `json:"agent_name"`
	Source          string          `json:"source"`
	Type            string          `json:"type"`
	OriginURL       string          `json:"origin_url,omitempty"`
	RawNotification json.RawMessage `json:"raw_notification"`
	ReceivedAt      time.Time       `json:"received_at"`
}

// SourceType returns the lower-cased source-type composite used as the
// dispatch and partition key, e.g. "graph-mail".
func (m WebhookMessage) SourceType() string {
	return SourceTypeKey(m.Source, m.Type)
}

// LifecycleEvent identifies a subscription lifecycle signal from the
// mail/calendar provider.
type LifecycleEvent string

const (
	LifecycleReauthorizationRequired LifecycleEvent = "reauthorizationRequired"
	LifecycleSubscriptionRemoved     LifecycleEvent = "subscriptionRemoved"
	LifecycleMissed                  LifecycleEvent = "missed"
)

// LifecycleSignal is the separate signal class carried by lifecycle
// notifications. It is never fanned out as a data notification.
type LifecycleSignal struct {
	SubscriptionID string         `json:"subscription_id"`
	Event          LifecycleEvent `json:"event"`
	ReceivedAt     time.Time      `json:"received_at"`
}
