package relay

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"fmt"
	"log/slog"

	"nexus.app/ingest/internal/model"
)

// graphEnvelope is the provider's notification batch shape.
type graphEnvelope struct {
	Value []json.RawMessage `json:"value"`
}

type graphNotification struct {
	SubscriptionID string `json:"subscriptionId"`
	ClientState    string `json:"clientState"`
	ChangeType     string `json:"changeType"`
	Resource       string `json:"resource"`
	LifecycleEvent string `json:"lifecycleEvent"`
}

// expandGraph validates each batch item against the configured client
// state. Items carrying a lifecycleEvent marker become lifecycle signals
// for the subscription manager; they are never fanned out as data
// notifications.
func (r *Relay) expandGraph(ctx context.Context, agent, typ string, body []byte) (Expansion, error) {
	var envelope graphEnvelope
	if err := json.Unmarshal(body, &envelope); err != nil {
		return Expansion{}, fmt.Errorf("%w: malformed notification batch: %v", ErrBadRequest, err)
	}

	var out Expansion
	for _, raw := range envelope.Value {
		var note graphNotification
		if err := json.Unmarshal(raw, &note); err != nil {
			slog.WarnContext(ctx, "skipping malformed graph notification", "error", err)
			continue
		}

		if subtle.ConstantTimeCompare([]byte(note.ClientState), []byte(r.graphClientState)) != 1 {
			slog.WarnContext(ctx, "skipping graph notification with bad client state",
				"subscription_id", note.SubscriptionID,
				"change_type", note.ChangeType)
			continue
		}

		if note.LifecycleEvent != "" {
			out.Lifecycle = append(out.Lifecycle, model.LifecycleSignal{
				SubscriptionID: note.SubscriptionID,
				Event:          model.LifecycleEvent(note.LifecycleEvent),
				ReceivedAt:     r.now(),
			})
			continue
		}

		out.Messages = append(out.Messages, r.message(agent, SourceGraph, typ, raw))
	}

	return out, nil
}
