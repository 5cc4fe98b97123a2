package relay

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"nexus.app/ingest/internal/model"
)

// ScribeSignatureHeader carries the transcript provider's whole-body HMAC.
const ScribeSignatureHeader = "X-Scribe-Signature"

type scribeEvent struct {
	Event     string `json:"event"`
	MeetingID string `json:"meetingId"`
}

// expandScribe verifies the whole-body signature, then admits the single
// notification. The payload travels verbatim; hydration happens in the
// processor against the provider's query API.
func (r *Relay) expandScribe(ctx context.Context, agent, typ string, headers http.Header, body []byte) (Expansion, error) {
	if !validSignature(body, r.scribeSecret, headers.Get(ScribeSignatureHeader)) {
		return Expansion{}, fmt.Errorf("%w: invalid signature", ErrUnauthorized)
	}

	var event scribeEvent
	if err := json.Unmarshal(body, &event); err != nil {
		return Expansion{}, fmt.Errorf("%w: malformed payload: %v", ErrBadRequest, err)
	}
	if event.MeetingID == "" {
		return Expansion{}, fmt.Errorf("%w: missing meetingId", ErrBadRequest)
	}

	return Expansion{
		Messages: []model.WebhookMessage{r.message(agent, SourceScribe, typ, body)},
	}, nil
}
