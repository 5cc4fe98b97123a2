package relay

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"nexus.app/ingest/internal/model"
)

// ReleaseSignatureHeader carries the sha256=-prefixed whole-body HMAC.
const ReleaseSignatureHeader = "X-Hub-Signature-256"

type releaseAction struct {
	Action string `json:"action"`
}

// expandRelease verifies the prefixed signature and drops everything but
// the "published" action. Drafted, edited and deleted releases are
// acknowledged without producing a message.
func (r *Relay) expandRelease(ctx context.Context, agent, typ string, headers http.Header, body []byte) (Expansion, error) {
	signature := strings.TrimPrefix(headers.Get(ReleaseSignatureHeader), "sha256=")
	if !validSignature(body, r.releaseSecret, signature) {
		return Expansion{}, fmt.Errorf("%w: invalid signature", ErrUnauthorized)
	}

	var payload releaseAction
	if err := json.Unmarshal(body, &payload); err != nil {
		return Expansion{}, fmt.Errorf("%w: malformed payload: %v", ErrBadRequest, err)
	}

	if payload.Action != "published" {
		slog.DebugContext(ctx, "dropping non-published release action", "action", payload.Action)
		return Expansion{}, nil
	}

	return Expansion{
		Messages: []model.WebhookMessage{r.message(agent, SourceGitHub, typ, body)},
	}, nil
}

// expandGeneric passes arbitrary sender payloads through unchanged.
func (r *Relay) expandGeneric(agent, source, typ string, body []byte) (Expansion, error) {
	if !json.Valid(body) {
		return Expansion{}, fmt.Errorf("%w: malformed payload", ErrBadRequest)
	}

	return Expansion{
		Messages: []model.WebhookMessage{r.message(agent, source, typ, body)},
	}, nil
}
