package relay

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"nexus.app/ingest/core/config"
	"nexus.app/ingest/internal/model"
)

// Boundary rejections. Everything past these is asynchronous and invisible
// to the provider.
var (
	ErrUnauthorized = errors.New("unauthorized")
	ErrBadRequest   = errors.New("bad request")
)

// Known provider sources.
const (
	SourceGraph   = "graph"
	SourceScribe  = "scribe"
	SourceGitHub  = "github"
	SourceGeneric = "generic"
)

type routeKey struct {
	source string
	typ    string
}

// Expansion is the result of validating one webhook request: zero or more
// canonical messages plus any subscription lifecycle signals.
type Expansion struct {
	Messages  []model.WebhookMessage
	Lifecycle []model.LifecycleSignal
}

// Relay validates provider webhook requests and converts native payloads
// into canonical WebhookMessages. It holds no mutable state; one instance
// serves any number of concurrent requests.
type Relay struct {
	graphClientState string
	scribeSecret     string
	releaseSecret    string
	routes           map[routeKey]bool
	now              func() time.Time
}

func New(cfg config.Config) *Relay {
	return &Relay{
		graphClientState: cfg.Graph.ClientState,
		scribeSecret:     cfg.Scribe.WebhookSecret,
		releaseSecret:    cfg.Release.WebhookSecret,
		routes: map[routeKey]bool{
			{SourceGraph, "mail"}:      true,
			{SourceGraph, "calendar"}:  true,
			{SourceScribe, "meeting"}:  true,
			{SourceGitHub, "release"}:  true,
			{SourceGeneric, "event"}:   true,
			{SourceGeneric, "message"}: true,
		},
		now: func() time.Time { return time.Now().UTC() },
	}
}

// KnownRoute reports whether the (source, type) pair is registered.
// Checked before any signature validation.
func (r *Relay) KnownRoute(source, typ string) bool {
	return r.routes[routeKey{strings.ToLower(source), strings.ToLower(typ)}]
}

// Expand validates the request for the matching provider and fans the
// payload out into canonical messages. A whole-request signature failure
// returns ErrUnauthorized and nothing is enqueued; per-item validation
// failures skip the item but keep the rest of the batch.
func (r *Relay) Expand(ctx context.Context, agent, source, typ string, headers http.Header, body []byte) (Expansion, error) {
	source = strings.ToLower(source)
	typ = strings.ToLower(typ)

	if !r.KnownRoute(source, typ) {
		return Expansion{}, fmt.Errorf("%w: unknown source/type %s/%s", ErrBadRequest, source, typ)
	}

	switch source {
	case SourceGraph:
		return r.expandGraph(ctx, agent, typ, body)
	case SourceScribe:
		return r.expandScribe(ctx, agent, typ, headers, body)
	case SourceGitHub:
		return r.expandRelease(ctx, agent, typ, headers, body)
	default:
		return r.expandGeneric(agent, source, typ, body)
	}
}

func (r *Relay) message(agent, source, typ string, payload []byte) model.WebhookMessage {
	return model.WebhookMessage{
		AgentName:       agent,
		Source:          source,
		Type:            typ,
		OriginURL:       "/webhook/" + agent + "/" + source + "/" + typ,
		RawNotification: payload,
		ReceivedAt:      r.now(),
	}
}
