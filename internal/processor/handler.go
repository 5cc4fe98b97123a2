// Package processor consumes queued webhook notifications, hydrates them
// into canonical items through per-source-type handlers and stores the
// result behind whitelist admission.
package processor

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"nexus.app/ingest/internal/model"
)

// ErrResourceGone marks a notification whose provider resource no longer
// exists. Terminal but expected: the message is acked and skipped.
var ErrResourceGone = errors.New("resource gone")

// ErrNoHandler marks a source-type with no registered handler and no
// wildcard. A deployment problem, not a transient one: retrying burns
// attempts for nothing, so these go straight to the DLQ.
var ErrNoHandler = errors.New("no handler registered")

// Output is what a handler hydrated out of one notification.
type Output struct {
	Item  *model.Item
	Blobs []model.Blob

	// Gated items pass through whitelist admission instead of being
	// stored directly.
	Gated bool

	// Addresses to auto-whitelist before the item is stored.
	WhitelistEmails []string
	WhitelistBy     model.AddedBy
}

// Handler hydrates one webhook notification into storable output. A nil
// Output with nil error means the notification produced nothing.
type Handler interface {
	Handle(ctx context.Context, msg model.WebhookMessage) (*Output, error)
}

// Registry maps lower-cased source-type keys to handlers. The "*" key
// registers a wildcard fallback.
type Registry struct {
	handlers map[string]Handler
	wildcard Handler
}

func NewRegistry() *Registry {
	return &Registry{handlers: map[string]Handler{}}
}

func (r *Registry) Register(sourceType string, h Handler) {
	if sourceType == "*" {
		r.wildcard = h
		return
	}
	r.handlers[strings.ToLower(sourceType)] = h
}

func (r *Registry) Resolve(sourceType string) (Handler, error) {
	if h, ok := r.handlers[strings.ToLower(sourceType)]; ok {
		return h, nil
	}
	if r.wildcard != nil {
		return r.wildcard, nil
	}
	return nil, fmt.Errorf("%w for %s", ErrNoHandler, sourceType)
}
