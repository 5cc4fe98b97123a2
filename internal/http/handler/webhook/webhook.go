// Package webhook terminates provider push notifications. The handler
// validates and enqueues; all hydration and storage happens in the worker.
package webhook

import (
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/otel/trace"

	"nexus.app/ingest/common/logger"
	"nexus.app/ingest/internal/queue"
	"nexus.app/ingest/internal/relay"
)

type Handler struct {
	relay    *relay.Relay
	producer queue.Producer
	isAgent  func(name string) bool
}

func NewHandler(r *relay.Relay, producer queue.Producer, isAgent func(name string) bool) *Handler {
	return &Handler{
		relay:    r,
		producer: producer,
		isAgent:  isAgent,
	}
}

// Handle serves POST /webhook/:agent/:source/:type.
func (h *Handler) Handle(c *gin.Context) {
	agent := c.Param("agent")
	source := c.Param("source")
	typ := c.Param("type")

	ctx := logger.WithLogFields(c.Request.Context(), logger.LogFields{
		Component: "ingest.webhook",
		AgentName: logger.Ptr(agent),
		Source:    logger.Ptr(source),
	})

	if !h.isAgent(agent) || !h.relay.KnownRoute(source, typ) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "unknown webhook route"})
		return
	}

	// Subscription handshake: the provider probes the endpoint with a
	// validation token that must be echoed back verbatim as plain text.
	if token := c.Query("validationToken"); token != "" {
		c.String(http.StatusOK, "%s", token)
		return
	}

	body, err := io.ReadAll(c.Request.Body)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "failed to read request body"})
		return
	}

	expansion, err := h.relay.Expand(ctx, agent, source, typ, c.Request.Header, body)
	if err != nil {
		switch {
		case errors.Is(err, relay.ErrUnauthorized):
			slog.WarnContext(ctx, "webhook rejected", "error", err)
			c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		case errors.Is(err, relay.ErrBadRequest):
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid payload"})
		default:
			slog.ErrorContext(ctx, "webhook expansion failed", "error", err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to process webhook"})
		}
		return
	}

	// Everything enqueues before the ack: a 202 means the provider can
	// forget the notification.
	var traceID string
	if span := trace.SpanFromContext(ctx); span.SpanContext().IsValid() {
		traceID = span.SpanContext().TraceID().String()
	}

	enqueued := 0
	for _, msg := range expansion.Messages {
		task := queue.NotificationTask(msg)
		task.TraceID = traceID
		if err := h.producer.Enqueue(ctx, task); err != nil {
			slog.ErrorContext(ctx, "failed to enqueue notification", "error", err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to enqueue"})
			return
		}
		enqueued++
	}
	for _, sig := range expansion.Lifecycle {
		task := queue.LifecycleTask(sig)
		task.TraceID = traceID
		if err := h.producer.Enqueue(ctx, task); err != nil {
			slog.ErrorContext(ctx, "failed to enqueue lifecycle signal", "error", err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to enqueue"})
			return
		}
		enqueued++
	}

	slog.InfoContext(ctx, "webhook accepted",
		"type", typ,
		"messages", len(expansion.Messages),
		"lifecycle", len(expansion.Lifecycle))

	c.JSON(http.StatusAccepted, gin.H{"status": "accepted", "enqueued": enqueued})
}
