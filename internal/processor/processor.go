package processor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/trace"

	"nexus.app/ingest/common/logger"
	"nexus.app/ingest/internal/model"
	"nexus.app/ingest/internal/queue"
	"nexus.app/ingest/internal/store"
	"nexus.app/ingest/internal/whitelist"
)

// Consumer is the queue surface the processor drives. Satisfied by
// *queue.RedisConsumer.
type Consumer interface {
	Read(ctx context.Context) ([]queue.Message, error)
	Ack(ctx context.Context, msg queue.Message) error
	Requeue(ctx context.Context, msg queue.Message, errMsg string) error
	SendDLQ(ctx context.Context, msg queue.Message, errMsg string) error
	MaxAttempts() int
}

// Admitter mirrors whitelist.Service - defined here to avoid widening the
// dependency to the whole service surface.
type Admitter interface {
	Admit(ctx context.Context, item *model.Item) (whitelist.Decision, error)
	AddEntries(ctx context.Context, domains, emails []string, addedBy model.AddedBy) ([]model.WhitelistEntry, error)
}

// LifecycleRouter handles subscription lifecycle signals dequeued as
// lifecycle tasks.
type LifecycleRouter interface {
	HandleLifecycle(ctx context.Context, sig model.LifecycleSignal) error
}

type Processor struct {
	consumer  Consumer
	registry  *Registry
	items     store.ItemStore
	blobs     store.BlobStore
	whitelist Admitter
	lifecycle LifecycleRouter

	stopCh    chan struct{}
	stoppedCh chan struct{}
}

func New(consumer Consumer, registry *Registry, items store.ItemStore, blobs store.BlobStore, admitter Admitter, lifecycle LifecycleRouter) *Processor {
	return &Processor{
		consumer:  consumer,
		registry:  registry,
		items:     items,
		blobs:     blobs,
		whitelist: admitter,
		lifecycle: lifecycle,
		stopCh:    make(chan struct{}),
		stoppedCh: make(chan struct{}),
	}
}

func (p *Processor) Run(ctx context.Context) error {
	defer close(p.stoppedCh)

	ctx = logger.WithLogFields(ctx, logger.LogFields{
		Component: "ingest.processor",
	})
	slog.InfoContext(ctx, "processor started")

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-p.stopCh:
			slog.InfoContext(ctx, "processor stopping")
			return nil
		default:
			if err := p.processOneBatch(ctx); err != nil {
				slog.ErrorContext(ctx, "batch processing error", "error", err)
				// Brief backoff on error
				time.Sleep(time.Second)
			}
		}
	}
}

func (p *Processor) Stop() {
	close(p.stopCh)
	<-p.stoppedCh
}

func (p *Processor) processOneBatch(ctx context.Context) error {
	messages, err := p.consumer.Read(ctx)
	if err != nil {
		return fmt.Errorf("reading from stream: %w", err)
	}

	for _, msg := range messages {
		if err := p.processMessageSafe(ctx, msg); err != nil {
			slog.ErrorContext(ctx, "message processing failed",
				"error", err,
				"message_id", msg.ID,
				"task_type", msg.TaskType)
			p.handleFailedMessage(ctx, msg, err)
		}
	}

	return nil
}

func (p *Processor) processMessageSafe(ctx context.Context, msg queue.Message) (err error) {
	defer func() {
		if r := recover(); r != nil {
			slog.ErrorContext(ctx, "panic recovered in message processing",
				"panic", r,
				"message_id", msg.ID)
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return p.ProcessMessage(ctx, msg)
}

// Exported so it can be reused by the reclaimer.
func (p *Processor) ProcessMessage(ctx context.Context, msg queue.Message) (err error) {
	// Link back to the trace that accepted the webhook, across the queue hop.
	sc := logger.StartSpanFromTraceID(ctx, msg.TraceID, "processor.process_message",
		trace.WithSpanKind(trace.SpanKindConsumer))
	defer func() {
		sc.RecordError(err)
		sc.End()
	}()
	ctx = sc.Context()

	ctx = logger.WithLogFields(ctx, logger.LogFields{
		MessageID: logger.Ptr(msg.ID),
		AgentName: logger.Ptr(msg.Agent),
		Source:    logger.Ptr(msg.Source),
	})

	slog.InfoContext(ctx, "processing message",
		"task_type", msg.TaskType,
		"attempt", msg.Attempt)

	switch msg.TaskType {
	case queue.TaskTypeLifecycle:
		if err := p.lifecycle.HandleLifecycle(ctx, msg.LifecycleSignal()); err != nil {
			return fmt.Errorf("handling lifecycle signal: %w", err)
		}
	case queue.TaskTypeNotification:
		if err := p.processNotification(ctx, msg); err != nil {
			return err
		}
	default:
		// ParseMessage rejects unknown task types; reaching here means a
		// schema drift between producer and consumer.
		return fmt.Errorf("unhandled task type %q", msg.TaskType)
	}

	if err := p.consumer.Ack(ctx, msg); err != nil {
		// Log but don't fail - message will be reclaimed but that's safe
		slog.WarnContext(ctx, "failed to ACK message", "error", err)
	}
	return nil
}

func (p *Processor) processNotification(ctx context.Context, msg queue.Message) error {
	envelope := msg.WebhookMessage()
	sourceType := envelope.SourceType()
	ctx = logger.WithLogFields(ctx, logger.LogFields{
		SourceType: logger.Ptr(sourceType),
	})

	handler, err := p.registry.Resolve(sourceType)
	if err != nil {
		return err
	}

	out, err := handler.Handle(ctx, envelope)
	if err != nil {
		if errors.Is(err, ErrResourceGone) {
			// The resource vanished between notification and hydration.
			// Nothing to retry; treat as processed.
			slog.InfoContext(ctx, "resource gone, skipping notification", "error", err)
			return nil
		}
		return fmt.Errorf("handler for %s: %w", sourceType, err)
	}
	if out == nil || out.Item == nil {
		slog.DebugContext(ctx, "notification produced no item")
		return nil
	}

	return p.storeOutput(ctx, out)
}

// storeOutput persists one handler output: blobs first so a stored item
// never references a missing object, then auto-whitelist entries, then the
// item itself through admission when gated.
func (p *Processor) storeOutput(ctx context.Context, out *Output) error {
	ctx = logger.WithLogFields(ctx, logger.LogFields{
		ItemID: logger.Ptr(out.Item.ID),
	})

	for _, blob := range out.Blobs {
		if err := p.blobs.Put(ctx, blob.Key, blob.Content, blob.ContentType); err != nil {
			return fmt.Errorf("writing blob %s: %w", blob.Key, err)
		}
	}

	if len(out.WhitelistEmails) > 0 {
		if _, err := p.whitelist.AddEntries(ctx, nil, out.WhitelistEmails, out.WhitelistBy); err != nil {
			return fmt.Errorf("auto-whitelisting addresses: %w", err)
		}
	}

	if out.Gated {
		decision, err := p.whitelist.Admit(ctx, out.Item)
		if err != nil {
			return fmt.Errorf("admitting item: %w", err)
		}
		slog.InfoContext(ctx, "gated item processed", "decision", decision)
		return nil
	}

	if err := p.items.Upsert(ctx, out.Item); err != nil {
		return fmt.Errorf("storing item: %w", err)
	}
	slog.InfoContext(ctx, "item stored", "source_type", out.Item.SourceType)
	return nil
}

func (p *Processor) handleFailedMessage(ctx context.Context, msg queue.Message, err error) {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		// Interrupted mid-message, likely shutdown. Left unacked, the
		// message stays pending and the reclaimer redelivers it without
		// burning an attempt.
		slog.WarnContext(ctx, "message interrupted, leaving for reclaim",
			"message_id", msg.ID)
		return
	}

	if errors.Is(err, ErrNoHandler) {
		// A missing handler is a deployment problem; retries burn
		// attempts without changing the outcome.
		slog.ErrorContext(ctx, "no handler for message, sending to DLQ",
			"message_id", msg.ID,
			"source", msg.Source,
			"type", msg.Type)
		if dlqErr := p.consumer.SendDLQ(ctx, msg, err.Error()); dlqErr != nil {
			slog.ErrorContext(ctx, "failed to send to DLQ", "error", dlqErr)
		}
		return
	}

	if msg.Attempt >= p.consumer.MaxAttempts() {
		slog.ErrorContext(ctx, "max attempts reached, sending to DLQ",
			"message_id", msg.ID,
			"attempts", msg.Attempt)
		if dlqErr := p.consumer.SendDLQ(ctx, msg, err.Error()); dlqErr != nil {
			slog.ErrorContext(ctx, "failed to send to DLQ", "error", dlqErr)
		}
		return
	}

	slog.WarnContext(ctx, "requeuing failed message",
		"message_id", msg.ID,
		"attempt", msg.Attempt)
	if requeueErr := p.consumer.Requeue(ctx, msg, err.Error()); requeueErr != nil {
		slog.ErrorContext(ctx, "failed to requeue message", "error", requeueErr)
	}
}
