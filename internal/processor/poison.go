package processor

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"nexus.app/ingest/common/logger"
	"nexus.app/ingest/internal/queue"
)

type PoisonObserverConfig struct {
	DLQStream string
	Interval  time.Duration
	BatchSize int64
}

// PoisonObserver periodically surfaces new DLQ entries in the logs for
// manual triage. It never re-enqueues: a message that exhausted its
// attempts stays dead until an operator decides otherwise.
type PoisonObserver struct {
	client *redis.Client
	cfg    PoisonObserverConfig
	lastID string

	stopCh    chan struct{}
	stoppedCh chan struct{}
}

func NewPoisonObserver(client *redis.Client, cfg PoisonObserverConfig) *PoisonObserver {
	return &PoisonObserver{
		client:    client,
		cfg:       cfg,
		lastID:    "0-0",
		stopCh:    make(chan struct{}),
		stoppedCh: make(chan struct{}),
	}
}

// Run starts the observer loop. Blocks until Stop() is called.
func (o *PoisonObserver) Run(ctx context.Context) {
	ctx = logger.WithLogFields(ctx, logger.LogFields{
		Component: "ingest.processor.poison",
	})

	defer close(o.stoppedCh)

	ticker := time.NewTicker(o.cfg.Interval)
	defer ticker.Stop()

	slog.InfoContext(ctx, "poison observer started",
		"dlq_stream", o.cfg.DLQStream,
		"interval", o.cfg.Interval)

	for {
		select {
		case <-ctx.Done():
			return
		case <-o.stopCh:
			slog.InfoContext(ctx, "poison observer stopping")
			return
		case <-ticker.C:
			if err := o.observeOnce(ctx); err != nil {
				slog.ErrorContext(ctx, "poison observe cycle error", "error", err)
			}
		}
	}
}

// Stop signals the observer to stop gracefully.
func (o *PoisonObserver) Stop() {
	close(o.stopCh)
	<-o.stoppedCh
}

func (o *PoisonObserver) observeOnce(ctx context.Context) error {
	// Exclusive range from the last seen id; entries are logged once.
	entries, err := o.client.XRangeN(ctx, o.cfg.DLQStream, "("+o.lastID, "+", o.cfg.BatchSize).Result()
	if err != nil {
		return fmt.Errorf("xrange dlq: %w", err)
	}

	for _, entry := range entries {
		o.lastID = entry.ID
		o.logEntry(ctx, entry)
	}

	return nil
}

func (o *PoisonObserver) logEntry(ctx context.Context, entry redis.XMessage) {
	finalErr := fmt.Sprint(entry.Values["error"])

	parsed, err := queue.ParseMessage(entry)
	if err != nil {
		slog.ErrorContext(ctx, "poison message (unparseable)",
			"dlq_id", entry.ID,
			"final_error", finalErr,
			"parse_error", err)
		return
	}

	slog.ErrorContext(ctx, "poison message",
		"dlq_id", entry.ID,
		"task_type", parsed.TaskType,
		"agent", parsed.Agent,
		"source", parsed.Source,
		"type", parsed.Type,
		"subscription_id", parsed.SubscriptionID,
		"attempts", parsed.Attempt,
		"final_error", finalErr,
		"payload", logger.Truncate(string(parsed.Payload), 512))
}
