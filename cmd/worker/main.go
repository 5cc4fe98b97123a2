package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"

	"nexus.app/ingest/common/id"
	"nexus.app/ingest/common/logger"
	"nexus.app/ingest/common/otel"
	"nexus.app/ingest/core/config"
	"nexus.app/ingest/core/db"
	"nexus.app/ingest/internal/processor"
	"nexus.app/ingest/internal/provider"
	"nexus.app/ingest/internal/queue"
	"nexus.app/ingest/internal/store"
	"nexus.app/ingest/internal/subscription"
	"nexus.app/ingest/internal/whitelist"
)

func main() {
	fmt.Printf("%s\n", banner)
	ctx := context.Background()

	cfg, err := config.Load(config.ServiceTypeWorker)
	if err != nil {
		slog.ErrorContext(ctx, "failed to load config", "error", err)
		os.Exit(1)
	}

	telemetry, err := otel.Setup(ctx, cfg.OTel)
	if err != nil {
		os.Stderr.WriteString("failed to initialize otel: " + err.Error() + "\n")
		os.Exit(1)
	}

	logger.Setup(cfg)

	slog.InfoContext(ctx, "ingest worker starting",
		"env", cfg.Env,
		"consumer_group", cfg.Pipeline.Group,
		"consumer_name", cfg.Pipeline.Consumer)

	// Different node ID than the server so snowflakes never collide.
	if err := id.Init(2); err != nil {
		slog.ErrorContext(ctx, "failed to initialize snowflake id generator", "error", err)
		os.Exit(1)
	}

	database, err := db.New(ctx, cfg.DB)
	if err != nil {
		slog.ErrorContext(ctx, "failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer database.Close()
	slog.InfoContext(ctx, "database connected")

	blobs, err := store.NewBlobStore(ctx, cfg.Blob)
	if err != nil {
		slog.ErrorContext(ctx, "failed to connect to blob store", "error", err)
		os.Exit(1)
	}
	slog.InfoContext(ctx, "blob store ready", "bucket", cfg.Blob.Bucket)

	redisOpts, err := redis.ParseURL(cfg.Pipeline.RedisURL)
	if err != nil {
		slog.ErrorContext(ctx, "failed to parse redis url", "error", err)
		os.Exit(1)
	}

	redisClient := redis.NewClient(redisOpts)
	if err := redisClient.Ping(ctx).Err(); err != nil {
		slog.ErrorContext(ctx, "failed to connect to redis", "error", err)
		os.Exit(1)
	}
	defer redisClient.Close()
	slog.InfoContext(ctx, "redis connected", "stream", cfg.Pipeline.Stream)

	consumer, err := queue.NewRedisConsumer(redisClient, queue.ConsumerConfig{
		Stream:       cfg.Pipeline.Stream,
		Group:        cfg.Pipeline.Group,
		Consumer:     cfg.Pipeline.Consumer,
		DLQStream:    cfg.Pipeline.DLQStream,
		BatchSize:    10,
		Block:        5 * time.Second,
		MaxAttempts:  cfg.Pipeline.MaxAttempts,
		RequeueDelay: cfg.Pipeline.RequeueDelay,
	})
	if err != nil {
		slog.ErrorContext(ctx, "failed to create consumer", "error", err)
		os.Exit(1)
	}

	stores := store.NewStores(database)
	graph := provider.NewGraphClient(cfg.Graph)
	scribe := provider.NewScribeClient(cfg.Scribe)

	admission := whitelist.NewService(stores.Whitelist(), stores.Pending(), stores.Items())
	subscriptions := subscription.NewManager(graph, stores.Subscriptions(), cfg.Subscription)

	registry := processor.NewRegistry()
	registry.Register("graph-mail", processor.NewMailHandler(graph, cfg.Graph.MailboxAddress))
	registry.Register("graph-calendar", processor.NewCalendarHandler(graph))
	registry.Register("scribe-meeting", processor.NewMeetingHandler(scribe))
	registry.Register("github-release", processor.NewReleaseHandler())
	registry.Register("*", processor.NewGenericHandler())

	proc := processor.New(consumer, registry, stores.Items(), blobs, admission, subscriptions)

	reclaimer := processor.NewReclaimer(redisClient, processor.ReclaimerConfig{
		Stream:    cfg.Pipeline.Stream,
		Group:     cfg.Pipeline.Group,
		Consumer:  cfg.Pipeline.Consumer + "-reclaimer",
		MinIdle:   5 * time.Minute,
		Interval:  1 * time.Minute,
		BatchSize: 10,
	}, consumer, proc.ProcessMessage)

	observer := processor.NewPoisonObserver(redisClient, processor.PoisonObserverConfig{
		DLQStream: cfg.Pipeline.DLQStream,
		Interval:  cfg.Pipeline.PoisonInterval,
		BatchSize: 50,
	})

	sweeperCtx, stopSweeper := context.WithCancel(ctx)

	errCh := make(chan error, 3)
	go func() {
		errCh <- proc.Run(ctx)
	}()
	go func() {
		reclaimer.Run(ctx)
		errCh <- nil
	}()
	go func() {
		observer.Run(ctx)
		errCh <- nil
	}()
	go subscriptions.RunSweeper(sweeperCtx)

	slog.InfoContext(ctx, "worker initialized and running")

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	slog.InfoContext(ctx, "shutting down worker...")

	shutdownCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	// Background loops first (quick), then the processor, which may be
	// mid-message.
	stopSweeper()
	observer.Stop()
	reclaimer.Stop()
	proc.Stop()

	select {
	case <-shutdownCtx.Done():
		slog.WarnContext(ctx, "shutdown timeout exceeded")
	case err := <-errCh:
		if err != nil {
			slog.ErrorContext(ctx, "worker error during shutdown", "error", err)
		}
	}

	if telemetry != nil {
		if err := telemetry.Shutdown(shutdownCtx); err != nil {
			slog.ErrorContext(shutdownCtx, "otel shutdown error", "error", err)
		}
	}

	slog.InfoContext(ctx, "worker shutdown complete")
}

const banner = `
███╗   ██╗███████╗██╗  ██╗██╗   ██╗███████╗    ██╗    ██╗ ██████╗ ██████╗ ██╗  ██╗███████╗██████╗
████╗  ██║██╔════╝╚██╗██╔╝██║   ██║██╔════╝    ██║    ██║██╔═══██╗██╔══██╗██║ ██╔╝██╔════╝██╔══██╗
██╔██╗ ██║█████╗   ╚███╔╝ ██║   ██║███████╗    ██║ █╗ ██║██║   ██║██████╔╝█████╔╝ █████╗  ██████╔╝
██║╚██╗██║██╔══╝   ██╔██╗ ██║   ██║╚════██║    ██║███╗██║██║   ██║██╔══██╗██╔═██╗ ██╔══╝  ██╔══██╗
██║ ╚████║███████╗██╔╝ ██╗╚██████╔╝███████║    ╚███╔███╔╝╚██████╔╝██║  ██║██║  ██╗███████╗██║  ██║
╚═╝  ╚═══╝╚══════╝╚═╝  ╚═╝ ╚═════╝ ╚══════╝     ╚══╝╚══╝  ╚═════╝ ╚═╝  ╚═╝╚═╝  ╚═╝╚══════╝╚═╝  ╚═╝
`
