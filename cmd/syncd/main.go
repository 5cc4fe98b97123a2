package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"nexus.app/ingest/internal/sessionsync"
)

// syncd is the agent-side session daemon. It runs next to the agents, not
// on the server, so it carries its own tiny env config instead of the
// shared server config.
func main() {
	once := flag.Bool("once", false, "run a single sync pass and exit")
	flag.Parse()

	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stdout, nil)))

	_ = godotenv.Load(".env.syncd")

	cfg, err := loadConfig()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	syncer := sessionsync.New(cfg)

	slog.InfoContext(ctx, "session sync daemon starting",
		"server", cfg.ServerURL,
		"agents", len(cfg.Agents),
		"interval", cfg.Interval,
		"once", *once)

	if *once {
		if err := syncer.SyncOnce(ctx); err != nil {
			slog.ErrorContext(ctx, "session sync failed", "error", err)
			os.Exit(1)
		}
		return
	}

	syncer.Run(ctx)
	slog.Info("session sync daemon stopped")
}

func loadConfig() (sessionsync.Config, error) {
	serverURL := os.Getenv("SYNC_SERVER_URL")
	if serverURL == "" {
		return sessionsync.Config{}, fmt.Errorf("SYNC_SERVER_URL is required")
	}

	apiKey := os.Getenv("SYNC_API_KEY")
	if apiKey == "" {
		return sessionsync.Config{}, fmt.Errorf("SYNC_API_KEY is required")
	}

	agents, err := parseAgentDirs(os.Getenv("SYNC_AGENT_DIRS"))
	if err != nil {
		return sessionsync.Config{}, err
	}

	interval := 5 * time.Minute
	if raw := os.Getenv("SYNC_INTERVAL"); raw != "" {
		d, err := time.ParseDuration(raw)
		if err != nil {
			return sessionsync.Config{}, fmt.Errorf("invalid SYNC_INTERVAL %q: %w", raw, err)
		}
		interval = d
	}

	return sessionsync.Config{
		ServerURL: strings.TrimRight(serverURL, "/"),
		APIKey:    apiKey,
		Agents:    agents,
		Interval:  interval,
	}, nil
}

// parseAgentDirs parses "name=dir" pairs, comma separated:
// SYNC_AGENT_DIRS="helios=/var/agents/helios/sessions,atlas=/var/agents/atlas/sessions"
func parseAgentDirs(raw string) ([]sessionsync.AgentDir, error) {
	var agents []sessionsync.AgentDir
	for _, pair := range strings.Split(raw, ",") {
		pair = strings.TrimSpace(pair)
		if pair == "" {
			continue
		}
		name, dir, ok := strings.Cut(pair, "=")
		if !ok || name == "" || dir == "" {
			return nil, fmt.Errorf("invalid SYNC_AGENT_DIRS entry %q, want name=dir", pair)
		}
		agents = append(agents, sessionsync.AgentDir{Name: name, SessionsDir: dir})
	}
	if len(agents) == 0 {
		return nil, fmt.Errorf("SYNC_AGENT_DIRS is required")
	}
	return agents, nil
}
