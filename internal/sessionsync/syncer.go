package sessionsync

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"nexus.app/ingest/common/logger"
)

const archiveDirName = "archive"

// AgentDir pairs an agent with its local sessions directory.
type AgentDir struct {
	Name        string
	SessionsDir string
}

type Config struct {
	ServerURL string
	APIKey    string
	Agents    []AgentDir
	Interval  time.Duration
}

// Syncer scans agent session directories and uploads completed
// transcripts. Successful and duplicate uploads archive the file; anything
// else leaves it for the next tick.
type Syncer struct {
	cfg      Config
	uploader *Uploader
}

func New(cfg Config) *Syncer {
	return &Syncer{
		cfg:      cfg,
		uploader: NewUploader(cfg.ServerURL, cfg.APIKey),
	}
}

// Run syncs on the configured interval until the context is cancelled. An
// initial sync runs immediately.
func (s *Syncer) Run(ctx context.Context) {
	ctx = logger.WithLogFields(ctx, logger.LogFields{
		Component: "ingest.sessionsync",
	})

	if err := s.SyncOnce(ctx); err != nil {
		slog.ErrorContext(ctx, "session sync failed", "error", err)
	}

	ticker := time.NewTicker(s.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			slog.InfoContext(ctx, "session syncer stopped")
			return
		case <-ticker.C:
			if err := s.SyncOnce(ctx); err != nil {
				slog.ErrorContext(ctx, "session sync failed", "error", err)
			}
		}
	}
}

// SyncOnce runs a single scan-and-upload pass over every agent directory.
// Per-file errors are logged and isolated.
func (s *Syncer) SyncOnce(ctx context.Context) error {
	var failed int
	for _, agent := range s.cfg.Agents {
		if err := s.syncAgent(ctx, agent); err != nil {
			failed++
			slog.ErrorContext(ctx, "agent session sync failed",
				"agent", agent.Name, "error", err)
		}
	}
	if failed > 0 {
		return fmt.Errorf("%d of %d agents failed to sync", failed, len(s.cfg.Agents))
	}
	return nil
}

func (s *Syncer) syncAgent(ctx context.Context, agent AgentDir) error {
	if _, err := os.Stat(agent.SessionsDir); os.IsNotExist(err) {
		slog.WarnContext(ctx, "sessions directory missing",
			"agent", agent.Name, "dir", agent.SessionsDir)
		return nil
	}

	completed, err := completedSessions(agent.SessionsDir, activeSessions(agent.SessionsDir))
	if err != nil {
		return err
	}
	if len(completed) == 0 {
		return nil
	}

	slog.InfoContext(ctx, "found completed sessions",
		"agent", agent.Name, "count", len(completed))

	for _, path := range completed {
		if err := s.syncFile(ctx, agent, path); err != nil {
			slog.ErrorContext(ctx, "session upload failed",
				"agent", agent.Name, "file", filepath.Base(path), "error", err)
		}
	}
	return nil
}

func (s *Syncer) syncFile(ctx context.Context, agent AgentDir, path string) error {
	sessionID, _ := sessionIDFromFilename(filepath.Base(path))

	content, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("reading session file: %w", err)
	}

	result, err := s.uploader.Upload(ctx, agent.Name, sessionID, string(content))
	if err != nil {
		return err
	}

	switch result {
	case uploadSkipped:
		slog.WarnContext(ctx, "session too large, skipping",
			"session_id", sessionID, "bytes", len(content))
		return nil
	case uploadDuplicate:
		slog.WarnContext(ctx, "session already uploaded, archiving",
			"session_id", sessionID)
	case uploadStored:
		slog.InfoContext(ctx, "session uploaded",
			"session_id", sessionID, "bytes", len(content))
	}

	return archive(path)
}

// archive moves an uploaded file into the sessions dir's archive/
// subdirectory.
func archive(path string) error {
	dir := filepath.Join(filepath.Dir(path), archiveDirName)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("creating archive dir: %w", err)
	}
	if err := os.Rename(path, filepath.Join(dir, filepath.Base(path))); err != nil {
		return fmt.Errorf("archiving session file: %w", err)
	}
	return nil
}
