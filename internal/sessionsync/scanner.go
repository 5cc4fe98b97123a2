// Package sessionsync uploads completed agent session transcripts to the
// ingest API. A session is complete when its file exists on disk but its id
// is no longer tracked in the agent's sessions.json.
package sessionsync

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/google/uuid"
)

const sessionsIndexFile = "sessions.json"

// activeSessions reads the set of in-flight session ids. The index is a
// JSON object keyed by session id; a missing or unreadable index means no
// sessions are active and everything on disk is fair game.
func activeSessions(dir string) map[string]struct{} {
	raw, err := os.ReadFile(filepath.Join(dir, sessionsIndexFile))
	if err != nil {
		return map[string]struct{}{}
	}

	var index map[string]json.RawMessage
	if err := json.Unmarshal(raw, &index); err != nil {
		return map[string]struct{}{}
	}

	active := make(map[string]struct{}, len(index))
	for id := range index {
		active[id] = struct{}{}
	}
	return active
}

// completedSessions lists transcript files whose session id is valid and
// not active. Filenames are "<uuid>.jsonl" with optional suffixes.
func completedSessions(dir string, active map[string]struct{}) ([]string, error) {
	matches, err := filepath.Glob(filepath.Join(dir, "*.jsonl*"))
	if err != nil {
		return nil, fmt.Errorf("globbing sessions dir: %w", err)
	}

	var completed []string
	for _, path := range matches {
		info, err := os.Stat(path)
		if err != nil || info.IsDir() {
			continue
		}
		id, ok := sessionIDFromFilename(filepath.Base(path))
		if !ok {
			continue
		}
		if _, live := active[id]; live {
			continue
		}
		completed = append(completed, path)
	}
	return completed, nil
}

// sessionIDFromFilename extracts and validates the 36-char UUID prefix.
func sessionIDFromFilename(name string) (string, bool) {
	if len(name) < 36 {
		return "", false
	}
	id := name[:36]
	if _, err := uuid.Parse(id); err != nil {
		return "", false
	}
	return id, true
}
