package sessionsync

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// MaxTranscriptBytes mirrors the server-side session upload cap.
const MaxTranscriptBytes = 10 << 20

// uploadResult classifies one upload attempt.
type uploadResult int

const (
	// uploadStored means the server accepted the transcript.
	uploadStored uploadResult = iota
	// uploadDuplicate means the server already has this session. The file
	// is archived like a success.
	uploadDuplicate
	// uploadSkipped means the file cannot be uploaded (oversized). Left in
	// place so the skip is visible on every tick.
	uploadSkipped
)

// Uploader posts transcripts to the ingest API's session endpoint.
type Uploader struct {
	serverURL string
	apiKey    string
	client    *http.Client
}

func NewUploader(serverURL, apiKey string) *Uploader {
	return &Uploader{
		serverURL: serverURL,
		apiKey:    apiKey,
		client:    &http.Client{Timeout: 30 * time.Second},
	}
}

type uploadPayload struct {
	AgentID    string `json:"agentId"`
	SessionID  string `json:"sessionId"`
	Transcript string `json:"transcript"`
}

// Upload posts one transcript. A non-2xx status other than 409 is an
// error; the caller leaves the file for the next tick.
func (u *Uploader) Upload(ctx context.Context, agentID, sessionID, transcript string) (uploadResult, error) {
	if len(transcript) > MaxTranscriptBytes {
		return uploadSkipped, nil
	}

	body, err := json.Marshal(uploadPayload{
		AgentID:    agentID,
		SessionID:  sessionID,
		Transcript: transcript,
	})
	if err != nil {
		return 0, fmt.Errorf("encoding upload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u.serverURL+"/api/v1/sessions", bytes.NewReader(body))
	if err != nil {
		return 0, fmt.Errorf("building request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Api-Key", u.apiKey)

	resp, err := u.client.Do(req)
	if err != nil {
		return 0, fmt.Errorf("uploading session %s: %w", sessionID, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusConflict:
		return uploadDuplicate, nil
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		return uploadStored, nil
	default:
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 256))
		return 0, fmt.Errorf("uploading session %s: status %d: %s", sessionID, resp.StatusCode, snippet)
	}
}
