package provider

import (
	"context"
	"fmt"
	"net/http"
	"net/url"

	"nexus.app/ingest/core/config"
)

// TranscriptSentence is one speaker-attributed line.
type TranscriptSentence struct {
	Speaker string  `json:"speaker"`
	Text    string  `json:"text"`
	StartAt float64 `json:"startAt,omitempty"`
}

type Participant struct {
	Name  string `json:"name"`
	Email string `json:"email"`
}

// Transcript is the hydrated meeting resource from the transcription
// provider's query API.
type Transcript struct {
	ID           string               `json:"id"`
	Title        string               `json:"title"`
	Date         string               `json:"date"`
	Participants []Participant        `json:"participants"`
	Sentences    []TranscriptSentence `json:"sentences"`
}

// ScribeClient talks to the meeting-transcription provider.
type ScribeClient struct {
	http httpClient
}

func NewScribeClient(cfg config.ScribeConfig) *ScribeClient {
	return &ScribeClient{
		http: newHTTPClient(cfg.BaseURL, cfg.APIKey),
	}
}

// GetTranscript fetches a transcript by meeting id.
func (c *ScribeClient) GetTranscript(ctx context.Context, meetingID string) (*Transcript, error) {
	var t Transcript
	if err := c.http.do(ctx, http.MethodGet, "/transcripts/"+url.PathEscape(meetingID), nil, &t); err != nil {
		return nil, fmt.Errorf("fetching transcript: %w", err)
	}
	return &t, nil
}
