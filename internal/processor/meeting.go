package processor

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"nexus.app/ingest/internal/model"
	"nexus.app/ingest/internal/provider"
)

type transcriptFetcher interface {
	GetTranscript(ctx context.Context, meetingID string) (*provider.Transcript, error)
}

type meetingNotification struct {
	Event     string `json:"event"`
	MeetingID string `json:"meetingId"`
}

type meetingRecord struct {
	MeetingID    string   `json:"meeting_id"`
	Title        string   `json:"title"`
	Date         string   `json:"date,omitempty"`
	Participants []string `json:"participants,omitempty"`
}

// MeetingHandler hydrates meeting notifications against the transcription
// provider's query API. The speaker-labeled transcript goes to blob
// storage; participants with addresses are auto-whitelisted.
type MeetingHandler struct {
	scribe transcriptFetcher
}

func NewMeetingHandler(scribe transcriptFetcher) *MeetingHandler {
	return &MeetingHandler{scribe: scribe}
}

func (h *MeetingHandler) Handle(ctx context.Context, msg model.WebhookMessage) (*Output, error) {
	var note meetingNotification
	if err := json.Unmarshal(msg.RawNotification, &note); err != nil {
		return nil, fmt.Errorf("decoding meeting notification: %w", err)
	}
	if note.MeetingID == "" {
		return nil, fmt.Errorf("meeting notification without meetingId")
	}

	transcript, err := h.scribe.GetTranscript(ctx, note.MeetingID)
	if err != nil {
		if errors.Is(err, provider.ErrGone) {
			return nil, fmt.Errorf("%w: transcript %s", ErrResourceGone, note.MeetingID)
		}
		return nil, fmt.Errorf("hydrating transcript %s: %w", note.MeetingID, err)
	}

	var participants []string
	for _, p := range transcript.Participants {
		if addr := model.NormalizeEmail(p.Email); addr != "" {
			participants = append(participants, addr)
		}
	}

	record := meetingRecord{
		MeetingID:    transcript.ID,
		Title:        transcript.Title,
		Date:         transcript.Date,
		Participants: participants,
	}
	payload, err := json.Marshal(record)
	if err != nil {
		return nil, fmt.Errorf("encoding meeting record: %w", err)
	}

	sourceType := msg.SourceType()
	item := &model.Item{
		ID:         model.ItemID(sourceType, transcript.ID),
		SourceType: sourceType,
		AgentName:  msg.AgentName,
		Payload:    payload,
		ReceivedAt: msg.ReceivedAt,
	}

	out := &Output{
		Item:            item,
		WhitelistEmails: participants,
		WhitelistBy:     model.AddedByAutoMeeting,
	}

	if text := speakerText(transcript.Sentences); text != "" {
		key := model.BlobKey(sourceType, "transcript", []byte(text))
		out.Blobs = append(out.Blobs, model.Blob{
			Key:         key,
			Content:     []byte(text),
			ContentType: "text/plain; charset=utf-8",
		})
		item.BlobKeys = map[string]string{"transcript": key}
	}

	return out, nil
}

// speakerText renders one "Speaker: text" line per sentence, provider
// order preserved.
func speakerText(sentences []provider.TranscriptSentence) string {
	var b strings.Builder
	for _, s := range sentences {
		if s.Text == "" {
			continue
		}
		speaker := s.Speaker
		if speaker == "" {
			speaker = "Unknown"
		}
		b.WriteString(speaker)
		b.WriteString(": ")
		b.WriteString(s.Text)
		b.WriteString("\n")
	}
	return b.String()
}
