package processor

import (
	"context"
	"encoding/json"
	"fmt"

	"nexus.app/ingest/internal/model"
)

type releasePayload struct {
	Action  string `json:"action"`
	Release struct {
		TagName     string `json:"tag_name"`
		Name        string `json:"name"`
		Body        string `json:"body"`
		HTMLURL     string `json:"html_url"`
		PublishedAt string `json:"published_at"`
		Author      struct {
			Login string `json:"login"`
		} `json:"author"`
	} `json:"release"`
	Repository struct {
		FullName string `json:"full_name"`
		HTMLURL  string `json:"html_url"`
	} `json:"repository"`
}

type releaseRecord struct {
	Action      string `json:"action"`
	Repository  string `json:"repository"`
	Tag         string `json:"tag"`
	Name        string `json:"name,omitempty"`
	Notes       string `json:"notes,omitempty"`
	URL         string `json:"url,omitempty"`
	Author      string `json:"author,omitempty"`
	PublishedAt string `json:"published_at,omitempty"`
}

// ReleaseHandler flattens release webhooks into canonical items. The relay
// already dropped non-published actions; payloads here are self-contained,
// no provider call is made.
type ReleaseHandler struct{}

func NewReleaseHandler() *ReleaseHandler {
	return &ReleaseHandler{}
}

func (h *ReleaseHandler) Handle(_ context.Context, msg model.WebhookMessage) (*Output, error) {
	var payload releasePayload
	if err := json.Unmarshal(msg.RawNotification, &payload); err != nil {
		return nil, fmt.Errorf("decoding release payload: %w", err)
	}
	if payload.Repository.FullName == "" || payload.Release.TagName == "" {
		return nil, fmt.Errorf("release payload without repository or tag")
	}

	record := releaseRecord{
		Action:      payload.Action,
		Repository:  payload.Repository.FullName,
		Tag:         payload.Release.TagName,
		Name:        payload.Release.Name,
		Notes:       payload.Release.Body,
		URL:         payload.Release.HTMLURL,
		Author:      payload.Release.Author.Login,
		PublishedAt: payload.Release.PublishedAt,
	}
	encoded, err := json.Marshal(record)
	if err != nil {
		return nil, fmt.Errorf("encoding release record: %w", err)
	}

	sourceType := msg.SourceType()
	return &Output{
		Item: &model.Item{
			ID:         model.ItemID(sourceType, record.Repository+"#"+record.Tag),
			SourceType: sourceType,
			AgentName:  msg.AgentName,
			Payload:    encoded,
			ReceivedAt: msg.ReceivedAt,
		},
	}, nil
}

// GenericHandler stores arbitrary payloads verbatim. Also the wildcard
// fallback for registered routes without a dedicated handler.
type GenericHandler struct{}

func NewGenericHandler() *GenericHandler {
	return &GenericHandler{}
}

func (h *GenericHandler) Handle(_ context.Context, msg model.WebhookMessage) (*Output, error) {
	sourceType := msg.SourceType()
	return &Output{
		Item: &model.Item{
			// Content-derived id: replaying the same payload converges on
			// one row instead of accumulating duplicates.
			ID:         model.ItemID(sourceType, string(msg.RawNotification)),
			SourceType: sourceType,
			AgentName:  msg.AgentName,
			Payload:    msg.RawNotification,
			ReceivedAt: msg.ReceivedAt,
		},
	}, nil
}
