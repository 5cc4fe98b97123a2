package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"nexus.app/ingest/core/config"
)

// EmailAddress is the provider's nested address shape.
type EmailAddress struct {
	Address string `json:"address"`
	Name    string `json:"name,omitempty"`
}

type Recipient struct {
	EmailAddress EmailAddress `json:"emailAddress"`
}

// GraphMessage is the hydrated mail resource, field-selected to what the
// pipeline stores.
type GraphMessage struct {
	ID               string      `json:"id"`
	Subject          string      `json:"subject"`
	From             Recipient   `json:"from"`
	ToRecipients     []Recipient `json:"toRecipients"`
	CcRecipients     []Recipient `json:"ccRecipients"`
	ReceivedDateTime time.Time   `json:"receivedDateTime"`
	BodyPreview      string      `json:"bodyPreview"`
	Body             struct {
		ContentType string `json:"contentType"`
		Content     string `json:"content"`
	} `json:"body"`
}

// GraphEvent is the hydrated calendar resource.
type GraphEvent struct {
	ID        string `json:"id"`
	Subject   string `json:"subject"`
	Organizer struct {
		EmailAddress EmailAddress `json:"emailAddress"`
	} `json:"organizer"`
	Attendees []struct {
		EmailAddress EmailAddress `json:"emailAddress"`
		Type         string       `json:"type"`
	} `json:"attendees"`
	Start struct {
		DateTime string `json:"dateTime"`
		TimeZone string `json:"timeZone"`
	} `json:"start"`
	End struct {
		DateTime string `json:"dateTime"`
		TimeZone string `json:"timeZone"`
	} `json:"end"`
	Location struct {
		DisplayName string `json:"displayName"`
	} `json:"location"`
	BodyPreview string `json:"bodyPreview"`
}

// GraphSubscription mirrors the provider's subscription resource.
type GraphSubscription struct {
	ID                 string    `json:"id"`
	Resource           string    `json:"resource"`
	ChangeType         string    `json:"changeType"`
	NotificationURL    string    `json:"notificationUrl"`
	ClientState        string    `json:"clientState,omitempty"`
	ExpirationDateTime time.Time `json:"expirationDateTime"`
}

// GraphClient talks to the mail/calendar provider: resource hydration plus
// the push subscription API.
type GraphClient struct {
	http        httpClient
	clientState string
}

func NewGraphClient(cfg config.GraphConfig) *GraphClient {
	return &GraphClient{
		http:        newHTTPClient(cfg.BaseURL, cfg.AccessToken),
		clientState: cfg.ClientState,
	}
}

// GetMessage fetches a full mail message by the notification's resource
// path (e.g. "Users/{uid}/Messages/{mid}").
func (c *GraphClient) GetMessage(ctx context.Context, resource string) (*GraphMessage, error) {
	var msg GraphMessage
	if err := c.http.do(ctx, http.MethodGet, "/"+resource, nil, &msg); err != nil {
		return nil, fmt.Errorf("fetching message: %w", err)
	}
	return &msg, nil
}

// GetEvent fetches a full calendar event by resource path.
func (c *GraphClient) GetEvent(ctx context.Context, resource string) (*GraphEvent, error) {
	var event GraphEvent
	if err := c.http.do(ctx, http.MethodGet, "/"+resource, nil, &event); err != nil {
		return nil, fmt.Errorf("fetching event: %w", err)
	}
	return &event, nil
}

// CreateSubscription registers a push subscription and returns the
// provider-assigned representation.
func (c *GraphClient) CreateSubscription(ctx context.Context, resource string, changeTypes []string, notificationURL string, expiresAt time.Time) (*GraphSubscription, error) {
	payload := map[string]any{
		"resource":           resource,
		"changeType":         strings.Join(changeTypes, ","),
		"notificationUrl":    notificationURL,
		"clientState":        c.clientState,
		"expirationDateTime": expiresAt.UTC().Format(time.RFC3339),
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("encoding subscription: %w", err)
	}

	var sub GraphSubscription
	if err := c.http.do(ctx, http.MethodPost, "/subscriptions", bytes.NewReader(body), &sub); err != nil {
		return nil, fmt.Errorf("creating subscription: %w", err)
	}
	return &sub, nil
}

// RenewSubscription extends a subscription's expiry.
func (c *GraphClient) RenewSubscription(ctx context.Context, id string, expiresAt time.Time) error {
	payload := map[string]any{
		"expirationDateTime": expiresAt.UTC().Format(time.RFC3339),
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encoding renewal: %w", err)
	}

	if err := c.http.do(ctx, http.MethodPatch, "/subscriptions/"+url.PathEscape(id), bytes.NewReader(body), nil); err != nil {
		return fmt.Errorf("renewing subscription: %w", err)
	}
	return nil
}

// ReauthorizeSubscription runs the provider's reauthorization action.
func (c *GraphClient) ReauthorizeSubscription(ctx context.Context, id string) error {
	if err := c.http.do(ctx, http.MethodPost, "/subscriptions/"+url.PathEscape(id)+"/reauthorize", nil, nil); err != nil {
		return fmt.Errorf("reauthorizing subscription: %w", err)
	}
	return nil
}

// DeleteSubscription removes a subscription at the provider. Absence is
// not an error.
func (c *GraphClient) DeleteSubscription(ctx context.Context, id string) error {
	err := c.http.do(ctx, http.MethodDelete, "/subscriptions/"+url.PathEscape(id), nil, nil)
	if err != nil && !errors.Is(err, ErrGone) {
		return fmt.Errorf("deleting subscription: %w", err)
	}
	return nil
}
