package processor

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"nexus.app/ingest/internal/model"
	"nexus.app/ingest/internal/provider"
)

// mailFetcher is the slice of the Graph client the mail handler needs.
type mailFetcher interface {
	GetMessage(ctx context.Context, resource string) (*provider.GraphMessage, error)
}

// graphChange is the per-item notification shape the relay forwarded
// verbatim.
type graphChange struct {
	SubscriptionID string `json:"subscriptionId"`
	ChangeType     string `json:"changeType"`
	Resource       string `json:"resource"`
}

// mailRecord is the structured payload stored for a mail item. The full
// body goes to blob storage, not the row.
type mailRecord struct {
	Subject     string    `json:"subject"`
	From        string    `json:"from"`
	To          []string  `json:"to"`
	Cc          []string  `json:"cc,omitempty"`
	ReceivedAt  time.Time `json:"received_at"`
	BodyPreview string    `json:"body_preview,omitempty"`
	Outbound    bool      `json:"outbound"`
}

// MailHandler hydrates mail notifications. Inbound mail is gated by the
// whitelist; outbound mail auto-whitelists its recipients, on the theory
// that anyone the mailbox writes to is a wanted correspondent.
type MailHandler struct {
	graph   mailFetcher
	mailbox string
}

func NewMailHandler(graph mailFetcher, mailboxAddress string) *MailHandler {
	return &MailHandler{
		graph:   graph,
		mailbox: model.NormalizeEmail(mailboxAddress),
	}
}

func (h *MailHandler) Handle(ctx context.Context, msg model.WebhookMessage) (*Output, error) {
	var change graphChange
	if err := json.Unmarshal(msg.RawNotification, &change); err != nil {
		return nil, fmt.Errorf("decoding mail notification: %w", err)
	}
	if change.Resource == "" {
		return nil, fmt.Errorf("mail notification without resource")
	}

	mail, err := h.graph.GetMessage(ctx, change.Resource)
	if err != nil {
		if errors.Is(err, provider.ErrGone) {
			return nil, fmt.Errorf("%w: mail resource %s", ErrResourceGone, change.Resource)
		}
		return nil, fmt.Errorf("hydrating mail %s: %w", change.Resource, err)
	}

	sender := model.NormalizeEmail(mail.From.EmailAddress.Address)
	outbound := h.mailbox != "" && sender == h.mailbox

	record := mailRecord{
		Subject:     mail.Subject,
		From:        sender,
		To:          recipientAddresses(mail.ToRecipients),
		Cc:          recipientAddresses(mail.CcRecipients),
		ReceivedAt:  mail.ReceivedDateTime,
		BodyPreview: mail.BodyPreview,
		Outbound:    outbound,
	}
	payload, err := json.Marshal(record)
	if err != nil {
		return nil, fmt.Errorf("encoding mail record: %w", err)
	}

	sourceType := msg.SourceType()
	item := &model.Item{
		ID:          model.ItemID(sourceType, mail.ID),
		SourceType:  sourceType,
		AgentName:   msg.AgentName,
		Payload:     payload,
		SenderEmail: sender,
		ReceivedAt:  msg.ReceivedAt,
	}

	out := &Output{Item: item, Gated: !outbound}

	if body := mail.Body.Content; body != "" {
		key := model.BlobKey(sourceType, "body", []byte(body))
		out.Blobs = append(out.Blobs, model.Blob{
			Key:         key,
			Content:     []byte(body),
			ContentType: bodyContentType(mail.Body.ContentType),
		})
		item.BlobKeys = map[string]string{"body": key}
	}

	if outbound {
		out.WhitelistBy = model.AddedByAutoEmail
		out.WhitelistEmails = append(record.To, record.Cc...)
	}

	return out, nil
}

func recipientAddresses(recipients []provider.Recipient) []string {
	var out []string
	for _, r := range recipients {
		if addr := model.NormalizeEmail(r.EmailAddress.Address); addr != "" {
			out = append(out, addr)
		}
	}
	return out
}

func bodyContentType(graphType string) string {
	if graphType == "html" {
		return "text/html; charset=utf-8"
	}
	return "text/plain; charset=utf-8"
}
