package processor

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"nexus.app/ingest/internal/model"
	"nexus.app/ingest/internal/provider"
)

type eventFetcher interface {
	GetEvent(ctx context.Context, resource string) (*provider.GraphEvent, error)
}

type calendarRecord struct {
	Subject     string   `json:"subject"`
	Organizer   string   `json:"organizer"`
	Attendees   []string `json:"attendees,omitempty"`
	Start       string   `json:"start"`
	End         string   `json:"end"`
	TimeZone    string   `json:"time_zone,omitempty"`
	Location    string   `json:"location,omitempty"`
	BodyPreview string   `json:"body_preview,omitempty"`
}

// CalendarHandler hydrates calendar notifications. Events are stored
// unconditionally; attendees are auto-whitelisted so their follow-up mail
// clears admission.
type CalendarHandler struct {
	graph eventFetcher
}

func NewCalendarHandler(graph eventFetcher) *CalendarHandler {
	return &CalendarHandler{graph: graph}
}

func (h *CalendarHandler) Handle(ctx context.Context, msg model.WebhookMessage) (*Output, error) {
	var change graphChange
	if err := json.Unmarshal(msg.RawNotification, &change); err != nil {
		return nil, fmt.Errorf("decoding calendar notification: %w", err)
	}
	if change.Resource == "" {
		return nil, fmt.Errorf("calendar notification without resource")
	}

	event, err := h.graph.GetEvent(ctx, change.Resource)
	if err != nil {
		if errors.Is(err, provider.ErrGone) {
			return nil, fmt.Errorf("%w: calendar resource %s", ErrResourceGone, change.Resource)
		}
		return nil, fmt.Errorf("hydrating event %s: %w", change.Resource, err)
	}

	var attendees []string
	for _, attendee := range event.Attendees {
		if addr := model.NormalizeEmail(attendee.EmailAddress.Address); addr != "" {
			attendees = append(attendees, addr)
		}
	}

	record := calendarRecord{
		Subject:     event.Subject,
		Organizer:   model.NormalizeEmail(event.Organizer.EmailAddress.Address),
		Attendees:   attendees,
		Start:       event.Start.DateTime,
		End:         event.End.DateTime,
		TimeZone:    event.Start.TimeZone,
		Location:    event.Location.DisplayName,
		BodyPreview: event.BodyPreview,
	}
	payload, err := json.Marshal(record)
	if err != nil {
		return nil, fmt.Errorf("encoding calendar record: %w", err)
	}

	sourceType := msg.SourceType()
	return &Output{
		Item: &model.Item{
			ID:         model.ItemID(sourceType, event.ID),
			SourceType: sourceType,
			AgentName:  msg.AgentName,
			Payload:    payload,
			ReceivedAt: msg.ReceivedAt,
		},
		WhitelistEmails: attendees,
		WhitelistBy:     model.AddedByAutoCalendar,
	}, nil
}
