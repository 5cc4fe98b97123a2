package logger

import "context"

type contextKey string

const logFieldsKey contextKey = "log_fields"

// LogFields contains structured fields automatically added to all logs
// within a context. Business context (agent, source, item id, subscription
// id) flows through context enrichment so individual log statements don't
// have to repeat it.
type LogFields struct {
	AgentName      *string // routing target agent
	Source         *string // provider identifier (graph, scribe, github, ...)
	SourceType     *string // canonical source-type composite
	ItemID         *string // canonical item id
	SubscriptionID *string // provider-assigned subscription id
	MessageID      *string // Redis stream message id
	Component      string  // component name, e.g. "ingest.processor.mail"
}

// WithLogFields enriches context with structured log fields.
// Multiple calls merge fields, with newer non-nil/non-empty values
// taking precedence. Context timeouts and cancellation are preserved.
func WithLogFields(ctx context.Context, fields LogFields) context.Context {
	existing := GetLogFields(ctx)
	merged := mergeFields(existing, fields)
	return context.WithValue(ctx, logFieldsKey, merged)
}

// GetLogFields retrieves log fields from context.
// Returns empty LogFields if none are set.
func GetLogFields(ctx context.Context) LogFields {
	if fields, ok := ctx.Value(logFieldsKey).(LogFields); ok {
		return fields
	}
	return LogFields{}
}

func mergeFields(existing, next LogFields) LogFields {
	result := existing

	if next.AgentName != nil {
		result.AgentName = next.AgentName
	}
	if next.Source != nil {
		result.Source = next.Source
	}
	if next.SourceType != nil {
		result.SourceType = next.SourceType
	}
	if next.ItemID != nil {
		result.ItemID = next.ItemID
	}
	if next.SubscriptionID != nil {
		result.SubscriptionID = next.SubscriptionID
	}
	if next.MessageID != nil {
		result.MessageID = next.MessageID
	}
	if next.Component != "" {
		result.Component = next.Component
	}

	return result
}

// Ptr is a helper to create a pointer from a value, for setting LogFields
// inline: logger.WithLogFields(ctx, logger.LogFields{ItemID: logger.Ptr(id)})
func Ptr[T any](v T) *T {
	return &v
}

// Truncate truncates a string to maxLen characters, appending "..." if
// truncated. Useful for logging potentially long payloads.
func Truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen] + "..."
}
