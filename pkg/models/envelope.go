package models

import (
	"time"

	"github.com/google/uuid"
)

// RoutedEnvelope is the transient unit carried over the broker for one
// delivery attempt. The wire format is a single JSON object per message.
type RoutedEnvelope struct {
	MessageID    string                 `json:"messageId"`
	Channel      string                 `json:"channel"`
	To           string                 `json:"to"`
	From         string                 `json:"from,omitempty"`
	Subject      string                 `json:"subject,omitempty"`
	Body         string                 `json:"body"`
	Metadata     map[string]interface{} `json:"metadata,omitempty"`
	Attempt      int                    `json:"attempt"`
	CreatedAt    time.Time              `json:"createdAt"`
	TraceID      string                 `json:"trace_id"`
	SpanID       string                 `json:"span_id"`
	ParentSpanID string                 `json:"parent_span_id,omitempty"`
}

// NextAttempt derives the envelope republished after a failed attempt.
// The attempt counter records how many delivery attempts have already been
// made, and the new span is parented to the span of the failed attempt.
func (e RoutedEnvelope) NextAttempt(attemptsMade int, currentSpanID string) RoutedEnvelope {
	next := e
	next.Attempt = attemptsMade
	next.SpanID = uuid.New().String()
	next.ParentSpanID = currentSpanID
	return next
}
