package models

import "time"

// LogEvent is the structured trace/log record emitted by every service and
// aggregated by the log sink. Delivery is best-effort and append-only.
type LogEvent struct {
	Timestamp    time.Time              `json:"timestamp" bson:"timestamp"`
	Service      string                 `json:"service" bson:"service"`
	Level        string                 `json:"level" bson:"level"`
	TraceID      string                 `json:"trace_id,omitempty" bson:"trace_id,omitempty"`
	SpanID       string                 `json:"span_id,omitempty" bson:"span_id,omitempty"`
	ParentSpanID string                 `json:"parent_span_id,omitempty" bson:"parent_span_id,omitempty"`
	Message      string                 `json:"message" bson:"message"`
	Payload      map[string]interface{} `json:"payload,omitempty" bson:"payload,omitempty"`
	ReceivedAt   time.Time              `json:"receivedAt,omitempty" bson:"received_at,omitempty"`
}

const (
	LevelInfo  = "INFO"
	LevelWarn  = "WARN"
	LevelError = "ERROR"
)

func NewLogEvent(service, level, message string) LogEvent {
	return LogEvent{
		Timestamp: time.Now().UTC(),
		Service:   service,
		Level:     level,
		Message:   message,
	}
}

func (e LogEvent) WithTrace(traceID, spanID, parentSpanID string) LogEvent {
	e.TraceID = traceID
	e.SpanID = spanID
	e.ParentSpanID = parentSpanID
	return e
}

func (e LogEvent) WithPayload(payload map[string]interface{}) LogEvent {
	e.Payload = payload
	return e
}
