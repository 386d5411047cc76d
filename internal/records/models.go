package records

import "time"

type Status string

const (
	StatusQueued        Status = "queued"
	StatusSent          Status = "sent"
	StatusFailed        Status = "failed"
	StatusEnqueueFailed Status = "enqueue_failed"
)

// Terminal reports whether a record may never be mutated again.
func (s Status) Terminal() bool {
	return s == StatusSent || s == StatusFailed || s == StatusEnqueueFailed
}

// Message is the persisted record for one deduplicated delivery request.
// The gateway creates it in queued state; exactly one worker moves it to a
// terminal state. content_hash carries a unique index so identical
// submissions collapse to one record.
type Message struct {
	MessageID   string                 `bson:"message_id" json:"messageId"`
	ContentHash string                 `bson:"content_hash" json:"-"`
	Channel     string                 `bson:"channel" json:"channel"`
	To          string                 `bson:"to" json:"to"`
	From        string                 `bson:"from,omitempty" json:"from,omitempty"`
	Subject     string                 `bson:"subject,omitempty" json:"subject,omitempty"`
	Body        string                 `bson:"body" json:"body"`
	Metadata    map[string]interface{} `bson:"metadata,omitempty" json:"metadata,omitempty"`
	Status      Status                 `bson:"status" json:"status"`
	Attempts    int                    `bson:"attempts,omitempty" json:"attempts,omitempty"`
	LastError   string                 `bson:"last_error,omitempty" json:"lastError,omitempty"`
	TraceID     string                 `bson:"trace_id" json:"trace_id"`
	CreatedAt   time.Time              `bson:"created_at" json:"createdAt"`
	UpdatedAt   time.Time              `bson:"updated_at" json:"updatedAt"`
	SentAt      *time.Time             `bson:"sent_at,omitempty" json:"sentAt,omitempty"`
}

// StatusUpdate carries the terminal transition written by a worker.
type StatusUpdate struct {
	Status    Status
	Attempts  int
	LastError string
	SentAt    *time.Time
}
