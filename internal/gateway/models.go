package gateway

// SubmitRequest is the inbound delivery request. Channel, destination and
// body are mandatory; everything else is folded into the content fingerprint
// as-is.
type SubmitRequest struct {
	Channel  string                 `json:"channel"`
	To       string                 `json:"to"`
	From     string                 `json:"from,omitempty"`
	Subject  string                 `json:"subject,omitempty"`
	Body     string                 `json:"body"`
	Metadata map[string]interface{} `json:"metadata,omitempty"`
}

// SubmitResult is the gateway's answer to a submission. Duplicate marks a
// suppressed resubmission; Info carries the original wire hint for it.
type SubmitResult struct {
	MessageID string `json:"messageId"`
	Status    string `json:"status"`
	TraceID   string `json:"trace_id"`
	Duplicate bool   `json:"-"`
	Info      string `json:"info,omitempty"`
}

const infoDuplicate = "duplicate_message_prevented"
