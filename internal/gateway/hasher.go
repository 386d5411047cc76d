package gateway

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strings"
)

// Hasher computes the content fingerprint used for deduplication.
type Hasher struct{}

func NewHasher() *Hasher {
	return &Hasher{}
}

// Fingerprint digests the semantically significant request fields in a fixed
// order. Metadata is canonicalized through JSON marshaling, which sorts map
// keys, so two requests with equal metadata always hash identically.
func (h *Hasher) Fingerprint(req SubmitRequest) (string, error) {
	var builder strings.Builder

	builder.WriteString(req.Channel)
	builder.WriteString("|")
	builder.WriteString(req.To)
	builder.WriteString("|")
	builder.WriteString(req.From)
	builder.WriteString("|")
	builder.WriteString(req.Subject)
	builder.WriteString("|")
	builder.WriteString(req.Body)
	builder.WriteString("|")

	if len(req.Metadata) > 0 {
		meta, err := json.Marshal(req.Metadata)
		if err != nil {
			return "", fmt.Errorf("failed to canonicalize metadata: %w", err)
		}
		builder.Write(meta)
	}

	sum := sha256.Sum256([]byte(builder.String()))
	return hex.EncodeToString(sum[:]), nil
}
