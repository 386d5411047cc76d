package gateway

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHasher_Fingerprint_Stable(t *testing.T) {
	h := NewHasher()

	req := SubmitRequest{
		Channel:  "email",
		To:       "user@example.com",
		From:     "noreply@example.com",
		Subject:  "Welcome",
		Body:     "Hello there",
		Metadata: map[string]interface{}{"campaign": "onboarding", "priority": "high"},
	}

	first, err := h.Fingerprint(req)
	require.NoError(t, err)
	second, err := h.Fingerprint(req)
	require.NoError(t, err)

	assert.Equal(t, first, second)
	assert.Len(t, first, 64)
}

func TestHasher_Fingerprint_MetadataOrderIndependent(t *testing.T) {
	h := NewHasher()

	base := SubmitRequest{
		Channel: "sms",
		To:      "+15551234567",
		Body:    "Your code is 123456",
	}

	reqA := base
	reqA.Metadata = map[string]interface{}{"a": "1", "b": "2", "c": "3"}
	reqB := base
	reqB.Metadata = map[string]interface{}{"c": "3", "a": "1", "b": "2"}

	hashA, err := h.Fingerprint(reqA)
	require.NoError(t, err)
	hashB, err := h.Fingerprint(reqB)
	require.NoError(t, err)

	assert.Equal(t, hashA, hashB)
}

func TestHasher_Fingerprint_DifferentContent(t *testing.T) {
	h := NewHasher()

	reqA := SubmitRequest{Channel: "email", To: "user@example.com", Body: "Hello"}
	reqB := SubmitRequest{Channel: "email", To: "user@example.com", Body: "Hello!"}
	reqC := SubmitRequest{Channel: "sms", To: "user@example.com", Body: "Hello"}

	hashA, err := h.Fingerprint(reqA)
	require.NoError(t, err)
	hashB, err := h.Fingerprint(reqB)
	require.NoError(t, err)
	hashC, err := h.Fingerprint(reqC)
	require.NoError(t, err)

	assert.NotEqual(t, hashA, hashB)
	assert.NotEqual(t, hashA, hashC)
}

func TestHasher_Fingerprint_FieldBoundaries(t *testing.T) {
	h := NewHasher()

	// "ab"+"c" and "a"+"bc" in adjacent fields must not collide.
	reqA := SubmitRequest{Channel: "email", To: "ab", From: "c", Body: "x"}
	reqB := SubmitRequest{Channel: "email", To: "a", From: "bc", Body: "x"}

	hashA, err := h.Fingerprint(reqA)
	require.NoError(t, err)
	hashB, err := h.Fingerprint(reqB)
	require.NoError(t, err)

	assert.NotEqual(t, hashA, hashB)
}
