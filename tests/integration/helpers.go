package integration

import (
	"courier/internal/constants"
	"courier/internal/logger"
	"courier/internal/records"
)

const (
	containerStartupTimeout = 60
)

func createTestLogger() logger.Logger {
	return logger.NopLogger()
}

func createTestMessage(id, hash string) *records.Message {
	return &records.Message{
		MessageID:   id,
		ContentHash: hash,
		Channel:     constants.ChannelEmail,
		To:          "user@example.com",
		From:        "noreply@example.com",
		Subject:     "Welcome",
		Body:        "Hello there",
		Status:      records.StatusQueued,
		TraceID:     "trace-" + id,
	}
}
