package delivery

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"courier/internal/broker"
	"courier/internal/constants"
	"courier/internal/logger"
	"courier/pkg/metrics"
	"courier/pkg/models"
	"courier/pkg/retry"
)

// BackoffScheduler delays failed envelopes before they reenter the routing
// topic. Every scheduled retry is persisted as a due-at record, and a sweep
// loop republishes entries as they come due, so pending retries survive a
// worker crash or restart instead of living in process-local timers.
type BackoffScheduler struct {
	store        RetryStore
	producer     broker.Producer
	baseBackoff  time.Duration
	maxBackoff   time.Duration
	pollInterval time.Duration
	logger       logger.Logger
}

func NewBackoffScheduler(store RetryStore, producer broker.Producer, baseBackoff, maxBackoff time.Duration, log logger.Logger) *BackoffScheduler {
	if baseBackoff <= 0 {
		baseBackoff = constants.DefaultBaseBackoff
	}
	return &BackoffScheduler{
		store:        store,
		producer:     producer,
		baseBackoff:  baseBackoff,
		maxBackoff:   maxBackoff,
		pollInterval: constants.DefaultRetryPollInterval,
		logger:       log,
	}
}

// Delay returns the wait before retry number attemptsMade+1: base for the
// first retry, doubling each time, capped at the configured maximum.
func (s *BackoffScheduler) Delay(attemptsMade int) time.Duration {
	if attemptsMade < 1 {
		attemptsMade = 1
	}
	return retry.CalculateBackoffDuration(attemptsMade-1, s.baseBackoff, 2.0, s.maxBackoff)
}

// ScheduleRetry persists envelope for republication once the backoff for its
// attempt count elapses. An error means nothing was scheduled and the caller
// should let the broker redeliver the attempt.
func (s *BackoffScheduler) ScheduleRetry(ctx context.Context, envelope models.RoutedEnvelope) error {
	delay := s.Delay(envelope.Attempt)

	payload, err := json.Marshal(envelope)
	if err != nil {
		return fmt.Errorf("failed to encode envelope for retry: %w", err)
	}

	entry := RetryEntry{
		MessageID: envelope.MessageID,
		Channel:   envelope.Channel,
		Payload:   payload,
		DueAt:     time.Now().Add(delay),
	}
	if err := s.store.Schedule(ctx, entry); err != nil {
		return err
	}

	s.logger.InfowCtx(ctx, "Scheduled delivery retry",
		"message_id", envelope.MessageID,
		"attempt", envelope.Attempt,
		"delay", delay,
	)
	metrics.DeliveryRetriesScheduled.WithLabelValues(envelope.Channel).Inc()
	return nil
}

// Run sweeps due retries back onto the routing topic until ctx is cancelled.
func (s *BackoffScheduler) Run(ctx context.Context) {
	ticker := time.NewTicker(s.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.Sweep(ctx)
		}
	}
}

// Sweep republishes every entry that is due now.
func (s *BackoffScheduler) Sweep(ctx context.Context) {
	for {
		entry, err := s.store.TakeDue(ctx, time.Now())
		if err != nil {
			s.logger.ErrorwCtx(ctx, "Retry sweep failed",
				"error", err,
			)
			return
		}
		if entry == nil {
			return
		}

		topic := constants.RoutingTopic(entry.Channel)
		if err := s.producer.Publish(ctx, topic, entry.MessageID, json.RawMessage(entry.Payload)); err != nil {
			s.logger.ErrorwCtx(ctx, "Failed to republish envelope for retry",
				"error", err,
				"message_id", entry.MessageID,
				"topic", topic,
			)
			// Put it back so a later sweep retries the republish.
			entry.DueAt = time.Now().Add(s.pollInterval)
			if schedErr := s.store.Schedule(ctx, *entry); schedErr != nil {
				s.logger.ErrorwCtx(ctx, "Failed to reschedule retry after publish failure",
					"error", schedErr,
					"message_id", entry.MessageID,
				)
			}
			return
		}

		s.logger.InfowCtx(ctx, "Republished envelope for retry",
			"message_id", entry.MessageID,
			"topic", topic,
		)
	}
}
