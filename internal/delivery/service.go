package delivery

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"courier/internal/broker"
	"courier/internal/constants"
	"courier/internal/eventlog"
	"courier/internal/logger"
	"courier/internal/records"
	pkgerrors "courier/pkg/errors"
	"courier/pkg/logging"
	"courier/pkg/metrics"
	"courier/pkg/models"
	"courier/pkg/tracing"
)

const serviceName = "delivery-service"

// Service is the per-channel delivery worker. Each consumed envelope is one
// attempt: on success the record goes terminal sent, on failure the worker
// either schedules a backed-off retry or, at the attempt ceiling, marks the
// record failed. Terminal outcomes are written exactly once regardless of
// broker redelivery.
type Service struct {
	channel     string
	maxAttempts int
	store       records.Store
	sender      Sender
	scheduler   *BackoffScheduler
	emitter     *eventlog.Emitter
	logger      logger.Logger
}

func NewService(channel string, maxAttempts int, store records.Store, sender Sender, scheduler *BackoffScheduler, emitter *eventlog.Emitter, log logger.Logger) *Service {
	if maxAttempts <= 0 {
		maxAttempts = constants.DefaultMaxAttempts
	}
	return &Service{
		channel:     channel,
		maxAttempts: maxAttempts,
		store:       store,
		sender:      sender,
		scheduler:   scheduler,
		emitter:     emitter,
		logger:      log,
	}
}

// HandleDelivery is the broker handler for the channel's routing topic.
func (s *Service) HandleDelivery(ctx context.Context, d broker.Delivery) error {
	ctx, span := tracing.GetTracer(serviceName).Start(ctx, "delivery.attempt")
	defer span.End()

	var envelope models.RoutedEnvelope
	if err := json.Unmarshal(d.Value, &envelope); err != nil {
		// Unparseable payloads can never succeed; drop instead of cycling
		// through redelivery.
		s.logger.ErrorwCtx(ctx, "Dropping undecodable envelope",
			"error", err,
			"topic", d.Topic,
		)
		metrics.DeliveryAttemptsTotal.WithLabelValues(s.channel, "poison").Inc()
		return nil
	}

	ctx = logging.WithTraceID(ctx, envelope.TraceID)
	ctx = logging.WithMessageID(ctx, envelope.MessageID)
	ctx = logging.WithChannel(ctx, envelope.Channel)

	record, err := s.store.FindByID(ctx, envelope.MessageID)
	if err != nil {
		return pkgerrors.ErrInternal.WithCause(err).AsRetryable()
	}
	if record == nil {
		// The gateway persists before publishing, so a missing record means
		// the store is behind; redeliver rather than lose the message.
		s.logger.WarnwCtx(ctx, "No record for routed envelope, requesting redelivery")
		return pkgerrors.ErrNotFound.AsRetryable()
	}
	if record.Status.Terminal() {
		s.logger.InfowCtx(ctx, "Skipping redelivered envelope, record already terminal",
			"status", record.Status,
		)
		return nil
	}

	attemptSpan := uuid.New().String()
	attemptNumber := envelope.Attempt + 1

	sendErr := s.sender.Send(ctx, envelope)
	if sendErr == nil {
		return s.markSent(ctx, envelope, attemptNumber, attemptSpan)
	}

	if !pkgerrors.IsDelivery(sendErr) {
		// Not a provider rejection: infrastructure trouble, let the broker
		// redeliver the same attempt.
		return sendErr
	}

	metrics.DeliveryAttemptsTotal.WithLabelValues(s.channel, "failed").Inc()

	if attemptNumber < s.maxAttempts {
		s.emitter.Emit(ctx, models.NewLogEvent(serviceName, models.LevelWarn, "attempt_failed").
			WithTrace(envelope.TraceID, attemptSpan, envelope.SpanID).
			WithPayload(map[string]interface{}{
				"messageId": envelope.MessageID,
				"channel":   envelope.Channel,
				"attempt":   attemptNumber,
				"error":     sendErr.Error(),
			}))

		if err := s.scheduler.ScheduleRetry(ctx, envelope.NextAttempt(attemptNumber, attemptSpan)); err != nil {
			// Scheduling is durable; if it failed nothing holds the retry, so
			// let the broker redeliver this attempt.
			return pkgerrors.ErrInternal.WithCause(err).AsRetryable()
		}
		return nil
	}

	return s.markFailed(ctx, envelope, attemptNumber, attemptSpan, sendErr)
}

func (s *Service) markSent(ctx context.Context, envelope models.RoutedEnvelope, attemptNumber int, attemptSpan string) error {
	now := time.Now()
	err := s.store.UpdateStatus(ctx, envelope.MessageID, records.StatusUpdate{
		Status:   records.StatusSent,
		Attempts: attemptNumber,
		SentAt:   &now,
	})
	if err != nil {
		if pkgerrors.IsConflict(err) {
			// A redelivered duplicate of this attempt already won the write.
			return nil
		}
		return err
	}

	metrics.DeliveryAttemptsTotal.WithLabelValues(s.channel, "sent").Inc()
	metrics.DeliveryTerminalTotal.WithLabelValues(s.channel, string(records.StatusSent)).Inc()

	s.logger.InfowCtx(ctx, "Message delivered",
		"attempt", attemptNumber,
	)
	s.emitter.Emit(ctx, models.NewLogEvent(serviceName, models.LevelInfo, "delivered").
		WithTrace(envelope.TraceID, attemptSpan, envelope.SpanID).
		WithPayload(map[string]interface{}{
			"messageId": envelope.MessageID,
			"channel":   envelope.Channel,
			"attempt":   attemptNumber,
		}))

	return nil
}

func (s *Service) markFailed(ctx context.Context, envelope models.RoutedEnvelope, attemptNumber int, attemptSpan string, sendErr error) error {
	err := s.store.UpdateStatus(ctx, envelope.MessageID, records.StatusUpdate{
		Status:    records.StatusFailed,
		Attempts:  attemptNumber,
		LastError: sendErr.Error(),
	})
	if err != nil {
		if pkgerrors.IsConflict(err) {
			return nil
		}
		return err
	}

	metrics.DeliveryTerminalTotal.WithLabelValues(s.channel, string(records.StatusFailed)).Inc()

	s.logger.ErrorwCtx(ctx, "Message failed permanently",
		"attempts", attemptNumber,
		"error", sendErr,
	)
	s.emitter.Emit(ctx, models.NewLogEvent(serviceName, models.LevelError, "final_failed").
		WithTrace(envelope.TraceID, attemptSpan, envelope.SpanID).
		WithPayload(map[string]interface{}{
			"messageId": envelope.MessageID,
			"channel":   envelope.Channel,
			"attempts":  attemptNumber,
			"error":     sendErr.Error(),
		}))

	return nil
}
