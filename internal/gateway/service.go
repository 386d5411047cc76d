package gateway

import (
	"context"
	"fmt"
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
	"courier/pkg/retry"
	"courier/pkg/tracing"
)

const serviceName = "gateway-service"

// Service implements the dedup gateway: content-addressed suppression of
// duplicate submissions, persist-then-publish routing, and best-effort trace
// events. All races on identical content resolve through the record store's
// unique content_hash index.
type Service struct {
	store         records.Store
	cache         DedupCache
	hasher        *Hasher
	producer      broker.Producer
	emitter       *eventlog.Emitter
	publishPolicy retry.Policy
	cacheTTL      time.Duration
	logger        logger.Logger
}

func NewService(store records.Store, producer broker.Producer, emitter *eventlog.Emitter, publishPolicy retry.Policy, log logger.Logger) *Service {
	if publishPolicy.MaxAttempts <= 0 {
		publishPolicy = retry.DefaultPolicy()
	}
	return &Service{
		store:         store,
		hasher:        NewHasher(),
		producer:      producer,
		emitter:       emitter,
		publishPolicy: publishPolicy,
		logger:        log,
	}
}

// WithDedupCache enables the advisory Redis fast path.
func (s *Service) WithDedupCache(cache DedupCache, ttl time.Duration) *Service {
	s.cache = cache
	s.cacheTTL = ttl
	return s
}

// Submit runs the idempotent-submission protocol for one delivery request.
func (s *Service) Submit(ctx context.Context, req SubmitRequest) (*SubmitResult, error) {
	ctx, span := tracing.GetTracer(serviceName).Start(ctx, "gateway.submit")
	defer span.End()

	start := time.Now()

	if err := validate(req); err != nil {
		metrics.SubmissionsTotal.WithLabelValues("rejected").Inc()
		return nil, err
	}

	traceID := uuid.New().String()
	entrySpan := uuid.New().String()
	ctx = logging.WithTraceID(ctx, traceID)

	s.emitter.Emit(ctx, models.NewLogEvent(serviceName, models.LevelInfo, "request_received").
		WithTrace(traceID, entrySpan, ""))

	contentHash, err := s.hasher.Fingerprint(req)
	if err != nil {
		metrics.SubmissionsTotal.WithLabelValues("rejected").Inc()
		return nil, pkgerrors.ErrValidation.WithCause(err)
	}

	if result := s.lookupDuplicate(ctx, contentHash); result != nil {
		metrics.SubmissionsTotal.WithLabelValues("duplicate").Inc()
		metrics.ObserveSubmissionDuration(time.Since(start), "duplicate")
		return result, nil
	}

	record := &records.Message{
		MessageID:   uuid.New().String(),
		ContentHash: contentHash,
		Channel:     req.Channel,
		To:          req.To,
		From:        req.From,
		Subject:     req.Subject,
		Body:        req.Body,
		Metadata:    req.Metadata,
		Status:      records.StatusQueued,
		TraceID:     traceID,
	}

	if err := s.store.Create(ctx, record); err != nil {
		if pkgerrors.IsConflict(err) {
			// Lost the race against a concurrent identical submission;
			// the winner's record is the canonical one.
			winner, findErr := s.store.FindByHash(ctx, contentHash)
			if findErr != nil || winner == nil {
				metrics.SubmissionsTotal.WithLabelValues("persist_failed").Inc()
				return nil, pkgerrors.ErrInternal.WithCause(err)
			}
			metrics.SubmissionsTotal.WithLabelValues("duplicate").Inc()
			return duplicateResult(winner), nil
		}
		metrics.SubmissionsTotal.WithLabelValues("persist_failed").Inc()
		return nil, pkgerrors.ErrInternal.WithCause(fmt.Errorf("could not persist message: %w", err))
	}

	s.rememberInCache(ctx, contentHash, record.MessageID)

	ctx = logging.WithMessageID(ctx, record.MessageID)

	publishSpan := uuid.New().String()
	envelope := models.RoutedEnvelope{
		MessageID:    record.MessageID,
		Channel:      req.Channel,
		To:           req.To,
		From:         req.From,
		Subject:      req.Subject,
		Body:         req.Body,
		Metadata:     req.Metadata,
		Attempt:      0,
		CreatedAt:    time.Now().UTC(),
		TraceID:      traceID,
		SpanID:       publishSpan,
		ParentSpanID: entrySpan,
	}

	if err := s.publishEnvelope(ctx, envelope); err != nil {
		s.logger.ErrorwCtx(ctx, "Failed to publish to routing topic after retries",
			"error", err,
		)
		if updErr := s.store.UpdateStatus(ctx, record.MessageID, records.StatusUpdate{
			Status:    records.StatusEnqueueFailed,
			LastError: err.Error(),
		}); updErr != nil {
			s.logger.ErrorwCtx(ctx, "Failed to mark message enqueue_failed",
				"error", updErr,
			)
		}
		metrics.SubmissionsTotal.WithLabelValues("enqueue_failed").Inc()
		return nil, pkgerrors.ErrInternal.WithCause(fmt.Errorf("failed to enqueue message: %w", err))
	}

	s.emitter.Emit(ctx, models.NewLogEvent(serviceName, models.LevelInfo, "message_queued").
		WithTrace(traceID, publishSpan, entrySpan).
		WithPayload(map[string]interface{}{"messageId": record.MessageID, "channel": req.Channel}))

	metrics.SubmissionsTotal.WithLabelValues("accepted").Inc()
	metrics.ObserveSubmissionDuration(time.Since(start), "accepted")

	return &SubmitResult{
		MessageID: record.MessageID,
		Status:    string(records.StatusQueued),
		TraceID:   traceID,
	}, nil
}

// GetMessage returns the current record for a message id.
func (s *Service) GetMessage(ctx context.Context, messageID string) (*records.Message, error) {
	record, err := s.store.FindByID(ctx, messageID)
	if err != nil {
		return nil, pkgerrors.ErrInternal.WithCause(err)
	}
	if record == nil {
		return nil, pkgerrors.ErrNotFound.
			WithDetail("message", fmt.Sprintf("message %s not found", messageID))
	}
	return record, nil
}

func (s *Service) lookupDuplicate(ctx context.Context, contentHash string) *SubmitResult {
	if s.cache != nil {
		cachedID, err := s.cache.Lookup(ctx, contentHash)
		if err != nil {
			s.logger.DebugwCtx(ctx, "Dedup cache lookup failed, falling back to store",
				"error", err,
			)
		} else if cachedID != "" {
			if record, findErr := s.store.FindByID(ctx, cachedID); findErr == nil && record != nil {
				return duplicateResult(record)
			}
		}
	}

	record, err := s.store.FindByHash(ctx, contentHash)
	if err != nil {
		s.logger.WarnwCtx(ctx, "Duplicate lookup failed, proceeding to create",
			"error", err,
		)
		return nil
	}
	if record == nil {
		return nil
	}

	s.rememberInCache(ctx, contentHash, record.MessageID)
	return duplicateResult(record)
}

func (s *Service) rememberInCache(ctx context.Context, contentHash, messageID string) {
	if s.cache == nil {
		return
	}
	if err := s.cache.Remember(ctx, contentHash, messageID, s.cacheTTL); err != nil {
		s.logger.DebugwCtx(ctx, "Failed to populate dedup cache",
			"error", err,
		)
	}
}

func (s *Service) publishEnvelope(ctx context.Context, envelope models.RoutedEnvelope) error {
	topic := constants.RoutingTopic(envelope.Channel)
	return retry.Retry(ctx, s.publishPolicy, func() error {
		return s.producer.Publish(ctx, topic, envelope.MessageID, envelope)
	})
}

func duplicateResult(record *records.Message) *SubmitResult {
	return &SubmitResult{
		MessageID: record.MessageID,
		Status:    string(record.Status),
		TraceID:   record.TraceID,
		Duplicate: true,
		Info:      infoDuplicate,
	}
}

func validate(req SubmitRequest) error {
	if req.Channel == "" {
		return pkgerrors.ErrValidation.WithDetail("message", "channel is required")
	}
	if req.To == "" {
		return pkgerrors.ErrValidation.WithDetail("message", "to is required")
	}
	if req.Body == "" {
		return pkgerrors.ErrValidation.WithDetail("message", "body is required")
	}

	for _, ch := range constants.AllowedChannels() {
		if req.Channel == ch {
			return nil
		}
	}
	return pkgerrors.ErrValidation.
		WithDetail("message", fmt.Sprintf("invalid channel %q", req.Channel))
}
