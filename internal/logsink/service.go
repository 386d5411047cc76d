package logsink

import (
	"context"
	"encoding/json"
	"time"

	"courier/internal/broker"
	"courier/internal/logger"
	"courier/pkg/metrics"
	"courier/pkg/models"
)

// Service routes trace events from the log topic into a tiered store:
// primary while it is healthy, fallback otherwise. Log aggregation is
// best-effort by contract, so the handler never surfaces an error to the
// broker; an event both stores reject is dropped.
type Service struct {
	primary   LogStore
	secondary LogStore
	monitor   *HealthMonitor
	logger    logger.Logger
}

func NewService(primary LogStore, secondary LogStore, monitor *HealthMonitor, log logger.Logger) *Service {
	return &Service{
		primary:   primary,
		secondary: secondary,
		monitor:   monitor,
		logger:    log,
	}
}

// HandleEvent is the broker handler for the log topic.
func (s *Service) HandleEvent(ctx context.Context, d broker.Delivery) error {
	var event models.LogEvent
	if err := json.Unmarshal(d.Value, &event); err != nil {
		s.logger.ErrorwCtx(ctx, "Dropping undecodable log event",
			"error", err,
		)
		metrics.LogEventsTotal.WithLabelValues("dropped").Inc()
		return nil
	}

	event.ReceivedAt = time.Now().UTC()
	s.Ingest(ctx, event)
	return nil
}

// Ingest writes one event to the first store that accepts it.
func (s *Service) Ingest(ctx context.Context, event models.LogEvent) {
	if s.monitor.Healthy() {
		err := s.primary.Append(ctx, event)
		if err == nil {
			metrics.LogEventsTotal.WithLabelValues(s.primary.Name()).Inc()
			return
		}
		s.logger.WarnwCtx(ctx, "Primary log store rejected event, falling back",
			"error", err,
			"store", s.primary.Name(),
		)
		s.monitor.MarkUnhealthy()
	}

	if err := s.secondary.Append(ctx, event); err != nil {
		s.logger.ErrorwCtx(ctx, "All log stores rejected event, dropping",
			"error", err,
			"trace_id", event.TraceID,
			"event_message", event.Message,
		)
		metrics.LogEventsTotal.WithLabelValues("dropped").Inc()
		return
	}
	metrics.LogEventsTotal.WithLabelValues(s.secondary.Name()).Inc()
}
