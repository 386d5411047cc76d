package eventlog

import (
	"context"
	"sync"

	"courier/internal/broker"
	"courier/internal/constants"
	"courier/internal/logger"
	"courier/pkg/models"
)

const queueCapacity = 256

// Emitter publishes LogEvents to the shared log topic. Emission is
// fire-and-forget: events queue onto a bounded channel drained by a single
// worker, so a burst cannot pile up unbounded in-flight publishes. A failed
// publish is logged locally and dropped, and so is an event arriving while
// the queue is full; the business path never blocks on, or fails because
// of, the logging path.
type Emitter struct {
	producer broker.Producer
	service  string
	logger   logger.Logger

	queue chan queuedEvent
	wg    sync.WaitGroup
}

type queuedEvent struct {
	ctx   context.Context
	event models.LogEvent
}

func NewEmitter(producer broker.Producer, service string, log logger.Logger) *Emitter {
	e := &Emitter{
		producer: producer,
		service:  service,
		logger:   log,
		queue:    make(chan queuedEvent, queueCapacity),
	}
	go e.drain()
	return e
}

func (e *Emitter) Emit(ctx context.Context, event models.LogEvent) {
	if event.Service == "" {
		event.Service = e.service
	}

	e.wg.Add(1)
	// Detached from the caller's deadline: the event should still go out
	// after the originating request completes.
	select {
	case e.queue <- queuedEvent{ctx: context.WithoutCancel(ctx), event: event}:
	default:
		e.wg.Done()
		e.logger.WarnwCtx(ctx, "Dropped log event, emit queue full",
			"event_message", event.Message,
		)
	}
}

func (e *Emitter) drain() {
	for q := range e.queue {
		if err := e.producer.Publish(q.ctx, constants.LogTopic, q.event.TraceID, q.event); err != nil {
			e.logger.WarnwCtx(q.ctx, "Dropped log event after failed publish",
				"error", err,
				"event_message", q.event.Message,
			)
		}
		e.wg.Done()
	}
}

// Flush waits for queued emissions, used during shutdown and in tests. The
// emitter stays usable afterwards; the worker lives for the emitter's
// lifetime.
func (e *Emitter) Flush() {
	e.wg.Wait()
}
