package eventlog

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"courier/internal/logger"
	"courier/pkg/models"
)

// gatedProducer blocks every publish until the gate opens.
type gatedProducer struct {
	mu     sync.Mutex
	gate   chan struct{}
	events []models.LogEvent
}

func newGatedProducer(open bool) *gatedProducer {
	p := &gatedProducer{gate: make(chan struct{})}
	if open {
		close(p.gate)
	}
	return p
}

func (p *gatedProducer) Publish(ctx context.Context, topic, key string, payload interface{}) error {
	<-p.gate
	p.mu.Lock()
	defer p.mu.Unlock()
	if event, ok := payload.(models.LogEvent); ok {
		p.events = append(p.events, event)
	}
	return nil
}

func (p *gatedProducer) Close() error { return nil }

func (p *gatedProducer) count() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.events)
}

func TestEmitter_FlushDrainsQueue(t *testing.T) {
	producer := newGatedProducer(true)
	emitter := NewEmitter(producer, "gateway-service", logger.NopLogger())

	for i := 0; i < 10; i++ {
		emitter.Emit(context.Background(), models.NewLogEvent("", models.LevelInfo, "request_received"))
	}
	emitter.Flush()

	require.Equal(t, 10, producer.count())
	producer.mu.Lock()
	defer producer.mu.Unlock()
	// Emit stamps the emitter's service on unattributed events.
	assert.Equal(t, "gateway-service", producer.events[0].Service)
}

func TestEmitter_BoundsInFlightEvents(t *testing.T) {
	producer := newGatedProducer(false)
	emitter := NewEmitter(producer, "gateway-service", logger.NopLogger())

	// With the worker blocked, a burst past the queue bound must neither
	// block the caller nor hold more than the bound in flight.
	burst := queueCapacity + 50
	for i := 0; i < burst; i++ {
		emitter.Emit(context.Background(), models.NewLogEvent("", models.LevelInfo, "message_queued"))
	}

	close(producer.gate)
	emitter.Flush()

	assert.LessOrEqual(t, producer.count(), queueCapacity+1)
	assert.Greater(t, producer.count(), 0)
}

func TestEmitter_UsableAfterFlush(t *testing.T) {
	producer := newGatedProducer(true)
	emitter := NewEmitter(producer, "gateway-service", logger.NopLogger())

	emitter.Emit(context.Background(), models.NewLogEvent("", models.LevelInfo, "delivered"))
	emitter.Flush()
	emitter.Emit(context.Background(), models.NewLogEvent("", models.LevelInfo, "final_failed"))
	emitter.Flush()

	assert.Equal(t, 2, producer.count())
}
