package logsink

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"courier/internal/broker"
	"courier/internal/logger"
	"courier/pkg/models"
)

type fakeLogStore struct {
	mu     sync.Mutex
	name   string
	fail   bool
	events []models.LogEvent
}

func (s *fakeLogStore) Name() string { return s.name }

func (s *fakeLogStore) Append(ctx context.Context, event models.LogEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.fail {
		return errors.New("store unavailable")
	}
	s.events = append(s.events, event)
	return nil
}

func (s *fakeLogStore) stored() []models.LogEvent {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]models.LogEvent(nil), s.events...)
}

func (s *fakeLogStore) setFail(fail bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.fail = fail
}

type fakeProber struct {
	mu  sync.Mutex
	err error
}

func (p *fakeProber) HealthCheck(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.err
}

func (p *fakeProber) setErr(err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.err = err
}

func newSinkRig(primaryHealthy bool) (*Service, *fakeLogStore, *fakeLogStore, *HealthMonitor) {
	log := logger.NopLogger()
	primary := &fakeLogStore{name: "elasticsearch"}
	secondary := &fakeLogStore{name: "mongodb"}
	monitor := NewHealthMonitor(nil, time.Minute, time.Second, log)
	monitor.healthy.Store(primaryHealthy)
	return NewService(primary, secondary, monitor, log), primary, secondary, monitor
}

func testEvent(message string) models.LogEvent {
	return models.LogEvent{
		Timestamp: time.Now().UTC(),
		Service:   "gateway-service",
		Level:     models.LevelInfo,
		TraceID:   "trace-1",
		Message:   message,
	}
}

func TestService_Ingest_PrimaryHealthy(t *testing.T) {
	svc, primary, secondary, _ := newSinkRig(true)

	svc.Ingest(context.Background(), testEvent("request_received"))

	require.Len(t, primary.stored(), 1)
	assert.Empty(t, secondary.stored())
}

func TestService_Ingest_PrimaryDownGoesToFallback(t *testing.T) {
	svc, primary, secondary, _ := newSinkRig(false)

	svc.Ingest(context.Background(), testEvent("request_received"))

	assert.Empty(t, primary.stored())
	require.Len(t, secondary.stored(), 1)
}

func TestService_Ingest_PrimaryWriteFailureFallsBack(t *testing.T) {
	svc, primary, secondary, monitor := newSinkRig(true)
	primary.setFail(true)

	svc.Ingest(context.Background(), testEvent("delivered"))

	// The event lands in the fallback and the primary is demoted so later
	// events skip it until a probe succeeds.
	require.Len(t, secondary.stored(), 1)
	assert.False(t, monitor.Healthy())

	primary.setFail(false)
	svc.Ingest(context.Background(), testEvent("delivered"))
	assert.Empty(t, primary.stored())
	assert.Len(t, secondary.stored(), 2)
}

func TestService_Ingest_PrimaryRestoredAfterProbe(t *testing.T) {
	log := logger.NopLogger()
	primary := &fakeLogStore{name: "elasticsearch"}
	secondary := &fakeLogStore{name: "mongodb"}
	prober := &fakeProber{err: errors.New("cluster down")}
	monitor := NewHealthMonitor(prober, time.Minute, time.Second, log)
	monitor.healthy.Store(true)
	svc := NewService(primary, secondary, monitor, log)

	primary.setFail(true)
	svc.Ingest(context.Background(), testEvent("delivered"))
	require.Len(t, secondary.stored(), 1)
	require.False(t, monitor.Healthy())

	// A failing probe leaves the sink on the fallback even after the
	// primary recovers its writes.
	primary.setFail(false)
	assert.False(t, monitor.probe(context.Background()))
	svc.Ingest(context.Background(), testEvent("delivered"))
	assert.Empty(t, primary.stored())
	assert.Len(t, secondary.stored(), 2)

	// Once a probe succeeds, events route to the primary again.
	prober.setErr(nil)
	assert.True(t, monitor.probe(context.Background()))
	require.True(t, monitor.Healthy())
	svc.Ingest(context.Background(), testEvent("delivered"))
	require.Len(t, primary.stored(), 1)
	assert.Len(t, secondary.stored(), 2)
}

func TestService_Ingest_BothStoresDownDrops(t *testing.T) {
	svc, primary, secondary, _ := newSinkRig(true)
	primary.setFail(true)
	secondary.setFail(true)

	// Must not panic or block; the event is dropped.
	svc.Ingest(context.Background(), testEvent("attempt_failed"))

	assert.Empty(t, primary.stored())
	assert.Empty(t, secondary.stored())
}

func TestService_HandleEvent_StampsReceivedAt(t *testing.T) {
	svc, primary, _, _ := newSinkRig(true)

	event := testEvent("message_queued")
	payload, err := json.Marshal(event)
	require.NoError(t, err)

	before := time.Now().UTC()
	err = svc.HandleEvent(context.Background(), broker.Delivery{Value: payload})
	require.NoError(t, err)

	stored := primary.stored()
	require.Len(t, stored, 1)
	assert.False(t, stored[0].ReceivedAt.Before(before))
}

func TestService_HandleEvent_DropsUndecodable(t *testing.T) {
	svc, primary, secondary, _ := newSinkRig(true)

	err := svc.HandleEvent(context.Background(), broker.Delivery{Value: []byte("{broken")})
	require.NoError(t, err)

	assert.Empty(t, primary.stored())
	assert.Empty(t, secondary.stored())
}
