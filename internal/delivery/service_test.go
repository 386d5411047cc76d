package delivery

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"courier/internal/broker"
	"courier/internal/constants"
	"courier/internal/eventlog"
	"courier/internal/logger"
	"courier/internal/records"
	pkgerrors "courier/pkg/errors"
	"courier/pkg/models"
)

type memoryStore struct {
	mu   sync.Mutex
	byID map[string]*records.Message
}

func newMemoryStore() *memoryStore {
	return &memoryStore{byID: make(map[string]*records.Message)}
}

func (s *memoryStore) put(msg *records.Message) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.byID[msg.MessageID] = msg
}

func (s *memoryStore) FindByHash(ctx context.Context, contentHash string) (*records.Message, error) {
	return nil, nil
}

func (s *memoryStore) FindByID(ctx context.Context, messageID string) (*records.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.byID[messageID], nil
}

func (s *memoryStore) Create(ctx context.Context, msg *records.Message) error {
	s.put(msg)
	return nil
}

func (s *memoryStore) UpdateStatus(ctx context.Context, messageID string, update records.StatusUpdate) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	msg, ok := s.byID[messageID]
	if !ok {
		return pkgerrors.ErrNotFound
	}
	if msg.Status.Terminal() {
		return pkgerrors.ErrConflict
	}
	msg.Status = update.Status
	msg.Attempts = update.Attempts
	msg.LastError = update.LastError
	msg.SentAt = update.SentAt
	return nil
}

// scriptedSender fails the first n attempts, then succeeds.
type scriptedSender struct {
	mu       sync.Mutex
	failures int
	calls    int
}

func (s *scriptedSender) Send(ctx context.Context, envelope models.RoutedEnvelope) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	if s.calls <= s.failures {
		return pkgerrors.ErrDelivery
	}
	return nil
}

func (s *scriptedSender) callCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

type deliveryTestRig struct {
	store     *memoryStore
	retries   *fakeRetryStore
	producer  *capturingProducer
	sender    *scriptedSender
	scheduler *BackoffScheduler
	emitter   *eventlog.Emitter
	service   *Service
}

func newDeliveryTestRig(t *testing.T, failures int) *deliveryTestRig {
	t.Helper()
	log := logger.NopLogger()
	store := newMemoryStore()
	retries := &fakeRetryStore{}
	producer := &capturingProducer{}
	sender := &scriptedSender{failures: failures}
	scheduler := NewBackoffScheduler(retries, producer, time.Millisecond, 5*time.Millisecond, log)
	emitter := eventlog.NewEmitter(producer, "delivery-service", log)
	svc := NewService(constants.ChannelEmail, constants.DefaultMaxAttempts, store, sender, scheduler, emitter, log)
	return &deliveryTestRig{
		store:     store,
		retries:   retries,
		producer:  producer,
		sender:    sender,
		scheduler: scheduler,
		emitter:   emitter,
		service:   svc,
	}
}

// sweepDue waits past the rig's longest backoff, then runs one sweep so any
// scheduled retry lands back on the routing topic.
func (r *deliveryTestRig) sweepDue() {
	time.Sleep(10 * time.Millisecond)
	r.scheduler.Sweep(context.Background())
}

func queuedRecord(id string) *records.Message {
	return &records.Message{
		MessageID: id,
		Channel:   constants.ChannelEmail,
		To:        "user@example.com",
		Body:      "hello",
		Status:    records.StatusQueued,
		TraceID:   "trace-1",
	}
}

func firstEnvelope(id string) models.RoutedEnvelope {
	return models.RoutedEnvelope{
		MessageID: id,
		Channel:   constants.ChannelEmail,
		To:        "user@example.com",
		Body:      "hello",
		Attempt:   0,
		TraceID:   "trace-1",
		SpanID:    "span-1",
	}
}

func asDelivery(t *testing.T, envelope models.RoutedEnvelope) broker.Delivery {
	t.Helper()
	payload, err := json.Marshal(envelope)
	require.NoError(t, err)
	return broker.Delivery{
		Topic: constants.RoutingTopic(envelope.Channel),
		Value: payload,
	}
}

// routedEnvelopes returns the envelopes republished to the routing topic,
// skipping log events.
func (r *deliveryTestRig) routedEnvelopes() []models.RoutedEnvelope {
	r.producer.mu.Lock()
	defer r.producer.mu.Unlock()
	return append([]models.RoutedEnvelope(nil), r.producer.envelopes...)
}

func (r *deliveryTestRig) loggedEvents(message string) []models.LogEvent {
	r.producer.mu.Lock()
	defer r.producer.mu.Unlock()
	var out []models.LogEvent
	for _, event := range r.producer.logEvents {
		if event.Message == message {
			out = append(out, event)
		}
	}
	return out
}

func TestService_HandleDelivery_SuccessFirstAttempt(t *testing.T) {
	rig := newDeliveryTestRig(t, 0)
	rig.store.put(queuedRecord("msg-1"))

	err := rig.service.HandleDelivery(context.Background(), asDelivery(t, firstEnvelope("msg-1")))
	require.NoError(t, err)
	rig.emitter.Flush()

	stored, _ := rig.store.FindByID(context.Background(), "msg-1")
	require.NotNil(t, stored)
	assert.Equal(t, records.StatusSent, stored.Status)
	assert.Equal(t, 1, stored.Attempts)
	require.NotNil(t, stored.SentAt)

	assert.Empty(t, rig.routedEnvelopes())
	assert.Equal(t, 0, rig.retries.size())
}

func TestService_HandleDelivery_RetriesThenSucceeds(t *testing.T) {
	rig := newDeliveryTestRig(t, 2)
	rig.store.put(queuedRecord("msg-1"))

	envelope := firstEnvelope("msg-1")
	for {
		err := rig.service.HandleDelivery(context.Background(), asDelivery(t, envelope))
		require.NoError(t, err)
		rig.sweepDue()

		routed := rig.routedEnvelopes()
		if len(routed) == 0 || routed[len(routed)-1].Attempt == envelope.Attempt {
			break
		}
		envelope = routed[len(routed)-1]
	}
	rig.emitter.Flush()

	stored, _ := rig.store.FindByID(context.Background(), "msg-1")
	assert.Equal(t, records.StatusSent, stored.Status)
	assert.Equal(t, 3, stored.Attempts)
	assert.Equal(t, 3, rig.sender.callCount())

	// Each retry republishes with an incremented attempt and a fresh span
	// parented to the span of the failed attempt, not to the incoming
	// envelope's span.
	routed := rig.routedEnvelopes()
	require.Len(t, routed, 2)
	assert.Equal(t, 1, routed[0].Attempt)
	assert.Equal(t, 2, routed[1].Attempt)
	assert.NotEmpty(t, routed[0].SpanID)
	assert.NotEqual(t, routed[0].SpanID, routed[1].SpanID)
	assert.NotEmpty(t, routed[0].ParentSpanID)
	assert.NotEqual(t, "span-1", routed[0].ParentSpanID)
	assert.NotEqual(t, routed[0].SpanID, routed[1].ParentSpanID)
	assert.NotEqual(t, routed[0].ParentSpanID, routed[1].ParentSpanID)
	assert.Equal(t, 0, rig.retries.size())

	// The retry's parent is the span the matching attempt_failed event was
	// recorded under.
	failures := rig.loggedEvents("attempt_failed")
	require.Len(t, failures, 2)
	byAttempt := make(map[int]models.LogEvent)
	for _, event := range failures {
		n, ok := event.Payload["attempt"].(int)
		require.True(t, ok)
		byAttempt[n] = event
	}
	assert.Equal(t, byAttempt[1].SpanID, routed[0].ParentSpanID)
	assert.Equal(t, byAttempt[2].SpanID, routed[1].ParentSpanID)
}

func TestService_HandleDelivery_ExhaustsAttempts(t *testing.T) {
	rig := newDeliveryTestRig(t, 100)
	rig.store.put(queuedRecord("msg-1"))

	envelope := firstEnvelope("msg-1")
	for attempt := 0; attempt < constants.DefaultMaxAttempts; attempt++ {
		envelope.Attempt = attempt
		err := rig.service.HandleDelivery(context.Background(), asDelivery(t, envelope))
		require.NoError(t, err)
		rig.sweepDue()
	}
	rig.emitter.Flush()

	stored, _ := rig.store.FindByID(context.Background(), "msg-1")
	assert.Equal(t, records.StatusFailed, stored.Status)
	assert.Equal(t, constants.DefaultMaxAttempts, stored.Attempts)
	assert.NotEmpty(t, stored.LastError)
	assert.Equal(t, constants.DefaultMaxAttempts, rig.sender.callCount())

	// Four retries were scheduled; the fifth failure is terminal.
	assert.Len(t, rig.routedEnvelopes(), constants.DefaultMaxAttempts-1)
	assert.Equal(t, 0, rig.retries.size())
}

func TestService_HandleDelivery_SkipsTerminalRecord(t *testing.T) {
	rig := newDeliveryTestRig(t, 0)
	rec := queuedRecord("msg-1")
	rec.Status = records.StatusSent
	rig.store.put(rec)

	err := rig.service.HandleDelivery(context.Background(), asDelivery(t, firstEnvelope("msg-1")))
	require.NoError(t, err)

	assert.Equal(t, 0, rig.sender.callCount())
	assert.Empty(t, rig.routedEnvelopes())
}

func TestService_HandleDelivery_DropsPoisonPayload(t *testing.T) {
	rig := newDeliveryTestRig(t, 0)

	err := rig.service.HandleDelivery(context.Background(), broker.Delivery{
		Topic: constants.RoutingTopic(constants.ChannelEmail),
		Value: []byte("not json"),
	})
	require.NoError(t, err)

	assert.Equal(t, 0, rig.sender.callCount())
	assert.Empty(t, rig.routedEnvelopes())
}

func TestService_HandleDelivery_MissingRecordRedelivers(t *testing.T) {
	rig := newDeliveryTestRig(t, 0)

	err := rig.service.HandleDelivery(context.Background(), asDelivery(t, firstEnvelope("msg-unknown")))
	require.Error(t, err)
	assert.Equal(t, 0, rig.sender.callCount())
}
