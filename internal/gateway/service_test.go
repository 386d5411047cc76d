package gateway

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"courier/internal/constants"
	"courier/internal/eventlog"
	"courier/internal/logger"
	"courier/internal/records"
	pkgerrors "courier/pkg/errors"
	"courier/pkg/retry"
)

type fakeStore struct {
	mu       sync.Mutex
	byID     map[string]*records.Message
	byHash   map[string]*records.Message
	raceOnce bool
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		byID:   make(map[string]*records.Message),
		byHash: make(map[string]*records.Message),
	}
}

func (s *fakeStore) FindByHash(ctx context.Context, contentHash string) (*records.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.raceOnce {
		// Simulate a concurrent writer that is not visible yet.
		s.raceOnce = false
		return nil, nil
	}
	return s.byHash[contentHash], nil
}

func (s *fakeStore) FindByID(ctx context.Context, messageID string) (*records.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.byID[messageID], nil
}

func (s *fakeStore) Create(ctx context.Context, msg *records.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.byHash[msg.ContentHash]; exists {
		return pkgerrors.ErrConflict.WithDetail("message", "message with identical content already exists")
	}
	copied := *msg
	s.byID[msg.MessageID] = &copied
	s.byHash[msg.ContentHash] = &copied
	return nil
}

func (s *fakeStore) UpdateStatus(ctx context.Context, messageID string, update records.StatusUpdate) error {
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

type publishedMessage struct {
	Topic   string
	Key     string
	Payload interface{}
}

type fakeProducer struct {
	mu          sync.Mutex
	published   []publishedMessage
	failRouting bool
}

func (p *fakeProducer) Publish(ctx context.Context, topic, key string, payload interface{}) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.failRouting && strings.HasPrefix(topic, constants.RoutingTopicPrefix) {
		return pkgerrors.ErrServiceUnavailable
	}
	p.published = append(p.published, publishedMessage{Topic: topic, Key: key, Payload: payload})
	return nil
}

func (p *fakeProducer) Close() error { return nil }

func (p *fakeProducer) routingPublishes() []publishedMessage {
	p.mu.Lock()
	defer p.mu.Unlock()
	var out []publishedMessage
	for _, m := range p.published {
		if strings.HasPrefix(m.Topic, constants.RoutingTopicPrefix) {
			out = append(out, m)
		}
	}
	return out
}

func newTestService(store records.Store, producer *fakeProducer) (*Service, *eventlog.Emitter) {
	log := logger.NopLogger()
	emitter := eventlog.NewEmitter(producer, "gateway-service", log)
	policy := retry.Policy{
		MaxAttempts:     2,
		InitialInterval: time.Millisecond,
		MaxInterval:     5 * time.Millisecond,
		Multiplier:      2.0,
	}
	return NewService(store, producer, emitter, policy, log), emitter
}

func validRequest() SubmitRequest {
	return SubmitRequest{
		Channel: constants.ChannelEmail,
		To:      "user@example.com",
		From:    "noreply@example.com",
		Subject: "Welcome",
		Body:    "Hello there",
	}
}

func TestService_Submit_Accepted(t *testing.T) {
	store := newFakeStore()
	producer := &fakeProducer{}
	svc, emitter := newTestService(store, producer)

	result, err := svc.Submit(context.Background(), validRequest())
	require.NoError(t, err)
	emitter.Flush()

	assert.NotEmpty(t, result.MessageID)
	assert.Equal(t, string(records.StatusQueued), result.Status)
	assert.NotEmpty(t, result.TraceID)
	assert.False(t, result.Duplicate)
	assert.Empty(t, result.Info)

	routed := producer.routingPublishes()
	require.Len(t, routed, 1)
	assert.Equal(t, constants.RoutingTopic(constants.ChannelEmail), routed[0].Topic)
	assert.Equal(t, result.MessageID, routed[0].Key)

	stored, err := store.FindByID(context.Background(), result.MessageID)
	require.NoError(t, err)
	require.NotNil(t, stored)
	assert.Equal(t, records.StatusQueued, stored.Status)
}

func TestService_Submit_DuplicateSuppressed(t *testing.T) {
	store := newFakeStore()
	producer := &fakeProducer{}
	svc, emitter := newTestService(store, producer)

	first, err := svc.Submit(context.Background(), validRequest())
	require.NoError(t, err)

	second, err := svc.Submit(context.Background(), validRequest())
	require.NoError(t, err)
	emitter.Flush()

	assert.Equal(t, first.MessageID, second.MessageID)
	assert.True(t, second.Duplicate)
	assert.Equal(t, "duplicate_message_prevented", second.Info)

	// The duplicate must not be routed again.
	assert.Len(t, producer.routingPublishes(), 1)
}

func TestService_Submit_ConflictRace(t *testing.T) {
	store := newFakeStore()
	producer := &fakeProducer{}
	svc, emitter := newTestService(store, producer)

	first, err := svc.Submit(context.Background(), validRequest())
	require.NoError(t, err)

	// Hide the winner from the pre-insert lookup so the second submission
	// collides on create and resolves through the re-read.
	store.mu.Lock()
	store.raceOnce = true
	store.mu.Unlock()

	second, err := svc.Submit(context.Background(), validRequest())
	require.NoError(t, err)
	emitter.Flush()

	assert.Equal(t, first.MessageID, second.MessageID)
	assert.True(t, second.Duplicate)
	assert.Len(t, producer.routingPublishes(), 1)
}

func TestService_Submit_Validation(t *testing.T) {
	store := newFakeStore()
	producer := &fakeProducer{}
	svc, _ := newTestService(store, producer)

	cases := []struct {
		name string
		req  SubmitRequest
	}{
		{"missing channel", SubmitRequest{To: "user@example.com", Body: "hi"}},
		{"missing to", SubmitRequest{Channel: "email", Body: "hi"}},
		{"missing body", SubmitRequest{Channel: "email", To: "user@example.com"}},
		{"unknown channel", SubmitRequest{Channel: "pigeon", To: "user@example.com", Body: "hi"}},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := svc.Submit(context.Background(), tc.req)
			require.Error(t, err)
			assert.True(t, pkgerrors.IsValidation(err))
		})
	}

	assert.Empty(t, producer.routingPublishes())
}

func TestService_Submit_EnqueueFailed(t *testing.T) {
	store := newFakeStore()
	producer := &fakeProducer{failRouting: true}
	svc, emitter := newTestService(store, producer)

	_, err := svc.Submit(context.Background(), validRequest())
	require.Error(t, err)
	emitter.Flush()

	// The record survives for inspection with the terminal enqueue_failed
	// status.
	hash, hashErr := NewHasher().Fingerprint(validRequest())
	require.NoError(t, hashErr)
	stored, findErr := store.FindByHash(context.Background(), hash)
	require.NoError(t, findErr)
	require.NotNil(t, stored)
	assert.Equal(t, records.StatusEnqueueFailed, stored.Status)
	assert.NotEmpty(t, stored.LastError)
}

func TestService_GetMessage_NotFound(t *testing.T) {
	store := newFakeStore()
	producer := &fakeProducer{}
	svc, _ := newTestService(store, producer)

	_, err := svc.GetMessage(context.Background(), "no-such-id")
	require.Error(t, err)
	assert.True(t, pkgerrors.IsNotFound(err))
}
