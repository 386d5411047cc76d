package integration

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
	"courier/internal/gateway"
	"courier/internal/records"
	"courier/pkg/migrations"
	"courier/pkg/retry"
)

type recordingProducer struct {
	mu        sync.Mutex
	published []string
}

func (p *recordingProducer) Publish(ctx context.Context, topic, key string, payload interface{}) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.published = append(p.published, topic)
	return nil
}

func (p *recordingProducer) Close() error { return nil }

func (p *recordingProducer) routingCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	count := 0
	for _, topic := range p.published {
		if strings.HasPrefix(topic, constants.RoutingTopicPrefix) {
			count++
		}
	}
	return count
}

func TestGatewayService_IdempotentSubmission(t *testing.T) {
	infra := SetupTestInfra(t)

	ctx := context.Background()
	require.NoError(t, migrations.EnsureMessageIndexes(ctx, infra.MongoDB))

	log := createTestLogger()
	store := records.NewMongoStore(infra.MongoDB)
	producer := &recordingProducer{}
	emitter := eventlog.NewEmitter(producer, "gateway-service", log)

	svc := gateway.NewService(store, producer, emitter, retry.DefaultPolicy(), log)
	svc.WithDedupCache(gateway.NewRedisDedupCache(infra.RedisClient), time.Minute)

	req := gateway.SubmitRequest{
		Channel: constants.ChannelEmail,
		To:      "user@example.com",
		Subject: "Welcome",
		Body:    "Hello there",
	}

	first, err := svc.Submit(ctx, req)
	require.NoError(t, err)
	assert.False(t, first.Duplicate)

	second, err := svc.Submit(ctx, req)
	require.NoError(t, err)
	emitter.Flush()

	assert.True(t, second.Duplicate)
	assert.Equal(t, first.MessageID, second.MessageID)
	assert.Equal(t, 1, producer.routingCount())

	stored, err := svc.GetMessage(ctx, first.MessageID)
	require.NoError(t, err)
	assert.Equal(t, records.StatusQueued, stored.Status)
}

func TestGatewayService_DistinctContentNotSuppressed(t *testing.T) {
	infra := SetupTestInfra(t)

	ctx := context.Background()
	require.NoError(t, migrations.EnsureMessageIndexes(ctx, infra.MongoDB))

	log := createTestLogger()
	store := records.NewMongoStore(infra.MongoDB)
	producer := &recordingProducer{}
	emitter := eventlog.NewEmitter(producer, "gateway-service", log)

	svc := gateway.NewService(store, producer, emitter, retry.DefaultPolicy(), log)
	svc.WithDedupCache(gateway.NewRedisDedupCache(infra.RedisClient), time.Minute)

	first, err := svc.Submit(ctx, gateway.SubmitRequest{
		Channel: constants.ChannelSMS,
		To:      "+15551234567",
		Body:    "Your code is 111111",
	})
	require.NoError(t, err)

	second, err := svc.Submit(ctx, gateway.SubmitRequest{
		Channel: constants.ChannelSMS,
		To:      "+15551234567",
		Body:    "Your code is 222222",
	})
	require.NoError(t, err)
	emitter.Flush()

	assert.NotEqual(t, first.MessageID, second.MessageID)
	assert.False(t, second.Duplicate)
	assert.Equal(t, 2, producer.routingCount())
}
