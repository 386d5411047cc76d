package delivery

import (
	"context"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"courier/pkg/errors"
	"courier/pkg/models"
)

// Sender performs one delivery attempt over a concrete channel. A nil return
// means the provider accepted the message; a DELIVERY_FAILED error means the
// attempt failed and may be retried.
type Sender interface {
	Send(ctx context.Context, envelope models.RoutedEnvelope) error
}

// SimulatedSender stands in for a real provider integration. Each attempt
// fails with the configured probability, which exercises the retry and
// terminal-failure paths end to end.
type SimulatedSender struct {
	channel  string
	failRate float64

	mu   sync.Mutex
	rand *rand.Rand
}

func NewSimulatedSender(channel string, failRate float64) *SimulatedSender {
	return &SimulatedSender{
		channel:  channel,
		failRate: failRate,
		rand:     rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

// WithRandSource replaces the random source, used by tests for
// deterministic outcomes.
func (s *SimulatedSender) WithRandSource(src rand.Source) *SimulatedSender {
	s.rand = rand.New(src)
	return s
}

func (s *SimulatedSender) Send(ctx context.Context, envelope models.RoutedEnvelope) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	roll := s.rand.Float64()
	s.mu.Unlock()

	if roll < s.failRate {
		return errors.ErrDelivery.WithCause(
			fmt.Errorf("%s provider rejected message %s", s.channel, envelope.MessageID))
	}
	return nil
}
