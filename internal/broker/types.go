package broker

import (
	"context"
)

// Delivery is one message handed to a consumer handler. Payload decoding is
// left to the handler so poison payloads can be classified at the consuming
// service's boundary.
type Delivery struct {
	Topic   string
	Key     []byte
	Value   []byte
	Headers map[string]string
}

type Producer interface {
	// Publish marshals payload to JSON and writes it to topic, keyed for
	// partition affinity.
	Publish(ctx context.Context, topic, key string, payload interface{}) error
	Close() error
}

type Consumer interface {
	Consume(ctx context.Context, topic string, handler HandlerFunc) error
	Close() error
	SetServiceName(name string)
}

// HandlerFunc processes one delivery. A nil return acknowledges the message;
// an error triggers the consumer's bounded redelivery policy.
type HandlerFunc func(ctx context.Context, d Delivery) error
