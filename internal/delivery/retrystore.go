package delivery

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"courier/internal/constants"
)

// RetryEntry is a durable scheduled retry. The envelope is kept as its wire
// bytes so the republish is byte-identical to a fresh publish.
type RetryEntry struct {
	MessageID string    `bson:"message_id"`
	Channel   string    `bson:"channel"`
	Payload   []byte    `bson:"payload"`
	DueAt     time.Time `bson:"due_at"`
	CreatedAt time.Time `bson:"created_at"`
}

// RetryStore persists scheduled retries so they survive a worker restart.
// TakeDue hands out each due entry at most once.
type RetryStore interface {
	Schedule(ctx context.Context, entry RetryEntry) error
	TakeDue(ctx context.Context, now time.Time) (*RetryEntry, error)
}

type MongoRetryStore struct {
	collection *mongo.Collection
}

func NewMongoRetryStore(db *mongo.Database) *MongoRetryStore {
	return &MongoRetryStore{
		collection: db.Collection(constants.RetriesCollection),
	}
}

func (s *MongoRetryStore) Schedule(ctx context.Context, entry RetryEntry) error {
	entry.CreatedAt = time.Now()
	if _, err := s.collection.InsertOne(ctx, entry); err != nil {
		if mongo.IsDuplicateKeyError(err) {
			// A redelivered attempt already scheduled this retry.
			return nil
		}
		return fmt.Errorf("failed to persist scheduled retry: %w", err)
	}
	return nil
}

// TakeDue atomically removes and returns one due entry, or (nil, nil) when
// nothing is due. The delete-then-publish order means a crash between the
// two can lose one retry, never duplicate a sweep between workers.
func (s *MongoRetryStore) TakeDue(ctx context.Context, now time.Time) (*RetryEntry, error) {
	var entry RetryEntry
	err := s.collection.FindOneAndDelete(ctx,
		bson.M{"due_at": bson.M{"$lte": now}},
		options.FindOneAndDelete().SetSort(bson.D{{Key: "due_at", Value: 1}}),
	).Decode(&entry)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to take due retry: %w", err)
	}
	return &entry, nil
}
