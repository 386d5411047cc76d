package logsink

import (
	"context"
	"fmt"

	"go.mongodb.org/mongo-driver/mongo"

	"courier/internal/constants"
	"courier/pkg/models"
)

// MongoStore is the fallback log store, written when the primary is down or
// rejects an event.
type MongoStore struct {
	collection *mongo.Collection
}

func NewMongoStore(db *mongo.Database) *MongoStore {
	return &MongoStore{
		collection: db.Collection(constants.LogsCollection),
	}
}

func (s *MongoStore) Name() string {
	return "mongodb"
}

func (s *MongoStore) Append(ctx context.Context, event models.LogEvent) error {
	if _, err := s.collection.InsertOne(ctx, event); err != nil {
		return fmt.Errorf("failed to insert log event: %w", err)
	}
	return nil
}
