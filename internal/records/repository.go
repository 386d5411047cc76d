package records

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"

	"courier/internal/constants"
	pkgerrors "courier/pkg/errors"
)

// Store is the record persistence boundary shared by the gateway and the
// delivery workers. Lookups return (nil, nil) when no record exists.
type Store interface {
	FindByHash(ctx context.Context, contentHash string) (*Message, error)
	FindByID(ctx context.Context, messageID string) (*Message, error)
	// Create persists a new record. A unique-key collision on message_id or
	// content_hash surfaces as a CONFLICT error.
	Create(ctx context.Context, msg *Message) error
	// UpdateStatus moves a queued record to its terminal status. It is a
	// no-op returning CONFLICT when the record already reached a terminal
	// state, which keeps redelivered envelopes from rewriting outcomes.
	UpdateStatus(ctx context.Context, messageID string, update StatusUpdate) error
}

type MongoStore struct {
	collection *mongo.Collection
}

func NewMongoStore(db *mongo.Database) *MongoStore {
	return &MongoStore{
		collection: db.Collection(constants.MessagesCollection),
	}
}

func (s *MongoStore) FindByHash(ctx context.Context, contentHash string) (*Message, error) {
	return s.findOne(ctx, bson.M{"content_hash": contentHash})
}

func (s *MongoStore) FindByID(ctx context.Context, messageID string) (*Message, error) {
	return s.findOne(ctx, bson.M{"message_id": messageID})
}

func (s *MongoStore) findOne(ctx context.Context, filter bson.M) (*Message, error) {
	var msg Message
	err := s.collection.FindOne(ctx, filter).Decode(&msg)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find message: %w", err)
	}
	return &msg, nil
}

func (s *MongoStore) Create(ctx context.Context, msg *Message) error {
	now := time.Now()
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = now
	}
	msg.UpdatedAt = now

	if _, err := s.collection.InsertOne(ctx, msg); err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return pkgerrors.ErrConflict.WithCause(err).
				WithDetail("message", "message with identical content already exists")
		}
		return fmt.Errorf("failed to create message: %w", err)
	}

	return nil
}

func (s *MongoStore) UpdateStatus(ctx context.Context, messageID string, update StatusUpdate) error {
	set := bson.M{
		"status":     update.Status,
		"attempts":   update.Attempts,
		"updated_at": time.Now(),
	}
	if update.LastError != "" {
		set["last_error"] = update.LastError
	}
	if update.SentAt != nil {
		set["sent_at"] = update.SentAt
	}

	// Only a queued record may transition; terminal statuses are written
	// exactly once.
	res, err := s.collection.UpdateOne(ctx,
		bson.M{"message_id": messageID, "status": StatusQueued},
		bson.M{"$set": set},
	)
	if err != nil {
		return fmt.Errorf("failed to update message status: %w", err)
	}

	if res.MatchedCount == 0 {
		existing, findErr := s.FindByID(ctx, messageID)
		if findErr != nil {
			return findErr
		}
		if existing == nil {
			return pkgerrors.ErrNotFound.
				WithDetail("message", fmt.Sprintf("message %s not found", messageID))
		}
		return pkgerrors.ErrConflict.
			WithDetail("message", fmt.Sprintf("message %s already has terminal status %s", messageID, existing.Status))
	}

	return nil
}
