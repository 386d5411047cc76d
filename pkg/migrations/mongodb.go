package migrations

import (
	"context"
	"fmt"
	"strings"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"courier/internal/constants"
)

// EnsureMessageIndexes creates the unique indexes the dedup protocol depends
// on: message_id for idempotency lookups and content_hash for collapsing
// semantically identical submissions.
func EnsureMessageIndexes(ctx context.Context, db *mongo.Database) error {
	collection := db.Collection(constants.MessagesCollection)

	indexes := []mongo.IndexModel{
		{
			Keys:    bson.D{{Key: "message_id", Value: 1}},
			Options: options.Index().SetName("idx_messages_message_id").SetUnique(true),
		},
		{
			Keys:    bson.D{{Key: "content_hash", Value: 1}},
			Options: options.Index().SetName("idx_messages_content_hash").SetUnique(true),
		},
		{
			Keys:    bson.D{{Key: "status", Value: 1}, {Key: "updated_at", Value: -1}},
			Options: options.Index().SetName("idx_messages_status_updated_at"),
		},
	}

	if _, err := collection.Indexes().CreateMany(ctx, indexes); err != nil {
		if !strings.Contains(err.Error(), "already exists") {
			return fmt.Errorf("failed to create message indexes: %w", err)
		}
	}

	return nil
}

// EnsureRetryIndexes supports the scheduled-retry sweep: due_at drives the
// poll, and the unique message_id keeps a redelivered failed attempt from
// scheduling the same retry twice.
func EnsureRetryIndexes(ctx context.Context, db *mongo.Database) error {
	collection := db.Collection(constants.RetriesCollection)

	indexes := []mongo.IndexModel{
		{
			Keys:    bson.D{{Key: "due_at", Value: 1}},
			Options: options.Index().SetName("idx_retries_due_at"),
		},
		{
			Keys:    bson.D{{Key: "message_id", Value: 1}},
			Options: options.Index().SetName("idx_retries_message_id").SetUnique(true),
		},
	}

	if _, err := collection.Indexes().CreateMany(ctx, indexes); err != nil {
		if !strings.Contains(err.Error(), "already exists") {
			return fmt.Errorf("failed to create retry indexes: %w", err)
		}
	}

	return nil
}

// EnsureLogIndexes indexes the durable fallback log store for trace lookups.
func EnsureLogIndexes(ctx context.Context, db *mongo.Database) error {
	collection := db.Collection(constants.LogsCollection)

	indexes := []mongo.IndexModel{
		{
			Keys:    bson.D{{Key: "trace_id", Value: 1}, {Key: "timestamp", Value: 1}},
			Options: options.Index().SetName("idx_logs_trace_id_timestamp"),
		},
		{
			Keys:    bson.D{{Key: "service", Value: 1}, {Key: "timestamp", Value: -1}},
			Options: options.Index().SetName("idx_logs_service_timestamp"),
		},
	}

	if _, err := collection.Indexes().CreateMany(ctx, indexes); err != nil {
		if !strings.Contains(err.Error(), "already exists") {
			return fmt.Errorf("failed to create log indexes: %w", err)
		}
	}

	return nil
}
