package mongodb

import (
	"context"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/pitlane-app/identity/internal/audit"
)

// AuditSink appends audit entries to a capped-by-TTL activity log
// collection.
type AuditSink struct {
	collection *mongo.Collection
}

// NewAuditSink creates an AuditSink. retention bounds how long entries
// are kept; zero disables the TTL index.
func NewAuditSink(ctx context.Context, db *mongo.Database, retention time.Duration) (*AuditSink, error) {
	sink := &AuditSink{collection: db.Collection(AuditLogCollection)}

	indexModels := []mongo.IndexModel{
		{Keys: bson.D{{Key: "uid", Value: 1}, {Key: "timestamp", Value: -1}}},
	}
	if retention > 0 {
		indexModels = append(indexModels, mongo.IndexModel{
			Keys:    bson.D{{Key: "timestamp", Value: 1}},
			Options: options.Index().SetExpireAfterSeconds(int32(retention.Seconds())),
		})
	}
	if _, err := sink.collection.Indexes().CreateMany(ctx, indexModels); err != nil {
		return nil, fmt.Errorf("failed to create %s indexes: %w", AuditLogCollection, err)
	}
	return sink, nil
}

func (s *AuditSink) Append(ctx context.Context, entry audit.Entry) error {
	if entry.ID == "" {
		entry.ID = primitive.NewObjectID().Hex()
	}
	if entry.Timestamp.IsZero() {
		entry.Timestamp = time.Now().UTC()
	}
	if _, err := s.collection.InsertOne(ctx, entry); err != nil {
		return fmt.Errorf("failed to append audit entry: %w", err)
	}
	return nil
}

var _ audit.Sink = (*AuditSink)(nil)
