package mongodb

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"
	"go.opentelemetry.io/contrib/instrumentation/go.mongodb.org/mongo-driver/mongo/otelmongo"
)

const (
	UsersCollection    = "identity_users"
	AuditLogCollection = "identity_audit_log"
)

// Connect establishes an instrumented MongoDB connection and returns a
// database handle for explicit injection into the repositories.
func Connect(ctx context.Context, uri, dbName string) (*mongo.Database, error) {
	log.Info().Str("db", dbName).Msg("Connecting to MongoDB")

	opts := options.Client().
		ApplyURI(uri).
		SetConnectTimeout(10 * time.Second).
		SetMonitor(otelmongo.NewMonitor())

	client, err := mongo.Connect(ctx, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to MongoDB: %w", err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx, readpref.Primary()); err != nil {
		_ = client.Disconnect(ctx)
		return nil, fmt.Errorf("failed to ping MongoDB primary: %w", err)
	}

	return client.Database(dbName), nil
}

// Disconnect closes the connection behind a database handle.
func Disconnect(ctx context.Context, db *mongo.Database) {
	if db == nil {
		return
	}
	if err := db.Client().Disconnect(ctx); err != nil {
		log.Error().Err(err).Msg("Error closing MongoDB connection")
	}
}

// Ping verifies the connection, for health checks.
func Ping(ctx context.Context, db *mongo.Database) error {
	pingCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	return db.Client().Ping(pingCtx, readpref.Primary())
}
