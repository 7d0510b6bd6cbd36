package mongodb

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/pitlane-app/identity/domain"
)

// UserRepository implements domain.UserRepository on a single users
// collection. Every write is whole-document and conditional on the
// version stamp, which is what makes concurrent link/unlink requests
// for the same uid safe without in-process locks.
type UserRepository struct {
	collection *mongo.Collection
}

// NewUserRepository creates a UserRepository and ensures its indexes.
func NewUserRepository(ctx context.Context, db *mongo.Database) (*UserRepository, error) {
	repo := &UserRepository{collection: db.Collection(UsersCollection)}
	if err := repo.createIndexes(ctx); err != nil {
		return nil, fmt.Errorf("failed to create %s indexes: %w", UsersCollection, err)
	}
	return repo, nil
}

func (r *UserRepository) createIndexes(ctx context.Context) error {
	indexModels := []mongo.IndexModel{
		{
			// One live account per email. Soft-deleted accounts release
			// the address.
			Keys: bson.D{{Key: "email", Value: 1}},
			Options: options.Index().
				SetUnique(true).
				SetPartialFilterExpression(bson.M{
					"is_deleted": false,
					"email":      bson.M{"$type": "string", "$gt": ""},
				}),
		},
		{
			// Binding lookups for the unique-external-binding check.
			Keys: bson.D{
				{Key: "linked_providers.provider", Value: 1},
				{Key: "linked_providers.provider_uid", Value: 1},
			},
		},
	}
	_, err := r.collection.Indexes().CreateMany(ctx, indexModels)
	return err
}

func (r *UserRepository) GetByUID(ctx context.Context, uid string) (*domain.User, error) {
	return r.findOne(ctx, bson.M{"_id": uid, "is_deleted": false})
}

func (r *UserRepository) GetByEmail(ctx context.Context, email string) (*domain.User, error) {
	return r.findOne(ctx, bson.M{"email": email, "is_deleted": false})
}

func (r *UserRepository) FindByProviderBinding(ctx context.Context, provider domain.ProviderKind, providerUID string) (*domain.User, error) {
	return r.findOne(ctx, bson.M{
		"is_deleted": false,
		"linked_providers": bson.M{"$elemMatch": bson.M{
			"provider":     provider,
			"provider_uid": providerUID,
		}},
	})
}

func (r *UserRepository) findOne(ctx context.Context, filter bson.M) (*domain.User, error) {
	var user domain.User
	err := r.collection.FindOne(ctx, filter).Decode(&user)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, domain.ErrAccountNotFound
		}
		log.Error().Err(err).Interface("filter", filter).Msg("User lookup failed")
		return nil, fmt.Errorf("%w: %v", domain.ErrStoreUnavailable, err)
	}
	return &user, nil
}

// Create inserts a brand-new user document at version 1.
func (r *UserRepository) Create(ctx context.Context, user *domain.User) error {
	now := time.Now().UTC()
	if user.Metadata.CreatedAt.IsZero() {
		user.Metadata.CreatedAt = now
	}
	user.Metadata.UpdatedAt = now
	user.Version = 1

	_, err := r.collection.InsertOne(ctx, user)
	if err != nil {
		if mongo.IsDuplicateKeyError(err) {
			// Lost a creation race on uid or email.
			return fmt.Errorf("%w: account already exists", domain.ErrConflict)
		}
		log.Error().Err(err).Str("uid", user.UID).Msg("Error creating user")
		return fmt.Errorf("%w: %v", domain.ErrStoreUnavailable, err)
	}
	return nil
}

// Upsert replaces the stored document conditionally on user.Version
// matching what the caller last read. A stale write returns ErrConflict
// so the caller can re-read and re-apply its policy transition.
func (r *UserRepository) Upsert(ctx context.Context, user *domain.User) error {
	expected := user.Version
	next := user.Clone()
	next.Version = expected + 1
	next.Metadata.UpdatedAt = time.Now().UTC()

	result, err := r.collection.ReplaceOne(ctx,
		bson.M{"_id": user.UID, "version": expected},
		next,
	)
	if err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return fmt.Errorf("%w: email already in use", domain.ErrConflict)
		}
		log.Error().Err(err).Str("uid", user.UID).Msg("Error upserting user")
		return fmt.Errorf("%w: %v", domain.ErrStoreUnavailable, err)
	}
	if result.MatchedCount == 0 {
		return fmt.Errorf("%w: stale version %d for uid %s", domain.ErrConflict, expected, user.UID)
	}

	*user = *next
	return nil
}

var _ domain.UserRepository = (*UserRepository)(nil)
