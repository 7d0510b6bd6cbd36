package domain

import "context"

// UserRepository is the keyed record store holding canonical accounts.
// Soft-deleted users are invisible to every lookup.
type UserRepository interface {
	// GetByUID retrieves a user by its stable identifier.
	// Returns ErrAccountNotFound when absent or soft-deleted.
	GetByUID(ctx context.Context, uid string) (*User, error)

	// GetByEmail retrieves a non-deleted user by email. Used for
	// registration conflict checks.
	GetByEmail(ctx context.Context, email string) (*User, error)

	// FindByProviderBinding locates the user holding a LinkedIdentity
	// with the given (provider, providerUID) pair. Enforces the unique
	// external binding invariant. Returns ErrAccountNotFound when no
	// user holds the binding.
	FindByProviderBinding(ctx context.Context, provider ProviderKind, providerUID string) (*User, error)

	// Create inserts a brand-new user at version 1.
	Create(ctx context.Context, user *User) error

	// Upsert writes user conditionally on user.Version matching the
	// stored version, then increments it. A stale write returns
	// ErrConflict; it never silently overwrites.
	Upsert(ctx context.Context, user *User) error
}
