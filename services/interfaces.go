package services

import (
	"context"
	"time"

	"github.com/pitlane-app/identity/domain"
)

// AssertionVerifier checks an inbound provider assertion and returns
// the verified, provider-tagged payload. Implementations live outside
// this core; internal/verify provides the default.
type AssertionVerifier interface {
	Verify(ctx context.Context, provider domain.ProviderKind, rawAssertion string) (*domain.VerifiedAssertion, error)
}

// SessionTokenMinter mints the opaque session token returned after a
// successful login. tokenID keys the server-side session record.
type SessionTokenMinter interface {
	Mint(uid, role string) (token string, tokenID string, expiresAt time.Time, err error)
}

// PasswordHasher hashes and verifies local credentials.
type PasswordHasher interface {
	Hash(password string) (string, error)
	Verify(hashedPassword, password string) error
}
