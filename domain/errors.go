package domain

import "errors"

// Error taxonomy surfaced to callers. Policy transitions and the
// orchestration layer only ever return values wrapping one of these, so
// callers can branch with errors.Is.
var (
	// ErrInvalidPayload means a provider payload was missing required
	// fields or malformed.
	ErrInvalidPayload = errors.New("invalid provider payload")

	// ErrAlreadyLinked means this account already has a binding for the
	// provider kind.
	ErrAlreadyLinked = errors.New("provider already linked to this account")

	// ErrAlreadyLinkedElsewhere means the external identity is bound to
	// a different account.
	ErrAlreadyLinkedElsewhere = errors.New("external identity already linked to another account")

	// ErrLastAuthMethod guards the never-zero-auth-methods invariant.
	ErrLastAuthMethod = errors.New("cannot remove the last sign-in method")

	// ErrNotLinked means the provider is not currently linked.
	ErrNotLinked = errors.New("provider not linked to this account")

	// ErrAccountNotActive blocks login for suspended/inactive/pending
	// accounts.
	ErrAccountNotActive = errors.New("account is not active")

	ErrAccountNotFound = errors.New("account not found")

	// ErrEmailInUse rejects a password registration against an address
	// that already belongs to a live account.
	ErrEmailInUse = errors.New("email already in use")

	// ErrMergeNotSupported is the deliberately unimplemented
	// cross-account merge path. It must never be silently approximated.
	ErrMergeNotSupported = errors.New("account merging is not supported")

	// ErrConflict is a concurrent-write conflict that survived the
	// bounded persist retries. Safe for the caller to retry.
	ErrConflict = errors.New("concurrent modification conflict")

	// ErrStoreUnavailable covers store timeouts and transport failures.
	// Safe to retry; no partial mutation occurred.
	ErrStoreUnavailable = errors.New("identity store unavailable")

	// ErrVerificationFailed means the inbound assertion was rejected or
	// could not be checked upstream.
	ErrVerificationFailed = errors.New("assertion verification failed")
)
