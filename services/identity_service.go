package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/pitlane-app/identity/cache"
	"github.com/pitlane-app/identity/domain"
	"github.com/pitlane-app/identity/dto"
	"github.com/pitlane-app/identity/internal/audit"
	"github.com/pitlane-app/identity/internal/linking"
	"github.com/pitlane-app/identity/internal/metrics"
	"github.com/pitlane-app/identity/internal/normalize"
	"github.com/pitlane-app/identity/log"
)

// persistAttempts bounds the optimistic-concurrency retry loop. Policy
// transitions are pure, so re-applying them against a fresh read is
// always safe.
const persistAttempts = 3

const defaultAuditTimeout = 5 * time.Second

// LinkOptions carries caller flags for LinkProvider.
type LinkOptions struct {
	// AllowMerge requests merge semantics when the external identity is
	// bound elsewhere. Merging is unimplemented and always refused with
	// ErrMergeNotSupported; the flag exists so the refusal is explicit
	// rather than a silent downgrade to a plain conflict.
	AllowMerge bool
}

// IdentityService orchestrates multi-provider identity linking: it
// verifies assertions, normalizes payloads, applies the pure linking
// policy, and persists whole-document updates under optimistic
// concurrency.
type IdentityService struct {
	users    domain.UserRepository
	verifier AssertionVerifier
	minter   SessionTokenMinter
	sessions cache.SessionStore
	hasher   PasswordHasher
	auditLog audit.Sink
	logger   log.Logger

	auditTimeout time.Duration
}

// NewIdentityService wires an IdentityService. All collaborators are
// required; there is no global fallback.
func NewIdentityService(
	users domain.UserRepository,
	verifier AssertionVerifier,
	minter SessionTokenMinter,
	sessions cache.SessionStore,
	hasher PasswordHasher,
	auditLog audit.Sink,
	logger log.Logger,
) *IdentityService {
	return &IdentityService{
		users:        users,
		verifier:     verifier,
		minter:       minter,
		sessions:     sessions,
		hasher:       hasher,
		auditLog:     auditLog,
		logger:       logger,
		auditTimeout: defaultAuditTimeout,
	}
}

// LoginOrCreate authenticates a verified provider assertion, lazily
// creating the canonical account on the first-ever successful assertion
// from any provider.
func (s *IdentityService) LoginOrCreate(ctx context.Context, provider domain.ProviderKind, rawAssertion, origin string) (*dto.AuthResult, error) {
	if !provider.External() {
		return nil, fmt.Errorf("%w: provider %q cannot carry an assertion", domain.ErrInvalidPayload, provider)
	}

	assertion, err := s.verifier.Verify(ctx, provider, rawAssertion)
	if err != nil {
		metrics.Inc(metrics.LoginFailureTotal)
		return nil, err
	}
	ident, err := normalize.Normalize(provider, assertion.RawPayload)
	if err != nil {
		metrics.Inc(metrics.LoginFailureTotal)
		return nil, err
	}

	owner, err := s.users.FindByProviderBinding(ctx, provider, ident.ProviderUID)
	switch {
	case err == nil:
		return s.loginExisting(ctx, owner.UID, provider, ident, origin)
	case errors.Is(err, domain.ErrAccountNotFound):
		return s.createAndLogin(ctx, provider, ident, origin)
	default:
		metrics.Inc(metrics.LoginFailureTotal)
		return nil, err
	}
}

// loginExisting applies TouchLastUsed plus login metadata to an
// existing account and mints a session.
func (s *IdentityService) loginExisting(ctx context.Context, uid string, provider domain.ProviderKind, ident *domain.NormalizedIdentity, origin string) (*dto.AuthResult, error) {
	now := time.Now().UTC()
	user, err := s.persist(ctx, uid, func(current *domain.User) (*domain.User, error) {
		if current.Status != domain.UserStatusActive {
			return nil, fmt.Errorf("%w: status %s", domain.ErrAccountNotActive, current.Status)
		}
		next, err := linking.TouchLastUsed(current, provider, ident, now)
		if err != nil {
			return nil, err
		}
		touchLoginMetadata(next, origin, now)
		return next, nil
	})
	if err != nil {
		metrics.Inc(metrics.LoginFailureTotal)
		s.appendAudit(ctx, "login", uid, uid, provider, nil, nil, origin, err)
		return nil, err
	}

	result, err := s.mintSession(ctx, user, provider, origin, false)
	if err != nil {
		return nil, err
	}
	metrics.Inc(metrics.LoginSuccessTotal)
	s.appendAudit(ctx, "login", uid, uid, provider, user.Providers, user.Providers, origin, nil)
	return result, nil
}

// createAndLogin lazily creates a canonical account seeded from the
// normalized identity. A lost creation race degrades to a plain login
// against whichever account won the binding.
func (s *IdentityService) createAndLogin(ctx context.Context, provider domain.ProviderKind, ident *domain.NormalizedIdentity, origin string) (*dto.AuthResult, error) {
	now := time.Now().UTC()
	user := newUserFromIdentity(ident, now)
	touchLoginMetadata(user, origin, now)

	if err := s.users.Create(ctx, user); err != nil {
		if errors.Is(err, domain.ErrConflict) {
			if owner, findErr := s.users.FindByProviderBinding(ctx, provider, ident.ProviderUID); findErr == nil {
				return s.loginExisting(ctx, owner.UID, provider, ident, origin)
			}
		}
		metrics.Inc(metrics.LoginFailureTotal)
		return nil, err
	}

	result, err := s.mintSession(ctx, user, provider, origin, true)
	if err != nil {
		return nil, err
	}
	metrics.Inc(metrics.UserCreatedTotal)
	metrics.Inc(metrics.LoginSuccessTotal)
	s.logger.Info(ctx, "Canonical account created via provider assertion", map[string]any{
		"uid":      user.UID,
		"provider": provider.String(),
	})
	s.appendAudit(ctx, "create", user.UID, user.UID, provider, nil, user.Providers, origin, nil)
	return result, nil
}

// RegisterPassword explicitly creates an account with a local
// credential.
func (s *IdentityService) RegisterPassword(ctx context.Context, email, password, displayName, origin string) (*dto.AuthResult, error) {
	if email == "" || password == "" {
		return nil, fmt.Errorf("%w: email and password are required", domain.ErrInvalidPayload)
	}

	if _, err := s.users.GetByEmail(ctx, email); err == nil {
		return nil, fmt.Errorf("%w: %s", domain.ErrEmailInUse, email)
	} else if !errors.Is(err, domain.ErrAccountNotFound) {
		return nil, err
	}

	hash, err := s.hasher.Hash(password)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrInvalidPayload, err)
	}

	now := time.Now().UTC()
	user := &domain.User{
		UID:             uuid.NewString(),
		Email:           email,
		DisplayName:     displayName,
		Role:            domain.RoleUser,
		Status:          domain.UserStatusActive,
		PasswordHash:    hash,
		Providers:       []domain.ProviderKind{domain.ProviderPassword},
		PrimaryProvider: domain.ProviderPassword,
		Metadata:        domain.Metadata{CreatedAt: now, UpdatedAt: now},
	}
	touchLoginMetadata(user, origin, now)

	if err := s.users.Create(ctx, user); err != nil {
		if errors.Is(err, domain.ErrConflict) {
			return nil, fmt.Errorf("%w: %s", domain.ErrEmailInUse, email)
		}
		return nil, err
	}

	result, err := s.mintSession(ctx, user, domain.ProviderPassword, origin, true)
	if err != nil {
		return nil, err
	}
	metrics.Inc(metrics.UserCreatedTotal)
	s.appendAudit(ctx, "register", user.UID, user.UID, domain.ProviderPassword, nil, user.Providers, origin, nil)
	return result, nil
}

// LoginPassword authenticates a local credential.
func (s *IdentityService) LoginPassword(ctx context.Context, email, password, origin string) (*dto.AuthResult, error) {
	user, err := s.users.GetByEmail(ctx, email)
	if err != nil {
		metrics.Inc(metrics.LoginFailureTotal)
		return nil, err
	}
	if !user.HasPassword() {
		metrics.Inc(metrics.LoginFailureTotal)
		return nil, fmt.Errorf("%w: no password credential", domain.ErrNotLinked)
	}
	if err := s.hasher.Verify(user.PasswordHash, password); err != nil {
		metrics.Inc(metrics.LoginFailureTotal)
		s.appendAudit(ctx, "login", user.UID, user.UID, domain.ProviderPassword, nil, nil, origin, domain.ErrVerificationFailed)
		return nil, fmt.Errorf("%w: invalid credentials", domain.ErrVerificationFailed)
	}

	now := time.Now().UTC()
	updated, err := s.persist(ctx, user.UID, func(current *domain.User) (*domain.User, error) {
		if current.Status != domain.UserStatusActive {
			return nil, fmt.Errorf("%w: status %s", domain.ErrAccountNotActive, current.Status)
		}
		next, err := linking.TouchLastUsed(current, domain.ProviderPassword, nil, now)
		if err != nil {
			return nil, err
		}
		touchLoginMetadata(next, origin, now)
		return next, nil
	})
	if err != nil {
		metrics.Inc(metrics.LoginFailureTotal)
		return nil, err
	}

	result, err := s.mintSession(ctx, updated, domain.ProviderPassword, origin, false)
	if err != nil {
		return nil, err
	}
	metrics.Inc(metrics.LoginSuccessTotal)
	s.appendAudit(ctx, "login", user.UID, user.UID, domain.ProviderPassword, updated.Providers, updated.Providers, origin, nil)
	return result, nil
}

// LinkProvider binds a verified external identity to an existing
// account. The cross-account conflict lookup runs inside the persist
// loop so a retry observes bindings created while we were racing.
func (s *IdentityService) LinkProvider(ctx context.Context, uid string, provider domain.ProviderKind, rawAssertion string, opts LinkOptions) (*dto.PublicUser, error) {
	if !provider.External() {
		return nil, fmt.Errorf("%w: provider %q cannot be linked from an assertion", domain.ErrInvalidPayload, provider)
	}

	assertion, err := s.verifier.Verify(ctx, provider, rawAssertion)
	if err != nil {
		return nil, err
	}
	ident, err := normalize.Normalize(provider, assertion.RawPayload)
	if err != nil {
		return nil, err
	}

	var before []domain.ProviderKind
	now := time.Now().UTC()
	user, err := s.persist(ctx, uid, func(current *domain.User) (*domain.User, error) {
		before = append([]domain.ProviderKind(nil), current.Providers...)
		boundElsewhere, lookupErr := s.users.FindByProviderBinding(ctx, provider, ident.ProviderUID)
		if lookupErr != nil && !errors.Is(lookupErr, domain.ErrAccountNotFound) {
			return nil, lookupErr
		}
		return linking.Link(current, ident, boundElsewhere, opts.AllowMerge, now)
	})
	if err != nil {
		if errors.Is(err, domain.ErrAlreadyLinkedElsewhere) || errors.Is(err, domain.ErrAlreadyLinked) {
			metrics.Inc(metrics.LinkConflictTotal)
		}
		s.appendAudit(ctx, "link", uid, uid, provider, before, nil, "", err)
		return nil, err
	}

	metrics.Inc(metrics.LinkSuccessTotal)
	s.appendAudit(ctx, "link", uid, uid, provider, before, user.Providers, "", nil)
	public := dto.NewPublicUser(user)
	return &public, nil
}

// UnlinkProvider removes a provider binding, refusing to strand the
// account without a sign-in method.
func (s *IdentityService) UnlinkProvider(ctx context.Context, uid string, provider domain.ProviderKind) (*dto.PublicUser, error) {
	var before []domain.ProviderKind
	now := time.Now().UTC()
	user, err := s.persist(ctx, uid, func(current *domain.User) (*domain.User, error) {
		before = append([]domain.ProviderKind(nil), current.Providers...)
		return linking.Unlink(current, provider, now)
	})
	if err != nil {
		s.appendAudit(ctx, "unlink", uid, uid, provider, before, nil, "", err)
		return nil, err
	}

	metrics.Inc(metrics.UnlinkTotal)
	s.appendAudit(ctx, "unlink", uid, uid, provider, before, user.Providers, "", nil)
	public := dto.NewPublicUser(user)
	return &public, nil
}

// SetPrimaryProvider designates the provider used for default display
// and sync behavior.
func (s *IdentityService) SetPrimaryProvider(ctx context.Context, uid string, provider domain.ProviderKind) (*dto.PublicUser, error) {
	var before []domain.ProviderKind
	now := time.Now().UTC()
	user, err := s.persist(ctx, uid, func(current *domain.User) (*domain.User, error) {
		before = append([]domain.ProviderKind(nil), current.Providers...)
		return linking.SetPrimary(current, provider, now)
	})
	if err != nil {
		s.appendAudit(ctx, "set_primary", uid, uid, provider, before, nil, "", err)
		return nil, err
	}

	s.appendAudit(ctx, "set_primary", uid, uid, provider, before, user.Providers, "", nil)
	public := dto.NewPublicUser(user)
	return &public, nil
}

// Logout revokes the session record for tokenID. The JWT itself stays
// valid until expiry; revocation-aware middleware checks the record.
func (s *IdentityService) Logout(ctx context.Context, tokenID string) error {
	session, err := s.sessions.Get(ctx, tokenID)
	if err != nil {
		if errors.Is(err, cache.ErrSessionNotFound) {
			return nil
		}
		return fmt.Errorf("%w: session lookup failed", domain.ErrStoreUnavailable)
	}
	if err := s.sessions.Delete(ctx, tokenID); err != nil {
		return fmt.Errorf("%w: session delete failed", domain.ErrStoreUnavailable)
	}
	s.appendAudit(ctx, "logout", session.UID, session.UID, domain.ProviderKind(session.Provider), nil, nil, session.Origin, nil)
	return nil
}

// GetLinkedProviders returns the linking state for settings screens.
func (s *IdentityService) GetLinkedProviders(ctx context.Context, uid string) (*dto.LinkedProvidersView, error) {
	user, err := s.users.GetByUID(ctx, uid)
	if err != nil {
		return nil, err
	}
	view := dto.NewLinkedProvidersView(user)
	return &view, nil
}

// persist runs the read → mutate → conditional-write cycle, re-reading
// and re-applying mutate on a version conflict up to persistAttempts
// times before surfacing ErrConflict.
func (s *IdentityService) persist(ctx context.Context, uid string, mutate func(*domain.User) (*domain.User, error)) (*domain.User, error) {
	for attempt := 0; attempt < persistAttempts; attempt++ {
		current, err := s.users.GetByUID(ctx, uid)
		if err != nil {
			return nil, err
		}
		next, err := mutate(current)
		if err != nil {
			return nil, err
		}
		if err := s.users.Upsert(ctx, next); err != nil {
			if errors.Is(err, domain.ErrConflict) {
				metrics.Inc(metrics.PersistRetryTotal)
				continue
			}
			return nil, err
		}
		return next, nil
	}
	s.logger.Warn(ctx, "Persist retries exhausted", map[string]any{"uid": uid})
	return nil, fmt.Errorf("%w: retries exhausted for uid %s", domain.ErrConflict, uid)
}

// mintSession issues the session token and stores the server-side
// session record.
func (s *IdentityService) mintSession(ctx context.Context, user *domain.User, provider domain.ProviderKind, origin string, isNew bool) (*dto.AuthResult, error) {
	token, tokenID, expiresAt, err := s.minter.Mint(user.UID, string(user.Role))
	if err != nil {
		s.logger.Error(ctx, "Session token minting failed", err, map[string]any{"uid": user.UID})
		return nil, fmt.Errorf("%w: token minting failed", domain.ErrStoreUnavailable)
	}

	session := &cache.Session{
		TokenID:   tokenID,
		UID:       user.UID,
		Role:      string(user.Role),
		Provider:  provider.String(),
		Origin:    origin,
		CreatedAt: time.Now().UTC(),
		ExpiresAt: expiresAt,
	}
	if err := s.sessions.Set(ctx, session); err != nil {
		// The JWT is self-contained; a session store write failure only
		// loses early revocation for this login.
		s.logger.Warn(ctx, "Failed to store session record", map[string]any{
			"uid":   user.UID,
			"error": err.Error(),
		})
	}

	return &dto.AuthResult{
		User:      dto.NewPublicUser(user),
		Token:     token,
		ExpiresAt: expiresAt,
		IsNewUser: isNew,
	}, nil
}

// appendAudit writes the activity-log entry asynchronously. Failures
// are reported to observability and never roll back the mutation.
func (s *IdentityService) appendAudit(ctx context.Context, action, actor, uid string, provider domain.ProviderKind, before, after []domain.ProviderKind, origin string, opErr error) {
	entry := audit.Entry{
		Timestamp: time.Now().UTC(),
		Actor:     actor,
		Action:    action,
		UID:       uid,
		Provider:  provider,
		Before:    before,
		After:     after,
		Origin:    origin,
		Success:   opErr == nil,
	}
	if opErr != nil {
		entry.Error = opErr.Error()
	}

	go func() {
		auditCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.auditTimeout)
		defer cancel()
		if err := s.auditLog.Append(auditCtx, entry); err != nil {
			metrics.Inc(metrics.AuditAppendFailures)
			s.logger.Warn(auditCtx, "Audit append failed", map[string]any{
				"action": action,
				"uid":    uid,
				"error":  err.Error(),
			})
		}
	}()
}

// newUserFromIdentity seeds a canonical account from the first verified
// assertion.
func newUserFromIdentity(ident *domain.NormalizedIdentity, now time.Time) *domain.User {
	return &domain.User{
		UID:             uuid.NewString(),
		Email:           ident.Email,
		EmailVerified:   ident.EmailVerified && ident.Email != "",
		DisplayName:     ident.DisplayName,
		PhotoURL:        ident.PhotoURL,
		Role:            domain.RoleUser,
		Status:          domain.UserStatusActive,
		Providers:       []domain.ProviderKind{ident.Provider},
		PrimaryProvider: ident.Provider,
		LinkedProviders: []domain.LinkedIdentity{{
			Provider:    ident.Provider,
			ProviderUID: ident.ProviderUID,
			Email:       ident.Email,
			DisplayName: ident.DisplayName,
			PhotoURL:    ident.PhotoURL,
			LinkedAt:    now,
			LastUsed:    now,
			IsVerified:  ident.EmailVerified,
			IsPrimary:   true,
		}},
		ProviderProfiles: map[string]map[string]any{
			ident.Provider.String(): ident.Profile,
		},
		Metadata: domain.Metadata{CreatedAt: now, UpdatedAt: now},
	}
}

func touchLoginMetadata(user *domain.User, origin string, now time.Time) {
	user.Metadata.LastLoginAt = &now
	user.Metadata.LoginCount++
	if origin != "" {
		user.Metadata.LastOrigin = origin
	}
}
