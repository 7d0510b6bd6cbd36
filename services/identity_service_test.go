package services

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/pitlane-app/identity/cache"
	"github.com/pitlane-app/identity/domain"
	"github.com/pitlane-app/identity/internal/audit"
	"github.com/pitlane-app/identity/log"
)

// --- Mock Implementations ---

type MockAssertionVerifier struct {
	mock.Mock
}

func (m *MockAssertionVerifier) Verify(ctx context.Context, provider domain.ProviderKind, rawAssertion string) (*domain.VerifiedAssertion, error) {
	args := m.Called(ctx, provider, rawAssertion)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.VerifiedAssertion), args.Error(1)
}

type MockPasswordHasher struct {
	mock.Mock
}

func (m *MockPasswordHasher) Hash(password string) (string, error) {
	args := m.Called(password)
	return args.String(0), args.Error(1)
}

func (m *MockPasswordHasher) Verify(hashedPassword, password string) error {
	args := m.Called(hashedPassword, password)
	return args.Error(0)
}

type stubMinter struct{}

func (stubMinter) Mint(uid, role string) (string, string, time.Time, error) {
	return "token-" + uid, "jti-" + uid, time.Now().Add(time.Hour).UTC(), nil
}

// fakeUserRepo is an in-memory UserRepository with version semantics
// matching the Mongo implementation, plus injectable upsert conflicts
// for exercising the retry loop.
type fakeUserRepo struct {
	mu            sync.Mutex
	users         map[string]*domain.User
	conflictsLeft int
	upsertCalls   int
}

func newFakeUserRepo(seed ...*domain.User) *fakeUserRepo {
	r := &fakeUserRepo{users: make(map[string]*domain.User)}
	for _, u := range seed {
		if u.Version == 0 {
			u.Version = 1
		}
		r.users[u.UID] = u.Clone()
	}
	return r
}

func (r *fakeUserRepo) GetByUID(_ context.Context, uid string) (*domain.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	u, ok := r.users[uid]
	if !ok {
		return nil, fmt.Errorf("%w: %s", domain.ErrAccountNotFound, uid)
	}
	return u.Clone(), nil
}

func (r *fakeUserRepo) GetByEmail(_ context.Context, email string) (*domain.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, u := range r.users {
		if u.Email == email {
			return u.Clone(), nil
		}
	}
	return nil, fmt.Errorf("%w: %s", domain.ErrAccountNotFound, email)
}

func (r *fakeUserRepo) FindByProviderBinding(_ context.Context, provider domain.ProviderKind, providerUID string) (*domain.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, u := range r.users {
		for _, li := range u.LinkedProviders {
			if li.Provider == provider && li.ProviderUID == providerUID {
				return u.Clone(), nil
			}
		}
	}
	return nil, fmt.Errorf("%w: %s/%s", domain.ErrAccountNotFound, provider, providerUID)
}

func (r *fakeUserRepo) Create(_ context.Context, user *domain.User) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.users[user.UID]; exists {
		return fmt.Errorf("%w: uid exists", domain.ErrConflict)
	}
	for _, u := range r.users {
		if u.Email != "" && u.Email == user.Email {
			return fmt.Errorf("%w: email exists", domain.ErrConflict)
		}
	}
	user.Version = 1
	r.users[user.UID] = user.Clone()
	return nil
}

func (r *fakeUserRepo) Upsert(_ context.Context, user *domain.User) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.upsertCalls++
	if r.conflictsLeft > 0 {
		r.conflictsLeft--
		return fmt.Errorf("%w: injected", domain.ErrConflict)
	}
	stored, ok := r.users[user.UID]
	if !ok || stored.Version != user.Version {
		return fmt.Errorf("%w: stale version", domain.ErrConflict)
	}
	user.Version++
	r.users[user.UID] = user.Clone()
	return nil
}

// recordingSink captures audit entries for later inspection.
type recordingSink struct {
	mu      sync.Mutex
	entries []audit.Entry
	fail    bool
}

func (s *recordingSink) Append(_ context.Context, entry audit.Entry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.fail {
		return fmt.Errorf("sink down")
	}
	s.entries = append(s.entries, entry)
	return nil
}

func (s *recordingSink) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}

type noopLogger struct{}

func (noopLogger) Debug(context.Context, string, ...map[string]any)        {}
func (noopLogger) Info(context.Context, string, ...map[string]any)         {}
func (noopLogger) Warn(context.Context, string, ...map[string]any)         {}
func (noopLogger) Error(context.Context, string, error, ...map[string]any) {}
func (noopLogger) Fatal(context.Context, string, error, ...map[string]any) {}
func (noopLogger) With(map[string]any) log.Logger                          { return noopLogger{} }

// --- Fixtures ---

func activeUser(uid, email string) *domain.User {
	now := time.Now().Add(-time.Hour).UTC()
	return &domain.User{
		UID:             uid,
		Email:           email,
		Role:            domain.RoleUser,
		Status:          domain.UserStatusActive,
		PasswordHash:    "$2a$10$hash",
		Providers:       []domain.ProviderKind{domain.ProviderPassword},
		PrimaryProvider: domain.ProviderPassword,
		Metadata:        domain.Metadata{CreatedAt: now, UpdatedAt: now},
		Version:         1,
	}
}

func withGoogleBinding(u *domain.User, sub string) *domain.User {
	u.Providers = append(u.Providers, domain.ProviderGoogle)
	u.LinkedProviders = append(u.LinkedProviders, domain.LinkedIdentity{
		Provider:    domain.ProviderGoogle,
		ProviderUID: sub,
		Email:       u.Email,
		LinkedAt:    u.Metadata.CreatedAt,
		LastUsed:    u.Metadata.CreatedAt,
		IsVerified:  true,
	})
	return u
}

func googleAssertion(sub, email string) *domain.VerifiedAssertion {
	return &domain.VerifiedAssertion{
		Provider: domain.ProviderGoogle,
		RawPayload: map[string]any{
			"sub":            sub,
			"email":          email,
			"email_verified": true,
			"name":           "Ada Lovelace",
		},
	}
}

func newTestService(repo *fakeUserRepo, verifier *MockAssertionVerifier, hasher *MockPasswordHasher, sink *recordingSink) *IdentityService {
	if sink == nil {
		sink = &recordingSink{}
	}
	return NewIdentityService(repo, verifier, stubMinter{}, cache.NewMemorySessionStore(), hasher, sink, noopLogger{})
}

// --- Tests ---

func TestLoginOrCreateCreatesAccountOnFirstAssertion(t *testing.T) {
	repo := newFakeUserRepo()
	verifier := new(MockAssertionVerifier)
	verifier.On("Verify", mock.Anything, domain.ProviderGoogle, "tok").
		Return(googleAssertion("g-1", "ada@example.com"), nil)

	svc := newTestService(repo, verifier, nil, nil)
	result, err := svc.LoginOrCreate(context.Background(), domain.ProviderGoogle, "tok", "app.example.com")
	require.NoError(t, err)

	assert.True(t, result.IsNewUser)
	assert.NotEmpty(t, result.Token)
	assert.Equal(t, []domain.ProviderKind{domain.ProviderGoogle}, result.User.Providers)
	assert.Equal(t, domain.ProviderGoogle, result.User.PrimaryProvider)
	assert.Equal(t, "ada@example.com", result.User.Email)

	stored, err := repo.GetByUID(context.Background(), result.User.UID)
	require.NoError(t, err)
	assert.Equal(t, int64(1), stored.Metadata.LoginCount)
	assert.Equal(t, "app.example.com", stored.Metadata.LastOrigin)
	verifier.AssertExpectations(t)
}

func TestLoginOrCreateReusesExistingBinding(t *testing.T) {
	user := withGoogleBinding(activeUser("u1", "ada@example.com"), "g-1")
	repo := newFakeUserRepo(user)
	verifier := new(MockAssertionVerifier)
	verifier.On("Verify", mock.Anything, domain.ProviderGoogle, "tok").
		Return(googleAssertion("g-1", "ada@example.com"), nil)

	svc := newTestService(repo, verifier, nil, nil)
	result, err := svc.LoginOrCreate(context.Background(), domain.ProviderGoogle, "tok", "app.example.com")
	require.NoError(t, err)

	assert.False(t, result.IsNewUser)
	assert.Equal(t, "u1", result.User.UID)

	stored, err := repo.GetByUID(context.Background(), "u1")
	require.NoError(t, err)
	assert.Equal(t, int64(1), stored.Metadata.LoginCount)
	li := stored.LinkedIdentityFor(domain.ProviderGoogle)
	require.NotNil(t, li)
	assert.True(t, li.LastUsed.After(user.Metadata.CreatedAt))
}

func TestLoginOrCreateRejectsInactiveAccount(t *testing.T) {
	user := withGoogleBinding(activeUser("u1", "ada@example.com"), "g-1")
	user.Status = domain.UserStatusSuspended
	repo := newFakeUserRepo(user)
	verifier := new(MockAssertionVerifier)
	verifier.On("Verify", mock.Anything, domain.ProviderGoogle, "tok").
		Return(googleAssertion("g-1", "ada@example.com"), nil)

	svc := newTestService(repo, verifier, nil, nil)
	_, err := svc.LoginOrCreate(context.Background(), domain.ProviderGoogle, "tok", "")
	assert.ErrorIs(t, err, domain.ErrAccountNotActive)
}

func TestLoginOrCreateRejectsPasswordProvider(t *testing.T) {
	svc := newTestService(newFakeUserRepo(), new(MockAssertionVerifier), nil, nil)
	_, err := svc.LoginOrCreate(context.Background(), domain.ProviderPassword, "tok", "")
	assert.ErrorIs(t, err, domain.ErrInvalidPayload)
}

func TestLoginOrCreatePropagatesVerificationFailure(t *testing.T) {
	verifier := new(MockAssertionVerifier)
	verifier.On("Verify", mock.Anything, domain.ProviderGoogle, "bad").
		Return(nil, fmt.Errorf("%w: upstream says no", domain.ErrVerificationFailed))

	svc := newTestService(newFakeUserRepo(), verifier, nil, nil)
	_, err := svc.LoginOrCreate(context.Background(), domain.ProviderGoogle, "bad", "")
	assert.ErrorIs(t, err, domain.ErrVerificationFailed)
}

func TestLinkProviderAddsBinding(t *testing.T) {
	repo := newFakeUserRepo(activeUser("u1", "ada@example.com"))
	verifier := new(MockAssertionVerifier)
	verifier.On("Verify", mock.Anything, domain.ProviderGoogle, "tok").
		Return(googleAssertion("g-1", "ada@example.com"), nil)

	svc := newTestService(repo, verifier, nil, nil)
	user, err := svc.LinkProvider(context.Background(), "u1", domain.ProviderGoogle, "tok", LinkOptions{})
	require.NoError(t, err)

	assert.Equal(t, []domain.ProviderKind{domain.ProviderPassword, domain.ProviderGoogle}, user.Providers)
	assert.Equal(t, domain.ProviderPassword, user.PrimaryProvider)
}

func TestLinkProviderRejectsBindingOwnedElsewhere(t *testing.T) {
	owner := withGoogleBinding(activeUser("u-owner", "owner@example.com"), "g-1")
	repo := newFakeUserRepo(owner, activeUser("u1", "ada@example.com"))
	verifier := new(MockAssertionVerifier)
	verifier.On("Verify", mock.Anything, domain.ProviderGoogle, "tok").
		Return(googleAssertion("g-1", "owner@example.com"), nil)

	svc := newTestService(repo, verifier, nil, nil)
	_, err := svc.LinkProvider(context.Background(), "u1", domain.ProviderGoogle, "tok", LinkOptions{})
	assert.ErrorIs(t, err, domain.ErrAlreadyLinkedElsewhere)
}

func TestLinkProviderMergeRequestIsRefused(t *testing.T) {
	owner := withGoogleBinding(activeUser("u-owner", "owner@example.com"), "g-1")
	repo := newFakeUserRepo(owner, activeUser("u1", "ada@example.com"))
	verifier := new(MockAssertionVerifier)
	verifier.On("Verify", mock.Anything, domain.ProviderGoogle, "tok").
		Return(googleAssertion("g-1", "owner@example.com"), nil)

	svc := newTestService(repo, verifier, nil, nil)
	_, err := svc.LinkProvider(context.Background(), "u1", domain.ProviderGoogle, "tok", LinkOptions{AllowMerge: true})
	assert.ErrorIs(t, err, domain.ErrMergeNotSupported)
}

func TestLinkProviderRetriesOnVersionConflict(t *testing.T) {
	repo := newFakeUserRepo(activeUser("u1", "ada@example.com"))
	repo.conflictsLeft = 1
	verifier := new(MockAssertionVerifier)
	verifier.On("Verify", mock.Anything, domain.ProviderGoogle, "tok").
		Return(googleAssertion("g-1", "ada@example.com"), nil)

	svc := newTestService(repo, verifier, nil, nil)
	user, err := svc.LinkProvider(context.Background(), "u1", domain.ProviderGoogle, "tok", LinkOptions{})
	require.NoError(t, err)

	assert.Equal(t, 2, repo.upsertCalls, "one conflict, one success")
	assert.Contains(t, user.Providers, domain.ProviderGoogle)
}

func TestConcurrentLinksForSameAccountBothSurvive(t *testing.T) {
	// Two devices link different providers to the same account at the
	// same time. One write loses the version race, re-reads, and
	// re-applies its transition; neither binding may be lost.
	repo := newFakeUserRepo(activeUser("u1", "ada@example.com"))
	verifier := new(MockAssertionVerifier)
	verifier.On("Verify", mock.Anything, domain.ProviderGoogle, "g-tok").
		Return(googleAssertion("g-1", "ada@example.com"), nil)
	verifier.On("Verify", mock.Anything, domain.ProviderGitHub, "gh-tok").
		Return(&domain.VerifiedAssertion{
			Provider: domain.ProviderGitHub,
			RawPayload: map[string]any{
				"id":    float64(583231),
				"login": "ada",
			},
		}, nil)

	svc := newTestService(repo, verifier, nil, nil)

	var wg sync.WaitGroup
	var googleErr, githubErr error
	wg.Add(2)
	go func() {
		defer wg.Done()
		_, googleErr = svc.LinkProvider(context.Background(), "u1", domain.ProviderGoogle, "g-tok", LinkOptions{})
	}()
	go func() {
		defer wg.Done()
		_, githubErr = svc.LinkProvider(context.Background(), "u1", domain.ProviderGitHub, "gh-tok", LinkOptions{})
	}()
	wg.Wait()

	require.NoError(t, googleErr)
	require.NoError(t, githubErr)

	stored, err := repo.GetByUID(context.Background(), "u1")
	require.NoError(t, err)
	assert.Contains(t, stored.Providers, domain.ProviderGoogle)
	assert.Contains(t, stored.Providers, domain.ProviderGitHub)
	require.NotNil(t, stored.LinkedIdentityFor(domain.ProviderGoogle))
	require.NotNil(t, stored.LinkedIdentityFor(domain.ProviderGitHub))
	assert.Equal(t, int64(3), stored.Version, "two successful conditional writes")
}

func TestLinkProviderGivesUpAfterBoundedRetries(t *testing.T) {
	repo := newFakeUserRepo(activeUser("u1", "ada@example.com"))
	repo.conflictsLeft = persistAttempts
	verifier := new(MockAssertionVerifier)
	verifier.On("Verify", mock.Anything, domain.ProviderGoogle, "tok").
		Return(googleAssertion("g-1", "ada@example.com"), nil)

	svc := newTestService(repo, verifier, nil, nil)
	_, err := svc.LinkProvider(context.Background(), "u1", domain.ProviderGoogle, "tok", LinkOptions{})
	assert.ErrorIs(t, err, domain.ErrConflict)
	assert.Equal(t, persistAttempts, repo.upsertCalls)
}

func TestUnlinkProviderRefusesLastMethod(t *testing.T) {
	repo := newFakeUserRepo(activeUser("u1", "ada@example.com"))
	svc := newTestService(repo, new(MockAssertionVerifier), nil, nil)

	_, err := svc.UnlinkProvider(context.Background(), "u1", domain.ProviderPassword)
	assert.ErrorIs(t, err, domain.ErrLastAuthMethod)
}

func TestUnlinkProviderRemovesBinding(t *testing.T) {
	user := withGoogleBinding(activeUser("u1", "ada@example.com"), "g-1")
	repo := newFakeUserRepo(user)
	svc := newTestService(repo, new(MockAssertionVerifier), nil, nil)

	result, err := svc.UnlinkProvider(context.Background(), "u1", domain.ProviderGoogle)
	require.NoError(t, err)
	assert.Equal(t, []domain.ProviderKind{domain.ProviderPassword}, result.Providers)
}

func TestSetPrimaryProvider(t *testing.T) {
	user := withGoogleBinding(activeUser("u1", "ada@example.com"), "g-1")
	repo := newFakeUserRepo(user)
	svc := newTestService(repo, new(MockAssertionVerifier), nil, nil)

	result, err := svc.SetPrimaryProvider(context.Background(), "u1", domain.ProviderGoogle)
	require.NoError(t, err)
	assert.Equal(t, domain.ProviderGoogle, result.PrimaryProvider)

	_, err = svc.SetPrimaryProvider(context.Background(), "u1", domain.ProviderApple)
	assert.ErrorIs(t, err, domain.ErrNotLinked)
}

func TestGetLinkedProviders(t *testing.T) {
	user := withGoogleBinding(activeUser("u1", "ada@example.com"), "g-1")
	repo := newFakeUserRepo(user)
	svc := newTestService(repo, new(MockAssertionVerifier), nil, nil)

	view, err := svc.GetLinkedProviders(context.Background(), "u1")
	require.NoError(t, err)
	assert.True(t, view.HasPassword)
	assert.True(t, view.CanUnlink)
	assert.Len(t, view.Providers, 1)
	assert.Equal(t, domain.ProviderPassword, view.Primary)
}

func TestRegisterPasswordRejectsDuplicateEmail(t *testing.T) {
	repo := newFakeUserRepo(activeUser("u1", "ada@example.com"))
	hasher := new(MockPasswordHasher)
	svc := newTestService(repo, new(MockAssertionVerifier), hasher, nil)

	_, err := svc.RegisterPassword(context.Background(), "ada@example.com", "pw", "Ada", "")
	assert.ErrorIs(t, err, domain.ErrEmailInUse)
	hasher.AssertNotCalled(t, "Hash", mock.Anything)
}

func TestRegisterPasswordCreatesAccount(t *testing.T) {
	repo := newFakeUserRepo()
	hasher := new(MockPasswordHasher)
	hasher.On("Hash", "s3cret").Return("$2a$10$hashed", nil)

	svc := newTestService(repo, new(MockAssertionVerifier), hasher, nil)
	result, err := svc.RegisterPassword(context.Background(), "ada@example.com", "s3cret", "Ada", "app.example.com")
	require.NoError(t, err)

	assert.True(t, result.IsNewUser)
	assert.Equal(t, []domain.ProviderKind{domain.ProviderPassword}, result.User.Providers)
	assert.Equal(t, domain.ProviderPassword, result.User.PrimaryProvider)

	stored, err := repo.GetByEmail(context.Background(), "ada@example.com")
	require.NoError(t, err)
	assert.Equal(t, "$2a$10$hashed", stored.PasswordHash)
	hasher.AssertExpectations(t)
}

func TestLoginPasswordWrongCredential(t *testing.T) {
	repo := newFakeUserRepo(activeUser("u1", "ada@example.com"))
	hasher := new(MockPasswordHasher)
	hasher.On("Verify", "$2a$10$hash", "wrong").Return(fmt.Errorf("mismatch"))

	svc := newTestService(repo, new(MockAssertionVerifier), hasher, nil)
	_, err := svc.LoginPassword(context.Background(), "ada@example.com", "wrong", "")
	assert.ErrorIs(t, err, domain.ErrVerificationFailed)
}

func TestLoginPasswordSuccess(t *testing.T) {
	repo := newFakeUserRepo(activeUser("u1", "ada@example.com"))
	hasher := new(MockPasswordHasher)
	hasher.On("Verify", "$2a$10$hash", "s3cret").Return(nil)

	svc := newTestService(repo, new(MockAssertionVerifier), hasher, nil)
	result, err := svc.LoginPassword(context.Background(), "ada@example.com", "s3cret", "app.example.com")
	require.NoError(t, err)
	assert.False(t, result.IsNewUser)
	assert.NotEmpty(t, result.Token)

	stored, err := repo.GetByUID(context.Background(), "u1")
	require.NoError(t, err)
	assert.Equal(t, int64(1), stored.Metadata.LoginCount)
}

func TestAuditEntriesRecordLinkOutcomes(t *testing.T) {
	sink := &recordingSink{}
	repo := newFakeUserRepo(activeUser("u1", "ada@example.com"))
	verifier := new(MockAssertionVerifier)
	verifier.On("Verify", mock.Anything, domain.ProviderGoogle, "tok").
		Return(googleAssertion("g-1", "ada@example.com"), nil)

	svc := newTestService(repo, verifier, nil, sink)
	_, err := svc.LinkProvider(context.Background(), "u1", domain.ProviderGoogle, "tok", LinkOptions{})
	require.NoError(t, err)

	require.Eventually(t, func() bool { return sink.count() == 1 }, time.Second, 10*time.Millisecond)
	sink.mu.Lock()
	entry := sink.entries[0]
	sink.mu.Unlock()
	assert.Equal(t, "link", entry.Action)
	assert.Equal(t, "u1", entry.UID)
	assert.True(t, entry.Success)
	assert.Equal(t, []domain.ProviderKind{domain.ProviderPassword}, entry.Before)
	assert.Contains(t, entry.After, domain.ProviderGoogle)
}

func TestLogoutRevokesSessionRecord(t *testing.T) {
	repo := newFakeUserRepo(activeUser("u1", "ada@example.com"))
	hasher := new(MockPasswordHasher)
	hasher.On("Verify", "$2a$10$hash", "s3cret").Return(nil)

	sessions := cache.NewMemorySessionStore()
	defer sessions.Stop()
	svc := NewIdentityService(repo, new(MockAssertionVerifier), stubMinter{}, sessions, hasher, &recordingSink{}, noopLogger{})

	_, err := svc.LoginPassword(context.Background(), "ada@example.com", "s3cret", "")
	require.NoError(t, err)

	// stubMinter derives the token id from the uid.
	_, err = sessions.Get(context.Background(), "jti-u1")
	require.NoError(t, err)

	require.NoError(t, svc.Logout(context.Background(), "jti-u1"))
	_, err = sessions.Get(context.Background(), "jti-u1")
	assert.ErrorIs(t, err, cache.ErrSessionNotFound)

	// Revoking again is a no-op.
	assert.NoError(t, svc.Logout(context.Background(), "jti-u1"))
}

func TestAuditSinkFailureDoesNotFailOperation(t *testing.T) {
	sink := &recordingSink{fail: true}
	repo := newFakeUserRepo(activeUser("u1", "ada@example.com"))
	verifier := new(MockAssertionVerifier)
	verifier.On("Verify", mock.Anything, domain.ProviderGoogle, "tok").
		Return(googleAssertion("g-1", "ada@example.com"), nil)

	svc := newTestService(repo, verifier, nil, sink)
	_, err := svc.LinkProvider(context.Background(), "u1", domain.ProviderGoogle, "tok", LinkOptions{})
	assert.NoError(t, err)
}
