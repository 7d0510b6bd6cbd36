// Package verify resolves inbound provider assertions into verified,
// provider-tagged payloads. For the token-bearing providers this means
// presenting the token to the provider's own userinfo endpoint; for
// Apple it means decoding the ID-token claim set the upstream exchange
// already validated. Cryptographic protocol verification stays with the
// providers themselves.
package verify

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/pitlane-app/identity/domain"
)

// ProviderVerifier checks one provider's raw assertion and returns the
// provider's raw payload for normalization.
type ProviderVerifier interface {
	Provider() domain.ProviderKind
	Verify(ctx context.Context, rawAssertion string) (map[string]any, error)
}

// Registry dispatches assertions to per-provider verifiers with a
// bounded call timeout.
type Registry struct {
	providers map[domain.ProviderKind]ProviderVerifier
	timeout   time.Duration
}

// NewRegistry creates a Registry. timeout bounds each upstream call and
// falls back to 10s when non-positive.
func NewRegistry(timeout time.Duration) *Registry {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Registry{
		providers: make(map[domain.ProviderKind]ProviderVerifier),
		timeout:   timeout,
	}
}

// Register adds a provider verifier, replacing any previous one for the
// same kind.
func (r *Registry) Register(v ProviderVerifier) {
	r.providers[v.Provider()] = v
}

// Verify checks rawAssertion against the named provider. All failures
// surface as domain.ErrVerificationFailed; a timed-out upstream call is
// safe to retry since nothing was mutated.
func (r *Registry) Verify(ctx context.Context, provider domain.ProviderKind, rawAssertion string) (*domain.VerifiedAssertion, error) {
	pv, ok := r.providers[provider]
	if !ok {
		return nil, fmt.Errorf("%w: no verifier for provider %q", domain.ErrVerificationFailed, provider)
	}
	if rawAssertion == "" {
		return nil, fmt.Errorf("%w: empty assertion", domain.ErrVerificationFailed)
	}

	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	payload, err := pv.Verify(ctx, rawAssertion)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return nil, fmt.Errorf("%w: %s verification timed out", domain.ErrVerificationFailed, provider)
		}
		return nil, fmt.Errorf("%w: %v", domain.ErrVerificationFailed, err)
	}
	return &domain.VerifiedAssertion{Provider: provider, RawPayload: payload}, nil
}
