package verify

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/pitlane-app/identity/domain"
)

// AppleVerifier decodes the claim set of a Sign in with Apple ID token.
// Apple has no userinfo endpoint; name and email only arrive in the
// first authorization's token, which is why the decoded payload is kept
// as the profile snapshot.
type AppleVerifier struct{}

func NewAppleVerifier() *AppleVerifier { return &AppleVerifier{} }

func (a *AppleVerifier) Provider() domain.ProviderKind { return domain.ProviderApple }

func (a *AppleVerifier) Verify(_ context.Context, idToken string) (map[string]any, error) {
	parts := strings.Split(idToken, ".")
	if len(parts) != 3 {
		return nil, fmt.Errorf("invalid apple ID token format")
	}
	payloadBytes, err := base64.RawURLEncoding.DecodeString(parts[1])
	if err != nil {
		return nil, fmt.Errorf("failed to decode apple ID token payload: %w", err)
	}

	var payload map[string]any
	if err := json.Unmarshal(payloadBytes, &payload); err != nil {
		return nil, fmt.Errorf("failed to unmarshal apple ID token claims: %w", err)
	}
	if sub, _ := payload["sub"].(string); sub == "" {
		return nil, fmt.Errorf("apple ID token missing sub claim")
	}
	return payload, nil
}

var _ ProviderVerifier = (*AppleVerifier)(nil)
