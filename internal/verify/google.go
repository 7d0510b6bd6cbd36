package verify

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"golang.org/x/oauth2"

	"github.com/pitlane-app/identity/domain"
)

// GoogleUserInfoEndpoint is a var so tests can point it at a fixture
// server.
var GoogleUserInfoEndpoint = "https://www.googleapis.com/oauth2/v3/userinfo"

// GoogleVerifier presents a Google access token to the OIDC userinfo
// endpoint and returns the claim payload.
type GoogleVerifier struct{}

func NewGoogleVerifier() *GoogleVerifier { return &GoogleVerifier{} }

func (g *GoogleVerifier) Provider() domain.ProviderKind { return domain.ProviderGoogle }

func (g *GoogleVerifier) Verify(ctx context.Context, accessToken string) (map[string]any, error) {
	client := oauth2.NewClient(ctx, oauth2.StaticTokenSource(&oauth2.Token{AccessToken: accessToken}))
	return fetchJSON(ctx, client, GoogleUserInfoEndpoint, nil)
}

// fetchJSON performs an authenticated GET and decodes the JSON body
// into a raw map.
func fetchJSON(ctx context.Context, client *http.Client, endpoint string, header http.Header) (map[string]any, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, err
	}
	for k, vals := range header {
		for _, v := range vals {
			req.Header.Add(k, v)
		}
	}

	resp, err := client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, fmt.Errorf("userinfo fetch returned status %d: %s", resp.StatusCode, string(body))
	}

	var payload map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return nil, fmt.Errorf("failed to decode userinfo response: %w", err)
	}
	return payload, nil
}

var _ ProviderVerifier = (*GoogleVerifier)(nil)
