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

var (
	GitHubUserEndpoint   = "https://api.github.com/user"
	GitHubEmailsEndpoint = "https://api.github.com/user/emails"
)

// GitHubVerifier presents a GitHub access token to the user endpoint.
// GitHub may keep the account email private, so a missing email
// triggers a second lookup of the verified primary address.
type GitHubVerifier struct{}

func NewGitHubVerifier() *GitHubVerifier { return &GitHubVerifier{} }

func (g *GitHubVerifier) Provider() domain.ProviderKind { return domain.ProviderGitHub }

func (g *GitHubVerifier) Verify(ctx context.Context, accessToken string) (map[string]any, error) {
	client := oauth2.NewClient(ctx, oauth2.StaticTokenSource(&oauth2.Token{AccessToken: accessToken}))
	header := http.Header{"Accept": []string{"application/vnd.github.v3+json"}}

	payload, err := fetchJSON(ctx, client, GitHubUserEndpoint, header)
	if err != nil {
		return nil, err
	}

	if email, _ := payload["email"].(string); email == "" {
		email, verified, err := g.primaryEmail(ctx, client, header)
		if err == nil && email != "" {
			payload["email"] = email
			payload["email_verified"] = verified
		}
	} else {
		// A publicly listed email has been confirmed by GitHub.
		payload["email_verified"] = true
	}
	return payload, nil
}

// primaryEmail fetches the verified primary address from the emails
// endpoint. Requires the user:email scope; a 404/403 just means the
// account stays email-less.
func (g *GitHubVerifier) primaryEmail(ctx context.Context, client *http.Client, header http.Header) (string, bool, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, GitHubEmailsEndpoint, nil)
	if err != nil {
		return "", false, err
	}
	for k, vals := range header {
		for _, v := range vals {
			req.Header.Add(k, v)
		}
	}

	resp, err := client.Do(req)
	if err != nil {
		return "", false, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return "", false, fmt.Errorf("github emails fetch returned status %d: %s", resp.StatusCode, string(body))
	}

	var emails []struct {
		Email    string `json:"email"`
		Primary  bool   `json:"primary"`
		Verified bool   `json:"verified"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&emails); err != nil {
		return "", false, fmt.Errorf("failed to decode github emails response: %w", err)
	}
	for _, e := range emails {
		if e.Primary {
			return e.Email, e.Verified, nil
		}
	}
	return "", false, nil
}

var _ ProviderVerifier = (*GitHubVerifier)(nil)
