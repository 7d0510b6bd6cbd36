package verify

import (
	"context"
	"net/url"

	"golang.org/x/oauth2"

	"github.com/pitlane-app/identity/domain"
)

var FacebookUserInfoEndpoint = "https://graph.facebook.com/v19.0/me"

const facebookFields = "id,name,first_name,last_name,email,picture"

// FacebookVerifier presents a Facebook access token to the Graph API
// me endpoint.
type FacebookVerifier struct{}

func NewFacebookVerifier() *FacebookVerifier { return &FacebookVerifier{} }

func (f *FacebookVerifier) Provider() domain.ProviderKind { return domain.ProviderFacebook }

func (f *FacebookVerifier) Verify(ctx context.Context, accessToken string) (map[string]any, error) {
	client := oauth2.NewClient(ctx, oauth2.StaticTokenSource(&oauth2.Token{AccessToken: accessToken}))
	endpoint := FacebookUserInfoEndpoint + "?fields=" + url.QueryEscape(facebookFields)
	return fetchJSON(ctx, client, endpoint, nil)
}

var _ ProviderVerifier = (*FacebookVerifier)(nil)
