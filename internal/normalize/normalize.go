// Package normalize reduces heterogeneous provider payloads to the
// canonical NormalizedIdentity shape. Every function here is pure and
// deterministic; malformed payloads surface domain.ErrInvalidPayload
// instead of propagating missing fields downstream.
package normalize

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/pitlane-app/identity/domain"
)

// Normalize maps a provider's raw payload to a NormalizedIdentity.
// The payload must contain the provider's minimum required fields
// (a stable subject id, at least).
func Normalize(provider domain.ProviderKind, raw map[string]any) (*domain.NormalizedIdentity, error) {
	if raw == nil {
		return nil, fmt.Errorf("%w: empty payload", domain.ErrInvalidPayload)
	}
	switch provider {
	case domain.ProviderGoogle:
		return normalizeGoogle(raw)
	case domain.ProviderApple:
		return normalizeApple(raw)
	case domain.ProviderFacebook:
		return normalizeFacebook(raw)
	case domain.ProviderGitHub:
		return normalizeGitHub(raw)
	default:
		return nil, fmt.Errorf("%w: unsupported provider %q", domain.ErrInvalidPayload, provider)
	}
}

// normalizeGoogle extracts from the OIDC userinfo shape: sub, email,
// email_verified, name, given_name, family_name, picture.
func normalizeGoogle(raw map[string]any) (*domain.NormalizedIdentity, error) {
	sub := stringField(raw, "sub")
	if sub == "" {
		return nil, fmt.Errorf("%w: google payload missing sub", domain.ErrInvalidPayload)
	}
	email := stringField(raw, "email")
	display := stringField(raw, "name")
	if display == "" {
		display = joinNameParts(stringField(raw, "given_name"), stringField(raw, "family_name"))
	}
	return &domain.NormalizedIdentity{
		Provider:      domain.ProviderGoogle,
		ProviderUID:   sub,
		Email:         email,
		DisplayName:   fallbackDisplayName(display, email),
		PhotoURL:      stringField(raw, "picture"),
		EmailVerified: email != "" && boolField(raw, "email_verified"),
		Profile:       raw,
	}, nil
}

// normalizeApple extracts from the ID-token claim set. Apple reports
// email_verified as the string "true"/"false" on some tokens and as a
// bool on others; name parts only arrive on first authorization.
func normalizeApple(raw map[string]any) (*domain.NormalizedIdentity, error) {
	sub := stringField(raw, "sub")
	if sub == "" {
		return nil, fmt.Errorf("%w: apple payload missing sub", domain.ErrInvalidPayload)
	}
	email := stringField(raw, "email")
	display := joinNameParts(stringField(raw, "first_name"), stringField(raw, "last_name"))
	return &domain.NormalizedIdentity{
		Provider:      domain.ProviderApple,
		ProviderUID:   sub,
		Email:         email,
		DisplayName:   fallbackDisplayName(display, email),
		EmailVerified: email != "" && boolField(raw, "email_verified"),
		Profile:       raw,
	}, nil
}

// normalizeFacebook extracts from the Graph API me shape: id, name,
// first_name, last_name, email, picture.data.url. Facebook only returns
// confirmed email addresses, so a present email counts as verified.
func normalizeFacebook(raw map[string]any) (*domain.NormalizedIdentity, error) {
	id := stringField(raw, "id")
	if id == "" {
		return nil, fmt.Errorf("%w: facebook payload missing id", domain.ErrInvalidPayload)
	}
	email := stringField(raw, "email")
	display := stringField(raw, "name")
	if display == "" {
		display = joinNameParts(stringField(raw, "first_name"), stringField(raw, "last_name"))
	}
	return &domain.NormalizedIdentity{
		Provider:      domain.ProviderFacebook,
		ProviderUID:   id,
		Email:         email,
		DisplayName:   fallbackDisplayName(display, email),
		PhotoURL:      facebookPictureURL(raw),
		EmailVerified: email != "",
		Profile:       raw,
	}, nil
}

// normalizeGitHub extracts from the user endpoint shape: id (numeric),
// login, name, email, avatar_url. email_verified is carried over from
// the primary-email lookup when the verifier performed one.
func normalizeGitHub(raw map[string]any) (*domain.NormalizedIdentity, error) {
	id := stringField(raw, "id")
	if id == "" {
		return nil, fmt.Errorf("%w: github payload missing id", domain.ErrInvalidPayload)
	}
	email := stringField(raw, "email")
	display := stringField(raw, "name")
	if display == "" {
		display = stringField(raw, "login")
	}
	return &domain.NormalizedIdentity{
		Provider:      domain.ProviderGitHub,
		ProviderUID:   id,
		Email:         email,
		DisplayName:   fallbackDisplayName(display, email),
		PhotoURL:      stringField(raw, "avatar_url"),
		EmailVerified: email != "" && boolField(raw, "email_verified"),
		Profile:       raw,
	}, nil
}

// stringField reads a field as a string, tolerating the numeric subject
// ids some providers emit (GitHub's id is a JSON number).
func stringField(raw map[string]any, key string) string {
	switch v := raw[key].(type) {
	case string:
		return strings.TrimSpace(v)
	case json.Number:
		return v.String()
	case float64:
		return strconv.FormatInt(int64(v), 10)
	case int64:
		return strconv.FormatInt(v, 10)
	case int:
		return strconv.Itoa(v)
	default:
		return ""
	}
}

// boolField reads a field as a bool, tolerating the "true"/"false"
// strings Apple puts in ID-token claims.
func boolField(raw map[string]any, key string) bool {
	switch v := raw[key].(type) {
	case bool:
		return v
	case string:
		return v == "true"
	default:
		return false
	}
}

func joinNameParts(first, last string) string {
	return strings.TrimSpace(strings.TrimSpace(first) + " " + strings.TrimSpace(last))
}

// fallbackDisplayName derives a display name from the email local part
// when the provider supplied no usable name.
func fallbackDisplayName(display, email string) string {
	if display != "" {
		return display
	}
	if at := strings.IndexByte(email, '@'); at > 0 {
		return email[:at]
	}
	return ""
}

func facebookPictureURL(raw map[string]any) string {
	picture, ok := raw["picture"].(map[string]any)
	if !ok {
		return ""
	}
	data, ok := picture["data"].(map[string]any)
	if !ok {
		return ""
	}
	return stringField(data, "url")
}
