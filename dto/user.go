// Package dto holds the display-safe projections returned to callers.
// Raw provider profiles, password hashes and any tokens captured during
// linking never appear here.
package dto

import (
	"time"

	"github.com/pitlane-app/identity/domain"
)

// LinkedProviderInfo is the public view of one provider binding.
type LinkedProviderInfo struct {
	Provider    domain.ProviderKind `json:"provider"`
	Email       string              `json:"email,omitempty"`
	DisplayName string              `json:"display_name,omitempty"`
	PhotoURL    string              `json:"photo_url,omitempty"`
	LinkedAt    time.Time           `json:"linked_at"`
	LastUsed    time.Time           `json:"last_used"`
	IsVerified  bool                `json:"is_verified"`
	IsPrimary   bool                `json:"is_primary"`
}

// PublicUser is the display-safe projection of a canonical account.
type PublicUser struct {
	UID             string                `json:"uid"`
	Email           string                `json:"email,omitempty"`
	EmailVerified   bool                  `json:"email_verified"`
	DisplayName     string                `json:"display_name,omitempty"`
	PhotoURL        string                `json:"photo_url,omitempty"`
	PhoneNumber     string                `json:"phone_number,omitempty"`
	Role            domain.UserRole       `json:"role"`
	Status          domain.UserStatus     `json:"status"`
	Providers       []domain.ProviderKind `json:"providers"`
	PrimaryProvider domain.ProviderKind   `json:"primary_provider"`
	LinkedProviders []LinkedProviderInfo  `json:"linked_providers"`
	CreatedAt       time.Time             `json:"created_at"`
	LastLoginAt     *time.Time            `json:"last_login_at,omitempty"`
}

// LinkedProvidersView answers the "what can this account sign in with"
// question for settings screens.
type LinkedProvidersView struct {
	Providers   []LinkedProviderInfo `json:"providers"`
	HasPassword bool                 `json:"has_password"`
	CanUnlink   bool                 `json:"can_unlink"`
	Primary     domain.ProviderKind  `json:"primary"`
}

// AuthResult is the response to a successful login.
type AuthResult struct {
	User      PublicUser `json:"user"`
	Token     string     `json:"token"`
	ExpiresAt time.Time  `json:"expires_at"`
	IsNewUser bool       `json:"is_new_user"`
}

// NewPublicUser projects a domain user to its public shape.
func NewPublicUser(user *domain.User) PublicUser {
	linked := make([]LinkedProviderInfo, 0, len(user.LinkedProviders))
	for _, li := range user.LinkedProviders {
		linked = append(linked, newLinkedProviderInfo(li))
	}
	return PublicUser{
		UID:             user.UID,
		Email:           user.Email,
		EmailVerified:   user.EmailVerified,
		DisplayName:     user.DisplayName,
		PhotoURL:        user.PhotoURL,
		PhoneNumber:     user.PhoneNumber,
		Role:            user.Role,
		Status:          user.Status,
		Providers:       append([]domain.ProviderKind(nil), user.Providers...),
		PrimaryProvider: user.PrimaryProvider,
		LinkedProviders: linked,
		CreatedAt:       user.Metadata.CreatedAt,
		LastLoginAt:     user.Metadata.LastLoginAt,
	}
}

// NewLinkedProvidersView projects the linking state of a user.
func NewLinkedProvidersView(user *domain.User) LinkedProvidersView {
	linked := make([]LinkedProviderInfo, 0, len(user.LinkedProviders))
	for _, li := range user.LinkedProviders {
		linked = append(linked, newLinkedProviderInfo(li))
	}
	return LinkedProvidersView{
		Providers:   linked,
		HasPassword: user.HasPassword(),
		CanUnlink:   len(user.Providers) > 1,
		Primary:     user.PrimaryProvider,
	}
}

func newLinkedProviderInfo(li domain.LinkedIdentity) LinkedProviderInfo {
	return LinkedProviderInfo{
		Provider:    li.Provider,
		Email:       li.Email,
		DisplayName: li.DisplayName,
		PhotoURL:    li.PhotoURL,
		LinkedAt:    li.LinkedAt,
		LastUsed:    li.LastUsed,
		IsVerified:  li.IsVerified,
		IsPrimary:   li.IsPrimary,
	}
}
