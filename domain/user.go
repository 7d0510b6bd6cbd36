package domain

import "time"

// UserStatus defines the possible statuses of a user account.
type UserStatus string

const (
	UserStatusActive              UserStatus = "active"
	UserStatusInactive            UserStatus = "inactive"
	UserStatusSuspended           UserStatus = "suspended"
	UserStatusPendingVerification UserStatus = "pending_verification"
)

// UserRole defines account-level roles carried into session token claims.
type UserRole string

const (
	RoleUser  UserRole = "user"
	RoleAdmin UserRole = "admin"
)

// Metadata holds bookkeeping fields updated on every login.
type Metadata struct {
	CreatedAt   time.Time  `bson:"created_at" json:"created_at"`
	UpdatedAt   time.Time  `bson:"updated_at" json:"updated_at"`
	LastLoginAt *time.Time `bson:"last_login_at,omitempty" json:"last_login_at,omitempty"`
	LoginCount  int64      `bson:"login_count" json:"login_count"`
	LastOrigin  string     `bson:"last_origin,omitempty" json:"last_origin,omitempty"`
}

// LinkedIdentity is one external provider binding on a canonical account.
// Email, DisplayName and PhotoURL are snapshots taken at link time and
// refreshed on each successful use of the provider.
type LinkedIdentity struct {
	Provider    ProviderKind `bson:"provider" json:"provider"`
	ProviderUID string       `bson:"provider_uid" json:"provider_uid"`
	Email       string       `bson:"email,omitempty" json:"email,omitempty"`
	DisplayName string       `bson:"display_name,omitempty" json:"display_name,omitempty"`
	PhotoURL    string       `bson:"photo_url,omitempty" json:"photo_url,omitempty"`
	LinkedAt    time.Time    `bson:"linked_at" json:"linked_at"`
	LastUsed    time.Time    `bson:"last_used" json:"last_used"`
	IsVerified  bool         `bson:"is_verified" json:"is_verified"`
	IsPrimary   bool         `bson:"is_primary" json:"is_primary"`
}

// User is the canonical account of record. One or more providers are
// linked to it; at least one usable sign-in method must remain at all
// times for an active account.
type User struct {
	UID           string     `bson:"_id" json:"uid"`
	Email         string     `bson:"email,omitempty" json:"email,omitempty"`
	EmailVerified bool       `bson:"email_verified" json:"email_verified"`
	DisplayName   string     `bson:"display_name,omitempty" json:"display_name,omitempty"`
	PhotoURL      string     `bson:"photo_url,omitempty" json:"photo_url,omitempty"`
	PhoneNumber   string     `bson:"phone_number,omitempty" json:"phone_number,omitempty"`
	Role          UserRole   `bson:"role" json:"role"`
	Status        UserStatus `bson:"status" json:"status"`

	// PasswordHash presence is what makes ProviderPassword a member of
	// Providers. Never serialized to JSON.
	PasswordHash string `bson:"password_hash,omitempty" json:"-"`

	// Providers is the insertion-ordered set of provider kinds currently
	// usable for sign-in, including "password" when a credential exists.
	Providers []ProviderKind `bson:"providers" json:"providers"`

	// LinkedProviders holds at most one entry per external provider kind.
	LinkedProviders []LinkedIdentity `bson:"linked_providers,omitempty" json:"linked_providers,omitempty"`

	// PrimaryProvider is always a member of Providers.
	PrimaryProvider ProviderKind `bson:"primary_provider" json:"primary_provider"`

	// ProviderProfiles keeps the raw per-provider profile snapshots for
	// display and enrichment. Never consulted by linking decisions.
	ProviderProfiles map[string]map[string]any `bson:"provider_profiles,omitempty" json:"-"`

	Metadata  Metadata `bson:"metadata" json:"metadata"`
	IsDeleted bool     `bson:"is_deleted" json:"-"`

	// Version is the optimistic-concurrency stamp. The store increments
	// it on every successful upsert and rejects writes carrying a stale
	// value.
	Version int64 `bson:"version" json:"-"`
}

// HasProvider reports whether p is currently usable for sign-in.
func (u *User) HasProvider(p ProviderKind) bool {
	for _, existing := range u.Providers {
		if existing == p {
			return true
		}
	}
	return false
}

// HasPassword reports whether the implicit password method exists.
func (u *User) HasPassword() bool {
	return u.PasswordHash != "" && u.HasProvider(ProviderPassword)
}

// LinkedIdentityFor returns the LinkedIdentity for p, or nil if p is not
// linked. The password method never has a LinkedIdentity.
func (u *User) LinkedIdentityFor(p ProviderKind) *LinkedIdentity {
	for i := range u.LinkedProviders {
		if u.LinkedProviders[i].Provider == p {
			return &u.LinkedProviders[i]
		}
	}
	return nil
}

// Clone returns a deep copy of u. Policy transitions operate on copies
// so a failed transition never leaves a caller holding mutated state.
func (u *User) Clone() *User {
	out := *u
	out.Providers = append([]ProviderKind(nil), u.Providers...)
	out.LinkedProviders = append([]LinkedIdentity(nil), u.LinkedProviders...)
	if u.ProviderProfiles != nil {
		out.ProviderProfiles = make(map[string]map[string]any, len(u.ProviderProfiles))
		for k, profile := range u.ProviderProfiles {
			cp := make(map[string]any, len(profile))
			for pk, pv := range profile {
				cp[pk] = pv
			}
			out.ProviderProfiles[k] = cp
		}
	}
	if u.Metadata.LastLoginAt != nil {
		t := *u.Metadata.LastLoginAt
		out.Metadata.LastLoginAt = &t
	}
	return &out
}
