// Package linking is the decision core for provider bindings. Every
// transition is a total function from (user, command) to a new user
// value or a taxonomy error: no I/O, no hidden mutation. The
// orchestration layer re-runs these functions verbatim on a persist
// conflict, which is what makes the bounded retry loop safe.
package linking

import (
	"fmt"
	"time"

	"github.com/pitlane-app/identity/domain"
)

// Link appends a new provider binding to user. boundElsewhere is the
// result of the caller's FindByProviderBinding conflict lookup (nil
// when the external identity is unbound). allowMerge requests merge
// semantics, which this core deliberately refuses.
func Link(user *domain.User, ident *domain.NormalizedIdentity, boundElsewhere *domain.User, allowMerge bool, now time.Time) (*domain.User, error) {
	if boundElsewhere != nil && boundElsewhere.UID != user.UID {
		if allowMerge {
			return nil, fmt.Errorf("%w: identity bound to account %s", domain.ErrMergeNotSupported, boundElsewhere.UID)
		}
		return nil, fmt.Errorf("%w: %s identity", domain.ErrAlreadyLinkedElsewhere, ident.Provider)
	}
	if user.HasProvider(ident.Provider) {
		return nil, fmt.Errorf("%w: %s", domain.ErrAlreadyLinked, ident.Provider)
	}

	next := user.Clone()
	firstMethod := len(next.Providers) == 0

	entry := domain.LinkedIdentity{
		Provider:    ident.Provider,
		ProviderUID: ident.ProviderUID,
		Email:       ident.Email,
		DisplayName: ident.DisplayName,
		PhotoURL:    ident.PhotoURL,
		LinkedAt:    now,
		LastUsed:    now,
		IsVerified:  ident.EmailVerified,
		IsPrimary:   firstMethod,
	}
	next.LinkedProviders = append(next.LinkedProviders, entry)
	next.Providers = append(next.Providers, ident.Provider)
	if firstMethod {
		next.PrimaryProvider = ident.Provider
	}

	if next.ProviderProfiles == nil {
		next.ProviderProfiles = make(map[string]map[string]any)
	}
	next.ProviderProfiles[ident.Provider.String()] = ident.Profile

	adoptIdentityProfile(next, ident)
	next.Metadata.UpdatedAt = now
	return next, nil
}

// Unlink removes a provider binding. Removing the last remaining
// sign-in method is always refused, and a removed primary is reassigned
// deterministically: password first, then insertion order.
func Unlink(user *domain.User, provider domain.ProviderKind, now time.Time) (*domain.User, error) {
	if !user.HasProvider(provider) {
		return nil, fmt.Errorf("%w: %s", domain.ErrNotLinked, provider)
	}
	if len(user.Providers) <= 1 {
		return nil, fmt.Errorf("%w: %s is the only method", domain.ErrLastAuthMethod, provider)
	}

	next := user.Clone()

	remaining := next.Providers[:0]
	for _, p := range next.Providers {
		if p != provider {
			remaining = append(remaining, p)
		}
	}
	next.Providers = remaining

	if provider == domain.ProviderPassword {
		next.PasswordHash = ""
	} else {
		kept := next.LinkedProviders[:0]
		for _, li := range next.LinkedProviders {
			if li.Provider != provider {
				kept = append(kept, li)
			}
		}
		next.LinkedProviders = kept
		delete(next.ProviderProfiles, provider.String())
	}

	if next.PrimaryProvider == provider {
		reassignPrimary(next)
	}
	next.Metadata.UpdatedAt = now
	return next, nil
}

// SetPrimary marks provider as the primary sign-in method. Exactly one
// linked entry (or the implicit password slot) is primary afterwards.
func SetPrimary(user *domain.User, provider domain.ProviderKind, now time.Time) (*domain.User, error) {
	if !user.HasProvider(provider) {
		return nil, fmt.Errorf("%w: %s", domain.ErrNotLinked, provider)
	}
	next := user.Clone()
	applyPrimary(next, provider)
	next.Metadata.UpdatedAt = now
	return next, nil
}

// TouchLastUsed refreshes the LastUsed stamp and the identity snapshot
// for provider after a successful login through it. ident may be nil
// for the password method, which carries no LinkedIdentity.
func TouchLastUsed(user *domain.User, provider domain.ProviderKind, ident *domain.NormalizedIdentity, now time.Time) (*domain.User, error) {
	if !user.HasProvider(provider) {
		return nil, fmt.Errorf("%w: %s", domain.ErrNotLinked, provider)
	}
	next := user.Clone()
	if li := next.LinkedIdentityFor(provider); li != nil {
		li.LastUsed = now
		if ident != nil {
			if ident.Email != "" {
				li.Email = ident.Email
			}
			if ident.DisplayName != "" {
				li.DisplayName = ident.DisplayName
			}
			if ident.PhotoURL != "" {
				li.PhotoURL = ident.PhotoURL
			}
			li.IsVerified = ident.EmailVerified
			if next.ProviderProfiles == nil {
				next.ProviderProfiles = make(map[string]map[string]any)
			}
			next.ProviderProfiles[provider.String()] = ident.Profile
			adoptIdentityProfile(next, ident)
		}
	}
	next.Metadata.UpdatedAt = now
	return next, nil
}

// reassignPrimary picks the new primary after the previous one was
// unlinked: password when present, else the first provider in insertion
// order.
func reassignPrimary(user *domain.User) {
	if user.HasProvider(domain.ProviderPassword) {
		applyPrimary(user, domain.ProviderPassword)
		return
	}
	if len(user.Providers) > 0 {
		applyPrimary(user, user.Providers[0])
	}
}

func applyPrimary(user *domain.User, provider domain.ProviderKind) {
	user.PrimaryProvider = provider
	for i := range user.LinkedProviders {
		user.LinkedProviders[i].IsPrimary = user.LinkedProviders[i].Provider == provider
	}
}

// adoptIdentityProfile fills empty top-level profile fields from a
// normalized identity. EmailVerified is only ever raised, and only by an
// assertion that itself reports verification for the account email.
func adoptIdentityProfile(user *domain.User, ident *domain.NormalizedIdentity) {
	if user.Email == "" {
		user.Email = ident.Email
	}
	if user.DisplayName == "" {
		user.DisplayName = ident.DisplayName
	}
	if user.PhotoURL == "" {
		user.PhotoURL = ident.PhotoURL
	}
	if ident.EmailVerified && ident.Email != "" && ident.Email == user.Email {
		user.EmailVerified = true
	}
}
