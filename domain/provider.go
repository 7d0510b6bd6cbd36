package domain

// ProviderKind identifies an authentication method usable for sign-in.
// The password method is a ProviderKind like any other, but it is
// represented implicitly via User.PasswordHash rather than as a
// LinkedIdentity entry.
type ProviderKind string

const (
	ProviderPassword ProviderKind = "password"
	ProviderGoogle   ProviderKind = "google"
	ProviderApple    ProviderKind = "apple"
	ProviderFacebook ProviderKind = "facebook"
	ProviderGitHub   ProviderKind = "github"
)

// Known reports whether p is a provider kind this system understands.
func (p ProviderKind) Known() bool {
	switch p {
	case ProviderPassword, ProviderGoogle, ProviderApple, ProviderFacebook, ProviderGitHub:
		return true
	}
	return false
}

// External reports whether p is backed by a third-party identity
// assertion (everything except the local password method).
func (p ProviderKind) External() bool {
	return p.Known() && p != ProviderPassword
}

func (p ProviderKind) String() string { return string(p) }
