package domain

// NormalizedIdentity is the canonical shape every provider payload is
// reduced to before any linking decision is made.
type NormalizedIdentity struct {
	Provider      ProviderKind
	ProviderUID   string
	Email         string
	DisplayName   string
	PhotoURL      string
	EmailVerified bool

	// Profile is the raw provider payload kept as a display/enrichment
	// snapshot under User.ProviderProfiles.
	Profile map[string]any
}

// VerifiedAssertion is a provider-issued identity claim that has already
// passed verification upstream. The raw payload still has to be
// normalized before use.
type VerifiedAssertion struct {
	Provider   ProviderKind
	RawPayload map[string]any
}
