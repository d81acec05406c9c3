package resolver

import "errors"

var (
	// ErrNotFound reports that the reference was well formed but no track
	// matches it.
	ErrNotFound = errors.New("resolver: no matching track")
	// ErrProviderUnavailable reports an upstream failure (network, auth,
	// rate limit) while consulting a provider.
	ErrProviderUnavailable = errors.New("resolver: provider unavailable")
	// ErrMalformed reports a reference that cannot be interpreted at all.
	ErrMalformed = errors.New("resolver: malformed reference")
)
