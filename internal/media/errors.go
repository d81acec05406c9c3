package media

import "errors"

var (
	// ErrExpired reports a media URL whose validity window already passed.
	ErrExpired = errors.New("media: locator expired")
	// ErrUnavailable reports that the media provider could not produce a
	// streamable URL (network, auth, or extraction failure).
	ErrUnavailable = errors.New("media: provider unavailable")
)
