package player

import "errors"

var (
	// ErrInvalidState reports a command that is not valid in the session's
	// current state, e.g. pause while not playing.
	ErrInvalidState = errors.New("player: invalid state for command")
	// ErrNoSuchEntry reports a queue entry id that is not present or was
	// already played.
	ErrNoSuchEntry = errors.New("player: no such queue entry")
	// ErrNotConnected reports a playback command before any join.
	ErrNotConnected = errors.New("player: not connected to a voice channel")
	// ErrSessionClosed reports a command submitted to an engine that has
	// already been torn down.
	ErrSessionClosed = errors.New("player: session closed")
)
