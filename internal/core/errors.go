package core

import "errors"

// Expected per-request failures. Anything else coming back from the media
// engine is treated as an engine failure: logged with full context and the
// requested side effect is skipped, the room keeps running.
var (
	// ErrNotFound: a client-supplied transport/producer/consumer id is not
	// owned by the caller. Client ids are never trusted without this check.
	ErrNotFound = errors.New("not found")

	// ErrCapabilityMismatch: the engine refuses the consume request for the
	// declared rtp capabilities.
	ErrCapabilityMismatch = errors.New("capability mismatch")

	// ErrUnauthorized: session/room checks failed at connection time.
	ErrUnauthorized = errors.New("unauthorized")
)
