// ABOUTME: Error taxonomy for chat sessions
// ABOUTME: Sentinel errors callers match with errors.Is

package chat

import "errors"

var (
	// ErrUnauthenticated means no principal is signed in. Fatal to the session.
	ErrUnauthenticated = errors.New("chat: unauthenticated")

	// ErrForbidden means the principal may not use the requested mode.
	ErrForbidden = errors.New("chat: agent mode requires an agent principal")

	// ErrTransport wraps history-load and channel failures.
	ErrTransport = errors.New("chat: transport failure")

	// ErrRetriesExhausted wraps the last ErrTransport once automatic
	// recovery gave up.
	ErrRetriesExhausted = errors.New("chat: reconnect attempts exhausted")

	// ErrSendRejected is logged when Send refuses a message.
	ErrSendRejected = errors.New("chat: send rejected")

	// ErrStaleEvent marks work from a superseded generation. Diagnostics only.
	ErrStaleEvent = errors.New("chat: stale event")

	// ErrNoRoom means no room has been resolved yet.
	ErrNoRoom = errors.New("chat: no room resolved")

	// ErrClosed is returned by operations on a closed session.
	ErrClosed = errors.New("chat: session closed")
)
