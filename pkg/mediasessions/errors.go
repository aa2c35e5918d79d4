package mediasessions

import "errors"

// The closed error taxonomy crossing the engine boundary. Backend-specific
// failures are wrapped with %w so errors.Is still resolves them; anything
// that doesn't match one of these maps to a generic error at the C boundary.
var (
	// ErrNoSession means the operation needs an active session and none exists.
	ErrNoSession = errors.New("no active media session")

	// ErrNotSupported means the owning backend/session lacks the capability.
	ErrNotSupported = errors.New("operation not supported by session")

	// ErrTimeout means the backend did not acknowledge within the bound.
	ErrTimeout = errors.New("backend operation timed out")

	// ErrInvalidArgument means a caller-supplied value violates a documented
	// constraint. Detected before any state mutation or backend call.
	ErrInvalidArgument = errors.New("invalid argument")

	// ErrClosed means the engine was already closed.
	ErrClosed = errors.New("media sessions engine is closed")
)
