package session

import "errors"

var (
	ErrSessionNotFound  = errors.New("session not found")
	ErrSessionNotActive = errors.New("session not active")

	// ErrConsentRejected covers every consent failure (unknown session,
	// terminated session, identity mismatch, location mismatch) so callers
	// cannot probe which check failed.
	ErrConsentRejected = errors.New("consent rejected")

	ErrConsentRequired  = errors.New("consent not given")
	ErrPermissionDenied = errors.New("permission denied")

	// ErrSessionExpired is returned when a command arrives after the activity
	// timeout. The session is terminated as a side effect.
	ErrSessionExpired = errors.New("session expired")

	ErrTooManySessions    = errors.New("too many active sessions")
	ErrInvalidPermission  = errors.New("invalid permission")
	ErrLocationNotAllowed = errors.New("location not allowed")
)
