package model

import "errors"

// Common errors used across the application
var (
	// Input errors
	ErrInvalidPrincipal = errors.New("invalid principal")
	ErrEmptyCredential  = errors.New("credential cannot be empty")

	// Credential errors
	ErrUnknownPrincipal  = errors.New("unknown principal")
	ErrAlreadyRegistered = errors.New("principal already registered")
	ErrBadCredential     = errors.New("bad credential")

	// One-time code errors
	ErrInvalidCode  = errors.New("invalid or expired code")
	ErrCodeNotFound = errors.New("code not found")

	// Rate limiting
	ErrRateLimited = errors.New("too many failed attempts")

	// Session errors
	ErrSessionNotFound = errors.New("session not found")

	// Store errors
	ErrStoreUnavailable = errors.New("store unavailable")
	ErrStoreConflict    = errors.New("store conflict")
)

// ReasonFor maps an error from the taxonomy to a decision reason.
// Unknown errors map to store-unavailable so callers always fail closed.
func ReasonFor(err error) string {
	switch {
	case errors.Is(err, ErrInvalidPrincipal), errors.Is(err, ErrEmptyCredential):
		return ReasonInvalidInput
	case errors.Is(err, ErrUnknownPrincipal):
		return ReasonUnknownPrincipal
	case errors.Is(err, ErrAlreadyRegistered):
		return ReasonAlreadyRegistered
	case errors.Is(err, ErrSessionNotFound):
		return ReasonLoginRequired
	case errors.Is(err, ErrBadCredential):
		return ReasonBadCredential
	case errors.Is(err, ErrInvalidCode), errors.Is(err, ErrCodeNotFound):
		return ReasonInvalidCode
	case errors.Is(err, ErrRateLimited):
		return ReasonRateLimited
	case errors.Is(err, ErrStoreConflict):
		return ReasonStoreConflict
	default:
		return ReasonStoreUnavailable
	}
}
