package model

import "errors"

var (
	ErrNotFound        = errors.New("not found")
	ErrForbidden       = errors.New("forbidden")
	ErrValidation      = errors.New("validation error")
	ErrConflict        = errors.New("conflict")
	ErrRateLimited     = errors.New("rate limited")
	ErrUnauthenticated = errors.New("unauthenticated")

	// ErrBackendUnavailable covers every transport failure, non-success
	// status and malformed payload from the processing backend. The chat
	// orchestrator absorbs it into a fallback reply; it never reaches a caller.
	ErrBackendUnavailable = errors.New("backend unavailable")
)
