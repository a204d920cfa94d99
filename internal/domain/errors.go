package domain

import "errors"

var (
	ErrValidation = errors.New("validation error")
	ErrNotFound   = errors.New("not found")
	ErrConflict   = errors.New("conflict")

	// ErrSessionExpired means the access token could not be refreshed; the session is over.
	ErrSessionExpired = errors.New("session expired")
)
