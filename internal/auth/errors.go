package auth

import "errors"

var (
	ErrNotFound           = errors.New("auth: not found")
	ErrConflict           = errors.New("auth: resource conflict")
	ErrInvalidInput       = errors.New("auth: invalid input")
	ErrInvalidToken       = errors.New("auth: invalid token")
	ErrMissingIdentity    = errors.New("auth: token is missing identity claims")
	ErrMissingActor       = errors.New("auth: acting system user could not be determined")
	ErrInvariantViolation = errors.New("auth: invariant violation")
	ErrUnavailable        = errors.New("auth: store unavailable")
)
