package auth

import "errors"

var (
	ErrInvalidToken = errors.New("auth: invalid token")
	ErrUnknownRole  = errors.New("auth: unknown role")
	ErrMissingKey   = errors.New("auth: signing secret is not configured")
)
