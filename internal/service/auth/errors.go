package auth

import "errors"

// Token validation failures. Handlers map all of them to 401 without
// revealing which check failed.
var (
	ErrInvalidToken     = errors.New("invalid authentication token")
	ErrExpiredToken     = errors.New("authentication token has expired")
	ErrTokenNotYetValid = errors.New("authentication token not yet valid")
	ErrMissingToken     = errors.New("authentication token is missing")

	// ErrNotAdmin is returned for a well-formed token that lacks the admin role.
	ErrNotAdmin = errors.New("token does not grant admin access")
)
