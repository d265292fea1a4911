package token

import "errors"

var (
	// ErrExpiredCredential is returned when a token is past its expiry.
	ErrExpiredCredential = errors.New("credential has expired")

	// ErrInvalidCredential is returned when a token's signature or
	// structure cannot be verified.
	ErrInvalidCredential = errors.New("invalid credential")

	// ErrMalformedCredential is returned when a token verifies but its
	// claims are structurally unusable (unknown role, missing subject,
	// missing tenant for a tenant-scoped role).
	ErrMalformedCredential = errors.New("malformed credential claims")
)
