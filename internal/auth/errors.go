package auth

import "errors"

// The error taxonomy every request-pipeline failure folds into. The HTTP
// layer owns the mapping to status codes; nothing below it writes a
// response.
var (
	// ErrUnauthenticated covers missing, invalid or expired access
	// credentials, and accounts that no longer exist or are inactive.
	ErrUnauthenticated = errors.New("unauthenticated")

	// ErrMalformedCredential covers structurally unusable claims, such
	// as a tenant-scoped role missing its tenant id.
	ErrMalformedCredential = errors.New("malformed credential")

	// ErrForbidden covers authenticated callers denied access, including
	// blocked customers.
	ErrForbidden = errors.New("forbidden")

	// ErrServiceUnavailable covers unreachable tenant or account stores.
	// Retryable, unlike ErrUnauthenticated.
	ErrServiceUnavailable = errors.New("service unavailable")
)
