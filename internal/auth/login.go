package auth

import (
	"context"
	"errors"
	"fmt"

	"github.com/golang-jwt/jwt/v5"

	"github.com/tablefront/go-core/internal/tenant"
	"github.com/tablefront/go-core/internal/token"
)

// Login verifies an email/password pair for the given role and mints a
// fresh token pair. tenantID is required for tenant-scoped roles and
// ignored for platform roles. A wrong password and an unknown email are
// indistinguishable to the caller.
func (d *Dispatcher) Login(ctx context.Context, role token.Role, tenantID, email, password string) (*Principal, *token.Pair, error) {
	if email == "" || password == "" {
		return nil, nil, fmt.Errorf("%w: email and password are required", ErrMalformedCredential)
	}

	entry, ok := Directory(role)
	if !ok {
		return nil, nil, fmt.Errorf("%w: unknown role %q", ErrMalformedCredential, role)
	}
	if entry.TenantRequired && tenantID == "" {
		return nil, nil, fmt.Errorf("%w: role %s requires a tenant", ErrMalformedCredential, role)
	}

	var accounts tenant.Accounts
	if entry.Scope == ScopePlatform {
		accounts = d.platform
	} else {
		handle, err := d.registry.Resolve(ctx, tenantID)
		if err != nil {
			return nil, nil, fmt.Errorf("%w: %v", ErrServiceUnavailable, err)
		}
		accounts = handle.Accounts
	}

	lookupCtx, cancel := context.WithTimeout(ctx, d.lookupTimeout)
	defer cancel()

	acct, err := accounts.LookupByEmail(lookupCtx, entry.Kind, email)
	if err != nil {
		if errors.Is(err, tenant.ErrAccountNotFound) {
			// Burn a hash comparison anyway so unknown emails cost the
			// same as wrong passwords.
			_ = CheckPassword(dummyHash, password)
			return nil, nil, fmt.Errorf("%w: invalid credentials", ErrUnauthenticated)
		}
		return nil, nil, fmt.Errorf("%w: account lookup: %v", ErrServiceUnavailable, err)
	}

	if err := CheckPassword(acct.PasswordHash, password); err != nil {
		return nil, nil, fmt.Errorf("%w: invalid credentials", ErrUnauthenticated)
	}
	if !acct.Active {
		return nil, nil, fmt.Errorf("%w: account deactivated", ErrUnauthenticated)
	}
	if acct.Blocked {
		return nil, nil, fmt.Errorf("%w: account blocked", ErrForbidden)
	}

	claims := token.Claims{
		RegisteredClaims: jwt.RegisteredClaims{Subject: acct.ID},
		Role:             role,
	}
	switch {
	case role == token.RoleOwner:
		claims.TenantID = acct.ID
	case entry.TenantRequired:
		claims.TenantID = tenantID
	}

	pair, err := d.codec.IssuePair(claims)
	if err != nil {
		return nil, nil, fmt.Errorf("mint token pair: %w", err)
	}

	d.touchLastSeen(accounts, entry.Kind, acct.ID)

	return principalFrom(&claims, acct), pair, nil
}

// dummyHash is a bcrypt hash of a random string nobody knows. Compared
// against when the email lookup misses, to equalize login timing.
var dummyHash = func() string {
	h, err := HashPassword("tablefront-timing-equalizer")
	if err != nil {
		panic(err)
	}
	return h
}()
