package auth

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/tablefront/go-core/internal/metrics"
	"github.com/tablefront/go-core/internal/tenant"
	"github.com/tablefront/go-core/internal/token"
)

// DispatcherConfig configures the authentication dispatcher.
type DispatcherConfig struct {
	// LookupTimeout bounds the single account point-read.
	LookupTimeout time.Duration

	Logger  *zap.Logger
	Metrics *metrics.Core
}

// Dispatcher turns bearer tokens into Principals. One instance serves all
// roles; the role directory decides which scope the account is read from.
type Dispatcher struct {
	codec    *token.Codec
	registry *tenant.Registry
	platform tenant.Accounts

	lookupTimeout time.Duration
	logger        *zap.Logger
	metrics       *metrics.Core
}

// NewDispatcher creates an authentication dispatcher. platform serves
// platform-admin and owner lookups; tenant-scoped roles resolve through
// the registry.
func NewDispatcher(codec *token.Codec, registry *tenant.Registry, platform tenant.Accounts, cfg DispatcherConfig) (*Dispatcher, error) {
	if codec == nil {
		return nil, fmt.Errorf("codec is required")
	}
	if registry == nil {
		return nil, fmt.Errorf("tenant registry is required")
	}
	if platform == nil {
		return nil, fmt.Errorf("platform account store is required")
	}
	if cfg.LookupTimeout == 0 {
		cfg.LookupTimeout = 3 * time.Second
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}

	return &Dispatcher{
		codec:         codec,
		registry:      registry,
		platform:      platform,
		lookupTimeout: cfg.LookupTimeout,
		logger:        cfg.Logger,
		metrics:       cfg.Metrics,
	}, nil
}

// Authenticate verifies an access token, loads the account it names and
// returns the Principal. Failures are one of the taxonomy errors:
// ErrUnauthenticated, ErrMalformedCredential, ErrForbidden or the
// retryable ErrServiceUnavailable.
func (d *Dispatcher) Authenticate(ctx context.Context, bearer string) (*Principal, error) {
	start := time.Now()
	p, err := d.authenticate(ctx, bearer)
	d.metrics.ObserveAuth(outcomeLabel(err), time.Since(start))
	return p, err
}

func (d *Dispatcher) authenticate(ctx context.Context, bearer string) (*Principal, error) {
	claims, err := d.codec.VerifyAccess(bearer)
	if err != nil {
		if errors.Is(err, token.ErrMalformedCredential) {
			return nil, fmt.Errorf("%w: %v", ErrMalformedCredential, err)
		}
		return nil, fmt.Errorf("%w: %v", ErrUnauthenticated, err)
	}

	entry, ok := Directory(claims.Role)
	if !ok {
		return nil, fmt.Errorf("%w: role %q has no directory entry", ErrMalformedCredential, claims.Role)
	}
	if entry.TenantRequired && claims.TenantID == "" {
		return nil, fmt.Errorf("%w: role %s requires a tenant id", ErrMalformedCredential, claims.Role)
	}

	accounts, err := d.accountsFor(ctx, entry, claims)
	if err != nil {
		return nil, err
	}

	lookupCtx, cancel := context.WithTimeout(ctx, d.lookupTimeout)
	defer cancel()

	acct, err := accounts.Lookup(lookupCtx, entry.Kind, claims.SubjectID())
	if err != nil {
		if errors.Is(err, tenant.ErrAccountNotFound) {
			return nil, fmt.Errorf("%w: account not found", ErrUnauthenticated)
		}
		// Store unreachable or lookup timed out: retryable, not a
		// credential failure.
		return nil, fmt.Errorf("%w: account lookup: %v", ErrServiceUnavailable, err)
	}

	if !acct.Active {
		return nil, fmt.Errorf("%w: account deactivated", ErrUnauthenticated)
	}
	if acct.Blocked {
		return nil, fmt.Errorf("%w: account blocked", ErrForbidden)
	}

	d.touchLastSeen(accounts, entry.Kind, acct.ID)

	return principalFrom(claims, acct), nil
}

// OptionalAuthenticate behaves like Authenticate but a missing or invalid
// credential yields (nil, nil) for guest-accessible routes. Infrastructure
// failures and blocked accounts still surface as errors.
func (d *Dispatcher) OptionalAuthenticate(ctx context.Context, bearer string) (*Principal, error) {
	if bearer == "" {
		return nil, nil
	}
	p, err := d.Authenticate(ctx, bearer)
	if err != nil {
		if errors.Is(err, ErrUnauthenticated) || errors.Is(err, ErrMalformedCredential) {
			return nil, nil
		}
		return nil, err
	}
	return p, nil
}

// Refresh verifies a refresh token and mints a new access token from the
// refresh claims alone. The account is deliberately not re-read, which
// keeps refresh a pure CPU operation; permission or status changes are
// not reflected until the access token expires and the caller
// re-authenticates fully.
func (d *Dispatcher) Refresh(ctx context.Context, refreshToken string) (string, error) {
	claims, err := d.codec.VerifyRefresh(refreshToken)
	if err != nil {
		if errors.Is(err, token.ErrMalformedCredential) {
			return "", fmt.Errorf("%w: %v", ErrMalformedCredential, err)
		}
		return "", fmt.Errorf("%w: %v", ErrUnauthenticated, err)
	}

	access, err := d.codec.IssueAccess(token.Claims{
		RegisteredClaims: claims.RegisteredClaims,
		Role:             claims.Role,
		TenantID:         claims.TenantID,
	})
	if err != nil {
		return "", fmt.Errorf("mint access token: %w", err)
	}
	return access, nil
}

func (d *Dispatcher) accountsFor(ctx context.Context, entry DirectoryEntry, claims *token.Claims) (tenant.Accounts, error) {
	if entry.Scope == ScopePlatform {
		return d.platform, nil
	}
	handle, err := d.registry.Resolve(ctx, claims.TenantID)
	if err != nil {
		// Retryable outage, never reported as a credential failure.
		return nil, fmt.Errorf("%w: %v", ErrServiceUnavailable, err)
	}
	return handle.Accounts, nil
}

// touchLastSeen records activity without ever blocking or failing the
// authentication call.
func (d *Dispatcher) touchLastSeen(accounts tenant.Accounts, kind tenant.AccountKind, id string) {
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), d.lookupTimeout)
		defer cancel()
		if err := accounts.TouchLastSeen(ctx, kind, id); err != nil {
			d.logger.Debug("last-seen update failed",
				zap.String("account_id", id),
				zap.Error(err),
			)
		}
	}()
}

func principalFrom(claims *token.Claims, acct *tenant.Account) *Principal {
	p := &Principal{
		ID:      acct.ID,
		Role:    claims.Role,
		Active:  acct.Active,
		Blocked: acct.Blocked,
	}

	switch claims.Role {
	case token.RolePlatformAdmin:
		// Platform admins carry no tenant.
	case token.RoleOwner:
		// An owner's tenant is their own identity.
		p.TenantID = acct.ID
	case token.RoleManager:
		p.TenantID = claims.TenantID
		p.AssignedRestaurantIDs = acct.AssignedRestaurantIDs
	case token.RoleEmployee, token.RoleCustomer:
		p.TenantID = claims.TenantID
		p.RestaurantID = acct.RestaurantID
	}
	return p
}

func outcomeLabel(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, ErrForbidden):
		return "forbidden"
	case errors.Is(err, ErrServiceUnavailable):
		return "unavailable"
	case errors.Is(err, ErrMalformedCredential):
		return "malformed"
	default:
		return "unauthenticated"
	}
}
