// Package tenant locates and caches the isolated data scope each tenant's
// records live in. A Handle is created lazily on first access, survives for
// the process lifetime, and is shared by every request for that tenant.
package tenant

import (
	"context"
	"errors"
	"time"
)

// AccountKind names the entity type an account record is stored as.
type AccountKind string

const (
	KindPlatformAdmin AccountKind = "PlatformAdmin"
	KindOwner         AccountKind = "Owner"
	KindManager       AccountKind = "Manager"
	KindEmployee      AccountKind = "Employee"
	KindCustomer      AccountKind = "Customer"
)

var (
	// ErrTenantUnavailable is returned when a tenant's data scope cannot
	// be created or reached. Callers may retry; the failure is never
	// cached.
	ErrTenantUnavailable = errors.New("tenant store unavailable")

	// ErrAccountNotFound is returned when no account record exists for
	// the requested kind and id.
	ErrAccountNotFound = errors.New("account not found")
)

// Account is the normalized view of a stored account record, independent
// of which scope or entity kind it came from.
type Account struct {
	ID       string      `json:"id"`
	Kind     AccountKind `json:"kind"`
	TenantID string      `json:"tenant_id,omitempty"`
	Email    string      `json:"email"`

	// PasswordHash is only populated by email lookups for login flows.
	PasswordHash string `json:"-"`

	Active  bool `json:"active"`
	Blocked bool `json:"blocked"`

	// RestaurantID pins employees and customers to one restaurant.
	RestaurantID string `json:"restaurant_id,omitempty"`

	// AssignedRestaurantIDs lists the restaurants a manager oversees.
	AssignedRestaurantIDs []string `json:"assigned_restaurant_ids,omitempty"`

	LastSeenAt *time.Time `json:"last_seen_at,omitempty"`
}

// Accounts is the read surface over one storage scope, either the
// platform-wide scope or a single tenant's scope.
type Accounts interface {
	// Lookup fetches an account by kind and id. Returns
	// ErrAccountNotFound when no record exists.
	Lookup(ctx context.Context, kind AccountKind, id string) (*Account, error)

	// LookupByEmail fetches an account by kind and email, including its
	// password hash. Used by the login surface only.
	LookupByEmail(ctx context.Context, kind AccountKind, email string) (*Account, error)

	// TouchLastSeen records account activity. Best effort; callers treat
	// failures as log-only.
	TouchLastSeen(ctx context.Context, kind AccountKind, id string) error
}
