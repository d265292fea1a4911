// Package access decides what an authenticated principal may touch. The
// decisions are pure functions over the Principal and the requested
// resource scope; no I/O, no state.
package access

import (
	"fmt"

	"github.com/tablefront/go-core/internal/auth"
	"github.com/tablefront/go-core/internal/token"
)

// ResourceScope names what a request wants to touch. Zero values mean
// "unscoped": the caller asked for a listing rather than one resource.
type ResourceScope struct {
	// RestaurantID is the explicit restaurant a request targets, if any.
	RestaurantID string

	// OwnerID scopes owner-level resources (billing, staff roster).
	OwnerID string
}

// ScopeFilter is the implicit query restriction handed to business logic.
// Restricted distinguishes "no restriction" from "restricted to the empty
// set": a manager with nothing assigned matches no restaurants at all,
// which is not the same as an admin's unrestricted view.
type ScopeFilter struct {
	RestaurantIDs []string
	Restricted    bool
}

// Unscoped reports whether the filter imposes no restaurant restriction.
func (f *ScopeFilter) Unscoped() bool {
	return f == nil || !f.Restricted
}

// Decision is the transient result of an authorization check.
type Decision struct {
	Allowed bool
	Filter  *ScopeFilter
}

// OwnedResource is implemented by resources that belong to one customer,
// such as a reservation or an order.
type OwnedResource interface {
	OwnerCustomerID() string
}

// Authorize decides whether p may operate within scope and derives the
// effective query filter. Returns auth.ErrForbidden on denial; the
// pipeline guarantees authentication failures short-circuited earlier.
func Authorize(p *auth.Principal, scope ResourceScope) (Decision, error) {
	if p == nil {
		return Decision{}, fmt.Errorf("%w: no principal", auth.ErrForbidden)
	}

	switch p.Role {
	case token.RolePlatformAdmin:
		// Unscoped across the whole platform.
		return Decision{Allowed: true}, nil

	case token.RoleOwner:
		if scope.OwnerID != "" && scope.OwnerID != p.TenantID {
			return Decision{}, fmt.Errorf("%w: resource belongs to another tenant", auth.ErrForbidden)
		}
		// Unscoped within the owner's own tenant.
		return Decision{Allowed: true}, nil

	case token.RoleManager:
		if scope.RestaurantID != "" {
			if !p.ManagesRestaurant(scope.RestaurantID) {
				return Decision{}, fmt.Errorf("%w: restaurant %s is not assigned to this manager", auth.ErrForbidden, scope.RestaurantID)
			}
			return Decision{
				Allowed: true,
				Filter:  &ScopeFilter{RestaurantIDs: []string{scope.RestaurantID}, Restricted: true},
			}, nil
		}
		// List requests narrow to the assigned set. An empty set stays an
		// empty restriction: a manager with no assignments sees nothing.
		return Decision{
			Allowed: true,
			Filter:  &ScopeFilter{RestaurantIDs: append([]string(nil), p.AssignedRestaurantIDs...), Restricted: true},
		}, nil

	case token.RoleEmployee, token.RoleCustomer:
		if scope.RestaurantID != "" && scope.RestaurantID != p.RestaurantID {
			// An explicit conflicting restaurant is rejected, never
			// silently rewritten to the caller's own.
			return Decision{}, fmt.Errorf("%w: restaurant %s is outside the caller's scope", auth.ErrForbidden, scope.RestaurantID)
		}
		// Omitted scope pins to the caller's restaurant.
		return Decision{
			Allowed: true,
			Filter:  &ScopeFilter{RestaurantIDs: []string{p.RestaurantID}, Restricted: true},
		}, nil
	}

	return Decision{}, fmt.Errorf("%w: role %q has no access rule", auth.ErrForbidden, p.Role)
}

// AuthorizeOwnership checks that a customer only touches resources that
// embed their own identity. Staff roles bypass the ownership check; their
// access was already settled by Authorize.
func AuthorizeOwnership(p *auth.Principal, resource OwnedResource) error {
	if p == nil {
		return fmt.Errorf("%w: no principal", auth.ErrForbidden)
	}
	if p.Role != token.RoleCustomer {
		return nil
	}
	if resource.OwnerCustomerID() != p.ID {
		return fmt.Errorf("%w: resource belongs to another customer", auth.ErrForbidden)
	}
	return nil
}
