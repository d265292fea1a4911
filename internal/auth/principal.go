// Package auth resolves bearer credentials into request-scoped principals.
// It combines the role directory (which storage scope an account kind
// lives in) with the tenant registry and the credential codec.
package auth

import (
	"github.com/tablefront/go-core/internal/token"
)

// Principal is the normalized, request-scoped identity every downstream
// handler receives. Built per request from a verified token plus the
// stored account; never persisted.
type Principal struct {
	ID       string     `json:"id"`
	Role     token.Role `json:"role"`
	TenantID string     `json:"tenant_id,omitempty"`

	// RestaurantID pins employees and customers to their restaurant.
	RestaurantID string `json:"restaurant_id,omitempty"`

	// AssignedRestaurantIDs lists the restaurants a manager oversees.
	AssignedRestaurantIDs []string `json:"assigned_restaurant_ids,omitempty"`

	Active  bool `json:"active"`
	Blocked bool `json:"blocked"`
}

// PlatformWide reports whether the principal operates outside any single
// tenant scope.
func (p *Principal) PlatformWide() bool {
	return p.Role == token.RolePlatformAdmin
}

// ManagesRestaurant reports whether a manager principal oversees id.
func (p *Principal) ManagesRestaurant(id string) bool {
	for _, r := range p.AssignedRestaurantIDs {
		if r == id {
			return true
		}
	}
	return false
}
