// Package token issues and verifies the signed credentials that carry
// identity between requests. Access and refresh tokens are signed with
// separate secrets so one can never be replayed as the other.
package token

import (
	"github.com/golang-jwt/jwt/v5"
)

// Role identifies one of the five actor kinds the platform serves.
type Role string

const (
	RolePlatformAdmin Role = "platform-admin"
	RoleOwner         Role = "tenant-owner"
	RoleManager       Role = "manager"
	RoleEmployee      Role = "employee"
	RoleCustomer      Role = "customer"
)

// Valid reports whether r is one of the known roles.
func (r Role) Valid() bool {
	switch r {
	case RolePlatformAdmin, RoleOwner, RoleManager, RoleEmployee, RoleCustomer:
		return true
	}
	return false
}

// TenantScoped reports whether accounts with this role live inside a
// tenant's data scope. Platform admins and owners live platform-wide.
func (r Role) TenantScoped() bool {
	switch r {
	case RoleManager, RoleEmployee, RoleCustomer:
		return true
	}
	return false
}

// Claims is the payload carried by both access and refresh tokens.
type Claims struct {
	jwt.RegisteredClaims

	Role     Role   `json:"role"`
	TenantID string `json:"tenant_id,omitempty"`
}

// SubjectID returns the account identifier the token was minted for.
func (c *Claims) SubjectID() string {
	return c.Subject
}
