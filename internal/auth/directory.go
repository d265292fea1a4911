package auth

import (
	"github.com/tablefront/go-core/internal/tenant"
	"github.com/tablefront/go-core/internal/token"
)

// StorageScope says where a role's account records live.
type StorageScope int

const (
	// ScopePlatform accounts live in the shared platform store.
	ScopePlatform StorageScope = iota
	// ScopeTenant accounts live inside one tenant's isolated scope.
	ScopeTenant
)

// DirectoryEntry maps one role to its storage scope and entity kind.
type DirectoryEntry struct {
	Scope          StorageScope
	Kind           tenant.AccountKind
	TenantRequired bool
}

// directory is the single decision table for role-dependent account
// resolution. Immutable; defined at startup.
var directory = map[token.Role]DirectoryEntry{
	token.RolePlatformAdmin: {Scope: ScopePlatform, Kind: tenant.KindPlatformAdmin},
	token.RoleOwner:         {Scope: ScopePlatform, Kind: tenant.KindOwner},
	token.RoleManager:       {Scope: ScopeTenant, Kind: tenant.KindManager, TenantRequired: true},
	token.RoleEmployee:      {Scope: ScopeTenant, Kind: tenant.KindEmployee, TenantRequired: true},
	token.RoleCustomer:      {Scope: ScopeTenant, Kind: tenant.KindCustomer, TenantRequired: true},
}

// Directory returns the directory entry for role.
func Directory(role token.Role) (DirectoryEntry, bool) {
	e, ok := directory[role]
	return e, ok
}
