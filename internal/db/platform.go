package db

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/tablefront/go-core/internal/tenant"
)

// PlatformAccounts serves admin and owner lookups from the platform
// schema. It implements tenant.Accounts for the platform storage scope.
type PlatformAccounts struct {
	conn *sql.DB
}

// NewPlatformAccounts wraps conn as the platform-scope account store.
func NewPlatformAccounts(conn *sql.DB) *PlatformAccounts {
	return &PlatformAccounts{conn: conn}
}

// Lookup implements tenant.Accounts.
func (s *PlatformAccounts) Lookup(ctx context.Context, kind tenant.AccountKind, id string) (*tenant.Account, error) {
	table, err := platformTable(kind)
	if err != nil {
		return nil, err
	}
	return s.scan(ctx, kind, table, "id", id)
}

// LookupByEmail implements tenant.Accounts.
func (s *PlatformAccounts) LookupByEmail(ctx context.Context, kind tenant.AccountKind, email string) (*tenant.Account, error) {
	table, err := platformTable(kind)
	if err != nil {
		return nil, err
	}
	return s.scan(ctx, kind, table, "email", email)
}

// TouchLastSeen implements tenant.Accounts.
func (s *PlatformAccounts) TouchLastSeen(ctx context.Context, kind tenant.AccountKind, id string) error {
	table, err := platformTable(kind)
	if err != nil {
		return err
	}
	_, err = s.conn.ExecContext(ctx, fmt.Sprintf(
		`UPDATE %s SET last_seen_at = now() WHERE id = $1`, table), id)
	return err
}

func (s *PlatformAccounts) scan(ctx context.Context, kind tenant.AccountKind, table, col, val string) (*tenant.Account, error) {
	acct := &tenant.Account{Kind: kind}
	err := s.conn.QueryRowContext(ctx, fmt.Sprintf(
		`SELECT id, email, password_hash, active, last_seen_at FROM %s WHERE %s = $1`, table, col), val).
		Scan(&acct.ID, &acct.Email, &acct.PasswordHash, &acct.Active, &acct.LastSeenAt)
	if err == sql.ErrNoRows {
		return nil, tenant.ErrAccountNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("lookup %s: %w", table, err)
	}
	if kind == tenant.KindOwner {
		// An owner's tenant scope is keyed by their own identity.
		acct.TenantID = acct.ID
	}
	return acct, nil
}

func platformTable(kind tenant.AccountKind) (string, error) {
	switch kind {
	case tenant.KindPlatformAdmin:
		return "platform_admins", nil
	case tenant.KindOwner:
		return "owners", nil
	}
	return "", fmt.Errorf("account kind %s is not platform-scoped", kind)
}
