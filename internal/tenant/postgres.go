package tenant

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/golang-migrate/migrate/v4"
	migratepg "github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/lib/pq"
	"go.uber.org/zap"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// Tenant identifiers come from subdomains and token claims; anything that
// can't become a postgres schema name is rejected before touching the DB.
var tenantIDPattern = regexp.MustCompile(`^[a-z0-9][a-z0-9-]{0,61}$`)

// SchemaName derives the postgres schema backing a tenant's scope.
func SchemaName(tenantID string) (string, error) {
	if !tenantIDPattern.MatchString(tenantID) {
		return "", fmt.Errorf("invalid tenant id %q", tenantID)
	}
	return "tenant_" + strings.ReplaceAll(tenantID, "-", "_"), nil
}

// PGProvisionerConfig configures postgres-backed scope provisioning.
type PGProvisionerConfig struct {
	// DSN is the base connection string; each tenant scope opens its own
	// small pool with search_path pinned to the tenant schema.
	DSN string

	// MaxConnsPerTenant bounds each tenant pool.
	MaxConnsPerTenant int

	Logger *zap.Logger
}

// PGProvisioner creates tenant schemas on demand: CREATE SCHEMA, run the
// embedded account migrations inside it, and hand back a schema-pinned
// account store.
type PGProvisioner struct {
	admin  *sql.DB
	cfg    PGProvisionerConfig
	logger *zap.Logger
}

// NewPGProvisioner creates a postgres provisioner. admin is a shared
// connection used only for schema creation.
func NewPGProvisioner(admin *sql.DB, cfg PGProvisionerConfig) (*PGProvisioner, error) {
	if admin == nil {
		return nil, fmt.Errorf("admin connection is required")
	}
	if cfg.DSN == "" {
		return nil, fmt.Errorf("dsn is required")
	}
	if cfg.MaxConnsPerTenant == 0 {
		cfg.MaxConnsPerTenant = 5
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	return &PGProvisioner{admin: admin, cfg: cfg, logger: cfg.Logger}, nil
}

// Provision implements Provisioner.
func (p *PGProvisioner) Provision(ctx context.Context, tenantID string) (Accounts, error) {
	schema, err := SchemaName(tenantID)
	if err != nil {
		return nil, err
	}

	if _, err := p.admin.ExecContext(ctx, fmt.Sprintf("CREATE SCHEMA IF NOT EXISTS %s", pq.QuoteIdentifier(schema))); err != nil {
		return nil, fmt.Errorf("create schema: %w", err)
	}

	scoped, err := sql.Open("postgres", dsnWithSearchPath(p.cfg.DSN, schema))
	if err != nil {
		return nil, fmt.Errorf("open tenant pool: %w", err)
	}
	scoped.SetMaxOpenConns(p.cfg.MaxConnsPerTenant)
	scoped.SetConnMaxIdleTime(5 * time.Minute)

	if err := scoped.PingContext(ctx); err != nil {
		scoped.Close()
		return nil, fmt.Errorf("ping tenant pool: %w", err)
	}

	if err := p.migrateSchema(scoped, schema); err != nil {
		scoped.Close()
		return nil, err
	}

	return &pgAccounts{db: scoped, schema: schema}, nil
}

func (p *PGProvisioner) migrateSchema(db *sql.DB, schema string) error {
	driver, err := migratepg.WithInstance(db, &migratepg.Config{
		SchemaName:      schema,
		MigrationsTable: "schema_migrations",
	})
	if err != nil {
		return fmt.Errorf("migration driver: %w", err)
	}

	src, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("migration source: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", src, "postgres", driver)
	if err != nil {
		return fmt.Errorf("migrate instance: %w", err)
	}

	if err := m.Up(); err != nil && err != migrate.ErrNoChange {
		return fmt.Errorf("migrate tenant schema %s: %w", schema, err)
	}

	p.logger.Debug("tenant schema migrated", zap.String("schema", schema))
	return nil
}

func dsnWithSearchPath(dsn, schema string) string {
	if strings.Contains(dsn, "://") {
		sep := "?"
		if strings.Contains(dsn, "?") {
			sep = "&"
		}
		return dsn + sep + "search_path=" + schema
	}
	// key=value form
	return dsn + " search_path=" + schema
}

// pgAccounts serves account lookups from one tenant schema. The pool's
// search_path pins every query to that schema.
type pgAccounts struct {
	db     *sql.DB
	schema string
}

func (a *pgAccounts) Lookup(ctx context.Context, kind AccountKind, id string) (*Account, error) {
	switch kind {
	case KindManager:
		return a.manager(ctx, "id", id)
	case KindEmployee:
		return a.pinned(ctx, "employees", KindEmployee, "id", id)
	case KindCustomer:
		return a.pinned(ctx, "customers", KindCustomer, "id", id)
	default:
		return nil, fmt.Errorf("account kind %s is not tenant-scoped", kind)
	}
}

func (a *pgAccounts) LookupByEmail(ctx context.Context, kind AccountKind, email string) (*Account, error) {
	switch kind {
	case KindManager:
		return a.manager(ctx, "email", email)
	case KindEmployee:
		return a.pinned(ctx, "employees", KindEmployee, "email", email)
	case KindCustomer:
		return a.pinned(ctx, "customers", KindCustomer, "email", email)
	default:
		return nil, fmt.Errorf("account kind %s is not tenant-scoped", kind)
	}
}

func (a *pgAccounts) manager(ctx context.Context, col, val string) (*Account, error) {
	acct := &Account{Kind: KindManager}
	var assigned pq.StringArray
	err := a.db.QueryRowContext(ctx, fmt.Sprintf(
		`SELECT id, email, password_hash, active, assigned_restaurant_ids, last_seen_at
		   FROM managers WHERE %s = $1`, col), val).
		Scan(&acct.ID, &acct.Email, &acct.PasswordHash, &acct.Active, &assigned, &acct.LastSeenAt)
	if err == sql.ErrNoRows {
		return nil, ErrAccountNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("lookup manager: %w", err)
	}
	acct.AssignedRestaurantIDs = []string(assigned)
	return acct, nil
}

func (a *pgAccounts) pinned(ctx context.Context, table string, kind AccountKind, col, val string) (*Account, error) {
	acct := &Account{Kind: kind}
	cols := `id, email, password_hash, active, restaurant_id, last_seen_at`
	dest := []interface{}{&acct.ID, &acct.Email, &acct.PasswordHash, &acct.Active, &acct.RestaurantID, &acct.LastSeenAt}
	if table == "customers" {
		cols = `id, email, password_hash, active, blocked, restaurant_id, last_seen_at`
		dest = []interface{}{&acct.ID, &acct.Email, &acct.PasswordHash, &acct.Active, &acct.Blocked, &acct.RestaurantID, &acct.LastSeenAt}
	}
	err := a.db.QueryRowContext(ctx, fmt.Sprintf(
		`SELECT %s FROM %s WHERE %s = $1`, cols, table, col), val).Scan(dest...)
	if err == sql.ErrNoRows {
		return nil, ErrAccountNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("lookup %s: %w", table, err)
	}
	return acct, nil
}

func (a *pgAccounts) TouchLastSeen(ctx context.Context, kind AccountKind, id string) error {
	table, err := tableFor(kind)
	if err != nil {
		return err
	}
	_, err = a.db.ExecContext(ctx, fmt.Sprintf(
		`UPDATE %s SET last_seen_at = now() WHERE id = $1`, table), id)
	return err
}

func tableFor(kind AccountKind) (string, error) {
	switch kind {
	case KindManager:
		return "managers", nil
	case KindEmployee:
		return "employees", nil
	case KindCustomer:
		return "customers", nil
	}
	return "", fmt.Errorf("account kind %s is not tenant-scoped", kind)
}
