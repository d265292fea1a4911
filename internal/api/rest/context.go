package rest

import (
	"context"

	"github.com/tablefront/go-core/internal/access"
	"github.com/tablefront/go-core/internal/auth"
)

type contextKey int

const (
	principalKey contextKey = iota
	tenantKey
	filterKey
	clientIPKey
)

// PrincipalFrom returns the authenticated principal attached to the request
// context, or nil when the request was anonymous.
func PrincipalFrom(ctx context.Context) *auth.Principal {
	p, _ := ctx.Value(principalKey).(*auth.Principal)
	return p
}

// TenantFrom returns the tenant identifier resolved for the request. It is
// empty for platform-level requests.
func TenantFrom(ctx context.Context) string {
	t, _ := ctx.Value(tenantKey).(string)
	return t
}

// FilterFrom returns the scope filter computed for the request. Handlers and
// storage layers apply it to queries; a nil filter means the authorization
// middleware did not run.
func FilterFrom(ctx context.Context) *access.ScopeFilter {
	f, _ := ctx.Value(filterKey).(*access.ScopeFilter)
	return f
}

// ClientIPFrom returns the client address extracted by the ingress middleware.
func ClientIPFrom(ctx context.Context) string {
	ip, _ := ctx.Value(clientIPKey).(string)
	return ip
}

func withPrincipal(ctx context.Context, p *auth.Principal) context.Context {
	return context.WithValue(ctx, principalKey, p)
}

func withTenant(ctx context.Context, tenantID string) context.Context {
	return context.WithValue(ctx, tenantKey, tenantID)
}

func withFilter(ctx context.Context, f *access.ScopeFilter) context.Context {
	return context.WithValue(ctx, filterKey, f)
}

func withClientIP(ctx context.Context, ip string) context.Context {
	return context.WithValue(ctx, clientIPKey, ip)
}
