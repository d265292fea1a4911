package rest

import (
	"net"
	"net/http"
	"strings"
)

// Subdomain labels that address the platform itself rather than a tenant.
var reservedSubdomains = map[string]struct{}{
	"www":      {},
	"api":      {},
	"platform": {},
}

// tenantFromHost extracts the tenant identifier from the request host.
// "sunset-grill.tablefront.com" resolves to "sunset-grill"; reserved labels
// and bare domains resolve to the empty string, meaning tenancy must come
// from the authenticated principal instead.
func tenantFromHost(host string) string {
	if h, _, err := net.SplitHostPort(host); err == nil {
		host = h
	}
	labels := strings.Split(strings.ToLower(host), ".")
	if len(labels) < 3 {
		return ""
	}
	first := labels[0]
	if _, reserved := reservedSubdomains[first]; reserved {
		return ""
	}
	return first
}

// resolveTenant attaches the host-derived tenant to the request context. When
// the host carries no tenant, the authentication middleware falls back to the
// principal's tenant claim later in the chain.
func (s *Server) resolveTenant(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if tenantID := tenantFromHost(r.Host); tenantID != "" {
			r = r.WithContext(withTenant(r.Context(), tenantID))
		}
		next.ServeHTTP(w, r)
	})
}
