package rest

import (
	"errors"
	"net"
	"net/http"
	"strings"

	"go.uber.org/zap"

	"github.com/tablefront/go-core/internal/access"
	"github.com/tablefront/go-core/internal/audit"
	"github.com/tablefront/go-core/internal/auth"
	"github.com/tablefront/go-core/internal/ratelimit"
)

// realIP extracts the client address, preferring proxy headers over the
// socket peer, and stores it on the context for rate limiting and audit.
func (s *Server) realIP(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		next.ServeHTTP(w, r.WithContext(withClientIP(r.Context(), clientIP(r))))
	})
}

func clientIP(r *http.Request) string {
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		// First hop is the original client.
		if i := strings.IndexByte(fwd, ','); i >= 0 {
			fwd = fwd[:i]
		}
		return strings.TrimSpace(fwd)
	}
	if rip := r.Header.Get("X-Real-IP"); rip != "" {
		return strings.TrimSpace(rip)
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

func (s *Server) trackRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s.metrics.RequestStarted()
		defer s.metrics.RequestFinished()
		next.ServeHTTP(w, r)
	})
}

// credentialRateLimit gates the login and refresh surface with the strict
// per-route, per-address budget.
func (s *Server) credentialRateLimit(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		budget := s.policies.Current().Credential
		key := ratelimit.AuthKey(r.URL.Path, ClientIPFrom(r.Context()))
		res := s.limiter.Consume(r.Context(), key, budget.Window.Std(), budget.Max)
		if !res.Allowed {
			s.auditRateLimited(r)
			s.writeRateLimited(w, res)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// apiRateLimit gates general API traffic. Authenticated requests draw from
// a per-principal budget so a busy tenant cannot starve others behind one
// NAT address; anonymous requests fall back to a per-address budget.
func (s *Server) apiRateLimit(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		policy := s.policies.Current()
		var (
			budget ratelimit.RoutePolicy
			key    string
		)
		if p := PrincipalFrom(r.Context()); p != nil {
			budget = policy.Authenticated
			key = ratelimit.PrincipalKey(p.ID, string(p.Role))
		} else {
			budget = policy.Anonymous
			key = ratelimit.IPKey(ClientIPFrom(r.Context()))
		}
		res := s.limiter.Consume(r.Context(), key, budget.Window.Std(), budget.Max)
		if !res.Allowed {
			s.auditRateLimited(r)
			s.writeRateLimited(w, res)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// requireAuth authenticates the bearer token and rejects the request when
// no valid principal results.
func (s *Server) requireAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		principal, err := s.dispatcher.Authenticate(r.Context(), bearerToken(r))
		if err != nil {
			s.logger.Debug("authentication rejected",
				zap.String("path", r.URL.Path),
				zap.Error(err))
			if errors.Is(err, auth.ErrForbidden) {
				s.audit.Record(audit.Event{
					Type: audit.EventAccountBlocked,
					IP:   ClientIPFrom(r.Context()),
					Path: r.URL.Path,
				})
			}
			s.writeError(w, r, err)
			return
		}
		ctx := withPrincipal(r.Context(), principal)
		if TenantFrom(ctx) == "" && principal.TenantID != "" {
			ctx = withTenant(ctx, principal.TenantID)
		}
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// optionalAuth attaches a principal when a valid token is present and lets
// anonymous requests through untouched. Infrastructure failures still fail
// the request rather than silently downgrading it to anonymous.
func (s *Server) optionalAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		principal, err := s.dispatcher.OptionalAuthenticate(r.Context(), bearerToken(r))
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		ctx := r.Context()
		if principal != nil {
			ctx = withPrincipal(ctx, principal)
			if TenantFrom(ctx) == "" && principal.TenantID != "" {
				ctx = withTenant(ctx, principal.TenantID)
			}
		}
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// authorize computes the request's scope decision from the principal and
// the restaurant the route targets, and attaches the resulting filter for
// handlers to apply to their queries.
func (s *Server) authorize(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		principal := PrincipalFrom(r.Context())
		decision, err := access.Authorize(principal, scopeFromRequest(r))
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		filter := decision.Filter
		if filter == nil {
			filter = &access.ScopeFilter{}
		}
		next.ServeHTTP(w, r.WithContext(withFilter(r.Context(), filter)))
	})
}

// scopeFromRequest derives the targeted resource scope from the request.
// An absent restaurant id means the caller wants its default visibility.
func scopeFromRequest(r *http.Request) access.ResourceScope {
	id := r.URL.Query().Get("restaurant_id")
	if id == "" {
		id = r.Header.Get("X-Restaurant-ID")
	}
	return access.ResourceScope{RestaurantID: id}
}

func bearerToken(r *http.Request) string {
	h := r.Header.Get("Authorization")
	if h == "" {
		return ""
	}
	const prefix = "Bearer "
	if len(h) > len(prefix) && strings.EqualFold(h[:len(prefix)], prefix) {
		return h[len(prefix):]
	}
	return ""
}

func (s *Server) auditRateLimited(r *http.Request) {
	ev := audit.Event{
		Type: audit.EventRateLimitExceeded,
		IP:   ClientIPFrom(r.Context()),
		Path: r.URL.Path,
	}
	if p := PrincipalFrom(r.Context()); p != nil {
		ev.SubjectID = p.ID
		ev.Role = string(p.Role)
		ev.TenantID = p.TenantID
	}
	s.audit.Record(ev)
}
