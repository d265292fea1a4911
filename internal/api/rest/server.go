// Package rest is the HTTP ingress for the identity and tenancy core: it
// resolves the tenant from the host, rate limits by route class,
// authenticates bearer tokens and hands authorized, scope-filtered
// requests to handlers.
package rest

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"github.com/tablefront/go-core/internal/audit"
	"github.com/tablefront/go-core/internal/auth"
	"github.com/tablefront/go-core/internal/metrics"
	"github.com/tablefront/go-core/internal/ratelimit"
	"github.com/tablefront/go-core/internal/token"
)

// Config configures the HTTP server.
type Config struct {
	Addr string

	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration

	// SecureCookies marks the refresh cookie Secure. Disabled only for
	// local development over plain HTTP.
	SecureCookies bool

	Logger  *zap.Logger
	Metrics *metrics.Core
}

// Deps are the collaborators the ingress pipeline drives.
type Deps struct {
	Dispatcher *auth.Dispatcher
	Codec      *token.Codec
	Limiter    ratelimit.Limiter
	Policies   *ratelimit.PolicyStore
	Audit      *audit.Logger
}

// Server is the REST front of the service.
type Server struct {
	httpServer *http.Server
	router     *mux.Router
	protected  *mux.Router
	guest      *mux.Router

	dispatcher *auth.Dispatcher
	codec      *token.Codec
	limiter    ratelimit.Limiter
	policies   *ratelimit.PolicyStore
	audit      *audit.Logger

	metrics       *metrics.Core
	logger        *zap.Logger
	secureCookies bool
}

// NewServer wires the middleware chain and routes.
func NewServer(cfg Config, deps Deps) (*Server, error) {
	if deps.Dispatcher == nil {
		return nil, fmt.Errorf("dispatcher is required")
	}
	if deps.Codec == nil {
		return nil, fmt.Errorf("token codec is required")
	}
	if deps.Limiter == nil {
		return nil, fmt.Errorf("rate limiter is required")
	}
	if deps.Policies == nil {
		deps.Policies = ratelimit.NewPolicyStore(ratelimit.DefaultPolicy(), "", nil)
	}
	if cfg.Addr == "" {
		cfg.Addr = ":8080"
	}
	if cfg.ReadTimeout == 0 {
		cfg.ReadTimeout = 10 * time.Second
	}
	if cfg.WriteTimeout == 0 {
		cfg.WriteTimeout = 15 * time.Second
	}
	if cfg.IdleTimeout == 0 {
		cfg.IdleTimeout = 60 * time.Second
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}

	s := &Server{
		dispatcher:    deps.Dispatcher,
		codec:         deps.Codec,
		limiter:       deps.Limiter,
		policies:      deps.Policies,
		audit:         deps.Audit,
		metrics:       cfg.Metrics,
		logger:        cfg.Logger,
		secureCookies: cfg.SecureCookies,
	}
	s.router = s.routes()
	s.httpServer = &http.Server{
		Addr:         cfg.Addr,
		Handler:      s.router,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  cfg.IdleTimeout,
	}
	return s, nil
}

func (s *Server) routes() *mux.Router {
	r := mux.NewRouter()
	r.Use(s.realIP, s.trackRequests, s.resolveTenant)

	r.HandleFunc("/healthz", s.handleHealth).Methods(http.MethodGet)

	// Credential surface: strict per-address budget, no auth required.
	creds := r.PathPrefix("/v1/auth").Subrouter()
	creds.Use(s.credentialRateLimit)
	creds.HandleFunc("/login", s.handleLogin).Methods(http.MethodPost)
	creds.HandleFunc("/refresh", s.handleRefresh).Methods(http.MethodPost)
	creds.HandleFunc("/logout", s.handleLogout).Methods(http.MethodPost)

	// Session introspection rides the general authenticated budget.
	me := r.PathPrefix("/v1/auth/me").Subrouter()
	me.Use(s.requireAuth, s.apiRateLimit)
	me.HandleFunc("", s.handleMe).Methods(http.MethodGet)

	// Guest-accessible routes: menus, availability. A valid token attaches
	// a principal; anonymous requests pass through on the per-address
	// budget.
	s.guest = r.PathPrefix("/v1/public").Subrouter()
	s.guest.Use(s.optionalAuth, s.apiRateLimit)

	// Business routes mount under /v1 behind the full pipeline.
	s.protected = r.PathPrefix("/v1").Subrouter()
	s.protected.Use(s.requireAuth, s.apiRateLimit, s.authorize)

	return r
}

// Guest returns the subrouter for guest-accessible routes. Requests may or
// may not carry a principal; handlers check PrincipalFrom.
func (s *Server) Guest() *mux.Router {
	return s.guest
}

// Protected returns the subrouter carrying the full ingress pipeline
// (authentication, rate limiting, scope authorization). Feature packages
// mount their handlers here.
func (s *Server) Protected() *mux.Router {
	return s.protected
}

// Handler exposes the root router, mainly for tests.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// Start serves until the listener fails or Shutdown is called.
func (s *Server) Start() error {
	s.logger.Info("http server listening", zap.String("addr", s.httpServer.Addr))
	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("http server: %w", err)
	}
	return nil
}

// Shutdown drains in-flight requests until ctx expires.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("http server shutting down")
	return s.httpServer.Shutdown(ctx)
}
