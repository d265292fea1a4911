package rest

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/golang-jwt/jwt/v5"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/tablefront/go-core/internal/audit"
	"github.com/tablefront/go-core/internal/auth"
	"github.com/tablefront/go-core/internal/ratelimit"
	"github.com/tablefront/go-core/internal/tenant"
	"github.com/tablefront/go-core/internal/token"
)

type memAccounts struct {
	mu   sync.Mutex
	byID map[string]*tenant.Account
}

func newMemAccounts() *memAccounts {
	return &memAccounts{byID: make(map[string]*tenant.Account)}
}

func (m *memAccounts) add(a *tenant.Account) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.byID[string(a.Kind)+":"+a.ID] = a
}

func (m *memAccounts) Lookup(_ context.Context, kind tenant.AccountKind, id string) (*tenant.Account, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.byID[string(kind)+":"+id]
	if !ok {
		return nil, tenant.ErrAccountNotFound
	}
	cp := *a
	return &cp, nil
}

func (m *memAccounts) LookupByEmail(_ context.Context, kind tenant.AccountKind, email string) (*tenant.Account, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, a := range m.byID {
		if a.Kind == kind && a.Email == email {
			cp := *a
			return &cp, nil
		}
	}
	return nil, tenant.ErrAccountNotFound
}

func (m *memAccounts) TouchLastSeen(_ context.Context, kind tenant.AccountKind, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if a, ok := m.byID[string(kind)+":"+id]; ok {
		now := time.Now()
		a.LastSeenAt = &now
	}
	return nil
}

type memProvisioner struct {
	mu     sync.Mutex
	stores map[string]*memAccounts
	fail   bool
}

func (p *memProvisioner) Provision(_ context.Context, tenantID string) (tenant.Accounts, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.fail {
		return nil, fmt.Errorf("store down")
	}
	store, ok := p.stores[tenantID]
	if !ok {
		store = newMemAccounts()
		p.stores[tenantID] = store
	}
	return store, nil
}

func (p *memProvisioner) setFail(fail bool) {
	p.mu.Lock()
	p.fail = fail
	p.mu.Unlock()
}

type fixture struct {
	server      *Server
	codec       *token.Codec
	platform    *memAccounts
	provisioner *memProvisioner
	password    string
}

func newFixture(t *testing.T, policy ratelimit.Policy) *fixture {
	t.Helper()

	codec, err := token.NewCodec(&token.Config{
		AccessSecret:  "test-access-secret",
		RefreshSecret: "test-refresh-secret",
		AccessTTL:     15 * time.Minute,
		RefreshTTL:    7 * 24 * time.Hour,
		Issuer:        "tablefront",
	})
	require.NoError(t, err)

	const password = "correct-horse-battery"
	hash, err := auth.HashPassword(password)
	require.NoError(t, err)

	grill := newMemAccounts()
	grill.add(&tenant.Account{
		ID: "emp-1", Kind: tenant.KindEmployee, Email: "emp@grill.test",
		PasswordHash: hash, Active: true, RestaurantID: "rest-1",
	})
	grill.add(&tenant.Account{
		ID: "mgr-1", Kind: tenant.KindManager, Email: "mgr@grill.test",
		PasswordHash: hash, Active: true,
		AssignedRestaurantIDs: []string{"rest-1", "rest-2"},
	})
	grill.add(&tenant.Account{
		ID: "cust-1", Kind: tenant.KindCustomer, Email: "cust@grill.test",
		PasswordHash: hash, Active: true, RestaurantID: "rest-1",
	})
	grill.add(&tenant.Account{
		ID: "cust-blocked", Kind: tenant.KindCustomer, Email: "blocked@grill.test",
		PasswordHash: hash, Active: true, Blocked: true, RestaurantID: "rest-1",
	})

	provisioner := &memProvisioner{stores: map[string]*memAccounts{"sunset-grill": grill}}
	registry, err := tenant.NewRegistry(provisioner, tenant.RegistryConfig{})
	require.NoError(t, err)

	platform := newMemAccounts()
	platform.add(&tenant.Account{
		ID: "owner-1", Kind: tenant.KindOwner, Email: "owner@tablefront.test",
		PasswordHash: hash, Active: true,
	})

	dispatcher, err := auth.NewDispatcher(codec, registry, platform, auth.DispatcherConfig{
		Logger: zap.NewNop(),
	})
	require.NoError(t, err)

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	limiter, err := ratelimit.NewRedisLimiter(client, ratelimit.RedisLimiterConfig{})
	require.NoError(t, err)

	server, err := NewServer(Config{Logger: zap.NewNop()}, Deps{
		Dispatcher: dispatcher,
		Codec:      codec,
		Limiter:    limiter,
		Policies:   ratelimit.NewPolicyStore(policy, "", nil),
	})
	require.NoError(t, err)

	return &fixture{
		server:      server,
		codec:       codec,
		platform:    platform,
		provisioner: provisioner,
		password:    password,
	}
}

func (f *fixture) accessToken(t *testing.T, subject string, role token.Role, tenantID string) string {
	t.Helper()
	tok, err := f.codec.IssueAccess(token.Claims{
		RegisteredClaims: jwt.RegisteredClaims{Subject: subject},
		Role:             role,
		TenantID:         tenantID,
	})
	require.NoError(t, err)
	return tok
}

func (f *fixture) login(t *testing.T, host, role, email, password string) *httptest.ResponseRecorder {
	t.Helper()
	body, err := json.Marshal(loginRequest{Email: email, Password: password, Role: role})
	require.NoError(t, err)
	req := httptest.NewRequest(http.MethodPost, "/v1/auth/login", bytes.NewReader(body))
	req.Host = host
	rec := httptest.NewRecorder()
	f.server.Handler().ServeHTTP(rec, req)
	return rec
}

func decodeData(t *testing.T, rec *httptest.ResponseRecorder, out interface{}) {
	t.Helper()
	var env struct {
		Success bool            `json:"success"`
		Data    json.RawMessage `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &env))
	require.True(t, env.Success)
	require.NoError(t, json.Unmarshal(env.Data, out))
}

func refreshCookie(rec *httptest.ResponseRecorder) *http.Cookie {
	for _, c := range rec.Result().Cookies() {
		if c.Name == refreshCookieName {
			return c
		}
	}
	return nil
}

func TestLoginIssuesTokensAndCookie(t *testing.T) {
	f := newFixture(t, ratelimit.DefaultPolicy())

	rec := f.login(t, "sunset-grill.tablefront.com", "employee", "emp@grill.test", f.password)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var resp loginResponse
	decodeData(t, rec, &resp)
	assert.NotEmpty(t, resp.AccessToken)
	assert.Equal(t, "Bearer", resp.TokenType)

	cookie := refreshCookie(rec)
	require.NotNil(t, cookie, "refresh cookie must be set")
	assert.True(t, cookie.HttpOnly)
	assert.Equal(t, "/v1/auth", cookie.Path)
	assert.Equal(t, http.SameSiteStrictMode, cookie.SameSite)
	assert.NotEmpty(t, cookie.Value)

	// The minted access token authenticates /me.
	req := httptest.NewRequest(http.MethodGet, "/v1/auth/me", nil)
	req.Host = "sunset-grill.tablefront.com"
	req.Header.Set("Authorization", "Bearer "+resp.AccessToken)
	me := httptest.NewRecorder()
	f.server.Handler().ServeHTTP(me, req)
	require.Equal(t, http.StatusOK, me.Code, me.Body.String())

	var p auth.Principal
	decodeData(t, me, &p)
	assert.Equal(t, "emp-1", p.ID)
	assert.Equal(t, "rest-1", p.RestaurantID)
	assert.Equal(t, "sunset-grill", p.TenantID)
}

func TestLoginOwnerAtPlatformHost(t *testing.T) {
	f := newFixture(t, ratelimit.DefaultPolicy())

	rec := f.login(t, "www.tablefront.com", "tenant-owner", "owner@tablefront.test", f.password)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var resp loginResponse
	decodeData(t, rec, &resp)

	claims, err := f.codec.VerifyAccess(resp.AccessToken)
	require.NoError(t, err)
	assert.Equal(t, "owner-1", claims.SubjectID())
	assert.Equal(t, "owner-1", claims.TenantID, "an owner's tenant is their own id")
}

func TestLoginWrongPassword(t *testing.T) {
	f := newFixture(t, ratelimit.DefaultPolicy())

	rec := f.login(t, "sunset-grill.tablefront.com", "employee", "emp@grill.test", "wrong-password")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestLoginUnknownEmailSameAsWrongPassword(t *testing.T) {
	f := newFixture(t, ratelimit.DefaultPolicy())

	unknown := f.login(t, "sunset-grill.tablefront.com", "employee", "nobody@grill.test", f.password)
	wrong := f.login(t, "sunset-grill.tablefront.com", "employee", "emp@grill.test", "wrong-password")
	assert.Equal(t, wrong.Code, unknown.Code)
	assert.Equal(t, http.StatusUnauthorized, unknown.Code)
}

func TestLoginBlockedCustomer(t *testing.T) {
	f := newFixture(t, ratelimit.DefaultPolicy())

	rec := f.login(t, "sunset-grill.tablefront.com", "customer", "blocked@grill.test", f.password)
	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestLoginTenantRoleWithoutTenantHost(t *testing.T) {
	f := newFixture(t, ratelimit.DefaultPolicy())

	// No subdomain, so no tenant: a tenant-scoped login cannot resolve.
	rec := f.login(t, "www.tablefront.com", "employee", "emp@grill.test", f.password)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestLoginStoreOutageIs503(t *testing.T) {
	f := newFixture(t, ratelimit.DefaultPolicy())
	f.provisioner.setFail(true)

	rec := f.login(t, "sunset-grill.tablefront.com", "employee", "emp@grill.test", f.password)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.NotEmpty(t, rec.Header().Get("Retry-After"))

	// The outage is not sticky: recovery makes the same login succeed.
	f.provisioner.setFail(false)
	rec = f.login(t, "sunset-grill.tablefront.com", "employee", "emp@grill.test", f.password)
	assert.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
}

func TestRefreshFlow(t *testing.T) {
	f := newFixture(t, ratelimit.DefaultPolicy())

	login := f.login(t, "sunset-grill.tablefront.com", "employee", "emp@grill.test", f.password)
	require.Equal(t, http.StatusOK, login.Code)
	cookie := refreshCookie(login)
	require.NotNil(t, cookie)

	req := httptest.NewRequest(http.MethodPost, "/v1/auth/refresh", nil)
	req.Host = "sunset-grill.tablefront.com"
	req.AddCookie(cookie)
	rec := httptest.NewRecorder()
	f.server.Handler().ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var resp refreshResponse
	decodeData(t, rec, &resp)
	claims, err := f.codec.VerifyAccess(resp.AccessToken)
	require.NoError(t, err)
	assert.Equal(t, "emp-1", claims.SubjectID())
}

func TestRefreshWithoutCookie(t *testing.T) {
	f := newFixture(t, ratelimit.DefaultPolicy())

	req := httptest.NewRequest(http.MethodPost, "/v1/auth/refresh", nil)
	rec := httptest.NewRecorder()
	f.server.Handler().ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestRefreshRejectsAccessTokenInCookie(t *testing.T) {
	f := newFixture(t, ratelimit.DefaultPolicy())

	access := f.accessToken(t, "emp-1", token.RoleEmployee, "sunset-grill")
	req := httptest.NewRequest(http.MethodPost, "/v1/auth/refresh", nil)
	req.AddCookie(&http.Cookie{Name: refreshCookieName, Value: access})
	rec := httptest.NewRecorder()
	f.server.Handler().ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestLogoutClearsCookie(t *testing.T) {
	f := newFixture(t, ratelimit.DefaultPolicy())

	req := httptest.NewRequest(http.MethodPost, "/v1/auth/logout", nil)
	rec := httptest.NewRecorder()
	f.server.Handler().ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	cookie := refreshCookie(rec)
	require.NotNil(t, cookie)
	assert.Empty(t, cookie.Value)
	assert.Less(t, cookie.MaxAge, 0)
}

func TestMeRequiresAuthentication(t *testing.T) {
	f := newFixture(t, ratelimit.DefaultPolicy())

	req := httptest.NewRequest(http.MethodGet, "/v1/auth/me", nil)
	rec := httptest.NewRecorder()
	f.server.Handler().ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Contains(t, rec.Header().Get("WWW-Authenticate"), "Bearer")

	req = httptest.NewRequest(http.MethodGet, "/v1/auth/me", nil)
	req.Header.Set("Authorization", "Bearer not-a-token")
	rec = httptest.NewRecorder()
	f.server.Handler().ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestBlockedAccountIsForbiddenNotUnauthorized(t *testing.T) {
	f := newFixture(t, ratelimit.DefaultPolicy())

	auditFile := filepath.Join(t.TempDir(), "audit.log")
	auditLog, err := audit.NewLogger(audit.Config{FilePath: auditFile, Logger: zap.NewNop()})
	require.NoError(t, err)
	f.server.audit = auditLog

	tok := f.accessToken(t, "cust-blocked", token.RoleCustomer, "sunset-grill")
	req := httptest.NewRequest(http.MethodGet, "/v1/auth/me", nil)
	req.Header.Set("Authorization", "Bearer "+tok)
	rec := httptest.NewRecorder()
	f.server.Handler().ServeHTTP(rec, req)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	// The rejection leaves an audit trail.
	require.NoError(t, auditLog.Close())
	written, err := os.ReadFile(auditFile)
	require.NoError(t, err)
	assert.Contains(t, string(written), string(audit.EventAccountBlocked))
}

func TestHealthz(t *testing.T) {
	f := newFixture(t, ratelimit.DefaultPolicy())

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rec := httptest.NewRecorder()
	f.server.Handler().ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
}
