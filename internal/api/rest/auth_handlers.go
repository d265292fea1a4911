package rest

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/tablefront/go-core/internal/audit"
	"github.com/tablefront/go-core/internal/token"
)

const refreshCookieName = "refreshToken"

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
	Role     string `json:"role"`
}

type loginResponse struct {
	AccessToken      string      `json:"accessToken"`
	TokenType        string      `json:"tokenType"`
	ExpiresInSeconds int64       `json:"expiresInSeconds"`
	Principal        interface{} `json:"principal"`
}

type refreshResponse struct {
	AccessToken      string `json:"accessToken"`
	TokenType        string `json:"tokenType"`
	ExpiresInSeconds int64  `json:"expiresInSeconds"`
}

// handleLogin exchanges email/password for a token pair. The refresh token
// travels only as an HttpOnly cookie; the access token goes in the body.
func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeJSON(w, http.StatusBadRequest, envelope{Message: "invalid request body"})
		return
	}

	role := token.Role(req.Role)
	if !role.Valid() {
		s.writeJSON(w, http.StatusBadRequest, envelope{Message: "unknown role"})
		return
	}

	tenantID := TenantFrom(r.Context())
	principal, pair, err := s.dispatcher.Login(r.Context(), role, tenantID, req.Email, req.Password)
	if err != nil {
		s.audit.Record(audit.Event{
			Type:     audit.EventLoginFailure,
			Role:     req.Role,
			TenantID: tenantID,
			IP:       ClientIPFrom(r.Context()),
			Path:     r.URL.Path,
		})
		s.writeError(w, r, err)
		return
	}

	s.audit.Record(audit.Event{
		Type:      audit.EventLoginSuccess,
		SubjectID: principal.ID,
		Role:      string(principal.Role),
		TenantID:  principal.TenantID,
		IP:        ClientIPFrom(r.Context()),
	})

	s.setRefreshCookie(w, pair.RefreshToken)
	s.writeData(w, http.StatusOK, loginResponse{
		AccessToken:      pair.AccessToken,
		TokenType:        pair.TokenType,
		ExpiresInSeconds: pair.ExpiresInSeconds,
		Principal:        principal,
	})
}

// handleRefresh mints a fresh access token from the refresh cookie.
func (s *Server) handleRefresh(w http.ResponseWriter, r *http.Request) {
	cookie, err := r.Cookie(refreshCookieName)
	if err != nil || cookie.Value == "" {
		w.Header().Set("WWW-Authenticate", `Bearer realm="tablefront"`)
		s.writeJSON(w, http.StatusUnauthorized, envelope{Message: "authentication required"})
		return
	}

	accessToken, err := s.dispatcher.Refresh(r.Context(), cookie.Value)
	if err != nil {
		s.clearRefreshCookie(w)
		s.writeError(w, r, err)
		return
	}

	s.audit.Record(audit.Event{
		Type: audit.EventTokenRefreshed,
		IP:   ClientIPFrom(r.Context()),
	})

	s.writeData(w, http.StatusOK, refreshResponse{
		AccessToken:      accessToken,
		TokenType:        "Bearer",
		ExpiresInSeconds: int64(s.codec.AccessTTL().Seconds()),
	})
}

// handleLogout clears the refresh cookie. Access tokens stay valid until
// they expire; session revocation is the client discarding its copy.
func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request) {
	s.clearRefreshCookie(w)

	ev := audit.Event{Type: audit.EventLogout, IP: ClientIPFrom(r.Context())}
	if p := PrincipalFrom(r.Context()); p != nil {
		ev.SubjectID = p.ID
		ev.Role = string(p.Role)
		ev.TenantID = p.TenantID
	}
	s.audit.Record(ev)

	s.writeData(w, http.StatusOK, map[string]string{"status": "logged out"})
}

// handleMe returns the caller's principal.
func (s *Server) handleMe(w http.ResponseWriter, r *http.Request) {
	s.writeData(w, http.StatusOK, PrincipalFrom(r.Context()))
}

func (s *Server) setRefreshCookie(w http.ResponseWriter, refreshToken string) {
	http.SetCookie(w, &http.Cookie{
		Name:     refreshCookieName,
		Value:    refreshToken,
		Path:     "/v1/auth",
		MaxAge:   int(s.codec.RefreshTTL().Seconds()),
		Expires:  time.Now().Add(s.codec.RefreshTTL()),
		HttpOnly: true,
		Secure:   s.secureCookies,
		SameSite: http.SameSiteStrictMode,
	})
}

func (s *Server) clearRefreshCookie(w http.ResponseWriter) {
	http.SetCookie(w, &http.Cookie{
		Name:     refreshCookieName,
		Value:    "",
		Path:     "/v1/auth",
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   s.secureCookies,
		SameSite: http.SameSiteStrictMode,
	})
}
