package rest

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"go.uber.org/zap"

	"github.com/tablefront/go-core/internal/auth"
	"github.com/tablefront/go-core/internal/ratelimit"
)

type envelope struct {
	Success bool        `json:"success"`
	Message string      `json:"message,omitempty"`
	Data    interface{} `json:"data,omitempty"`
}

type rateLimitedBody struct {
	Success           bool   `json:"success"`
	Message           string `json:"message"`
	RetryAfterSeconds int    `json:"retryAfterSeconds"`
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		s.logger.Debug("failed to encode response", zap.Error(err))
	}
}

func (s *Server) writeData(w http.ResponseWriter, status int, data interface{}) {
	s.writeJSON(w, status, envelope{Success: true, Data: data})
}

// writeError translates the authentication error taxonomy into HTTP status
// codes. Clients get a generic message; the detailed cause stays in the logs.
func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, auth.ErrMalformedCredential), errors.Is(err, auth.ErrUnauthenticated):
		w.Header().Set("WWW-Authenticate", `Bearer realm="tablefront"`)
		s.writeJSON(w, http.StatusUnauthorized, envelope{Message: "authentication required"})
	case errors.Is(err, auth.ErrForbidden):
		s.writeJSON(w, http.StatusForbidden, envelope{Message: "forbidden"})
	case errors.Is(err, auth.ErrServiceUnavailable):
		w.Header().Set("Retry-After", "5")
		s.writeJSON(w, http.StatusServiceUnavailable, envelope{Message: "service temporarily unavailable"})
	default:
		s.logger.Error("unhandled request error",
			zap.String("path", r.URL.Path),
			zap.Error(err))
		s.writeJSON(w, http.StatusInternalServerError, envelope{Message: "internal error"})
	}
}

func (s *Server) writeRateLimited(w http.ResponseWriter, res ratelimit.Result) {
	retry := res.RetryAfterSeconds()
	w.Header().Set("Retry-After", strconv.Itoa(retry))
	s.writeJSON(w, http.StatusTooManyRequests, rateLimitedBody{
		Message:           "too many requests",
		RetryAfterSeconds: retry,
	})
}
