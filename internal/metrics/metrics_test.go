package metrics

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestObservationsAppearInScrape(t *testing.T) {
	c := New("test")

	c.ObserveAuth("ok", 3*time.Millisecond)
	c.ObserveAuth("forbidden", time.Millisecond)
	c.TenantHandleCreated()
	c.RateLimitDecision("allowed")
	c.RateLimitDecision("blocked")
	c.AuditEventDropped()
	c.RequestStarted()

	assert.Equal(t, float64(1), testutil.ToFloat64(c.authTotal.WithLabelValues("ok")))
	assert.Equal(t, float64(1), testutil.ToFloat64(c.authTotal.WithLabelValues("forbidden")))
	assert.Equal(t, float64(1), testutil.ToFloat64(c.tenantsCreated))
	assert.Equal(t, float64(1), testutil.ToFloat64(c.rateLimitTotal.WithLabelValues("blocked")))
	assert.Equal(t, float64(1), testutil.ToFloat64(c.auditDropped))
	assert.Equal(t, float64(1), testutil.ToFloat64(c.requestsInFlight))

	c.RequestFinished()
	assert.Equal(t, float64(0), testutil.ToFloat64(c.requestsInFlight))

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	rec := httptest.NewRecorder()
	c.Handler().ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "test_auth_requests_total")
}

func TestNilCoreIsSafe(t *testing.T) {
	var c *Core

	assert.NotPanics(t, func() {
		c.ObserveAuth("ok", time.Millisecond)
		c.TenantHandleCreated()
		c.RateLimitDecision("allowed")
		c.AuditEventDropped()
		c.RequestStarted()
		c.RequestFinished()
	})
	assert.NotNil(t, c.Handler())
}
