// Package ratelimit throttles requests against a shared counter store.
// Enforcement is deliberately fail-open: an unreachable store degrades to
// the in-process fallback instead of rejecting traffic, the opposite of
// the fail-closed authentication path.
package ratelimit

import (
	"context"
	"fmt"
	"time"
)

// Result describes one consume decision.
type Result struct {
	Allowed   bool
	Remaining int
	ResetAt   time.Time

	// Degraded is set when the shared store was unreachable and the
	// decision came from the in-process fallback.
	Degraded bool
}

// RetryAfterSeconds returns the whole seconds a blocked caller should
// wait, never less than one.
func (r Result) RetryAfterSeconds() int {
	s := int(time.Until(r.ResetAt).Seconds())
	if s < 1 {
		s = 1
	}
	return s
}

// Limiter gates requests per key within a rolling window. Consume never
// returns an error: infrastructure failure means the request is allowed
// and the degradation is logged.
type Limiter interface {
	// Consume takes one slot from the key's window.
	Consume(ctx context.Context, key string, window time.Duration, max int) Result

	// Reset clears the counter for a key. Best effort.
	Reset(ctx context.Context, key string)
}

// Key builders. The key decides whose budget a request spends: the IP for
// anonymous traffic, the identity for authenticated traffic, and a
// stricter per-path bucket for the authentication endpoints themselves.

// IPKey keys anonymous requests by client address.
func IPKey(ip string) string {
	return "ip:" + ip
}

// PrincipalKey keys authenticated requests by identity and role.
func PrincipalKey(id, role string) string {
	return fmt.Sprintf("principal:%s:%s", id, role)
}

// AuthKey keys credential endpoints by path and client address to blunt
// credential stuffing.
func AuthKey(path, ip string) string {
	return fmt.Sprintf("auth:%s:%s", path, ip)
}
