package ratelimit

import (
	"context"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// localLimiter is the in-process fallback used while the shared store is
// unreachable. It is per-instance, so a fleet under store outage enforces
// limits per process rather than globally; coarse protection is the goal,
// not precision.
type localLimiter struct {
	mu      sync.Mutex
	buckets map[string]*rate.Limiter
	maxKeys int
}

func newLocalLimiter(maxKeys int) *localLimiter {
	if maxKeys <= 0 {
		maxKeys = 16384
	}
	return &localLimiter{
		buckets: make(map[string]*rate.Limiter),
		maxKeys: maxKeys,
	}
}

// Consume implements the same window/max semantics over a token bucket.
func (l *localLimiter) Consume(_ context.Context, key string, window time.Duration, max int) Result {
	if max <= 0 {
		// A zero budget reaching the degraded path must not divide by
		// zero; one request per window is the floor.
		max = 1
	}

	l.mu.Lock()
	b, ok := l.buckets[key]
	if !ok {
		if len(l.buckets) >= l.maxKeys {
			// Crude pressure valve: start over rather than grow without
			// bound during a long store outage.
			l.buckets = make(map[string]*rate.Limiter)
		}
		b = rate.NewLimiter(rate.Every(window/time.Duration(max)), max)
		l.buckets[key] = b
	}
	l.mu.Unlock()

	allowed := b.Allow()
	return Result{
		Allowed:   allowed,
		Remaining: int(b.Tokens()),
		ResetAt:   time.Now().Add(window),
		Degraded:  true,
	}
}

func (l *localLimiter) Reset(_ context.Context, key string) {
	l.mu.Lock()
	delete(l.buckets, key)
	l.mu.Unlock()
}
