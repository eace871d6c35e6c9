package rest

import (
	"context"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"
)

const (
	HeaderRemaining  = "X-RateLimit-Remaining"
	HeaderResetAfter = "X-RateLimit-Reset-After"
)

// RateLimit is the advisory signal derived from one response.
type RateLimit struct {
	Route     string
	Remaining int
	// ResumeAt is zero unless the route is exhausted.
	ResumeAt time.Time
}

func (r RateLimit) Exhausted() bool {
	return !r.ResumeAt.IsZero()
}

// parseRateLimit returns ok=false when the remaining header is absent or unparsable.
func parseRateLimit(route string, h http.Header, now time.Time) (RateLimit, bool) {
	raw := strings.TrimSpace(h.Get(HeaderRemaining))
	if raw == "" {
		return RateLimit{}, false
	}
	remaining, err := strconv.Atoi(raw)
	if err != nil {
		return RateLimit{}, false
	}
	rl := RateLimit{Route: route, Remaining: remaining}
	if remaining > 0 {
		return rl, true
	}
	after, err := strconv.ParseFloat(strings.TrimSpace(h.Get(HeaderResetAfter)), 64)
	if err != nil || after < 0 {
		return rl, true
	}
	rl.ResumeAt = now.Add(time.Duration(after * float64(time.Second)))
	return rl, true
}

// RouteLimiter remembers, per route, the instant before which the route must not be called.
type RouteLimiter struct {
	mu     sync.Mutex
	resume map[string]time.Time
	now    func() time.Time
	after  func(time.Duration) <-chan time.Time
}

func NewRouteLimiter() *RouteLimiter {
	return &RouteLimiter{
		resume: make(map[string]time.Time),
		now:    time.Now,
		after:  time.After,
	}
}

// Observe records a signal. A non-exhausted signal clears any pending wait for the route.
func (r *RouteLimiter) Observe(sig RateLimit) {
	if sig.Route == "" {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if !sig.Exhausted() {
		delete(r.resume, sig.Route)
		return
	}
	if cur, ok := r.resume[sig.Route]; !ok || sig.ResumeAt.After(cur) {
		r.resume[sig.Route] = sig.ResumeAt
	}
}

// Delay reports how long a call on route has to wait right now.
func (r *RouteLimiter) Delay(route string) time.Duration {
	r.mu.Lock()
	defer r.mu.Unlock()
	at, ok := r.resume[route]
	if !ok {
		return 0
	}
	d := at.Sub(r.now())
	if d <= 0 {
		delete(r.resume, route)
		return 0
	}
	return d
}

// Wait blocks until route may be called again or ctx is done.
func (r *RouteLimiter) Wait(ctx context.Context, route string) (time.Duration, error) {
	d := r.Delay(route)
	if d <= 0 {
		return 0, nil
	}
	select {
	case <-ctx.Done():
		return 0, ctx.Err()
	case <-r.after(d):
		return d, nil
	}
}
