// Package throttle applies a per-client token bucket to cheap, high-volume
// endpoints (the cookie inventory report) where a shared store is not worth a round trip.
package throttle

import (
	"context"
	"net/http"
	"sync"
	"time"

	"golang.org/x/time/rate"

	dErrors "privacyhub/pkg/domain-errors"
	"privacyhub/pkg/platform/httputil"
	"privacyhub/pkg/requestcontext"
)

// Config sets the sustained rate and burst per client IP.
type Config struct {
	PerMinute int
	Burst     int
	IdleTTL   time.Duration
}

type client struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// Limiter keeps one rate.Limiter per client IP and evicts idle ones.
type Limiter struct {
	cfg     Config
	mu      sync.Mutex
	clients map[string]*client
}

// New creates a Limiter. Zero fields fall back to 60/min, burst 10, 3 minute idle eviction.
func New(cfg Config) *Limiter {
	if cfg.PerMinute <= 0 {
		cfg.PerMinute = 60
	}
	if cfg.Burst <= 0 {
		cfg.Burst = 10
	}
	if cfg.IdleTTL <= 0 {
		cfg.IdleTTL = 3 * time.Minute
	}
	return &Limiter{cfg: cfg, clients: make(map[string]*client)}
}

// Allow reports whether key may proceed now.
func (l *Limiter) Allow(key string) bool {
	l.mu.Lock()
	c, ok := l.clients[key]
	if !ok {
		c = &client{limiter: rate.NewLimiter(rate.Limit(float64(l.cfg.PerMinute)/60.0), l.cfg.Burst)}
		l.clients[key] = c
	}
	c.lastSeen = time.Now()
	limiter := c.limiter
	l.mu.Unlock()
	return limiter.Allow()
}

// Evict drops clients idle for longer than IdleTTL and returns how many were removed.
func (l *Limiter) Evict(now time.Time) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	removed := 0
	for key, c := range l.clients {
		if now.Sub(c.lastSeen) > l.cfg.IdleTTL {
			delete(l.clients, key)
			removed++
		}
	}
	return removed
}

// Run evicts idle clients every minute until ctx is done.
func (l *Limiter) Run(ctx context.Context) {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			l.Evict(now)
		}
	}
}

// Middleware rejects over-limit clients with 429. Keys come from the metadata middleware.
func (l *Limiter) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !l.Allow(requestcontext.ClientIP(r.Context())) {
			httputil.WriteError(w, dErrors.NewRateLimited("too many reports", 1))
			return
		}
		next.ServeHTTP(w, r)
	})
}
