package server

import (
	"net/http"
	"strings"
	"sync"
	"time"
	"tuy-site/clientip"

	chiMiddleware "github.com/go-chi/chi/v5/middleware"
)

func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := chiMiddleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		s.logger.Info("HTTP request completed",
			"method", r.Method,
			"path", r.URL.Path,
			"status_code", ww.Status(),
			"bytes", ww.BytesWritten(),
			"duration_ms", time.Since(start).Milliseconds(),
			"request_id", chiMiddleware.GetReqID(r.Context()),
			"ip", clientip.FromRequest(r))
	})
}

func securityHeaders(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		h := w.Header()
		h.Set("X-Content-Type-Options", "nosniff")
		h.Set("X-Frame-Options", "DENY")
		h.Set("Referrer-Policy", "strict-origin-when-cross-origin")
		// Post images are served from Facebook's CDN.
		h.Set("Content-Security-Policy", "default-src 'self'; style-src 'self' 'unsafe-inline'; img-src 'self' data: https:")
		next.ServeHTTP(w, r)
	})
}

// IsHardReload reports whether the browser asked to bypass caches, as it does
// on a forced reload.
func IsHardReload(r *http.Request) bool {
	for _, v := range r.Header.Values("Cache-Control") {
		for _, directive := range strings.Split(v, ",") {
			if strings.EqualFold(strings.TrimSpace(directive), "no-cache") {
				return true
			}
		}
	}
	return strings.EqualFold(strings.TrimSpace(r.Header.Get("Pragma")), "no-cache")
}

// forceRefresh decides whether this request may bypass the post cache.
func (s *Server) forceRefresh(r *http.Request) bool {
	if !IsHardReload(r) {
		return false
	}
	ip := clientip.FromRequest(r)
	if !s.refreshLimiter.allow(ip) {
		s.logger.Warn("Forced refresh rate limit exceeded, serving cached posts", "ip", ip)
		return false
	}
	return true
}

// rateLimiter allows limit events per key within a sliding window.
type rateLimiter struct {
	clients   map[string][]time.Time
	now       func() time.Time
	lastSweep time.Time
	window    time.Duration
	limit     int
	mu        sync.Mutex
}

func newRateLimiter(limit int, window time.Duration) *rateLimiter {
	return &rateLimiter{
		clients: make(map[string][]time.Time),
		now:     time.Now,
		window:  window,
		limit:   limit,
	}
}

func (rl *rateLimiter) allow(key string) bool {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.now()
	cutoff := now.Add(-rl.window)
	if now.Sub(rl.lastSweep) >= rl.window {
		rl.sweep(cutoff)
		rl.lastSweep = now
	}

	// Clean old entries
	var recent []time.Time
	for _, ts := range rl.clients[key] {
		if ts.After(cutoff) {
			recent = append(recent, ts)
		}
	}

	if len(recent) >= rl.limit {
		rl.clients[key] = recent
		return false
	}

	rl.clients[key] = append(recent, now)
	return true
}

// sweep drops keys with no events after cutoff. Events are appended in order,
// so the last one is the newest.
func (rl *rateLimiter) sweep(cutoff time.Time) {
	for key, events := range rl.clients {
		if len(events) == 0 || !events[len(events)-1].After(cutoff) {
			delete(rl.clients, key)
		}
	}
}
