package middleware

import (
	"net"
	"net/http"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/apksignd/apksignd/server/http/util"
)

const (
	defaultRequestsPerMinute = 60
	defaultBurst             = 10
	limiterCleanupInterval   = 5 * time.Minute
	limiterTTL               = 10 * time.Minute
)

type clientLimiter struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// RateLimitMiddleware throttles requests per client IP. Signing is expensive
// enough that a single misbehaving client could otherwise starve the signer.
type RateLimitMiddleware struct {
	perMinute float64
	burst     int

	mu      sync.Mutex
	clients map[string]*clientLimiter
	done    chan struct{}
}

// NewRateLimitMiddleware creates a rate limiter with the given per-minute
// budget. Zero or negative values fall back to defaults.
func NewRateLimitMiddleware(requestsPerMinute float64, burst int) *RateLimitMiddleware {
	if requestsPerMinute <= 0 {
		requestsPerMinute = defaultRequestsPerMinute
	}
	if burst <= 0 {
		burst = defaultBurst
	}
	m := &RateLimitMiddleware{
		perMinute: requestsPerMinute,
		burst:     burst,
		clients:   make(map[string]*clientLimiter),
		done:      make(chan struct{}),
	}
	go m.cleanupLoop()
	return m
}

// Handler method of the middleware which rejects over-budget clients with 429
func (m *RateLimitMiddleware) Handler(h http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !m.allow(clientIP(r)) {
			util.WriteErrorResponse("too many requests", http.StatusTooManyRequests, w)
			return
		}
		h.ServeHTTP(w, r)
	})
}

// Stop terminates the background cleanup goroutine
func (m *RateLimitMiddleware) Stop() {
	close(m.done)
}

func (m *RateLimitMiddleware) allow(client string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	entry, ok := m.clients[client]
	if !ok {
		entry = &clientLimiter{
			limiter: rate.NewLimiter(rate.Limit(m.perMinute/60.0), m.burst),
		}
		m.clients[client] = entry
	}
	entry.lastSeen = time.Now()
	return entry.limiter.Allow()
}

func (m *RateLimitMiddleware) cleanupLoop() {
	ticker := time.NewTicker(limiterCleanupInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			m.mu.Lock()
			for client, entry := range m.clients {
				if time.Since(entry.lastSeen) > limiterTTL {
					delete(m.clients, client)
				}
			}
			m.mu.Unlock()
		case <-m.done:
			return
		}
	}
}

func clientIP(r *http.Request) string {
	ip, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return ip
}
