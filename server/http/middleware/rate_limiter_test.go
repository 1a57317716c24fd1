package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRateLimitMiddleware(t *testing.T) {
	middleware := NewRateLimitMiddleware(60, 2)
	defer middleware.Stop()
	handler := middleware.Handler(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	do := func(remoteAddr string) int {
		req := httptest.NewRequest(http.MethodGet, "/api/sign", nil)
		req.RemoteAddr = remoteAddr
		recorder := httptest.NewRecorder()
		handler.ServeHTTP(recorder, req)
		return recorder.Code
	}

	// the burst budget allows two immediate requests, the third is rejected
	assert.Equal(t, http.StatusOK, do("203.0.113.7:40000"))
	assert.Equal(t, http.StatusOK, do("203.0.113.7:40001"))
	assert.Equal(t, http.StatusTooManyRequests, do("203.0.113.7:40002"))

	// budgets are tracked per client
	assert.Equal(t, http.StatusOK, do("198.51.100.9:40000"))
}

func TestRateLimitMiddleware_Defaults(t *testing.T) {
	middleware := NewRateLimitMiddleware(0, 0)
	defer middleware.Stop()
	assert.Equal(t, float64(defaultRequestsPerMinute), middleware.perMinute)
	assert.Equal(t, defaultBurst, middleware.burst)
}
