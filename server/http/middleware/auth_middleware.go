package middleware

import (
	"crypto/subtle"
	"net/http"
	"strings"

	"github.com/apksignd/apksignd/server/http/util"
	"github.com/apksignd/apksignd/server/status"
)

// AuthMiddleware checks a static bearer token on every request. Comparison is
// constant time so the token cannot be probed byte by byte.
type AuthMiddleware struct {
	token string
}

// NewAuthMiddleware instantiate new AuthMiddleware with a shared token
func NewAuthMiddleware(token string) *AuthMiddleware {
	return &AuthMiddleware{token: token}
}

// Handler method of the middleware which validates the Authorization header
func (m *AuthMiddleware) Handler(h http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		auth := r.Header.Get("Authorization")
		presented, found := strings.CutPrefix(auth, "Bearer ")
		if !found {
			util.WriteError(status.Errorf(status.Unauthenticated, "token required"), w)
			return
		}
		if subtle.ConstantTimeCompare([]byte(presented), []byte(m.token)) != 1 {
			util.WriteError(status.Errorf(status.Unauthenticated, "invalid token"), w)
			return
		}
		h.ServeHTTP(w, r)
	})
}
