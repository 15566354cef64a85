package middleware

import (
	"crypto/subtle"
	"net/http"
	"strings"
)

// NewBearerAuth returns a middleware that admits only requests carrying
// "Authorization: Bearer <secret>". An empty secret rejects everything, so an
// unconfigured deployment never exposes the guarded routes.
func NewBearerAuth(secret string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
			if secret == "" || !ok || subtle.ConstantTimeCompare([]byte(token), []byte(secret)) != 1 {
				w.Header().Set("WWW-Authenticate", `Bearer realm="internal"`)
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(http.StatusUnauthorized)
				_, _ = w.Write([]byte(`{"error":{"code":"unauthorized","message":"missing or invalid bearer token"}}`))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
