package api

import (
	"crypto/subtle"
	"net/http"
)

// AdminOnly gates the compensation operations. Authentication itself happens
// upstream; this middleware only verifies the shared token the gateway
// forwards for callers it has already identified as administrators. An empty
// configured token disables the admin surface entirely.
func AdminOnly(token string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if token == "" {
				http.Error(w, "Admin operations are disabled", http.StatusServiceUnavailable)
				return
			}
			provided := r.Header.Get("X-Admin-Token")
			if subtle.ConstantTimeCompare([]byte(provided), []byte(token)) != 1 {
				http.Error(w, "Unauthorized", http.StatusUnauthorized)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
