package auth

import (
	"crypto/subtle"
	"net/http"
	"strings"
)

var open = map[string]bool{"/healthz": true, "/readyz": true, "/metrics": true}

// Middleware guards every route except the health checks and /metrics with a
// static bearer token. An empty token rejects all guarded routes.
// Browsers cannot set headers on a websocket handshake, so upgrade requests
// may carry the token in the access_token query parameter instead.
func Middleware(token string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if open[r.URL.Path] {
				next.ServeHTTP(w, r)
				return
			}

			got, ok := bearer(r)
			if !ok {
				http.Error(w, "missing API token", http.StatusUnauthorized)
				return
			}

			if token == "" || subtle.ConstantTimeCompare([]byte(got), []byte(token)) != 1 {
				http.Error(w, "invalid API token", http.StatusForbidden)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// bearer extracts the presented token. Expect: Authorization: Bearer <token>
func bearer(r *http.Request) (string, bool) {
	if authz := r.Header.Get("Authorization"); strings.HasPrefix(authz, "Bearer ") {
		return strings.TrimSpace(strings.TrimPrefix(authz, "Bearer ")), true
	}
	if strings.EqualFold(r.Header.Get("Upgrade"), "websocket") {
		if q := r.URL.Query().Get("access_token"); q != "" {
			return q, true
		}
	}
	return "", false
}
