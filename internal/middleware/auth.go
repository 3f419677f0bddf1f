package middleware

import (
	"crypto/subtle"
	"net/http"
)

// TokenHeader carries the viewer token; browsers that cannot set headers on a
// WebSocket upgrade pass ?token= instead.
const TokenHeader = "X-Viewer-Token"

// TokenMiddleware rejects requests without the viewer token. An empty token
// disables the check.
func TokenMiddleware(token string, next http.Handler) http.Handler {
	if token == "" {
		return next
	}

	expected := []byte(token)
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got := r.Header.Get(TokenHeader)
		if got == "" {
			got = r.URL.Query().Get("token")
		}

		if subtle.ConstantTimeCompare([]byte(got), expected) != 1 {
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r)
	})
}
