package middleware

import (
	"crypto/subtle"
	"encoding/json"
	"net/http"
)

// APIKey rejects requests whose x-api-key header does not match token.
// An empty token disables the check entirely; producers behind a trusted
// edge can then omit the header.
func APIKey(token string, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if token != "" {
			got := r.Header.Get("x-api-key")
			if subtle.ConstantTimeCompare([]byte(got), []byte(token)) != 1 {
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(http.StatusUnauthorized)
				json.NewEncoder(w).Encode(map[string]string{"detail": "invalid token"})
				return
			}
		}
		next.ServeHTTP(w, r)
	})
}
