package middleware

import (
	"crypto/subtle"
	"net/http"
	"strings"
)

// AdminKeyMiddleware guards machine-facing admin routes with a static API
// key. The key may arrive in X-Sub-Admin-Key, X-API-Key, or as a Bearer
// token. When no key is configured every request is refused rather than
// leaving the admin surface open.
func AdminKeyMiddleware(keys []string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			presented := extractAdminKey(r)

			if len(keys) == 0 || presented == "" {
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(http.StatusUnauthorized)
				w.Write([]byte(`{"success":false,"message":"Admin API key required"}`))
				return
			}

			for _, key := range keys {
				if key != "" && subtle.ConstantTimeCompare([]byte(presented), []byte(key)) == 1 {
					next.ServeHTTP(w, r)
					return
				}
			}

			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusForbidden)
			w.Write([]byte(`{"success":false,"message":"Invalid admin API key"}`))
		})
	}
}

func extractAdminKey(r *http.Request) string {
	if key := r.Header.Get("X-Sub-Admin-Key"); key != "" {
		return key
	}
	if key := r.Header.Get("X-API-Key"); key != "" {
		return key
	}
	auth := r.Header.Get("Authorization")
	if strings.HasPrefix(auth, "Bearer ") {
		return strings.TrimPrefix(auth, "Bearer ")
	}
	return ""
}
