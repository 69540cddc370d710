package middleware

import (
	"context"
	"crypto/subtle"
	"net/http"
	"strings"
)

type contextKey string

const PrincipalKey contextKey = "principal"

// Anonymous is the principal of requests when no API keys are configured.
const Anonymous = "anonymous"

// publicPaths bypass authentication and rate limiting.
var publicPaths = map[string]struct{}{
	"/health": {}, "/ready": {}, "/live": {}, "/metrics": {},
}

func isPublic(path string) bool {
	_, ok := publicPaths[path]
	return ok
}

// APIKeyAuth validates the API key from the Authorization header. keys maps
// principal name to key. With no keys every request runs as Anonymous.
func APIKeyAuth(keys map[string]string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if isPublic(r.URL.Path) {
				next.ServeHTTP(w, r)
				return
			}
			if len(keys) == 0 {
				next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), PrincipalKey, Anonymous)))
				return
			}

			auth := r.Header.Get("Authorization")
			if auth == "" {
				http.Error(w, "missing Authorization header", http.StatusUnauthorized)
				return
			}

			// Support both "Bearer <key>" and "<key>" formats
			apiKey := strings.TrimSpace(strings.TrimPrefix(auth, "Bearer "))
			if apiKey == "" {
				http.Error(w, "invalid Authorization header format", http.StatusUnauthorized)
				return
			}

			// constant-time compare against every key, no early exit
			principal := ""
			for name, key := range keys {
				if subtle.ConstantTimeCompare([]byte(apiKey), []byte(key)) == 1 {
					principal = name
				}
			}
			if principal == "" {
				http.Error(w, "invalid API key", http.StatusUnauthorized)
				return
			}

			next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), PrincipalKey, principal)))
		})
	}
}

// GetPrincipal extracts the authenticated principal from context
func GetPrincipal(ctx context.Context) string {
	if p, ok := ctx.Value(PrincipalKey).(string); ok {
		return p
	}
	return ""
}
