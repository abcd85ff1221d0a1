package auth

import (
	"crypto/subtle"
	"net/http"
	"strings"
)

// TokenFrom extracts the shared-secret token from a request. Browsers cannot
// set headers on WebSocket upgrades, so the `token` query parameter is
// accepted alongside the Authorization header (bare or Bearer-prefixed).
func TokenFrom(r *http.Request) (string, bool) {
	authz := strings.TrimSpace(r.Header.Get("Authorization"))
	if authz != "" {
		const prefix = "Bearer "
		if strings.HasPrefix(authz, prefix) {
			authz = strings.TrimSpace(strings.TrimPrefix(authz, prefix))
		}
		if authz != "" {
			return authz, true
		}
	}

	token := strings.TrimSpace(r.URL.Query().Get("token"))
	if token == "" {
		return "", false
	}
	return token, true
}

// Verify compares a presented token against the configured shared secret in
// constant time.
func Verify(presented, expected string) bool {
	if expected == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(presented), []byte(expected)) == 1
}
