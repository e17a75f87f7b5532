package middleware

import (
	"crypto/subtle"
	"encoding/json"
	"net/http"
	"strings"
)

// Auth guards the API with a static key sent as "Authorization: Bearer" or
// "X-API-Key". WebSocket upgrades may pass it as ?api_key= since browsers
// cannot set headers on them. An empty apiKey disables the check. Paths in
// public, and paths under a public entry ending in "/", are always open.
func Auth(apiKey string, public ...string) func(http.Handler) http.Handler {
	want := []byte(apiKey)
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if apiKey == "" || isPublic(r.URL.Path, public) {
				next.ServeHTTP(w, r)
				return
			}

			token := extractToken(r)
			if token == "" && isUpgrade(r) {
				token = r.URL.Query().Get("api_key")
			}
			switch {
			case token == "":
				writeUnauthorized(w, "missing api key")
			case subtle.ConstantTimeCompare([]byte(token), want) != 1:
				writeUnauthorized(w, "invalid api key")
			default:
				next.ServeHTTP(w, r)
			}
		})
	}
}

func isPublic(path string, public []string) bool {
	for _, p := range public {
		if path == p || (strings.HasSuffix(p, "/") && strings.HasPrefix(path, p)) {
			return true
		}
	}
	return false
}

func isUpgrade(r *http.Request) bool {
	return strings.EqualFold(r.Header.Get("Upgrade"), "websocket")
}

func extractToken(r *http.Request) string {
	if scheme, tok, ok := strings.Cut(r.Header.Get("Authorization"), " "); ok && strings.EqualFold(scheme, "Bearer") {
		return strings.TrimSpace(tok)
	}
	return strings.TrimSpace(r.Header.Get("X-API-Key"))
}

func writeUnauthorized(w http.ResponseWriter, msg string) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.Header().Set("WWW-Authenticate", "Bearer")
	w.WriteHeader(http.StatusUnauthorized)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": msg})
}
