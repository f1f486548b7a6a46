package middleware

import (
	"crypto/subtle"
	"encoding/json"
	"net/http"
	"strings"
)

// Auth requires the operator API key on every request except the exempt
// paths, which authenticate themselves (the bridge webhook checks the
// provider secret). The key may arrive as a Bearer token or in X-API-Key.
// An empty apiKey disables the check.
func Auth(apiKey string, exempt ...string) func(http.Handler) http.Handler {
	open := make(map[string]struct{}, len(exempt))
	for _, p := range exempt {
		open[p] = struct{}{}
	}
	want := []byte(apiKey)

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if _, skip := open[r.URL.Path]; apiKey == "" || skip {
				next.ServeHTTP(w, r)
				return
			}
			got := presentedKey(r)
			switch {
			case got == "":
				writeJSONError(w, http.StatusUnauthorized, "missing api key")
			case subtle.ConstantTimeCompare([]byte(got), want) != 1:
				writeJSONError(w, http.StatusUnauthorized, "invalid api key")
			default:
				next.ServeHTTP(w, r)
			}
		})
	}
}

func presentedKey(r *http.Request) string {
	if scheme, token, ok := strings.Cut(r.Header.Get("Authorization"), " "); ok && strings.EqualFold(scheme, "Bearer") {
		return strings.TrimSpace(token)
	}
	return strings.TrimSpace(r.Header.Get("X-API-Key"))
}

// writeJSONError mirrors the handler error body {"error": msg}.
func writeJSONError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": msg})
}
