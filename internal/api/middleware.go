// Package api implements the nbrefactor REST API using chi.
package api

import (
	"crypto/subtle"
	"net/http"
	"strings"
)

// TokenCookie carries the token for browser clients once it has been
// presented as ?access_token=.
const TokenCookie = "nbrefactor_token"

// AuthMiddleware returns middleware that validates a Bearer token.
// If enabled is false, all requests pass through.
//
// Browsers cannot set headers on EventSource, links or form posts, so the
// token is also accepted from the TokenCookie cookie and, on GET, from
// ?access_token=. A valid query token sets the cookie.
func AuthMiddleware(enabled bool, token string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !enabled {
				next.ServeHTTP(w, r)
				return
			}
			got, fromQuery := requestToken(r)
			if !validToken(got, token) {
				writeError(w, http.StatusUnauthorized, "unauthorized")
				return
			}
			if fromQuery {
				http.SetCookie(w, &http.Cookie{
					Name:     TokenCookie,
					Value:    got,
					Path:     "/",
					HttpOnly: true,
					Secure:   r.TLS != nil,
					SameSite: http.SameSiteStrictMode,
				})
			}
			next.ServeHTTP(w, r)
		})
	}
}

// requestToken returns the presented token and whether it came from the
// query string.
func requestToken(r *http.Request) (string, bool) {
	if auth := r.Header.Get("Authorization"); auth != "" {
		got, ok := strings.CutPrefix(auth, "Bearer ")
		if !ok {
			return "", false
		}
		return got, false
	}
	if r.Method == http.MethodGet {
		if got := r.URL.Query().Get("access_token"); got != "" {
			return got, true
		}
	}
	if c, err := r.Cookie(TokenCookie); err == nil {
		return c.Value, false
	}
	return "", false
}

func validToken(got, want string) bool {
	return got != "" && subtle.ConstantTimeCompare([]byte(got), []byte(want)) == 1
}
