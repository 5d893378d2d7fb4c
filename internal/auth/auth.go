// Package auth resolves HTTP callers from bearer tokens.
package auth

import (
	"context"
	"crypto/subtle"
	"net/http"
	"strings"
)

type contextKey string

const callerKey contextKey = "caller"

// Callers mirror the identities the role policy grants
const (
	CallerRouter  = "router"
	CallerManager = "manager"
)

// TokenSet maps static bearer tokens to caller identities
type TokenSet struct {
	RouterToken  string
	ManagerToken string
}

// Middleware resolves the Authorization header to a caller identity and
// stores it on the request context. Requests without a recognized token
// pass through with an empty caller; the role policy rejects them at the
// operation boundary.
func (t *TokenSet) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := bearerToken(r)
		caller := ""
		switch {
		case token != "" && subtle.ConstantTimeCompare([]byte(token), []byte(t.RouterToken)) == 1:
			caller = CallerRouter
		case token != "" && subtle.ConstantTimeCompare([]byte(token), []byte(t.ManagerToken)) == 1:
			caller = CallerManager
		}
		ctx := context.WithValue(r.Context(), callerKey, caller)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// CallerFromContext returns the caller identity set by Middleware,
// or an empty string when the request carried no recognized token.
func CallerFromContext(ctx context.Context) string {
	caller, _ := ctx.Value(callerKey).(string)
	return caller
}

func bearerToken(r *http.Request) string {
	header := r.Header.Get("Authorization")
	if header == "" {
		return ""
	}
	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return ""
	}
	return strings.TrimSpace(parts[1])
}
