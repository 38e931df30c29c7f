// Package middleware carries the HTTP middleware chain: authentication,
// rate limiting and request instrumentation.
package middleware

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/openalpha/stockex/api/types"
	"github.com/openalpha/stockex/exchange/auth"
	exchtypes "github.com/openalpha/stockex/exchange/types"
)

type contextKey string

const accountContextKey contextKey = "account_id"

// AccountFrom returns the authenticated account id, or "".
func AccountFrom(ctx context.Context) string {
	if id, ok := ctx.Value(accountContextKey).(string); ok {
		return id
	}
	return ""
}

// WithAccount stores an account id in the context. Exposed for handler tests.
func WithAccount(ctx context.Context, accountID string) context.Context {
	return context.WithValue(ctx, accountContextKey, accountID)
}

// writeAuthError emits the uniform envelope without importing handlers
// (which would cycle).
func writeAuthError(w http.ResponseWriter, status int, code, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(types.ErrorResponse{
		Error:     types.ErrorBody{Code: code, Message: message},
		Timestamp: time.Now().UTC(),
	})
}

// Auth resolves the X-API-Key header to an account id and rejects requests
// without a valid key.
func Auth(a *auth.Authenticator) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			accountID, err := a.Authenticate(r.Header.Get("X-API-Key"))
			if err != nil {
				if exchtypes.ErrUnauthorized.Is(err) {
					writeAuthError(w, http.StatusUnauthorized, "UNAUTHORIZED", err.Error())
				} else {
					writeAuthError(w, http.StatusInternalServerError, "INTERNAL_ERROR", "authentication failed")
				}
				return
			}
			next.ServeHTTP(w, r.WithContext(WithAccount(r.Context(), accountID)))
		})
	}
}

// AdminAuth checks the X-Admin-Token header.
func AdminAuth(a *auth.Authenticator) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if err := a.CheckAdmin(r.Header.Get("X-Admin-Token")); err != nil {
				writeAuthError(w, http.StatusUnauthorized, "UNAUTHORIZED", "invalid admin token")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
