// Package middleware holds the HTTP middleware chain: wallet identity
// resolution, request logging, CORS, and rate limiting.
package middleware

import (
	"context"
	"net/http"
	"strings"

	"github.com/betmatch/betmatch/internal/domain"
)

// identityHeader carries the caller's Solana wallet public key. Possession of
// the key string is the whole identity model; there is no signature check.
const identityHeader = "X-Wallet-Public-Key"

type contextKey string

const userContextKey contextKey = "betmatch.user"

// UserResolver resolves a wallet public key to a user record, creating the
// user on first sight.
type UserResolver interface {
	Resolve(ctx context.Context, wallet string) (domain.User, error)
}

// Identity returns middleware that reads the wallet header and, when present,
// resolves it to a user and attaches the record to the request context.
// Requests without the header pass through anonymously; handlers that need an
// identity reject them with 401 via UserFrom.
func Identity(resolver UserResolver) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			wallet := strings.TrimSpace(r.Header.Get(identityHeader))
			if wallet == "" {
				next.ServeHTTP(w, r)
				return
			}

			if !validWallet(wallet) {
				writeIdentityError(w, http.StatusBadRequest, "malformed wallet public key")
				return
			}

			user, err := resolver.Resolve(r.Context(), wallet)
			if err != nil {
				writeIdentityError(w, http.StatusInternalServerError, "failed to resolve identity")
				return
			}

			ctx := context.WithValue(r.Context(), userContextKey, user)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// UserFrom returns the resolved user for the request, if any.
func UserFrom(ctx context.Context) (domain.User, bool) {
	u, ok := ctx.Value(userContextKey).(domain.User)
	return u, ok
}

// validWallet performs a shape check on a base58 Solana public key: 32-44
// characters from the base58 alphabet.
func validWallet(wallet string) bool {
	if len(wallet) < 32 || len(wallet) > 44 {
		return false
	}
	for _, c := range wallet {
		switch {
		case c >= '1' && c <= '9':
		case c >= 'A' && c <= 'H':
		case c >= 'J' && c <= 'N':
		case c >= 'P' && c <= 'Z':
		case c >= 'a' && c <= 'k':
		case c >= 'm' && c <= 'z':
		default:
			return false
		}
	}
	return true
}

func writeIdentityError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	w.Write([]byte(`{"error":"` + msg + `"}`))
}
