package appMiddleware

import (
	"context"
	"net/http"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"MessengerCore/server/internal/auth"
	"MessengerCore/server/internal/token"
)

type ctxKey int

const claimsKey ctxKey = 0

// ClaimsFrom returns the authenticated session claims placed by Auth.
func ClaimsFrom(ctx context.Context) (*token.Claims, bool) {
	claims, ok := ctx.Value(claimsKey).(*token.Claims)
	return claims, ok
}

// UserIDFrom is the common case: just the caller's id.
func UserIDFrom(ctx context.Context) uuid.UUID {
	if claims, ok := ClaimsFrom(ctx); ok {
		return claims.UserID
	}
	return uuid.Nil
}

// Auth resolves the Bearer token through the gateway (signature, expiry and
// revocation) and stores the claims in the request context.
func Auth(gateway *auth.Gateway, log *zap.SugaredLogger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			authHeader := r.Header.Get("Authorization")
			if authHeader == "" {
				http.Error(w, "missing token", http.StatusUnauthorized)
				return
			}

			tokenStr := strings.TrimPrefix(authHeader, "Bearer ")
			if tokenStr == authHeader {
				http.Error(w, "invalid token format", http.StatusUnauthorized)
				return
			}

			claims, err := gateway.Authenticate(r.Context(), tokenStr)
			if err != nil {
				log.Debugw("authentication rejected", "err", err)
				http.Error(w, "invalid token", http.StatusUnauthorized)
				return
			}

			ctx := context.WithValue(r.Context(), claimsKey, claims)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// Cors mirrors the permissive development policy of the reference client.
func Cors(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PATCH, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Authorization, Content-Type")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}
