package middleware

import (
	"context"
	"net/http"
	"strings"

	"github.com/rs/zerolog"

	"dessertmap/pkg/jwt"
)

type contextKey string

const (
	UserIDKey  contextKey = "user_id"
	StoreIDKey contextKey = "store_id"
)

// JWTAuth проверяет Bearer токен и кладёт user_id (и store_id для POS) в контекст
func JWTAuth(secret string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			header := r.Header.Get("Authorization")
			tokenString, ok := strings.CutPrefix(header, "Bearer ")
			if !ok || tokenString == "" {
				writeError(w, http.StatusUnauthorized, "UNAUTHORIZED", "missing bearer token")
				return
			}

			claims, err := jwt.ParseToken(secret, tokenString)
			if err != nil {
				zerolog.Ctx(r.Context()).Debug().Err(err).Msg("rejected token")
				writeError(w, http.StatusUnauthorized, "UNAUTHORIZED", "invalid token")
				return
			}

			ctx := context.WithValue(r.Context(), UserIDKey, claims.UserID)
			if claims.StoreID != nil {
				ctx = context.WithValue(ctx, StoreIDKey, *claims.StoreID)
			}
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// RequireStore пропускает только POS токены
func RequireStore(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if _, ok := StoreID(r.Context()); !ok {
			writeError(w, http.StatusForbidden, "POS_TOKEN_REQUIRED", "a store terminal token is required")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func UserID(ctx context.Context) (int64, bool) {
	id, ok := ctx.Value(UserIDKey).(int64)
	return id, ok
}

func StoreID(ctx context.Context) (int64, bool) {
	id, ok := ctx.Value(StoreIDKey).(int64)
	return id, ok
}
