package middleware

import (
	"context"
	"net/http"
	"strings"

	"github.com/aistylehub/tokenledger/internal/api/httpx"
	"github.com/aistylehub/tokenledger/internal/auth"
)

type ctxKey string

const (
	ctxAccountIDKey ctxKey = "uid"
	ctxRoleKey      ctxKey = "role"
)

func AccountID(ctx context.Context) (string, bool) {
	v, ok := ctx.Value(ctxAccountIDKey).(string)
	return v, ok
}

func Role(ctx context.Context) (string, bool) {
	v, ok := ctx.Value(ctxRoleKey).(string)
	return v, ok
}

type AuthMiddleware struct {
	TM     *auth.TokenManager
	AppEnv string
}

func NewAuthMiddleware(tm *auth.TokenManager, appEnv string) *AuthMiddleware {
	return &AuthMiddleware{TM: tm, AppEnv: appEnv}
}

// Auth requires a Bearer access token. In dev, "Bearer dev-<id>" maps
// straight to an account id for local poking.
func (m *AuthMiddleware) Auth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ah := r.Header.Get("Authorization")
		if ah == "" || !strings.HasPrefix(strings.ToLower(ah), "bearer ") {
			httpx.WriteError(w, http.StatusUnauthorized, "unauthenticated", "missing bearer token", nil)
			return
		}
		token := strings.TrimSpace(ah[len("Bearer "):])

		if m.AppEnv == "dev" && strings.HasPrefix(token, "dev-") {
			ctx := context.WithValue(r.Context(), ctxAccountIDKey, strings.TrimPrefix(token, "dev-"))
			ctx = context.WithValue(ctx, ctxRoleKey, "user")
			next.ServeHTTP(w, r.WithContext(ctx))
			return
		}

		claims, isRefresh, err := m.TM.ParseAny(token)
		if err != nil || isRefresh {
			httpx.WriteError(w, http.StatusUnauthorized, "unauthenticated", "invalid access token", nil)
			return
		}
		ctx := context.WithValue(r.Context(), ctxAccountIDKey, claims.AccountID)
		ctx = context.WithValue(ctx, ctxRoleKey, claims.Role)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}
