package middleware

import (
	"context"
	"net/http"
	"strings"

	"tilsynsapp/internal/auth"

	"go.uber.org/zap"
)

type AuthMiddleware struct {
	jwt  *auth.JWTManager
	logr *zap.Logger
}

type contextKey string

const (
	ContextSubjectKey contextKey = "subject"
	ContextSessionKey contextKey = "sessionID"
)

// NewAuthMiddleware creates the session token middleware for the local API.
func NewAuthMiddleware(jwt *auth.JWTManager, logr *zap.Logger) *AuthMiddleware {
	return &AuthMiddleware{jwt: jwt, logr: logr}
}

// JWTAuth validates the bearer token and attaches the session to the context.
func (m *AuthMiddleware) JWTAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		authHeader := r.Header.Get("Authorization")
		if authHeader == "" {
			http.Error(w, "missing authorization header", http.StatusUnauthorized)
			return
		}

		tokenString := strings.TrimPrefix(authHeader, "Bearer ")
		if tokenString == authHeader {
			http.Error(w, "invalid token format", http.StatusUnauthorized)
			return
		}

		claims, err := m.jwt.Verify(tokenString)
		if err != nil {
			m.logr.Warn("token parse error", zap.Error(err))
			http.Error(w, "invalid or expired token", http.StatusUnauthorized)
			return
		}

		ctx := context.WithValue(r.Context(), ContextSubjectKey, claims.Subject)
		ctx = context.WithValue(ctx, ContextSessionKey, claims.JTI)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// Subject returns the session subject set by JWTAuth.
func Subject(ctx context.Context) string {
	s, _ := ctx.Value(ContextSubjectKey).(string)
	return s
}
