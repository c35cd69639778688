package handler

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"
	"go.uber.org/zap"
)

type contextKey string

const operatorKey contextKey = "operator"

// operatorClaims is the access token issued to back-office operators. The
// subject identifies who triggered an action and ends up in audit logs.
type operatorClaims struct {
	Email string `json:"email,omitempty"`
	jwt.RegisteredClaims
}

// JWTAuthMiddleware validates HS256 Bearer tokens and injects the operator
// identity into the request context.
func JWTAuthMiddleware(secret []byte, logger *zap.Logger) func(http.Handler) http.Handler {
	keyFunc := func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return secret, nil
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			authHeader := r.Header.Get("Authorization")
			if authHeader == "" {
				logger.Warn("auth: missing token",
					zap.String("path", r.URL.Path),
					zap.String("remote_addr", r.RemoteAddr),
				)
				writeError(w, http.StatusUnauthorized, "missing bearer token")
				return
			}

			parts := strings.SplitN(authHeader, " ", 2)
			if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
				logger.Warn("auth: invalid token format",
					zap.String("path", r.URL.Path),
					zap.String("remote_addr", r.RemoteAddr),
				)
				writeError(w, http.StatusUnauthorized, "invalid authorization header")
				return
			}

			claims := &operatorClaims{}
			token, err := jwt.ParseWithClaims(parts[1], claims, keyFunc, jwt.WithExpirationRequired())
			if err != nil || !token.Valid {
				logger.Warn("auth: invalid or expired token",
					zap.String("path", r.URL.Path),
					zap.String("remote_addr", r.RemoteAddr),
					zap.Error(err),
				)
				writeError(w, http.StatusUnauthorized, "invalid or expired token")
				return
			}

			operator := claims.Email
			if operator == "" {
				operator = claims.Subject
			}
			ctx := context.WithValue(r.Context(), operatorKey, operator)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// OperatorFromContext returns the authenticated operator, or "" when the
// route is not protected.
func OperatorFromContext(ctx context.Context) string {
	v, _ := ctx.Value(operatorKey).(string)
	return v
}
