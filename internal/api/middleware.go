/**
 * @description
 * This file contains custom middleware for the HTTP router. Middlewares are used
 * to process requests before they reach the final handler: operator authentication
 * and request-scoped logging.
 *
 * @dependencies
 * - github.com/golang-jwt/jwt/v5: Operator token validation.
 * - github.com/go-chi/chi/v5/middleware: Request ids and response wrapping.
 * - go.uber.org/zap: Structured request logging.
 */

package api

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/golang-jwt/jwt/v5"
	"github.com/transfa/score-service/internal/domain"
	"github.com/transfa/score-service/internal/logger"
	"go.uber.org/zap"
)

// OperatorContextKey is a custom type for the context key to avoid collisions.
type OperatorContextKey string

const operatorKey OperatorContextKey = "operator"

// OperatorClaims are the claims of a branch operator token.
type OperatorClaims struct {
	BranchCode   string `json:"branch_code"`
	PersonalCode string `json:"personal_code"`
	jwt.RegisteredClaims
}

// OperatorAuthMiddleware validates HS256 operator tokens signed with secret and puts the
// operator on the request context.
func OperatorAuthMiddleware(secret string) func(http.Handler) http.Handler {
	key := []byte(secret)
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if len(key) == 0 {
				writeError(w, http.StatusServiceUnavailable, "Operator authentication is not configured")
				return
			}

			// Get the Authorization header
			authHeader := r.Header.Get("Authorization")
			if authHeader == "" {
				writeError(w, http.StatusUnauthorized, "Authorization header required")
				return
			}

			// Extract the token from "Bearer <token>"
			tokenString := strings.TrimPrefix(authHeader, "Bearer ")
			if tokenString == authHeader {
				writeError(w, http.StatusUnauthorized, "Invalid Authorization header format")
				return
			}

			var claims OperatorClaims
			token, err := jwt.ParseWithClaims(tokenString, &claims, func(token *jwt.Token) (interface{}, error) {
				return key, nil
			}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
			if err != nil || !token.Valid {
				writeError(w, http.StatusUnauthorized, fmt.Sprintf("Invalid token: %v", err))
				return
			}

			operator := domain.Operator{
				BranchCode:   strings.TrimSpace(claims.BranchCode),
				PersonalCode: strings.TrimSpace(claims.PersonalCode),
			}
			if operator.BranchCode == "" || operator.PersonalCode == "" {
				writeError(w, http.StatusUnauthorized, "Operator claims missing from token")
				return
			}

			ctx := context.WithValue(r.Context(), operatorKey, operator)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// GetOperator retrieves the authenticated operator from the request context.
func GetOperator(ctx context.Context) (domain.Operator, bool) {
	operator, ok := ctx.Value(operatorKey).(domain.Operator)
	return operator, ok
}

// RequestLogger logs every request through zap and attaches a request-scoped logger to the
// context for the service layer.
func RequestLogger(base *zap.Logger) func(http.Handler) http.Handler {
	base = logger.Component(base, "api")
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			reqLog := base.With(zap.String("request_id", middleware.GetReqID(r.Context())))
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

			next.ServeHTTP(ww, r.WithContext(logger.WithContext(r.Context(), reqLog)))

			reqLog.Info("request completed",
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.Int("status", ww.Status()),
				zap.Int("bytes", ww.BytesWritten()),
				zap.Duration("duration", time.Since(start)),
			)
		})
	}
}
