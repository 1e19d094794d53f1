/**
 * @description
 * This file contains custom middleware for the HTTP router: bearer-token
 * authentication for merchant-facing endpoints, an internal API key check for
 * operational endpoints, and distributed rate limiting on the payment flows.
 *
 * @dependencies
 * - context, crypto/subtle, net/http, strings, time: Standard Go libraries.
 * - github.com/golang-jwt/jwt/v5: JWT parsing and validation.
 */

package api

import (
	"context"
	"crypto/subtle"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// AuthContextKey is a custom type for context keys to avoid collisions.
type AuthContextKey string

const (
	// MerchantIDKey is the key used to store the caller's merchant id.
	MerchantIDKey AuthContextKey = "merchantID"
	// MerchantEmailKey is the key used to store the caller's email.
	MerchantEmailKey AuthContextKey = "merchantEmail"
)

// AuthMiddleware validates the bearer JWT (HS256, shared secret with the
// identity provider) and places the caller's merchant id and email on the
// request context. Every downstream read is scoped to this identity.
func AuthMiddleware(jwtSecret string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			authHeader := r.Header.Get("Authorization")
			if authHeader == "" {
				http.Error(w, "Authorization header required", http.StatusUnauthorized)
				return
			}

			tokenString := strings.TrimPrefix(authHeader, "Bearer ")
			if tokenString == authHeader {
				http.Error(w, "Invalid Authorization header format", http.StatusUnauthorized)
				return
			}

			token, err := jwt.Parse(tokenString, func(token *jwt.Token) (interface{}, error) {
				if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
					return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
				}
				return []byte(jwtSecret), nil
			})
			if err != nil || !token.Valid {
				http.Error(w, "Invalid token", http.StatusUnauthorized)
				return
			}

			claims, ok := token.Claims.(jwt.MapClaims)
			if !ok {
				http.Error(w, "Invalid token claims", http.StatusUnauthorized)
				return
			}

			sub, _ := claims["sub"].(string)
			if sub == "" {
				http.Error(w, "Token missing subject", http.StatusUnauthorized)
				return
			}
			email, _ := claims["email"].(string)

			ctx := context.WithValue(r.Context(), MerchantIDKey, sub)
			ctx = context.WithValue(ctx, MerchantEmailKey, email)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// MerchantIDFromContext retrieves the authenticated merchant id, or "" when absent.
func MerchantIDFromContext(ctx context.Context) string {
	id, _ := ctx.Value(MerchantIDKey).(string)
	return id
}

// MerchantEmailFromContext retrieves the authenticated caller's email, or "".
func MerchantEmailFromContext(ctx context.Context) string {
	email, _ := ctx.Value(MerchantEmailKey).(string)
	return email
}

// InternalKeyMiddleware guards operational endpoints (the manual scheduler
// trigger) with a shared internal API key.
func InternalKeyMiddleware(internalAPIKey string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			provided := r.Header.Get("X-Internal-Api-Key")
			if internalAPIKey == "" ||
				subtle.ConstantTimeCompare([]byte(provided), []byte(internalAPIKey)) != 1 {
				http.Error(w, "Forbidden", http.StatusForbidden)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// RateLimiter is the consumer-side contract for the Redis limiter.
type RateLimiter interface {
	ConsumeRateLimit(ctx context.Context, scope, subject string, limit int, window time.Duration) (count int, retryAfterSeconds int, err error)
}

// RateLimitMiddleware applies a fixed-window per-merchant limit to the
// wrapped endpoints. A nil limiter, a zero limit, or a limiter error all
// fail open: payments must not depend on Redis availability.
func RateLimitMiddleware(limiter RateLimiter, logger *slog.Logger, scope string, limit int, window time.Duration) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if limiter == nil || limit <= 0 {
				next.ServeHTTP(w, r)
				return
			}

			subject := MerchantIDFromContext(r.Context())
			count, retryAfter, err := limiter.ConsumeRateLimit(r.Context(), scope, subject, limit, window)
			if err != nil {
				logger.Warn("rate limiter unavailable; allowing request", "scope", scope, "error", err)
				next.ServeHTTP(w, r)
				return
			}
			if count > limit {
				w.Header().Set("Retry-After", fmt.Sprintf("%d", retryAfter))
				http.Error(w, "Too many requests", http.StatusTooManyRequests)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}
