package api

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const testJWTSecret = "test-secret"

func signedToken(t *testing.T, secret string, claims jwt.MapClaims) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString([]byte(secret))
	if err != nil {
		t.Fatalf("failed to sign test token: %v", err)
	}
	return signed
}

func TestAuthMiddleware_ValidTokenSetsIdentity(t *testing.T) {
	var gotID, gotEmail string
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotID = MerchantIDFromContext(r.Context())
		gotEmail = MerchantEmailFromContext(r.Context())
	})
	handler := AuthMiddleware(testJWTSecret)(next)

	token := signedToken(t, testJWTSecret, jwt.MapClaims{
		"sub":   "merchant_1",
		"email": "owner@acme.test",
		"exp":   time.Now().Add(time.Hour).Unix(),
	})
	req := httptest.NewRequest(http.MethodPost, "/onboarding", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if gotID != "merchant_1" || gotEmail != "owner@acme.test" {
		t.Fatalf("expected identity on context, got id=%q email=%q", gotID, gotEmail)
	}
}

func TestAuthMiddleware_Rejections(t *testing.T) {
	expired := signedToken(t, testJWTSecret, jwt.MapClaims{
		"sub": "merchant_1",
		"exp": time.Now().Add(-time.Hour).Unix(),
	})
	wrongKey := signedToken(t, "other-secret", jwt.MapClaims{
		"sub": "merchant_1",
		"exp": time.Now().Add(time.Hour).Unix(),
	})
	noSubject := signedToken(t, testJWTSecret, jwt.MapClaims{
		"exp": time.Now().Add(time.Hour).Unix(),
	})

	tests := []struct {
		name   string
		header string
	}{
		{name: "missing header", header: ""},
		{name: "not bearer", header: "Basic abc"},
		{name: "garbage token", header: "Bearer not.a.jwt"},
		{name: "expired token", header: "Bearer " + expired},
		{name: "wrong signature", header: "Bearer " + wrongKey},
		{name: "missing subject", header: "Bearer " + noSubject},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			called := false
			next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { called = true })
			handler := AuthMiddleware(testJWTSecret)(next)

			req := httptest.NewRequest(http.MethodPost, "/onboarding", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			rec := httptest.NewRecorder()
			handler.ServeHTTP(rec, req)

			if rec.Code != http.StatusUnauthorized {
				t.Fatalf("expected 401, got %d", rec.Code)
			}
			if called {
				t.Fatal("expected handler not to run")
			}
		})
	}
}

func TestInternalKeyMiddleware(t *testing.T) {
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {})

	t.Run("correct key passes", func(t *testing.T) {
		handler := InternalKeyMiddleware("internal-key")(next)
		req := httptest.NewRequest(http.MethodPost, "/internal/jobs/recurring-invoices", nil)
		req.Header.Set("X-Internal-Api-Key", "internal-key")
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		if rec.Code != http.StatusOK {
			t.Fatalf("expected 200, got %d", rec.Code)
		}
	})

	t.Run("wrong key forbidden", func(t *testing.T) {
		handler := InternalKeyMiddleware("internal-key")(next)
		req := httptest.NewRequest(http.MethodPost, "/internal/jobs/recurring-invoices", nil)
		req.Header.Set("X-Internal-Api-Key", "guess")
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		if rec.Code != http.StatusForbidden {
			t.Fatalf("expected 403, got %d", rec.Code)
		}
	})

	t.Run("unconfigured key locks the route", func(t *testing.T) {
		handler := InternalKeyMiddleware("")(next)
		req := httptest.NewRequest(http.MethodPost, "/internal/jobs/recurring-invoices", nil)
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		if rec.Code != http.StatusForbidden {
			t.Fatalf("expected 403 with no configured key, got %d", rec.Code)
		}
	})
}

type limiterStub struct {
	count      int
	retryAfter int
	err        error
	subjects   []string
}

func (l *limiterStub) ConsumeRateLimit(ctx context.Context, scope, subject string, limit int, window time.Duration) (int, int, error) {
	l.subjects = append(l.subjects, subject)
	if l.err != nil {
		return 0, 0, l.err
	}
	return l.count, l.retryAfter, nil
}

func limitedRequest(handler http.Handler) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, "/payments/intents", nil)
	ctx := context.WithValue(req.Context(), MerchantIDKey, "merchant_1")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req.WithContext(ctx))
	return rec
}

func TestRateLimitMiddleware(t *testing.T) {
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {})

	t.Run("under the limit passes", func(t *testing.T) {
		limiter := &limiterStub{count: 3}
		handler := RateLimitMiddleware(limiter, discardLogger(), "payments", 60, time.Minute)(next)
		if rec := limitedRequest(handler); rec.Code != http.StatusOK {
			t.Fatalf("expected 200, got %d", rec.Code)
		}
		if len(limiter.subjects) != 1 || limiter.subjects[0] != "merchant_1" {
			t.Fatalf("expected limit keyed by merchant, got %v", limiter.subjects)
		}
	})

	t.Run("over the limit is rejected with retry hint", func(t *testing.T) {
		limiter := &limiterStub{count: 61, retryAfter: 42}
		handler := RateLimitMiddleware(limiter, discardLogger(), "payments", 60, time.Minute)(next)
		rec := limitedRequest(handler)
		if rec.Code != http.StatusTooManyRequests {
			t.Fatalf("expected 429, got %d", rec.Code)
		}
		if got := rec.Header().Get("Retry-After"); got != "42" {
			t.Fatalf("expected Retry-After 42, got %q", got)
		}
	})

	t.Run("limiter failure fails open", func(t *testing.T) {
		limiter := &limiterStub{err: errors.New("redis down")}
		handler := RateLimitMiddleware(limiter, discardLogger(), "payments", 60, time.Minute)(next)
		if rec := limitedRequest(handler); rec.Code != http.StatusOK {
			t.Fatalf("expected 200 when the limiter is unavailable, got %d", rec.Code)
		}
	})

	t.Run("nil limiter passes", func(t *testing.T) {
		handler := RateLimitMiddleware(nil, discardLogger(), "payments", 60, time.Minute)(next)
		if rec := limitedRequest(handler); rec.Code != http.StatusOK {
			t.Fatalf("expected 200 without a limiter, got %d", rec.Code)
		}
	})
}
