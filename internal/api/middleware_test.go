package api

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/casamarzia/opsbell/internal/redis"
)

func TestIPKeyFunc(t *testing.T) {
	tests := []struct {
		name       string
		forwarded  string
		realIP     string
		remoteAddr string
		expected   string
	}{
		{"X-Forwarded-For", "1.2.3.4", "", "5.6.7.8:1234", "ip:1.2.3.4"},
		{"X-Real-IP", "", "1.2.3.4", "5.6.7.8:1234", "ip:1.2.3.4"},
		{"RemoteAddr fallback", "", "", "5.6.7.8:1234", "ip:5.6.7.8:1234"},
		{"Forwarded takes precedence", "1.1.1.1", "2.2.2.2", "3.3.3.3:1234", "ip:1.1.1.1"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest("GET", "/test", nil)
			if tt.forwarded != "" {
				req.Header.Set("X-Forwarded-For", tt.forwarded)
			}
			if tt.realIP != "" {
				req.Header.Set("X-Real-IP", tt.realIP)
			}
			req.RemoteAddr = tt.remoteAddr

			result := IPKeyFunc(req)
			if result != tt.expected {
				t.Errorf("expected %q, got %q", tt.expected, result)
			}
		})
	}
}

func TestRateLimitMiddleware_NoLimiter(t *testing.T) {
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	middleware := RateLimitMiddleware(nil, nil, IPKeyFunc)
	wrapped := middleware(handler)

	req := httptest.NewRequest("GET", "/test", nil)
	rec := httptest.NewRecorder()

	wrapped.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Errorf("expected 200, got %d", rec.Code)
	}
}

func TestRateLimitMiddleware_EnforcesLimit(t *testing.T) {
	client := setupTestRedis(t)
	limiter := redis.NewRateLimiter(client, zap.NewNop(), redis.RateLimitConfig{
		Limit:  2,
		Window: time.Minute,
	})

	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	wrapped := RateLimitMiddleware(limiter, zap.NewNop(), IPKeyFunc)(handler)

	for i := 0; i < 2; i++ {
		req := httptest.NewRequest("GET", "/test", nil)
		req.RemoteAddr = "9.9.9.9:1000"
		rec := httptest.NewRecorder()
		wrapped.ServeHTTP(rec, req)
		if rec.Code != http.StatusOK {
			t.Fatalf("request %d: expected 200, got %d", i, rec.Code)
		}
	}

	req := httptest.NewRequest("GET", "/test", nil)
	req.RemoteAddr = "9.9.9.9:1000"
	rec := httptest.NewRecorder()
	wrapped.ServeHTTP(rec, req)

	if rec.Code != http.StatusTooManyRequests {
		t.Fatalf("expected 429, got %d", rec.Code)
	}
	if rec.Header().Get("Retry-After") == "" {
		t.Error("expected Retry-After header")
	}
	if ct := rec.Header().Get("Content-Type"); ct != "application/problem+json" {
		t.Errorf("content type = %s", ct)
	}
}

func TestRateLimitMiddleware_DistinctKeysIndependent(t *testing.T) {
	client := setupTestRedis(t)
	limiter := redis.NewRateLimiter(client, zap.NewNop(), redis.RateLimitConfig{
		Limit:  1,
		Window: time.Minute,
	})

	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	wrapped := RateLimitMiddleware(limiter, zap.NewNop(), IPKeyFunc)(handler)

	for _, ip := range []string{"1.1.1.1", "2.2.2.2"} {
		req := httptest.NewRequest("GET", "/test", nil)
		req.Header.Set("X-Real-IP", ip)
		rec := httptest.NewRecorder()
		wrapped.ServeHTTP(rec, req)
		if rec.Code != http.StatusOK {
			t.Errorf("ip %s: expected 200, got %d", ip, rec.Code)
		}
	}
}
