package ratelimit

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func middlewareFixture(t *testing.T, cfg Config) http.Handler {
	t.Helper()

	clock := newFakeClock()
	l := testLimiter(cfg, clock)
	next := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	return Middleware(next, l, NewIdentityResolver(""), nil)
}

func TestMiddlewareHeadersOnAllow(t *testing.T) {
	h := middlewareFixture(t, Config{DefaultCeiling: 5, DefaultWindow: 30 * time.Second})

	rec := httptest.NewRecorder()
	r := httptest.NewRequest("GET", "/api/data", nil)
	r.RemoteAddr = "10.1.1.1:1"
	h.ServeHTTP(rec, r)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if got := rec.Header().Get("X-RateLimit-Limit"); got != "5" {
		t.Fatalf("X-RateLimit-Limit = %q, want 5", got)
	}
	if got := rec.Header().Get("X-RateLimit-Remaining"); got != "4" {
		t.Fatalf("X-RateLimit-Remaining = %q, want 4", got)
	}
	if got := rec.Header().Get("X-RateLimit-Window"); got != "30" {
		t.Fatalf("X-RateLimit-Window = %q, want 30", got)
	}
}

func TestMiddlewareRejection(t *testing.T) {
	h := middlewareFixture(t, Config{DefaultCeiling: 1, DefaultWindow: 30 * time.Second})

	r := httptest.NewRequest("GET", "/api/data", nil)
	r.RemoteAddr = "10.1.1.1:1"

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, r)
	if rec.Code != http.StatusOK {
		t.Fatalf("first request: status = %d, want 200", rec.Code)
	}

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, r)
	if rec.Code != http.StatusTooManyRequests {
		t.Fatalf("second request: status = %d, want 429", rec.Code)
	}
	if rec.Header().Get("Retry-After") == "" {
		t.Fatalf("rejection must carry Retry-After")
	}
	if got := rec.Header().Get("X-RateLimit-Remaining"); got != "0" {
		t.Fatalf("X-RateLimit-Remaining = %q, want 0 on rejection", got)
	}

	var body struct {
		Error             string `json:"error"`
		RetryAfterSeconds int64  `json:"retry_after_seconds"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("rejection body is not JSON: %v", err)
	}
	if body.Error != "rate_limited" {
		t.Fatalf("body.error = %q, want rate_limited", body.Error)
	}
	if body.RetryAfterSeconds <= 0 || body.RetryAfterSeconds > 30 {
		t.Fatalf("retry_after_seconds = %d, want in (0, 30]", body.RetryAfterSeconds)
	}
}

func TestMiddlewareExcludedPathSkipsHeaders(t *testing.T) {
	h := middlewareFixture(t, Config{
		DefaultCeiling: 1,
		DefaultWindow:  30 * time.Second,
		ExcludedPaths:  []string{"/healthz"},
	})

	for i := 0; i < 3; i++ {
		rec := httptest.NewRecorder()
		r := httptest.NewRequest("GET", "/healthz", nil)
		r.RemoteAddr = "10.1.1.1:1"
		h.ServeHTTP(rec, r)

		if rec.Code != http.StatusOK {
			t.Fatalf("excluded path must always pass, got %d", rec.Code)
		}
		if rec.Header().Get("X-RateLimit-Limit") != "" {
			t.Fatalf("excluded path must not carry rate headers")
		}
	}
}
