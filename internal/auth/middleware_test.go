package auth

import (
	"net/http"
	"net/http/httptest"
	"testing"
)

func okHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
}

func TestMiddlewareDisabledWhenNoAPIKey(t *testing.T) {
	h := Middleware(Config{})(okHandler())

	req := httptest.NewRequest(http.MethodGet, "/sessions", nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
}

func TestMiddlewareAcceptsMatchingKey(t *testing.T) {
	h := Middleware(Config{APIKey: "secret"})(okHandler())

	req := httptest.NewRequest(http.MethodGet, "/sessions", nil)
	req.Header.Set("X-API-Key", "secret")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
}

func TestMiddlewareRejectsMismatchedKey(t *testing.T) {
	h := Middleware(Config{APIKey: "secret"})(okHandler())

	req := httptest.NewRequest(http.MethodGet, "/sessions", nil)
	req.Header.Set("X-API-Key", "wrong")
	req.RemoteAddr = "203.0.113.5:1234"
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", rec.Code)
	}
}

func TestMiddlewareLoopbackBypass(t *testing.T) {
	h := Middleware(Config{APIKey: "secret", AllowLoopback: true})(okHandler())

	req := httptest.NewRequest(http.MethodGet, "/sessions", nil)
	req.RemoteAddr = "127.0.0.1:54321"
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
}

func TestMiddlewareLoopbackNotAllowedByDefault(t *testing.T) {
	h := Middleware(Config{APIKey: "secret"})(okHandler())

	req := httptest.NewRequest(http.MethodGet, "/sessions", nil)
	req.RemoteAddr = "127.0.0.1:54321"
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", rec.Code)
	}
}

func TestIsLoopback(t *testing.T) {
	cases := map[string]bool{
		"127.0.0.1:8080": true,
		"[::1]:8080":     true,
		"203.0.113.5:80": false,
		"not-an-addr":    false,
	}
	for addr, want := range cases {
		if got := isLoopback(addr); got != want {
			t.Errorf("isLoopback(%q) = %v, want %v", addr, got, want)
		}
	}
}
