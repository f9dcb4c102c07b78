package auth

import (
	"encoding/json"
	"net"
	"net/http"

	"github.com/HyphaGroup/cesvault/internal/logger"
)

// Config controls how Middleware authenticates a request.
type Config struct {
	// APIKey is the shared secret clients must present in X-API-Key. An
	// empty key disables authentication entirely (useful for local
	// development), matching spec.md's "optional shared-secret auth."
	APIKey string
	// AllowLoopback lets requests from 127.0.0.1/::1 through without a
	// key, per spec.md's "loopback bypass allowed (implementation-
	// defined)."
	AllowLoopback bool
}

// Middleware enforces Config against every request, attaching a Context
// for downstream rate limiting and logging.
func Middleware(cfg Config) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if cfg.APIKey == "" {
				ctx := WithContext(r.Context(), &Context{Authenticated: true, RateLimitKey: r.RemoteAddr})
				next.ServeHTTP(w, r.WithContext(ctx))
				return
			}

			key := r.Header.Get("X-API-Key")
			if key == cfg.APIKey {
				ctx := WithContext(r.Context(), &Context{Authenticated: true, RateLimitKey: key})
				next.ServeHTTP(w, r.WithContext(ctx))
				return
			}

			if cfg.AllowLoopback && isLoopback(r.RemoteAddr) {
				ctx := WithContext(r.Context(), &Context{Authenticated: true, ViaLoopback: true, RateLimitKey: r.RemoteAddr})
				next.ServeHTTP(w, r.WithContext(ctx))
				return
			}

			logger.Info("rejected request from %s: missing or invalid X-API-Key", r.RemoteAddr)
			jsonError(w, "unauthorized", http.StatusUnauthorized)
		})
	}
}

func isLoopback(remoteAddr string) bool {
	host, _, err := net.SplitHostPort(remoteAddr)
	if err != nil {
		host = remoteAddr
	}
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}

func jsonError(w http.ResponseWriter, message string, status int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]interface{}{
		"error": map[string]interface{}{
			"code":    "unauthorized",
			"message": message,
		},
	})
}
