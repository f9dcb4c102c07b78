// Package httpapi implements the code execution service's REST+SSE surface:
// session lifecycle, extension loading, execution (sync and streamed),
// variable overwrite, file upload, and artifact download.
package httpapi

import (
	"context"
	"net/http"

	"github.com/HyphaGroup/cesvault/internal/auth"
	"github.com/HyphaGroup/cesvault/internal/logger"
	"github.com/HyphaGroup/cesvault/internal/metrics"
	"github.com/HyphaGroup/cesvault/internal/session"
)

// Server wires the session manager to the HTTP surface.
type Server struct {
	mgr         *session.Manager
	authCfg     auth.Config
	rateLimiter *auth.RateLimiter
	version     string
	httpServer  *http.Server
}

// Config carries the pieces New needs beyond the session manager itself.
type Config struct {
	Auth        auth.Config
	RateLimiter *auth.RateLimiter // defaults to auth.DefaultRateLimiter() if nil
	Version     string
}

func New(mgr *session.Manager, cfg Config) *Server {
	rl := cfg.RateLimiter
	if rl == nil {
		rl = auth.DefaultRateLimiter()
	}
	version := cfg.Version
	if version == "" {
		version = "dev"
	}
	return &Server{mgr: mgr, authCfg: cfg.Auth, rateLimiter: rl, version: version}
}

// protect wraps h with the full middleware chain: metrics (outermost), rate
// limiting, auth, then request-ID assignment and logging closest to the
// handler — the teacher's wrapping order in cmd/server/main.go, generalized
// per-route since health and metrics themselves stay unauthenticated.
func (s *Server) protect(h http.HandlerFunc) http.Handler {
	var handler http.Handler = withRequestIDAndLogging(h)
	handler = auth.Middleware(s.authCfg)(handler)
	handler = auth.RateLimitMiddleware(s.rateLimiter)(handler)
	handler = metrics.Middleware(handler)
	return handler
}

// Handler returns the full HTTP handler, suitable for http.Server or
// httptest.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /api/v1/health", withRequestIDAndLogging(s.handleHealth))
	mux.Handle("GET /metrics", metrics.Handler())

	mux.Handle("GET /api/v1/sessions", s.protect(s.handleListSessions))
	mux.Handle("POST /api/v1/sessions", s.protect(s.handleCreateSession))
	mux.Handle("GET /api/v1/sessions/{id}", s.protect(s.handleGetSession))
	mux.Handle("DELETE /api/v1/sessions/{id}", s.protect(s.handleDeleteSession))
	mux.Handle("POST /api/v1/sessions/{id}/plugins", s.protect(s.handleLoadExtension))
	mux.Handle("POST /api/v1/sessions/{id}/execute", s.protect(s.handleExecute))
	mux.Handle("GET /api/v1/sessions/{id}/execute/{exec_id}/stream", s.protect(s.handleStream))
	mux.Handle("GET /api/v1/sessions/{id}/execute/{exec_id}/stats", s.protect(s.handleStreamStats))
	mux.Handle("POST /api/v1/sessions/{id}/variables", s.protect(s.handleUpdateVariables))
	mux.Handle("POST /api/v1/sessions/{id}/files", s.protect(s.handleUploadFile))
	mux.Handle("GET /api/v1/sessions/{id}/artifacts/{file}", s.protect(s.handleDownloadArtifact))

	return mux
}

// Serve starts the HTTP server on addr and blocks until it stops.
func (s *Server) Serve(addr string) error {
	s.httpServer = &http.Server{Addr: addr, Handler: s.Handler()}
	logger.Info("cesvault HTTP API listening on %s", addr)
	logger.Info("health check: http://localhost%s/api/v1/health", addr)
	logger.Info("metrics: http://localhost%s/metrics", addr)
	err := s.httpServer.ListenAndServe()
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

// Shutdown gracefully stops the HTTP listener, letting in-flight requests
// (including open SSE streams) drain until ctx is done.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.httpServer == nil {
		return nil
	}
	return s.httpServer.Shutdown(ctx)
}
