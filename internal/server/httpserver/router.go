// Package httpserver provides the HTTP metrics and health server for tokvaultd.
package httpserver

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// StatusProvider reports a read-only operational snapshot of the node,
// surfaced over GET /status. It is satisfied by the Raft node wrapper
// wired in cmd/tokvaultd-server.
type StatusProvider interface {
	Status(ctx context.Context) map[string]any
}

// RouterConfig holds configuration for the HTTP router.
type RouterConfig struct {
	Logger *slog.Logger

	// Status, if non-nil, serves GET /status with the node's operational snapshot.
	Status StatusProvider

	// CORSAllowedOrigins is the list of allowed CORS origins (empty = no CORS middleware, no CORS headers).
	CORSAllowedOrigins []string

	// GlobalRateLimit is the global rate limit per IP (requests/second). 0 disables it.
	GlobalRateLimit int
}

// NewRouter builds the metrics/health/status mux. There is no authenticated
// business API here: tokvaultd's client-facing surface is the line protocol
// server in internal/server, not HTTP.
func NewRouter(cfg *RouterConfig) http.Handler {
	mux := http.NewServeMux()

	base := []Middleware{RequestID(), Recover(cfg.Logger), Metrics()}
	if len(cfg.CORSAllowedOrigins) > 0 {
		base = append(base, CORS(cfg.CORSAllowedOrigins))
	}
	if cfg.GlobalRateLimit > 0 {
		base = append(base, RateLimit(cfg.GlobalRateLimit))
	}

	mux.Handle("GET /health", Chain(http.HandlerFunc(handleHealth), base...))
	mux.Handle("GET /ready", Chain(http.HandlerFunc(handleHealth), base...))
	mux.Handle("GET /metrics", Chain(promhttp.Handler(), base...))

	if cfg.Status != nil {
		mux.Handle("GET /status", Chain(statusHandler(cfg.Status), base...))
	}

	return mux
}

// DefaultRouterConfig returns default router configuration.
func DefaultRouterConfig() *RouterConfig {
	return &RouterConfig{
		GlobalRateLimit: 1000,
	}
}
