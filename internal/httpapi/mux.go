package httpapi

import (
	"log/slog"
	"net/http"
	"time"

	"govee-gateway/internal/config"
	"govee-gateway/internal/metrics"
	"govee-gateway/internal/scanner"
	"govee-gateway/internal/storage"
)

// SessionSource is implemented by *scanner.Scanner.
type SessionSource interface {
	Session() scanner.Session
}

type Deps struct {
	Scanner SessionSource
	// Repo is nil when storage is disabled; the device endpoints then answer 503.
	Repo    storage.Repository
	Metrics *metrics.Metrics
}

func NewMux(deps Deps) *http.ServeMux {
	mux := http.NewServeMux()
	registerHealthcheck(mux, deps)
	registerScanner(mux, deps)
	registerDevices(mux, deps)
	if deps.Metrics != nil {
		mux.Handle("GET /metrics", deps.Metrics.WrapHandler("/metrics", deps.Metrics.Handler()))
	}
	return mux
}

func NewServer(cfg config.Config, handler http.Handler) *http.Server {
	return &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           requestLogger(slog.Default(), handler),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       10 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
}

// route wraps h with request metrics when metrics are enabled.
func route(deps Deps, pattern string, h http.HandlerFunc) http.Handler {
	if deps.Metrics == nil {
		return h
	}
	return deps.Metrics.WrapHandler(pattern, h)
}
