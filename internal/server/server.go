// Package server is the HTTP surface of the search API.
package server

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/qter21/legal-codes-search-api/internal/async"
	"github.com/qter21/legal-codes-search-api/internal/metrics"
	"github.com/qter21/legal-codes-search-api/internal/search"
	"github.com/qter21/legal-codes-search-api/internal/status"
	codesync "github.com/qter21/legal-codes-search-api/internal/sync"
)

// Engine answers queries. *search.Engine implements it.
type Engine interface {
	Search(ctx context.Context, req search.Request) (*search.Response, error)
	Classify(query string) search.Classification
}

// StatusSource reports index and sync state. *status.Collector implements it.
type StatusSource interface {
	Collect(ctx context.Context) (*status.Snapshot, error)
	Failures(ctx context.Context) (*status.Failures, error)
	Health(ctx context.Context) status.Health
}

// SyncScheduler runs background syncs. *async.Scheduler implements it.
type SyncScheduler interface {
	Trigger(mode codesync.Mode) bool
	Progress() *async.SyncProgress
}

// Deps are the collaborators of a Server. Scheduler and MCP are optional.
type Deps struct {
	Engine    Engine
	Fetcher   search.DocumentFetcher
	Status    StatusSource
	Scheduler SyncScheduler
	// MCP, when set, is mounted at /mcp.
	MCP    http.Handler
	Logger *slog.Logger
}

// Config tunes request handling.
type Config struct {
	ContextMaxChars int
	RequestTimeout  time.Duration
}

// Server serves the REST API.
type Server struct {
	engine    Engine
	fetcher   search.DocumentFetcher
	status    StatusSource
	scheduler SyncScheduler
	mcp       http.Handler
	logger    *slog.Logger
	config    Config
}

// New creates a Server.
func New(deps Deps, cfg Config) *Server {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.ContextMaxChars <= 0 {
		cfg.ContextMaxChars = 8000
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = 30 * time.Second
	}
	return &Server{
		engine:    deps.Engine,
		fetcher:   deps.Fetcher,
		status:    deps.Status,
		scheduler: deps.Scheduler,
		mcp:       deps.MCP,
		logger:    logger,
		config:    cfg,
	}
}

// Handler builds the router.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(s.recoverer)
	r.Use(chiMiddleware.RequestID)
	r.Use(s.requestLog)
	r.Use(metrics.Middleware())

	r.Get("/healthz", s.handleHealth)
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(chiMiddleware.Timeout(s.config.RequestTimeout))

		r.Get("/search", s.handleSearchGet)
		r.Post("/search", s.handleSearchPost)
		r.Post("/classify", s.handleClassify)
		r.Post("/context", s.handleContext)
		r.Get("/sections/{id}", s.handleSection)

		r.Get("/sync/status", s.handleSyncStatus)
		r.Get("/sync/failures", s.handleSyncFailures)
		r.Post("/sync", s.handleSyncTrigger)
	})

	if s.mcp != nil {
		r.Handle("/mcp", s.mcp)
	}
	return r
}

// ListenAndServe serves on addr until ctx is cancelled, then shuts down
// gracefully.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		WriteTimeout:      s.config.RequestTimeout + 5*time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("http_server_started", slog.String("addr", addr))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		s.logger.Error("http_server_shutdown_failed", slog.String("error", err.Error()))
		return err
	}
	s.logger.Info("http_server_stopped")
	return nil
}

// recoverer turns panics into a JSON 500.
func (s *Server) recoverer(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rvr := recover(); rvr != nil {
				s.logger.Error("http_panic_recovered",
					slog.Any("panic", rvr),
					slog.String("path", r.URL.Path))
				writeJSON(w, http.StatusInternalServerError, ErrorResponse{Code: "internal_error", Message: "internal error"})
			}
		}()
		next.ServeHTTP(w, r)
	})
}

// requestLog emits one line per request and echoes the request ID.
func (s *Server) requestLog(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		requestID := chiMiddleware.GetReqID(r.Context())
		if requestID != "" {
			w.Header().Set("X-Request-ID", requestID)
		}

		ww := chiMiddleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		level := slog.LevelInfo
		if ww.Status() >= http.StatusInternalServerError {
			level = slog.LevelError
		}
		s.logger.LogAttrs(r.Context(), level, "http_request",
			slog.String("request_id", requestID),
			slog.String("method", r.Method),
			slog.String("path", r.URL.Path),
			slog.Int("status", ww.Status()),
			slog.Int("bytes", ww.BytesWritten()),
			slog.Duration("duration", time.Since(start)))
	})
}
