// Package api exposes the HTTP interface for the maintainer service.
package api

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/mleenorris/ComicMaintainer-sub003/internal/activejob"
	"github.com/mleenorris/ComicMaintainer-sub003/internal/broadcast"
	"github.com/mleenorris/ComicMaintainer-sub003/internal/cache"
	"github.com/mleenorris/ComicMaintainer-sub003/internal/catalog"
	"github.com/mleenorris/ComicMaintainer-sub003/internal/config"
	"github.com/mleenorris/ComicMaintainer-sub003/internal/inventory"
	"github.com/mleenorris/ComicMaintainer-sub003/internal/metrics"
	"github.com/mleenorris/ComicMaintainer-sub003/internal/store"
)

// JobService is the executor surface the handlers depend on.
type JobService interface {
	Submit(ctx context.Context, items []string) (string, error)
	Status(ctx context.Context, id string) (catalog.Job, error)
	Cancel(ctx context.Context, id string) error
	List(ctx context.Context) ([]catalog.Job, error)
}

// Server wires HTTP handlers to the executor, broadcaster, and stores.
type Server struct {
	router   chi.Router
	jobs     JobService
	events   *broadcast.Broadcaster
	pointer  *activejob.Manager
	caches   *cache.Coordinator
	enricher *inventory.Enricher
	kv       store.Store
	cfg      config.Config
	logger   *zap.Logger
}

// enrichedFilesKey names the cache entry backing GET /files.
const enrichedFilesKey = "enriched-files"

// NewServer constructs a Server with middleware and routes.
func NewServer(
	jobs JobService,
	events *broadcast.Broadcaster,
	pointer *activejob.Manager,
	caches *cache.Coordinator,
	enricher *inventory.Enricher,
	kv store.Store,
	cfg config.Config,
	logger *zap.Logger,
) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Server{
		jobs:     jobs,
		events:   events,
		pointer:  pointer,
		caches:   caches,
		enricher: enricher,
		kv:       kv,
		cfg:      cfg,
		logger:   logger,
	}
	timeout := time.Duration(cfg.Server.TimeoutSeconds) * time.Second
	if timeout <= 0 {
		timeout = 60 * time.Second
	}

	r := chi.NewRouter()
	r.Use(requestIDMiddleware)
	r.Use(s.loggingMiddleware)
	r.Use(s.recoverMiddleware)
	if cfg.Auth.Enabled {
		r.Use(apiKeyMiddleware(cfg.Auth.APIKey))
	}

	r.Get("/healthz", s.healthz)
	r.Get("/readyz", s.readyz)
	r.Method(http.MethodGet, "/metrics", metrics.Handler())

	// The event stream outlives any request timeout; everything else is
	// bounded.
	r.Get("/events", s.streamEvents)

	r.Group(func(r chi.Router) {
		r.Use(timeoutMiddleware(timeout))
		r.Route("/jobs", func(r chi.Router) {
			r.Post("/", s.submitJob)
			r.Get("/", s.listJobs)
			r.Get("/active", s.getActiveJob)
			r.Route("/{job_id}", func(r chi.Router) {
				r.Get("/", s.getJob)
				r.Post("/cancel", s.cancelJob)
			})
		})
		r.Get("/files", s.listFiles)
		r.Route("/active-job", func(r chi.Router) {
			r.Get("/", s.getPointer)
			r.Post("/", s.setPointer)
			r.Delete("/", s.clearPointer)
		})
		r.Route("/preferences", func(r chi.Router) {
			r.Get("/", s.listPreferences)
			r.Post("/", s.setPreferences)
			r.Get("/{key}", s.getPreference)
		})
	})

	s.router = r
	return s
}

// Handler returns the router for use with http.Server.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) readyz(w http.ResponseWriter, r *http.Request) {
	// The store is the only downstream; one cheap read proves it answers.
	if _, err := s.kv.Get(r.Context(), activejob.Key); err != nil && !errors.Is(err, store.ErrNotFound) {
		writeError(w, http.StatusServiceUnavailable, "store unavailable")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

func requestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		reqID := uuid.NewString()
		ctx := context.WithValue(r.Context(), requestIDKey{}, reqID)
		w.Header().Set("X-Request-ID", reqID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := &responseWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(ww, r)
		duration := time.Since(start)
		route := chi.RouteContext(r.Context()).RoutePattern()
		metrics.ObserveHTTPRequest(r.Method, route, ww.status, duration)
		s.logger.Info("request completed",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.status),
			zap.Int64("duration_ms", duration.Milliseconds()),
		)
	})
}

func (s *Server) recoverMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				s.logger.Error("panic recovered", zap.Any("error", rec))
				writeError(w, http.StatusInternalServerError, "internal server error")
			}
		}()
		next.ServeHTTP(w, r)
	})
}

func timeoutMiddleware(d time.Duration) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.TimeoutHandler(next, d, "request timed out")
	}
}

func apiKeyMiddleware(expected string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := r.Header.Get("X-API-Key")
			if key == "" {
				key = r.URL.Query().Get("api_key")
			}
			if key != expected {
				writeError(w, http.StatusForbidden, "unauthorized")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

type requestIDKey struct{}

type responseWriter struct {
	http.ResponseWriter
	status int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.status = code
	rw.ResponseWriter.WriteHeader(code)
}

func (rw *responseWriter) Write(b []byte) (int, error) {
	n, err := rw.ResponseWriter.Write(b)
	if err != nil {
		return n, fmt.Errorf("write response: %w", err)
	}
	return n, nil
}

func (rw *responseWriter) Flush() {
	if f, ok := rw.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

func (rw *responseWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	if h, ok := rw.ResponseWriter.(http.Hijacker); ok {
		conn, buf, err := h.Hijack()
		if err != nil {
			return nil, nil, fmt.Errorf("hijack connection: %w", err)
		}
		return conn, buf, nil
	}
	return nil, nil, errors.New("hijacker not supported")
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		zap.L().Error("write JSON failed", zap.Error(err))
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
