// Package api exposes the HTTP interface for the scraping engine.
package api

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/wina-futureobjects/track-futura/internal/dispatch"
	"github.com/wina-futureobjects/track-futura/internal/ingest"
	"github.com/wina-futureobjects/track-futura/internal/metrics"
	"github.com/wina-futureobjects/track-futura/internal/scraper"
)

// Config controls server-level behavior.
type Config struct {
	// RequestTimeout bounds one inbound request.
	RequestTimeout time.Duration
	// AuthEnabled gates the API key check. Webhook and health endpoints are
	// never key-protected: providers cannot send custom headers reliably.
	AuthEnabled bool
	APIKey      string
	// MaxWebhookBytes caps the accepted webhook payload size.
	MaxWebhookBytes int64
}

func (c Config) withDefaults() Config {
	if c.RequestTimeout <= 0 {
		c.RequestTimeout = 60 * time.Second
	}
	if c.MaxWebhookBytes <= 0 {
		c.MaxWebhookBytes = 64 << 20
	}
	return c
}

// Pinger reports readiness of a downstream dependency.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Server wires HTTP handlers to the dispatcher, gateway, and stores.
type Server struct {
	router     chi.Router
	dispatcher *dispatch.Dispatcher
	gateway    *ingest.Gateway
	requests   scraper.RequestStore
	posts      scraper.PostStore
	folders    scraper.FolderStore
	readiness  Pinger
	cfg        Config
	logger     *zap.Logger
}

// NewServer constructs a Server with middleware and routes. readiness may be
// nil when there is no external dependency to check.
func NewServer(
	dispatcher *dispatch.Dispatcher,
	gateway *ingest.Gateway,
	requests scraper.RequestStore,
	posts scraper.PostStore,
	folders scraper.FolderStore,
	readiness Pinger,
	cfg Config,
	logger *zap.Logger,
) *Server {
	s := &Server{
		dispatcher: dispatcher,
		gateway:    gateway,
		requests:   requests,
		posts:      posts,
		folders:    folders,
		readiness:  readiness,
		cfg:        cfg.withDefaults(),
		logger:     logger,
	}

	r := chi.NewRouter()
	r.Use(s.requestIDMiddleware)
	r.Use(s.loggingMiddleware)
	r.Use(s.recoverMiddleware)
	r.Use(metrics.Middleware)
	r.Use(timeoutMiddleware(s.cfg.RequestTimeout))

	r.Get("/healthz", s.healthz)
	r.Get("/readyz", s.readyz)
	r.Method(http.MethodGet, "/metrics", metrics.Handler())

	r.Route("/api", func(r chi.Router) {
		// Provider callbacks carry no API key.
		r.Post("/webhooks/{provider}", s.handleWebhook)

		r.Group(func(r chi.Router) {
			if s.cfg.AuthEnabled {
				r.Use(s.apiKeyMiddleware)
			}
			r.Post("/scrape-requests", s.createScrapeRequest)
			r.Get("/scrape-requests/{request_id}", s.getScrapeRequest)
			r.Get("/folders/{folder_id}/posts", s.listFolderPosts)
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
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) readyz(w http.ResponseWriter, r *http.Request) {
	if s.readiness != nil {
		if err := s.readiness.Ping(r.Context()); err != nil {
			s.writeError(w, http.StatusServiceUnavailable, "dependency not ready")
			return
		}
	}
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

func (s *Server) requestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		reqID := r.Header.Get("X-Request-ID")
		if reqID == "" {
			reqID = uuid.NewString()
		}
		ctx := context.WithValue(r.Context(), requestIDKey{}, reqID)
		w.Header().Set("X-Request-ID", reqID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := &statusWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(ww, r)
		s.logger.Info("request completed",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.status),
			zap.Int64("duration_ms", time.Since(start).Milliseconds()),
			zap.String("request_id", requestIDFrom(r.Context())),
		)
	})
}

func (s *Server) recoverMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				s.logger.Error("panic recovered",
					zap.Any("panic", rec),
					zap.String("path", r.URL.Path),
				)
				s.writeError(w, http.StatusInternalServerError, "internal server error")
			}
		}()
		next.ServeHTTP(w, r)
	})
}

func (s *Server) apiKeyMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		key := r.Header.Get("X-API-Key")
		if key == "" {
			key = r.URL.Query().Get("api_key")
		}
		if key != s.cfg.APIKey {
			s.writeError(w, http.StatusForbidden, "unauthorized")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func timeoutMiddleware(d time.Duration) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.TimeoutHandler(next, d, "request timed out")
	}
}

type statusWriter struct {
	http.ResponseWriter
	status int
}

func (sw *statusWriter) WriteHeader(code int) {
	sw.status = code
	sw.ResponseWriter.WriteHeader(code)
}

type requestIDKey struct{}

func requestIDFrom(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey{}).(string)
	return id
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		s.logger.Error("write JSON failed", zap.Error(err))
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, msg string) {
	s.writeJSON(w, status, map[string]string{"error": msg})
}
