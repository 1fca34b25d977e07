// Package api exposes the session provider over HTTP.
//
// Routes:
//
//	GET    /health
//	GET    /metrics
//	POST   /sessions                 create a session, returns its id
//	GET    /sessions/{id}            plain read
//	PATCH  /sessions/{id}            exclusive read, apply changes, write and release
//	DELETE /sessions/{id}            remove
//	POST   /sessions/{id}/lock       exclusive read, lock kept until released
//	DELETE /sessions/{id}/lock       release a lock by ?lockId=
//	POST   /purge                    delete expired sessions
package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"

	"github.com/roach88/sessionstate/internal/metrics"
	"github.com/roach88/sessionstate/internal/provider"
)

// DefaultTimeout is the session timeout in minutes used when a create request
// does not name one.
const DefaultTimeout = 20

// Server handles HTTP requests against a provider.
type Server struct {
	p       *provider.Provider
	m       *metrics.Metrics
	logger  zerolog.Logger
	timeout int
}

// Option configures a Server.
type Option func(*Server)

// WithMetrics mounts the metrics handler at /metrics.
func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Server) {
		s.m = m
	}
}

// WithLogger sets the request logger.
func WithLogger(l zerolog.Logger) Option {
	return func(s *Server) {
		s.logger = l
	}
}

// WithDefaultTimeout sets the timeout for sessions created without one.
func WithDefaultTimeout(minutes int) Option {
	return func(s *Server) {
		if minutes > 0 {
			s.timeout = minutes
		}
	}
}

// NewServer wires the session routes into a chi router.
func NewServer(p *provider.Provider, opts ...Option) http.Handler {
	s := &Server{
		p:       p,
		logger:  zerolog.Nop(),
		timeout: DefaultTimeout,
	}
	for _, opt := range opts {
		opt(s)
	}

	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(s.logRequests)

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})
	if s.m != nil {
		r.Method(http.MethodGet, "/metrics", s.m.Handler())
	}

	r.Route("/sessions", func(r chi.Router) {
		r.Post("/", s.createSession)
		r.Route("/{id}", func(r chi.Router) {
			r.Get("/", s.getSession)
			r.Patch("/", s.patchSession)
			r.Delete("/", s.deleteSession)
			r.Post("/lock", s.lockSession)
			r.Delete("/lock", s.releaseSession)
		})
	})
	r.Post("/purge", s.purge)

	return r
}

func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		started := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		s.logger.Debug().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", ww.Status()).
			Dur("duration", time.Since(started)).
			Msg("http request")
	})
}
