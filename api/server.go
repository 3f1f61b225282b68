// Package api serves blockkit over HTTP. It holds no policy logic: every
// decision comes from the compliance gate.
package api

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/rustyeddy/blockkit/compliance"
	"github.com/rustyeddy/blockkit/ledger"
	"github.com/rustyeddy/blockkit/registry"
)

const maxBodyBytes = 1 << 20

type Server struct {
	registry *registry.Registry
	gate     *compliance.Gate
	ledger   *ledger.Ledger
	limiter  *InstanceRateLimiter
	log      *slog.Logger
}

type Option func(*Server)

func WithRateLimit(rps float64, burst int) Option {
	return func(s *Server) { s.limiter = NewInstanceRateLimiter(rps, burst) }
}

func WithLogger(log *slog.Logger) Option {
	return func(s *Server) { s.log = log }
}

func NewServer(reg *registry.Registry, gate *compliance.Gate, l *ledger.Ledger, opts ...Option) *Server {
	s := &Server{
		registry: reg,
		gate:     gate,
		ledger:   l,
		log:      slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.log = s.log.With("component", "api")
	return s
}

// Routes builds the router.
func (s *Server) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(s.requestLog)

	r.Get("/health", s.handleHealth)
	r.Post("/manifests", s.handleRegisterManifest)

	r.Route("/blocks", func(r chi.Router) {
		r.Get("/", s.handleListBlocks)
		r.Post("/", s.handleActivate)

		r.Route("/{id}", func(r chi.Router) {
			r.Use(s.limiter.Middleware)
			r.Get("/manifest", s.handleGetManifest)
			r.Get("/policy", s.handleGetPolicy)
			r.Get("/ledger", s.handleGetLedger)
			r.Post("/proposals", s.handleProposal)
			r.Post("/operations", s.handleOperation)
			r.Post("/renew", s.handleRenew)
		})
	})
	return r
}

func (s *Server) requestLog(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		s.log.Debug("http request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"bytes", ww.BytesWritten(),
			"duration", time.Since(start),
			"request_id", middleware.GetReqID(r.Context()),
		)
	})
}

// HTTPServer wraps Routes with the timeouts used in production.
func (s *Server) HTTPServer(addr string) *http.Server {
	return &http.Server{
		Addr:              addr,
		Handler:           s.Routes(),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       120 * time.Second,
	}
}
