// Package server sets up the HTTP router and the outermost error
// boundary of the gateway.
package server

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/howard-nolan/isogate/internal/config"
	"github.com/howard-nolan/isogate/internal/proxy"
)

// Server holds the router and the dependencies the handlers need. All
// fields are read-only after New; the only shared mutable state in the
// gateway lives inside the forwarder's connection pool.
type Server struct {
	router    chi.Router
	cfg       *config.Config
	forwarder *proxy.Forwarder
	logger    *zap.Logger
}

// New creates a Server with its routes wired, ready to use as an
// http.Handler.
func New(cfg *config.Config, f *proxy.Forwarder, logger *zap.Logger) *Server {
	s := &Server{cfg: cfg, forwarder: f, logger: logger}
	s.routes()
	return s
}

// routes builds the chi router. The allowlist is closed: POST
// /v1/messages and the liveness probe are the only routes, everything
// else is rejected with the gateway's error envelope.
func (s *Server) routes() {
	r := chi.NewRouter()

	r.Use(s.recoverer)

	r.NotFound(func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusNotFound, proxy.ErrorBody(proxy.ErrTypeNotFound, "Not found"))
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusMethodNotAllowed, proxy.ErrorBody(proxy.ErrTypeMethodNotAllowed, "Method not allowed"))
	})

	r.Get("/health", s.handleHealth)
	r.Post("/v1/messages", s.handleMessages)

	s.router = r
}

// ServeHTTP makes Server satisfy http.Handler by delegating to chi.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// recoverer is the outermost boundary: any panic in the pipeline
// becomes a generic 500 envelope so no internal state can leak through
// an unhandled-error path.
func (s *Server) recoverer(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				if rec == http.ErrAbortHandler {
					panic(rec)
				}
				s.logger.Error("panic in handler",
					zap.String("path", r.URL.Path),
					zap.Any("panic", rec),
				)
				writeJSON(w, http.StatusInternalServerError,
					proxy.ErrorBody(proxy.ErrTypeInternal, "Internal server error"))
			}
		}()
		next.ServeHTTP(w, r)
	})
}

func writeJSON(w http.ResponseWriter, status int, body []byte) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	w.Write(body)
}
