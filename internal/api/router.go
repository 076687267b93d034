package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
)

// buildRouter creates the HTTP router with all routes and middleware.
func (s *Server) buildRouter() http.Handler {
	r := chi.NewRouter()

	r.Use(s.requestIDMiddleware)
	r.Use(s.loggingMiddleware)
	r.Use(s.recoveryMiddleware)

	r.Method(http.MethodGet, "/metrics", s.metrics.Handler())

	r.Route("/api/v1", func(r chi.Router) {
		r.Method(http.MethodGet, "/health", s.instrument("/api/v1/health", s.handleHealth))

		r.Route("/loops", func(r chi.Router) {
			r.Method(http.MethodGet, "/", s.instrument("/api/v1/loops", s.handleListLoops))
			r.Method(http.MethodGet, "/{name}", s.instrument("/api/v1/loops/{name}", s.handleGetLoop))
			r.Method(http.MethodGet, "/{name}/history", s.instrument("/api/v1/loops/{name}/history", s.handleLoopHistory))
		})

		r.Method(http.MethodGet, "/commands", s.instrument("/api/v1/commands", s.handleListCommands))
	})

	return r
}

// instrument labels request metrics with the route pattern rather than the
// concrete path so loop names do not multiply series.
func (s *Server) instrument(route string, h http.HandlerFunc) http.Handler {
	return s.metrics.WrapHandler(route, h)
}
