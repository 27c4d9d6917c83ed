package httpapi

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"

	"github.com/Dremora/endpoints/internal/endpoint"
	"github.com/Dremora/endpoints/internal/jsonapi"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog/log"
)

// Server holds dependencies for HTTP handlers
type Server struct {
	Handler         *endpoint.Handler
	RateLimitConfig RateLimitInfo
	// BasePath mounts the resource routes under a prefix, e.g. "/v1"
	BasePath string
	// StoreDriver is reported by /info
	StoreDriver string
	Metrics     *Metrics
	// Ping reports datastore health for /healthz; nil means always healthy
	Ping func(ctx context.Context) error
}

// writeJSON writes a JSON response with the given status code
func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Error().Err(err).Msg("failed to encode json response")
	}
}

// writeJSONAPI writes a JSON:API document. A nil document sends headers only.
func writeJSONAPI(w http.ResponseWriter, code int, v any) error {
	if v == nil {
		w.WriteHeader(code)
		return nil
	}
	w.Header().Set("Content-Type", jsonapi.MediaType)
	w.WriteHeader(code)
	return json.NewEncoder(w).Encode(v)
}

// writeError writes a single JSON:API error object for failures raised
// outside the update handler (rate limiting, oversized bodies)
func writeError(w http.ResponseWriter, r *http.Request, status int, msg string) {
	p := jsonapi.NewProblem(status, strings.ReplaceAll(strings.ToLower(http.StatusText(status)), " ", "_"), msg)
	if err := writeJSONAPI(w, status, p.Document()); err != nil {
		log.Ctx(r.Context()).Error().Err(err).Msg("failed to encode error response")
	}
}

// Routes creates the HTTP router
func (s *Server) Routes() http.Handler {
	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(CorrelationMiddleware)
	r.Use(AccessLogMiddleware)
	r.Use(middleware.Recoverer)
	if s.Metrics != nil {
		r.Use(s.Metrics.Middleware)
	}

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, r, http.StatusNotFound, "no route for "+r.URL.Path)
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, r, http.StatusMethodNotAllowed, r.Method+" is not supported here")
	})

	r.Get("/healthz", s.Health)
	r.Get("/info", s.Info)
	if s.Metrics != nil {
		r.Handle("/metrics", s.Metrics.Handler())
	}

	resources := func(r chi.Router) {
		if s.RateLimitConfig.MaxRequests > 0 {
			r.Use(RateLimitMiddleware(s.RateLimitConfig))
		}

		r.Get("/{type}/{id}", s.ServeResource)
		r.Patch("/{type}/{id}", s.ServeResource)
		r.Put("/{type}/{id}", s.ServeResource)

		r.Get("/{type}/{id}/relationships/{relationship}", s.ServeResource)
		r.Patch("/{type}/{id}/relationships/{relationship}", s.ServeResource)
		r.Put("/{type}/{id}/relationships/{relationship}", s.ServeResource)
		r.Post("/{type}/{id}/relationships/{relationship}", s.ServeResource)
		r.Delete("/{type}/{id}/relationships/{relationship}", s.ServeResource)
	}
	if base := strings.TrimSuffix(s.BasePath, "/"); base != "" {
		r.Route(base, resources)
	} else {
		r.Group(resources)
	}

	log.Info().Str("base_path", s.BasePath).Msg("HTTP routes registered")
	return r
}

// Health handles GET /healthz
func (s *Server) Health(w http.ResponseWriter, r *http.Request) {
	if s.Ping != nil {
		if err := s.Ping(r.Context()); err != nil {
			log.Ctx(r.Context()).Warn().Err(err).Msg("health check failed")
			w.WriteHeader(http.StatusServiceUnavailable)
			w.Write([]byte("unavailable"))
			return
		}
	}
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("ok"))
}
