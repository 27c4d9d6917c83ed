package httpapi

import (
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/Dremora/endpoints/internal/endpoint"
	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog/log"
)

// maxBodyBytes caps request documents
const maxBodyBytes = 1 << 20

// ============================================================================
// JSON:API resource endpoints
// ============================================================================
//
// - GET    /{type}/{id}                              - Read a resource
// - PATCH  /{type}/{id}                              - Update attributes and relationships
// - PUT    /{type}/{id}                              - Same as PATCH
// - GET    /{type}/{id}/relationships/{relationship} - Read linkage
// - PATCH  /{type}/{id}/relationships/{relationship} - Replace linkage
// - PUT    /{type}/{id}/relationships/{relationship} - Same as PATCH
// - POST   /{type}/{id}/relationships/{relationship} - Add to-many members
// - DELETE /{type}/{id}/relationships/{relationship} - Remove to-many members
//
// ============================================================================

// ServeResource adapts an HTTP request to the update handler
func (s *Server) ServeResource(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	logger := log.Ctx(ctx)

	var body []byte
	if r.Body != nil {
		b, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
		if err != nil {
			var tooLarge *http.MaxBytesError
			if errors.As(err, &tooLarge) {
				writeError(w, r, http.StatusRequestEntityTooLarge, "request document is too large")
				return
			}
			logger.Warn().Err(err).Msg("failed to read request body")
			writeError(w, r, http.StatusBadRequest, "failed to read request body")
			return
		}
		body = b
	}

	req := endpoint.Request{
		Method:       r.Method,
		Type:         chi.URLParam(r, "type"),
		ID:           chi.URLParam(r, "id"),
		Relationship: chi.URLParam(r, "relationship"),
		Accept:       strings.Join(r.Header.Values("Accept"), ", "),
		ContentType:  r.Header.Get("Content-Type"),
		Body:         body,
		BaseURL:      baseURL(r, s.BasePath),
	}

	reply := endpoint.NewReply(func(resp endpoint.Response) error {
		return writeJSONAPI(w, resp.Code, resp.Data)
	})
	if err := s.Handler.Serve(ctx, req, reply); err != nil {
		logger.Error().Err(err).Str("type", req.Type).Str("id", req.ID).Msg("failed to write response")
	}
}

// baseURL is the absolute prefix of generated links
func baseURL(r *http.Request, basePath string) string {
	scheme := "http"
	if r.TLS != nil {
		scheme = "https"
	}
	if proto := r.Header.Get("X-Forwarded-Proto"); proto == "http" || proto == "https" {
		scheme = proto
	}
	return scheme + "://" + r.Host + strings.TrimSuffix(basePath, "/")
}
