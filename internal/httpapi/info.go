package httpapi

import (
	"net/http"
	"time"

	"github.com/Dremora/endpoints/internal/jsonapi"
	"github.com/Dremora/endpoints/internal/schema"
)

// ServerInfo describes what the server serves and how
type ServerInfo struct {
	ServerTime  string              `json:"serverTime"`
	MediaType   string              `json:"mediaType"`
	Extensions  []string            `json:"extensions"`
	StoreDriver string              `json:"storeDriver,omitempty"`
	BasePath    string              `json:"basePath,omitempty"`
	Types       map[string]TypeInfo `json:"types"`
	RateLimit   *RateLimitInfo      `json:"rateLimit,omitempty"`
}

// RateLimitInfo describes the server's rate limiting policy
type RateLimitInfo struct {
	WindowSeconds int `json:"windowSeconds"` // e.g. 60
	MaxRequests   int `json:"maxRequests"`   // per window
	Burst         int `json:"burst"`         // token bucket size
}

// TypeInfo describes one resource type
type TypeInfo struct {
	Attributes    []string                    `json:"attributes,omitempty"`
	Unique        []string                    `json:"unique,omitempty"`
	Touch         string                      `json:"touch,omitempty"`
	Constraints   []string                    `json:"constraints,omitempty"`
	Relationships map[string]RelationshipInfo `json:"relationships,omitempty"`
}

// RelationshipInfo describes a relationship and the operations it permits
type RelationshipInfo struct {
	Kind         string   `json:"kind"`
	Types        []string `json:"types"`
	AllowReplace bool     `json:"allowReplace"`
	AllowAppend  bool     `json:"allowAppend"`
	AllowDelete  bool     `json:"allowDelete"`
}

func describe(reg *schema.Registry) map[string]TypeInfo {
	out := make(map[string]TypeInfo)
	for _, rt := range reg.Types() {
		ti := TypeInfo{
			Attributes: rt.Attributes,
			Unique:     rt.Unique,
			Touch:      rt.Touch,
		}
		for _, c := range rt.Constraints {
			ti.Constraints = append(ti.Constraints, c.Name)
		}
		for _, name := range rt.RelationshipNames() {
			rel, _ := rt.Relationship(name)
			types := rel.Types
			if !rel.Heterogeneous {
				types = []string{rel.Type}
			}
			toMany := rel.Kind == schema.ToMany
			if ti.Relationships == nil {
				ti.Relationships = make(map[string]RelationshipInfo)
			}
			ti.Relationships[name] = RelationshipInfo{
				Kind:         string(rel.Kind),
				Types:        types,
				AllowReplace: !toMany || rel.ReplaceAllowed(),
				AllowAppend:  toMany,
				AllowDelete:  toMany && rel.DeleteAllowed(),
			}
		}
		out[rt.Name] = ti
	}
	return out
}

// Info handles GET /info
// Returns the resource types, relationships and policies the server serves
func (s *Server) Info(w http.ResponseWriter, r *http.Request) {
	info := ServerInfo{
		ServerTime:  time.Now().UTC().Format(time.RFC3339Nano),
		MediaType:   jsonapi.MediaType,
		Extensions:  s.Handler.Negotiator().Extensions(),
		StoreDriver: s.StoreDriver,
		BasePath:    s.BasePath,
		Types:       describe(s.Handler.Registry()),
	}
	if s.RateLimitConfig.MaxRequests > 0 {
		info.RateLimit = &s.RateLimitConfig
	}

	writeJSON(w, http.StatusOK, info)
}
