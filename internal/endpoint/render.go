package endpoint

import (
	"net/http"
	"net/url"
	"strings"

	"github.com/Dremora/endpoints/internal/jsonapi"
	"github.com/Dremora/endpoints/internal/schema"
	"github.com/Dremora/endpoints/internal/store"
)

func resourceLink(base, typ, id string) string {
	return strings.TrimSuffix(base, "/") + "/" + url.PathEscape(typ) + "/" + url.PathEscape(id)
}

// resourceObject renders a record with every declared relationship
func resourceObject(base string, rt *schema.ResourceType, rec *store.Record) jsonapi.ResourceObject {
	self := resourceLink(base, rec.Type, rec.ID)

	attrs := make(map[string]any, len(rec.Attributes))
	for k, v := range rec.Attributes {
		attrs[k] = v
	}

	var rels map[string]jsonapi.Relationship
	if names := rt.RelationshipNames(); len(names) > 0 {
		rels = make(map[string]jsonapi.Relationship, len(names))
		for _, name := range names {
			rel, _ := rt.Relationship(name)
			rels[name] = jsonapi.Relationship{
				Data: rec.Linkage(name, rel.Kind == schema.ToMany),
				Links: jsonapi.Links{
					"self":    self + "/relationships/" + name,
					"related": self + "/" + name,
				},
			}
		}
	}

	return jsonapi.ResourceObject{
		Type:          rec.Type,
		ID:            rec.ID,
		Attributes:    attrs,
		Relationships: rels,
		Links:         jsonapi.Links{"self": self},
	}
}

func (h *Handler) renderResource(req Request, rt *schema.ResourceType, rec *store.Record) Response {
	obj := resourceObject(req.BaseURL, rt, rec)
	return Response{
		Code: http.StatusOK,
		Data: jsonapi.Document{
			Data:  obj,
			Links: jsonapi.Links{"self": obj.Links["self"]},
		},
	}
}
