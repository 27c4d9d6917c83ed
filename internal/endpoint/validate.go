package endpoint

import (
	"fmt"
	"net/http"
	"sort"
	"strconv"

	"github.com/Dremora/endpoints/internal/jsonapi"
	"github.com/Dremora/endpoints/internal/schema"
	"github.com/Dremora/endpoints/internal/store"
)

// checkAttributes rejects attributes the type does not declare
func checkAttributes(rt *schema.ResourceType, attrs map[string]any) *jsonapi.Problem {
	var p *jsonapi.Problem
	for _, name := range sortedKeys(attrs) {
		if rt.AllowsAttribute(name) {
			continue
		}
		detail := fmt.Sprintf("%s has no attribute %q", rt.Name, name)
		ptr := jsonapi.Pointer("data", "attributes", name)
		if p == nil {
			p = jsonapi.BadDocument(ptr, detail)
		} else {
			p.Add(jsonapi.CodeInvalidDocument, detail, ptr)
		}
	}
	return p
}

// checkRelationshipShapes validates embedded relationship linkage against
// the declared cardinality. A single identifier given for a to-many
// relationship is read as a one-member list; rels is updated in place.
func checkRelationshipShapes(rt *schema.ResourceType, rels map[string]jsonapi.Linkage) *jsonapi.Problem {
	for _, name := range sortedKeys(rels) {
		base := jsonapi.Pointer("data", "relationships", name)
		rel, ok := rt.Relationship(name)
		if !ok {
			return jsonapi.BadDocument(base, fmt.Sprintf("%s has no relationship %q", rt.Name, name))
		}
		linkage := rels[name]
		switch rel.Kind {
		case schema.ToOne:
			if linkage.Kind == jsonapi.LinkageToMany {
				return jsonapi.BadDocument(base+"/data",
					fmt.Sprintf("relationship %s is to-one; data must be null or a single resource identifier", name))
			}
		case schema.ToMany:
			switch linkage.Kind {
			case jsonapi.LinkageEmpty:
				return jsonapi.BadDocument(base+"/data",
					fmt.Sprintf("relationship %s is to-many; data must be an array of resource identifiers", name))
			case jsonapi.LinkageToOne:
				rels[name] = jsonapi.ToMany(linkage.One)
			}
		}
	}
	return nil
}

// checkRelationshipTypes rejects embedded members whose type the
// relationship does not accept
func checkRelationshipTypes(rt *schema.ResourceType, rels map[string]jsonapi.Linkage, pointers map[jsonapi.Identifier]string) *jsonapi.Problem {
	var p *jsonapi.Problem
	for _, name := range sortedKeys(rels) {
		rel, _ := rt.Relationship(name)
		for _, id := range rels[name].Identifiers() {
			if rel.Accepts(id.Type) {
				continue
			}
			detail := fmt.Sprintf("relationship %s does not accept resources of type %q", name, id.Type)
			if p == nil {
				p = jsonapi.TypeConflict(pointers[id], detail)
			} else {
				p.Add(jsonapi.CodeTypeConflict, detail, pointers[id])
			}
		}
	}
	return p
}

// checkMemberTypes is checkRelationshipTypes for a relationship endpoint
func checkMemberTypes(rel *schema.Relationship, linkage jsonapi.Linkage, base string, single bool) *jsonapi.Problem {
	var p *jsonapi.Problem
	for i, id := range linkage.Identifiers() {
		if rel.Accepts(id.Type) {
			continue
		}
		ptr := memberPointer(base, i, single || linkage.Kind == jsonapi.LinkageToOne)
		detail := fmt.Sprintf("relationship %s does not accept resources of type %q", rel.Name, id.Type)
		if p == nil {
			p = jsonapi.TypeConflict(ptr, detail)
		} else {
			p.Add(jsonapi.CodeTypeConflict, detail, ptr)
		}
	}
	return p
}

func memberPointer(base string, index int, single bool) string {
	if single {
		return base
	}
	return base + "/" + strconv.Itoa(index)
}

// linkagePointers maps each member to the pointer of its first occurrence
func linkagePointers(base string, linkage jsonapi.Linkage, single bool) map[jsonapi.Identifier]string {
	out := make(map[jsonapi.Identifier]string)
	for i, id := range linkage.Identifiers() {
		if _, seen := out[id]; !seen {
			out[id] = memberPointer(base, i, single || linkage.Kind == jsonapi.LinkageToOne)
		}
	}
	return out
}

// embeddedPointers maps members of data.relationships to their pointers. It
// must run before checkRelationshipShapes rewrites single identifiers.
func embeddedPointers(rels map[string]jsonapi.Linkage) map[jsonapi.Identifier]string {
	out := make(map[jsonapi.Identifier]string)
	for _, name := range sortedKeys(rels) {
		base := jsonapi.Pointer("data", "relationships", name, "data")
		for id, ptr := range linkagePointers(base, rels[name], false) {
			if _, seen := out[id]; !seen {
				out[id] = ptr
			}
		}
	}
	return out
}

// outcomeProblem renders a non-success store outcome
func outcomeProblem(res store.Result, pointers map[jsonapi.Identifier]string) *jsonapi.Problem {
	switch res.Outcome {
	case store.NotFound:
		if len(res.Missing) == 0 {
			return jsonapi.NotFound(orDefault(res.Reason, "resource not found"))
		}
		var p *jsonapi.Problem
		for _, ref := range res.Missing {
			detail := fmt.Sprintf("related resource %s not found", ref)
			if p == nil {
				p = jsonapi.NotFound(detail).WithPointer(pointers[ref])
			} else {
				p.Add(jsonapi.CodeNotFound, detail, pointers[ref])
			}
		}
		return p
	case store.Conflict:
		return jsonapi.Conflict(orDefault(res.Reason, "update conflicts with the current state of the resource"))
	case store.Forbidden:
		return jsonapi.Forbidden(orDefault(res.Reason, "operation not allowed"))
	case store.ValidationError:
		return jsonapi.BadDocument("", orDefault(res.Reason, "invalid update"))
	}
	return jsonapi.NewProblem(http.StatusInternalServerError, jsonapi.CodeInternal,
		fmt.Sprintf("unexpected store outcome %s", res.Outcome))
}

func orDefault(s, def string) string {
	if s == "" {
		return def
	}
	return s
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
