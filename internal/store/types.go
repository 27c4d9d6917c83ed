package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"reflect"
	"strings"

	"github.com/Dremora/endpoints/internal/jsonapi"
)

// Record is the stored form of a resource
type Record struct {
	Type          string
	ID            string
	Attributes    map[string]any
	Relationships map[string]jsonapi.Linkage
}

// Identifier returns the record's resource identifier
func (r *Record) Identifier() jsonapi.Identifier {
	return jsonapi.Identifier{Type: r.Type, ID: r.ID}
}

// Clone returns a deep copy of the record
func (r *Record) Clone() *Record {
	out := &Record{
		Type:          r.Type,
		ID:            r.ID,
		Attributes:    make(map[string]any, len(r.Attributes)),
		Relationships: make(map[string]jsonapi.Linkage, len(r.Relationships)),
	}
	for k, v := range r.Attributes {
		out.Attributes[k] = cloneValue(v)
	}
	for k, l := range r.Relationships {
		out.Relationships[k] = l.Clone()
	}
	return out
}

// Linkage returns the stored linkage of a relationship. A relationship that
// was never set reads as null for to-one and [] for to-many.
func (r *Record) Linkage(name string, toMany bool) jsonapi.Linkage {
	if l, ok := r.Relationships[name]; ok {
		return l
	}
	if toMany {
		return jsonapi.ToMany()
	}
	return jsonapi.Empty()
}

// Outcome tags an UpdateResult
type Outcome int

const (
	Applied Outcome = iota + 1
	NoChange
	NotFound
	Conflict
	Forbidden
	ValidationError
)

func (o Outcome) String() string {
	switch o {
	case Applied:
		return "applied"
	case NoChange:
		return "no_change"
	case NotFound:
		return "not_found"
	case Conflict:
		return "conflict"
	case Forbidden:
		return "forbidden"
	case ValidationError:
		return "validation_error"
	}
	return "unknown"
}

// Result is the outcome of a mutating store call
type Result struct {
	Outcome  Outcome
	Resource *Record
	Reason   string
	// Missing lists related resources that could not be resolved when the
	// outcome is NotFound because of a reference rather than the target
	Missing []jsonapi.Identifier
}

// Patch is a partial update of a resource. Only present attributes are
// applied; a present nil value clears the attribute.
type Patch struct {
	Attributes    map[string]any
	Relationships map[string]jsonapi.Linkage
}

// ResourceStore is the collaborator the update handler drives. Domain
// outcomes are reported through Result; the error return is reserved for
// infrastructure failures (connectivity, deadlines).
type ResourceStore interface {
	Find(ctx context.Context, typ, id string) (*Record, error)
	Update(ctx context.Context, typ, id string, patch Patch) (Result, error)
	ReplaceRelationship(ctx context.Context, typ, id, name string, linkage jsonapi.Linkage) (Result, error)
	AppendRelationship(ctx context.Context, typ, id, name string, members []jsonapi.Identifier) (Result, error)
	RemoveRelationship(ctx context.Context, typ, id, name string, members []jsonapi.Identifier) (Result, error)
}

// ErrNotFound is returned when a resource does not exist
var ErrNotFound = errors.New("resource not found")

// ConstraintError indicates a server-enforced constraint would be violated
type ConstraintError struct {
	Constraint string
	Detail     string
}

func (e *ConstraintError) Error() string {
	return fmt.Sprintf("constraint %s: %s", e.Constraint, e.Detail)
}

// MissingReferencesError lists related resources that do not exist
type MissingReferencesError struct {
	Refs []jsonapi.Identifier
}

func (e *MissingReferencesError) Error() string {
	refs := make([]string, 0, len(e.Refs))
	for _, r := range e.Refs {
		refs = append(refs, r.String())
	}
	return "related resources not found: " + strings.Join(refs, ", ")
}

// PolicyError indicates the server does not allow an operation on a
// relationship
type PolicyError struct {
	Relationship string
	Operation    string
}

func (e *PolicyError) Error() string {
	return fmt.Sprintf("%s of relationship %s is not allowed", e.Operation, e.Relationship)
}

// ValueEqual compares attribute values by their JSON representation, so a
// value read back from any backend compares equal to the value that was sent.
func ValueEqual(a, b any) bool {
	return reflect.DeepEqual(normalize(a), normalize(b))
}

func normalize(v any) any {
	switch v.(type) {
	case nil, string, bool, float64:
		return v
	}
	b, err := json.Marshal(v)
	if err != nil {
		return v
	}
	var out any
	if err := json.Unmarshal(b, &out); err != nil {
		return v
	}
	return out
}

func cloneValue(v any) any {
	switch t := v.(type) {
	case map[string]any:
		m := make(map[string]any, len(t))
		for k, vv := range t {
			m[k] = cloneValue(vv)
		}
		return m
	case []any:
		s := make([]any, len(t))
		for i, vv := range t {
			s[i] = cloneValue(vv)
		}
		return s
	}
	return v
}
