// Package schema describes the resource types an endpoint serves: their
// attributes, uniqueness keys, server-enforced constraints and relationships.
package schema

import (
	_ "embed"
	"fmt"
	"os"
	"sort"

	"gopkg.in/yaml.v3"
)

//go:embed default.yaml
var defaultSchema []byte

// RelationshipKind is the cardinality of a relationship
type RelationshipKind string

const (
	ToOne  RelationshipKind = "to-one"
	ToMany RelationshipKind = "to-many"
)

// Relationship describes a named relation from a resource type
type Relationship struct {
	Name          string           `yaml:"-"`
	Kind          RelationshipKind `yaml:"kind"`
	Type          string           `yaml:"type"`
	Heterogeneous bool             `yaml:"heterogeneous"`
	Types         []string         `yaml:"types"`
	AllowReplace  *bool            `yaml:"allow_replace"`
	AllowDelete   *bool            `yaml:"allow_delete"`
}

// Accepts reports whether a member of the given type may appear in the
// relationship
func (r *Relationship) Accepts(typ string) bool {
	if !r.Heterogeneous {
		return typ == r.Type
	}
	for _, t := range r.Types {
		if t == typ {
			return true
		}
	}
	return false
}

// ReplaceAllowed reports whether full replacement of a to-many relationship
// is permitted. Defaults to true.
func (r *Relationship) ReplaceAllowed() bool {
	return r.AllowReplace == nil || *r.AllowReplace
}

// DeleteAllowed reports whether members may be removed from a to-many
// relationship. Defaults to true.
func (r *Relationship) DeleteAllowed() bool {
	return r.AllowDelete == nil || *r.AllowDelete
}

// ResourceType describes one resource type
type ResourceType struct {
	Name          string                   `yaml:"-"`
	Attributes    []string                 `yaml:"attributes"`
	Unique        []string                 `yaml:"unique"`
	Touch         string                   `yaml:"touch"`
	Constraints   []*Constraint            `yaml:"constraints"`
	Relationships map[string]*Relationship `yaml:"relationships"`

	allowed map[string]bool
}

// AllowsAttribute reports whether name may be written. A type without an
// attribute list accepts any attribute.
func (t *ResourceType) AllowsAttribute(name string) bool {
	if len(t.allowed) == 0 {
		return true
	}
	return t.allowed[name]
}

// Relationship looks up a relationship by name
func (t *ResourceType) Relationship(name string) (*Relationship, bool) {
	r, ok := t.Relationships[name]
	return r, ok
}

// RelationshipNames returns relationship names in sorted order
func (t *ResourceType) RelationshipNames() []string {
	names := make([]string, 0, len(t.Relationships))
	for name := range t.Relationships {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Registry holds every resource type known to the server
type Registry struct {
	types map[string]*ResourceType
}

type file struct {
	Types map[string]*ResourceType `yaml:"types"`
}

// Default returns the registry built from the embedded default schema
func Default() *Registry {
	r, err := Parse(defaultSchema)
	if err != nil {
		panic(fmt.Sprintf("schema: embedded default is invalid: %v", err))
	}
	return r
}

// Load reads and compiles a schema file. An empty path yields Default().
func Load(path string) (*Registry, error) {
	if path == "" {
		return Default(), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read schema %s: %w", path, err)
	}
	r, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("schema %s: %w", path, err)
	}
	return r, nil
}

// Parse decodes and validates a YAML schema document and compiles its
// constraints
func Parse(data []byte) (*Registry, error) {
	var f file
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("decode yaml: %w", err)
	}
	if len(f.Types) == 0 {
		return nil, fmt.Errorf("no resource types declared")
	}

	env, err := newConstraintEnv()
	if err != nil {
		return nil, err
	}

	for name, rt := range f.Types {
		if rt == nil {
			rt = &ResourceType{}
			f.Types[name] = rt
		}
		rt.Name = name
		rt.allowed = make(map[string]bool, len(rt.Attributes))
		for _, a := range rt.Attributes {
			rt.allowed[a] = true
		}
		for _, u := range rt.Unique {
			if !rt.AllowsAttribute(u) {
				return nil, fmt.Errorf("type %s: unique attribute %q is not declared", name, u)
			}
		}
		if rt.Touch != "" && !rt.AllowsAttribute(rt.Touch) {
			return nil, fmt.Errorf("type %s: touch attribute %q is not declared", name, rt.Touch)
		}
		for i, c := range rt.Constraints {
			if c == nil || c.Expr == "" {
				return nil, fmt.Errorf("type %s: constraint %d has no expression", name, i)
			}
			if c.Name == "" {
				c.Name = fmt.Sprintf("%s-%d", name, i)
			}
			if err := c.compile(env); err != nil {
				return nil, fmt.Errorf("type %s: %w", name, err)
			}
		}
		for relName, rel := range rt.Relationships {
			if rel == nil {
				return nil, fmt.Errorf("type %s: relationship %s is empty", name, relName)
			}
			rel.Name = relName
			if err := validateRelationship(rel); err != nil {
				return nil, fmt.Errorf("type %s: relationship %s: %w", name, relName, err)
			}
		}
	}

	// related types must exist
	for name, rt := range f.Types {
		for relName, rel := range rt.Relationships {
			targets := rel.Types
			if !rel.Heterogeneous {
				targets = []string{rel.Type}
			}
			for _, target := range targets {
				if _, ok := f.Types[target]; !ok {
					return nil, fmt.Errorf("type %s: relationship %s targets unknown type %q", name, relName, target)
				}
			}
		}
	}

	return &Registry{types: f.Types}, nil
}

func validateRelationship(rel *Relationship) error {
	switch rel.Kind {
	case ToOne:
		if rel.Heterogeneous {
			return fmt.Errorf("to-one relationships cannot be heterogeneous")
		}
	case ToMany:
	default:
		return fmt.Errorf("kind must be %q or %q, got %q", ToOne, ToMany, rel.Kind)
	}
	if rel.Heterogeneous {
		if len(rel.Types) == 0 {
			return fmt.Errorf("heterogeneous relationships must list types")
		}
		return nil
	}
	if rel.Type == "" {
		return fmt.Errorf("type is required")
	}
	return nil
}

// Type looks up a resource type by name
func (r *Registry) Type(name string) (*ResourceType, bool) {
	t, ok := r.types[name]
	return t, ok
}

// Types returns every resource type sorted by name
func (r *Registry) Types() []*ResourceType {
	out := make([]*ResourceType, 0, len(r.types))
	for _, t := range r.types {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}
