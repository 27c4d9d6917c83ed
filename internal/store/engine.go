// Package store implements the resource-store contract the update handler
// drives. Storage backends only provide loads, existence checks and an atomic
// read-modify-write of a single record; the rules (partial attribute merge,
// set semantics for to-many members, relationship policies, uniqueness and
// CEL constraints) live here so every backend behaves the same.
package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/Dremora/endpoints/internal/jsonapi"
	"github.com/Dremora/endpoints/internal/schema"
)

// Tx is a backend seen from inside Mutate. Reads through it belong to the
// same atomic unit as the write, so a value it reports cannot be claimed by
// a concurrent writer before the mutation commits.
type Tx interface {
	// Lookup returns ids of records of typ whose attribute equals value
	Lookup(ctx context.Context, typ, attr string, value any) ([]string, error)
}

// MutateFunc changes a record in place and reports whether anything changed.
// Returning an error aborts the mutation; nothing is written.
type MutateFunc func(tx Tx, rec *Record) (bool, error)

// Backend is a storage adapter
type Backend interface {
	// Load returns the record or ErrNotFound
	Load(ctx context.Context, ref jsonapi.Identifier) (*Record, error)
	// Missing returns the refs that do not exist
	Missing(ctx context.Context, refs []jsonapi.Identifier) ([]jsonapi.Identifier, error)
	// Mutate loads the record, applies fn to a copy and persists the copy if
	// fn reports a change, all as one atomic unit. It returns the record as
	// stored afterwards, or ErrNotFound.
	Mutate(ctx context.Context, ref jsonapi.Identifier, fn MutateFunc) (*Record, bool, error)
}

// Store implements ResourceStore on top of a Backend
type Store struct {
	backend  Backend
	registry *schema.Registry
	now      func() time.Time
}

// Option configures a Store
type Option func(*Store)

// WithClock overrides the clock used for touch attributes
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// New creates a Store
func New(backend Backend, registry *schema.Registry, opts ...Option) *Store {
	s := &Store{
		backend:  backend,
		registry: registry,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

var _ ResourceStore = (*Store)(nil)

// Find returns a resource or ErrNotFound
func (s *Store) Find(ctx context.Context, typ, id string) (*Record, error) {
	return s.backend.Load(ctx, jsonapi.Identifier{Type: typ, ID: id})
}

// Update applies a partial attribute/relationship update atomically
func (s *Store) Update(ctx context.Context, typ, id string, patch Patch) (Result, error) {
	rt, err := s.resourceType(typ)
	if err != nil {
		return Result{}, err
	}
	ref := jsonapi.Identifier{Type: typ, ID: id}

	if _, err := s.backend.Load(ctx, ref); err != nil {
		return s.translate(err)
	}

	var refs []jsonapi.Identifier
	for name, linkage := range patch.Relationships {
		rel, ok := rt.Relationship(name)
		if !ok {
			return Result{Outcome: ValidationError, Reason: fmt.Sprintf("unknown relationship %q", name)}, nil
		}
		if err := checkShape(rel, linkage); err != nil {
			return Result{Outcome: ValidationError, Reason: err.Error()}, nil
		}
		refs = append(refs, linkage.Identifiers()...)
	}
	if res, done, err := s.checkReferences(ctx, refs); done {
		return res, err
	}

	rec, changed, err := s.backend.Mutate(ctx, ref, func(tx Tx, rec *Record) (bool, error) {
		changed := false
		updated := make(map[string]any)
		for k, v := range patch.Attributes {
			if old, ok := rec.Attributes[k]; ok && ValueEqual(old, v) {
				continue
			}
			rec.Attributes[k] = v
			updated[k] = v
			changed = true
		}
		for name, linkage := range patch.Relationships {
			rel, _ := rt.Relationship(name)
			linkage = memberSet(rel, linkage)
			if rec.Linkage(name, rel.Kind == schema.ToMany).Equal(linkage) {
				continue
			}
			rec.Relationships[name] = linkage
			changed = true
		}
		if !changed {
			return false, nil
		}
		if err := s.checkUnique(ctx, tx, rt, id, updated); err != nil {
			return false, err
		}
		return true, s.finish(rt, rec)
	})
	if err != nil {
		return s.translate(err)
	}
	return outcome(rec, changed), nil
}

// ReplaceRelationship sets the full linkage of a relationship
func (s *Store) ReplaceRelationship(ctx context.Context, typ, id, name string, linkage jsonapi.Linkage) (Result, error) {
	rt, rel, res, done := s.relationship(typ, name)
	if done {
		return res, nil
	}
	ref := jsonapi.Identifier{Type: typ, ID: id}
	if _, err := s.backend.Load(ctx, ref); err != nil {
		return s.translate(err)
	}

	if rel.Kind == schema.ToMany && !rel.ReplaceAllowed() {
		return s.translate(&PolicyError{Relationship: name, Operation: "full replacement"})
	}
	if err := checkShape(rel, linkage); err != nil {
		return Result{Outcome: ValidationError, Reason: err.Error()}, nil
	}
	if res, done, err := s.checkReferences(ctx, linkage.Identifiers()); done {
		return res, err
	}

	linkage = memberSet(rel, linkage)
	rec, changed, err := s.backend.Mutate(ctx, ref, func(tx Tx, rec *Record) (bool, error) {
		if rec.Linkage(name, rel.Kind == schema.ToMany).Equal(linkage) {
			return false, nil
		}
		rec.Relationships[name] = linkage.Clone()
		return true, s.finish(rt, rec)
	})
	if err != nil {
		return s.translate(err)
	}
	return outcome(rec, changed), nil
}

// AppendRelationship adds members to a to-many relationship. Members already
// present are left where they are.
func (s *Store) AppendRelationship(ctx context.Context, typ, id, name string, members []jsonapi.Identifier) (Result, error) {
	rt, rel, res, done := s.relationship(typ, name)
	if done {
		return res, nil
	}
	ref := jsonapi.Identifier{Type: typ, ID: id}
	if _, err := s.backend.Load(ctx, ref); err != nil {
		return s.translate(err)
	}

	if rel.Kind != schema.ToMany {
		return s.translate(&PolicyError{Relationship: name, Operation: "adding members"})
	}
	if err := checkShape(rel, jsonapi.ToMany(members...)); err != nil {
		return Result{Outcome: ValidationError, Reason: err.Error()}, nil
	}
	if res, done, err := s.checkReferences(ctx, members); done {
		return res, err
	}

	rec, changed, err := s.backend.Mutate(ctx, ref, func(tx Tx, rec *Record) (bool, error) {
		current := rec.Linkage(name, true)
		present := make(map[jsonapi.Identifier]bool, len(current.Many))
		for _, m := range current.Many {
			present[m] = true
		}
		next := append([]jsonapi.Identifier(nil), current.Many...)
		for _, m := range members {
			if present[m] {
				continue
			}
			present[m] = true
			next = append(next, m)
		}
		if len(next) == len(current.Many) {
			return false, nil
		}
		rec.Relationships[name] = jsonapi.ToMany(next...)
		return true, s.finish(rt, rec)
	})
	if err != nil {
		return s.translate(err)
	}
	return outcome(rec, changed), nil
}

// RemoveRelationship removes members from a to-many relationship. Members
// that are not present are ignored.
func (s *Store) RemoveRelationship(ctx context.Context, typ, id, name string, members []jsonapi.Identifier) (Result, error) {
	rt, rel, res, done := s.relationship(typ, name)
	if done {
		return res, nil
	}
	ref := jsonapi.Identifier{Type: typ, ID: id}
	if _, err := s.backend.Load(ctx, ref); err != nil {
		return s.translate(err)
	}

	if rel.Kind != schema.ToMany {
		return s.translate(&PolicyError{Relationship: name, Operation: "removing members"})
	}
	if !rel.DeleteAllowed() {
		return s.translate(&PolicyError{Relationship: name, Operation: "removing members"})
	}
	if err := checkShape(rel, jsonapi.ToMany(members...)); err != nil {
		return Result{Outcome: ValidationError, Reason: err.Error()}, nil
	}
	if res, done, err := s.checkReferences(ctx, members); done {
		return res, err
	}

	rec, changed, err := s.backend.Mutate(ctx, ref, func(tx Tx, rec *Record) (bool, error) {
		current := rec.Linkage(name, true)
		drop := make(map[jsonapi.Identifier]bool, len(members))
		for _, m := range members {
			drop[m] = true
		}
		next := make([]jsonapi.Identifier, 0, len(current.Many))
		for _, m := range current.Many {
			if !drop[m] {
				next = append(next, m)
			}
		}
		if len(next) == len(current.Many) {
			return false, nil
		}
		rec.Relationships[name] = jsonapi.ToMany(next...)
		return true, s.finish(rt, rec)
	})
	if err != nil {
		return s.translate(err)
	}
	return outcome(rec, changed), nil
}

func (s *Store) resourceType(typ string) (*schema.ResourceType, error) {
	rt, ok := s.registry.Type(typ)
	if !ok {
		return nil, fmt.Errorf("unknown resource type %q", typ)
	}
	return rt, nil
}

func (s *Store) relationship(typ, name string) (*schema.ResourceType, *schema.Relationship, Result, bool) {
	rt, ok := s.registry.Type(typ)
	if !ok {
		return nil, nil, Result{Outcome: NotFound, Reason: fmt.Sprintf("unknown resource type %q", typ)}, true
	}
	rel, ok := rt.Relationship(name)
	if !ok {
		return nil, nil, Result{Outcome: NotFound, Reason: fmt.Sprintf("%s has no relationship %q", typ, name)}, true
	}
	return rt, rel, Result{}, false
}

// finish stamps the touch attribute and evaluates constraints on a record
// that is about to be written
func (s *Store) finish(rt *schema.ResourceType, rec *Record) error {
	if rt.Touch != "" {
		rec.Attributes[rt.Touch] = s.now().UTC().Format(time.RFC3339Nano)
	}
	if err := rt.Check(rec.ID, rec.Attributes); err != nil {
		var v *schema.Violation
		if errors.As(err, &v) {
			return &ConstraintError{Constraint: v.Constraint, Detail: v.Message}
		}
		return err
	}
	return nil
}

func (s *Store) checkReferences(ctx context.Context, refs []jsonapi.Identifier) (Result, bool, error) {
	if len(refs) == 0 {
		return Result{}, false, nil
	}
	missing, err := s.backend.Missing(ctx, dedupe(refs))
	if err != nil {
		return Result{}, true, fmt.Errorf("check references: %w", err)
	}
	if len(missing) > 0 {
		res, err := s.translate(&MissingReferencesError{Refs: missing})
		return res, true, err
	}
	return Result{}, false, nil
}

// checkUnique runs inside Mutate so the lookup and the write commit together
func (s *Store) checkUnique(ctx context.Context, tx Tx, rt *schema.ResourceType, id string, attrs map[string]any) error {
	for _, attr := range rt.Unique {
		v, ok := attrs[attr]
		if !ok || v == nil {
			continue
		}
		ids, err := tx.Lookup(ctx, rt.Name, attr, v)
		if err != nil {
			return fmt.Errorf("check unique %s: %w", attr, err)
		}
		for _, other := range ids {
			if other != id {
				return &ConstraintError{
					Constraint: "unique-" + attr,
					Detail:     fmt.Sprintf("%s %q is already used by %s:%s", attr, fmt.Sprint(v), rt.Name, other),
				}
			}
		}
	}
	return nil
}

// translate maps typed errors onto results. Anything it does not recognise
// is an infrastructure failure and is returned as an error.
func (s *Store) translate(err error) (Result, error) {
	var constraint *ConstraintError
	var missing *MissingReferencesError
	var policy *PolicyError

	switch {
	case errors.Is(err, ErrNotFound):
		return Result{Outcome: NotFound, Reason: "resource not found"}, nil
	case errors.As(err, &constraint):
		return Result{Outcome: Conflict, Reason: constraint.Error()}, nil
	case errors.As(err, &missing):
		return Result{Outcome: NotFound, Reason: missing.Error(), Missing: missing.Refs}, nil
	case errors.As(err, &policy):
		return Result{Outcome: Forbidden, Reason: policy.Error()}, nil
	}
	return Result{}, err
}

func checkShape(rel *schema.Relationship, linkage jsonapi.Linkage) error {
	switch rel.Kind {
	case schema.ToOne:
		if linkage.Kind == jsonapi.LinkageToMany {
			return fmt.Errorf("relationship %s is to-one and takes null or a single resource identifier", rel.Name)
		}
	case schema.ToMany:
		if linkage.Kind != jsonapi.LinkageToMany {
			return fmt.Errorf("relationship %s is to-many and takes an array of resource identifiers", rel.Name)
		}
	}
	for _, id := range linkage.Identifiers() {
		if !rel.Accepts(id.Type) {
			return fmt.Errorf("relationship %s does not accept type %q", rel.Name, id.Type)
		}
	}
	return nil
}

// memberSet collapses repeated members of a to-many linkage, keeping the
// first occurrence
func memberSet(rel *schema.Relationship, linkage jsonapi.Linkage) jsonapi.Linkage {
	if rel.Kind != schema.ToMany || linkage.Kind != jsonapi.LinkageToMany {
		return linkage.Clone()
	}
	return jsonapi.ToMany(dedupe(linkage.Many)...)
}

func outcome(rec *Record, changed bool) Result {
	if changed {
		return Result{Outcome: Applied, Resource: rec}
	}
	return Result{Outcome: NoChange, Resource: rec}
}

func dedupe(refs []jsonapi.Identifier) []jsonapi.Identifier {
	seen := make(map[jsonapi.Identifier]bool, len(refs))
	out := make([]jsonapi.Identifier, 0, len(refs))
	for _, r := range refs {
		if !seen[r] {
			seen[r] = true
			out = append(out, r)
		}
	}
	return out
}
