// Package endpoint is the JSON:API update handler. It validates a request
// (negotiation, document shape, type, lookup, policy), applies the change
// through a store.ResourceStore and renders the outcome as exactly one
// response.
package endpoint

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/Dremora/endpoints/internal/events"
	"github.com/Dremora/endpoints/internal/jsonapi"
	"github.com/Dremora/endpoints/internal/schema"
	"github.com/Dremora/endpoints/internal/store"
	"github.com/rs/zerolog/log"
)

// DefaultTimeout bounds every store call when Options.Timeout is zero
const DefaultTimeout = 5 * time.Second

// Request is an update request as seen by the handler. It is not modified
// once handling starts.
type Request struct {
	Method       string
	Type         string
	ID           string
	Relationship string
	Accept       string
	ContentType  string
	Body         []byte
	// BaseURL prefixes generated links, e.g. "https://api.example.com/v1"
	BaseURL string
}

// Options configures a Handler
type Options struct {
	Negotiator jsonapi.Negotiator
	Timeout    time.Duration
	Notifier   events.Notifier
	Now        func() time.Time
}

// Handler serves reads and updates of resources and their relationships
type Handler struct {
	store      store.ResourceStore
	registry   *schema.Registry
	negotiator jsonapi.Negotiator
	timeout    time.Duration
	notifier   events.Notifier
	now        func() time.Time
}

// New creates a Handler
func New(st store.ResourceStore, registry *schema.Registry, opts Options) *Handler {
	h := &Handler{
		store:      st,
		registry:   registry,
		negotiator: opts.Negotiator,
		timeout:    opts.Timeout,
		notifier:   opts.Notifier,
		now:        opts.Now,
	}
	if h.timeout <= 0 {
		h.timeout = DefaultTimeout
	}
	if h.notifier == nil {
		h.notifier = events.Nop{}
	}
	if h.now == nil {
		h.now = time.Now
	}
	return h
}

// Registry returns the resource types the handler serves
func (h *Handler) Registry() *schema.Registry {
	return h.registry
}

// Negotiator returns the media-type negotiator in use
func (h *Handler) Negotiator() jsonapi.Negotiator {
	return h.negotiator
}

// Serve handles req and sends the outcome through reply
func (h *Handler) Serve(ctx context.Context, req Request, reply *Reply) error {
	return reply.Send(ctx, h.Handle(ctx, req))
}

// Handle computes the response for req
func (h *Handler) Handle(ctx context.Context, req Request) Response {
	if req.Relationship == "" {
		switch req.Method {
		case http.MethodGet:
			return h.read(ctx, req)
		case http.MethodPatch, http.MethodPut:
			return h.update(ctx, req)
		}
	} else {
		switch req.Method {
		case http.MethodGet:
			return h.readRelationship(ctx, req)
		case http.MethodPatch, http.MethodPut, http.MethodPost, http.MethodDelete:
			return h.updateRelationship(ctx, req)
		}
	}
	return fail(jsonapi.NewProblem(http.StatusMethodNotAllowed, "method_not_allowed",
		fmt.Sprintf("method %s is not supported here", req.Method)))
}

// ============================================================================
// Resources
// ============================================================================

func (h *Handler) read(ctx context.Context, req Request) Response {
	if p := h.negotiator.CheckAccept(req.Accept); p != nil {
		return fail(p)
	}
	rt, ok := h.registry.Type(req.Type)
	if !ok {
		return fail(unknownType(req.Type))
	}
	rec, resp, ok := h.find(ctx, req.Type, req.ID, "")
	if !ok {
		return resp
	}
	return h.renderResource(req, rt, rec)
}

func (h *Handler) update(ctx context.Context, req Request) Response {
	logger := log.Ctx(ctx)

	if p := h.negotiate(req); p != nil {
		return fail(p)
	}
	rt, ok := h.registry.Type(req.Type)
	if !ok {
		return fail(unknownType(req.Type))
	}

	// shape
	doc, p := jsonapi.DecodeRequest(req.Body)
	if p != nil {
		return fail(p)
	}
	if !doc.HasData {
		return fail(jsonapi.BadDocument("", "request document must have a top-level data member"))
	}
	in, p := jsonapi.DecodeResource(doc.Data)
	if p != nil {
		return fail(p)
	}

	// type, before anything is read against the endpoint type's schema
	if in.Type != req.Type {
		return fail(jsonapi.TypeConflict("/data/type",
			fmt.Sprintf("type %q does not match the endpoint type %q", in.Type, req.Type)))
	}

	if p := checkAttributes(rt, in.Attributes); p != nil {
		return fail(p)
	}
	pointers := embeddedPointers(in.Relationships)
	if p := checkRelationshipShapes(rt, in.Relationships); p != nil {
		return fail(p)
	}
	if p := checkRelationshipTypes(rt, in.Relationships, pointers); p != nil {
		return fail(p)
	}

	// lookup
	if in.HasID && in.ID != req.ID {
		if _, resp, ok := h.find(ctx, req.Type, in.ID, "/data/id"); !ok {
			return resp
		}
		return fail(jsonapi.Conflict(
			fmt.Sprintf("document addresses %s:%s but the URL addresses %s:%s", req.Type, in.ID, req.Type, req.ID)).
			WithPointer("/data/id"))
	}
	if _, resp, ok := h.find(ctx, req.Type, req.ID, ""); !ok {
		return resp
	}

	// policy
	for _, name := range sortedKeys(in.Relationships) {
		rel, _ := rt.Relationship(name)
		if rel.Kind == schema.ToMany && !rel.ReplaceAllowed() {
			return fail(jsonapi.Forbidden(
				fmt.Sprintf("full replacement of relationship %s is not allowed", name)).
				WithPointer(jsonapi.Pointer("data", "relationships", name)))
		}
	}

	sctx, cancel := context.WithTimeout(ctx, h.timeout)
	defer cancel()
	res, err := h.store.Update(sctx, req.Type, req.ID, store.Patch{
		Attributes:    in.Attributes,
		Relationships: in.Relationships,
	})
	if err != nil {
		return h.storeFailure(ctx, err, req)
	}

	switch res.Outcome {
	case store.Applied:
		logger.Info().Str("type", req.Type).Str("id", req.ID).Msg("resource updated")
		h.notify(ctx, req, events.OpUpdate)
		return h.renderResource(req, rt, res.Resource)
	case store.NoChange:
		return Response{Code: http.StatusNoContent}
	}
	return fail(outcomeProblem(res, pointers))
}

// ============================================================================
// Relationships
// ============================================================================

func (h *Handler) readRelationship(ctx context.Context, req Request) Response {
	if p := h.negotiator.CheckAccept(req.Accept); p != nil {
		return fail(p)
	}
	_, rel, p := h.resolveRelationship(req)
	if p != nil {
		return fail(p)
	}
	rec, resp, ok := h.find(ctx, req.Type, req.ID, "")
	if !ok {
		return resp
	}

	self := resourceLink(req.BaseURL, req.Type, req.ID)
	return Response{
		Code: http.StatusOK,
		Data: jsonapi.Document{
			Data: rec.Linkage(rel.Name, rel.Kind == schema.ToMany),
			Links: jsonapi.Links{
				"self":    self + "/relationships/" + rel.Name,
				"related": self + "/" + rel.Name,
			},
		},
	}
}

func (h *Handler) updateRelationship(ctx context.Context, req Request) Response {
	logger := log.Ctx(ctx)

	if p := h.negotiate(req); p != nil {
		return fail(p)
	}
	_, rel, p := h.resolveRelationship(req)
	if p != nil {
		return fail(p)
	}

	// shape
	doc, p := jsonapi.DecodeRequest(req.Body)
	if p != nil {
		return fail(p)
	}
	linkage, p := jsonapi.DecodeRelationshipData(doc)
	if p != nil {
		return fail(p)
	}

	memberOp := req.Method == http.MethodPost || req.Method == http.MethodDelete
	toMany := rel.Kind == schema.ToMany
	single := linkage.Kind == jsonapi.LinkageToOne

	if toMany {
		switch linkage.Kind {
		case jsonapi.LinkageEmpty:
			return fail(jsonapi.BadDocument("/data",
				fmt.Sprintf("relationship %s is to-many; data must be an array of resource identifiers", rel.Name)))
		case jsonapi.LinkageToOne:
			linkage = jsonapi.ToMany(linkage.One)
		}
	} else if !memberOp && linkage.Kind == jsonapi.LinkageToMany {
		return fail(jsonapi.BadDocument("/data",
			fmt.Sprintf("relationship %s is to-one; data must be null or a single resource identifier", rel.Name)))
	}

	// type
	if toMany || !memberOp {
		if p := checkMemberTypes(rel, linkage, "/data", single); p != nil {
			return fail(p)
		}
	}

	// lookup
	if _, resp, ok := h.find(ctx, req.Type, req.ID, ""); !ok {
		return resp
	}

	// policy
	switch {
	case !toMany && memberOp:
		return fail(jsonapi.Forbidden(
			fmt.Sprintf("relationship %s is to-one; members cannot be added or removed", rel.Name)))
	case toMany && !memberOp && !rel.ReplaceAllowed():
		return fail(jsonapi.Forbidden(
			fmt.Sprintf("full replacement of relationship %s is not allowed", rel.Name)))
	case toMany && req.Method == http.MethodDelete && !rel.DeleteAllowed():
		return fail(jsonapi.Forbidden(
			fmt.Sprintf("removing members of relationship %s is not allowed", rel.Name)))
	}

	sctx, cancel := context.WithTimeout(ctx, h.timeout)
	defer cancel()

	var (
		res store.Result
		err error
		op  events.Op
	)
	switch req.Method {
	case http.MethodPost:
		op = events.OpAppend
		res, err = h.store.AppendRelationship(sctx, req.Type, req.ID, rel.Name, linkage.Many)
	case http.MethodDelete:
		op = events.OpRemove
		res, err = h.store.RemoveRelationship(sctx, req.Type, req.ID, rel.Name, linkage.Many)
	default:
		op = events.OpReplace
		res, err = h.store.ReplaceRelationship(sctx, req.Type, req.ID, rel.Name, linkage)
	}
	if err != nil {
		return h.storeFailure(ctx, err, req)
	}

	switch res.Outcome {
	case store.Applied:
		logger.Info().
			Str("type", req.Type).
			Str("id", req.ID).
			Str("relationship", rel.Name).
			Str("op", string(op)).
			Msg("relationship updated")
		h.notify(ctx, req, op)
		return Response{Code: http.StatusNoContent}
	case store.NoChange:
		return Response{Code: http.StatusNoContent}
	}
	return fail(outcomeProblem(res, linkagePointers("/data", linkage, single)))
}

func (h *Handler) resolveRelationship(req Request) (*schema.ResourceType, *schema.Relationship, *jsonapi.Problem) {
	rt, ok := h.registry.Type(req.Type)
	if !ok {
		return nil, nil, unknownType(req.Type)
	}
	rel, ok := rt.Relationship(req.Relationship)
	if !ok {
		return nil, nil, jsonapi.NotFound(fmt.Sprintf("%s has no relationship %q", req.Type, req.Relationship))
	}
	return rt, rel, nil
}

// ============================================================================
// Helpers
// ============================================================================

func (h *Handler) negotiate(req Request) *jsonapi.Problem {
	if p := h.negotiator.CheckAccept(req.Accept); p != nil {
		return p
	}
	return h.negotiator.CheckContentType(req.ContentType)
}

// find loads a resource under the store timeout. When ok is false, resp is
// the response to send.
func (h *Handler) find(ctx context.Context, typ, id, pointer string) (*store.Record, Response, bool) {
	sctx, cancel := context.WithTimeout(ctx, h.timeout)
	defer cancel()

	rec, err := h.store.Find(sctx, typ, id)
	if errors.Is(err, store.ErrNotFound) {
		return nil, fail(jsonapi.NotFound(fmt.Sprintf("%s %q not found", typ, id)).WithPointer(pointer)), false
	}
	if err != nil {
		return nil, h.storeFailure(ctx, err, Request{Type: typ, ID: id}), false
	}
	return rec, Response{}, true
}

func (h *Handler) storeFailure(ctx context.Context, err error, req Request) Response {
	logger := log.Ctx(ctx)
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		logger.Warn().Err(err).Str("type", req.Type).Str("id", req.ID).Msg("store call timed out")
		return fail(jsonapi.NewProblem(http.StatusServiceUnavailable, jsonapi.CodeUnavailable,
			"the datastore did not respond in time"))
	}
	logger.Error().Err(err).Str("type", req.Type).Str("id", req.ID).Msg("store call failed")
	return fail(jsonapi.NewProblem(http.StatusInternalServerError, jsonapi.CodeInternal, "internal error"))
}

func (h *Handler) notify(ctx context.Context, req Request, op events.Op) {
	h.notifier.Notify(ctx, events.Event{
		Type:         req.Type,
		ID:           req.ID,
		Relationship: req.Relationship,
		Op:           op,
		At:           h.now().UTC(),
	})
}

func fail(p *jsonapi.Problem) Response {
	return Response{Code: p.Status, Data: p.Document()}
}

func unknownType(typ string) *jsonapi.Problem {
	return jsonapi.NotFound(fmt.Sprintf("no resource type %q", typ))
}
