package jsonapi

import (
	"bytes"
	"encoding/json"
	"sort"
)

// TopLevelMembers are the members a document may carry at its top level.
// "included" and "jsonapi" are accepted on input as later spellings.
var TopLevelMembers = []string{"data", "meta", "links", "linked"}

var acceptedInputMembers = map[string]bool{
	"data":     true,
	"meta":     true,
	"links":    true,
	"linked":   true,
	"included": true,
	"jsonapi":  true,
}

// reserved resource object members; anything else next to type and id is a
// flattened attribute
var resourceMembers = map[string]bool{
	"type":          true,
	"id":            true,
	"attributes":    true,
	"relationships": true,
	"links":         true,
	"meta":          true,
}

// Request is a decoded request document
type Request struct {
	Data    json.RawMessage
	HasData bool
	Meta    map[string]any
}

// DecodeRequest parses a request body and enforces the top-level member rules
func DecodeRequest(body []byte) (*Request, *Problem) {
	trimmed := bytes.TrimSpace(body)
	if len(trimmed) == 0 {
		return nil, BadDocument("", "request body must be a JSON:API document")
	}
	if trimmed[0] != '{' {
		return nil, BadDocument("", "request document must be a JSON object")
	}

	var members map[string]json.RawMessage
	if err := json.Unmarshal(trimmed, &members); err != nil {
		return nil, BadDocument("", "request body is not valid JSON")
	}

	var unknown []string
	for name := range members {
		if !acceptedInputMembers[name] {
			unknown = append(unknown, name)
		}
	}
	if len(unknown) > 0 {
		sort.Strings(unknown)
		p := BadDocument(Pointer(unknown[0]), "top-level member \""+unknown[0]+"\" is not allowed")
		for _, name := range unknown[1:] {
			p.Add(CodeInvalidDocument, "top-level member \""+name+"\" is not allowed", Pointer(name))
		}
		return nil, p
	}

	req := &Request{}
	if raw, ok := members["data"]; ok {
		req.Data = raw
		req.HasData = true
	}
	if raw, ok := members["meta"]; ok {
		if err := json.Unmarshal(raw, &req.Meta); err != nil {
			return nil, BadDocument("/meta", "meta must be an object")
		}
	}
	return req, nil
}

// ResourceInput is primary data of an update request
type ResourceInput struct {
	Type          string
	ID            string
	HasID         bool
	Attributes    map[string]any
	Relationships map[string]Linkage
}

// DecodeResource parses primary data as a single resource object. It does not
// check the type against an endpoint; callers do that so a mismatch can be
// reported as a conflict rather than a shape error.
func DecodeResource(data json.RawMessage) (*ResourceInput, *Problem) {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 || string(trimmed) == "null" {
		return nil, BadDocument("/data", "primary data must be a single resource object")
	}
	if trimmed[0] == '[' {
		return nil, BadDocument("/data", "primary data must be a single resource object, not an array")
	}
	if trimmed[0] != '{' {
		return nil, BadDocument("/data", "primary data must be a single resource object")
	}

	var obj map[string]json.RawMessage
	if err := json.Unmarshal(trimmed, &obj); err != nil {
		return nil, BadDocument("/data", "primary data is not valid JSON")
	}

	in := &ResourceInput{}

	typ, ok := decodeType(obj["type"])
	if !ok || typ == "" {
		return nil, BadDocument("/data/type", "primary data must have a non-empty string type member")
	}
	in.Type = typ

	if raw, present := obj["id"]; present {
		id, ok := decodeID(raw)
		if !ok || id == "" {
			return nil, BadDocument("/data/id", "id must be a non-empty string or number")
		}
		in.ID = id
		in.HasID = true
	}

	attrs := make(map[string]any)
	for name, raw := range obj {
		if resourceMembers[name] {
			continue
		}
		var v any
		if err := json.Unmarshal(raw, &v); err != nil {
			return nil, BadDocument(Pointer("data", name), "attribute is not valid JSON")
		}
		attrs[name] = v
	}
	if raw, present := obj["attributes"]; present {
		var nested map[string]any
		if err := json.Unmarshal(raw, &nested); err != nil || nested == nil {
			return nil, BadDocument("/data/attributes", "attributes must be an object")
		}
		for name, v := range nested {
			attrs[name] = v
		}
	}
	in.Attributes = attrs

	if raw, present := obj["relationships"]; present {
		rels, p := decodeRelationships(raw)
		if p != nil {
			return nil, p
		}
		in.Relationships = rels
	}

	return in, nil
}

func decodeRelationships(raw json.RawMessage) (map[string]Linkage, *Problem) {
	var members map[string]json.RawMessage
	if err := json.Unmarshal(raw, &members); err != nil || members == nil {
		return nil, BadDocument("/data/relationships", "relationships must be an object")
	}

	out := make(map[string]Linkage, len(members))
	for name, rawRel := range members {
		base := Pointer("data", "relationships", name)
		var rel map[string]json.RawMessage
		if err := json.Unmarshal(rawRel, &rel); err != nil || rel == nil {
			return nil, BadDocument(base, "relationship must be an object with a data member")
		}
		rawData, ok := rel["data"]
		if !ok {
			return nil, BadDocument(base, "relationship must have a data member")
		}
		linkage, err := DecodeLinkage(rawData)
		if err != nil {
			return nil, linkageProblem(base+"/data", err)
		}
		out[name] = linkage
	}
	return out, nil
}

// DecodeRelationshipData parses the data member of a relationship endpoint
// request
func DecodeRelationshipData(req *Request) (Linkage, *Problem) {
	if !req.HasData {
		return Linkage{}, BadDocument("", "relationship document must have a top-level data member")
	}
	linkage, err := DecodeLinkage(req.Data)
	if err != nil {
		return Linkage{}, linkageProblem("/data", err)
	}
	return linkage, nil
}

func linkageProblem(base string, err error) *Problem {
	if le, ok := err.(*LinkageError); ok {
		return BadDocument(base+le.Pointer, le.Detail)
	}
	return BadDocument(base, err.Error())
}

// ResourceObject is a resource as rendered in responses
type ResourceObject struct {
	Type          string                  `json:"type"`
	ID            string                  `json:"id"`
	Attributes    map[string]any          `json:"attributes,omitempty"`
	Relationships map[string]Relationship `json:"relationships,omitempty"`
	Links         Links                   `json:"links,omitempty"`
}

// Relationship is a relationship object inside a resource object
type Relationship struct {
	Data  Linkage `json:"data"`
	Links Links   `json:"links,omitempty"`
}

// Links is a links object
type Links map[string]string

// Document is a top-level response document. Only the members listed in
// TopLevelMembers are ever emitted.
type Document struct {
	Data   any              `json:"data"`
	Meta   map[string]any   `json:"meta,omitempty"`
	Links  Links            `json:"links,omitempty"`
	Linked []ResourceObject `json:"linked,omitempty"`
}
