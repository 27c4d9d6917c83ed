package jsonapi

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
)

// Identifier identifies a single resource by type and id
type Identifier struct {
	Type string `json:"type"`
	ID   string `json:"id"`
}

func (i Identifier) String() string {
	return i.Type + ":" + i.ID
}

// LinkageKind tags the variant held by a Linkage
type LinkageKind int

const (
	// LinkageEmpty is an empty to-one relationship (null)
	LinkageEmpty LinkageKind = iota
	// LinkageToOne holds exactly one identifier
	LinkageToOne
	// LinkageToMany holds an ordered list of identifiers
	LinkageToMany
)

func (k LinkageKind) String() string {
	switch k {
	case LinkageEmpty:
		return "null"
	case LinkageToOne:
		return "to-one"
	case LinkageToMany:
		return "to-many"
	}
	return "unknown"
}

// Linkage is relationship data: null, a single identifier, or a list of them.
type Linkage struct {
	Kind LinkageKind
	One  Identifier
	Many []Identifier
}

// Empty returns null linkage
func Empty() Linkage { return Linkage{Kind: LinkageEmpty} }

// ToOne returns single-identifier linkage
func ToOne(id Identifier) Linkage { return Linkage{Kind: LinkageToOne, One: id} }

// ToMany returns list linkage; a nil list marshals as []
func ToMany(ids ...Identifier) Linkage {
	return Linkage{Kind: LinkageToMany, Many: ids}
}

// Identifiers returns every identifier the linkage references
func (l Linkage) Identifiers() []Identifier {
	switch l.Kind {
	case LinkageToOne:
		return []Identifier{l.One}
	case LinkageToMany:
		return l.Many
	}
	return nil
}

// Equal reports whether two linkages reference the same identifiers in the
// same order.
func (l Linkage) Equal(o Linkage) bool {
	if l.Kind != o.Kind {
		return false
	}
	switch l.Kind {
	case LinkageToOne:
		return l.One == o.One
	case LinkageToMany:
		if len(l.Many) != len(o.Many) {
			return false
		}
		for i := range l.Many {
			if l.Many[i] != o.Many[i] {
				return false
			}
		}
	}
	return true
}

// Clone returns a copy that shares no memory with l
func (l Linkage) Clone() Linkage {
	out := l
	if l.Many != nil {
		out.Many = append([]Identifier(nil), l.Many...)
	}
	return out
}

// MarshalJSON encodes null, an identifier object, or an identifier array
func (l Linkage) MarshalJSON() ([]byte, error) {
	switch l.Kind {
	case LinkageToOne:
		return json.Marshal(l.One)
	case LinkageToMany:
		if l.Many == nil {
			return []byte("[]"), nil
		}
		return json.Marshal(l.Many)
	}
	return []byte("null"), nil
}

// UnmarshalJSON decodes the stored form of a linkage
func (l *Linkage) UnmarshalJSON(data []byte) error {
	decoded, err := DecodeLinkage(data)
	if err != nil {
		return err
	}
	*l = decoded
	return nil
}

// LinkageError describes a linkage member that has the wrong shape
type LinkageError struct {
	Pointer string
	Detail  string
}

func (e *LinkageError) Error() string {
	return fmt.Sprintf("%s: %s", e.Pointer, e.Detail)
}

// DecodeLinkage dispatches on the JSON shape of relationship data:
//
//	null                      -> Empty
//	{"type","id"}             -> ToOne
//	[{"type","id"}, ...]      -> ToMany
//	{"type","ids":[...]}      -> ToMany (homogeneous shorthand)
//
// Pointers in returned errors are relative to the linkage itself.
func DecodeLinkage(data []byte) (Linkage, error) {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 {
		return Linkage{}, &LinkageError{Pointer: "", Detail: "relationship data is missing"}
	}

	switch trimmed[0] {
	case 'n':
		if string(trimmed) == "null" {
			return Empty(), nil
		}
	case '{':
		var obj map[string]json.RawMessage
		if err := json.Unmarshal(trimmed, &obj); err != nil {
			return Linkage{}, &LinkageError{Detail: "relationship data is not valid JSON"}
		}
		if rawIDs, ok := obj["ids"]; ok {
			return decodeShorthand(obj["type"], rawIDs)
		}
		id, err := decodeIdentifier(obj, "")
		if err != nil {
			return Linkage{}, err
		}
		return ToOne(id), nil
	case '[':
		var items []json.RawMessage
		if err := json.Unmarshal(trimmed, &items); err != nil {
			return Linkage{}, &LinkageError{Detail: "relationship data is not valid JSON"}
		}
		ids := make([]Identifier, 0, len(items))
		for i, item := range items {
			pointer := "/" + strconv.Itoa(i)
			var obj map[string]json.RawMessage
			if err := json.Unmarshal(item, &obj); err != nil || obj == nil {
				return Linkage{}, &LinkageError{Pointer: pointer, Detail: "resource identifier must be an object"}
			}
			id, err := decodeIdentifier(obj, pointer)
			if err != nil {
				return Linkage{}, err
			}
			ids = append(ids, id)
		}
		return ToMany(ids...), nil
	}

	return Linkage{}, &LinkageError{Detail: "relationship data must be null, a resource identifier, or an array of resource identifiers"}
}

func decodeShorthand(rawType, rawIDs json.RawMessage) (Linkage, error) {
	typ, ok := decodeType(rawType)
	if !ok || typ == "" {
		return Linkage{}, &LinkageError{Pointer: "/type", Detail: "type is required alongside ids"}
	}
	var items []json.RawMessage
	if err := json.Unmarshal(rawIDs, &items); err != nil {
		return Linkage{}, &LinkageError{Pointer: "/ids", Detail: "ids must be an array"}
	}
	ids := make([]Identifier, 0, len(items))
	for i, item := range items {
		id, ok := decodeID(item)
		if !ok || id == "" {
			return Linkage{}, &LinkageError{Pointer: "/ids/" + strconv.Itoa(i), Detail: "id must be a string or number"}
		}
		ids = append(ids, Identifier{Type: typ, ID: id})
	}
	return ToMany(ids...), nil
}

func decodeIdentifier(obj map[string]json.RawMessage, pointer string) (Identifier, error) {
	typ, ok := decodeType(obj["type"])
	if !ok || typ == "" {
		return Identifier{}, &LinkageError{Pointer: pointer + "/type", Detail: "resource identifier requires a type"}
	}
	id, ok := decodeID(obj["id"])
	if !ok || id == "" {
		return Identifier{}, &LinkageError{Pointer: pointer + "/id", Detail: "resource identifier requires an id"}
	}
	return Identifier{Type: typ, ID: id}, nil
}

// decodeType reads a type member, which must be a string
func decodeType(raw json.RawMessage) (string, bool) {
	if len(raw) == 0 {
		return "", false
	}
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return "", false
	}
	return s, true
}

// decodeID reads an id member. Ids may be sent as numbers; they are
// normalised to their decimal string form.
func decodeID(raw json.RawMessage) (string, bool) {
	if s, ok := decodeType(raw); ok {
		return s, true
	}
	if len(raw) == 0 {
		return "", false
	}
	var n json.Number
	if err := json.Unmarshal(raw, &n); err == nil {
		return n.String(), true
	}
	return "", false
}
