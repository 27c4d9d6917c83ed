package jsonapi

import (
	"fmt"
	"mime"
	"sort"
	"strings"
)

// MediaType is the JSON:API media type
const MediaType = "application/vnd.api+json"

// Negotiator checks Accept and Content-Type headers against the JSON:API
// media type and the set of extensions the server supports.
type Negotiator struct {
	extensions map[string]struct{}
}

// NewNegotiator creates a Negotiator that accepts the given extension URIs
func NewNegotiator(extensions ...string) Negotiator {
	n := Negotiator{extensions: make(map[string]struct{}, len(extensions))}
	for _, ext := range extensions {
		ext = strings.TrimSpace(ext)
		if ext != "" {
			n.extensions[ext] = struct{}{}
		}
	}
	return n
}

// Extensions returns the supported extension URIs in sorted order
func (n Negotiator) Extensions() []string {
	out := make([]string, 0, len(n.extensions))
	for ext := range n.extensions {
		out = append(out, ext)
	}
	sort.Strings(out)
	return out
}

// CheckAccept returns a 406 problem unless at least one media range in the
// Accept header can be answered with the JSON:API media type.
func (n Negotiator) CheckAccept(header string) *Problem {
	if strings.TrimSpace(header) == "" {
		return NotAcceptable("Accept header must include " + MediaType)
	}

	for _, part := range splitMediaRanges(header) {
		mediaType, params, err := mime.ParseMediaType(part)
		if err != nil {
			continue
		}
		switch mediaType {
		case "*/*", "application/*":
			return nil
		case MediaType:
			if n.acceptableParams(params) {
				return nil
			}
		}
	}

	return NotAcceptable("Accept header must include " + MediaType + " without unsupported parameters")
}

// CheckContentType returns a 415 problem unless the header is the JSON:API
// media type, optionally carrying supported extensions or profiles.
func (n Negotiator) CheckContentType(header string) *Problem {
	if strings.TrimSpace(header) == "" {
		return UnsupportedMediaType("Content-Type header must be " + MediaType)
	}

	mediaType, params, err := mime.ParseMediaType(header)
	if err != nil || mediaType != MediaType {
		return UnsupportedMediaType("Content-Type header must be " + MediaType)
	}

	for name, value := range params {
		switch name {
		case "profile":
		case "ext":
			if unsupported := n.unsupported(value); unsupported != "" {
				return UnsupportedMediaType(fmt.Sprintf("unsupported extension %q", unsupported))
			}
		default:
			return UnsupportedMediaType(fmt.Sprintf("media type parameter %q is not allowed", name))
		}
	}

	return nil
}

func (n Negotiator) acceptableParams(params map[string]string) bool {
	for name, value := range params {
		switch name {
		case "q", "profile":
		case "ext":
			if n.unsupported(value) != "" {
				return false
			}
		default:
			return false
		}
	}
	return true
}

// unsupported returns the first extension URI in a space-separated list that
// the server does not support, or "" when all are supported.
func (n Negotiator) unsupported(list string) string {
	for _, ext := range strings.Fields(list) {
		if _, ok := n.extensions[ext]; !ok {
			return ext
		}
	}
	return ""
}

// splitMediaRanges splits an Accept header on commas that are not inside a
// quoted parameter value (ext lists are quoted and may contain commas in URIs).
func splitMediaRanges(header string) []string {
	var parts []string
	var b strings.Builder
	quoted := false
	for _, r := range header {
		switch {
		case r == '"':
			quoted = !quoted
			b.WriteRune(r)
		case r == ',' && !quoted:
			parts = append(parts, strings.TrimSpace(b.String()))
			b.Reset()
		default:
			b.WriteRune(r)
		}
	}
	if s := strings.TrimSpace(b.String()); s != "" {
		parts = append(parts, s)
	}
	return parts
}
