package jsonapi

import (
	"net/http"
	"strings"

	jsonapilib "github.com/DataDog/jsonapi"
)

// Error codes carried in the "code" member of error objects
const (
	CodeNotAcceptable        = "not_acceptable"
	CodeUnsupportedMediaType = "unsupported_media_type"
	CodeInvalidDocument      = "invalid_document"
	CodeTypeConflict         = "type_conflict"
	CodeConflict             = "conflict"
	CodeForbidden            = "forbidden"
	CodeNotFound             = "not_found"
	CodeInternal             = "internal_error"
	CodeUnavailable          = "service_unavailable"
)

// Problem is a request failure that maps onto a single HTTP status and one or
// more JSON:API error objects.
type Problem struct {
	Status int
	Errors []*jsonapilib.Error
}

// NewProblem creates a problem with a single error object
func NewProblem(status int, code, detail string) *Problem {
	s := status
	return &Problem{
		Status: status,
		Errors: []*jsonapilib.Error{{
			Status: &s,
			Code:   code,
			Title:  http.StatusText(status),
			Detail: detail,
		}},
	}
}

// Add appends another error object with the same status
func (p *Problem) Add(code, detail, pointer string) *Problem {
	s := p.Status
	e := &jsonapilib.Error{
		Status: &s,
		Code:   code,
		Title:  http.StatusText(p.Status),
		Detail: detail,
	}
	if pointer != "" {
		e.Source = &jsonapilib.ErrorSource{Pointer: pointer}
	}
	p.Errors = append(p.Errors, e)
	return p
}

// WithPointer sets the JSON pointer of the most recent error object
func (p *Problem) WithPointer(pointer string) *Problem {
	if len(p.Errors) > 0 && pointer != "" {
		p.Errors[len(p.Errors)-1].Source = &jsonapilib.ErrorSource{Pointer: pointer}
	}
	return p
}

// WithParameter sets the offending query/header parameter of the most recent
// error object
func (p *Problem) WithParameter(name string) *Problem {
	if len(p.Errors) > 0 && name != "" {
		p.Errors[len(p.Errors)-1].Source = &jsonapilib.ErrorSource{Parameter: name}
	}
	return p
}

func (p *Problem) Error() string {
	details := make([]string, 0, len(p.Errors))
	for _, e := range p.Errors {
		details = append(details, e.Detail)
	}
	return http.StatusText(p.Status) + ": " + strings.Join(details, "; ")
}

// Document returns the top-level error document
func (p *Problem) Document() ErrorDocument {
	return ErrorDocument{Errors: p.Errors}
}

// ErrorDocument is the top-level document of an error response
type ErrorDocument struct {
	Errors []*jsonapilib.Error `json:"errors"`
}

// NotAcceptable is a 406 header problem
func NotAcceptable(detail string) *Problem {
	return NewProblem(http.StatusNotAcceptable, CodeNotAcceptable, detail).WithParameter("Accept")
}

// UnsupportedMediaType is a 415 header problem
func UnsupportedMediaType(detail string) *Problem {
	return NewProblem(http.StatusUnsupportedMediaType, CodeUnsupportedMediaType, detail).WithParameter("Content-Type")
}

// BadDocument is a 400 shape problem
func BadDocument(pointer, detail string) *Problem {
	return NewProblem(http.StatusBadRequest, CodeInvalidDocument, detail).WithPointer(pointer)
}

// TypeConflict is a 409 raised when a document names a type the endpoint does
// not serve
func TypeConflict(pointer, detail string) *Problem {
	return NewProblem(http.StatusConflict, CodeTypeConflict, detail).WithPointer(pointer)
}

// Conflict is a 409 raised for server-enforced constraint violations
func Conflict(detail string) *Problem {
	return NewProblem(http.StatusConflict, CodeConflict, detail)
}

// Forbidden is a 403 raised when server policy rejects an operation
func Forbidden(detail string) *Problem {
	return NewProblem(http.StatusForbidden, CodeForbidden, detail)
}

// NotFound is a 404 problem
func NotFound(detail string) *Problem {
	return NewProblem(http.StatusNotFound, CodeNotFound, detail)
}

// Pointer builds an RFC 6901 JSON pointer from reference tokens
func Pointer(tokens ...string) string {
	var b strings.Builder
	for _, t := range tokens {
		b.WriteByte('/')
		b.WriteString(escapePointerToken(t))
	}
	return b.String()
}

func escapePointerToken(token string) string {
	// ~ must be escaped before /
	token = strings.ReplaceAll(token, "~", "~0")
	return strings.ReplaceAll(token, "/", "~1")
}
