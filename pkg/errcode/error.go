package errcode

import (
	"errors"
	"fmt"
	"strings"
)

// Error is the structured error carried across component boundaries. It binds
// a registry code to a human message plus optional details and metadata, and
// chains an underlying cause for errors.Is/As.
type Error struct {
	Code     Code           // registry code, e.g. E0201
	Category Category       // derived from the code at construction
	Status   int            // HTTP status for the API surface
	Message  string         // human-readable message
	Details  string         // free-form context (element name, file path, ...)
	Meta     map[string]any // structured extras for the payload
	Cause    error          // wrapped error, if any
}

// Error returns the formatted message.
func (e *Error) Error() string {
	var b strings.Builder
	b.WriteString(string(e.Code))
	b.WriteString(": ")
	b.WriteString(e.Message)
	if e.Details != "" {
		b.WriteString(" (")
		b.WriteString(e.Details)
		b.WriteString(")")
	}
	if e.Cause != nil {
		b.WriteString(": ")
		b.WriteString(e.Cause.Error())
	}
	return b.String()
}

// Unwrap returns the underlying cause.
func (e *Error) Unwrap() error {
	return e.Cause
}

// Payload renders the wire/log form:
// {type: "optics:<category>", code, status, message, details?, meta?}.
func (e *Error) Payload() map[string]any {
	p := map[string]any{
		"type":    "optics:" + string(e.Category),
		"code":    string(e.Code),
		"status":  e.Status,
		"message": e.Message,
	}
	if e.Details != "" {
		p["details"] = e.Details
	}
	if len(e.Meta) > 0 {
		p["meta"] = e.Meta
	}
	return p
}

// WithDetails returns a copy carrying the given details string.
func (e *Error) WithDetails(details string) *Error {
	c := *e
	c.Details = details
	return &c
}

// WithMeta returns a copy with the key set in its metadata map.
func (e *Error) WithMeta(key string, value any) *Error {
	c := *e
	c.Meta = make(map[string]any, len(e.Meta)+1)
	for k, v := range e.Meta {
		c.Meta[k] = v
	}
	c.Meta[key] = value
	return &c
}

// New creates an Error for code with the registry default message.
func New(code Code) *Error {
	return &Error{
		Code:     code,
		Category: CategoryOf(code),
		Status:   DefaultStatus(code),
		Message:  DefaultMessage(code),
	}
}

// Newf creates an Error for code with a formatted message replacing the
// registry default.
func Newf(code Code, format string, args ...any) *Error {
	e := New(code)
	e.Message = fmt.Sprintf(format, args...)
	return e
}

// Wrap creates an Error for code chaining cause.
func Wrap(code Code, cause error) *Error {
	e := New(code)
	e.Cause = cause
	return e
}

// CodeOf extracts the code from err, walking the wrap chain. Returns
// Unexpected when no *Error is present.
func CodeOf(err error) Code {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return Unexpected
}

// Is reports whether err carries the given code anywhere in its chain.
func Is(err error, code Code) bool {
	var e *Error
	return errors.As(err, &e) && e.Code == code
}

// HTTPStatusOf returns the HTTP status for err: the Error's own status when
// present, 500 otherwise.
func HTTPStatusOf(err error) int {
	var e *Error
	if errors.As(err, &e) {
		return e.Status
	}
	return DefaultStatus(Unexpected)
}

// PayloadOf renders err as a payload map, synthesizing an Unexpected envelope
// for plain errors.
func PayloadOf(err error) map[string]any {
	var e *Error
	if errors.As(err, &e) {
		return e.Payload()
	}
	return Wrap(Unexpected, err).Payload()
}

// IsElementFamily reports whether err is retryable by advancing to the next
// parameter candidate: any E02xx code, or X0201 after fallbacks ran out.
func IsElementFamily(err error) bool {
	var e *Error
	if !errors.As(err, &e) {
		return false
	}
	if e.Code == ElementExhausted {
		return true
	}
	return strings.HasPrefix(string(e.Code), "E02")
}
