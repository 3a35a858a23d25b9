// Package apperr defines the single error variant the HTTP surface renders.
// A Kind tag selects the status code; handlers never switch on Go types.
package apperr

import (
	"errors"
	"net/http"
)

// Kind tags an application error.
type Kind int

const (
	KindInternal Kind = iota
	KindBadRequest
	KindUnauthorized
	KindNotFound
	KindConflict
	KindTooManyRequests
	KindBadGateway
	KindUnavailable
	KindGatewayTimeout
)

// String returns the kind name used in logs.
func (k Kind) String() string {
	switch k {
	case KindBadRequest:
		return "bad_request"
	case KindUnauthorized:
		return "unauthorized"
	case KindNotFound:
		return "not_found"
	case KindConflict:
		return "conflict"
	case KindTooManyRequests:
		return "too_many_requests"
	case KindBadGateway:
		return "bad_gateway"
	case KindUnavailable:
		return "unavailable"
	case KindGatewayTimeout:
		return "gateway_timeout"
	default:
		return "internal"
	}
}

// StatusCode maps the kind to its HTTP status.
func (k Kind) StatusCode() int {
	switch k {
	case KindBadRequest:
		return http.StatusBadRequest
	case KindUnauthorized:
		return http.StatusUnauthorized
	case KindNotFound:
		return http.StatusNotFound
	case KindConflict:
		return http.StatusConflict
	case KindTooManyRequests:
		return http.StatusTooManyRequests
	case KindBadGateway:
		return http.StatusBadGateway
	case KindUnavailable:
		return http.StatusServiceUnavailable
	case KindGatewayTimeout:
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

// Error is the tagged application error.
type Error struct {
	Kind    Kind
	Message string
	// Type is the optional machine readable error_type field.
	Type string
	Err  error
}

func (e *Error) Error() string {
	if e.Err != nil && e.Message == "" {
		return e.Err.Error()
	}
	if e.Err != nil {
		return e.Message + ": " + e.Err.Error()
	}
	return e.Message
}

func (e *Error) Unwrap() error { return e.Err }

// StatusCode returns the HTTP status for the error.
func (e *Error) StatusCode() int { return e.Kind.StatusCode() }

// New builds an error of the given kind.
func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

// Wrap attaches a cause to a new error of the given kind.
func Wrap(kind Kind, message string, err error) *Error {
	return &Error{Kind: kind, Message: message, Err: err}
}

// WithType returns a copy carrying an error_type.
func (e *Error) WithType(t string) *Error {
	c := *e
	c.Type = t
	return &c
}

func BadRequest(message string) *Error      { return New(KindBadRequest, message) }
func Unauthorized(message string) *Error    { return New(KindUnauthorized, message) }
func NotFound(message string) *Error        { return New(KindNotFound, message) }
func Conflict(message string) *Error        { return New(KindConflict, message) }
func TooManyRequests(message string) *Error { return New(KindTooManyRequests, message) }
func Internal(message string, err error) *Error {
	return Wrap(KindInternal, message, err)
}

// As extracts an *Error from the chain.
func As(err error) (*Error, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e, true
	}
	return nil, false
}

// KindOf returns the kind of err, KindInternal for foreign errors.
func KindOf(err error) Kind {
	if e, ok := As(err); ok {
		return e.Kind
	}
	return KindInternal
}

// Is reports whether err carries the given kind.
func Is(err error, kind Kind) bool {
	return err != nil && KindOf(err) == kind
}
