// Package apperror defines the business error taxonomy shared by every layer.
//
// Domain code returns *Error values; only the HTTP boundary (auth.WriteError)
// turns them into status codes. Anything that is not an *Error is treated as
// an unexpected infrastructure failure.
package apperror

import (
	"errors"
	"net/http"
)

// Kind classifies an error for mapping at the boundary.
type Kind int

const (
	KindInternal Kind = iota
	KindValidation
	KindAuthentication
	KindAuthorization
	KindConflict
	KindNotFound
	KindRateLimited
	KindTransient
)

// String returns the lowercase kind name used in log attributes.
func (k Kind) String() string {
	switch k {
	case KindValidation:
		return "validation"
	case KindAuthentication:
		return "authentication"
	case KindAuthorization:
		return "authorization"
	case KindConflict:
		return "conflict"
	case KindNotFound:
		return "not_found"
	case KindRateLimited:
		return "rate_limited"
	case KindTransient:
		return "transient"
	default:
		return "internal"
	}
}

// Error is a classified business error.
// Message is safe to show to clients; Err carries the underlying cause for logs.
type Error struct {
	Kind      Kind
	Message   string
	Field     string // only set for KindValidation
	Retryable bool   // only meaningful for KindTransient
	Err       error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return e.Message + ": " + e.Err.Error()
	}
	return e.Message
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Validation returns a 400-class error naming the offending field.
func Validation(field, message string) *Error {
	return &Error{Kind: KindValidation, Message: message, Field: field}
}

// Authentication returns a 401-class error. Keep message generic.
func Authentication(message string) *Error {
	return &Error{Kind: KindAuthentication, Message: message}
}

// Authorization returns a 403-class error.
func Authorization(message string) *Error {
	return &Error{Kind: KindAuthorization, Message: message}
}

// Conflict returns a 409-class error.
func Conflict(message string) *Error {
	return &Error{Kind: KindConflict, Message: message}
}

// NotFound returns a 404-class error.
func NotFound(message string) *Error {
	return &Error{Kind: KindNotFound, Message: message}
}

// RateLimited returns a 429-class error.
func RateLimited(message string) *Error {
	return &Error{Kind: KindRateLimited, Message: message}
}

// Transient wraps an infrastructure failure the client cannot act on.
func Transient(err error) *Error {
	return &Error{Kind: KindTransient, Message: "internal server error", Err: err}
}

// Retryable wraps an infrastructure failure the client may retry later,
// e.g. a mail queue outage after the account was already created.
func Retryable(message string, err error) *Error {
	return &Error{Kind: KindTransient, Message: message, Retryable: true, Err: err}
}

// As extracts an *Error from err's chain. Returns nil when err is not classified.
func As(err error) *Error {
	var e *Error
	if errors.As(err, &e) {
		return e
	}
	return nil
}

// IsKind reports whether err carries an *Error of the given kind.
func IsKind(err error, kind Kind) bool {
	e := As(err)
	return e != nil && e.Kind == kind
}

// HTTPStatus maps err to its response status. Unclassified errors are 500.
func HTTPStatus(err error) int {
	e := As(err)
	if e == nil {
		return http.StatusInternalServerError
	}
	switch e.Kind {
	case KindValidation:
		return http.StatusBadRequest
	case KindAuthentication:
		return http.StatusUnauthorized
	case KindAuthorization:
		return http.StatusForbidden
	case KindConflict:
		return http.StatusConflict
	case KindNotFound:
		return http.StatusNotFound
	case KindRateLimited:
		return http.StatusTooManyRequests
	case KindTransient:
		if e.Retryable {
			return http.StatusServiceUnavailable
		}
		return http.StatusInternalServerError
	default:
		return http.StatusInternalServerError
	}
}
