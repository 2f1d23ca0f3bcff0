// Package errkind defines the typed error taxonomy shared by the pool
// controller, the request proxy, and the HTTP layer, so the mapping
// from failure to HTTP status lives in exactly one place.
package errkind

import (
	"errors"
	"net/http"
)

// Kind classifies a failure the gateway can produce.
type Kind string

const (
	AuthInvalid     Kind = "auth_invalid"
	NoCapacity      Kind = "no_capacity"
	Initializing    Kind = "initializing"
	CreationFailed  Kind = "creation_failed"
	UserCodeError   Kind = "user_code_error"
	UserCodeTimeout Kind = "user_code_timeout"
	TransportFailure Kind = "transport_failure"
	InternalError   Kind = "internal_error"
)

// HTTPStatus returns the status code this kind is surfaced as, per the
// gateway's error handling design.
func (k Kind) HTTPStatus() int {
	switch k {
	case AuthInvalid:
		return http.StatusUnauthorized
	case NoCapacity, Initializing, CreationFailed:
		return http.StatusServiceUnavailable
	case UserCodeError, UserCodeTimeout:
		return http.StatusBadRequest
	case TransportFailure:
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

// DestroysSession reports whether this failure kind unconditionally
// destroys the sandbox bound to the session, per the cattle-not-pets
// recovery policy. Only a pure user-code error preserves the binding.
func (k Kind) DestroysSession() bool {
	return k != UserCodeError
}

// Error is a typed error carrying a Kind plus an operator-facing
// detail. The detail is safe to log; it is never a raw stack trace.
type Error struct {
	Kind   Kind
	Detail string
}

func (e *Error) Error() string {
	if e.Detail == "" {
		return string(e.Kind)
	}
	return string(e.Kind) + ": " + e.Detail
}

// New constructs an *Error of the given kind.
func New(kind Kind, detail string) *Error {
	return &Error{Kind: kind, Detail: detail}
}

// As extracts the Kind of err if it is (or wraps) an *Error, defaulting
// to InternalError otherwise.
func As(err error) Kind {
	if err == nil {
		return ""
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return InternalError
}
