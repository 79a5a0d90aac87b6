// Package apperr defines the error taxonomy shared by all components.
// Errors carry a Kind that the HTTP layer maps to a status code; everything
// below the transport edge works with kinds, never with status codes.
package apperr

import (
	"context"
	"errors"
	"fmt"
	"net/http"
)

// Kind classifies an error for the transport layer.
type Kind string

const (
	// KindValidation marks bad or missing request input.
	KindValidation Kind = "VALIDATION"
	// KindNotFound marks a lookup miss (e.g., unknown user profile).
	KindNotFound Kind = "NOT_FOUND"
	// KindUnknownCapability marks a dispatch request for an unregistered capability.
	KindUnknownCapability Kind = "UNKNOWN_CAPABILITY"
	// KindNoFood marks a recognition call that succeeded but found nothing edible.
	KindNoFood Kind = "NO_FOOD_DETECTED"
	// KindUpstream marks a transport/auth/protocol failure from an external service.
	KindUpstream Kind = "UPSTREAM_UNAVAILABLE"
	// KindUpstreamTimeout marks an external call that exceeded its deadline.
	KindUpstreamTimeout Kind = "UPSTREAM_TIMEOUT"
	// KindParse marks structured output from a generation call that could not be decoded.
	KindParse Kind = "PARSE"
	// KindInternal is the catch-all for unexpected failures.
	KindInternal Kind = "INTERNAL"
)

// Error is the application error type. Message is safe to show to callers;
// Err holds the underlying cause for logs.
type Error struct {
	Kind    Kind
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *Error) Unwrap() error {
	return e.Err
}

// New creates an error with an explicit kind and no cause.
func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

// Wrap creates an error with an explicit kind and an underlying cause.
func Wrap(kind Kind, message string, cause error) *Error {
	return &Error{Kind: kind, Message: message, Err: cause}
}

// Validation creates a request-input error.
func Validation(message string) *Error {
	return &Error{Kind: KindValidation, Message: message}
}

// Validationf creates a formatted request-input error.
func Validationf(format string, args ...any) *Error {
	return &Error{Kind: KindValidation, Message: fmt.Sprintf(format, args...)}
}

// NotFound creates a lookup-miss error.
func NotFound(message string) *Error {
	return &Error{Kind: KindNotFound, Message: message}
}

// UnknownCapability creates a dispatch error for an unregistered capability name.
func UnknownCapability(name string) *Error {
	return &Error{Kind: KindUnknownCapability, Message: fmt.Sprintf("capability %q is not registered", name)}
}

// NoFood creates the "nothing recognized" error for operations that require food in the image.
func NoFood() *Error {
	return &Error{Kind: KindNoFood, Message: "no food detected in image"}
}

// Upstream wraps a failure from an external service, promoting deadline
// expiry to the dedicated timeout kind so callers can tell the two apart.
func Upstream(service string, cause error) *Error {
	if errors.Is(cause, context.DeadlineExceeded) {
		return &Error{Kind: KindUpstreamTimeout, Message: service + " request timed out", Err: cause}
	}
	return &Error{Kind: KindUpstream, Message: service + " is unavailable", Err: cause}
}

// Internal wraps an unexpected failure.
func Internal(cause error) *Error {
	return &Error{Kind: KindInternal, Message: "internal error", Err: cause}
}

// KindOf extracts the kind from an error chain, defaulting to KindInternal.
func KindOf(err error) Kind {
	var appErr *Error
	if errors.As(err, &appErr) {
		return appErr.Kind
	}
	return KindInternal
}

// MessageOf extracts the caller-safe message from an error chain. Unknown
// errors collapse to a generic message so internals never leak to clients.
func MessageOf(err error) string {
	var appErr *Error
	if errors.As(err, &appErr) {
		return appErr.Message
	}
	return "internal error"
}

// HTTPStatus maps an error chain to the response status code.
func HTTPStatus(err error) int {
	switch KindOf(err) {
	case KindValidation, KindUnknownCapability, KindNoFood:
		return http.StatusBadRequest
	case KindNotFound:
		return http.StatusNotFound
	case KindUpstream:
		return http.StatusBadGateway
	case KindUpstreamTimeout:
		return http.StatusGatewayTimeout
	case KindParse:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}
