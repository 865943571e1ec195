// Package ollyerr defines the error vocabulary shared by every component of
// the data plane: store, ingest, query, schema coordinator, and OpAMP
// coordinator all return errors in this taxonomy so that protocol edges
// (OTLP partial_success, HTTP status, gRPC codes) can be derived uniformly
// instead of re-deriving intent from ad hoc error strings.
package ollyerr

import (
	"errors"
	"fmt"
	"net/http"
)

// Kind is the narrow classification a component commits to when it returns
// an error. Callers should always return the narrowest kind they can
// justify; handlers at the edge translate Kind to protocol-specific codes.
type Kind int

const (
	// KindUnknown is never returned deliberately; its presence in a log
	// indicates a component forgot to classify an error.
	KindUnknown Kind = iota
	// KindInvalid marks a client-side mistake: malformed OTLP, a bad
	// filter, an unparseable regex, a YAML syntax error. Non-retryable.
	KindInvalid
	// KindNotFound marks a lookup (trace, agent, descriptor) that does not
	// exist within the caller's scope.
	KindNotFound
	// KindCancelled marks a deadline exceeded or a disconnected client.
	KindCancelled
	// KindUnavailable marks a transient condition: schema not ready, queue
	// full, database unreachable. Retryable.
	KindUnavailable
	// KindConflict marks an idempotency fingerprint that matched an
	// existing row with incompatible contents.
	KindConflict
	// KindFatal marks a broken internal invariant; callers log it and
	// surface KindUnavailable to their own callers while an operator
	// investigates.
	KindFatal
)

func (k Kind) String() string {
	switch k {
	case KindInvalid:
		return "invalid"
	case KindNotFound:
		return "not_found"
	case KindCancelled:
		return "cancelled"
	case KindUnavailable:
		return "unavailable"
	case KindConflict:
		return "conflict"
	case KindFatal:
		return "fatal"
	default:
		return "unknown"
	}
}

// HTTPStatus maps a Kind to the HTTP status code the query API and OpAMP
// REST facade use for their uniform JSON error body.
func (k Kind) HTTPStatus() int {
	switch k {
	case KindInvalid:
		return http.StatusBadRequest
	case KindNotFound:
		return http.StatusNotFound
	case KindCancelled:
		return 499 // client closed request, nginx convention
	case KindUnavailable:
		return http.StatusServiceUnavailable
	case KindConflict:
		return http.StatusConflict
	case KindFatal:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// Retryable reports whether a producer should retry after seeing this kind.
func (k Kind) Retryable() bool {
	return k == KindUnavailable
}

// Error is the concrete error type carrying a Kind, a message, and an
// optional wrapped cause.
type Error struct {
	Kind    Kind
	Message string
	Cause   error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.Cause }

func newErr(k Kind, msg string, cause error) *Error {
	return &Error{Kind: k, Message: msg, Cause: cause}
}

// Invalid builds a KindInvalid error.
func Invalid(msg string, cause error) *Error { return newErr(KindInvalid, msg, cause) }

// NotFound builds a KindNotFound error.
func NotFound(msg string, cause error) *Error { return newErr(KindNotFound, msg, cause) }

// Cancelled builds a KindCancelled error.
func Cancelled(msg string, cause error) *Error { return newErr(KindCancelled, msg, cause) }

// Unavailable builds a KindUnavailable error.
func Unavailable(msg string, cause error) *Error { return newErr(KindUnavailable, msg, cause) }

// Conflict builds a KindConflict error.
func Conflict(msg string, cause error) *Error { return newErr(KindConflict, msg, cause) }

// Fatal builds a KindFatal error.
func Fatal(msg string, cause error) *Error { return newErr(KindFatal, msg, cause) }

// Invalidf is the formatted-message convenience form of Invalid.
func Invalidf(format string, args ...interface{}) *Error {
	return newErr(KindInvalid, fmt.Sprintf(format, args...), nil)
}

// Unavailablef is the formatted-message convenience form of Unavailable.
func Unavailablef(format string, args ...interface{}) *Error {
	return newErr(KindUnavailable, fmt.Sprintf(format, args...), nil)
}

// As extracts the Kind of err, defaulting to KindUnknown when err does not
// wrap an *Error.
func As(err error) Kind {
	if err == nil {
		return KindUnknown
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindUnknown
}

// Is reports whether err wraps an *Error of the given kind.
func Is(err error, k Kind) bool {
	return As(err) == k
}
