// Package relayerr defines the closed error taxonomy used across the
// request-processing pipeline. Every recoverable condition has a
// documented recovery path; every unrecoverable one surfaces one of
// these kinds rather than a bare error.
package relayerr

import (
	"errors"
	"fmt"
)

// Kind is a closed enum of error categories. New values are never added
// outside this package.
type Kind string

// The closed set of error kinds. See spec §7 for the recoverability and
// HTTP-surfacing policy of each.
const (
	KindBadRequest          Kind = "bad_request"
	KindNoEligibleBinding   Kind = "no_eligible_binding"
	KindTransformError      Kind = "transform_error"
	KindAuthError           Kind = "auth_error"
	KindRateLimit           Kind = "rate_limit"
	KindUpstreamError       Kind = "upstream_error"
	KindNetworkError        Kind = "network_error"
	KindTimeout             Kind = "timeout"
	KindEmptyResponse       Kind = "empty_response"
	KindMissingFinishReason Kind = "missing_finish_reason"
	KindCancelled           Kind = "cancelled"
)

// httpStatus is the default client-facing status for each kind, per §7.
var httpStatus = map[Kind]int{
	KindBadRequest:          400,
	KindNoEligibleBinding:   503,
	KindTransformError:      500,
	KindAuthError:           502,
	KindRateLimit:           429,
	KindUpstreamError:       502,
	KindNetworkError:        503,
	KindTimeout:             504,
	KindEmptyResponse:       502,
	KindMissingFinishReason: 500,
}

// retryableKinds lists the kinds that may be retried against the same
// binding by the pipeline aggregator (§4.4 "Failure semantics per stage").
var retryableKinds = map[Kind]bool{
	KindUpstreamError: true,
	KindNetworkError:  true,
	KindTimeout:       true,
}

// Error is the structured error type returned by every stage and
// component in the core. It is never silently swallowed: a recovered
// error still produces an Event (see internal/logging) even though the
// caller may not see it.
type Error struct {
	Kind Kind
	// Message is a human-readable description.
	Message string
	// UpstreamStatus is the HTTP status returned by the upstream provider,
	// if any (0 when not applicable).
	UpstreamStatus int
	// BindingID identifies the binding the error occurred against, when
	// known. Empty for errors that precede binding selection.
	BindingID string
	// Context carries structured key/value diagnostic data.
	Context map[string]any
	// Cause is the wrapped underlying error, if any.
	Cause error
}

// New constructs an *Error of the given kind.
func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

// Wrap constructs an *Error of the given kind wrapping an underlying cause.
func Wrap(kind Kind, cause error, message string) *Error {
	return &Error{Kind: kind, Message: message, Cause: cause}
}

// WithBinding returns a copy of e annotated with the binding id it occurred
// against.
func (e *Error) WithBinding(bindingID string) *Error {
	cp := *e
	cp.BindingID = bindingID
	return &cp
}

// WithUpstreamStatus returns a copy of e annotated with the upstream HTTP
// status.
func (e *Error) WithUpstreamStatus(status int) *Error {
	cp := *e
	cp.UpstreamStatus = status
	return &cp
}

// WithContext returns a copy of e with a context key/value attached.
func (e *Error) WithContext(key string, value any) *Error {
	cp := *e
	cp.Context = make(map[string]any, len(e.Context)+1)
	for k, v := range e.Context {
		cp.Context[k] = v
	}
	cp.Context[key] = value
	return &cp
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

// Unwrap supports errors.Is/errors.As against the wrapped cause.
func (e *Error) Unwrap() error { return e.Cause }

// Recoverable reports whether the error kind has a documented recovery
// path distinct from simply surfacing to the client (§7).
func (e *Error) Recoverable() bool {
	switch e.Kind {
	case KindNoEligibleBinding, KindAuthError, KindRateLimit, KindUpstreamError, KindNetworkError, KindTimeout:
		return true
	default:
		return false
	}
}

// Retryable reports whether the pipeline aggregator may retry the same
// binding for this error kind (§4.4).
func (e *Error) Retryable() bool {
	return retryableKinds[e.Kind]
}

// HTTPStatus returns the default client-facing status for the error's
// kind, or 500 if unmapped.
func (e *Error) HTTPStatus() int {
	if e.UpstreamStatus != 0 && (e.Kind == KindUpstreamError) {
		return e.UpstreamStatus
	}
	if s, ok := httpStatus[e.Kind]; ok {
		return s
	}
	return 500
}

// As reports whether err (or anything it wraps) is a *Error, and if so
// assigns it to target and returns true. Thin convenience over errors.As.
func As(err error, target **Error) bool {
	return errors.As(err, target)
}

// Is reports whether err is a *Error of the given kind.
func Is(err error, kind Kind) bool {
	var e *Error
	if !errors.As(err, &e) {
		return false
	}
	return e.Kind == kind
}
