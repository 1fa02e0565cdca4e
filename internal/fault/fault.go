// Package fault defines the caller-visible error taxonomy for the gateway
// core. Every rejection, timeout, and dependency failure is classified into
// one Kind so that handlers, retry policies, and metrics agree on what
// happened.
package fault

import (
	"errors"
	"fmt"
	"net/http"
)

// Kind identifies a class of failure.
type Kind string

const (
	KindUnauthenticated     Kind = "unauthenticated"
	KindRateLimited         Kind = "rate_limited"
	KindQuotaExhausted      Kind = "quota_exhausted"
	KindInjectionSuspected  Kind = "injection_suspected"
	KindQueueOverflow       Kind = "queue_overflow"
	KindDeadlineExceeded    Kind = "deadline_exceeded"
	KindCircuitOpen         Kind = "circuit_open"
	KindCrossTenantLeakage  Kind = "cross_tenant_leakage"
	KindTransientDependency Kind = "transient_dependency"
	KindPermanentDependency Kind = "permanent_dependency"
)

// Error is a classified error. Wrapped causes remain reachable via
// errors.Unwrap / errors.Is.
type Error struct {
	Kind  Kind
	Op    string // originating operation, e.g. "admission.Admit"
	Cause error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Op, e.Kind, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Op, e.Kind)
}

func (e *Error) Unwrap() error { return e.Cause }

// New creates a classified error with no underlying cause.
func New(kind Kind, op string) *Error {
	return &Error{Kind: kind, Op: op}
}

// Wrap classifies an existing error.
func Wrap(kind Kind, op string, cause error) *Error {
	return &Error{Kind: kind, Op: op, Cause: cause}
}

// KindOf extracts the Kind from an error chain. Unknown errors are treated
// as permanent dependency failures unless the adapter classified them.
func KindOf(err error) Kind {
	var fe *Error
	if errors.As(err, &fe) {
		return fe.Kind
	}
	if errors.Is(err, ErrTransient) {
		return KindTransientDependency
	}
	return KindPermanentDependency
}

// IsKind reports whether err carries the given kind anywhere in its chain.
func IsKind(err error, kind Kind) bool {
	return err != nil && KindOf(err) == kind
}

// Retryable reports whether the failure class may be retried by the
// resilience layer. Validation and security failures never are.
func Retryable(err error) bool {
	return KindOf(err) == KindTransientDependency
}

// ErrTransient is a sentinel adapters may wrap to mark transient failures
// (network, timeout, 5xx-equivalent) without constructing a full *Error.
var ErrTransient = errors.New("transient dependency failure")

// HTTPStatus maps a Kind to its HTTP status equivalent.
func HTTPStatus(kind Kind) int {
	switch kind {
	case KindUnauthenticated:
		return http.StatusUnauthorized
	case KindRateLimited, KindQuotaExhausted:
		return http.StatusTooManyRequests
	case KindInjectionSuspected:
		return http.StatusBadRequest
	case KindQueueOverflow, KindCircuitOpen:
		return http.StatusServiceUnavailable
	case KindDeadlineExceeded:
		return http.StatusGatewayTimeout
	case KindCrossTenantLeakage:
		return http.StatusForbidden
	case KindTransientDependency, KindPermanentDependency:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}
