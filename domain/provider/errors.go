package provider

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"
)

// Registry construction errors.
var (
	// ErrEmptyRegistry is returned when a registry is built with no providers.
	ErrEmptyRegistry = errors.New("provider registry is empty")

	// ErrInvalidConfig is returned for a malformed provider configuration.
	ErrInvalidConfig = errors.New("invalid provider config")

	// ErrUnknownProvider is returned when a name does not resolve to a
	// registered provider.
	ErrUnknownProvider = errors.New("unknown provider")
)

// Class categorizes a fetch failure. The class decides whether an attempt
// is retried against the same provider, handed to the fallback chain, or
// surfaced as a degraded empty result.
type Class int

const (
	// ClassGeneric covers failures with no more specific classification.
	ClassGeneric Class = iota
	// ClassRateLimited means the upstream rejected the call for rate reasons.
	ClassRateLimited
	// ClassAuthentication means credentials were rejected.
	ClassAuthentication
	// ClassForbidden means the upstream refused access to the resource.
	ClassForbidden
	// ClassServer means the upstream failed internally.
	ClassServer
	// ClassNetwork means the call never completed at the transport level.
	ClassNetwork
	// ClassTimeout means the call exceeded its deadline.
	ClassTimeout
	// ClassCircuitOpen means the circuit breaker refused the call.
	ClassCircuitOpen
	// ClassValidation means the caller supplied bad input.
	ClassValidation
)

// String implements fmt.Stringer.
func (c Class) String() string {
	switch c {
	case ClassRateLimited:
		return "rate_limited"
	case ClassAuthentication:
		return "authentication"
	case ClassForbidden:
		return "forbidden"
	case ClassServer:
		return "server"
	case ClassNetwork:
		return "network"
	case ClassTimeout:
		return "timeout"
	case ClassCircuitOpen:
		return "circuit_open"
	case ClassValidation:
		return "validation"
	default:
		return "generic"
	}
}

// Retryable reports whether another attempt against the same provider may
// succeed.
func (c Class) Retryable() bool {
	switch c {
	case ClassRateLimited, ClassServer, ClassNetwork, ClassTimeout:
		return true
	default:
		return false
	}
}

// FallbackEligible reports whether the failure should immediately hand off
// to the provider's fallback chain instead of retrying.
func (c Class) FallbackEligible() bool {
	return c == ClassAuthentication || c == ClassForbidden
}

// FetchError is a classified upstream failure.
type FetchError struct {
	// Provider is the provider the call was issued against.
	Provider ID
	// Class is the failure classification.
	Class Class
	// Status is the HTTP status code, when the failure was status-shaped.
	Status int
	// RetryAfter is the upstream-suggested wait, when one was given.
	RetryAfter time.Duration
	// Err is the underlying cause.
	Err error
}

// Error implements error.
func (e *FetchError) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("provider %s: %s (status %d): %v", e.Provider, e.Class, e.Status, e.Err)
	}
	return fmt.Sprintf("provider %s: %s: %v", e.Provider, e.Class, e.Err)
}

// Unwrap returns the underlying cause.
func (e *FetchError) Unwrap() error {
	return e.Err
}

// NewStatusError classifies an HTTP-status-shaped failure.
func NewStatusError(p ID, status int, err error) *FetchError {
	class := ClassGeneric
	switch {
	case status == http.StatusUnauthorized:
		class = ClassAuthentication
	case status == http.StatusForbidden:
		class = ClassForbidden
	case status == http.StatusTooManyRequests:
		class = ClassRateLimited
	case status >= 500:
		class = ClassServer
	}
	return &FetchError{Provider: p, Class: class, Status: status, Err: err}
}

// NewNetworkError classifies a transport-level failure.
func NewNetworkError(p ID, err error) *FetchError {
	return &FetchError{Provider: p, Class: ClassNetwork, Err: err}
}

// NewTimeoutError classifies an exceeded deadline.
func NewTimeoutError(p ID, err error) *FetchError {
	return &FetchError{Provider: p, Class: ClassTimeout, Err: err}
}

// NewRateLimitError classifies an upstream rate rejection with an optional
// suggested wait.
func NewRateLimitError(p ID, retryAfter time.Duration, err error) *FetchError {
	return &FetchError{Provider: p, Class: ClassRateLimited, RetryAfter: retryAfter, Err: err}
}

// NewValidationError classifies caller-supplied bad input. Validation
// failures are never retried and never degraded to empty results.
func NewValidationError(p ID, err error) *FetchError {
	return &FetchError{Provider: p, Class: ClassValidation, Err: err}
}

// Classify maps an arbitrary error into a failure class. Already-classified
// errors keep their class; deadline and transport errors are recognized;
// everything else is generic.
func Classify(err error) Class {
	if err == nil {
		return ClassGeneric
	}

	var fe *FetchError
	if errors.As(err, &fe) {
		return fe.Class
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return ClassTimeout
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		if netErr.Timeout() {
			return ClassTimeout
		}
		return ClassNetwork
	}

	return ClassGeneric
}
