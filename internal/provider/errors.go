package provider

import (
	"errors"
	"fmt"
)

// FailureKind classifies why a provider call failed. Callers switch on the
// kind instead of inspecting error strings.
type FailureKind int

// Provider failure kinds.
const (
	// KindUnavailable covers network errors, timeouts and 5xx responses.
	// The client retries these before giving up.
	KindUnavailable FailureKind = iota
	// KindRateLimited is an explicit rate-limit signal. Never retried per
	// call; the scheduler backs off globally instead.
	KindRateLimited
	// KindDataError is a malformed or unexpected response. Never retried.
	KindDataError
)

func (k FailureKind) String() string {
	switch k {
	case KindUnavailable:
		return "unavailable"
	case KindRateLimited:
		return "rate_limited"
	case KindDataError:
		return "data_error"
	default:
		return "unknown"
	}
}

// Error is the tagged failure type returned by the client.
type Error struct {
	Kind FailureKind
	Op   string
	Err  error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("provider %s: %s", e.Op, e.Kind)
	}
	return fmt.Sprintf("provider %s (%s): %v", e.Op, e.Kind, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// IsKind reports whether err is a provider error of the given kind.
func IsKind(err error, kind FailureKind) bool {
	var pe *Error
	return errors.As(err, &pe) && pe.Kind == kind
}
