package llm

import (
	"errors"
	"fmt"
)

// ErrorKind classifies a route failure for callers that branch on it.
type ErrorKind string

const (
	// KindBadRequest: the request itself is malformed or unauthorized
	// (400/401/403). Trying another provider with the same body is
	// pointless, so the whole call aborts.
	KindBadRequest ErrorKind = "bad_request"

	// KindRouteFailed: this route failed but the request may succeed
	// elsewhere; the gateway moves to the next fallback.
	KindRouteFailed ErrorKind = "route_failed"

	// KindProviderUnavailable: every candidate route was exhausted or
	// skipped.
	KindProviderUnavailable ErrorKind = "provider_unavailable"
)

// RouteError is a classified failure of one route (or, for
// KindProviderUnavailable, of the whole routing attempt).
type RouteError struct {
	Route string
	Kind  ErrorKind
	Err   error
}

func (e *RouteError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("route %s: %s: %v", e.Route, e.Kind, e.Err)
	}
	return fmt.Sprintf("route %s: %s", e.Route, e.Kind)
}

func (e *RouteError) Unwrap() error { return e.Err }

// IsBadRequest reports whether err aborts fallback.
func IsBadRequest(err error) bool {
	var re *RouteError
	return errors.As(err, &re) && re.Kind == KindBadRequest
}

// IsProviderUnavailable reports whether all routes were exhausted.
func IsProviderUnavailable(err error) bool {
	var re *RouteError
	return errors.As(err, &re) && re.Kind == KindProviderUnavailable
}
