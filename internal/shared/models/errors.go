package models

import (
	"fmt"
	"net/http"
)

// RouteError carries the outcome taxonomy through the routing pipeline.
// Detail is sanitized: it must never contain secret material or raw backend
// bodies.
type RouteError struct {
	Outcome   Outcome
	Status    int // backend HTTP status when applicable, 0 otherwise
	Detail    string
	Transient bool
	Err       error
}

func (e *RouteError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Outcome, e.Detail, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Outcome, e.Detail)
}

func (e *RouteError) Unwrap() error { return e.Err }

// NewRouteError builds a non-transient RouteError.
func NewRouteError(outcome Outcome, detail string) *RouteError {
	return &RouteError{Outcome: outcome, Detail: detail}
}

// HTTPStatusFor maps an outcome to the status returned to the caller.
func HTTPStatusFor(outcome Outcome) int {
	switch outcome {
	case OutcomeSuccess:
		return http.StatusOK
	case OutcomeAuthError:
		return http.StatusUnauthorized
	case OutcomeAuthzError:
		return http.StatusForbidden
	case OutcomeDataError:
		return http.StatusBadRequest
	case OutcomeNetworkError:
		return http.StatusServiceUnavailable
	default:
		return http.StatusBadGateway
	}
}

// ErrorEnvelope is the wire format for every failure response.
type ErrorEnvelope struct {
	Error ErrorBody `json:"error"`
}

// ErrorBody carries the stable code plus correlation fields for operator
// lookup in the audit trail.
type ErrorBody struct {
	Code      string `json:"code"`
	Message   string `json:"message"`
	Path      string `json:"path,omitempty"`
	RequestID string `json:"requestId"`
	Timestamp string `json:"timestamp"`
}
