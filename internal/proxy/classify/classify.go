// Package classify maps an inbound request to a configured transport path.
//
// Cross-boundary access is deny-by-default: a request that names no path at
// all, names an unknown path, or names two different paths is rejected
// before any credential fetch or network attempt.
package classify

import (
	"fmt"

	"github.com/crosspartition/inference-proxy/internal/shared/models"
)

// Error is returned when no transport path can be determined. It is fatal
// for the request; no forwarding is attempted.
type Error struct {
	Reason string
}

func (e *Error) Error() string {
	return fmt.Sprintf("classification failed: %s", e.Reason)
}

// Classifier resolves route markers and explicit routingPath parameters
// against the startup path table.
type Classifier struct {
	paths map[string]models.TransportPath
}

func New(paths map[string]models.TransportPath) *Classifier {
	return &Classifier{paths: paths}
}

// Classify is a pure function of (marker, param): the same inputs always
// yield the same transport path. The URL route marker and the explicit
// parameter must agree when both are present.
func (c *Classifier) Classify(marker, param string) (models.TransportPath, error) {
	if marker == "" && param == "" {
		return models.TransportPath{}, &Error{Reason: "request carries neither a route marker nor a routingPath parameter"}
	}
	if marker != "" && param != "" && marker != param {
		return models.TransportPath{}, &Error{Reason: fmt.Sprintf("route marker %q conflicts with routingPath parameter %q", marker, param)}
	}

	name := marker
	if name == "" {
		name = param
	}

	path, ok := c.paths[name]
	if !ok {
		return models.TransportPath{}, &Error{Reason: fmt.Sprintf("unknown transport path %q", name)}
	}
	return path, nil
}
