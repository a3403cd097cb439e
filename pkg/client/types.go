package client

import "encoding/json"

// InvokeRequest is the body for POST /v1/inference/invoke.
type InvokeRequest struct {
	ModelID     string          `json:"modelId"`
	Payload     json.RawMessage `json:"payload"`
	RoutingPath string          `json:"routingPath,omitempty"`
}

// InvokeResponse is the proxy's success envelope.
type InvokeResponse struct {
	Response    json.RawMessage `json:"response"`
	ModelID     string          `json:"modelId"`
	RoutingPath string          `json:"routingPath"`
}

// PathHealth is one path's circuit snapshot from GET /v1/health.
type PathHealth struct {
	Status              string `json:"status"`
	ConsecutiveFailures int    `json:"consecutiveFailures"`
}

// HealthResponse is the body of GET /v1/health.
type HealthResponse struct {
	Status string                `json:"status"`
	Paths  map[string]PathHealth `json:"paths"`
}

// APIError is the proxy's structured error envelope, surfaced as a Go error.
type APIError struct {
	Code      string `json:"code"`
	Message   string `json:"message"`
	Path      string `json:"path,omitempty"`
	RequestID string `json:"requestId"`
	Timestamp string `json:"timestamp"`

	HTTPStatus int `json:"-"`
}

func (e *APIError) Error() string {
	return e.Code + ": " + e.Message + " (request " + e.RequestID + ")"
}

type errorEnvelope struct {
	Error APIError `json:"error"`
}
