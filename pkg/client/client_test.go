package client

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestInvoke_Success(t *testing.T) {
	var gotPath, gotAuth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotAuth = r.Header.Get("Authorization")
		json.NewEncoder(w).Encode(InvokeResponse{
			Response:    json.RawMessage(`{"completion":"ok"}`),
			ModelID:     "claude-3-sonnet",
			RoutingPath: "internet",
		})
	}))
	defer srv.Close()

	c := New(srv.URL, "tok-123")
	resp, err := c.Invoke(context.Background(), InvokeRequest{
		ModelID: "claude-3-sonnet",
		Payload: json.RawMessage(`{"messages":[{"role":"user","content":"hi"}]}`),
	})
	require.NoError(t, err)
	require.Equal(t, "/v1/inference/invoke", gotPath)
	require.Equal(t, "Bearer tok-123", gotAuth)
	require.Equal(t, "internet", resp.RoutingPath)
	require.JSONEq(t, `{"completion":"ok"}`, string(resp.Response))
}

func TestInvoke_RoutingPathSelectsEndpoint(t *testing.T) {
	var gotPath string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		json.NewEncoder(w).Encode(InvokeResponse{RoutingPath: "private-tunnel"})
	}))
	defer srv.Close()

	c := New(srv.URL, "tok-123")
	_, err := c.Invoke(context.Background(), InvokeRequest{
		ModelID:     "claude-3-sonnet",
		Payload:     json.RawMessage(`{}`),
		RoutingPath: "private-tunnel",
	})
	require.NoError(t, err)
	require.Equal(t, "/v1/private-tunnel/inference/invoke", gotPath)
}

func TestInvoke_ErrorEnvelope(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
		json.NewEncoder(w).Encode(errorEnvelope{Error: APIError{
			Code:      "AUTHZ_ERROR",
			Message:   "principal svc-beta is not permitted to use path internet",
			RequestID: "req-42",
		}})
	}))
	defer srv.Close()

	c := New(srv.URL, "tok-123")
	_, err := c.Invoke(context.Background(), InvokeRequest{ModelID: "m", Payload: json.RawMessage(`{}`)})
	require.Error(t, err)

	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	require.Equal(t, "AUTHZ_ERROR", apiErr.Code)
	require.Equal(t, http.StatusForbidden, apiErr.HTTPStatus)
	require.Contains(t, apiErr.Error(), "req-42")
}

func TestInvoke_NonEnvelopeErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "rate limit exceeded", http.StatusTooManyRequests)
	}))
	defer srv.Close()

	c := New(srv.URL, "tok-123")
	_, err := c.Invoke(context.Background(), InvokeRequest{ModelID: "m", Payload: json.RawMessage(`{}`)})
	require.Error(t, err)
	require.Contains(t, err.Error(), "429")
}

func TestHealth(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/v1/health", r.URL.Path)
		json.NewEncoder(w).Encode(HealthResponse{
			Status: "operational",
			Paths: map[string]PathHealth{
				"internet": {Status: "CLOSED"},
			},
		})
	}))
	defer srv.Close()

	c := New(srv.URL, "tok-123")
	health, err := c.Health(context.Background())
	require.NoError(t, err)
	require.Equal(t, "operational", health.Status)
	require.Equal(t, "CLOSED", health.Paths["internet"].Status)
}
