// Package forward performs the outbound call to the destination backend
// with bounded, transient-only retries.
package forward

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/crosspartition/inference-proxy/internal/shared/models"
)

// OutcomeRecorder receives the result of every attempt, including
// intermediate retries. Satisfied by *circuit.Breaker.
type OutcomeRecorder interface {
	RecordOutcome(success bool)
}

// CredentialInvalidator drops a cached credential the backend rejected.
// Satisfied by *credentials.Provider.
type CredentialInvalidator interface {
	Invalidate(key string)
}

// Executor issues the forwarded HTTP call for a transport path.
type Executor struct {
	client *http.Client
	creds  CredentialInvalidator
	log    *slog.Logger
}

func NewExecutor(client *http.Client, creds CredentialInvalidator, log *slog.Logger) *Executor {
	if client == nil {
		client = &http.Client{Timeout: 60 * time.Second}
	}
	return &Executor{client: client, creds: creds, log: log}
}

// Execute forwards the request over the given path, retrying transient
// failures per the path's policy. Every attempt's outcome is recorded in the
// breaker. The overall call is bounded by ctx's deadline: when it fires
// mid-retry, the current attempt and any scheduled retry are abandoned
// immediately.
func (e *Executor) Execute(ctx context.Context, req *models.InferenceRequest, path models.TransportPath, cred *models.CachedCredential, breaker OutcomeRecorder) (*models.BackendResponse, error) {
	policy := PolicyFor(path.Retry)

	var lastErr *models.RouteError
	for attempt := 1; attempt <= policy.MaxAttempts; attempt++ {
		resp, rerr := e.attempt(ctx, req, path, cred)
		breaker.RecordOutcome(rerr == nil)
		if rerr == nil {
			if attempt > 1 {
				e.log.Info("forward succeeded after retry",
					"request_id", req.RequestID, "path", path.Name, "attempts", attempt)
			}
			return resp, nil
		}

		lastErr = rerr
		if !rerr.Transient || attempt == policy.MaxAttempts {
			break
		}

		delay := policy.Delay(attempt)
		e.log.Warn("forward attempt failed, backing off",
			"request_id", req.RequestID, "path", path.Name,
			"attempt", attempt, "delay", delay, "error", rerr.Detail)

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, &models.RouteError{
				Outcome: models.OutcomeNetworkError,
				Detail:  "call deadline reached during retry backoff",
				Err:     ctx.Err(),
			}
		case <-timer.C:
		}
	}

	return nil, lastErr
}

func (e *Executor) attempt(ctx context.Context, req *models.InferenceRequest, path models.TransportPath, cred *models.CachedCredential) (*models.BackendResponse, *models.RouteError) {
	endpoint := strings.TrimRight(path.Endpoint, "/") + "/model/" + url.PathEscape(req.ModelID) + "/invoke"

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(req.Payload))
	if err != nil {
		return nil, &models.RouteError{
			Outcome: models.OutcomeDataError,
			Detail:  "failed to build backend request",
			Err:     err,
		}
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+cred.SecretMaterial)
	httpReq.Header.Set("X-Request-ID", req.RequestID)
	httpReq.Header.Set("X-Routing-Path", path.Name)

	httpResp, err := e.client.Do(httpReq)
	if err != nil {
		if ctx.Err() != nil {
			// The per-call deadline fired; retrying cannot help.
			return nil, &models.RouteError{
				Outcome: models.OutcomeNetworkError,
				Detail:  "call deadline reached contacting backend",
				Err:     ctx.Err(),
			}
		}
		return nil, &models.RouteError{
			Outcome:   models.OutcomeNetworkError,
			Detail:    fmt.Sprintf("transport failure on path %s", path.Name),
			Transient: true,
			Err:       err,
		}
	}
	defer httpResp.Body.Close()

	body, err := io.ReadAll(httpResp.Body)
	if err != nil {
		return nil, &models.RouteError{
			Outcome:   models.OutcomeNetworkError,
			Detail:    "failed reading backend response",
			Transient: true,
			Err:       err,
		}
	}

	switch {
	case httpResp.StatusCode >= 200 && httpResp.StatusCode < 300:
		return &models.BackendResponse{
			Body:        body,
			ContentType: httpResp.Header.Get("Content-Type"),
			HTTPStatus:  httpResp.StatusCode,
			Path:        path.Name,
		}, nil

	case httpResp.StatusCode == http.StatusUnauthorized || httpResp.StatusCode == http.StatusForbidden:
		// Backend rejected the credential as stale; drop it so the next
		// call refetches from the store.
		e.creds.Invalidate(cred.Key)
		return nil, &models.RouteError{
			Outcome: models.OutcomeAuthError,
			Status:  httpResp.StatusCode,
			Detail:  fmt.Sprintf("backend rejected credential (status %d)", httpResp.StatusCode),
		}

	case httpResp.StatusCode == http.StatusTooManyRequests:
		return nil, &models.RouteError{
			Outcome:   models.OutcomeBackendError,
			Status:    httpResp.StatusCode,
			Detail:    "backend throttled the request",
			Transient: true,
		}

	case httpResp.StatusCode >= 500:
		return nil, &models.RouteError{
			Outcome:   models.OutcomeBackendError,
			Status:    httpResp.StatusCode,
			Detail:    fmt.Sprintf("backend service failure (status %d)", httpResp.StatusCode),
			Transient: true,
		}

	default:
		// Remaining 4xx: the backend judged the request itself invalid.
		return nil, &models.RouteError{
			Outcome: models.OutcomeDataError,
			Status:  httpResp.StatusCode,
			Detail:  fmt.Sprintf("backend rejected request (status %d)", httpResp.StatusCode),
		}
	}
}
