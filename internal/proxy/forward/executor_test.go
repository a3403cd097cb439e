package forward

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/crosspartition/inference-proxy/internal/shared/models"
)

type recorderStub struct {
	successes int64
	failures  int64
}

func (r *recorderStub) RecordOutcome(success bool) {
	if success {
		atomic.AddInt64(&r.successes, 1)
	} else {
		atomic.AddInt64(&r.failures, 1)
	}
}

type invalidatorStub struct {
	keys []string
}

func (i *invalidatorStub) Invalidate(key string) {
	i.keys = append(i.keys, key)
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testRequest() *models.InferenceRequest {
	return &models.InferenceRequest{
		RequestID: "req-1",
		ModelID:   "claude-sonnet",
		Payload:   json.RawMessage(`{"messages":[{"role":"user","content":"hi"}]}`),
		Principal: "tester",
	}
}

func testPath(endpoint string) models.TransportPath {
	return models.TransportPath{
		Name:          "private-tunnel",
		Endpoint:      endpoint,
		CredentialKey: "tunnel-creds",
		Retry:         models.RetryConfig{BaseDelayMs: 1, CapMs: 5},
	}
}

func testCred() *models.CachedCredential {
	return &models.CachedCredential{Key: "tunnel-creds", SecretMaterial: "token-xyz"}
}

func TestExecute_Success(t *testing.T) {
	var gotAuth, gotPath string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		gotPath = r.URL.Path
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"completion":"ok"}`))
	}))
	defer srv.Close()

	rec := &recorderStub{}
	e := NewExecutor(srv.Client(), &invalidatorStub{}, testLogger())

	resp, err := e.Execute(context.Background(), testRequest(), testPath(srv.URL), testCred(), rec)
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.HTTPStatus)
	require.JSONEq(t, `{"completion":"ok"}`, string(resp.Body))
	require.Equal(t, "Bearer token-xyz", gotAuth)
	require.Equal(t, "/model/claude-sonnet/invoke", gotPath)
	require.EqualValues(t, 1, rec.successes)
	require.EqualValues(t, 0, rec.failures)
}

func TestExecute_RetriesThrottlingThenSucceeds(t *testing.T) {
	var calls int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt64(&calls, 1) <= 2 {
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		w.Write([]byte(`{"completion":"ok"}`))
	}))
	defer srv.Close()

	rec := &recorderStub{}
	e := NewExecutor(srv.Client(), &invalidatorStub{}, testLogger())

	resp, err := e.Execute(context.Background(), testRequest(), testPath(srv.URL), testCred(), rec)
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.HTTPStatus)
	// One external call, three attempts internally, every one recorded.
	require.EqualValues(t, 3, calls)
	require.EqualValues(t, 2, rec.failures)
	require.EqualValues(t, 1, rec.successes)
}

func TestExecute_NoRetryOnValidationError(t *testing.T) {
	var calls int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt64(&calls, 1)
		w.WriteHeader(http.StatusBadRequest)
	}))
	defer srv.Close()

	rec := &recorderStub{}
	e := NewExecutor(srv.Client(), &invalidatorStub{}, testLogger())

	_, err := e.Execute(context.Background(), testRequest(), testPath(srv.URL), testCred(), rec)
	require.Error(t, err)

	var rerr *models.RouteError
	require.ErrorAs(t, err, &rerr)
	require.Equal(t, models.OutcomeDataError, rerr.Outcome)
	require.EqualValues(t, 1, calls)
}

func TestExecute_RejectedCredentialInvalidatesCache(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer srv.Close()

	inv := &invalidatorStub{}
	e := NewExecutor(srv.Client(), inv, testLogger())

	_, err := e.Execute(context.Background(), testRequest(), testPath(srv.URL), testCred(), &recorderStub{})
	require.Error(t, err)

	var rerr *models.RouteError
	require.ErrorAs(t, err, &rerr)
	require.Equal(t, models.OutcomeAuthError, rerr.Outcome)
	require.False(t, rerr.Transient)
	require.Equal(t, []string{"tunnel-creds"}, inv.keys)
}

func TestExecute_ExhaustsRetriesOnBackendFailure(t *testing.T) {
	var calls int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt64(&calls, 1)
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	e := NewExecutor(srv.Client(), &invalidatorStub{}, testLogger())

	_, err := e.Execute(context.Background(), testRequest(), testPath(srv.URL), testCred(), &recorderStub{})
	require.Error(t, err)

	var rerr *models.RouteError
	require.ErrorAs(t, err, &rerr)
	require.Equal(t, models.OutcomeBackendError, rerr.Outcome)
	require.EqualValues(t, 3, calls)
}

func TestExecute_DeadlineBoundsWholeCall(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(5 * time.Second):
		}
	}))
	defer srv.Close()

	e := NewExecutor(srv.Client(), &invalidatorStub{}, testLogger())

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	start := time.Now()
	_, err := e.Execute(ctx, testRequest(), testPath(srv.URL), testCred(), &recorderStub{})
	elapsed := time.Since(start)

	require.Error(t, err)
	var rerr *models.RouteError
	require.ErrorAs(t, err, &rerr)
	require.Equal(t, models.OutcomeNetworkError, rerr.Outcome)
	// The call returns promptly once the deadline fires; it does not wait
	// for retries or the abandoned attempt to unwind.
	require.Less(t, elapsed, time.Second)
}

func TestExecute_ConnectionFailureIsNetworkError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	srv.Close() // nothing listening

	e := NewExecutor(&http.Client{Timeout: time.Second}, &invalidatorStub{}, testLogger())

	_, err := e.Execute(context.Background(), testRequest(), testPath(srv.URL), testCred(), &recorderStub{})
	require.Error(t, err)

	var rerr *models.RouteError
	require.ErrorAs(t, err, &rerr)
	require.Equal(t, models.OutcomeNetworkError, rerr.Outcome)
}
