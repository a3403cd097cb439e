// Package orchestrator composes the full cross-boundary request lifecycle:
// classify, authorize, circuit check, credential resolution, forwarding, and
// audit emission. Every inbound request produces exactly one audit record,
// plus one more for an explicit failover attempt.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/crosspartition/inference-proxy/internal/proxy/audit"
	"github.com/crosspartition/inference-proxy/internal/proxy/circuit"
	"github.com/crosspartition/inference-proxy/internal/proxy/classify"
	"github.com/crosspartition/inference-proxy/internal/proxy/forward"
	"github.com/crosspartition/inference-proxy/internal/shared/models"
)

// CredentialResolver resolves per-path credentials. Satisfied by
// *credentials.Provider.
type CredentialResolver interface {
	Resolve(ctx context.Context, key string) (*models.CachedCredential, error)
}

// Forwarder executes the outbound call. Satisfied by *forward.Executor.
type Forwarder interface {
	Execute(ctx context.Context, req *models.InferenceRequest, path models.TransportPath, cred *models.CachedCredential, breaker forward.OutcomeRecorder) (*models.BackendResponse, error)
}

// Orchestrator owns the shared mutable state (circuit registry, credential
// cache) by reference and drives each request through the fixed sequence.
type Orchestrator struct {
	paths      map[string]models.TransportPath
	classifier *classify.Classifier
	circuits   *circuit.Registry
	creds      CredentialResolver
	exec       Forwarder
	audit      *audit.Writer
	timeout    time.Duration
	log        *slog.Logger
	now        func() time.Time
}

func New(paths map[string]models.TransportPath, circuits *circuit.Registry, creds CredentialResolver, exec Forwarder, auditWriter *audit.Writer, timeout time.Duration, log *slog.Logger) *Orchestrator {
	// Pre-create breakers so the health snapshot covers every configured
	// path from the start.
	for name := range paths {
		circuits.For(name)
	}
	return &Orchestrator{
		paths:      paths,
		classifier: classify.New(paths),
		circuits:   circuits,
		creds:      creds,
		exec:       exec,
		audit:      auditWriter,
		timeout:    timeout,
		log:        log,
		now:        time.Now,
	}
}

// Health returns the per-path circuit snapshot.
func (o *Orchestrator) Health() map[string]circuit.Snapshot {
	return o.circuits.Snapshots()
}

// Paths returns the configured transport path table.
func (o *Orchestrator) Paths() map[string]models.TransportPath {
	return o.paths
}

// Invoke routes one inference request end to end. The returned error, if
// any, is always a *models.RouteError.
func (o *Orchestrator) Invoke(ctx context.Context, req *models.InferenceRequest, principal *models.Principal) (*models.BackendResponse, error) {
	// The per-call bound covers classification through the last retry.
	ctx, cancel := context.WithTimeout(ctx, o.timeout)
	defer cancel()

	started := o.now()

	path, err := o.classifier.Classify(req.PathMarker, req.ParamPath)
	if err != nil {
		rerr := classificationError(req, err)
		o.record(req, req.PathMarker, started, false, rerr)
		return nil, rerr
	}

	if principal == nil {
		rerr := models.NewRouteError(models.OutcomeAuthError, "request has no authenticated principal")
		o.record(req, path.Name, started, false, rerr)
		return nil, rerr
	}
	if !principal.AllowedPath(path.Name) {
		rerr := models.NewRouteError(models.OutcomeAuthzError,
			fmt.Sprintf("principal %s is not permitted to use path %s", principal.Name, path.Name))
		o.record(req, path.Name, started, false, rerr)
		return nil, rerr
	}

	resp, rerr := o.routeOn(ctx, req, path, false)
	if rerr == nil {
		return resp, nil
	}

	// Cross-path failover is an explicit, per-path opt-in. Without it a
	// failure on the classified path is terminal for the request.
	if alt, ok := o.failoverTarget(path, principal, rerr); ok {
		o.log.Warn("attempting failover",
			"request_id", req.RequestID, "from", path.Name, "to", alt.Name, "cause", rerr.Detail)
		resp, altErr := o.routeOn(ctx, req, alt, true)
		if altErr == nil {
			return resp, nil
		}
		return nil, altErr
	}

	return nil, rerr
}

// routeOn performs the circuit check, credential resolution, and forwarded
// call for a single path, and emits that path's audit record.
func (o *Orchestrator) routeOn(ctx context.Context, req *models.InferenceRequest, path models.TransportPath, failover bool) (*models.BackendResponse, *models.RouteError) {
	started := o.now()
	breaker := o.circuits.For(path.Name)

	decision := breaker.Allow()
	if decision == circuit.Reject {
		rerr := models.NewRouteError(models.OutcomeNetworkError,
			fmt.Sprintf("circuit open for path %s", path.Name))
		o.record(req, path.Name, started, failover, rerr)
		return nil, rerr
	}
	isProbe := decision == circuit.ProceedAsProbe
	if isProbe {
		// A probe gets a single attempt; its outcome decides the circuit.
		path.Retry.MaxAttempts = 1
	}

	cred, err := o.creds.Resolve(ctx, path.CredentialKey)
	if err != nil {
		if isProbe {
			breaker.CancelProbe()
		}
		rerr := asRouteError(err)
		o.record(req, path.Name, started, failover, rerr)
		return nil, rerr
	}

	resp, err := o.exec.Execute(ctx, req, path, cred, breaker)
	if err != nil {
		rerr := asRouteError(err)
		o.record(req, path.Name, started, failover, rerr)
		return nil, rerr
	}

	resp.Path = path.Name
	resp.Failover = failover
	o.recordSuccess(req, path.Name, started, resp, failover)
	return resp, nil
}

// RecordRejection emits the audit record for a request rejected before it
// reached Invoke (malformed body, payload too large). Audit completeness
// covers those too.
func (o *Orchestrator) RecordRejection(req *models.InferenceRequest, rerr *models.RouteError) {
	o.record(req, req.PathMarker, o.now(), false, rerr)
}

func (o *Orchestrator) failoverTarget(path models.TransportPath, principal *models.Principal, rerr *models.RouteError) (models.TransportPath, bool) {
	if !path.AllowFailover || path.FailoverTo == "" {
		return models.TransportPath{}, false
	}
	// Only path-level failures justify trying elsewhere; auth, authz, and
	// data failures would fail identically on any path.
	if rerr.Outcome != models.OutcomeNetworkError && rerr.Outcome != models.OutcomeBackendError {
		return models.TransportPath{}, false
	}
	alt, ok := o.paths[path.FailoverTo]
	if !ok {
		return models.TransportPath{}, false
	}
	// The alternate path needs the same principal authorization as the
	// classified one; failover never widens access.
	if !principal.AllowedPath(alt.Name) {
		return models.TransportPath{}, false
	}
	return alt, true
}

func (o *Orchestrator) record(req *models.InferenceRequest, pathName string, started time.Time, failover bool, rerr *models.RouteError) {
	o.audit.Record(&models.AuditRecord{
		RequestID:    req.RequestID,
		Path:         pathName,
		Principal:    req.Principal,
		ModelID:      req.ModelID,
		StartedAt:    started,
		CompletedAt:  o.now(),
		Outcome:      rerr.Outcome,
		HTTPStatus:   rerr.Status,
		RequestBytes: len(req.Payload),
		Failover:     failover,
		ErrorDetail:  rerr.Detail,
	})
}

func (o *Orchestrator) recordSuccess(req *models.InferenceRequest, pathName string, started time.Time, resp *models.BackendResponse, failover bool) {
	o.audit.Record(&models.AuditRecord{
		RequestID:     req.RequestID,
		Path:          pathName,
		Principal:     req.Principal,
		ModelID:       req.ModelID,
		StartedAt:     started,
		CompletedAt:   o.now(),
		Outcome:       models.OutcomeSuccess,
		HTTPStatus:    resp.HTTPStatus,
		RequestBytes:  len(req.Payload),
		ResponseBytes: len(resp.Body),
		Failover:      failover,
	})
}

// classificationError maps a classifier rejection to the taxonomy: a request
// naming no path at all is an authentication-policy violation (deny by
// default); naming an unknown or conflicting path is a data problem.
func classificationError(req *models.InferenceRequest, err error) *models.RouteError {
	outcome := models.OutcomeDataError
	if req.PathMarker == "" && req.ParamPath == "" {
		outcome = models.OutcomeAuthError
	}
	return &models.RouteError{Outcome: outcome, Detail: err.Error(), Err: err}
}

func asRouteError(err error) *models.RouteError {
	var rerr *models.RouteError
	if errors.As(err, &rerr) {
		return rerr
	}
	return &models.RouteError{
		Outcome: models.OutcomeBackendError,
		Detail:  "forwarding failed",
		Err:     err,
	}
}
