package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/url"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/crosspartition/inference-proxy/internal/proxy/orchestrator"
	"github.com/crosspartition/inference-proxy/internal/proxy/payload"
	"github.com/crosspartition/inference-proxy/internal/shared/models"
)

// InvokeRequest is the inbound body for POST .../inference/invoke.
type InvokeRequest struct {
	ModelID     string          `json:"modelId"`
	Payload     json.RawMessage `json:"payload"`
	RoutingPath string          `json:"routingPath,omitempty"`
}

// InvokeResponse has an identical shape regardless of which path served the
// call; RoutingPath is the observability marker.
type InvokeResponse struct {
	Response    json.RawMessage `json:"response"`
	ModelID     string          `json:"modelId"`
	RoutingPath string          `json:"routingPath"`
}

type Handler struct {
	orch       *orchestrator.Orchestrator
	maxPayload int64
}

func NewHandler(orch *orchestrator.Orchestrator, maxPayload int64) *Handler {
	return &Handler{orch: orch, maxPayload: maxPayload}
}

// HandleInvoke handles POST /v1/inference/invoke and
// POST /v1/{path}/inference/invoke. The bare route defaults to the internet
// path unless the body names one via routingPath; any other configured path
// appears as the {path} segment.
func (h *Handler) HandleInvoke(w http.ResponseWriter, r *http.Request) {
	marker := chi.URLParam(r, "path")

	principal := PrincipalFrom(r.Context())
	req := &models.InferenceRequest{
		RequestID:  RequestIDFrom(r.Context()),
		PathMarker: marker,
		ReceivedAt: time.Now(),
	}
	if principal != nil {
		req.Principal = principal.Name
	}

	r.Body = http.MaxBytesReader(w, r.Body, h.maxPayload)
	var body InvokeRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		rerr := &models.RouteError{
			Outcome: models.OutcomeDataError,
			Detail:  "invalid request body",
			Err:     err,
		}
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			rerr.Detail = "request payload exceeds size limit"
		}
		h.orch.RecordRejection(req, rerr)
		writeError(w, r, rerr, marker)
		return
	}

	req.ModelID = body.ModelID
	req.Payload = body.Payload
	req.ParamPath = body.RoutingPath

	// The bare route serves the internet path unless the body names one
	// explicitly.
	if marker == "" && req.ParamPath == "" {
		marker = models.PathInternet
		req.PathMarker = marker
	}

	if req.ModelID == "" {
		rerr := models.NewRouteError(models.OutcomeDataError, "modelId is required")
		h.orch.RecordRejection(req, rerr)
		writeError(w, r, rerr, marker)
		return
	}

	normalized, err := payload.Normalize(req.ModelID, req.Payload)
	if err != nil {
		rerr := asRouteError(err)
		h.orch.RecordRejection(req, rerr)
		writeError(w, r, rerr, marker)
		return
	}
	req.Payload = normalized

	resp, err := h.orch.Invoke(r.Context(), req, principal)
	if err != nil {
		writeError(w, r, asRouteError(err), marker)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("X-Routing-Path", resp.Path)
	if resp.Failover {
		w.Header().Set("X-Failover", "true")
	}
	json.NewEncoder(w).Encode(InvokeResponse{
		Response:    resp.Body,
		ModelID:     req.ModelID,
		RoutingPath: resp.Path,
	})
}

// HandleHealth returns the per-path circuit snapshot.
func (h *Handler) HandleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{
		"status": "operational",
		"paths":  h.orch.Health(),
	})
}

// pathInfo describes one configured transport path without exposing full
// endpoint URLs or credential references.
type pathInfo struct {
	Name          string `json:"name"`
	EndpointHost  string `json:"endpointHost"`
	AllowFailover bool   `json:"allowFailover"`
	FailoverTo    string `json:"failoverTo,omitempty"`
}

// HandleRoutingInfo returns the configured routing topology.
func (h *Handler) HandleRoutingInfo(w http.ResponseWriter, r *http.Request) {
	paths := h.orch.Paths()
	infos := make([]pathInfo, 0, len(paths))
	for _, p := range paths {
		host := ""
		if u, err := url.Parse(p.Endpoint); err == nil {
			host = u.Host
		}
		infos = append(infos, pathInfo{
			Name:          p.Name,
			EndpointHost:  host,
			AllowFailover: p.AllowFailover,
			FailoverTo:    p.FailoverTo,
		})
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{
		"message": "cross-boundary inference routing proxy",
		"paths":   infos,
	})
}

func writeError(w http.ResponseWriter, r *http.Request, rerr *models.RouteError, pathName string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(models.HTTPStatusFor(rerr.Outcome))
	json.NewEncoder(w).Encode(models.ErrorEnvelope{
		Error: models.ErrorBody{
			Code:      string(rerr.Outcome),
			Message:   rerr.Detail,
			Path:      pathName,
			RequestID: RequestIDFrom(r.Context()),
			Timestamp: time.Now().UTC().Format(time.RFC3339),
		},
	})
}

func asRouteError(err error) *models.RouteError {
	var rerr *models.RouteError
	if errors.As(err, &rerr) {
		return rerr
	}
	return &models.RouteError{Outcome: models.OutcomeBackendError, Detail: "request failed", Err: err}
}
