package models

import (
	"encoding/json"
	"time"
)

// Transport path names used by the default configuration. Path tables are
// loaded from config, so core logic must not assume this is the full set.
const (
	PathInternet         = "internet"
	PathPrivateTunnel    = "private-tunnel"
	PathDedicatedCircuit = "dedicated-circuit"
)

// InferenceRequest is the immutable per-call value owned by the orchestrator.
type InferenceRequest struct {
	RequestID  string
	ModelID    string
	Payload    json.RawMessage
	PathMarker string // route marker from the inbound URL, may be empty
	ParamPath  string // explicit routingPath parameter, may be empty
	Principal  string
	ReceivedAt time.Time
}

// RetryConfig parameterizes the forwarding executor's backoff loop.
// Zero values fall back to the executor defaults.
type RetryConfig struct {
	MaxAttempts int     `toml:"max_attempts"`
	BaseDelayMs int     `toml:"base_delay_ms"`
	Multiplier  float64 `toml:"multiplier"`
	CapMs       int     `toml:"cap_ms"`
}

// TransportPath is one configured way of reaching the destination backend.
// Loaded once at startup; read-only afterwards.
type TransportPath struct {
	Name          string      `toml:"name"`
	Endpoint      string      `toml:"endpoint"`
	CredentialKey string      `toml:"credential_key"`
	AllowFailover bool        `toml:"allow_failover"`
	FailoverTo    string      `toml:"failover_to"`
	Retry         RetryConfig `toml:"retry"`
}

// Principal is a caller identity loaded from the principal table. Tokens are
// stored as SHA-256 hashes, never raw.
type Principal struct {
	Name               string   `toml:"name"`
	TokenSHA256        string   `toml:"token_sha256"`
	Paths              []string `toml:"paths"`
	RateLimitPerMinute int      `toml:"rate_limit_per_minute"`
}

// AllowedPath reports whether the principal may use the named transport path.
func (p *Principal) AllowedPath(name string) bool {
	for _, allowed := range p.Paths {
		if allowed == name {
			return true
		}
	}
	return false
}

// CachedCredential is a resolved backend credential. SecretMaterial never
// appears in logs, audit records, or responses.
type CachedCredential struct {
	Key            string
	SecretMaterial string
	FetchedAt      time.Time
	ExpiresAt      time.Time
}

// Expired reports whether the credential is past its TTL at the given time.
func (c *CachedCredential) Expired(now time.Time) bool {
	return !now.Before(c.ExpiresAt)
}

// Outcome classifies the terminal result of a routed call. Maps 1:1 to
// AuditRecord.Outcome and to the wire error codes.
type Outcome string

const (
	OutcomeSuccess      Outcome = "SUCCESS"
	OutcomeAuthError    Outcome = "AUTH_ERROR"
	OutcomeAuthzError   Outcome = "AUTHZ_ERROR"
	OutcomeNetworkError Outcome = "NETWORK_ERROR"
	OutcomeBackendError Outcome = "BACKEND_ERROR"
	OutcomeDataError    Outcome = "DATA_ERROR"
)

// AuditRecord is written exactly once per routed attempt. Append-only.
type AuditRecord struct {
	RequestID     string    `json:"request_id"`
	Path          string    `json:"path"`
	Principal     string    `json:"principal"`
	ModelID       string    `json:"model_id"`
	StartedAt     time.Time `json:"started_at"`
	CompletedAt   time.Time `json:"completed_at"`
	Outcome       Outcome   `json:"outcome"`
	HTTPStatus    int       `json:"http_status,omitempty"`
	RequestBytes  int       `json:"request_bytes"`
	ResponseBytes int       `json:"response_bytes"`
	Failover      bool      `json:"failover,omitempty"`
	ErrorDetail   string    `json:"error_detail,omitempty"`
}

// BackendResponse is the shaped result of a successful forwarded call.
type BackendResponse struct {
	Body        json.RawMessage
	ContentType string
	HTTPStatus  int
	Path        string
	Failover    bool
}
