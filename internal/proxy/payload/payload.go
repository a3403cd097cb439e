// Package payload validates and normalizes inference payloads for known
// model families before they cross the boundary. Payloads for unrecognized
// families pass through untouched; the proxy stays protocol-agnostic beyond
// the families it can check.
package payload

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/sashabaranov/go-openai"

	"github.com/crosspartition/inference-proxy/internal/shared/models"
)

// anthropicVersion is the wire version anthropic-family backends require in
// every invocation body.
const anthropicVersion = "bedrock-2023-05-31"

type chatPayload struct {
	Messages  []openai.ChatCompletionMessage `json:"messages"`
	MaxTokens int                            `json:"max_tokens,omitempty"`
}

// Normalize checks the payload against the model family and returns the
// bytes to forward. Malformed payloads for a recognized family are a
// DATA_ERROR; the request is never forwarded.
func Normalize(modelID string, raw json.RawMessage) (json.RawMessage, error) {
	switch {
	case isOpenAIFamily(modelID):
		if err := validateChat(raw); err != nil {
			return nil, err
		}
		return raw, nil
	case isAnthropicFamily(modelID):
		if err := validateChat(raw); err != nil {
			return nil, err
		}
		return injectAnthropicVersion(raw)
	default:
		return raw, nil
	}
}

func isOpenAIFamily(modelID string) bool {
	return strings.HasPrefix(modelID, "gpt-")
}

func isAnthropicFamily(modelID string) bool {
	return strings.HasPrefix(modelID, "claude-") || strings.Contains(modelID, "anthropic")
}

func validateChat(raw json.RawMessage) error {
	if len(raw) == 0 {
		return models.NewRouteError(models.OutcomeDataError, "payload is required for chat models")
	}

	var p chatPayload
	if err := json.Unmarshal(raw, &p); err != nil {
		return &models.RouteError{
			Outcome: models.OutcomeDataError,
			Detail:  "payload is not a valid chat request",
			Err:     err,
		}
	}
	if len(p.Messages) == 0 {
		return models.NewRouteError(models.OutcomeDataError, "payload has no messages")
	}
	for i, msg := range p.Messages {
		if msg.Role == "" {
			return models.NewRouteError(models.OutcomeDataError,
				fmt.Sprintf("message %d has no role", i))
		}
	}
	return nil
}

// injectAnthropicVersion adds the required anthropic_version field when it
// is missing, preserving all other payload fields as-is.
func injectAnthropicVersion(raw json.RawMessage) (json.RawMessage, error) {
	var body map[string]json.RawMessage
	if err := json.Unmarshal(raw, &body); err != nil {
		return nil, &models.RouteError{
			Outcome: models.OutcomeDataError,
			Detail:  "payload is not a JSON object",
			Err:     err,
		}
	}
	if _, ok := body["anthropic_version"]; ok {
		return raw, nil
	}

	version, _ := json.Marshal(anthropicVersion)
	body["anthropic_version"] = version

	out, err := json.Marshal(body)
	if err != nil {
		return nil, &models.RouteError{
			Outcome: models.OutcomeDataError,
			Detail:  "failed to normalize payload",
			Err:     err,
		}
	}
	return out, nil
}
