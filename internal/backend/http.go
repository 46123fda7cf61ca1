package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/linnemanlabs/tandem/internal/policy"
)

const (
	// DefaultTimeout bounds a single backend call.
	DefaultTimeout = 30 * time.Second

	maxResponseBytes = 4 << 20
	errSnippetBytes  = 512
)

// HTTP calls a model server exposing POST {base}/v1/infer.
type HTTP struct {
	endpoint string
	apiKey   string
	client   *http.Client
}

// NewHTTP returns an HTTP backend. A zero timeout uses DefaultTimeout and an
// empty apiKey sends no Authorization header.
func NewHTTP(baseURL, apiKey string, timeout time.Duration) *HTTP {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &HTTP{
		endpoint: strings.TrimRight(baseURL, "/") + "/v1/infer",
		apiKey:   apiKey,
		client: &http.Client{
			Timeout:   timeout,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		},
	}
}

type inferRequest struct {
	PolicyID string         `json:"policy_id"`
	Skill    string         `json:"skill"`
	Input    map[string]any `json:"input"`
	Context  map[string]any `json:"context"`
}

// Call implements Backend.
func (h *HTTP) Call(ctx context.Context, p policy.Policy, payload *Payload) (*Result, error) {
	reqCtx := payload.Context
	if reqCtx == nil {
		reqCtx = map[string]any{}
	}
	body, err := json.Marshal(inferRequest{
		PolicyID: p.ID,
		Skill:    payload.Skill,
		Input:    payload.Input,
		Context:  reqCtx,
	})
	if err != nil {
		return nil, &CallError{PolicyID: p.ID, Err: fmt.Errorf("marshal request: %w", err)}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, h.endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, &CallError{PolicyID: p.ID, Err: fmt.Errorf("create request: %w", err)}
	}
	req.Header.Set("Content-Type", "application/json")
	if h.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+h.apiKey)
	}
	if payload.InteractionID != "" {
		req.Header.Set("X-Interaction-Id", payload.InteractionID)
	}

	resp, err := h.client.Do(req) //nolint:gosec // endpoint is from trusted config
	if err != nil {
		return nil, &CallError{PolicyID: p.ID, Err: fmt.Errorf("post: %w", err)}
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, errSnippetBytes))
		return nil, &CallError{
			PolicyID:   p.ID,
			StatusCode: resp.StatusCode,
			Body:       string(snippet),
		}
	}

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, &CallError{PolicyID: p.ID, Err: fmt.Errorf("read response: %w", err)}
	}
	return Normalize(raw), nil
}
