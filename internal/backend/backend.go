// Package backend calls model servers on behalf of a routing policy.
//
// Three transports are provided: HTTP (the model-serving contract), Anthropic
// Messages, and a stub for local runs. All of them return a Result whose
// metadata may carry token costs.
package backend

import (
	"context"
	"encoding/json"
	"fmt"
	"math"

	"github.com/linnemanlabs/tandem/internal/policy"
)

// Payload is the request body shared by every call for one inference request.
type Payload struct {
	TenantID      string         `json:"-"`
	InteractionID string         `json:"-"`
	Skill         string         `json:"skill"`
	Input         map[string]any `json:"input"`
	Context       map[string]any `json:"context,omitempty"`
}

// Result is what one backend call produced.
type Result struct {
	Text     string         `json:"text"`
	Metadata map[string]any `json:"metadata,omitempty"`
}

// Costs is the token accounting carried under metadata.costs.
type Costs struct {
	TokensIn  int `json:"tokens_in"`
	TokensOut int `json:"tokens_out"`
}

// Costs reads metadata.costs. Missing or malformed values count as zero.
func (r *Result) Costs() Costs {
	if r == nil {
		return Costs{}
	}
	raw, ok := r.Metadata["costs"].(map[string]any)
	if !ok {
		return Costs{}
	}
	return Costs{
		TokensIn:  toInt(raw["tokens_in"]),
		TokensOut: toInt(raw["tokens_out"]),
	}
}

func toInt(v any) int {
	switch n := v.(type) {
	case int:
		return n
	case int64:
		return int(n)
	case float64:
		if math.IsNaN(n) || math.IsInf(n, 0) {
			return 0
		}
		return int(n)
	case json.Number:
		if i, err := n.Int64(); err == nil {
			return int(i)
		}
		if f, err := n.Float64(); err == nil {
			return int(f)
		}
	}
	return 0
}

// Backend executes one inference call for a policy.
type Backend interface {
	Call(ctx context.Context, p policy.Policy, payload *Payload) (*Result, error)
}

// Func adapts a plain function to Backend.
type Func func(ctx context.Context, p policy.Policy, payload *Payload) (*Result, error)

// Call implements Backend.
func (f Func) Call(ctx context.Context, p policy.Policy, payload *Payload) (*Result, error) {
	return f(ctx, p, payload)
}

// CallError reports a transport failure or a non-2xx answer from a backend.
// StatusCode is zero for transport errors.
type CallError struct {
	PolicyID   string
	StatusCode int
	Body       string
	Err        error
}

func (e *CallError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("backend %s returned %d: %s", e.PolicyID, e.StatusCode, e.Body)
	}
	return fmt.Sprintf("backend %s: %v", e.PolicyID, e.Err)
}

func (e *CallError) Unwrap() error { return e.Err }
