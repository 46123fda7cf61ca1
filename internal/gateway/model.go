package gateway

import (
	"errors"
	"fmt"

	"github.com/linnemanlabs/tandem/internal/backend"
	"github.com/linnemanlabs/tandem/internal/router"
)

// ErrInvalidRequest marks request validation failures.
var ErrInvalidRequest = errors.New("invalid request")

// Request is one inference call from a client.
type Request struct {
	TenantID      string         `json:"tenant_id"`
	Skill         string         `json:"skill"`
	Input         map[string]any `json:"input"`
	Context       map[string]any `json:"context,omitempty"`
	InteractionID string         `json:"interaction_id,omitempty"`
	Metadata      map[string]any `json:"metadata,omitempty"`
}

// Validate checks the required fields.
func (r *Request) Validate() error {
	switch {
	case r.TenantID == "":
		return fmt.Errorf("%w: tenant_id is required", ErrInvalidRequest)
	case r.Skill == "":
		return fmt.Errorf("%w: skill is required", ErrInvalidRequest)
	case r.Input == nil:
		return fmt.Errorf("%w: input is required", ErrInvalidRequest)
	}
	return nil
}

// Version describes which policy answered and how it was picked.
type Version struct {
	PolicyID         string   `json:"policy_id"`
	BaseModel        string   `json:"base_model"`
	RouterReason     string   `json:"router_reason"`
	ShadowCandidates []string `json:"shadow_candidates"`
}

// Response is built from the primary result only.
type Response struct {
	Decision      router.Decision `json:"decision"`
	Output        backend.Result  `json:"output"`
	Version       Version         `json:"version"`
	InteractionID string          `json:"interaction_id"`
}
