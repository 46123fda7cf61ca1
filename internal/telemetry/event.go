// Package telemetry builds one output event per executed policy and submits
// it to the ingestion sink, alongside the local shadow audit trail.
package telemetry

import (
	"fmt"
	"time"

	"github.com/linnemanlabs/tandem/internal/backend"
	"github.com/linnemanlabs/tandem/internal/router"
)

// StatusShadow is the event status of every shadow execution.
const StatusShadow = "shadow"

// Output is the text a policy produced.
type Output struct {
	Text string `json:"text"`
}

// Timings carries the wall-clock cost of one backend call.
type Timings struct {
	MsTotal int `json:"ms_total"`
}

// Version identifies what produced an output. ShadowOf and Comparison are
// only set on shadow events.
type Version struct {
	PolicyID      string          `json:"policy_id"`
	BaseModel     string          `json:"base_model"`
	Adapter       string          `json:"adapter,omitempty"`
	PromptVersion string          `json:"prompt_version,omitempty"`
	Status        string          `json:"status"`
	ShadowOf      string          `json:"shadow_of,omitempty"`
	Comparison    *router.Verdict `json:"comparison,omitempty"`
}

// OutputEvent is the wire record accepted by the collector's
// /v1/interaction.output endpoint.
type OutputEvent struct {
	TenantID       string         `json:"tenant_id"`
	InteractionID  string         `json:"interaction_id"`
	Output         Output         `json:"output"`
	Timings        Timings        `json:"timings"`
	Costs          backend.Costs  `json:"costs"`
	Version        Version        `json:"version"`
	IdempotencyKey string         `json:"idempotency_key"`
	Metadata       map[string]any `json:"metadata,omitempty"`
	TraceID        string         `json:"trace_id,omitempty"`
	CreatedAt      time.Time      `json:"created_at"`
}

// RequestContext is the per-request data shared by every event.
type RequestContext struct {
	TenantID      string
	InteractionID string
	Skill         string
	Input         map[string]any
	Metadata      map[string]any
	TraceID       string
}

// IdempotencyKey is unique per interaction, policy and status, and stable
// across retries of the same submission.
func IdempotencyKey(interactionID, policyID, status string) string {
	return fmt.Sprintf("%s:%s:%s", interactionID, policyID, status)
}

// msTotal converts latency to whole milliseconds, never below 1.
func msTotal(seconds float64) int {
	ms := int(seconds * 1000)
	if ms < 1 {
		return 1
	}
	return ms
}

// NewOutputEvent builds the event for one execution record.
func NewOutputEvent(rc RequestContext, rec router.ExecutionRecord, status string, now time.Time) OutputEvent {
	return OutputEvent{
		TenantID:      rc.TenantID,
		InteractionID: rc.InteractionID,
		Output:        Output{Text: rec.Result.Text},
		Timings:       Timings{MsTotal: msTotal(rec.LatencySeconds)},
		Costs:         rec.Result.Costs(),
		Version: Version{
			PolicyID:      rec.Policy.ID,
			BaseModel:     rec.Policy.BaseModel,
			Adapter:       rec.Policy.AdapterRef,
			PromptVersion: rec.Policy.PromptVersion,
			Status:        status,
		},
		IdempotencyKey: IdempotencyKey(rc.InteractionID, rec.Policy.ID, status),
		Metadata:       rc.Metadata,
		TraceID:        rc.TraceID,
		CreatedAt:      now.UTC(),
	}
}

// NewShadowEvent builds the event for a shadow record compared against the
// primary policy.
func NewShadowEvent(rc RequestContext, rec router.ExecutionRecord, primaryID string, v router.Verdict, now time.Time) OutputEvent {
	ev := NewOutputEvent(rc, rec, StatusShadow, now)
	ev.Version.ShadowOf = primaryID
	ev.Version.Comparison = &v
	return ev
}
