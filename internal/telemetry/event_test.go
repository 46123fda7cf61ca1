package telemetry

import (
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/linnemanlabs/tandem/internal/backend"
	"github.com/linnemanlabs/tandem/internal/policy"
	"github.com/linnemanlabs/tandem/internal/router"
)

func record(id string, text string, latency float64, md map[string]any) router.ExecutionRecord {
	return router.ExecutionRecord{
		Policy:         policy.Policy{ID: id, Status: policy.StatusActive, BaseModel: "llama", AdapterRef: "lora-" + id},
		Result:         &backend.Result{Text: text, Metadata: md},
		LatencySeconds: latency,
	}
}

func TestNewOutputEvent(t *testing.T) {
	t.Parallel()

	rc := RequestContext{TenantID: "acme", InteractionID: "123", Metadata: map[string]any{"thread_id": "t1"}}
	rec := record("support@v1", "hello", 0.123, map[string]any{"costs": map[string]any{"tokens_in": 10, "tokens_out": 20}})

	ev := NewOutputEvent(rc, rec, "active", time.Unix(0, 0))

	if ev.Timings.MsTotal != 123 {
		t.Errorf("ms_total = %d, want 123", ev.Timings.MsTotal)
	}
	if ev.Costs != (backend.Costs{TokensIn: 10, TokensOut: 20}) {
		t.Errorf("costs = %+v", ev.Costs)
	}
	if ev.Metadata["thread_id"] != "t1" {
		t.Errorf("metadata = %v", ev.Metadata)
	}
	if ev.IdempotencyKey != "123:support@v1:active" {
		t.Errorf("idempotency_key = %q", ev.IdempotencyKey)
	}
	if ev.Version.Adapter != "lora-support@v1" || ev.Version.ShadowOf != "" || ev.Version.Comparison != nil {
		t.Errorf("version = %+v", ev.Version)
	}
}

func TestNewOutputEvent_MsTotalFloor(t *testing.T) {
	t.Parallel()

	for _, latency := range []float64{0, 0.0001, -1} {
		ev := NewOutputEvent(RequestContext{}, record("p", "", latency, nil), "active", time.Now())
		if ev.Timings.MsTotal != 1 {
			t.Errorf("latency %v: ms_total = %d, want 1", latency, ev.Timings.MsTotal)
		}
	}
}

func TestNewShadowEvent(t *testing.T) {
	t.Parallel()

	ev := NewShadowEvent(RequestContext{InteractionID: "i"}, record("s1", "x", 0.5, nil), "p1",
		router.Verdict{Match: false, LengthDelta: -3}, time.Now())

	if ev.Version.Status != StatusShadow || ev.Version.ShadowOf != "p1" {
		t.Errorf("version = %+v", ev.Version)
	}
	if ev.Version.Comparison == nil || ev.Version.Comparison.LengthDelta != -3 {
		t.Errorf("comparison = %+v", ev.Version.Comparison)
	}
	if ev.IdempotencyKey != "i:s1:shadow" {
		t.Errorf("idempotency_key = %q", ev.IdempotencyKey)
	}
}

func TestIdempotencyKey_Stable(t *testing.T) {
	t.Parallel()

	a := IdempotencyKey("iid", "p", "shadow")
	b := IdempotencyKey("iid", "p", "shadow")
	if a != b {
		t.Errorf("keys differ: %q vs %q", a, b)
	}
	if IdempotencyKey("iid", "p", "active") == a {
		t.Error("status must change the key")
	}
	if IdempotencyKey("iid", "q", "shadow") == a {
		t.Error("policy must change the key")
	}
}

func TestOutputEvent_WireShape(t *testing.T) {
	t.Parallel()

	ev := NewOutputEvent(RequestContext{TenantID: "acme", InteractionID: "i"}, record("p", "hi", 0.01, nil), "active", time.Unix(0, 0))
	b, err := json.Marshal(ev)
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	s := string(b)
	for _, want := range []string{`"tenant_id":"acme"`, `"ms_total":10`, `"tokens_in":0`, `"status":"active"`, `"idempotency_key":"i:p:active"`} {
		if !strings.Contains(s, want) {
			t.Errorf("wire form missing %s: %s", want, s)
		}
	}
	for _, absent := range []string{`"shadow_of"`, `"comparison"`, `"trace_id"`} {
		if strings.Contains(s, absent) {
			t.Errorf("wire form should omit %s: %s", absent, s)
		}
	}
}
