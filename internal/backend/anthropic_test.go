package backend

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/linnemanlabs/tandem/internal/policy"
)

func newAnthropicServer(t *testing.T, status int, body string, got *map[string]any) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got != nil {
			_ = json.NewDecoder(r.Body).Decode(got)
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_, _ = w.Write([]byte(body))
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestAnthropic_Call(t *testing.T) {
	t.Parallel()

	var req map[string]any
	srv := newAnthropicServer(t, http.StatusOK, `{
		"id": "msg_1",
		"type": "message",
		"role": "assistant",
		"model": "claude-test",
		"content": [{"type": "text", "text": "part one "}, {"type": "text", "text": "part two"}],
		"stop_reason": "end_turn",
		"usage": {"input_tokens": 21, "output_tokens": 8}
	}`, &req)

	a := NewAnthropic("key", 256, time.Second, option.WithBaseURL(srv.URL), option.WithMaxRetries(0))
	res, err := a.Call(context.Background(),
		policy.Policy{ID: "support@v1", BaseModel: "claude-test", PromptVersion: "p3"},
		&Payload{Skill: "support", Input: map[string]any{"text": "hello"}, Context: map[string]any{"locale": "en"}},
	)
	if err != nil {
		t.Fatalf("Call: %v", err)
	}

	if res.Text != "part one part two" {
		t.Errorf("Text = %q", res.Text)
	}
	if got := res.Costs(); got != (Costs{21, 8}) {
		t.Errorf("Costs = %+v", got)
	}
	if res.Metadata["prompt_version"] != "p3" {
		t.Errorf("prompt_version = %v", res.Metadata["prompt_version"])
	}

	if req["model"] != "claude-test" {
		t.Errorf("model = %v", req["model"])
	}
	if req["max_tokens"] != float64(256) {
		t.Errorf("max_tokens = %v", req["max_tokens"])
	}
	if _, ok := req["system"]; !ok {
		t.Error("expected a system prompt carrying skill and context")
	}
}

func TestAnthropic_APIError(t *testing.T) {
	t.Parallel()

	srv := newAnthropicServer(t, http.StatusBadRequest,
		`{"type":"error","error":{"type":"invalid_request_error","message":"bad model"}}`, nil)

	a := NewAnthropic("key", 0, time.Second, option.WithBaseURL(srv.URL), option.WithMaxRetries(0))
	_, err := a.Call(context.Background(), policy.Policy{ID: "p"}, &Payload{Input: map[string]any{"q": 1}})

	var ce *CallError
	if !errors.As(err, &ce) {
		t.Fatalf("err = %v, want *CallError", err)
	}
	if ce.StatusCode != http.StatusBadRequest {
		t.Errorf("StatusCode = %d, want 400", ce.StatusCode)
	}
}

func TestPromptText(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name  string
		input map[string]any
		want  string
	}{
		{"lone text", map[string]any{"text": "hi"}, "hi"},
		{"lone prompt", map[string]any{"prompt": "yo"}, "yo"},
		{"structured", map[string]any{"a": 1}, "{\n  \"a\": 1\n}"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if got := promptText(&Payload{Input: tt.input}); got != tt.want {
				t.Errorf("promptText = %q, want %q", got, tt.want)
			}
		})
	}
}
