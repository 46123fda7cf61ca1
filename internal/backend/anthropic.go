package backend

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sort"
	"strings"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/linnemanlabs/tandem/internal/policy"
)

const (
	// DefaultAnthropicModel is used when a policy has no base_model.
	DefaultAnthropicModel = "claude-sonnet-4-5"

	// DefaultMaxTokens caps generated tokens per call.
	DefaultMaxTokens = 1024
)

// Anthropic serves policies through the Anthropic Messages API. The policy's
// base_model picks the model and its prompt_version is echoed in metadata.
type Anthropic struct {
	client    anthropic.Client
	maxTokens int64
}

// AnthropicOption tweaks the underlying SDK client.
type AnthropicOption = option.RequestOption

// NewAnthropic builds an Anthropic backend. Extra options are appended after
// the defaults so tests can point it at an httptest server.
func NewAnthropic(apiKey string, maxTokens int64, timeout time.Duration, opts ...AnthropicOption) *Anthropic {
	if maxTokens <= 0 {
		maxTokens = DefaultMaxTokens
	}
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	base := []option.RequestOption{
		option.WithAPIKey(apiKey),
		option.WithHTTPClient(&http.Client{
			Timeout:   timeout,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		}),
	}
	return &Anthropic{
		client:    anthropic.NewClient(append(base, opts...)...),
		maxTokens: maxTokens,
	}
}

// Call implements Backend.
func (a *Anthropic) Call(ctx context.Context, p policy.Policy, payload *Payload) (*Result, error) {
	model := p.BaseModel
	if model == "" {
		model = DefaultAnthropicModel
	}

	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(model),
		MaxTokens: a.maxTokens,
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(promptText(payload))),
		},
	}
	if sys := systemPrompt(payload); sys != "" {
		params.System = []anthropic.TextBlockParam{{Text: sys}}
	}

	msg, err := a.client.Messages.New(ctx, params)
	if err != nil {
		ce := &CallError{PolicyID: p.ID, Err: err}
		var apiErr *anthropic.Error
		if errors.As(err, &apiErr) {
			ce.StatusCode = apiErr.StatusCode
			ce.Body = apiErr.Error()
		}
		return nil, ce
	}

	var text strings.Builder
	for _, block := range msg.Content {
		if block.Type == "text" {
			text.WriteString(block.Text)
		}
	}

	md := map[string]any{
		"source":      "anthropic",
		"model":       string(msg.Model),
		"stop_reason": string(msg.StopReason),
		"costs": map[string]any{
			"tokens_in":  msg.Usage.InputTokens,
			"tokens_out": msg.Usage.OutputTokens,
		},
	}
	if p.PromptVersion != "" {
		md["prompt_version"] = p.PromptVersion
	}
	return &Result{Text: text.String(), Metadata: md}, nil
}

// promptText renders the input as the user turn. A lone "text" or "prompt"
// string is sent verbatim, anything else as indented JSON.
func promptText(payload *Payload) string {
	for _, key := range []string{"text", "prompt"} {
		if s, ok := payload.Input[key].(string); ok && len(payload.Input) == 1 {
			return s
		}
	}
	b, err := json.MarshalIndent(payload.Input, "", "  ")
	if err != nil {
		return fmt.Sprint(payload.Input)
	}
	return string(b)
}

func systemPrompt(payload *Payload) string {
	var lines []string
	if payload.Skill != "" {
		lines = append(lines, "skill: "+payload.Skill)
	}
	if len(payload.Context) > 0 {
		keys := make([]string, 0, len(payload.Context))
		for k := range payload.Context {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			lines = append(lines, fmt.Sprintf("%s: %v", k, payload.Context[k]))
		}
	}
	return strings.Join(lines, "\n")
}
