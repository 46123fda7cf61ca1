package telemetry

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
)

// DefaultCollectorTimeout bounds one submission.
const DefaultCollectorTimeout = 5 * time.Second

// Collector posts events to an ingestion service.
type Collector struct {
	endpoint string
	apiKey   string
	client   *http.Client
}

// NewCollector returns a Collector for baseURL. An empty apiKey sends no
// Authorization header.
func NewCollector(baseURL, apiKey string, timeout time.Duration) *Collector {
	if timeout <= 0 {
		timeout = DefaultCollectorTimeout
	}
	return &Collector{
		endpoint: strings.TrimRight(baseURL, "/") + "/v1/interaction.output",
		apiKey:   apiKey,
		client: &http.Client{
			Timeout:   timeout,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		},
	}
}

// LogOutput implements Sink.
func (c *Collector) LogOutput(ctx context.Context, ev *OutputEvent) error {
	body, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("collector: marshal event: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("collector: create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Idempotency-Key", ev.IdempotencyKey)
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.client.Do(req) //nolint:gosec // endpoint is from trusted config
	if err != nil {
		return fmt.Errorf("collector: post: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("collector: returned %d: %s", resp.StatusCode, string(respBody))
	}
	return nil
}
