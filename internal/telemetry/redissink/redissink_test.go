package redissink_test

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/linnemanlabs/tandem/internal/telemetry"
	"github.com/linnemanlabs/tandem/internal/telemetry/redissink"
)

func openSink(t *testing.T) *redissink.Sink {
	t.Helper()
	url := os.Getenv("TANDEM_TEST_REDIS_URL")
	if url == "" {
		t.Skip("TANDEM_TEST_REDIS_URL not set, skipping integration test")
	}
	stream := "tandem:test:" + uuid.NewString()
	s, err := redissink.NewFromURL(context.Background(), url, stream)
	if err != nil {
		t.Fatalf("NewFromURL: %v", err)
	}
	t.Cleanup(func() {
		_ = redissink.Purge(context.Background(), s)
		_ = s.Close()
	})
	return s
}

func event(iid string) *telemetry.OutputEvent {
	ev := telemetry.OutputEvent{
		TenantID:      "acme",
		InteractionID: iid,
		Output:        telemetry.Output{Text: "hello"},
		Timings:       telemetry.Timings{MsTotal: 12},
		Version:       telemetry.Version{PolicyID: "support@v1", BaseModel: "llama", Status: "active"},
		CreatedAt:     time.Now().UTC(),
	}
	ev.IdempotencyKey = telemetry.IdempotencyKey(iid, ev.Version.PolicyID, ev.Version.Status)
	return &ev
}

func TestLogOutput_Dedup(t *testing.T) {
	s := openSink(t)
	ctx := context.Background()
	ev := event(uuid.NewString())

	if err := s.LogOutput(ctx, ev); err != nil {
		t.Fatalf("LogOutput: %v", err)
	}
	if err := s.LogOutput(ctx, ev); err != nil {
		t.Fatalf("LogOutput (retry): %v", err)
	}
	if err := s.LogOutput(ctx, event(uuid.NewString())); err != nil {
		t.Fatalf("LogOutput (other): %v", err)
	}

	n, err := redissink.StreamLen(ctx, s)
	if err != nil {
		t.Fatalf("XLEN: %v", err)
	}
	if n != 2 {
		t.Errorf("stream length = %d, want 2 (retry deduplicated)", n)
	}
}
