// Package redissink publishes output events to a Redis stream, deduplicated
// by idempotency key.
package redissink

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/linnemanlabs/tandem/internal/telemetry"
)

const (
	// DefaultStream is the stream events are appended to.
	DefaultStream = "tandem:interaction.output"

	// DefaultDedupTTL is how long an idempotency key blocks resubmission.
	DefaultDedupTTL = 24 * time.Hour

	// DefaultMaxLen caps the stream length (approximate trimming).
	DefaultMaxLen = 100_000

	keyPrefix = "tandem:idem:"
)

// publishScript claims the idempotency key and appends the event in one
// round trip. It returns 1 when the event was added and 0 for a duplicate.
var publishScript = redis.NewScript(`
if redis.call("SET", KEYS[1], "1", "NX", "PX", ARGV[1]) then
    redis.call("XADD", KEYS[2], "MAXLEN", "~", ARGV[2], "*", "idempotency_key", ARGV[3], "event", ARGV[4])
    return 1
end
return 0
`)

// Sink is a telemetry.Sink backed by a Redis stream.
type Sink struct {
	client   *redis.Client
	stream   string
	dedupTTL time.Duration
	maxLen   int64
}

// New wraps an existing client. An empty stream uses DefaultStream.
func New(client *redis.Client, stream string) *Sink {
	if stream == "" {
		stream = DefaultStream
	}
	return &Sink{client: client, stream: stream, dedupTTL: DefaultDedupTTL, maxLen: DefaultMaxLen}
}

// NewFromURL parses a redis:// URL, connects and verifies the server answers.
func NewFromURL(ctx context.Context, url, stream string) (*Sink, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("redissink: parse url: %w", err)
	}
	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redissink: ping: %w", err)
	}
	return New(client, stream), nil
}

// Stream returns the stream name events are written to.
func (s *Sink) Stream() string { return s.stream }

// LogOutput implements telemetry.Sink. A repeated idempotency key is
// accepted without writing a second entry.
func (s *Sink) LogOutput(ctx context.Context, ev *telemetry.OutputEvent) error {
	body, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("redissink: marshal event: %w", err)
	}

	keys := []string{keyPrefix + ev.IdempotencyKey, s.stream}
	_, err = publishScript.Run(ctx, s.client, keys,
		s.dedupTTL.Milliseconds(), s.maxLen, ev.IdempotencyKey, string(body),
	).Int64()
	if err != nil {
		return fmt.Errorf("redissink: publish %s: %w", ev.IdempotencyKey, err)
	}
	return nil
}

// Close releases the client.
func (s *Sink) Close() error {
	return s.client.Close()
}
