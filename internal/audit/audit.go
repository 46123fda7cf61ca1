// Package audit keeps the local shadow-comparison trail: an append-only file
// with one JSON record per line.
package audit

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
)

// Decision is the routing summary stored with each record.
type Decision struct {
	Selected string `json:"selected"`
	Reason   string `json:"reason"`
}

// Comparison mirrors the shadow verdict.
type Comparison struct {
	Match       bool `json:"match"`
	LengthDelta int  `json:"length_delta"`
}

// Record is one shadow execution compared against its primary.
type Record struct {
	ID             string         `json:"id"`
	InteractionID  string         `json:"interaction_id"`
	TenantID       string         `json:"tenant_id"`
	Skill          string         `json:"skill"`
	Input          map[string]any `json:"input,omitempty"`
	Decision       Decision       `json:"decision"`
	PolicyID       string         `json:"policy_id"`
	ShadowOf       string         `json:"shadow_of"`
	BaseModel      string         `json:"base_model,omitempty"`
	LatencySeconds float64        `json:"latency_s"`
	Output         string         `json:"output"`
	Metadata       map[string]any `json:"metadata,omitempty"`
	Comparison     Comparison     `json:"comparison"`
	RecordedAt     time.Time      `json:"recorded_at"`
}

const tailChunk = 64 << 10

// Log appends records to a file and reads back the most recent ones.
type Log struct {
	path string
	mu   sync.Mutex
	f    *os.File
	// torn is set while the file ends mid-line; the next write starts with
	// a newline so the fragment cannot swallow a good record.
	torn bool
}

// Open creates or opens path for appending, creating parent directories.
func Open(path string) (*Log, error) {
	if path == "" {
		return nil, errors.New("audit: empty path")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("audit: create dir: %w", err)
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644) //nolint:gosec // path is from trusted config
	if err != nil {
		return nil, fmt.Errorf("audit: open: %w", err)
	}
	torn, err := endsMidLine(path)
	if err != nil {
		_ = f.Close()
		return nil, fmt.Errorf("audit: inspect tail: %w", err)
	}
	return &Log{path: path, f: f, torn: torn}, nil
}

// endsMidLine reports whether a non-empty file lacks a trailing newline.
func endsMidLine(path string) (bool, error) {
	f, err := os.Open(path) //nolint:gosec // path is from trusted config
	if err != nil {
		return false, err
	}
	defer func() { _ = f.Close() }()

	st, err := f.Stat()
	if err != nil {
		return false, err
	}
	if st.Size() == 0 {
		return false, nil
	}
	last := make([]byte, 1)
	if _, err := f.ReadAt(last, st.Size()-1); err != nil {
		return false, err
	}
	return last[0] != '\n', nil
}

// Path returns the file backing the log.
func (l *Log) Path() string { return l.path }

// Append writes records as one contiguous block and syncs it to disk.
// Records without an ID or timestamp get one.
func (l *Log) Append(ctx context.Context, records []Record) error {
	if len(records) == 0 {
		return nil
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	now := time.Now().UTC()
	for i := range records {
		r := records[i]
		if r.ID == "" {
			r.ID = ulid.Make().String()
		}
		if r.RecordedAt.IsZero() {
			r.RecordedAt = now
		}
		if err := enc.Encode(&r); err != nil {
			return fmt.Errorf("audit: encode record %d: %w", i, err)
		}
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	if l.f == nil {
		return errors.New("audit: log closed")
	}
	block := buf.Bytes()
	if l.torn {
		block = append([]byte{'\n'}, block...)
	}
	if n, err := l.f.Write(block); err != nil {
		// a short write leaves a fragment behind
		l.torn = n > 0 || l.torn
		return fmt.Errorf("audit: write: %w", err)
	}
	l.torn = false
	if err := l.f.Sync(); err != nil {
		return fmt.Errorf("audit: sync: %w", err)
	}
	return nil
}

// Tail returns up to limit of the most recent well-formed records, oldest
// first. Lines that do not decode, or decode without a policy_id, are
// skipped. A missing file yields an empty result.
func (l *Log) Tail(ctx context.Context, limit int) ([]Record, error) {
	out := []Record{}
	if limit <= 0 {
		return out, nil
	}

	f, err := os.Open(l.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return out, nil
		}
		return nil, fmt.Errorf("audit: open for tail: %w", err)
	}
	defer func() { _ = f.Close() }()

	st, err := f.Stat()
	if err != nil {
		return nil, fmt.Errorf("audit: stat: %w", err)
	}

	// Walk backwards in chunks; carry holds a line split across chunks.
	var carry []byte
	off := st.Size()
	for off > 0 && len(out) < limit {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		n := int64(tailChunk)
		if n > off {
			n = off
		}
		off -= n

		buf := make([]byte, int(n)+len(carry))
		if _, err := f.ReadAt(buf[:n], off); err != nil && !errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("audit: read: %w", err)
		}
		copy(buf[n:], carry)

		lines := bytes.Split(buf, []byte{'\n'})
		first := 0
		carry = nil
		if off > 0 {
			carry = lines[0]
			first = 1
		}
		for i := len(lines) - 1; i >= first && len(out) < limit; i-- {
			line := bytes.TrimSpace(lines[i])
			if len(line) == 0 {
				continue
			}
			var r Record
			if err := json.Unmarshal(line, &r); err != nil || r.PolicyID == "" {
				continue
			}
			out = append(out, r)
		}
	}

	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return out, nil
}

// Close releases the file. Append fails afterwards; Tail keeps working.
func (l *Log) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.f == nil {
		return nil
	}
	err := l.f.Close()
	l.f = nil
	return err
}
