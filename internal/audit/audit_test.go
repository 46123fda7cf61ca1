package audit

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
)

func openLog(t *testing.T) *Log {
	t.Helper()
	l, err := Open(filepath.Join(t.TempDir(), "nested", "shadow.ndjson"))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { _ = l.Close() })
	return l
}

func rec(policyID, iid string) Record {
	return Record{
		InteractionID: iid,
		TenantID:      "acme",
		Skill:         "support",
		Decision:      Decision{Selected: "support@v1", Reason: "shadow_sampled"},
		PolicyID:      policyID,
		ShadowOf:      "support@v1",
		Output:        "text from " + policyID,
		Comparison:    Comparison{Match: false, LengthDelta: 2},
	}
}

func TestAppendAndTail(t *testing.T) {
	t.Parallel()

	l := openLog(t)
	ctx := context.Background()

	if err := l.Append(ctx, []Record{rec("s1", "i1"), rec("s2", "i1")}); err != nil {
		t.Fatalf("Append: %v", err)
	}
	if err := l.Append(ctx, []Record{rec("s3", "i2")}); err != nil {
		t.Fatalf("Append: %v", err)
	}

	got, err := l.Tail(ctx, 10)
	if err != nil {
		t.Fatalf("Tail: %v", err)
	}
	if len(got) != 3 {
		t.Fatalf("len = %d, want 3", len(got))
	}
	for i, want := range []string{"s1", "s2", "s3"} {
		if got[i].PolicyID != want {
			t.Errorf("got[%d].PolicyID = %q, want %q", i, got[i].PolicyID, want)
		}
		if got[i].ID == "" || got[i].RecordedAt.IsZero() {
			t.Errorf("got[%d] missing id or timestamp: %+v", i, got[i])
		}
	}
	if got[2].InteractionID != "i2" || got[2].Comparison.LengthDelta != 2 {
		t.Errorf("last record = %+v", got[2])
	}
}

func TestTail_Limit(t *testing.T) {
	t.Parallel()

	l := openLog(t)
	ctx := context.Background()
	for i := 0; i < 20; i++ {
		if err := l.Append(ctx, []Record{rec(fmt.Sprintf("s%d", i), "i")}); err != nil {
			t.Fatalf("Append: %v", err)
		}
	}

	got, err := l.Tail(ctx, 5)
	if err != nil {
		t.Fatalf("Tail: %v", err)
	}
	if len(got) != 5 {
		t.Fatalf("len = %d, want 5", len(got))
	}
	if got[0].PolicyID != "s15" || got[4].PolicyID != "s19" {
		t.Errorf("window = %s..%s, want s15..s19", got[0].PolicyID, got[4].PolicyID)
	}

	none, err := l.Tail(ctx, 0)
	if err != nil || len(none) != 0 {
		t.Errorf("Tail(0) = %v, %v", none, err)
	}
}

func TestTail_SkipsMalformedLines(t *testing.T) {
	t.Parallel()

	l := openLog(t)
	ctx := context.Background()
	if err := l.Append(ctx, []Record{rec("good1", "i")}); err != nil {
		t.Fatalf("Append: %v", err)
	}

	f, err := os.OpenFile(l.Path(), os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	_, _ = f.WriteString("not json\nnull\n{\"policy_id\":\"half\n")
	_ = f.Close()

	if err := l.Append(ctx, []Record{rec("good2", "i")}); err != nil {
		t.Fatalf("Append: %v", err)
	}
	if err := l.Append(ctx, []Record{rec("good3", "i")}); err != nil {
		t.Fatalf("Append: %v", err)
	}

	got, err := l.Tail(ctx, 10)
	if err != nil {
		t.Fatalf("Tail: %v", err)
	}
	var ids []string
	for _, r := range got {
		ids = append(ids, r.PolicyID)
	}
	if strings.Join(ids, ",") != "good1,good2,good3" {
		t.Errorf("ids = %v, want good1,good2,good3", ids)
	}
}

func TestOpen_AfterTornWriteKeepsNextRecord(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "shadow.ndjson")
	if err := os.WriteFile(path, []byte(`{"policy_id":"torn","output":"cut of`), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}

	l, err := Open(path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { _ = l.Close() })

	ctx := context.Background()
	if err := l.Append(ctx, []Record{rec("a", "i1"), rec("b", "i1")}); err != nil {
		t.Fatalf("Append: %v", err)
	}
	if err := l.Append(ctx, []Record{rec("c", "i2")}); err != nil {
		t.Fatalf("Append: %v", err)
	}

	got, err := l.Tail(ctx, 10)
	if err != nil {
		t.Fatalf("Tail: %v", err)
	}
	var ids []string
	for _, r := range got {
		ids = append(ids, r.PolicyID)
	}
	if strings.Join(ids, ",") != "a,b,c" {
		t.Errorf("ids = %v, want a,b,c", ids)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if n := strings.Count(string(data), "\n\n"); n != 0 {
		t.Errorf("found %d blank lines, want 0", n)
	}
}

func TestOpen_CleanFileNoExtraNewline(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "shadow.ndjson")
	l, err := Open(path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if err := l.Append(context.Background(), []Record{rec("a", "i")}); err != nil {
		t.Fatalf("Append: %v", err)
	}
	_ = l.Close()

	l, err = Open(path)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	t.Cleanup(func() { _ = l.Close() })
	if err := l.Append(context.Background(), []Record{rec("b", "i")}); err != nil {
		t.Fatalf("Append: %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if lines := strings.Count(string(data), "\n"); lines != 2 {
		t.Errorf("newlines = %d, want 2", lines)
	}
	if data[0] == '\n' {
		t.Error("file starts with a newline")
	}
}

func TestTail_MissingFile(t *testing.T) {
	t.Parallel()

	l := &Log{path: filepath.Join(t.TempDir(), "absent.ndjson")}
	got, err := l.Tail(context.Background(), 10)
	if err != nil {
		t.Fatalf("Tail: %v", err)
	}
	if got == nil || len(got) != 0 {
		t.Errorf("got %v, want empty non-nil slice", got)
	}
}

func TestTail_SpansChunks(t *testing.T) {
	t.Parallel()

	l := openLog(t)
	ctx := context.Background()

	big := strings.Repeat("x", 1000)
	var batch []Record
	for i := 0; i < 200; i++ {
		r := rec(fmt.Sprintf("p%03d", i), "i")
		r.Output = big
		batch = append(batch, r)
	}
	if err := l.Append(ctx, batch); err != nil {
		t.Fatalf("Append: %v", err)
	}

	got, err := l.Tail(ctx, 150)
	if err != nil {
		t.Fatalf("Tail: %v", err)
	}
	if len(got) != 150 {
		t.Fatalf("len = %d, want 150", len(got))
	}
	for i, r := range got {
		if want := fmt.Sprintf("p%03d", 50+i); r.PolicyID != want {
			t.Fatalf("got[%d] = %s, want %s", i, r.PolicyID, want)
		}
	}
}

func TestAppend_ConcurrentBatchesDoNotInterleave(t *testing.T) {
	t.Parallel()

	l := openLog(t)
	ctx := context.Background()

	const writers, perBatch = 16, 5
	var wg sync.WaitGroup
	for w := 0; w < writers; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			batch := make([]Record, perBatch)
			for i := range batch {
				batch[i] = rec(fmt.Sprintf("w%d-%d", w, i), fmt.Sprintf("iid-%d", w))
			}
			if err := l.Append(ctx, batch); err != nil {
				t.Errorf("Append: %v", err)
			}
		}(w)
	}
	wg.Wait()

	got, err := l.Tail(ctx, writers*perBatch)
	if err != nil {
		t.Fatalf("Tail: %v", err)
	}
	if len(got) != writers*perBatch {
		t.Fatalf("len = %d, want %d", len(got), writers*perBatch)
	}
	// each batch must appear as a contiguous run in order
	for i := 0; i < len(got); i += perBatch {
		iid := got[i].InteractionID
		for j := 0; j < perBatch; j++ {
			r := got[i+j]
			if r.InteractionID != iid {
				t.Fatalf("batch starting at %d interleaved: %s vs %s", i, r.InteractionID, iid)
			}
			if !strings.HasSuffix(r.PolicyID, fmt.Sprintf("-%d", j)) {
				t.Fatalf("batch order broken at %d: %s", i+j, r.PolicyID)
			}
		}
	}
}

func TestAppend_AfterClose(t *testing.T) {
	t.Parallel()

	l := openLog(t)
	_ = l.Close()
	if err := l.Append(context.Background(), []Record{rec("s", "i")}); err == nil {
		t.Error("expected error after Close")
	}
}

func TestOpen_EmptyPath(t *testing.T) {
	t.Parallel()

	if _, err := Open(""); err == nil {
		t.Error("expected error for empty path")
	}
}
