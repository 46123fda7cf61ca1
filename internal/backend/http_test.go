package backend

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/linnemanlabs/tandem/internal/policy"
)

func TestHTTP_Call(t *testing.T) {
	t.Parallel()

	var (
		gotPath, gotAuth, gotIID string
		gotBody                  map[string]any
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotAuth = r.Header.Get("Authorization")
		gotIID = r.Header.Get("X-Interaction-Id")
		_ = json.NewDecoder(r.Body).Decode(&gotBody)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"text":"answer","metadata":{"costs":{"tokens_in":5,"tokens_out":6}}}`))
	}))
	defer srv.Close()

	h := NewHTTP(srv.URL+"/", "secret", time.Second)
	res, err := h.Call(context.Background(), policy.Policy{ID: "support@v1"}, &Payload{
		InteractionID: "iid-1",
		Skill:         "support",
		Input:         map[string]any{"text": "help"},
	})
	if err != nil {
		t.Fatalf("Call: %v", err)
	}

	if gotPath != "/v1/infer" {
		t.Errorf("path = %q, want /v1/infer", gotPath)
	}
	if gotAuth != "Bearer secret" {
		t.Errorf("Authorization = %q", gotAuth)
	}
	if gotIID != "iid-1" {
		t.Errorf("X-Interaction-Id = %q", gotIID)
	}
	if gotBody["policy_id"] != "support@v1" || gotBody["skill"] != "support" {
		t.Errorf("body = %v", gotBody)
	}
	if ctx, ok := gotBody["context"].(map[string]any); !ok || len(ctx) != 0 {
		t.Errorf("context = %v, want empty object", gotBody["context"])
	}
	if res.Text != "answer" || res.Costs() != (Costs{5, 6}) {
		t.Errorf("result = %+v", res)
	}
}

func TestHTTP_Call_RunnerCosts(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"text":"[support@v1] hello","costs":{"tokens_in":5,"tokens_out":18},"metadata":{"runner":"stub"}}`))
	}))
	defer srv.Close()

	res, err := NewHTTP(srv.URL, "", time.Second).Call(context.Background(), policy.Policy{ID: "support@v1"}, &Payload{
		Skill: "support",
		Input: map[string]any{"text": "hello"},
	})
	if err != nil {
		t.Fatalf("Call: %v", err)
	}
	if got := res.Costs(); got != (Costs{5, 18}) {
		t.Errorf("Costs = %+v, want {5 18}", got)
	}
	if res.Metadata["runner"] != "stub" {
		t.Errorf("metadata = %v", res.Metadata)
	}
}

func TestHTTP_NoKeyNoHeader(t *testing.T) {
	t.Parallel()

	var gotAuth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		_, _ = w.Write([]byte(`{"text":"ok"}`))
	}))
	defer srv.Close()

	_, err := NewHTTP(srv.URL, "", 0).Call(context.Background(), policy.Policy{ID: "p"}, &Payload{})
	if err != nil {
		t.Fatalf("Call: %v", err)
	}
	if gotAuth != "" {
		t.Errorf("Authorization = %q, want empty", gotAuth)
	}
}

func TestHTTP_Non2xx(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "model overloaded", http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	_, err := NewHTTP(srv.URL, "", time.Second).Call(context.Background(), policy.Policy{ID: "p"}, &Payload{})
	var ce *CallError
	if !errors.As(err, &ce) {
		t.Fatalf("err = %v, want *CallError", err)
	}
	if ce.StatusCode != http.StatusServiceUnavailable {
		t.Errorf("StatusCode = %d", ce.StatusCode)
	}
	if ce.PolicyID != "p" {
		t.Errorf("PolicyID = %q", ce.PolicyID)
	}
}

func TestHTTP_Timeout(t *testing.T) {
	t.Parallel()

	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer srv.Close()
	defer close(release)

	_, err := NewHTTP(srv.URL, "", 50*time.Millisecond).Call(context.Background(), policy.Policy{ID: "p"}, &Payload{})
	var ce *CallError
	if !errors.As(err, &ce) {
		t.Fatalf("err = %v, want *CallError", err)
	}
	if ce.StatusCode != 0 {
		t.Errorf("StatusCode = %d, want 0 for transport failure", ce.StatusCode)
	}
}

func TestHTTP_TransportFailure(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	_, err := NewHTTP(url, "", time.Second).Call(context.Background(), policy.Policy{ID: "p"}, &Payload{})
	var ce *CallError
	if !errors.As(err, &ce) {
		t.Fatalf("err = %v, want *CallError", err)
	}
}
