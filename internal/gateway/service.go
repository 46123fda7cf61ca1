package gateway

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/trace"

	"github.com/linnemanlabs/go-core/log"
	"github.com/linnemanlabs/go-core/xerrors"

	"github.com/linnemanlabs/tandem/internal/audit"
	"github.com/linnemanlabs/tandem/internal/backend"
	"github.com/linnemanlabs/tandem/internal/policy"
	"github.com/linnemanlabs/tandem/internal/router"
	"github.com/linnemanlabs/tandem/internal/telemetry"
)

// AuditReader serves the most recent shadow audit records.
type AuditReader interface {
	Tail(ctx context.Context, limit int) ([]audit.Record, error)
}

// Deps are the collaborators of a Service. Audit and Metrics are optional.
type Deps struct {
	Catalog    policy.Catalog
	Router     *router.Router
	Dispatcher *router.Dispatcher
	Emitter    *telemetry.Emitter
	Audit      AuditReader
	Metrics    *Metrics
	Logger     log.Logger
}

// Service is the business boundary for routed inference.
type Service struct {
	catalog    policy.Catalog
	router     *router.Router
	dispatcher *router.Dispatcher
	emitter    *telemetry.Emitter
	audit      AuditReader
	metrics    *Metrics
	logger     log.Logger

	mu     sync.Mutex
	closed bool // set by Wait; no background work starts after it
	wg     sync.WaitGroup
}

// NewService creates a new gateway service.
func NewService(d Deps) *Service {
	if d.Catalog == nil || d.Router == nil || d.Dispatcher == nil || d.Emitter == nil {
		panic(xerrors.New("gateway.NewService: catalog, router, dispatcher and emitter are required"))
	}
	if d.Logger == nil {
		d.Logger = log.Nop()
	}
	return &Service{
		catalog:    d.Catalog,
		router:     d.Router,
		dispatcher: d.Dispatcher,
		emitter:    d.Emitter,
		audit:      d.Audit,
		metrics:    d.Metrics,
		logger:     d.Logger,
	}
}

// Infer routes req, answers from the primary policy and leaves shadow
// comparison, telemetry and auditing to a background goroutine.
func (s *Service) Infer(ctx context.Context, req *Request) (*Response, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}

	policies, err := s.catalog.ListPolicies(ctx, req.TenantID, req.Skill)
	if err != nil {
		return nil, fmt.Errorf("list policies: %w", err)
	}

	dec, err := s.router.Choose(policies)
	if err != nil {
		return nil, err
	}
	if s.metrics != nil {
		s.metrics.observeDecision(req.TenantID, req.Skill, len(dec.ShadowCandidates))
	}

	iid := interactionID(req)
	L := s.logger.With("interaction_id", iid, "tenant_id", req.TenantID, "skill", req.Skill)

	payload := &backend.Payload{
		TenantID:      req.TenantID,
		InteractionID: iid,
		Skill:         req.Skill,
		Input:         req.Input,
		Context:       req.Context,
	}

	primary, pending, err := s.dispatcher.Dispatch(ctx, dec, payload)
	if err != nil {
		// shadows keep running; drain them so Wait covers them
		s.spawn(L, func() { pending.Wait() })
		L.Warn(ctx, "primary backend call failed",
			"policy_id", dec.Selected.ID,
			"error", err.Error(),
		)
		return nil, err
	}

	rc := telemetry.RequestContext{
		TenantID:      req.TenantID,
		InteractionID: iid,
		Skill:         req.Skill,
		Input:         req.Input,
		Metadata:      req.Metadata,
	}
	if sc := trace.SpanContextFromContext(ctx); sc.IsValid() {
		rc.TraceID = sc.TraceID().String()
	}

	bg := context.WithoutCancel(ctx)
	s.spawn(L, func() {
		shadows := pending.Wait()
		if err := s.emitter.Emit(bg, rc, dec, primary, shadows); err != nil {
			L.Warn(bg, "telemetry submission failed", "error", err.Error())
		}
	})

	L.Info(ctx, "inference routed",
		"selected_policy", dec.Selected.ID,
		"router_reason", dec.Reason,
		"shadow_candidates", dec.ShadowIDs(),
		"latency_s", primary.LatencySeconds,
	)

	return &Response{
		Decision: dec,
		Output:   *primary.Result,
		Version: Version{
			PolicyID:         dec.Selected.ID,
			BaseModel:        dec.Selected.BaseModel,
			RouterReason:     string(dec.Reason),
			ShadowCandidates: dec.ShadowIDs(),
		},
		InteractionID: iid,
	}, nil
}

// ListPolicies returns the candidates the catalog serves for tenant and skill.
func (s *Service) ListPolicies(ctx context.Context, tenantID, skill string) ([]policy.Policy, error) {
	ps, err := s.catalog.ListPolicies(ctx, tenantID, skill)
	if err != nil {
		return nil, fmt.Errorf("list policies: %w", err)
	}
	if ps == nil {
		ps = []policy.Policy{}
	}
	return ps, nil
}

// ShadowLog returns up to limit recent audit records, oldest first.
func (s *Service) ShadowLog(ctx context.Context, limit int) ([]audit.Record, error) {
	if s.audit == nil {
		return []audit.Record{}, nil
	}
	return s.audit.Tail(ctx, limit)
}

// Wait stops new background work from starting, then blocks until the
// running work has finished or ctx is done.
func (s *Service) Wait(ctx context.Context) error {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// spawn runs fn in a tracked goroutine. Once Wait has been called fn is
// dropped and spawn returns false.
func (s *Service) spawn(L log.Logger, fn func()) bool {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		L.Warn(context.Background(), "background work dropped, service is shutting down")
		return false
	}
	s.wg.Add(1)
	s.mu.Unlock()

	go func() {
		defer s.wg.Done()
		fn()
	}()
	return true
}

// interactionID prefers the request field, then metadata.interaction_id,
// then a fresh UUID.
func interactionID(req *Request) string {
	if req.InteractionID != "" {
		return req.InteractionID
	}
	if v, ok := req.Metadata["interaction_id"].(string); ok && v != "" {
		return v
	}
	return uuid.NewString()
}
