package router

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/linnemanlabs/go-core/log"
	"github.com/linnemanlabs/go-core/xerrors"

	"github.com/linnemanlabs/tandem/internal/backend"
	"github.com/linnemanlabs/tandem/internal/policy"
)

const tracerName = "github.com/linnemanlabs/tandem/internal/router"

// Role distinguishes the primary call from shadow calls.
type Role string

const (
	RolePrimary Role = "primary"
	RoleShadow  Role = "shadow"
)

// ExecutionRecord is one completed backend call.
type ExecutionRecord struct {
	Policy         policy.Policy
	Result         *backend.Result
	LatencySeconds float64
}

// BackendCallError wraps a failed backend call with the policy that made it.
type BackendCallError struct {
	PolicyID string
	Role     Role
	Err      error
}

func (e *BackendCallError) Error() string {
	return fmt.Sprintf("%s call to policy %s failed: %v", e.Role, e.PolicyID, e.Err)
}

func (e *BackendCallError) Unwrap() error { return e.Err }

// DispatchHooks receives per-call observations. Nil fields are skipped.
type DispatchHooks struct {
	OnCall func(policyID string, role Role, seconds float64, err error)
}

// Dispatcher runs a Decision against a backend.
type Dispatcher struct {
	backend backend.Backend
	logger  log.Logger
	hooks   DispatchHooks
}

// NewDispatcher returns a Dispatcher. A nil logger is replaced by log.Nop().
func NewDispatcher(b backend.Backend, logger log.Logger, hooks DispatchHooks) *Dispatcher {
	if b == nil {
		panic(xerrors.New("router.NewDispatcher: backend is nil"))
	}
	if logger == nil {
		logger = log.Nop()
	}
	return &Dispatcher{backend: b, logger: logger, hooks: hooks}
}

// Pending is the set of shadow calls still in flight for one request.
type Pending struct {
	wg      sync.WaitGroup
	records []*ExecutionRecord
}

// Wait blocks until every shadow call has finished and returns the successful
// ones in candidate order. A nil Pending has nothing to wait for.
func (p *Pending) Wait() []ExecutionRecord {
	if p == nil {
		return nil
	}
	p.wg.Wait()
	out := make([]ExecutionRecord, 0, len(p.records))
	for _, r := range p.records {
		if r != nil {
			out = append(out, *r)
		}
	}
	return out
}

// Dispatch starts every shadow call, runs the primary and returns as soon as
// the primary resolves. Shadow calls are detached from ctx cancellation so a
// caller that goes away does not cut them short.
//
// On primary failure the error is a *BackendCallError and the returned
// Pending must still be drained by the caller.
func (d *Dispatcher) Dispatch(ctx context.Context, dec Decision, payload *backend.Payload) (ExecutionRecord, *Pending, error) {
	pending := &Pending{records: make([]*ExecutionRecord, len(dec.ShadowCandidates))}

	shadowCtx := context.WithoutCancel(ctx)
	for i, p := range dec.ShadowCandidates {
		pending.wg.Add(1)
		go func() {
			defer pending.wg.Done()
			rec, err := d.callShadow(shadowCtx, p, payload)
			if err != nil {
				d.logger.Warn(shadowCtx, "shadow call failed",
					"policy_id", p.ID,
					"interaction_id", payload.InteractionID,
					"error", err.Error(),
				)
				return
			}
			pending.records[i] = &rec
		}()
	}

	primary, err := d.call(ctx, dec.Selected, RolePrimary, payload)
	if err != nil {
		return ExecutionRecord{}, pending, err
	}
	return primary, pending, nil
}

// Execute is Dispatch followed by waiting for the shadows.
func (d *Dispatcher) Execute(ctx context.Context, dec Decision, payload *backend.Payload) (ExecutionRecord, []ExecutionRecord, error) {
	primary, pending, err := d.Dispatch(ctx, dec, payload)
	shadows := pending.Wait()
	if err != nil {
		return ExecutionRecord{}, nil, err
	}
	return primary, shadows, nil
}

// callShadow turns a panicking backend into an error so one bad shadow cannot
// take the process down.
func (d *Dispatcher) callShadow(ctx context.Context, p policy.Policy, payload *backend.Payload) (rec ExecutionRecord, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = &BackendCallError{PolicyID: p.ID, Role: RoleShadow, Err: fmt.Errorf("panic: %v", r)}
		}
	}()
	return d.call(ctx, p, RoleShadow, payload)
}

// call is the single place a backend is invoked. Every call is timed and
// traced independently.
func (d *Dispatcher) call(ctx context.Context, p policy.Policy, role Role, payload *backend.Payload) (ExecutionRecord, error) {
	ctx, span := otel.Tracer(tracerName).Start(ctx, "backend.call", trace.WithAttributes(
		attribute.String("tandem.policy.id", p.ID),
		attribute.String("tandem.policy.role", string(role)),
		attribute.String("tandem.interaction.id", payload.InteractionID),
		attribute.String("tandem.base_model", p.BaseModel),
	))
	defer span.End()

	start := time.Now()
	res, err := d.backend.Call(ctx, p, payload)
	seconds := time.Since(start).Seconds()

	if d.hooks.OnCall != nil {
		d.hooks.OnCall(p.ID, role, seconds, err)
	}

	span.SetAttributes(attribute.Float64("tandem.latency_seconds", seconds))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return ExecutionRecord{}, &BackendCallError{PolicyID: p.ID, Role: role, Err: err}
	}
	if res == nil {
		res = &backend.Result{}
	}
	return ExecutionRecord{Policy: p, Result: res, LatencySeconds: seconds}, nil
}
