package telemetry

import (
	"context"
	"sync"
	"time"

	"github.com/linnemanlabs/go-core/log"

	"github.com/linnemanlabs/tandem/internal/audit"
	"github.com/linnemanlabs/tandem/internal/router"
)

// AuditAppender stores shadow comparison records locally.
type AuditAppender interface {
	Append(ctx context.Context, records []audit.Record) error
}

// Hooks receives emitter observations. Nil fields are skipped.
type Hooks struct {
	OnSubmit     func(role router.Role, err error)
	OnComparison func(selectedPolicy, shadowPolicy string, match bool)
	OnAudit      func(records int, err error)
}

// Emitter turns execution records into sink events and audit records.
type Emitter struct {
	sink   Sink
	audit  AuditAppender
	logger log.Logger
	hooks  Hooks
	now    func() time.Time
}

// NewEmitter returns an Emitter. A nil sink discards events and a nil
// AuditAppender skips the local trail.
func NewEmitter(sink Sink, auditLog AuditAppender, logger log.Logger, hooks Hooks) *Emitter {
	if sink == nil {
		sink = Discard
	}
	if logger == nil {
		logger = log.Nop()
	}
	return &Emitter{sink: sink, audit: auditLog, logger: logger, hooks: hooks, now: time.Now}
}

// Emit submits the primary event, then every shadow event concurrently, while
// appending the shadow audit records in parallel. It waits for all of it.
//
// The primary event status is the decision reason. A failed primary
// submission is returned as a *SubmissionError for the caller to log; shadow
// submission and audit failures are logged here.
func (e *Emitter) Emit(ctx context.Context, rc RequestContext, dec router.Decision, primary router.ExecutionRecord, shadows []router.ExecutionRecord) error {
	now := e.now()
	L := e.logger.With("interaction_id", rc.InteractionID, "tenant_id", rc.TenantID)

	verdicts := make([]router.Verdict, len(shadows))
	for i, s := range shadows {
		verdicts[i] = router.Compare(primary.Result, s.Result)
		if e.hooks.OnComparison != nil {
			e.hooks.OnComparison(primary.Policy.ID, s.Policy.ID, verdicts[i].Match)
		}
	}

	var wg sync.WaitGroup

	if e.audit != nil && len(shadows) > 0 {
		records := auditRecords(rc, dec, primary, shadows, verdicts, now)
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := e.audit.Append(ctx, records)
			if e.hooks.OnAudit != nil {
				e.hooks.OnAudit(len(records), err)
			}
			if err != nil {
				L.Error(ctx, err, "audit append failed", "records", len(records))
			}
		}()
	}

	primaryEv := NewOutputEvent(rc, primary, string(dec.Reason), now)
	primaryErr := e.submit(ctx, &primaryEv, router.RolePrimary)

	for i, s := range shadows {
		ev := NewShadowEvent(rc, s, primary.Policy.ID, verdicts[i], now)
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := e.submit(ctx, &ev, router.RoleShadow); err != nil {
				L.Warn(ctx, "shadow event submission failed",
					"policy_id", ev.Version.PolicyID,
					"error", err.Error(),
				)
			}
		}()
	}

	wg.Wait()
	return primaryErr
}

func (e *Emitter) submit(ctx context.Context, ev *OutputEvent, role router.Role) error {
	err := e.sink.LogOutput(ctx, ev)
	if e.hooks.OnSubmit != nil {
		e.hooks.OnSubmit(role, err)
	}
	if err != nil {
		return &SubmissionError{
			PolicyID:       ev.Version.PolicyID,
			Role:           role,
			IdempotencyKey: ev.IdempotencyKey,
			Err:            err,
		}
	}
	return nil
}

func auditRecords(rc RequestContext, dec router.Decision, primary router.ExecutionRecord, shadows []router.ExecutionRecord, verdicts []router.Verdict, now time.Time) []audit.Record {
	out := make([]audit.Record, len(shadows))
	for i, s := range shadows {
		out[i] = audit.Record{
			InteractionID:  rc.InteractionID,
			TenantID:       rc.TenantID,
			Skill:          rc.Skill,
			Input:          rc.Input,
			Decision:       audit.Decision{Selected: dec.Selected.ID, Reason: string(dec.Reason)},
			PolicyID:       s.Policy.ID,
			ShadowOf:       primary.Policy.ID,
			BaseModel:      s.Policy.BaseModel,
			LatencySeconds: s.LatencySeconds,
			Output:         s.Result.Text,
			Metadata:       s.Result.Metadata,
			Comparison:     audit.Comparison{Match: verdicts[i].Match, LengthDelta: verdicts[i].LengthDelta},
			RecordedAt:     now.UTC(),
		}
	}
	return out
}
