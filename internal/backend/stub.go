package backend

import (
	"context"
	"fmt"
	"time"

	"github.com/linnemanlabs/tandem/internal/policy"
)

// Stub answers every call locally after Delay. It exists for development and
// smoke tests where no model server is running.
type Stub struct {
	Delay time.Duration
}

// NewStub returns a Stub with a 50ms delay.
func NewStub() *Stub {
	return &Stub{Delay: 50 * time.Millisecond}
}

// Call implements Backend.
func (s *Stub) Call(ctx context.Context, p policy.Policy, payload *Payload) (*Result, error) {
	if s.Delay > 0 {
		t := time.NewTimer(s.Delay)
		defer t.Stop()
		select {
		case <-ctx.Done():
			return nil, &CallError{PolicyID: p.ID, Err: ctx.Err()}
		case <-t.C:
		}
	}
	return &Result{
		Text:     fmt.Sprintf("[policy=%s] response for skill=%s", p.ID, payload.Skill),
		Metadata: map[string]any{"source": "stub"},
	}, nil
}
