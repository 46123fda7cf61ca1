package telemetry

import (
	"context"
	"errors"
	"fmt"

	"github.com/linnemanlabs/tandem/internal/router"
)

// Sink accepts output events. Implementations must be safe for concurrent use.
type Sink interface {
	LogOutput(ctx context.Context, ev *OutputEvent) error
}

// SinkFunc adapts a plain function to Sink.
type SinkFunc func(ctx context.Context, ev *OutputEvent) error

// LogOutput implements Sink.
func (f SinkFunc) LogOutput(ctx context.Context, ev *OutputEvent) error { return f(ctx, ev) }

type discard struct{}

func (discard) LogOutput(context.Context, *OutputEvent) error { return nil }

// Discard drops every event.
var Discard Sink = discard{}

// SubmissionError reports an event the sink refused or never received.
type SubmissionError struct {
	PolicyID       string
	Role           router.Role
	IdempotencyKey string
	Err            error
}

func (e *SubmissionError) Error() string {
	return fmt.Sprintf("submit %s event %s: %v", e.Role, e.IdempotencyKey, e.Err)
}

func (e *SubmissionError) Unwrap() error { return e.Err }

type multiSink []Sink

// Fanout submits each event to every sink in order and joins their errors.
// A single sink is returned unwrapped.
func Fanout(sinks ...Sink) Sink {
	var out multiSink
	for _, s := range sinks {
		if s != nil {
			out = append(out, s)
		}
	}
	switch len(out) {
	case 0:
		return Discard
	case 1:
		return out[0]
	}
	return out
}

func (m multiSink) LogOutput(ctx context.Context, ev *OutputEvent) error {
	var errs []error
	for _, s := range m {
		if err := s.LogOutput(ctx, ev); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
