// ABOUTME: In-process echo executor for local bring-up and tests
// ABOUTME: Streams the prompt back as assistant output with full lifecycle events

package executor

import (
	"context"
	"fmt"
	"time"
)

// Echo is a stand-in engine that echoes the prompt back. It emits the same
// event shapes a real engine would, so the relay and handlers can be
// exercised end to end without external dependencies.
type Echo struct {
	sink EventSink

	// Delay before completing, to give abort tests something to cancel.
	Delay time.Duration
}

// NewEcho creates an echo executor emitting events to sink (may be nil).
func NewEcho(sink EventSink) *Echo {
	return &Echo{sink: sink}
}

// SetSink wires the event sink after construction, for callers that build
// the event pipeline after the executor.
func (e *Echo) SetSink(sink EventSink) {
	e.sink = sink
}

// Invoke echoes the prompt. Honors ctx cancellation.
func (e *Echo) Invoke(ctx context.Context, req Request) (*Result, error) {
	started := time.Now()

	EmitLifecycle(e.sink, req.RunID, PhaseStart, "")

	if e.Delay > 0 {
		select {
		case <-time.After(e.Delay):
		case <-ctx.Done():
			EmitLifecycle(e.sink, req.RunID, PhaseError, ctx.Err().Error())
			return nil, fmt.Errorf("run %s cancelled: %w", req.RunID, ctx.Err())
		}
	}

	if err := ctx.Err(); err != nil {
		EmitLifecycle(e.sink, req.RunID, PhaseError, err.Error())
		return nil, fmt.Errorf("run %s cancelled: %w", req.RunID, err)
	}

	text := "echo: " + req.Prompt
	EmitAssistant(e.sink, req.RunID, text)
	EmitLifecycle(e.sink, req.RunID, PhaseEnd, "")

	return &Result{
		Payloads: []Payload{{Text: text}},
		Meta: Meta{
			DurationMs: time.Since(started).Milliseconds(),
			AgentMeta: AgentMeta{
				SessionID: req.SessionID,
				Provider:  req.Provider,
				Model:     req.Model,
			},
		},
	}, nil
}
