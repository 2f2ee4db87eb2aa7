// ABOUTME: Tests for the echo executor.
// ABOUTME: Validates event emission order, result shape, and cancellation handling.

package executor

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// recordingSink collects emitted events in order.
type recordingSink struct {
	mu     sync.Mutex
	events []Event
}

func (s *recordingSink) Emit(ev Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, ev)
}

func (s *recordingSink) all() []Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Event, len(s.events))
	copy(out, s.events)
	return out
}

func TestEcho_Invoke(t *testing.T) {
	sink := &recordingSink{}
	echo := NewEcho(sink)

	result, err := echo.Invoke(context.Background(), Request{
		Prompt:    "hello",
		SessionID: "sess-1",
		RunID:     "run-1",
		Provider:  "anthropic",
		Model:     "opus",
	})
	require.NoError(t, err)
	require.Len(t, result.Payloads, 1)
	assert.Equal(t, "echo: hello", result.Payloads[0].Text)
	assert.Equal(t, "sess-1", result.Meta.AgentMeta.SessionID)

	events := sink.all()
	require.Len(t, events, 3)
	assert.Equal(t, StreamLifecycle, events[0].Stream)
	assert.Equal(t, StreamAssistant, events[1].Stream)
	assert.Equal(t, StreamLifecycle, events[2].Stream)

	var start, end LifecycleData
	require.NoError(t, json.Unmarshal(events[0].Data, &start))
	require.NoError(t, json.Unmarshal(events[2].Data, &end))
	assert.Equal(t, PhaseStart, start.Phase)
	assert.Equal(t, PhaseEnd, end.Phase)
}

func TestEcho_Invoke_Cancelled(t *testing.T) {
	sink := &recordingSink{}
	echo := NewEcho(sink)
	echo.Delay = time.Second

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := echo.Invoke(ctx, Request{Prompt: "hello", RunID: "run-1"})
	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)

	events := sink.all()
	require.Len(t, events, 2)

	var last LifecycleData
	require.NoError(t, json.Unmarshal(events[1].Data, &last))
	assert.Equal(t, PhaseError, last.Phase)
}

func TestEcho_NilSink(t *testing.T) {
	echo := NewEcho(nil)

	result, err := echo.Invoke(context.Background(), Request{Prompt: "x", RunID: "run-1"})
	require.NoError(t, err)
	assert.Len(t, result.Payloads, 1)
}
