// ABOUTME: Tests for the event relay.
// ABOUTME: Validates session attribution, per-run sequencing, terminal events, and abort broadcast.

package relay

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/2389/beacon-gateway/internal/executor"
	"github.com/2389/beacon-gateway/internal/runs"
)

func newTestRelay(t *testing.T) (*Relay, *runs.Contexts, *Broadcaster) {
	t.Helper()
	contexts := runs.NewContexts()
	broadcaster := NewBroadcaster(nil)
	t.Cleanup(broadcaster.Close)
	return New(contexts, broadcaster, nil), contexts, broadcaster
}

// collect drains up to n messages from ch with a deadline.
func collect(t *testing.T, ch <-chan *Message, n int) []*Message {
	t.Helper()
	out := make([]*Message, 0, n)
	deadline := time.After(2 * time.Second)
	for len(out) < n {
		select {
		case msg := <-ch:
			out = append(out, msg)
		case <-deadline:
			t.Fatalf("timed out waiting for %d messages, got %d", n, len(out))
		}
	}
	return out
}

func TestRelay_DropsUnattributableEvents(t *testing.T) {
	r, _, broadcaster := newTestRelay(t)

	ch, _ := broadcaster.Subscribe(context.Background(), GlobalKey)

	// No context binding for run-x: event must be dropped
	executor.EmitAssistant(r, "run-x", "hello")

	select {
	case msg := <-ch:
		t.Fatalf("expected no message, got %+v", msg)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestRelay_AssistantDelta(t *testing.T) {
	r, contexts, broadcaster := newTestRelay(t)
	contexts.Bind("run-1", "whatsapp:1")

	ch, _ := broadcaster.Subscribe(context.Background(), "whatsapp:1")

	executor.EmitAssistant(r, "run-1", "partial text")

	msgs := collect(t, ch, 1)
	assert.Equal(t, "chat", msgs[0].Event)

	event := msgs[0].Payload.(*ChatEvent)
	assert.Equal(t, "run-1", event.RunID)
	assert.Equal(t, "whatsapp:1", event.SessionKey)
	assert.Equal(t, StateDelta, event.State)
	assert.Equal(t, "partial text", event.Text)
	assert.Equal(t, int64(1), event.Seq)
}

func TestRelay_PerRunOrdering(t *testing.T) {
	r, contexts, broadcaster := newTestRelay(t)
	contexts.Bind("run-1", "whatsapp:1")
	contexts.Bind("run-2", "whatsapp:1")

	ch, _ := broadcaster.Subscribe(context.Background(), "whatsapp:1")

	// Interleave two runs on the same session
	executor.EmitAssistant(r, "run-1", "a1")
	executor.EmitAssistant(r, "run-2", "b1")
	executor.EmitAssistant(r, "run-1", "a2")
	executor.EmitLifecycle(r, "run-1", executor.PhaseEnd, "")
	executor.EmitAssistant(r, "run-2", "b2")

	// run-1: a1, a2, lifecycle agent event, chat final = 4 messages
	// run-2: b1, b2 = 2 messages
	msgs := collect(t, ch, 6)

	perRun := make(map[string][]int64)
	for _, msg := range msgs {
		switch p := msg.Payload.(type) {
		case *ChatEvent:
			perRun[p.RunID] = append(perRun[p.RunID], p.Seq)
		case *AgentEvent:
			perRun[p.RunID] = append(perRun[p.RunID], p.Seq)
		}
	}

	// Each run's sequence numbers are strictly increasing in observed order
	for runID, seqs := range perRun {
		for i := 1; i < len(seqs); i++ {
			assert.Greater(t, seqs[i], seqs[i-1],
				"run %s events observed out of order: %v", runID, seqs)
		}
	}
}

func TestRelay_TerminalFinalEvent(t *testing.T) {
	r, contexts, broadcaster := newTestRelay(t)
	contexts.Bind("run-1", "key")

	ch, _ := broadcaster.Subscribe(context.Background(), "key")

	executor.EmitLifecycle(r, "run-1", executor.PhaseEnd, "")

	// One agent event (raw lifecycle) and one chat final
	msgs := collect(t, ch, 2)
	assert.Equal(t, "agent", msgs[0].Event)
	assert.Equal(t, "chat", msgs[1].Event)

	final := msgs[1].Payload.(*ChatEvent)
	assert.Equal(t, StateFinal, final.State)
	assert.Greater(t, final.Seq, msgs[0].Payload.(*AgentEvent).Seq,
		"terminal event must come after earlier events of the same run")
}

func TestRelay_ErrorEventCarriesMessage(t *testing.T) {
	r, contexts, broadcaster := newTestRelay(t)
	contexts.Bind("run-1", "key")

	ch, _ := broadcaster.Subscribe(context.Background(), "key")

	executor.EmitLifecycle(r, "run-1", executor.PhaseError, "engine exploded")

	msgs := collect(t, ch, 2)
	event := msgs[1].Payload.(*ChatEvent)
	assert.Equal(t, StateError, event.State)
	assert.Equal(t, "engine exploded", event.ErrorMessage)
}

func TestRelay_ToolEventsPassThrough(t *testing.T) {
	r, contexts, broadcaster := newTestRelay(t)
	contexts.Bind("run-1", "key")

	ch, _ := broadcaster.Subscribe(context.Background(), "key")

	data := json.RawMessage(`{"tool":"search","input":"weather"}`)
	r.Emit(executor.Event{RunID: "run-1", Stream: executor.StreamTool, Data: data})

	msgs := collect(t, ch, 1)
	assert.Equal(t, "agent", msgs[0].Event)

	event := msgs[0].Payload.(*AgentEvent)
	assert.Equal(t, string(executor.StreamTool), event.Stream)
	assert.JSONEq(t, string(data), string(event.Data))
}

func TestRelay_Aborted(t *testing.T) {
	r, contexts, broadcaster := newTestRelay(t)
	contexts.Bind("run-1", "key")

	sessionCh, _ := broadcaster.Subscribe(context.Background(), "key")
	globalCh, _ := broadcaster.Subscribe(context.Background(), GlobalKey)

	// Two prior events for the run, then the abort
	executor.EmitAssistant(r, "run-1", "a")
	executor.EmitAssistant(r, "run-1", "b")
	r.Aborted("run-1", "key")

	msgs := collect(t, sessionCh, 3)
	aborted := msgs[2].Payload.(*ChatEvent)
	assert.Equal(t, StateAborted, aborted.State)
	assert.Equal(t, int64(3), aborted.Seq, "aborted seq must be one greater than the last observed")

	// Global observers see it too
	global := collect(t, globalCh, 3)
	assert.Equal(t, StateAborted, global[2].Payload.(*ChatEvent).State)
}

func TestRelay_Forget_ResetsSequence(t *testing.T) {
	r, contexts, _ := newTestRelay(t)
	contexts.Bind("run-1", "key")

	assert.Equal(t, int64(1), r.nextSeq("run-1"))
	assert.Equal(t, int64(2), r.nextSeq("run-1"))

	r.Forget("run-1")
	assert.Equal(t, int64(1), r.nextSeq("run-1"))
}
