// ABOUTME: Tests for the run completion waiter.
// ABOUTME: Validates immediate resolution, blocking waits, timeouts, and timestamp rules.

package relay

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/2389/beacon-gateway/internal/executor"
	"github.com/2389/beacon-gateway/internal/runs"
)

func newWaitRelay(t *testing.T) (*Relay, *runs.Contexts) {
	t.Helper()
	contexts := runs.NewContexts()
	broadcaster := NewBroadcaster(nil)
	t.Cleanup(broadcaster.Close)
	return New(contexts, broadcaster, nil), contexts
}

func TestWait_AlreadyTerminal(t *testing.T) {
	r, contexts := newWaitRelay(t)
	contexts.Bind("run-1", "key")

	executor.EmitLifecycle(r, "run-1", executor.PhaseStart, "")
	executor.EmitLifecycle(r, "run-1", executor.PhaseEnd, "")

	// The run finished before the waiter asked: resolve immediately
	result := r.Wait(context.Background(), "run-1", time.Millisecond)
	assert.Equal(t, WaitOK, result.Status)
	assert.False(t, result.StartedAt.IsZero())
	assert.False(t, result.EndedAt.IsZero())
	assert.True(t, !result.EndedAt.Before(result.StartedAt))
}

func TestWait_EndWithoutStartUsesEndTimestamp(t *testing.T) {
	r, contexts := newWaitRelay(t)
	contexts.Bind("run-1", "key")

	executor.EmitLifecycle(r, "run-1", executor.PhaseEnd, "")

	result := r.Wait(context.Background(), "run-1", time.Millisecond)
	assert.Equal(t, WaitOK, result.Status)
	assert.Equal(t, result.EndedAt, result.StartedAt,
		"with no start event, the end event's own timestamp is the earliest known start")
}

func TestWait_Error(t *testing.T) {
	r, contexts := newWaitRelay(t)
	contexts.Bind("run-1", "key")

	executor.EmitLifecycle(r, "run-1", executor.PhaseError, "model unavailable")

	result := r.Wait(context.Background(), "run-1", time.Millisecond)
	assert.Equal(t, WaitError, result.Status)
	assert.Equal(t, "model unavailable", result.Error)
}

func TestWait_Timeout(t *testing.T) {
	r, _ := newWaitRelay(t)

	// Absence of completion is a normal, non-error outcome
	result := r.Wait(context.Background(), "never-finishes", 20*time.Millisecond)
	assert.Equal(t, WaitTimeout, result.Status)
}

func TestWait_BlocksUntilTerminal(t *testing.T) {
	r, contexts := newWaitRelay(t)
	contexts.Bind("run-1", "key")

	go func() {
		time.Sleep(30 * time.Millisecond)
		executor.EmitLifecycle(r, "run-1", executor.PhaseStart, "")
		executor.EmitLifecycle(r, "run-1", executor.PhaseEnd, "")
	}()

	result := r.Wait(context.Background(), "run-1", 2*time.Second)
	assert.Equal(t, WaitOK, result.Status)
}

func TestWait_ContextCancelled(t *testing.T) {
	r, _ := newWaitRelay(t)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	result := r.Wait(ctx, "run-1", time.Minute)
	assert.Equal(t, WaitTimeout, result.Status)
}

func TestWait_UnknownRunLeavesNoEntry(t *testing.T) {
	r, _ := newWaitRelay(t)

	// Waits on runIds that never report anything must not accrete status
	// entries after the waiter gives up.
	for i := 0; i < 100; i++ {
		result := r.Wait(context.Background(), fmt.Sprintf("bogus-%d", i), time.Millisecond)
		assert.Equal(t, WaitTimeout, result.Status)
	}

	r.mu.Lock()
	n := len(r.status)
	r.mu.Unlock()
	assert.Zero(t, n, "timed-out waits on unknown runs must not leave status entries")
}

func TestWait_TimedOutWaiterKeepsLiveRunStatus(t *testing.T) {
	r, contexts := newWaitRelay(t)
	contexts.Bind("run-1", "key")

	// The run has started but not finished; a timed-out waiter must not
	// discard the recorded start timestamp.
	executor.EmitLifecycle(r, "run-1", executor.PhaseStart, "")

	result := r.Wait(context.Background(), "run-1", 10*time.Millisecond)
	assert.Equal(t, WaitTimeout, result.Status)

	executor.EmitLifecycle(r, "run-1", executor.PhaseEnd, "")

	final := r.Wait(context.Background(), "run-1", time.Millisecond)
	assert.Equal(t, WaitOK, final.Status)
	assert.True(t, final.StartedAt.Before(final.EndedAt) || final.StartedAt.Equal(final.EndedAt))
}
