// ABOUTME: Terminal-event memory and blocking wait for run completion
// ABOUTME: Resolves immediately for runs that finished before the waiter asked

package relay

import (
	"context"
	"time"

	"github.com/2389/beacon-gateway/internal/executor"
)

// statusRetention is how long terminal run data is kept for late waiters.
const statusRetention = time.Hour

// Wait statuses.
const (
	WaitOK      = "ok"
	WaitError   = "error"
	WaitTimeout = "timeout"
)

// WaitResult is the outcome of waiting for a run.
type WaitResult struct {
	Status    string
	StartedAt time.Time
	EndedAt   time.Time
	Error     string
}

// runStatus is the remembered lifecycle state of one run.
type runStatus struct {
	startedAt time.Time
	endedAt   time.Time
	errMsg    string
	failed    bool
	terminal  bool
	createdAt time.Time
	savedAt   time.Time
	waiters   int
	done      chan struct{}
}

// Wait blocks until runID reaches a terminal lifecycle event ("end" or
// "error") or timeout elapses. A run that finished before the call resolves
// immediately from the remembered data. Timing out is a normal outcome,
// reported as WaitTimeout, not an error.
func (r *Relay) Wait(ctx context.Context, runID string, timeout time.Duration) WaitResult {
	// Register interest first so a terminal event between the check and the
	// select cannot be missed.
	st := r.addWaiter(runID)
	defer r.removeWaiter(runID, st)

	if result, ok := r.terminalResult(runID); ok {
		return result
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return WaitResult{Status: WaitTimeout}
	case <-timer.C:
		return WaitResult{Status: WaitTimeout}
	case <-st.done:
		if result, ok := r.terminalResult(runID); ok {
			return result
		}
		// done closed but status pruned in between; treat as timeout
		return WaitResult{Status: WaitTimeout}
	}
}

// recordLifecycle updates the wait index from a lifecycle event.
func (r *Relay) recordLifecycle(runID string, data executor.LifecycleData) {
	at := data.At
	if at.IsZero() {
		at = time.Now().UTC()
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	st := r.statusLocked(runID)

	switch data.Phase {
	case executor.PhaseStart:
		if st.startedAt.IsZero() {
			st.startedAt = at
		}
	case executor.PhaseEnd:
		if st.terminal {
			return
		}
		st.endedAt = at
		if st.startedAt.IsZero() {
			// No start event observed; the end event's own timestamp is the
			// earliest known start.
			st.startedAt = at
		}
		st.terminal = true
		st.savedAt = time.Now()
		close(st.done)
	case executor.PhaseError:
		if st.terminal {
			return
		}
		st.errMsg = data.Message
		st.failed = true
		st.endedAt = at
		st.terminal = true
		st.savedAt = time.Now()
		close(st.done)
	}

	r.pruneStatusLocked()
}

// addWaiter returns (creating if needed) the status entry for runID and
// counts the caller as parked on it.
func (r *Relay) addWaiter(runID string) *runStatus {
	r.mu.Lock()
	defer r.mu.Unlock()

	st := r.statusLocked(runID)
	st.waiters++
	return st
}

// removeWaiter unparks one waiter. An entry that only ever existed for
// waiters — no lifecycle data, not terminal — is dropped with its last
// waiter, so waits on bogus runIds cannot accrete map entries.
func (r *Relay) removeWaiter(runID string, st *runStatus) {
	r.mu.Lock()
	defer r.mu.Unlock()

	st.waiters--
	if st.waiters <= 0 && !st.terminal && st.startedAt.IsZero() {
		if cur, ok := r.status[runID]; ok && cur == st {
			delete(r.status, runID)
		}
	}
}

// statusLocked returns (creating if needed) the entry for runID. Must be
// called with mu held.
func (r *Relay) statusLocked(runID string) *runStatus {
	st, ok := r.status[runID]
	if !ok {
		st = &runStatus{
			createdAt: time.Now(),
			done:      make(chan struct{}),
		}
		r.status[runID] = st
	}
	return st
}

// terminalResult reads the remembered terminal outcome for runID, if any.
func (r *Relay) terminalResult(runID string) (WaitResult, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	st, ok := r.status[runID]
	if !ok || !st.terminal {
		return WaitResult{}, false
	}

	if st.failed {
		return WaitResult{
			Status:    WaitError,
			StartedAt: st.startedAt,
			EndedAt:   st.endedAt,
			Error:     st.errMsg,
		}, true
	}
	return WaitResult{
		Status:    WaitOK,
		StartedAt: st.startedAt,
		EndedAt:   st.endedAt,
	}, true
}

// pruneStatusLocked drops entries past retention: terminal entries by when
// they settled, and idle non-terminal entries (no waiter parked) by age, so
// runs that never report an end cannot accrete either. Must be called with
// mu held.
func (r *Relay) pruneStatusLocked() {
	cutoff := time.Now().Add(-statusRetention)
	for runID, st := range r.status {
		switch {
		case st.terminal && st.savedAt.Before(cutoff):
			delete(r.status, runID)
		case !st.terminal && st.waiters <= 0 && st.createdAt.Before(cutoff):
			delete(r.status, runID)
		}
	}
}
