// ABOUTME: Registry of live runs with cancellation tokens
// ABOUTME: Insert on accept, remove on terminal outcome, keyed by runId

package runs

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"
)

// ErrSessionMismatch is returned when an abort names a run owned by a
// different session.
var ErrSessionMismatch = errors.New("runId does not match sessionKey")

// Run is the live record for one in-flight execution.
type Run struct {
	ID         string
	SessionKey string
	SessionID  string
	StartedAt  time.Time

	cancel context.CancelFunc
}

// Registry tracks live runs keyed by runId.
type Registry struct {
	mu     sync.RWMutex
	runs   map[string]*Run
	logger *slog.Logger
}

// NewRegistry creates an empty run registry. Pass nil logger for default.
func NewRegistry(logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{
		runs:   make(map[string]*Run),
		logger: logger.With("component", "run_registry"),
	}
}

// Register inserts a live run and returns it together with a context the
// executor must observe for cancellation. The returned context derives
// from ctx, so caller shutdown also cancels the run.
func (r *Registry) Register(ctx context.Context, runID, sessionKey, sessionID string) (*Run, context.Context) {
	runCtx, cancel := context.WithCancel(ctx)

	run := &Run{
		ID:         runID,
		SessionKey: sessionKey,
		SessionID:  sessionID,
		StartedAt:  time.Now().UTC(),
		cancel:     cancel,
	}

	r.mu.Lock()
	r.runs[runID] = run
	r.mu.Unlock()

	r.logger.Debug("run registered",
		"run_id", runID,
		"session_key", sessionKey)

	return run, runCtx
}

// Get returns the live run for runID, if any.
func (r *Registry) Get(runID string) (*Run, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	run, ok := r.runs[runID]
	return run, ok
}

// Remove releases run's cancellation token and drops its record. Only the
// record run itself occupies is deleted: if the slot has since been taken
// by a different registration for the same runId, that registration stays.
// Safe to call repeatedly; removal is guaranteed cleanup on every exit path.
func (r *Registry) Remove(run *Run) {
	r.mu.Lock()
	cur, ok := r.runs[run.ID]
	if ok && cur == run {
		delete(r.runs, run.ID)
	}
	r.mu.Unlock()

	run.cancel()
	r.logger.Debug("run removed", "run_id", run.ID)
}

// Abort cancels the live run identified by runID on behalf of sessionKey.
// Unknown or already-settled runs are an idempotent no-op (false, nil).
// A run owned by a different session returns ErrSessionMismatch and the run
// is unaffected.
func (r *Registry) Abort(sessionKey, runID string) (bool, error) {
	r.mu.Lock()
	run, ok := r.runs[runID]
	if !ok {
		r.mu.Unlock()
		return false, nil
	}
	if run.SessionKey != sessionKey {
		r.mu.Unlock()
		return false, ErrSessionMismatch
	}
	delete(r.runs, runID)
	r.mu.Unlock()

	run.cancel()

	r.logger.Info("run aborted",
		"run_id", runID,
		"session_key", sessionKey)

	return true, nil
}

// Count returns the number of live runs.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.runs)
}
