// ABOUTME: Shared send pipeline behind chat.send and agent
// ABOUTME: Validate, merge, policy, dedup replay, persist-before-execute, invoke, cache terminal result

package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/2389/beacon-gateway/internal/executor"
	"github.com/2389/beacon-gateway/internal/history"
	"github.com/2389/beacon-gateway/internal/store"
)

// sendParams covers both chat.send and agent. Provider/To/Deliver are only
// meaningful for agent.
type sendParams struct {
	SessionKey     string       `json:"sessionKey"`
	Message        string       `json:"message"`
	IdempotencyKey string       `json:"idempotencyKey"`
	Thinking       string       `json:"thinking"`
	Deliver        *bool        `json:"deliver"`
	Provider       string       `json:"provider"`
	To             string       `json:"to"`
	TimeoutMs      int          `json:"timeoutMs"`
	Attachments    []Attachment `json:"attachments"`
}

// finalizeFunc turns a successful execution into the method's terminal
// payload. It runs before the result is cached, so whatever it adds (for
// agent: payloads, delivery outcome) replays identically on retries.
type finalizeFunc func(ctx context.Context, entry store.SessionEntry, result *executor.Result) map[string]any

// runSend drives one run to its terminal state and returns the terminal
// payload plus the wire error for failures. The idempotency key is the
// runId. accepted, when non-nil, fires after the run is admitted (policy
// passed, no cached replay) and before execution.
func (g *Gateway) runSend(p sendParams, accepted func(runID string), finalize finalizeFunc) (json.RawMessage, *Error) {
	runID := p.IdempotencyKey

	// Normalize attachments and merge them into the outbound message. The
	// size cap fails the whole request before any state change.
	prompt, err := mergeAttachments(p.Message, p.Attachments)
	if err != nil {
		return nil, invalidRequest(err.Error())
	}

	// Load or create the session entry. Creation is in-memory only until
	// the persist step: a policy denial or cached replay must not write.
	entry, err := g.sessions.Get(p.SessionKey)
	created := false
	if errors.Is(err, store.ErrNotFound) {
		entry = store.SessionEntry{
			SessionID: uuid.New().String(),
			Provider:  providerFromSessionKey(p.SessionKey),
		}
		created = true
	} else if err != nil {
		return nil, unavailable(err.Error())
	}

	timeout := g.cfg.Agent.Timeout
	if p.TimeoutMs > 0 {
		timeout = time.Duration(p.TimeoutMs) * time.Millisecond
	}

	// Register the run context before invoking the executor so concurrently
	// arriving events are attributable immediately.
	g.contexts.Bind(runID, p.SessionKey)
	defer func() {
		g.contexts.Release(runID)
		g.relay.Forget(runID)
	}()

	if !g.policy.Allows(p.SessionKey, entry) {
		return nil, invalidRequest("send blocked by session policy")
	}

	// Dedup: a terminal result for this idempotency key replays verbatim,
	// flagged cached, touching neither the store nor the executor.
	if payload, wireErr, ok := g.replayCached(runID); ok {
		return payload, wireErr
	}

	// Claim the idempotency key. A request that loses the claim has a run
	// for the same key in flight: it waits for that run to settle, then
	// replays the cached terminal result. One executor invocation per key.
	settled, owner := g.claimRun(runID)
	if !owner {
		<-settled
		if payload, wireErr, ok := g.replayCached(runID); ok {
			return payload, wireErr
		}
		return nil, unavailable("run settled without a recorded result")
	}
	defer g.releaseRun(runID, settled)

	provider := entry.Provider
	if provider == "" {
		provider = g.cfg.Agent.Provider
	}
	thinking := history.ResolveThinking(entry, g.cfg.Agent.ThinkLevel, provider, g.cfg.Agent.Model, g.catalog)
	if p.Thinking != "" {
		thinking = p.Thinking
	}

	// Persist before executing. The mutator never touches lastProvider or
	// lastTo, so an existing delivery channel is never clobbered.
	sessionID := entry.SessionID
	persisted, err := g.sessions.Update(p.SessionKey, func(e *store.SessionEntry) {
		if created && e.SessionID == "" {
			e.SessionID = sessionID
			e.Provider = entry.Provider
		}
		if p.Thinking != "" {
			e.ThinkingLevel = p.Thinking
		}
	})
	if err != nil {
		return nil, unavailable(err.Error())
	}
	sessionID = persisted.SessionID

	// Run records hang off the gateway context, not the request's: a
	// disconnecting caller must not kill the run.
	run, runCtx := g.registry.Register(g.baseCtx, runID, p.SessionKey, sessionID)
	defer g.registry.Remove(run)

	runCtx, cancelTimeout := context.WithTimeout(runCtx, timeout)
	defer cancelTimeout()

	if accepted != nil {
		accepted(runID)
	}

	result, execErr := g.executor.Invoke(runCtx, executor.Request{
		Prompt:         prompt,
		SessionID:      sessionID,
		SessionKey:     p.SessionKey,
		RunID:          runID,
		ThinkLevel:     thinking,
		VerboseLevel:   persisted.VerboseLevel,
		TimeoutSeconds: int(timeout.Seconds()),
		Provider:       provider,
		Model:          g.cfg.Agent.Model,
	})

	// Terminal state: cache exactly once, first write wins, then respond.
	// Cancellation surfaces as an executor error; the aborted notification
	// is broadcast independently by the abort path.
	if execErr != nil {
		raw := marshalPayload(map[string]any{
			"runId":   runID,
			"status":  "error",
			"summary": execErr.Error(),
		})
		g.dedupe.Store(runID, false, raw)

		g.logger.Warn("run failed",
			"run_id", runID,
			"session_key", p.SessionKey,
			"error", execErr)

		return raw, unavailable(execErr.Error())
	}

	payload := map[string]any{
		"runId":  runID,
		"status": "ok",
	}
	if finalize != nil {
		payload = finalize(runCtx, persisted, result)
	}
	raw := marshalPayload(payload)
	g.dedupe.Store(runID, true, raw)

	return raw, nil
}

// replayCached returns the cached terminal result for runID, flagged
// cached, when one exists.
func (g *Gateway) replayCached(runID string) (json.RawMessage, *Error, bool) {
	cached, ok := g.dedupe.Lookup(runID)
	if !ok {
		return nil, nil, false
	}
	payload := withCachedFlag(cached.Payload)
	if cached.OK {
		return payload, nil, true
	}
	return payload, unavailable(summaryFrom(cached.Payload)), true
}

// claimRun marks runID in flight. The second return is false when another
// request already holds the claim; the channel then closes once that run
// has settled and cached its result.
func (g *Gateway) claimRun(runID string) (chan struct{}, bool) {
	g.flightMu.Lock()
	defer g.flightMu.Unlock()

	if ch, ok := g.flights[runID]; ok {
		return ch, false
	}
	ch := make(chan struct{})
	g.flights[runID] = ch
	return ch, true
}

// releaseRun drops the in-flight claim and wakes joined requests. Runs
// after the terminal result is cached, so joiners always find it.
func (g *Gateway) releaseRun(runID string, settled chan struct{}) {
	g.flightMu.Lock()
	delete(g.flights, runID)
	g.flightMu.Unlock()
	close(settled)
}

// withCachedFlag marks a replayed payload. Map key order is deterministic
// under marshaling, so repeated replays stay byte-identical.
func withCachedFlag(payload json.RawMessage) json.RawMessage {
	var m map[string]any
	if err := json.Unmarshal(payload, &m); err != nil {
		return payload
	}
	m["cached"] = true
	return marshalPayload(m)
}

// summaryFrom extracts the summary of a cached error payload.
func summaryFrom(payload json.RawMessage) string {
	var m struct {
		Summary string `json:"summary"`
	}
	if err := json.Unmarshal(payload, &m); err != nil || m.Summary == "" {
		return "execution failed"
	}
	return m.Summary
}

// marshalPayload marshals a payload map. The inputs are always
// marshalable, so errors reduce to an empty object.
func marshalPayload(m map[string]any) json.RawMessage {
	raw, err := json.Marshal(m)
	if err != nil {
		return json.RawMessage(`{}`)
	}
	return raw
}

// providerFromSessionKey derives the provider classification from keys of
// the form "provider:address".
func providerFromSessionKey(key string) string {
	for i := 0; i < len(key); i++ {
		if key[i] == ':' {
			return key[:i]
		}
	}
	return ""
}
