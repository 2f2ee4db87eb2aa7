// ABOUTME: Method handlers for chat.send, chat.abort, chat.history, agent, agent.wait
// ABOUTME: Compose the session store, policy engine, dedup cache, run registry, and relay

package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/2389/beacon-gateway/internal/channel"
	"github.com/2389/beacon-gateway/internal/executor"
	"github.com/2389/beacon-gateway/internal/history"
	"github.com/2389/beacon-gateway/internal/runs"
	"github.com/2389/beacon-gateway/internal/store"
)

// defaultWaitTimeout applies when agent.wait omits timeoutMs.
const defaultWaitTimeout = 30 * time.Second

// handleChatSend replies exactly once, after the run settles.
func (g *Gateway) handleChatSend(ctx context.Context, c *conn, frame RequestFrame) {
	var p sendParams
	if err := json.Unmarshal(frame.Params, &p); err != nil {
		_ = c.writeRes(ctx, ResponseFrame{ID: frame.ID, OK: false, Error: invalidRequest(err.Error())})
		return
	}

	payload, wireErr := g.runSend(p, nil, nil)
	_ = c.writeRes(ctx, ResponseFrame{
		ID:      frame.ID,
		OK:      wireErr == nil,
		Payload: payload,
		Error:   wireErr,
	})
}

// handleAgent replies twice: accepted with the runId, then the final
// result. A cached replay returns the final payload with no second accept.
func (g *Gateway) handleAgent(ctx context.Context, c *conn, frame RequestFrame) {
	var p sendParams
	if err := json.Unmarshal(frame.Params, &p); err != nil {
		_ = c.writeRes(ctx, ResponseFrame{ID: frame.ID, OK: false, Error: invalidRequest(err.Error())})
		return
	}

	accepted := func(runID string) {
		_ = c.writeRes(ctx, ResponseFrame{
			ID: frame.ID,
			OK: true,
			Payload: map[string]any{
				"runId":  runID,
				"status": "accepted",
			},
		})
	}

	payload, wireErr := g.runSend(p, accepted, func(runCtx context.Context, entry store.SessionEntry, result *executor.Result) map[string]any {
		final := map[string]any{
			"runId":    p.IdempotencyKey,
			"status":   "ok",
			"payloads": result.Payloads,
			"meta":     result.Meta,
		}
		if delivered, ok := g.deliverResult(runCtx, p, entry, result); ok {
			final["delivery"] = delivered
		}
		return final
	})

	_ = c.writeRes(ctx, ResponseFrame{
		ID:      frame.ID,
		OK:      wireErr == nil,
		Payload: payload,
		Error:   wireErr,
	})
}

// deliverResult routes the agent's reply to an outbound channel when the
// request asked for delivery. Returns the delivery record for the final
// payload, or ok=false when nothing was delivered.
func (g *Gateway) deliverResult(ctx context.Context, p sendParams, entry store.SessionEntry, result *executor.Result) (map[string]any, bool) {
	if p.Deliver != nil && !*p.Deliver {
		return nil, false
	}
	if p.Provider == "" {
		return nil, false
	}
	if len(result.Payloads) == 0 || result.Payloads[0].Text == "" {
		return nil, false
	}

	provider, address := p.Provider, p.To
	if provider == channel.ProviderLast {
		provider, address = g.delivery.ResolveLast(entry.LastProvider, entry.LastTo)
	}

	sent, err := g.delivery.Deliver(ctx, provider, address, result.Payloads[0].Text)
	if err != nil {
		g.logger.Warn("delivery failed",
			"session_key", p.SessionKey,
			"provider", provider,
			"error", err)
		return map[string]any{"error": err.Error()}, true
	}

	// Record the channel actually used so later "last" sends can reuse it.
	if _, err := g.sessions.Update(p.SessionKey, func(e *store.SessionEntry) {
		e.LastProvider = provider
		e.LastTo = address
	}); err != nil {
		g.logger.Warn("recording delivery channel failed",
			"session_key", p.SessionKey,
			"error", err)
	}

	return map[string]any{
		"provider":  provider,
		"to":        address,
		"messageId": sent.MessageID,
		"chatId":    sent.ChatID,
	}, true
}

// handleChatAbort cancels a live run. Unknown and settled runs are an
// idempotent no-op; a sessionKey mismatch is rejected with no action taken.
func (g *Gateway) handleChatAbort(ctx context.Context, c *conn, frame RequestFrame) {
	var p struct {
		SessionKey string `json:"sessionKey"`
		RunID      string `json:"runId"`
	}
	if err := json.Unmarshal(frame.Params, &p); err != nil {
		_ = c.writeRes(ctx, ResponseFrame{ID: frame.ID, OK: false, Error: invalidRequest(err.Error())})
		return
	}

	aborted, err := g.registry.Abort(p.SessionKey, p.RunID)
	if errors.Is(err, runs.ErrSessionMismatch) {
		_ = c.writeRes(ctx, ResponseFrame{
			ID:    frame.ID,
			OK:    false,
			Error: invalidRequest("runId does not match sessionKey"),
		})
		return
	}

	if aborted {
		// The aborted notification goes out immediately; the aborted run's
		// own RPC resolves separately once the executor observes
		// cancellation.
		g.relay.Aborted(p.RunID, p.SessionKey)
	}

	_ = c.writeRes(ctx, ResponseFrame{
		ID:      frame.ID,
		OK:      true,
		Payload: map[string]any{"aborted": aborted},
	})
}

// handleChatHistory returns the capped transcript window for a session.
func (g *Gateway) handleChatHistory(ctx context.Context, c *conn, frame RequestFrame) {
	var p struct {
		SessionKey string `json:"sessionKey"`
		Limit      *int   `json:"limit"`
	}
	if err := json.Unmarshal(frame.Params, &p); err != nil {
		_ = c.writeRes(ctx, ResponseFrame{ID: frame.ID, OK: false, Error: invalidRequest(err.Error())})
		return
	}

	entry, err := g.sessions.Get(p.SessionKey)
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		_ = c.writeRes(ctx, ResponseFrame{ID: frame.ID, OK: false, Error: unavailable(err.Error())})
		return
	}

	// Absent sessionId reads as an empty transcript.
	messages, err := g.history.Load(entry.SessionID, p.Limit)
	if err != nil {
		_ = c.writeRes(ctx, ResponseFrame{ID: frame.ID, OK: false, Error: unavailable(err.Error())})
		return
	}

	provider := entry.Provider
	if provider == "" {
		provider = g.cfg.Agent.Provider
	}
	thinking := history.ResolveThinking(entry, g.cfg.Agent.ThinkLevel, provider, g.cfg.Agent.Model, g.catalog)

	_ = c.writeRes(ctx, ResponseFrame{
		ID: frame.ID,
		OK: true,
		Payload: map[string]any{
			"sessionKey":    p.SessionKey,
			"sessionId":     entry.SessionID,
			"messages":      messages,
			"thinkingLevel": thinking,
		},
	})
}

// handleAgentWait blocks until the run reaches a terminal lifecycle event
// or the timeout passes. Timing out is a normal ok outcome.
func (g *Gateway) handleAgentWait(ctx context.Context, c *conn, frame RequestFrame) {
	var p struct {
		RunID     string `json:"runId"`
		TimeoutMs int    `json:"timeoutMs"`
	}
	if err := json.Unmarshal(frame.Params, &p); err != nil {
		_ = c.writeRes(ctx, ResponseFrame{ID: frame.ID, OK: false, Error: invalidRequest(err.Error())})
		return
	}

	timeout := defaultWaitTimeout
	if p.TimeoutMs > 0 {
		timeout = time.Duration(p.TimeoutMs) * time.Millisecond
	}

	result := g.relay.Wait(ctx, p.RunID, timeout)

	payload := map[string]any{
		"runId":  p.RunID,
		"status": result.Status,
	}
	switch result.Status {
	case "ok":
		payload["startedAt"] = result.StartedAt.UTC().Format(time.RFC3339Nano)
		payload["endedAt"] = result.EndedAt.UTC().Format(time.RFC3339Nano)
	case "error":
		payload["error"] = result.Error
	}

	_ = c.writeRes(ctx, ResponseFrame{ID: frame.ID, OK: true, Payload: payload})
}
