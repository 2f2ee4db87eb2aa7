// ABOUTME: Method table and request dispatch with per-method reply strategy
// ABOUTME: Validates params against the method schema before any handler runs

package gateway

import (
	"context"
)

// replyMode is the per-method reply-strategy contract.
type replyMode int

const (
	// replySingle answers exactly once after the operation settles.
	replySingle replyMode = iota
	// replyAcceptedFinal answers twice: an immediate accepted
	// acknowledgement carrying the runId, then the final result.
	replyAcceptedFinal
)

// handlerFunc handles one validated request.
type handlerFunc func(ctx context.Context, c *conn, frame RequestFrame)

// methodSpec ties a handler to its reply strategy.
type methodSpec struct {
	reply  replyMode
	handle handlerFunc
}

// methods returns the method table. Built per call site because the handler
// closures capture the gateway.
func (g *Gateway) methods() map[string]methodSpec {
	return map[string]methodSpec{
		"chat.send":    {reply: replySingle, handle: g.handleChatSend},
		"chat.abort":   {reply: replySingle, handle: g.handleChatAbort},
		"chat.history": {reply: replySingle, handle: g.handleChatHistory},
		"agent":        {reply: replyAcceptedFinal, handle: g.handleAgent},
		"agent.wait":   {reply: replySingle, handle: g.handleAgentWait},
	}
}

// dispatch validates and routes one request. Validation failures respond
// INVALID_REQUEST with the aggregated messages and cause no side effects.
func (g *Gateway) dispatch(ctx context.Context, c *conn, frame RequestFrame) {
	spec, ok := g.methods()[frame.Method]
	if !ok {
		_ = c.writeRes(ctx, ResponseFrame{
			ID:    frame.ID,
			OK:    false,
			Error: invalidRequest("unknown method " + frame.Method),
		})
		return
	}

	if err := g.validator.Validate(frame.Method, frame.Params); err != nil {
		_ = c.writeRes(ctx, ResponseFrame{
			ID:    frame.ID,
			OK:    false,
			Error: invalidRequest(err.Error()),
		})
		return
	}

	spec.handle(ctx, c, frame)
}
