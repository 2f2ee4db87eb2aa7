// ABOUTME: Channel adapter contract and outbound delivery routing
// ABOUTME: Resolves provider:"last" with webchat and allow-list fallback rules

package channel

import (
	"context"
	"fmt"
	"log/slog"
)

// ProviderWebchat is the in-gateway surface; it has no outbound sender, so
// "last" resolution never routes back into it.
const ProviderWebchat = "webchat"

// ProviderLast asks the router to reuse the session's last delivery channel.
const ProviderLast = "last"

// SendOptions carries per-send extras for an adapter.
type SendOptions struct {
	Token string
}

// SendResult identifies the delivered message.
type SendResult struct {
	MessageID string `json:"messageId"`
	ChatID    string `json:"chatId"`
}

// Sender is the adapter contract a concrete provider implements.
type Sender interface {
	SendMessage(ctx context.Context, address, text string, opts SendOptions) (SendResult, error)
}

// Router picks a provider and address for outbound delivery and dispatches
// to the registered sender.
type Router struct {
	senders         map[string]Sender
	defaultProvider string
	allowed         []string
	logger          *slog.Logger
}

// NewRouter creates a router. defaultProvider is used when "last" resolution
// falls back; allowed is the trusted-address allow-list.
func NewRouter(defaultProvider string, allowed []string, logger *slog.Logger) *Router {
	if logger == nil {
		logger = slog.Default()
	}
	return &Router{
		senders:         make(map[string]Sender),
		defaultProvider: defaultProvider,
		allowed:         allowed,
		logger:          logger.With("component", "delivery"),
	}
}

// Register installs the sender for a provider name.
func (r *Router) Register(provider string, sender Sender) {
	r.senders[provider] = sender
}

// ResolveLast maps a session's (lastProvider, lastTo) to a deliverable
// target. The recorded pair is used unless lastProvider is the
// non-deliverable webchat surface or lastTo is not allow-listed; then
// delivery falls back to the default provider and the first allow-listed
// address. An empty address return means nothing deliverable exists.
func (r *Router) ResolveLast(lastProvider, lastTo string) (string, string) {
	if lastProvider != "" && lastProvider != ProviderWebchat && r.isAllowed(lastTo) {
		return lastProvider, lastTo
	}

	if len(r.allowed) == 0 {
		return r.defaultProvider, ""
	}
	return r.defaultProvider, r.allowed[0]
}

// Deliver sends text to address via the provider's registered sender.
func (r *Router) Deliver(ctx context.Context, provider, address, text string) (SendResult, error) {
	if address == "" {
		return SendResult{}, fmt.Errorf("no deliverable address for provider %q", provider)
	}

	sender, ok := r.senders[provider]
	if !ok {
		return SendResult{}, fmt.Errorf("no sender registered for provider %q", provider)
	}

	result, err := sender.SendMessage(ctx, address, text, SendOptions{})
	if err != nil {
		return SendResult{}, fmt.Errorf("sending via %s: %w", provider, err)
	}

	r.logger.Info("message delivered",
		"provider", provider,
		"chat_id", result.ChatID)

	return result, nil
}

// isAllowed reports whether address is on the trusted allow-list.
func (r *Router) isAllowed(address string) bool {
	for _, a := range r.allowed {
		if a == address {
			return true
		}
	}
	return false
}
