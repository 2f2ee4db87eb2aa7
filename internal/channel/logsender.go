// ABOUTME: Logging stand-in sender for providers without a wired adapter
// ABOUTME: Records the send and returns synthetic message identifiers

package channel

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"
)

// LogSender is a Sender that only logs. Useful in local bring-up and for
// providers whose real adapter runs out of process.
type LogSender struct {
	provider string
	logger   *slog.Logger
	counter  atomic.Int64
}

// NewLogSender creates a logging sender labelled with the provider name.
func NewLogSender(provider string, logger *slog.Logger) *LogSender {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogSender{
		provider: provider,
		logger:   logger.With("component", "sender", "provider", provider),
	}
}

// SendMessage logs the outbound message and fabricates identifiers.
func (s *LogSender) SendMessage(ctx context.Context, address, text string, opts SendOptions) (SendResult, error) {
	if err := ctx.Err(); err != nil {
		return SendResult{}, err
	}

	n := s.counter.Add(1)
	s.logger.Info("outbound message",
		"to", address,
		"chars", len(text))

	return SendResult{
		MessageID: fmt.Sprintf("%s-msg-%d", s.provider, n),
		ChatID:    address,
	}, nil
}
