// Package outbound delivers agent replies back to the chat protocol:
// rate-limited, media first, text normalized and chunked to the wire limit.
package outbound

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/nextlevelbuilder/weclaw/internal/bus"
)

// Sender is the subset of the protocol client the pipeline needs.
type Sender interface {
	SendText(ctx context.Context, chatID, text string) error
	SendMedia(ctx context.Context, chatID, fileRef string) error
}

// Pipeline serializes one account's outbound sends. Each Deliver call waits
// out the minimum inter-message delay before its first send; media items go
// out before text, and each item failure is logged without cancelling the
// rest.
type Pipeline struct {
	accountID  string
	sender     Sender
	limiter    *rate.Limiter
	chunkLimit int
}

// NewPipeline creates a pipeline with the account's reply delay and text
// chunk limit.
func NewPipeline(accountID string, sender Sender, minReplyDelay time.Duration, chunkLimit int) *Pipeline {
	if minReplyDelay <= 0 {
		minReplyDelay = 500 * time.Millisecond
	}
	return &Pipeline{
		accountID:  accountID,
		sender:     sender,
		limiter:    rate.NewLimiter(rate.Every(minReplyDelay), 1),
		chunkLimit: chunkLimit,
	}
}

// Deliver sends one payload to chatID. Errors are logged, never returned:
// delivery failures are not reported back to the inbound sender.
func (p *Pipeline) Deliver(ctx context.Context, payload bus.OutboundPayload, chatID string) {
	if err := p.limiter.Wait(ctx); err != nil {
		slog.Debug("outbound: delivery cancelled while rate limited",
			"account", p.accountID, "chat", chatID)
		return
	}

	for _, ref := range payload.MediaURLs {
		if err := p.sender.SendMedia(ctx, chatID, ref); err != nil {
			slog.Error("outbound: media send failed",
				"account", p.accountID, "chat", chatID, "ref", ref, "error", err)
		}
	}

	text := strings.TrimSpace(payload.Text)
	if text == "" {
		return
	}
	text = NormalizeTables(text)

	for i, chunk := range ChunkText(text, p.chunkLimit) {
		if err := p.sender.SendText(ctx, chatID, chunk); err != nil {
			slog.Error("outbound: text chunk send failed",
				"account", p.accountID, "chat", chatID, "chunk", i, "error", err)
		}
	}
}
