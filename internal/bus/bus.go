package bus

import (
	"context"
	"log/slog"
)

const defaultBufferSize = 256

// MessageBus carries outbound replies from the dispatcher to the channel
// manager. Inbound messages do not pass through it; channels hand them
// straight to their ReplyStrategy.
type MessageBus struct {
	outbound chan OutboundMessage
}

// New creates a bus with the given outbound buffer (0 = default).
func New(buffer int) *MessageBus {
	if buffer <= 0 {
		buffer = defaultBufferSize
	}
	return &MessageBus{outbound: make(chan OutboundMessage, buffer)}
}

// PublishOutbound queues a reply. It blocks while the buffer is full and
// gives up when ctx is done, reporting whether the message was queued.
func (b *MessageBus) PublishOutbound(ctx context.Context, msg OutboundMessage) bool {
	select {
	case b.outbound <- msg:
		return true
	case <-ctx.Done():
		slog.Warn("bus: outbound dropped", "channel", msg.Channel, "chat_id", msg.ChatID, "error", ctx.Err())
		return false
	}
}

// SubscribeOutbound waits for the next reply. ok is false once ctx is done.
func (b *MessageBus) SubscribeOutbound(ctx context.Context) (OutboundMessage, bool) {
	select {
	case msg := <-b.outbound:
		return msg, true
	case <-ctx.Done():
		return OutboundMessage{}, false
	}
}

// Pending returns the number of queued replies.
func (b *MessageBus) Pending() int { return len(b.outbound) }
