// Package channels connects chat transports to the reply pipeline.
// A transport receives raw buyer messages and hands each one to the
// ReplyStrategy it was constructed with; replies come back through the
// bus and are delivered by the Manager.
package channels

import (
	"context"
	"log/slog"
	"strings"
	"sync/atomic"

	"github.com/nextlevelbuilder/autoreply/internal/bus"
)

// ReplyStrategy receives every accepted inbound message. Implementations
// must not block the transport for long; the dispatcher only enqueues.
type ReplyStrategy interface {
	OnMessage(ctx context.Context, msg bus.InboundMessage)
}

// ReplyStrategyFunc adapts a function to ReplyStrategy.
type ReplyStrategyFunc func(ctx context.Context, msg bus.InboundMessage)

func (f ReplyStrategyFunc) OnMessage(ctx context.Context, msg bus.InboundMessage) { f(ctx, msg) }

// Channel defines the interface that all transport adapters must satisfy.
type Channel interface {
	// Name returns the channel identifier (e.g. "stdio", "ws_bridge").
	Name() string

	// Start begins listening for messages. Should be non-blocking after setup.
	Start(ctx context.Context) error

	// Stop gracefully shuts down the channel.
	Stop(ctx context.Context) error

	// Send delivers an outbound reply.
	Send(ctx context.Context, msg bus.OutboundMessage) error

	// IsRunning returns whether the channel is actively processing messages.
	IsRunning() bool
}

// BaseChannel provides shared functionality for all channel implementations.
// Channel implementations should embed this struct.
type BaseChannel struct {
	name      string
	strategy  ReplyStrategy
	allowList []string
	limiter   *SenderLimiter
	running   atomic.Bool
}

// NewBaseChannel creates a BaseChannel. limiter may be nil.
func NewBaseChannel(name string, strategy ReplyStrategy, allowList []string, limiter *SenderLimiter) *BaseChannel {
	return &BaseChannel{
		name:      name,
		strategy:  strategy,
		allowList: allowList,
		limiter:   limiter,
	}
}

func (c *BaseChannel) Name() string { return c.name }

func (c *BaseChannel) IsRunning() bool { return c.running.Load() }

func (c *BaseChannel) SetRunning(running bool) { c.running.Store(running) }

// IsAllowed checks if a sender is permitted by the allowlist.
// Empty allowlist means all senders are allowed.
func (c *BaseChannel) IsAllowed(senderID string) bool {
	if len(c.allowList) == 0 {
		return true
	}
	for _, allowed := range c.allowList {
		if senderID == strings.TrimPrefix(allowed, "@") {
			return true
		}
	}
	return false
}

// HandleMessage applies the allowlist and the per-sender rate limit, then
// forwards the message to the strategy. It reports whether it was forwarded.
func (c *BaseChannel) HandleMessage(ctx context.Context, msg bus.InboundMessage) bool {
	if msg.SenderID == "" || msg.AccountID == "" {
		slog.Debug("channels: message without sender or account dropped", "channel", c.name)
		return false
	}
	if !c.IsAllowed(msg.SenderID) {
		slog.Debug("channels: sender not in allowlist", "channel", c.name, "sender_id", msg.SenderID)
		return false
	}
	if c.limiter != nil && !c.limiter.Allow(msg.AccountID+"|"+msg.SenderID) {
		slog.Warn("channels: sender rate limited", "channel", c.name, "sender_id", msg.SenderID)
		return false
	}
	msg.Channel = c.name
	if msg.ChatID == "" {
		msg.ChatID = msg.SenderID
	}
	c.strategy.OnMessage(ctx, msg)
	return true
}

// Truncate shortens a string to maxRunes, appending "..." if truncated.
func Truncate(s string, maxRunes int) string {
	r := []rune(s)
	if len(r) <= maxRunes {
		return s
	}
	return string(r[:maxRunes]) + "..."
}
