package bus

import (
	"context"
	"time"
)

// InboundMessage is one buyer message received by a channel.
type InboundMessage struct {
	Channel   string            `json:"channel"`
	AccountID string            `json:"account_id"`        // seller account the message was addressed to
	SenderID  string            `json:"sender_id"`         // buyer (counterpart) id
	ChatID    string            `json:"chat_id"`
	ItemID    string            `json:"item_id,omitempty"` // listing the chat is about
	Content   string            `json:"content"`
	SentAt    time.Time         `json:"sent_at,omitempty"` // zero when the platform gives no timestamp
	Metadata  map[string]string `json:"metadata,omitempty"`
}

// OutboundMessage is a reply to be delivered through a channel.
type OutboundMessage struct {
	Channel   string            `json:"channel"`
	AccountID string            `json:"account_id"`
	ChatID    string            `json:"chat_id"`
	Content   string            `json:"content"`
	Metadata  map[string]string `json:"metadata,omitempty"` // channel-specific metadata
}

// Metadata keys set by the dispatcher on outbound replies.
const (
	MetaIntent    = "intent"
	MetaSource    = "source"
	MetaMessageID = "message_id"
)

// MessageHandler handles an inbound message from a specific channel.
type MessageHandler func(InboundMessage) error

// OutboundRouter abstracts the reply path between the dispatcher and the channels.
type OutboundRouter interface {
	PublishOutbound(ctx context.Context, msg OutboundMessage) bool
	SubscribeOutbound(ctx context.Context) (OutboundMessage, bool)
}
