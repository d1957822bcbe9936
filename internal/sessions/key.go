// Package sessions builds and parses conversation keys.
//
// Conversation keys scope every piece of per-conversation state to one seller
// account and one buyer:
//
//	conv:{accountId}:{channel}:{chatId}:{counterpartId}
//
// Examples:
//
//	conv:seller-1:xianyu:55012345:2209876
//	conv:seller-1:stdio:chat-7:buyer-3
//
// Segments are escaped so that ids containing ':' survive a round trip.
package sessions

import (
	"strings"
)

const keyPrefix = "conv"

// Key identifies one buyer–seller conversation.
type Key struct {
	AccountID     string
	Channel       string
	ChatID        string
	CounterpartID string
}

// String renders the canonical conversation key.
func (k Key) String() string {
	return BuildConversationKey(k.AccountID, k.Channel, k.ChatID, k.CounterpartID)
}

// BuildConversationKey builds the canonical key.
// An empty chatID falls back to the counterpart id (one chat per buyer).
func BuildConversationKey(accountID, channel, chatID, counterpartID string) string {
	if chatID == "" {
		chatID = counterpartID
	}
	parts := []string{keyPrefix, escape(accountID), escape(channel), escape(chatID), escape(counterpartID)}
	return strings.Join(parts, ":")
}

// ParseConversationKey splits a canonical key.
// Returns ok=false if the key is not in the expected format.
func ParseConversationKey(key string) (k Key, ok bool) {
	parts := strings.Split(key, ":")
	if len(parts) != 5 || parts[0] != keyPrefix {
		return Key{}, false
	}
	return Key{
		AccountID:     unescape(parts[1]),
		Channel:       unescape(parts[2]),
		ChatID:        unescape(parts[3]),
		CounterpartID: unescape(parts[4]),
	}, true
}

// AccountOf returns the account segment of a conversation key, or "".
func AccountOf(key string) string {
	k, ok := ParseConversationKey(key)
	if !ok {
		return ""
	}
	return k.AccountID
}

var (
	escaper   = strings.NewReplacer("%", "%25", ":", "%3A")
	unescaper = strings.NewReplacer("%3A", ":", "%25", "%")
)

func escape(s string) string   { return escaper.Replace(s) }
func unescape(s string) string { return unescaper.Replace(s) }
