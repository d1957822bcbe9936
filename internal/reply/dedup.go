package reply

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"log/slog"
	"time"

	"github.com/nextlevelbuilder/autoreply/internal/store"
)

// Suppression reasons.
const (
	SuppressDuplicate = "duplicate"
	SuppressThrottled = "throttled"
)

// Verdict is the result of a suppression check.
type Verdict struct {
	Suppress bool
	Reason   string
	// Previous is the reply produced for the duplicated message, if cached.
	Previous string
}

// DedupAndThrottle suppresses repeated messages and over-frequent replies,
// reading only persisted turns.
type DedupAndThrottle struct {
	store          store.ConversationStore
	window         time.Duration
	lookback       int
	throttleWindow time.Duration
	throttleCap    int
	now            func() time.Time
}

func NewDedupAndThrottle(s store.ConversationStore, window, throttleWindow time.Duration, throttleCap int) *DedupAndThrottle {
	if window <= 0 {
		window = 5 * time.Minute
	}
	if throttleWindow <= 0 {
		throttleWindow = 5 * time.Minute
	}
	if throttleCap <= 0 {
		throttleCap = 3
	}
	return &DedupAndThrottle{
		store:          s,
		window:         window,
		lookback:       10,
		throttleWindow: throttleWindow,
		throttleCap:    throttleCap,
		now:            time.Now,
	}
}

// ShouldSuppress is Check reduced to a boolean.
func (d *DedupAndThrottle) ShouldSuppress(ctx context.Context, conversationID, counterpartID, text string) bool {
	return d.Check(ctx, conversationID, counterpartID, text).Suppress
}

// Check runs both checks. Store errors never suppress.
func (d *DedupAndThrottle) Check(ctx context.Context, conversationID, counterpartID, text string) Verdict {
	now := d.now()
	norm := normalizeText(text)

	turns, err := d.store.RecentUserTurns(ctx, conversationID, d.lookback, now.Add(-d.window))
	if err != nil {
		slog.Warn("reply: dedup lookup failed", "conversation", conversationID, "error", err)
	}
	for _, t := range turns {
		if t.CounterpartID == counterpartID && normalizeText(t.Content) == norm {
			v := Verdict{Suppress: true, Reason: SuppressDuplicate}
			if e, err := d.store.GetReplyCache(ctx, ReplyCacheKey(conversationID, counterpartID, norm)); err == nil {
				if now.Sub(e.CreatedAt) <= d.window {
					v.Previous = e.Reply
				}
			} else if !errors.Is(err, store.ErrNotFound) {
				slog.Debug("reply: reply cache lookup failed", "error", err)
			}
			return v
		}
	}

	n, err := d.store.CountAssistantTurns(ctx, conversationID, now.Add(-d.throttleWindow))
	if err != nil {
		slog.Warn("reply: throttle lookup failed", "conversation", conversationID, "error", err)
		return Verdict{}
	}
	if n >= d.throttleCap {
		return Verdict{Suppress: true, Reason: SuppressThrottled}
	}
	return Verdict{}
}

// Remember records the reply produced for text.
func (d *DedupAndThrottle) Remember(ctx context.Context, conversationID, counterpartID, text, reply string) {
	err := d.store.PutReplyCache(ctx, store.ReplyCacheEntry{
		Key:            ReplyCacheKey(conversationID, counterpartID, normalizeText(text)),
		ConversationID: conversationID,
		Reply:          reply,
		CreatedAt:      d.now(),
	})
	if err != nil {
		slog.Warn("reply: reply cache write dropped", "conversation", conversationID, "error", err)
	}
}

// ReplyCacheKey hashes (conversation, counterpart, normalized text).
func ReplyCacheKey(conversationID, counterpartID, normalized string) string {
	h := sha256.New()
	h.Write([]byte(conversationID))
	h.Write([]byte{0})
	h.Write([]byte(counterpartID))
	h.Write([]byte{0})
	h.Write([]byte(normalized))
	return hex.EncodeToString(h.Sum(nil))
}
