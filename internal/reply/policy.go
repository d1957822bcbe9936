package reply

import (
	"fmt"
	"hash/fnv"
	"strings"

	"github.com/nextlevelbuilder/autoreply/internal/catalog"
	"github.com/nextlevelbuilder/autoreply/internal/providers"
	"github.com/nextlevelbuilder/autoreply/internal/store"
)

// Decision is what ReplyPolicy chose for one message: a fixed reply, or a
// generation request.
type Decision struct {
	Fixed   string
	Request *providers.CompletionRequest
}

// IsFixed reports whether the policy short-circuited generation.
func (d Decision) IsFixed() bool { return d.Request == nil }

// PolicyInput carries everything the policy looks at.
type PolicyInput struct {
	ConversationID string
	Text           string
	Intent         string
	Item           catalog.ItemInfo
	Context        *store.ContextRecord
	OnlyAIReply    bool
}

// ReplyPolicy chooses between fixed answers and generation, and builds the
// generation prompt.
type ReplyPolicy struct {
	cfg          *PolicyConfig
	prompts      *PromptSet
	maxTokens    int
	historyTurns int
}

func NewReplyPolicy(cfg *PolicyConfig, prompts *PromptSet, maxTokens, historyTurns int) *ReplyPolicy {
	if maxTokens <= 0 {
		maxTokens = 200
	}
	if historyTurns <= 0 {
		historyTurns = 5
	}
	return &ReplyPolicy{cfg: cfg, prompts: prompts, maxTokens: maxTokens, historyTurns: historyTurns}
}

// Decide returns a fixed reply when one applies (unless OnlyAIReply), else
// a generation request.
func (p *ReplyPolicy) Decide(in PolicyInput) Decision {
	if !in.OnlyAIReply {
		if fixed, ok := p.fixedReply(in.Text, in.Intent, in.Item); ok {
			return Decision{Fixed: fixed}
		}
	}
	req := providers.CompletionRequest{
		SystemPrompt: p.prompts.ForIntent(in.Intent),
		UserContent:  p.ContextBlock(in),
		MaxTokens:    p.maxTokens,
		Temperature:  p.Temperature(in.Intent, negotiationCount(in.Context)),
	}
	return Decision{Request: &req}
}

// Fallback returns the reply used when generation fails or is rejected:
// the fixed answer for the intent, then a template, then "".
func (p *ReplyPolicy) Fallback(in PolicyInput) string {
	if fixed, ok := p.fixedReply(in.Text, in.Intent, in.Item); ok {
		return fixed
	}
	return p.Template(in.ConversationID, in.Intent, in.Item)
}

// fixedReply evaluates the short-circuits in priority order: price, usage,
// store, then the refund keyword override.
func (p *ReplyPolicy) fixedReply(text, intent string, item catalog.ItemInfo) (string, bool) {
	f := p.cfg.Fixed
	switch intent {
	case IntentPrice:
		// Unknown price is left to generation rather than quoting a made-up number.
		if f.Price != "" && item.PriceKnown() {
			return fill(f.Price, item), true
		}
	case IntentTech:
		if f.Tech != "" {
			return fill(f.Tech, item), true
		}
	case IntentStore:
		if item.AreaKnown() && f.StoreWithArea != "" {
			return fill(f.StoreWithArea, item), true
		}
		if f.StoreGeneric != "" {
			return fill(f.StoreGeneric, item), true
		}
	}
	if f.Refund != "" && containsAnyFold(text, p.cfg.RefundKeywords) {
		return fill(f.Refund, item), true
	}
	return "", false
}

// Template picks a template for intent, stable per conversation.
func (p *ReplyPolicy) Template(conversationID, intent string, item catalog.ItemInfo) string {
	list := p.cfg.Templates[intent]
	if len(list) == 0 {
		return ""
	}
	h := fnv.New32a()
	h.Write([]byte(conversationID))
	return fill(list[h.Sum32()%uint32(len(list))], item)
}

// Temperature applies the schedule: price tightens after repeated bargaining,
// factual intents stay low, everything else gets more latitude.
func (p *ReplyPolicy) Temperature(intent string, negotiation int) float64 {
	t := p.cfg.Temperature
	switch intent {
	case IntentPrice:
		if negotiation > t.HeavyAfter {
			return t.PriceHeavy
		}
		return t.Price
	case IntentTech:
		return t.Tech
	case IntentStore:
		return t.Store
	default:
		return t.Default
	}
}

// ContextBlock renders the user content for generation. Every line is always
// present; unknown values use explicit placeholders.
func (p *ReplyPolicy) ContextBlock(in PolicyInput) string {
	it := in.Item
	var b strings.Builder
	fmt.Fprintf(&b, "商品标题：%s\n", it.DisplayTitle())
	fmt.Fprintf(&b, "商品价格：%s\n", it.DisplayPrice())
	fmt.Fprintf(&b, "商品分类：%s\n", it.DisplayCategory())
	fmt.Fprintf(&b, "使用地区：%s\n", it.DisplayArea())
	fmt.Fprintf(&b, "商品属性：%s\n", it.DisplayAttributes())
	fmt.Fprintf(&b, "商品标签：%s\n", it.DisplayTags())
	fmt.Fprintf(&b, "商品描述：%s\n", truncateRunes(it.DisplayDescription(), 200))
	fmt.Fprintf(&b, "议价次数：%d\n", negotiationCount(in.Context))
	b.WriteString("最近对话：\n")

	var history []store.HistoryEntry
	if in.Context != nil {
		history = in.Context.History
	}
	if len(history) > p.historyTurns {
		history = history[len(history)-p.historyTurns:]
	}
	if len(history) == 0 {
		b.WriteString("（无）\n")
	}
	for _, h := range history {
		role := "用户"
		if h.Role == store.RoleAssistant {
			role = "客服"
		}
		fmt.Fprintf(&b, "- %s: %s\n", role, h.Content)
	}
	fmt.Fprintf(&b, "\n用户消息：%s", in.Text)
	return b.String()
}

func negotiationCount(rec *store.ContextRecord) int {
	if rec == nil {
		return 0
	}
	return rec.NegotiationCount
}

func fill(tmpl string, item catalog.ItemInfo) string {
	return strings.NewReplacer(
		"{price}", item.DisplayPrice(),
		"{area}", item.DisplayArea(),
		"{title}", item.DisplayTitle(),
	).Replace(tmpl)
}

func truncateRunes(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n]) + "..."
}
