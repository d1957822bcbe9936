package store

import (
	"errors"
	"time"

	"github.com/google/uuid"
)

// ErrNotFound is returned when a keyed record does not exist.
var ErrNotFound = errors.New("not found")

// AISettings holds the per-account generative reply configuration.
// It is owned by account configuration and read fresh for every message.
type AISettings struct {
	AccountID           string    `json:"account_id"`
	AIEnabled           bool      `json:"ai_enabled"`
	APIKey              string    `json:"api_key"`
	BaseURL             string    `json:"base_url"`
	ModelName           string    `json:"model_name"`
	BackendKind         string    `json:"backend_kind"` // "auto", "chat" or "app"
	OnlyAIReply         bool      `json:"only_ai_reply"`
	QualityCheckEnabled bool      `json:"quality_check_enabled"`
	UpdatedAt           time.Time `json:"updated_at"`
}

// DefaultAISettings returns the settings a new account starts with: disabled,
// pointed at the DashScope compatible-mode endpoint.
func DefaultAISettings(accountID string) AISettings {
	return AISettings{
		AccountID:   accountID,
		BaseURL:     "https://dashscope.aliyuncs.com/compatible-mode/v1",
		ModelName:   "qwen-plus",
		BackendKind: "auto",
	}
}

// Configured reports whether the account may reach a generative backend at all.
func (s AISettings) Configured() bool {
	return s.AIEnabled && s.APIKey != ""
}

// Role tags a conversation turn.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Turn is one persisted conversation message.
type Turn struct {
	ID             uuid.UUID `json:"id"`
	AccountID      string    `json:"account_id"`
	ConversationID string    `json:"conversation_id"`
	CounterpartID  string    `json:"counterpart_id"`
	ItemID         string    `json:"item_id"`
	Role           Role      `json:"role"`
	Content        string    `json:"content"`
	Intent         string    `json:"intent,omitempty"`
	CreatedAt      time.Time `json:"created_at"`
}

// HistoryEntry is one turn as kept inside a ContextRecord.
type HistoryEntry struct {
	Role      Role      `json:"role"`
	Content   string    `json:"content"`
	Intent    string    `json:"intent,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// ContextRecord is the persisted per-conversation state.
// A zero LastUpdate means the record did not exist before.
type ContextRecord struct {
	ConversationID   string         `json:"conversation_id"`
	AccountID        string         `json:"account_id"`
	CounterpartID    string         `json:"counterpart_id"`
	ItemID           string         `json:"item_id"`
	History          []HistoryEntry `json:"history"`
	NegotiationCount int            `json:"negotiation_count"`
	LastIntent       string         `json:"last_intent,omitempty"`
	LastUpdate       time.Time      `json:"last_update"`
}

// ReplyCacheEntry records a reply produced for a normalized message.
type ReplyCacheEntry struct {
	Key            string    `json:"key"`
	ConversationID string    `json:"conversation_id"`
	Reply          string    `json:"reply"`
	CreatedAt      time.Time `json:"created_at"`
}

// Attribute is an opaque name/value descriptor of an item.
type Attribute struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}

// ItemSnapshot is the persisted copy of a catalog item.
type ItemSnapshot struct {
	AccountID   string      `json:"account_id"`
	ItemID      string      `json:"item_id"`
	Title       string      `json:"title"`
	Price       string      `json:"price"`
	Description string      `json:"description"`
	Category    string      `json:"category"`
	Area        string      `json:"area"`
	SellerName  string      `json:"seller_name"`
	Status      string      `json:"status"`
	Attributes  []Attribute `json:"attributes,omitempty"`
	Tags        []string    `json:"tags,omitempty"`
	Images      []string    `json:"images,omitempty"`
	FetchedAt   time.Time   `json:"fetched_at"`
}

// CleanupCutoffs bounds an explicit cleanup pass. Zero times skip that table.
type CleanupCutoffs struct {
	ContextsBefore   time.Time
	ReplyCacheBefore time.Time
	TurnsBefore      time.Time
	ItemsBefore      time.Time
}

// CleanupStats reports rows removed per table.
type CleanupStats struct {
	Contexts   int64 `json:"contexts"`
	ReplyCache int64 `json:"reply_cache"`
	Turns      int64 `json:"turns"`
	Items      int64 `json:"items"`
}

// Total returns the number of rows removed across tables.
func (s CleanupStats) Total() int64 {
	return s.Contexts + s.ReplyCache + s.Turns + s.Items
}
