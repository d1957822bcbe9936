package providers

import "context"

// Backend is the interface both generative wire variants implement.
// Implementations normalize the provider response to plain text or fail.
type Backend interface {
	// Complete sends one system prompt + user content pair and returns the reply text.
	Complete(ctx context.Context, req CompletionRequest) (string, error)

	// Kind reports which wire protocol this backend speaks.
	Kind() Kind

	// Name returns the provider identifier used in logs (e.g. "openai", "dashscope-app").
	Name() string
}

// CompletionRequest contains the input for a Complete call.
type CompletionRequest struct {
	SystemPrompt string  `json:"system_prompt"`
	UserContent  string  `json:"user_content"`
	MaxTokens    int     `json:"max_tokens"`
	Temperature  float64 `json:"temperature"`
}

// Kind selects one of the two incompatible completion protocols.
type Kind string

const (
	// KindAuto defers the choice to the Selector heuristics.
	KindAuto Kind = "auto"
	// KindChat is the role-tagged chat-completion protocol (OpenAI compatible).
	KindChat Kind = "chat"
	// KindApp is the app-style completion protocol (single prompt, app id in the path).
	KindApp Kind = "app"
)

// ParseKind maps a configured string to a Kind. Unknown values map to KindAuto.
func ParseKind(s string) Kind {
	switch Kind(s) {
	case KindChat, KindApp:
		return Kind(s)
	default:
		return KindAuto
	}
}

// Message is one role-tagged entry of a chat-completion request.
type Message struct {
	Role    string `json:"role"` // "system", "user", "assistant"
	Content string `json:"content"`
}

// Credentials identify the backend an account talks to.
type Credentials struct {
	APIKey  string
	BaseURL string
	Model   string
	Kind    Kind
}
