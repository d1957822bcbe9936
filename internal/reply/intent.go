package reply

import (
	"context"
	"log/slog"
	"strings"

	"github.com/nextlevelbuilder/autoreply/internal/providers"
)

// Confidence levels reported by the classifier.
const (
	ConfidenceRule    = 0.9
	ConfidenceModel   = 0.7
	ConfidenceDefault = 0.0
)

// Classification is the outcome of intent detection.
type Classification struct {
	Intent     string
	Confidence float64
	Source     string // "rule", "model" or "default"
}

// IntentClassifier maps text to an intent: ordered rules first, then one
// constrained model call when a backend is available.
type IntentClassifier struct {
	policy  *PolicyConfig
	prompts *PromptSet
}

func NewIntentClassifier(policy *PolicyConfig, prompts *PromptSet) *IntentClassifier {
	return &IntentClassifier{policy: policy, prompts: prompts}
}

// MatchRules returns the first rule intent matching text, or "".
// Declaration order breaks ties.
func (c *IntentClassifier) MatchRules(text string) string {
	lower := strings.ToLower(strings.TrimSpace(text))
	for i := range c.policy.Rules {
		if c.policy.Rules[i].match(lower) {
			return c.policy.Rules[i].Intent
		}
	}
	return ""
}

// Classify never fails. backend may be nil, in which case unmatched text
// resolves to the default intent.
func (c *IntentClassifier) Classify(ctx context.Context, text string, backend providers.Backend) Classification {
	if intent := c.MatchRules(text); intent != "" {
		return Classification{Intent: intent, Confidence: ConfidenceRule, Source: "rule"}
	}
	fallback := Classification{Intent: IntentDefault, Confidence: ConfidenceDefault, Source: "default"}
	if backend == nil {
		return fallback
	}

	prompt := c.prompts.Get(PromptClassify)
	if prompt == "" {
		return fallback
	}
	out, err := backend.Complete(ctx, providers.CompletionRequest{
		SystemPrompt: prompt,
		UserContent:  text,
		MaxTokens:    10,
		Temperature:  0.1,
	})
	if err != nil {
		slog.Warn("reply: model classification failed", "backend", backend.Name(), "error", err)
		return fallback
	}

	label := parseLabel(out)
	if !c.policy.isLabel(label) {
		slog.Debug("reply: model returned unknown intent", "raw", out)
		return fallback
	}
	return Classification{Intent: label, Confidence: ConfidenceModel, Source: "model"}
}

// parseLabel accepts exactly one bare token, tolerating surrounding quotes
// and punctuation.
func parseLabel(raw string) string {
	s := strings.ToLower(strings.TrimSpace(raw))
	s = strings.Trim(s, " \t\r\n\"'`.。,，:：!！")
	if s == "" || strings.ContainsAny(s, " \t\r\n") {
		return ""
	}
	return s
}
