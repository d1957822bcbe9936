package reply

import (
	"context"
	"log/slog"
	"regexp"
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/nextlevelbuilder/autoreply/internal/providers"
)

// scoreRe matches a bare score, optionally labelled ("评分：7", "7分").
var scoreRe = regexp.MustCompile(`(?i)^(?:评分|分数|score)?\s*[:：]?\s*(\d{1,2})\s*分?$`)

// QualityGate accepts or rejects a generated reply before delivery.
type QualityGate struct {
	cfg     *PolicyConfig
	prompts *PromptSet
}

func NewQualityGate(cfg *PolicyConfig, prompts *PromptSet) *QualityGate {
	return &QualityGate{cfg: cfg, prompts: prompts}
}

// QualityInput is the context handed to the scoring call.
type QualityInput struct {
	Title   string
	Message string
	Reply   string
}

// Check runs the static checks and returns a rejection reason, or "".
func (g *QualityGate) Check(reply string) string {
	trimmed := strings.TrimSpace(reply)
	n := utf8.RuneCountInString(trimmed)
	switch {
	case n == 0:
		return "empty"
	case n < g.cfg.MinReplyRunes:
		return "too_short"
	case n > g.cfg.MaxReplyRunes:
		return "too_long"
	}
	for _, term := range g.cfg.AbusiveTerms {
		if term != "" && strings.Contains(trimmed, term) {
			return "abusive"
		}
	}
	return ""
}

// Accept applies the static checks, then, when scorer is non-nil, one scoring
// call. Scoring errors and anything but a single score in 1..10 accept the reply.
func (g *QualityGate) Accept(ctx context.Context, in QualityInput, scorer providers.Backend) bool {
	if reason := g.Check(in.Reply); reason != "" {
		slog.Debug("reply: quality rejected", "reason", reason, "runes", utf8.RuneCountInString(in.Reply))
		return false
	}
	if scorer == nil {
		return true
	}

	out, err := scorer.Complete(ctx, providers.CompletionRequest{
		UserContent: g.prompts.QualityPrompt(in.Title, in.Message, in.Reply),
		MaxTokens:   10,
		Temperature: 0.1,
	})
	if err != nil {
		slog.Warn("reply: quality scoring failed, accepting", "error", err)
		return true
	}
	score, ok := parseScore(out)
	if !ok {
		slog.Warn("reply: quality score out of contract, accepting", "raw", out)
		return true
	}
	if score < g.cfg.QualityMin {
		slog.Debug("reply: quality score below threshold", "score", score, "min", g.cfg.QualityMin)
		return false
	}
	return true
}

// parseScore reads a response that is exactly one score in 1..10.
func parseScore(raw string) (int, bool) {
	m := scoreRe.FindStringSubmatch(strings.TrimSpace(raw))
	if m == nil {
		return 0, false
	}
	n, err := strconv.Atoi(m[1])
	if err != nil || n < 1 || n > 10 {
		return 0, false
	}
	return n, true
}
