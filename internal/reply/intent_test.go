package reply

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClassify_RuleMatchesIgnoreBackend(t *testing.T) {
	c := NewIntentClassifier(mustPolicy(t, "v2"), NewPromptSet(""))
	b := &fakeBackend{answers: []string{"tech"}}

	for _, msg := range []string{"这个多少钱", "价格能再少点吗", "可以便宜一点吗"} {
		got := c.Classify(context.Background(), msg, b)
		assert.Equal(t, IntentPrice, got.Intent, msg)
		assert.Equal(t, ConfidenceRule, got.Confidence, msg)

		got = c.Classify(context.Background(), msg, nil)
		assert.Equal(t, IntentPrice, got.Intent, msg)
	}
	assert.Zero(t, b.calls())
}

func TestClassify_DeclarationOrderWins(t *testing.T) {
	c := NewIntentClassifier(mustPolicy(t, "v2"), NewPromptSet(""))
	// matches both the price and the store rule; price is declared first
	assert.Equal(t, IntentPrice, c.MatchRules("门店用的话多少钱"))
	assert.Equal(t, IntentTech, c.MatchRules("怎么用"))
	assert.Equal(t, IntentStore, c.MatchRules("上海能用吗"))
	assert.Equal(t, IntentGreeting, c.MatchRules("Hi"))
	assert.Equal(t, IntentShipping, c.MatchRules("什么时候发货"))
	assert.Equal(t, IntentShipping, c.MatchRules("多少天能到"))
	assert.Equal(t, IntentPrice, c.MatchRules("最低多少"))
	assert.Equal(t, "", c.MatchRules("嗯嗯好的"))
}

func TestClassify_ModelFallback(t *testing.T) {
	c := NewIntentClassifier(mustPolicy(t, "v2"), NewPromptSet(""))

	b := &fakeBackend{answers: []string{" Greeting。"}}
	got := c.Classify(context.Background(), "嗯嗯好的", b)
	assert.Equal(t, IntentGreeting, got.Intent)
	assert.Equal(t, ConfidenceModel, got.Confidence)
	require.Len(t, b.requests, 1)
	assert.Equal(t, 10, b.requests[0].MaxTokens)
	assert.Equal(t, 0.1, b.requests[0].Temperature)
	assert.Equal(t, "嗯嗯好的", b.requests[0].UserContent)
}

func TestClassify_DegradesToDefault(t *testing.T) {
	c := NewIntentClassifier(mustPolicy(t, "v2"), NewPromptSet(""))
	cases := map[string]*fakeBackend{
		"out of set":  {answers: []string{"complaint"}},
		"multi token": {answers: []string{"price or tech"}},
		"error":       {err: errors.New("connection refused")},
	}
	for name, b := range cases {
		got := c.Classify(context.Background(), "嗯嗯好的", b)
		assert.Equal(t, IntentDefault, got.Intent, name)
		assert.Equal(t, ConfidenceDefault, got.Confidence, name)
	}

	got := c.Classify(context.Background(), "嗯嗯好的", nil)
	assert.Equal(t, IntentDefault, got.Intent)
	assert.Equal(t, "default", got.Source)
}
