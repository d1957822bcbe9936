package providers

import "strings"

// MatchMode controls how the model-family and provider-domain signals combine
// when a Selector resolves KindAuto.
type MatchMode string

const (
	MatchAny MatchMode = "any"
	MatchAll MatchMode = "all"
)

// DefaultModelFamilies are the model names that indicate an app-style deployment.
var DefaultModelFamilies = []string{"custom", "自定义", "dashscope", "qwen-custom"}

// DefaultProviderDomains are the base_url substrings that indicate an app-style deployment.
var DefaultProviderDomains = []string{"dashscope.aliyuncs.com"}

// Selector picks the wire protocol for an account's credentials.
// An explicit Kind on the credentials always wins; KindAuto consults the lists.
type Selector struct {
	ModelFamilies   []string
	ProviderDomains []string
	Mode            MatchMode
}

// DefaultSelector requires both signals before choosing the app variant.
func DefaultSelector() Selector {
	return Selector{
		ModelFamilies:   DefaultModelFamilies,
		ProviderDomains: DefaultProviderDomains,
		Mode:            MatchAll,
	}
}

// Resolve returns KindChat or KindApp, never KindAuto.
func (s Selector) Resolve(c Credentials) Kind {
	switch c.Kind {
	case KindChat, KindApp:
		return c.Kind
	}

	model := strings.ToLower(strings.TrimSpace(c.Model))
	url := strings.ToLower(c.BaseURL)

	familyHit := containsAny(model, s.ModelFamilies)
	domainHit := containsAny(url, s.ProviderDomains)

	var app bool
	if s.Mode == MatchAny {
		app = familyHit || domainHit
	} else {
		app = familyHit && domainHit
	}
	if app {
		return KindApp
	}
	return KindChat
}

func containsAny(s string, subs []string) bool {
	if s == "" {
		return false
	}
	for _, sub := range subs {
		sub = strings.ToLower(strings.TrimSpace(sub))
		if sub != "" && strings.Contains(s, sub) {
			return true
		}
	}
	return false
}
