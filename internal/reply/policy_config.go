package reply

import (
	"fmt"
	"os"
	"regexp"
	"strings"

	"gopkg.in/yaml.v3"
)

// Canonical intent tags.
const (
	IntentPrice         = "price"
	IntentTech          = "tech"
	IntentStore         = "store"
	IntentGreeting      = "greeting"
	IntentShipping      = "shipping"
	IntentAvailability  = "availability"
	IntentSpecification = "specification"
	IntentDefault       = "default"
)

// Rule binds keywords and regular expressions to one intent.
// Keywords match as case-insensitive substrings; patterns run against the
// lowercased message.
type Rule struct {
	Intent   string   `yaml:"intent"`
	Keywords []string `yaml:"keywords,omitempty"`
	Patterns []string `yaml:"patterns,omitempty"`

	compiled []*regexp.Regexp
}

func (r *Rule) match(lower string) bool {
	for _, kw := range r.Keywords {
		if kw != "" && strings.Contains(lower, strings.ToLower(kw)) {
			return true
		}
	}
	for _, re := range r.compiled {
		if re.MatchString(lower) {
			return true
		}
	}
	return false
}

// FixedReplies are the deterministic answers. An empty field disables that
// short-circuit. {price} and {area} are substituted.
type FixedReplies struct {
	Price         string `yaml:"price"`
	Tech          string `yaml:"tech"`
	StoreWithArea string `yaml:"store_with_area"`
	StoreGeneric  string `yaml:"store_generic"`
	Refund        string `yaml:"refund"`
}

// TemperatureSchedule picks the generation temperature per intent.
type TemperatureSchedule struct {
	Price      float64 `yaml:"price"`
	PriceHeavy float64 `yaml:"price_heavy"` // once negotiation count exceeds HeavyAfter
	HeavyAfter int     `yaml:"heavy_after"`
	Tech       float64 `yaml:"tech"`
	Store      float64 `yaml:"store"`
	Default    float64 `yaml:"default"`
}

// PolicyConfig is one versioned set of rules, prompts-independent replies
// and thresholds. Exactly one is selected at startup.
type PolicyConfig struct {
	Version        string              `yaml:"version"`
	Rules          []Rule              `yaml:"rules"`
	Labels         []string            `yaml:"labels"`
	Denylist       []string            `yaml:"denylist"`
	RefundKeywords []string            `yaml:"refund_keywords"`
	AbusiveTerms   []string            `yaml:"abusive_terms"`
	Fixed          FixedReplies        `yaml:"fixed"`
	Templates      map[string][]string `yaml:"templates"`
	Temperature    TemperatureSchedule `yaml:"temperature"`
	MinReplyRunes  int                 `yaml:"min_reply_runes"`
	MaxReplyRunes  int                 `yaml:"max_reply_runes"`
	QualityMin     int                 `yaml:"quality_min"`
}

var baseRules = []Rule{
	{
		Intent:   IntentPrice,
		Keywords: []string{"多少钱", "价格", "费用", "收费", "钱", "元", "块", "价位"},
		Patterns: []string{`便宜|优惠|打折|降价|减价|砍价|议价`, `最低|底价|再少|少点`},
	},
	{
		Intent:   IntentTech,
		Keywords: []string{"怎么用", "如何使用", "使用方法", "怎么使用", "操作", "步骤", "流程", "教程"},
	},
	{
		Intent:   IntentStore,
		Keywords: []string{"门店", "店铺", "地址", "位置", "哪里", "在哪", "能用吗", "可以用吗", "支持"},
	},
	{
		Intent:   IntentGreeting,
		Patterns: []string{`你好|您好|\bhi\b|hello|在吗|在不在`, `早上好|下午好|晚上好`},
	},
	{
		Intent:   IntentShipping,
		Patterns: []string{`发货|快递|物流|邮寄`, `几天到|多少天|多久|什么时候`, `包装|运费|包邮`},
	},
	{
		Intent:   IntentAvailability,
		Patterns: []string{`有货|现货|库存|还有`, `能买|可以买|有没有`},
	},
	{
		Intent:   IntentSpecification,
		Patterns: []string{`尺寸|大小|规格|参数`, `颜色|款式|型号`, `重量|材质|配置`},
	},
}

var baseTemplates = map[string][]string{
	IntentGreeting: {
		"亲，您好！有什么可以帮您的吗？",
		"欢迎光临！请问需要了解什么呢？",
		"您好！很高兴为您服务~",
	},
	IntentPrice: {
		"亲，这个价格已经很优惠了哦！",
		"价格都是实价，质量有保证的！",
	},
	IntentShipping: {
		"拍下后马上发货，请留意消息哦！",
		"付款后自动发货，一般几分钟内就能收到！",
	},
	IntentAvailability: {
		"有现货的，可以直接拍！",
		"库存充足，放心购买！",
	},
	IntentSpecification: {
		"详细规格可以看商品详情页！",
		"规格信息都在描述里，很详细！",
	},
	IntentDefault: {
		"商品详情页有详细介绍，可以看看哦！",
		"有什么具体想了解的可以问我！",
	},
}

func basePolicy(version string) PolicyConfig {
	rules := make([]Rule, len(baseRules))
	for i, r := range baseRules {
		rules[i] = Rule{
			Intent:   r.Intent,
			Keywords: append([]string(nil), r.Keywords...),
			Patterns: append([]string(nil), r.Patterns...),
		}
	}
	templates := make(map[string][]string, len(baseTemplates))
	for k, v := range baseTemplates {
		templates[k] = append([]string(nil), v...)
	}
	return PolicyConfig{
		Version: version,
		Rules:   rules,
		Labels: []string{
			IntentPrice, IntentTech, IntentStore, IntentGreeting,
			IntentShipping, IntentAvailability, IntentSpecification, IntentDefault,
		},
		Denylist: []string{
			"[去支付]", "[立即购买]", "[确认收货]", "[申请退款]",
			"系统消息", "订单状态", "物流信息", "支付成功",
			"自动回复", "机器人", "bot",
		},
		RefundKeywords: []string{"退款", "退货", "不要了"},
		AbusiveTerms:   []string{"傻", "笨", "滚", "死", "骗子"},
		Templates:      templates,
		Temperature: TemperatureSchedule{
			Price:      0.3,
			PriceHeavy: 0.1,
			HeavyAfter: 3,
			Tech:       0.2,
			Store:      0.1,
			Default:    0.5,
		},
		MinReplyRunes: 5,
		MaxReplyRunes: 200,
		QualityMin:    7,
	}
}

// BuiltinPolicy returns a built-in policy by version.
//
//	v2  fixed price/usage/store/refund answers, templates as fallback
//	v1  templates only; every accepted message goes to generation
func BuiltinPolicy(version string) (PolicyConfig, error) {
	switch strings.ToLower(strings.TrimSpace(version)) {
	case "", "v2":
		p := basePolicy("v2")
		p.Fixed = FixedReplies{
			Price:         "券码价格{price}，固定不议价",
			Tech:          "①拍下秒发券码 ②详情页第2、3张图有使用说明",
			StoreWithArea: "支持{area}使用，详细门店请查看详情页门店列表确认",
			StoreGeneric:  "请查看详情页门店列表确认是否可用",
			Refund:        "未使用可申请退款，已使用无法退款",
		}
		return p, nil
	case "v1":
		return basePolicy("v1"), nil
	default:
		return PolicyConfig{}, fmt.Errorf("reply: unknown policy version %q", version)
	}
}

// LoadPolicyFile overlays a YAML document onto base. Fields absent from the
// file keep their base values; lists present in the file replace the base list.
func LoadPolicyFile(path string, base PolicyConfig) (PolicyConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return PolicyConfig{}, fmt.Errorf("reply: read policy file: %w", err)
	}
	out := base
	if err := yaml.Unmarshal(data, &out); err != nil {
		return PolicyConfig{}, fmt.Errorf("reply: parse policy file %s: %w", path, err)
	}
	return out, nil
}

// Compile validates the policy and compiles its patterns. It must be called
// before the policy is used.
func (p *PolicyConfig) Compile() error {
	if len(p.Labels) == 0 {
		return fmt.Errorf("reply: policy %s has no labels", p.Version)
	}
	hasDefault := false
	for _, l := range p.Labels {
		if l == IntentDefault {
			hasDefault = true
		}
	}
	if !hasDefault {
		p.Labels = append(p.Labels, IntentDefault)
	}
	for i := range p.Rules {
		r := &p.Rules[i]
		if r.Intent == "" {
			return fmt.Errorf("reply: policy %s rule %d has no intent", p.Version, i)
		}
		r.compiled = r.compiled[:0]
		for _, pat := range r.Patterns {
			re, err := regexp.Compile(pat)
			if err != nil {
				return fmt.Errorf("reply: policy %s rule %s: %w", p.Version, r.Intent, err)
			}
			r.compiled = append(r.compiled, re)
		}
	}
	if p.MinReplyRunes <= 0 {
		p.MinReplyRunes = 5
	}
	if p.MaxReplyRunes <= 0 {
		p.MaxReplyRunes = 200
	}
	if p.QualityMin <= 0 {
		p.QualityMin = 7
	}
	return nil
}

// ResolvePolicy loads the built-in version, applies the optional YAML file
// and compiles the result.
func ResolvePolicy(version, file string) (*PolicyConfig, error) {
	p, err := BuiltinPolicy(version)
	if err != nil {
		return nil, err
	}
	if file != "" {
		if p, err = LoadPolicyFile(file, p); err != nil {
			return nil, err
		}
	}
	if err := p.Compile(); err != nil {
		return nil, err
	}
	return &p, nil
}

func (p *PolicyConfig) isLabel(s string) bool {
	for _, l := range p.Labels {
		if l == s {
			return true
		}
	}
	return false
}

func containsAnyFold(text string, terms []string) bool {
	lower := strings.ToLower(text)
	for _, t := range terms {
		if t != "" && strings.Contains(lower, strings.ToLower(t)) {
			return true
		}
	}
	return false
}
