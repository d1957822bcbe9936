package reply

import (
	"errors"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
)

// Prompt names. Files are looked up as <dir>/<name>_prompt.txt.
const (
	PromptClassify = "classify"
	PromptPrice    = "price"
	PromptTech     = "tech"
	PromptStore    = "store"
	PromptDefault  = "default"
	PromptQuality  = "quality"
)

var promptNames = []string{PromptClassify, PromptPrice, PromptTech, PromptStore, PromptDefault, PromptQuality}

var builtinPrompts = map[string]string{
	PromptClassify: `你是电商客服的意图分类器。判断买家消息的意图，只能从下列标签中选择一个并原样输出，不要输出任何其他内容：
price（价格、议价）
tech（使用方法）
store（门店、适用地区）
greeting（打招呼）
shipping（发货、物流）
availability（库存、是否有货）
specification（规格、参数）
default（其他）`,

	PromptPrice: `你是闲鱼卖家的客服，负责回答价格相关的问题。
商品价格固定，不接受议价。根据商品信息礼貌地说明价格，语气友好，回复不超过50字。`,

	PromptTech: `你是闲鱼卖家的客服，负责解答商品的使用方法。
根据商品信息说明使用步骤；信息不足时引导买家查看详情页的使用说明。回复不超过80字。`,

	PromptStore: `你是闲鱼卖家的客服，负责解答门店和适用地区的问题。
只依据商品信息中的使用地区和描述作答，不要编造门店；不确定时引导买家查看详情页门店列表。回复不超过60字。`,

	PromptDefault: `你是闲鱼卖家的客服。根据商品信息和最近对话，简洁友好地回答买家的问题，回复不超过50字。
不知道的信息不要编造，引导买家查看商品详情页。`,

	PromptQuality: `评估以下客服回复的质量，从1-10打分：

商品：{title}
用户问题：{message}
客服回复：{reply}

评估维度：
1. 相关性（是否回答了用户问题）
2. 专业性（是否体现商品知识）
3. 友好性（语言是否亲切）
4. 实用性（是否提供有用信息）

只返回分数（1-10）：`,
}

// PromptSet holds the system prompts. Files in dir override the built-in
// text per name; a missing or unreadable file keeps the built-in prompt.
type PromptSet struct {
	dir string

	mu      sync.RWMutex
	prompts map[string]string
}

// NewPromptSet loads prompts from dir. An empty dir uses built-ins only.
func NewPromptSet(dir string) *PromptSet {
	p := &PromptSet{dir: dir}
	p.Reload()
	return p
}

// Dir returns the directory prompts are read from.
func (p *PromptSet) Dir() string { return p.dir }

// Reload re-reads every prompt file and swaps the set atomically.
// It returns the number of prompts read from disk.
func (p *PromptSet) Reload() int {
	next := make(map[string]string, len(promptNames))
	loaded := 0
	for _, name := range promptNames {
		next[name] = builtinPrompts[name]
		if p.dir == "" {
			continue
		}
		path := filepath.Join(p.dir, name+"_prompt.txt")
		data, err := os.ReadFile(path)
		if err != nil {
			if !errors.Is(err, fs.ErrNotExist) {
				slog.Warn("reply: prompt file unreadable, using built-in", "file", path, "error", err)
			}
			continue
		}
		if text := strings.TrimSpace(string(data)); text != "" {
			next[name] = text
			loaded++
		}
	}

	p.mu.Lock()
	p.prompts = next
	p.mu.Unlock()

	slog.Debug("reply: prompts loaded", "dir", p.dir, "from_disk", loaded)
	return loaded
}

// Get returns the prompt for name, or "" for an unknown name.
func (p *PromptSet) Get(name string) string {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.prompts[name]
}

// ForIntent returns the generation system prompt for intent, falling back
// to the default prompt.
func (p *PromptSet) ForIntent(intent string) string {
	switch intent {
	case PromptPrice, PromptTech, PromptStore:
		if s := p.Get(intent); s != "" {
			return s
		}
	}
	return p.Get(PromptDefault)
}

// QualityPrompt renders the scoring prompt.
func (p *PromptSet) QualityPrompt(title, message, reply string) string {
	return strings.NewReplacer(
		"{title}", title,
		"{message}", message,
		"{reply}", reply,
	).Replace(p.Get(PromptQuality))
}

func isPromptFile(name string) bool {
	base := filepath.Base(name)
	if !strings.HasSuffix(base, "_prompt.txt") {
		return false
	}
	stem := strings.TrimSuffix(base, "_prompt.txt")
	for _, n := range promptNames {
		if n == stem {
			return true
		}
	}
	return false
}
