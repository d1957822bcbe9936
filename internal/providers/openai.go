package providers

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"
)

const (
	openaiDefaultBase  = "https://api.openai.com/v1"
	openaiDefaultModel = "gpt-3.5-turbo"

	// DefaultTimeout bounds every backend round trip.
	DefaultTimeout = 30 * time.Second
)

// OpenAIProvider implements Backend for OpenAI-compatible chat-completion APIs
// (OpenAI, DashScope compatible-mode, DeepSeek, Moonshot, vLLM, etc.)
type OpenAIProvider struct {
	name     string
	apiKey   string
	apiBase  string
	chatPath string // defaults to "/chat/completions"
	model    string
	client   *http.Client
}

func NewOpenAIProvider(name, apiKey, apiBase, model string, timeout time.Duration) *OpenAIProvider {
	if apiBase == "" {
		apiBase = openaiDefaultBase
	}
	if model == "" {
		model = openaiDefaultModel
	}
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	apiBase = strings.TrimRight(apiBase, "/")

	return &OpenAIProvider{
		name:     name,
		apiKey:   apiKey,
		apiBase:  apiBase,
		chatPath: "/chat/completions",
		model:    model,
		client:   &http.Client{Timeout: timeout},
	}
}

func (p *OpenAIProvider) Name() string { return p.name }
func (p *OpenAIProvider) Kind() Kind   { return KindChat }

// Complete issues a single chat-completion call. There is no retry: a timeout or
// non-success status is returned to the caller as is.
func (p *OpenAIProvider) Complete(ctx context.Context, req CompletionRequest) (string, error) {
	body := p.buildRequestBody(req)

	respBody, err := p.doRequest(ctx, body)
	if err != nil {
		return "", err
	}
	defer respBody.Close()

	var oaiResp openAIResponse
	if err := json.NewDecoder(respBody).Decode(&oaiResp); err != nil {
		return "", fmt.Errorf("%s: decode response: %w", p.name, err)
	}
	if len(oaiResp.Choices) == 0 {
		return "", fmt.Errorf("%s: no choices: %w", p.name, ErrEmptyResponse)
	}

	text := strings.TrimSpace(oaiResp.Choices[0].Message.Content)
	if text == "" {
		return "", fmt.Errorf("%s: %w", p.name, ErrEmptyResponse)
	}
	return text, nil
}

func (p *OpenAIProvider) buildRequestBody(req CompletionRequest) map[string]interface{} {
	msgs := make([]Message, 0, 2)
	if req.SystemPrompt != "" {
		msgs = append(msgs, Message{Role: "system", Content: req.SystemPrompt})
	}
	msgs = append(msgs, Message{Role: "user", Content: req.UserContent})

	body := map[string]interface{}{
		"model":       p.model,
		"messages":    msgs,
		"temperature": req.Temperature,
	}
	if req.MaxTokens > 0 {
		body["max_tokens"] = req.MaxTokens
	}
	return body
}

func (p *OpenAIProvider) doRequest(ctx context.Context, body interface{}) (io.ReadCloser, error) {
	data, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("%s: marshal request: %w", p.name, err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.apiBase+p.chatPath, bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("%s: create request: %w", p.name, err)
	}

	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+p.apiKey)

	slog.Debug("openai: request", "provider", p.name, "url", p.apiBase+p.chatPath, "model", p.model, "key", MaskKey(p.apiKey))

	resp, err := p.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("%s: request failed: %w", p.name, err)
	}

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		resp.Body.Close()
		return nil, &HTTPError{
			Status: resp.StatusCode,
			Body:   fmt.Sprintf("%s: %s", p.name, string(respBody)),
		}
	}

	return resp.Body, nil
}

type openAIResponse struct {
	Choices []struct {
		Message struct {
			Role    string `json:"role"`
			Content string `json:"content"`
		} `json:"message"`
		FinishReason string `json:"finish_reason"`
	} `json:"choices"`
}
