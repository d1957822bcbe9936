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
	// DashScopeAppEndpoint is the provider root for app-style completion calls.
	DashScopeAppEndpoint = "https://dashscope.aliyuncs.com"
)

// DashScopeAppProvider implements Backend for DashScope application completions.
// The app id is embedded in the configured base URL (".../apps/{app_id}...")
// and the request carries one concatenated prompt instead of a message array.
type DashScopeAppProvider struct {
	apiKey   string
	endpoint string
	appID    string
	client   *http.Client
}

// NewDashScopeAppProvider extracts the app id from baseURL and returns
// ErrMissingAppID when it is absent.
func NewDashScopeAppProvider(apiKey, baseURL, endpoint string, timeout time.Duration) (*DashScopeAppProvider, error) {
	appID, err := ExtractAppID(baseURL)
	if err != nil {
		return nil, err
	}
	if endpoint == "" {
		endpoint = DashScopeAppEndpoint
	}
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &DashScopeAppProvider{
		apiKey:   apiKey,
		endpoint: strings.TrimRight(endpoint, "/"),
		appID:    appID,
		client:   &http.Client{Timeout: timeout},
	}, nil
}

// ExtractAppID returns the path segment following "/apps/" in baseURL.
func ExtractAppID(baseURL string) (string, error) {
	idx := strings.Index(baseURL, "/apps/")
	if idx < 0 {
		return "", fmt.Errorf("%w: %q", ErrMissingAppID, baseURL)
	}
	rest := baseURL[idx+len("/apps/"):]
	if end := strings.IndexAny(rest, "/?#"); end >= 0 {
		rest = rest[:end]
	}
	if rest == "" {
		return "", fmt.Errorf("%w: %q", ErrMissingAppID, baseURL)
	}
	return rest, nil
}

func (p *DashScopeAppProvider) Name() string { return "dashscope-app" }
func (p *DashScopeAppProvider) Kind() Kind   { return KindApp }

// URL returns the completion endpoint for this app.
func (p *DashScopeAppProvider) URL() string {
	return fmt.Sprintf("%s/api/v1/apps/%s/completion", p.endpoint, p.appID)
}

func (p *DashScopeAppProvider) Complete(ctx context.Context, req CompletionRequest) (string, error) {
	body := appRequest{
		Input: appInput{Prompt: buildAppPrompt(req.SystemPrompt, req.UserContent)},
		Parameters: appParameters{
			MaxTokens:   req.MaxTokens,
			Temperature: req.Temperature,
		},
	}
	data, err := json.Marshal(body)
	if err != nil {
		return "", fmt.Errorf("dashscope-app: marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.URL(), bytes.NewReader(data))
	if err != nil {
		return "", fmt.Errorf("dashscope-app: create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+p.apiKey)

	slog.Debug("dashscope-app: request", "url", p.URL(), "key", MaskKey(p.apiKey))

	resp, err := p.client.Do(httpReq)
	if err != nil {
		return "", fmt.Errorf("dashscope-app: request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return "", &HTTPError{
			Status: resp.StatusCode,
			Body:   "dashscope-app: " + string(respBody),
		}
	}

	var out appResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("dashscope-app: decode response: %w", err)
	}
	if out.Output == nil || out.Output.Text == nil {
		return "", fmt.Errorf("dashscope-app: output.text missing: %w", ErrEmptyResponse)
	}
	text := strings.TrimSpace(*out.Output.Text)
	if text == "" {
		return "", fmt.Errorf("dashscope-app: %w", ErrEmptyResponse)
	}
	return text, nil
}

// buildAppPrompt folds the system and user parts into the single prompt string
// the app protocol accepts.
func buildAppPrompt(system, user string) string {
	switch {
	case system != "" && user != "":
		return system + "\n\n用户问题：" + user + "\n\n请直接回答用户的问题："
	case user != "":
		return user
	default:
		return system
	}
}

type appRequest struct {
	Input      appInput      `json:"input"`
	Parameters appParameters `json:"parameters"`
}

type appInput struct {
	Prompt string `json:"prompt"`
}

type appParameters struct {
	MaxTokens   int     `json:"max_tokens,omitempty"`
	Temperature float64 `json:"temperature"`
}

type appResponse struct {
	Output *struct {
		Text *string `json:"text"`
	} `json:"output"`
	RequestID string `json:"request_id"`
}
