package providers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"
)

// --- chat-completion variant ---

func TestOpenAIProvider_Complete(t *testing.T) {
	var got map[string]interface{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/chat/completions" {
			t.Errorf("unexpected path %q", r.URL.Path)
		}
		if auth := r.Header.Get("Authorization"); auth != "Bearer sk-test" {
			t.Errorf("unexpected auth header %q", auth)
		}
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Errorf("decode body: %v", err)
		}
		w.Write([]byte(`{"choices":[{"message":{"role":"assistant","content":"  你好，在的  "}}]}`))
	}))
	defer srv.Close()

	p := NewOpenAIProvider("test", "sk-test", srv.URL+"/v1", "qwen-plus", time.Second)
	text, err := p.Complete(context.Background(), CompletionRequest{
		SystemPrompt: "sys",
		UserContent:  "在吗",
		MaxTokens:    200,
		Temperature:  0.5,
	})
	if err != nil {
		t.Fatalf("Complete: %v", err)
	}
	if text != "你好，在的" {
		t.Fatalf("expected trimmed text, got %q", text)
	}
	if got["model"] != "qwen-plus" {
		t.Fatalf("expected model qwen-plus, got %v", got["model"])
	}
	if got["max_tokens"].(float64) != 200 {
		t.Fatalf("expected max_tokens 200, got %v", got["max_tokens"])
	}
	msgs := got["messages"].([]interface{})
	if len(msgs) != 2 {
		t.Fatalf("expected system+user messages, got %d", len(msgs))
	}
	if msgs[0].(map[string]interface{})["role"] != "system" {
		t.Fatalf("first message should be system, got %v", msgs[0])
	}
}

func TestOpenAIProvider_NonSuccessIsHTTPError(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusTooManyRequests)
		w.Write([]byte(`{"error":"slow down"}`))
	}))
	defer srv.Close()

	p := NewOpenAIProvider("test", "k", srv.URL, "m", time.Second)
	_, err := p.Complete(context.Background(), CompletionRequest{UserContent: "x"})

	var httpErr *HTTPError
	if !errors.As(err, &httpErr) {
		t.Fatalf("expected *HTTPError, got %v", err)
	}
	if httpErr.Status != http.StatusTooManyRequests {
		t.Fatalf("expected 429, got %d", httpErr.Status)
	}
	if n := atomic.LoadInt32(&calls); n != 1 {
		t.Fatalf("expected exactly one call (no retry), got %d", n)
	}
}

func TestOpenAIProvider_Timeout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(200 * time.Millisecond)
		w.Write([]byte(`{"choices":[{"message":{"content":"late"}}]}`))
	}))
	defer srv.Close()

	p := NewOpenAIProvider("test", "k", srv.URL, "m", 20*time.Millisecond)
	_, err := p.Complete(context.Background(), CompletionRequest{UserContent: "x"})
	if err == nil {
		t.Fatal("expected timeout error")
	}
	if !IsTimeout(err) {
		t.Fatalf("expected IsTimeout, got %v", err)
	}
}

func TestOpenAIProvider_NoChoices(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"choices":[]}`))
	}))
	defer srv.Close()

	p := NewOpenAIProvider("test", "k", srv.URL, "m", time.Second)
	_, err := p.Complete(context.Background(), CompletionRequest{UserContent: "x"})
	if !errors.Is(err, ErrEmptyResponse) {
		t.Fatalf("expected ErrEmptyResponse, got %v", err)
	}
}

// --- app-style variant ---

func TestExtractAppID(t *testing.T) {
	cases := []struct {
		url     string
		want    string
		wantErr bool
	}{
		{"https://dashscope.aliyuncs.com/api/v1/apps/abc123/completion", "abc123", false},
		{"https://dashscope.aliyuncs.com/api/v1/apps/abc123", "abc123", false},
		{"https://dashscope.aliyuncs.com/api/v1/apps/abc123?x=1", "abc123", false},
		{"https://dashscope.aliyuncs.com/compatible-mode/v1", "", true},
		{"https://dashscope.aliyuncs.com/api/v1/apps/", "", true},
	}
	for _, c := range cases {
		got, err := ExtractAppID(c.url)
		if c.wantErr {
			if !errors.Is(err, ErrMissingAppID) {
				t.Fatalf("%s: expected ErrMissingAppID, got %v", c.url, err)
			}
			continue
		}
		if err != nil || got != c.want {
			t.Fatalf("%s: got (%q, %v), want %q", c.url, got, err, c.want)
		}
	}
}

func TestDashScopeAppProvider_Complete(t *testing.T) {
	var body appRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/v1/apps/app-42/completion" {
			t.Errorf("unexpected path %q", r.URL.Path)
		}
		if auth := r.Header.Get("Authorization"); auth != "Bearer sk-app" {
			t.Errorf("unexpected auth header %q", auth)
		}
		json.NewDecoder(r.Body).Decode(&body)
		w.Write([]byte(`{"output":{"text":"券码已发"},"request_id":"r1"}`))
	}))
	defer srv.Close()

	p, err := NewDashScopeAppProvider("sk-app", "https://dashscope.aliyuncs.com/api/v1/apps/app-42", srv.URL, time.Second)
	if err != nil {
		t.Fatalf("NewDashScopeAppProvider: %v", err)
	}
	text, err := p.Complete(context.Background(), CompletionRequest{
		SystemPrompt: "你是客服",
		UserContent:  "怎么用",
		MaxTokens:    200,
		Temperature:  0.2,
	})
	if err != nil {
		t.Fatalf("Complete: %v", err)
	}
	if text != "券码已发" {
		t.Fatalf("unexpected text %q", text)
	}
	if !strings.HasPrefix(body.Input.Prompt, "你是客服\n\n用户问题：怎么用") {
		t.Fatalf("prompt not concatenated: %q", body.Input.Prompt)
	}
	if body.Parameters.MaxTokens != 200 || body.Parameters.Temperature != 0.2 {
		t.Fatalf("unexpected parameters %+v", body.Parameters)
	}
}

func TestDashScopeAppProvider_MissingOutputText(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"output":{}}`))
	}))
	defer srv.Close()

	p, _ := NewDashScopeAppProvider("k", "x/apps/a1", srv.URL, time.Second)
	_, err := p.Complete(context.Background(), CompletionRequest{UserContent: "x"})
	if !errors.Is(err, ErrEmptyResponse) {
		t.Fatalf("expected ErrEmptyResponse, got %v", err)
	}
}

func TestDashScopeAppProvider_NonSuccess(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer srv.Close()

	p, _ := NewDashScopeAppProvider("k", "x/apps/a1", srv.URL, time.Second)
	_, err := p.Complete(context.Background(), CompletionRequest{UserContent: "x"})
	var httpErr *HTTPError
	if !errors.As(err, &httpErr) || httpErr.Status != http.StatusUnauthorized {
		t.Fatalf("expected 401 HTTPError, got %v", err)
	}
}

// --- selector ---

func TestSelector_Resolve(t *testing.T) {
	all := DefaultSelector()
	anyMode := Selector{ModelFamilies: []string{"qwen", "deepseek"}, ProviderDomains: []string{"dashscope", "aliyun"}, Mode: MatchAny}

	cases := []struct {
		name string
		sel  Selector
		cred Credentials
		want Kind
	}{
		{"explicit chat wins", all, Credentials{Model: "custom", BaseURL: "https://dashscope.aliyuncs.com/api/v1/apps/x", Kind: KindChat}, KindChat},
		{"explicit app wins", all, Credentials{Model: "gpt-4o", Kind: KindApp}, KindApp},
		{"all: both signals", all, Credentials{Model: "Custom", BaseURL: "https://dashscope.aliyuncs.com/api/v1/apps/x"}, KindApp},
		{"all: model only", all, Credentials{Model: "custom", BaseURL: "https://api.openai.com/v1"}, KindChat},
		{"all: domain only", all, Credentials{Model: "qwen-plus", BaseURL: "https://dashscope.aliyuncs.com/compatible-mode/v1"}, KindChat},
		{"any: family only", anyMode, Credentials{Model: "deepseek-chat", BaseURL: "https://api.deepseek.com"}, KindApp},
		{"any: neither", anyMode, Credentials{Model: "gpt-4o", BaseURL: "https://api.openai.com/v1"}, KindChat},
	}
	for _, c := range cases {
		if got := c.sel.Resolve(c.cred); got != c.want {
			t.Fatalf("%s: got %s, want %s", c.name, got, c.want)
		}
	}
}

// --- registry ---

type stubBackend struct {
	kind Kind
	id   int
}

func (s *stubBackend) Complete(context.Context, CompletionRequest) (string, error) { return "ok", nil }
func (s *stubBackend) Kind() Kind                                                  { return s.kind }
func (s *stubBackend) Name() string                                                { return "stub" }

func TestRegistry_CachesAndRebuilds(t *testing.T) {
	builds := 0
	r := NewRegistry(RegistryConfig{}).WithBuildFunc(func(c Credentials, k Kind) (Backend, error) {
		builds++
		return &stubBackend{kind: k, id: builds}, nil
	})

	creds := Credentials{APIKey: "k1", Model: "qwen-plus", BaseURL: "https://x"}
	a, _ := r.Get("acct-1", creds)
	b, _ := r.Get("acct-1", creds)
	if a != b || builds != 1 {
		t.Fatalf("expected cached handle, builds=%d", builds)
	}

	// Not shared across accounts.
	c, _ := r.Get("acct-2", creds)
	if c == a {
		t.Fatal("handles must not be shared across accounts")
	}

	// Credential change rebuilds.
	creds.APIKey = "k2"
	d, _ := r.Get("acct-1", creds)
	if d == a {
		t.Fatal("expected rebuild after credential change")
	}

	r.Invalidate("acct-1")
	if r.Len() != 1 {
		t.Fatalf("expected only acct-2 handle left, got %d", r.Len())
	}
	r.InvalidateAll()
	if r.Len() != 0 {
		t.Fatalf("expected no handles, got %d", r.Len())
	}
}

func TestRegistry_MissingAppID(t *testing.T) {
	r := NewRegistry(RegistryConfig{})
	_, err := r.Get("acct", Credentials{APIKey: "k", Kind: KindApp, BaseURL: "https://dashscope.aliyuncs.com/compatible-mode/v1"})
	if !errors.Is(err, ErrMissingAppID) {
		t.Fatalf("expected ErrMissingAppID, got %v", err)
	}
}

func TestRegistry_RateLimitedWrapper(t *testing.T) {
	r := NewRegistry(RegistryConfig{RequestsPerMinute: 60}).WithBuildFunc(func(c Credentials, k Kind) (Backend, error) {
		return &stubBackend{kind: k}, nil
	})
	b, err := r.Get("acct", Credentials{APIKey: "k"})
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if _, ok := b.(*limitedBackend); !ok {
		t.Fatalf("expected limited backend, got %T", b)
	}

	// Burst of one is available immediately; the second call must respect ctx.
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	if _, err := b.Complete(ctx, CompletionRequest{}); err != nil {
		t.Fatalf("first call: %v", err)
	}
	if _, err := b.Complete(ctx, CompletionRequest{}); err == nil {
		t.Fatal("expected rate limit wait to fail within 10ms")
	}
}
