package providers

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// RegistryConfig configures how backend handles are built.
type RegistryConfig struct {
	Selector          Selector
	Timeout           time.Duration
	AppEndpoint       string // app-style provider root; defaults to DashScopeAppEndpoint
	RequestsPerMinute int    // per-account call budget; 0 disables limiting
}

// BuildFunc constructs a backend for resolved credentials. Tests substitute it.
type BuildFunc func(creds Credentials, kind Kind) (Backend, error)

type handleKey struct {
	account string
	kind    Kind
}

type handle struct {
	fingerprint string
	backend     Backend
}

// Registry holds one backend handle per (account, kind) pair.
// Handles are created lazily and rebuilt when the account's credentials change.
// Safe for concurrent use.
type Registry struct {
	mu      sync.Mutex
	cfg     RegistryConfig
	build   BuildFunc
	handles map[handleKey]*handle
}

// NewRegistry creates a registry that builds the two HTTP variants.
func NewRegistry(cfg RegistryConfig) *Registry {
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.Selector.Mode == "" {
		cfg.Selector = DefaultSelector()
	}
	r := &Registry{cfg: cfg, handles: make(map[handleKey]*handle)}
	r.build = r.defaultBuild
	return r
}

// WithBuildFunc replaces the backend constructor.
func (r *Registry) WithBuildFunc(fn BuildFunc) *Registry {
	r.mu.Lock()
	r.build = fn
	r.mu.Unlock()
	return r
}

// Selector returns the configured kind selector.
func (r *Registry) Selector() Selector { return r.cfg.Selector }

// Get returns the handle for accountID, creating or rebuilding it as needed.
func (r *Registry) Get(accountID string, creds Credentials) (Backend, error) {
	kind := r.cfg.Selector.Resolve(creds)
	key := handleKey{account: accountID, kind: kind}
	fp := fingerprint(creds, kind)

	r.mu.Lock()
	defer r.mu.Unlock()

	if h, ok := r.handles[key]; ok && h.fingerprint == fp {
		return h.backend, nil
	}

	b, err := r.build(creds, kind)
	if err != nil {
		return nil, fmt.Errorf("build %s backend for %s: %w", kind, accountID, err)
	}
	if r.cfg.RequestsPerMinute > 0 {
		b = &limitedBackend{
			Backend: b,
			limiter: rate.NewLimiter(rate.Limit(float64(r.cfg.RequestsPerMinute)/60.0), 1),
		}
	}
	r.handles[key] = &handle{fingerprint: fp, backend: b}
	slog.Debug("providers: built backend handle", "account", accountID, "kind", kind, "provider", b.Name())
	return b, nil
}

// Invalidate drops every handle held for accountID.
func (r *Registry) Invalidate(accountID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for k := range r.handles {
		if k.account == accountID {
			delete(r.handles, k)
		}
	}
}

// InvalidateAll drops every handle.
func (r *Registry) InvalidateAll() {
	r.mu.Lock()
	r.handles = make(map[handleKey]*handle)
	r.mu.Unlock()
}

// Len reports the number of live handles.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.handles)
}

func (r *Registry) defaultBuild(creds Credentials, kind Kind) (Backend, error) {
	if kind == KindApp {
		return NewDashScopeAppProvider(creds.APIKey, creds.BaseURL, r.cfg.AppEndpoint, r.cfg.Timeout)
	}
	return NewOpenAIProvider("openai-compat", creds.APIKey, creds.BaseURL, creds.Model, r.cfg.Timeout), nil
}

func fingerprint(c Credentials, kind Kind) string {
	sum := sha256.Sum256([]byte(c.APIKey + "|" + c.BaseURL + "|" + c.Model + "|" + string(kind)))
	return hex.EncodeToString(sum[:])
}

// limitedBackend waits on a token bucket before each call.
type limitedBackend struct {
	Backend
	limiter *rate.Limiter
}

func (l *limitedBackend) Complete(ctx context.Context, req CompletionRequest) (string, error) {
	if err := l.limiter.Wait(ctx); err != nil {
		return "", fmt.Errorf("%s: rate limit wait: %w", l.Backend.Name(), err)
	}
	return l.Backend.Complete(ctx, req)
}
