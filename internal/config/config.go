package config

import (
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/titanous/json5"
)

// Duration is a time.Duration that reads from a Go duration string ("30s", "1h")
// or from a bare number of seconds.
type Duration time.Duration

func (d Duration) Std() time.Duration { return time.Duration(d) }

func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(time.Duration(d).String())
}

func (d *Duration) UnmarshalJSON(data []byte) error {
	var s string
	if err := json5.Unmarshal(data, &s); err == nil {
		v, err := time.ParseDuration(strings.TrimSpace(s))
		if err != nil {
			return fmt.Errorf("invalid duration %q: %w", s, err)
		}
		*d = Duration(v)
		return nil
	}
	var secs float64
	if err := json5.Unmarshal(data, &secs); err != nil {
		return fmt.Errorf("duration must be a string or number of seconds")
	}
	*d = Duration(time.Duration(secs * float64(time.Second)))
	return nil
}

// Config is the root configuration for the auto-reply service.
type Config struct {
	Database    DatabaseConfig    `json:"database"`
	Reply       ReplyConfig       `json:"reply"`
	Backend     BackendConfig     `json:"backend"`
	Catalog     CatalogConfig     `json:"catalog"`
	Channels    ChannelsConfig    `json:"channels"`
	Maintenance MaintenanceConfig `json:"maintenance"`
	Admin       AdminConfig       `json:"admin"`
	Telemetry   TelemetryConfig   `json:"telemetry,omitempty"`
	mu          sync.RWMutex
}

// DatabaseConfig selects the physical store.
// PostgresDSN is NEVER read from the config file (secret), only from env AUTOREPLY_POSTGRES_DSN.
type DatabaseConfig struct {
	Driver      string `json:"driver"`         // "sqlite" (default) or "postgres"
	Path        string `json:"path,omitempty"` // sqlite file path
	PostgresDSN string `json:"-"`              // from env AUTOREPLY_POSTGRES_DSN only
}

// IsPostgres reports whether the postgres store is selected and configured.
func (c *Config) IsPostgres() bool {
	return c.Database.Driver == "postgres" && c.Database.PostgresDSN != ""
}

// ReplyConfig tunes the reply-decision pipeline.
type ReplyConfig struct {
	ContextTTL     Duration `json:"context_ttl"`           // conversation context lifetime (default 1h)
	HistoryCap     int      `json:"history_cap"`           // turns kept per conversation (default 10)
	PromptHistory  int      `json:"prompt_history"`        // turns rendered into generation prompts (default 5)
	DedupWindow    Duration `json:"dedup_window"`          // reply cache TTL (default 5m)
	ThrottleWindow Duration `json:"throttle_window"`       // assistant-turn window (default 5m)
	ThrottleCap    int      `json:"throttle_cap"`          // assistant turns allowed per window (default 3)
	StaleAfter     Duration `json:"stale_after"`           // inbound messages older than this are skipped (default 5m)
	BackendTimeout Duration `json:"backend_timeout"`       // bound on every backend call (default 30s)
	MaxTokens      int      `json:"max_tokens"`            // generation max_tokens (default 200)
	BackendRPM     int      `json:"backend_rpm,omitempty"` // per-account backend call budget (0 = unlimited)
	PromptsDir     string   `json:"prompts_dir,omitempty"`
	WatchPrompts   bool     `json:"watch_prompts,omitempty"`
	PolicyVersion  string   `json:"policy_version,omitempty"` // built-in policy set (default "v2")
	PolicyFile     string   `json:"policy_file,omitempty"`    // optional YAML overrides
}

// BackendConfig configures backend-kind selection for accounts set to "auto".
type BackendConfig struct {
	ModelFamilies   []string `json:"model_families,omitempty"`
	ProviderDomains []string `json:"provider_domains,omitempty"`
	MatchMode       string   `json:"match_mode,omitempty"` // "all" (default) or "any"
	AppEndpoint     string   `json:"app_endpoint,omitempty"`
}

// CatalogConfig configures the item snapshot cache.
type CatalogConfig struct {
	CacheTTL    Duration `json:"cache_ttl"`            // in-memory item TTL (default 24h)
	SourceURL   string   `json:"source_url,omitempty"` // item lookup URL; {account} and {item} are substituted
	SourceToken string   `json:"-"`                    // from env AUTOREPLY_CATALOG_TOKEN only
}

// ChannelsConfig configures the bundled transport adapters.
type ChannelsConfig struct {
	Stdio    StdioChannelConfig    `json:"stdio"`
	WSBridge WSBridgeChannelConfig `json:"ws_bridge"`
	Telegram TelegramChannelConfig `json:"telegram"`
	Discord  DiscordChannelConfig  `json:"discord"`
}

// StdioChannelConfig enables the line-delimited JSON adapter on stdin/stdout.
type StdioChannelConfig struct {
	Enabled   bool                `json:"enabled"`
	AllowFrom FlexibleStringSlice `json:"allow_from,omitempty"`
}

// WSBridgeChannelConfig connects to a WebSocket bridge that relays the
// commerce platform's chat traffic.
type WSBridgeChannelConfig struct {
	Enabled   bool                `json:"enabled"`
	BridgeURL string              `json:"bridge_url,omitempty"`
	Token     string              `json:"-"` // from env AUTOREPLY_WS_BRIDGE_TOKEN only
	AllowFrom FlexibleStringSlice `json:"allow_from,omitempty"`
	SenderRPM int                 `json:"sender_rpm,omitempty"` // inbound messages per sender per minute (default 30)
}

// TelegramChannelConfig runs one Telegram bot as the storefront of one account.
type TelegramChannelConfig struct {
	Enabled   bool                `json:"enabled"`
	Token     string              `json:"-"` // from env AUTOREPLY_TELEGRAM_TOKEN only
	AccountID string              `json:"account_id,omitempty"`
	Proxy     string              `json:"proxy,omitempty"`
	AllowFrom FlexibleStringSlice `json:"allow_from,omitempty"`
	SenderRPM int                 `json:"sender_rpm,omitempty"`
}

// DiscordChannelConfig runs one Discord bot (direct messages only) for one account.
type DiscordChannelConfig struct {
	Enabled   bool                `json:"enabled"`
	Token     string              `json:"-"` // from env AUTOREPLY_DISCORD_TOKEN only
	AccountID string              `json:"account_id,omitempty"`
	AllowFrom FlexibleStringSlice `json:"allow_from,omitempty"`
	SenderRPM int                 `json:"sender_rpm,omitempty"`
}

// MaintenanceConfig schedules the cleanup pass.
type MaintenanceConfig struct {
	CleanupCron   string   `json:"cleanup_cron"`   // cron expression (default "0 * * * *")
	ItemRetention Duration `json:"item_retention"` // item snapshots older than this are removed (default 24h)
	TurnRetention Duration `json:"turn_retention"` // persisted turns older than this are removed (default 168h)
}

// AdminConfig exposes the admin HTTP API while serving.
type AdminConfig struct {
	Enabled        bool     `json:"enabled"`
	Host           string   `json:"host"`
	Port           int      `json:"port"`
	Token          string   `json:"-"`                         // from env AUTOREPLY_ADMIN_TOKEN only
	AllowedOrigins []string `json:"allowed_origins,omitempty"` // websocket origin allowlist, empty = any
}

// TelemetryConfig configures OpenTelemetry export for traces.
type TelemetryConfig struct {
	Enabled     bool              `json:"enabled,omitempty"`
	Endpoint    string            `json:"endpoint,omitempty"` // OTLP endpoint (e.g. "localhost:4318")
	Protocol    string            `json:"protocol,omitempty"` // "http" (default) or "grpc"
	Insecure    bool              `json:"insecure,omitempty"`
	ServiceName string            `json:"service_name,omitempty"` // default "autoreply"
	Headers     map[string]string `json:"headers,omitempty"`
}

// FlexibleStringSlice accepts both ["str"] and [123] in JSON.
type FlexibleStringSlice []string

func (f *FlexibleStringSlice) UnmarshalJSON(data []byte) error {
	var ss []string
	if err := json.Unmarshal(data, &ss); err == nil {
		*f = ss
		return nil
	}
	var raw []interface{}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	result := make([]string, 0, len(raw))
	for _, v := range raw {
		switch val := v.(type) {
		case string:
			result = append(result, val)
		case float64:
			result = append(result, fmt.Sprintf("%.0f", val))
		default:
			result = append(result, fmt.Sprintf("%v", val))
		}
	}
	*f = result
	return nil
}
