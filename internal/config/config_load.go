package config

import (
	"crypto/sha256"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/titanous/json5"
)

// Default returns a Config with sensible defaults.
func Default() *Config {
	return &Config{
		Database: DatabaseConfig{
			Driver: "sqlite",
			Path:   "~/.autoreply/autoreply.db",
		},
		Reply: ReplyConfig{
			ContextTTL:     Duration(time.Hour),
			HistoryCap:     10,
			PromptHistory:  5,
			DedupWindow:    Duration(5 * time.Minute),
			ThrottleWindow: Duration(5 * time.Minute),
			ThrottleCap:    3,
			StaleAfter:     Duration(5 * time.Minute),
			BackendTimeout: Duration(30 * time.Second),
			MaxTokens:      200,
			PolicyVersion:  "v2",
		},
		Backend: BackendConfig{
			MatchMode: "all",
		},
		Catalog: CatalogConfig{
			CacheTTL: Duration(24 * time.Hour),
		},
		Channels: ChannelsConfig{
			WSBridge: WSBridgeChannelConfig{SenderRPM: 30},
		},
		Maintenance: MaintenanceConfig{
			CleanupCron:   "0 * * * *",
			ItemRetention: Duration(24 * time.Hour),
			TurnRetention: Duration(7 * 24 * time.Hour),
		},
		Admin: AdminConfig{
			Host: "127.0.0.1",
			Port: 18790,
		},
		Telemetry: TelemetryConfig{
			Protocol:    "http",
			ServiceName: "autoreply",
		},
	}
}

// Load reads config from a JSON5 file, then overlays env vars.
// A missing file is not an error: defaults plus env are returned.
func Load(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		if !os.IsNotExist(err) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	} else if err := json5.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	cfg.applyEnvOverrides()
	cfg.applyDefaults()
	return cfg, nil
}

// applyEnvOverrides overlays env vars onto the config.
// Env vars take precedence over file values.
func (c *Config) applyEnvOverrides() {
	envStr := func(key string, dst *string) {
		if v := os.Getenv(key); v != "" {
			*dst = v
		}
	}
	envDur := func(key string, dst *Duration) {
		if v := os.Getenv(key); v != "" {
			if d, err := time.ParseDuration(v); err == nil {
				*dst = Duration(d)
			}
		}
	}
	envInt := func(key string, dst *int) {
		if v := os.Getenv(key); v != "" {
			if n, err := strconv.Atoi(v); err == nil {
				*dst = n
			}
		}
	}

	envStr("AUTOREPLY_DB_DRIVER", &c.Database.Driver)
	envStr("AUTOREPLY_DB_PATH", &c.Database.Path)
	envStr("AUTOREPLY_POSTGRES_DSN", &c.Database.PostgresDSN)
	envStr("AUTOREPLY_PROMPTS_DIR", &c.Reply.PromptsDir)
	envStr("AUTOREPLY_POLICY_FILE", &c.Reply.PolicyFile)
	envStr("AUTOREPLY_POLICY_VERSION", &c.Reply.PolicyVersion)
	envDur("AUTOREPLY_BACKEND_TIMEOUT", &c.Reply.BackendTimeout)
	envInt("AUTOREPLY_BACKEND_RPM", &c.Reply.BackendRPM)
	envStr("AUTOREPLY_APP_ENDPOINT", &c.Backend.AppEndpoint)
	envStr("AUTOREPLY_WS_BRIDGE_URL", &c.Channels.WSBridge.BridgeURL)
	envStr("AUTOREPLY_WS_BRIDGE_TOKEN", &c.Channels.WSBridge.Token)
	envStr("AUTOREPLY_CLEANUP_CRON", &c.Maintenance.CleanupCron)
	envStr("AUTOREPLY_CATALOG_URL", &c.Catalog.SourceURL)
	envStr("AUTOREPLY_CATALOG_TOKEN", &c.Catalog.SourceToken)

	// Postgres DSN implies the postgres driver unless one was chosen explicitly.
	if c.Database.PostgresDSN != "" && os.Getenv("AUTOREPLY_DB_DRIVER") == "" {
		c.Database.Driver = "postgres"
	}
	if c.Channels.WSBridge.BridgeURL != "" && os.Getenv("AUTOREPLY_WS_BRIDGE_URL") != "" {
		c.Channels.WSBridge.Enabled = true
	}

	envStr("AUTOREPLY_TELEGRAM_TOKEN", &c.Channels.Telegram.Token)
	envStr("AUTOREPLY_TELEGRAM_ACCOUNT", &c.Channels.Telegram.AccountID)
	if c.Channels.Telegram.Token != "" && os.Getenv("AUTOREPLY_TELEGRAM_TOKEN") != "" {
		c.Channels.Telegram.Enabled = true
	}

	envStr("AUTOREPLY_DISCORD_TOKEN", &c.Channels.Discord.Token)
	envStr("AUTOREPLY_DISCORD_ACCOUNT", &c.Channels.Discord.AccountID)
	if c.Channels.Discord.Token != "" && os.Getenv("AUTOREPLY_DISCORD_TOKEN") != "" {
		c.Channels.Discord.Enabled = true
	}

	envStr("AUTOREPLY_ADMIN_TOKEN", &c.Admin.Token)
	envStr("AUTOREPLY_ADMIN_HOST", &c.Admin.Host)
	envInt("AUTOREPLY_ADMIN_PORT", &c.Admin.Port)
	if v := os.Getenv("AUTOREPLY_ADMIN_ENABLED"); v != "" {
		c.Admin.Enabled = v == "true" || v == "1"
	}

	envStr("AUTOREPLY_TELEMETRY_ENDPOINT", &c.Telemetry.Endpoint)
	envStr("AUTOREPLY_TELEMETRY_PROTOCOL", &c.Telemetry.Protocol)
	envStr("AUTOREPLY_TELEMETRY_SERVICE_NAME", &c.Telemetry.ServiceName)
	if v := os.Getenv("AUTOREPLY_TELEMETRY_ENABLED"); v != "" {
		c.Telemetry.Enabled = v == "true" || v == "1"
	}
	if v := os.Getenv("AUTOREPLY_TELEMETRY_INSECURE"); v != "" {
		c.Telemetry.Insecure = v == "true" || v == "1"
	}
}

// applyDefaults restores defaults for zeroed fields a config file may have cleared.
func (c *Config) applyDefaults() {
	d := Default()
	r := &c.Reply
	if r.ContextTTL <= 0 {
		r.ContextTTL = d.Reply.ContextTTL
	}
	if r.HistoryCap <= 0 {
		r.HistoryCap = d.Reply.HistoryCap
	}
	if r.PromptHistory <= 0 {
		r.PromptHistory = d.Reply.PromptHistory
	}
	if r.DedupWindow <= 0 {
		r.DedupWindow = d.Reply.DedupWindow
	}
	if r.ThrottleWindow <= 0 {
		r.ThrottleWindow = d.Reply.ThrottleWindow
	}
	if r.ThrottleCap <= 0 {
		r.ThrottleCap = d.Reply.ThrottleCap
	}
	if r.StaleAfter <= 0 {
		r.StaleAfter = d.Reply.StaleAfter
	}
	if r.BackendTimeout <= 0 {
		r.BackendTimeout = d.Reply.BackendTimeout
	}
	if r.MaxTokens <= 0 {
		r.MaxTokens = d.Reply.MaxTokens
	}
	if r.PolicyVersion == "" {
		r.PolicyVersion = d.Reply.PolicyVersion
	}
	if c.Database.Driver == "" {
		c.Database.Driver = d.Database.Driver
	}
	if c.Backend.MatchMode == "" {
		c.Backend.MatchMode = d.Backend.MatchMode
	}
	if c.Catalog.CacheTTL <= 0 {
		c.Catalog.CacheTTL = d.Catalog.CacheTTL
	}
	if c.Maintenance.ItemRetention <= 0 {
		c.Maintenance.ItemRetention = d.Maintenance.ItemRetention
	}
	if c.Maintenance.TurnRetention <= 0 {
		c.Maintenance.TurnRetention = d.Maintenance.TurnRetention
	}
	if c.Maintenance.CleanupCron == "" {
		c.Maintenance.CleanupCron = d.Maintenance.CleanupCron
	}
	if c.Channels.WSBridge.SenderRPM <= 0 {
		c.Channels.WSBridge.SenderRPM = d.Channels.WSBridge.SenderRPM
	}
	if c.Channels.Telegram.SenderRPM <= 0 {
		c.Channels.Telegram.SenderRPM = d.Channels.WSBridge.SenderRPM
	}
	if c.Channels.Telegram.AccountID == "" {
		c.Channels.Telegram.AccountID = "default"
	}
	if c.Channels.Discord.SenderRPM <= 0 {
		c.Channels.Discord.SenderRPM = d.Channels.WSBridge.SenderRPM
	}
	if c.Channels.Discord.AccountID == "" {
		c.Channels.Discord.AccountID = "default"
	}
	if c.Telemetry.ServiceName == "" {
		c.Telemetry.ServiceName = d.Telemetry.ServiceName
	}
	if c.Admin.Host == "" {
		c.Admin.Host = d.Admin.Host
	}
	if c.Admin.Port <= 0 {
		c.Admin.Port = d.Admin.Port
	}
}

// Save writes the config to a JSON file.
func Save(path string, cfg *Config) error {
	cfg.mu.RLock()
	defer cfg.mu.RUnlock()

	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return err
	}

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return err
	}
	return os.WriteFile(path, data, 0600)
}

// Hash returns a short SHA-256 hash of the config, logged at startup.
func (c *Config) Hash() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	data, _ := json.Marshal(c)
	h := sha256.Sum256(data)
	return fmt.Sprintf("%x", h[:8])
}

// SQLitePath returns the expanded sqlite file path.
func (c *Config) SQLitePath() string {
	return ExpandHome(c.Database.Path)
}

// ExpandHome replaces leading ~ with the user home directory.
func ExpandHome(path string) string {
	if path == "" || path[0] != '~' {
		return path
	}
	home, _ := os.UserHomeDir()
	if len(path) > 1 && path[1] == '/' {
		return home + path[1:]
	}
	return home
}

// NormalizeMatchMode lowercases a configured match mode, defaulting to "all".
func NormalizeMatchMode(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	if s != "any" {
		return "all"
	}
	return s
}
