package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_MissingFileUsesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "nope.json"))
	require.NoError(t, err)

	assert.Equal(t, "sqlite", cfg.Database.Driver)
	assert.Equal(t, time.Hour, cfg.Reply.ContextTTL.Std())
	assert.Equal(t, 10, cfg.Reply.HistoryCap)
	assert.Equal(t, 3, cfg.Reply.ThrottleCap)
	assert.Equal(t, 30*time.Second, cfg.Reply.BackendTimeout.Std())
	assert.Equal(t, 200, cfg.Reply.MaxTokens)
	assert.Equal(t, "all", cfg.Backend.MatchMode)
}

func TestLoad_JSON5File(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	data := `{
		// comments and trailing commas are allowed
		database: { driver: "sqlite", path: "/tmp/x.db" },
		reply: {
			context_ttl: "30m",
			throttle_cap: 5,
			backend_timeout: 12,
			prompts_dir: "./prompts",
		},
		backend: { match_mode: "any", model_families: ["qwen", "deepseek"] },
		channels: { stdio: { enabled: true, allow_from: [123, "abc"] } },
	}`
	require.NoError(t, os.WriteFile(path, []byte(data), 0600))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "/tmp/x.db", cfg.Database.Path)
	assert.Equal(t, 30*time.Minute, cfg.Reply.ContextTTL.Std())
	assert.Equal(t, 5, cfg.Reply.ThrottleCap)
	assert.Equal(t, 12*time.Second, cfg.Reply.BackendTimeout.Std())
	assert.Equal(t, "./prompts", cfg.Reply.PromptsDir)
	assert.Equal(t, "any", cfg.Backend.MatchMode)
	assert.Equal(t, []string{"qwen", "deepseek"}, cfg.Backend.ModelFamilies)
	assert.Equal(t, FlexibleStringSlice{"123", "abc"}, cfg.Channels.Stdio.AllowFrom)
	// untouched fields keep defaults
	assert.Equal(t, 10, cfg.Reply.HistoryCap)
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Setenv("AUTOREPLY_POSTGRES_DSN", "postgres://u:p@localhost/db")
	t.Setenv("AUTOREPLY_BACKEND_TIMEOUT", "5s")
	t.Setenv("AUTOREPLY_BACKEND_RPM", "120")
	t.Setenv("AUTOREPLY_TELEMETRY_ENABLED", "true")

	cfg, err := Load(filepath.Join(t.TempDir(), "none.json"))
	require.NoError(t, err)

	assert.Equal(t, "postgres", cfg.Database.Driver)
	assert.True(t, cfg.IsPostgres())
	assert.Equal(t, 5*time.Second, cfg.Reply.BackendTimeout.Std())
	assert.Equal(t, 120, cfg.Reply.BackendRPM)
	assert.True(t, cfg.Telemetry.Enabled)
}

func TestLoad_ChannelAndAdminEnv(t *testing.T) {
	t.Setenv("AUTOREPLY_TELEGRAM_TOKEN", "123:abc")
	t.Setenv("AUTOREPLY_TELEGRAM_ACCOUNT", "shop-tg")
	t.Setenv("AUTOREPLY_DISCORD_TOKEN", "dc-token")
	t.Setenv("AUTOREPLY_ADMIN_ENABLED", "1")
	t.Setenv("AUTOREPLY_ADMIN_PORT", "9000")
	t.Setenv("AUTOREPLY_ADMIN_TOKEN", "admin-secret")

	cfg, err := Load(filepath.Join(t.TempDir(), "none.json"))
	require.NoError(t, err)

	assert.True(t, cfg.Channels.Telegram.Enabled)
	assert.Equal(t, "shop-tg", cfg.Channels.Telegram.AccountID)
	assert.Equal(t, 30, cfg.Channels.Telegram.SenderRPM)
	assert.True(t, cfg.Channels.Discord.Enabled)
	assert.Equal(t, "default", cfg.Channels.Discord.AccountID)
	assert.True(t, cfg.Admin.Enabled)
	assert.Equal(t, 9000, cfg.Admin.Port)
	assert.Equal(t, "127.0.0.1", cfg.Admin.Host)

	path := filepath.Join(t.TempDir(), "config.json")
	require.NoError(t, Save(path, cfg))
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.NotContains(t, string(data), "admin-secret")
	assert.NotContains(t, string(data), "dc-token")
}

func TestLoad_InvalidFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.json")
	require.NoError(t, os.WriteFile(path, []byte(`{reply: {context_ttl: "forever"}}`), 0600))

	_, err := Load(path)
	assert.Error(t, err)
}

func TestSave_RoundTripKeepsDSNSecret(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out", "config.json")
	cfg := Default()
	cfg.Database.PostgresDSN = "postgres://secret"

	require.NoError(t, Save(path, cfg))
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.NotContains(t, string(data), "secret")
}

func TestExpandHome(t *testing.T) {
	home, _ := os.UserHomeDir()
	assert.Equal(t, filepath.Join(home, "x"), ExpandHome("~/x"))
	assert.Equal(t, "/abs", ExpandHome("/abs"))
}
