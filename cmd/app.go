package cmd

import (
	"fmt"
	"log/slog"

	"github.com/nextlevelbuilder/autoreply/internal/catalog"
	"github.com/nextlevelbuilder/autoreply/internal/config"
	"github.com/nextlevelbuilder/autoreply/internal/providers"
	"github.com/nextlevelbuilder/autoreply/internal/reply"
	"github.com/nextlevelbuilder/autoreply/internal/store"
	"github.com/nextlevelbuilder/autoreply/internal/store/sqlstore"
)

// app holds everything the reply pipeline needs, built once per command.
type app struct {
	cfg         *config.Config
	db          *sqlstore.DB
	registry    *providers.Registry
	items       *catalog.Cache
	prompts     *reply.PromptSet
	policy      *reply.PolicyConfig
	coordinator *reply.Coordinator
}

func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(resolveConfigPath())
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	return cfg, nil
}

func storeConfig(cfg *config.Config) store.StoreConfig {
	return store.StoreConfig{
		Driver:      cfg.Database.Driver,
		SQLitePath:  cfg.SQLitePath(),
		PostgresDSN: cfg.Database.PostgresDSN,
	}
}

func openDB(cfg *config.Config) (*sqlstore.DB, error) {
	db, err := sqlstore.Open(storeConfig(cfg))
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}
	return db, nil
}

func newRegistry(cfg *config.Config) *providers.Registry {
	sel := providers.DefaultSelector()
	if len(cfg.Backend.ModelFamilies) > 0 {
		sel.ModelFamilies = cfg.Backend.ModelFamilies
	}
	if len(cfg.Backend.ProviderDomains) > 0 {
		sel.ProviderDomains = cfg.Backend.ProviderDomains
	}
	sel.Mode = providers.MatchMode(config.NormalizeMatchMode(cfg.Backend.MatchMode))

	return providers.NewRegistry(providers.RegistryConfig{
		Selector:          sel,
		Timeout:           cfg.Reply.BackendTimeout.Std(),
		AppEndpoint:       cfg.Backend.AppEndpoint,
		RequestsPerMinute: cfg.Reply.BackendRPM,
	})
}

func newItemCache(cfg *config.Config, items store.ItemStore) *catalog.Cache {
	var src catalog.Source
	if cfg.Catalog.SourceURL != "" {
		src = catalog.NewHTTPSource(cfg.Catalog.SourceURL, cfg.Catalog.SourceToken, cfg.Reply.BackendTimeout.Std())
	}
	return catalog.NewCache(items, src, cfg.Catalog.CacheTTL.Std())
}

// buildApp opens the store and assembles the pipeline.
func buildApp(cfg *config.Config) (*app, error) {
	policy, err := reply.ResolvePolicy(cfg.Reply.PolicyVersion, config.ExpandHome(cfg.Reply.PolicyFile))
	if err != nil {
		return nil, err
	}

	db, err := openDB(cfg)
	if err != nil {
		return nil, err
	}

	a := &app{
		cfg:      cfg,
		db:       db,
		registry: newRegistry(cfg),
		items:    newItemCache(cfg, db),
		prompts:  reply.NewPromptSet(config.ExpandHome(cfg.Reply.PromptsDir)),
		policy:   policy,
	}
	r := cfg.Reply
	a.coordinator = reply.NewCoordinator(reply.Config{
		ContextTTL:     r.ContextTTL.Std(),
		HistoryCap:     r.HistoryCap,
		PromptHistory:  r.PromptHistory,
		DedupWindow:    r.DedupWindow.Std(),
		ThrottleWindow: r.ThrottleWindow.Std(),
		ThrottleCap:    r.ThrottleCap,
		StaleAfter:     r.StaleAfter.Std(),
		BackendTimeout: r.BackendTimeout.Std(),
		MaxTokens:      r.MaxTokens,
	}, reply.Deps{
		Settings:      db,
		Conversations: db,
		Items:         a.items,
		Backends:      a.registry,
		Policy:        policy,
		Prompts:       a.prompts,
	})

	slog.Debug("app: pipeline ready", "policy", policy.Version, "driver", cfg.Database.Driver, "config_hash", cfg.Hash())
	return a, nil
}

func (a *app) Close() {
	a.coordinator.Close()
	if err := a.db.Close(); err != nil {
		slog.Warn("app: close store", "error", err)
	}
}
