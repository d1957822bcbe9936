package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"runtime"
	"time"

	"github.com/golang-migrate/migrate/v4"
	"github.com/spf13/cobra"

	"github.com/nextlevelbuilder/autoreply/internal/config"
	"github.com/nextlevelbuilder/autoreply/internal/providers"
	"github.com/nextlevelbuilder/autoreply/internal/store"
	"github.com/nextlevelbuilder/autoreply/internal/store/migrations"
)

func doctorCmd() *cobra.Command {
	var verify bool
	cmd := &cobra.Command{
		Use:   "doctor",
		Short: "Check configuration, store and account backends",
		Run: func(cmd *cobra.Command, args []string) {
			runDoctor(cmd.OutOrStdout(), verify)
		},
	}
	cmd.Flags().BoolVar(&verify, "verify", false, "send a one-token probe to every enabled account backend")
	return cmd
}

func runDoctor(w io.Writer, verify bool) {
	fmt.Fprintln(w, "autoreply doctor")
	fmt.Fprintf(w, "  Version:  %s\n", Version)
	fmt.Fprintf(w, "  OS:       %s/%s\n", runtime.GOOS, runtime.GOARCH)
	fmt.Fprintf(w, "  Go:       %s\n", runtime.Version())
	fmt.Fprintln(w)

	cfgPath := resolveConfigPath()
	fmt.Fprintf(w, "  Config:   %s", cfgPath)
	if _, err := os.Stat(cfgPath); err != nil {
		fmt.Fprintln(w, " (NOT FOUND, using defaults)")
	} else {
		fmt.Fprintln(w, " (OK)")
	}

	cfg, err := config.Load(cfgPath)
	if err != nil {
		fmt.Fprintf(w, "  Config load error: %s\n", err)
		return
	}
	fmt.Fprintf(w, "  Policy:   %s\n", cfg.Reply.PolicyVersion)

	fmt.Fprintln(w)
	fmt.Fprintln(w, "  Store:")
	fmt.Fprintf(w, "    %-12s %s\n", "Driver:", orDash(cfg.Database.Driver))
	checkSchema(w)

	db, err := openDB(cfg)
	if err != nil {
		fmt.Fprintf(w, "    %-12s OPEN FAILED (%s)\n", "Status:", err)
		return
	}
	defer db.Close()

	fmt.Fprintln(w)
	fmt.Fprintln(w, "  Accounts:")
	all, err := db.ListSettings(context.Background())
	if err != nil {
		fmt.Fprintf(w, "    (could not list accounts: %s)\n", err)
	} else if len(all) == 0 {
		fmt.Fprintln(w, "    (none configured, run: autoreply settings set <account>)")
	}
	registry := newRegistry(cfg)
	for _, s := range all {
		checkAccount(w, registry, s, verify)
	}

	fmt.Fprintln(w)
	fmt.Fprintln(w, "  Channels:")
	checkChannel(w, "stdio", cfg.Channels.Stdio.Enabled, true)
	checkChannel(w, "ws_bridge", cfg.Channels.WSBridge.Enabled, cfg.Channels.WSBridge.BridgeURL != "")
	checkChannel(w, "telegram", cfg.Channels.Telegram.Enabled, cfg.Channels.Telegram.Token != "")
	checkChannel(w, "discord", cfg.Channels.Discord.Enabled, cfg.Channels.Discord.Token != "")
	if cfg.Admin.Enabled {
		fmt.Fprintf(w, "    %-12s %s:%d\n", "admin:", cfg.Admin.Host, cfg.Admin.Port)
	}

	fmt.Fprintln(w)
	fmt.Fprintln(w, "Doctor check complete.")
}

func checkSchema(w io.Writer) {
	driver, dsn, err := resolveDSN()
	if err != nil {
		fmt.Fprintf(w, "    %-12s CHECK FAILED (%s)\n", "Schema:", err)
		return
	}
	m, err := migrations.New(driver, dsn)
	if err != nil {
		fmt.Fprintf(w, "    %-12s CHECK FAILED (%s)\n", "Schema:", err)
		return
	}
	defer m.Close()

	v, dirty, err := m.Version()
	switch {
	case errors.Is(err, migrate.ErrNilVersion):
		fmt.Fprintf(w, "    %-12s empty (applied on first open)\n", "Schema:")
	case err != nil:
		fmt.Fprintf(w, "    %-12s CHECK FAILED (%s)\n", "Schema:", err)
	case dirty:
		fmt.Fprintf(w, "    %-12s v%d (DIRTY, run: autoreply migrate force %d)\n", "Schema:", v, int(v)-1)
	default:
		fmt.Fprintf(w, "    %-12s v%d\n", "Schema:", v)
	}
}

func checkAccount(w io.Writer, registry *providers.Registry, s store.AISettings, verify bool) {
	creds := providers.Credentials{
		APIKey:  s.APIKey,
		BaseURL: s.BaseURL,
		Model:   s.ModelName,
		Kind:    providers.ParseKind(s.BackendKind),
	}
	status := "disabled"
	if s.AIEnabled {
		status = "enabled"
	}
	key := "(no API key)"
	if s.APIKey != "" {
		key = providers.MaskKey(s.APIKey)
	}
	fmt.Fprintf(w, "    %-16s %s, %s via %s, key %s\n",
		s.AccountID+":", status, orDash(s.ModelName), registry.Selector().Resolve(creds), key)

	if !verify || !s.AIEnabled || s.APIKey == "" {
		return
	}
	if err := probeBackend(registry, s.AccountID, creds); err != nil {
		fmt.Fprintf(w, "    %-16s %s\n", "", err)
	} else {
		fmt.Fprintf(w, "    %-16s backend OK\n", "")
	}
}

// probeBackend sends a minimal completion. 401/403 means the key is invalid;
// anything else is reported as a warning.
func probeBackend(registry *providers.Registry, accountID string, creds providers.Credentials) error {
	b, err := registry.Get(accountID, creds)
	if err != nil {
		return fmt.Errorf("backend unavailable: %w", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	_, err = b.Complete(ctx, providers.CompletionRequest{UserContent: "hi", MaxTokens: 1})
	if err == nil {
		return nil
	}
	var httpErr *providers.HTTPError
	if errors.As(err, &httpErr) && (httpErr.Status == 401 || httpErr.Status == 403) {
		return fmt.Errorf("INVALID API KEY (HTTP %d)", httpErr.Status)
	}
	return fmt.Errorf("warning: %w", err)
}

func checkChannel(w io.Writer, name string, enabled, configured bool) {
	status := "disabled"
	if enabled && configured {
		status = "enabled"
	} else if enabled {
		status = "enabled (missing credentials)"
	}
	fmt.Fprintf(w, "    %-12s %s\n", name+":", status)
}
