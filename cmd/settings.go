package cmd

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/charmbracelet/huh"
	"github.com/mattn/go-runewidth"
	"github.com/spf13/cobra"

	"github.com/nextlevelbuilder/autoreply/internal/providers"
	"github.com/nextlevelbuilder/autoreply/internal/store"
)

func settingsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "settings",
		Short: "Manage per-account AI reply settings",
	}
	cmd.AddCommand(settingsGetCmd())
	cmd.AddCommand(settingsSetCmd())
	cmd.AddCommand(settingsListCmd())
	cmd.AddCommand(settingsEditCmd())
	return cmd
}

// withSettingsStore opens the configured store for a settings subcommand.
func withSettingsStore(fn func(ctx context.Context, s store.SettingsStore) error) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	db, err := openDB(cfg)
	if err != nil {
		return err
	}
	defer db.Close()
	return fn(context.Background(), db)
}

// loadOrDefault returns the stored settings or the defaults for a new account.
func loadOrDefault(ctx context.Context, s store.SettingsStore, accountID string) (store.AISettings, error) {
	cur, err := s.GetSettings(ctx, accountID)
	if errors.Is(err, store.ErrNotFound) {
		return store.DefaultAISettings(accountID), nil
	}
	return cur, err
}

// maskedSettings is AISettings for display, with the key masked.
type maskedSettings struct {
	store.AISettings
	APIKey string `json:"api_key"`
}

func mask(s store.AISettings) maskedSettings {
	return maskedSettings{AISettings: s, APIKey: providers.MaskKey(s.APIKey)}
}

func settingsGetCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "get <account>",
		Short: "Show one account's settings (API key masked)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withSettingsStore(func(ctx context.Context, s store.SettingsStore) error {
				cur, err := s.GetSettings(ctx, args[0])
				if errors.Is(err, store.ErrNotFound) {
					return fmt.Errorf("account %s has no settings", args[0])
				}
				if err != nil {
					return err
				}
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				return enc.Encode(mask(cur))
			})
		},
	}
}

func settingsSetCmd() *cobra.Command {
	var (
		enabled, onlyAI, quality bool
		apiKey, baseURL, model   string
		kind                     string
	)
	cmd := &cobra.Command{
		Use:   "set <account>",
		Short: "Create or update an account's settings; only given flags change",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			flags := cmd.Flags()
			return withSettingsStore(func(ctx context.Context, s store.SettingsStore) error {
				cur, err := loadOrDefault(ctx, s, args[0])
				if err != nil {
					return err
				}
				if flags.Changed("ai-enabled") {
					cur.AIEnabled = enabled
				}
				if flags.Changed("api-key") {
					cur.APIKey = apiKey
				}
				if flags.Changed("base-url") {
					cur.BaseURL = baseURL
				}
				if flags.Changed("model") {
					cur.ModelName = model
				}
				if flags.Changed("kind") {
					if k := providers.ParseKind(kind); string(k) != kind {
						return fmt.Errorf("invalid backend kind %q (want auto, chat or app)", kind)
					}
					cur.BackendKind = kind
				}
				if flags.Changed("only-ai") {
					cur.OnlyAIReply = onlyAI
				}
				if flags.Changed("quality-check") {
					cur.QualityCheckEnabled = quality
				}
				cur.UpdatedAt = time.Now()
				if err := s.SaveSettings(ctx, cur); err != nil {
					return err
				}
				// a running service rebuilds the backend handle on the next message
				// because handles are keyed by a fingerprint of these credentials
				fmt.Fprintf(cmd.OutOrStdout(), "saved settings for %s (ai_enabled=%t, key %s)\n",
					cur.AccountID, cur.AIEnabled, providers.MaskKey(cur.APIKey))
				return nil
			})
		},
	}
	f := cmd.Flags()
	f.BoolVar(&enabled, "ai-enabled", false, "enable AI replies")
	f.StringVar(&apiKey, "api-key", "", "backend API key")
	f.StringVar(&baseURL, "base-url", "", "backend base URL")
	f.StringVar(&model, "model", "", "model name")
	f.StringVar(&kind, "kind", "", "backend protocol: auto, chat or app")
	f.BoolVar(&onlyAI, "only-ai", false, "skip fixed replies and always generate")
	f.BoolVar(&quality, "quality-check", false, "score generated replies before sending")
	return cmd
}

func settingsListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List all accounts with settings",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withSettingsStore(func(ctx context.Context, s store.SettingsStore) error {
				all, err := s.ListSettings(ctx)
				if err != nil {
					return err
				}
				if len(all) == 0 {
					fmt.Fprintln(cmd.OutOrStdout(), "no accounts configured")
					return nil
				}
				printSettingsTable(cmd.OutOrStdout(), all)
				return nil
			})
		},
	}
}

func yesNo(b bool) string {
	if b {
		return "yes"
	}
	return "no"
}

// printSettingsTable aligns columns by display width so CJK account names line up.
func printSettingsTable(w io.Writer, all []store.AISettings) {
	header := []string{"ACCOUNT", "AI", "KIND", "MODEL", "KEY", "ONLY AI", "QUALITY", "UPDATED"}
	rows := [][]string{header}
	for _, s := range all {
		updated := "-"
		if !s.UpdatedAt.IsZero() {
			updated = s.UpdatedAt.Local().Format("2006-01-02 15:04")
		}
		rows = append(rows, []string{
			runewidth.Truncate(s.AccountID, 24, "…"),
			yesNo(s.AIEnabled),
			orDash(s.BackendKind),
			runewidth.Truncate(orDash(s.ModelName), 20, "…"),
			providers.MaskKey(s.APIKey),
			yesNo(s.OnlyAIReply),
			yesNo(s.QualityCheckEnabled),
			updated,
		})
	}

	widths := make([]int, len(header))
	for _, row := range rows {
		for i, cell := range row {
			widths[i] = max(widths[i], runewidth.StringWidth(cell))
		}
	}
	for _, row := range rows {
		cells := make([]string, len(row))
		for i, cell := range row {
			cells[i] = runewidth.FillRight(cell, widths[i])
		}
		fmt.Fprintln(w, strings.TrimRight(strings.Join(cells, "  "), " "))
	}
}

func settingsEditCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "edit <account>",
		Short: "Edit an account's settings interactively",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withSettingsStore(func(ctx context.Context, s store.SettingsStore) error {
				cur, err := loadOrDefault(ctx, s, args[0])
				if err != nil {
					return err
				}
				if err := runSettingsForm(&cur); err != nil {
					return err
				}
				cur.UpdatedAt = time.Now()
				if err := s.SaveSettings(ctx, cur); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "saved settings for %s\n", cur.AccountID)
				return nil
			})
		},
	}
}

// runSettingsForm edits s in place. An empty key input keeps the stored key.
func runSettingsForm(s *store.AISettings) error {
	var newKey string
	kind := string(providers.ParseKind(s.BackendKind))

	form := huh.NewForm(
		huh.NewGroup(
			huh.NewConfirm().
				Title("Enable AI replies?").
				Value(&s.AIEnabled),
			huh.NewInput().
				Title("API key").
				Description("current: " + providers.MaskKey(s.APIKey) + " (leave empty to keep)").
				EchoMode(huh.EchoModePassword).
				Value(&newKey),
			huh.NewInput().
				Title("Base URL").
				Value(&s.BaseURL),
			huh.NewInput().
				Title("Model").
				Value(&s.ModelName),
		),
		huh.NewGroup(
			huh.NewSelect[string]().
				Title("Backend protocol").
				Options(
					huh.NewOption("auto (decide from model and URL)", string(providers.KindAuto)),
					huh.NewOption("chat completion", string(providers.KindChat)),
					huh.NewOption("app completion", string(providers.KindApp)),
				).
				Value(&kind),
			huh.NewConfirm().
				Title("Always generate (skip fixed replies)?").
				Value(&s.OnlyAIReply),
			huh.NewConfirm().
				Title("Score generated replies before sending?").
				Value(&s.QualityCheckEnabled),
		),
	)
	if err := form.Run(); err != nil {
		return fmt.Errorf("settings form: %w", err)
	}
	if strings.TrimSpace(newKey) != "" {
		s.APIKey = strings.TrimSpace(newKey)
	}
	s.BackendKind = kind
	return nil
}
