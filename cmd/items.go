package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"
	"github.com/titanous/json5"

	"github.com/nextlevelbuilder/autoreply/internal/catalog"
)

func itemsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "items",
		Short: "Inspect and seed the item snapshot cache",
	}
	cmd.AddCommand(itemsGetCmd())
	cmd.AddCommand(itemsRefreshCmd())
	cmd.AddCommand(itemsImportCmd())
	return cmd
}

// withItemCache opens the store and builds the cache the service would use.
func withItemCache(fn func(ctx context.Context, c *catalog.Cache) error) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	db, err := openDB(cfg)
	if err != nil {
		return err
	}
	defer db.Close()
	return fn(context.Background(), newItemCache(cfg, db))
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	enc.SetEscapeHTML(false)
	return enc.Encode(v)
}

func itemsGetCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "get <account> <item>",
		Short: "Resolve an item the way the pipeline does (never fails; see origin)",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withItemCache(func(ctx context.Context, c *catalog.Cache) error {
				return printJSON(cmd.OutOrStdout(), c.Get(ctx, args[0], args[1]))
			})
		},
	}
}

func itemsRefreshCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "refresh <account> <item>",
		Short: "Re-fetch an item from the catalog source and update the snapshot",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withItemCache(func(ctx context.Context, c *catalog.Cache) error {
				info, err := c.Refresh(ctx, args[0], args[1])
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), info)
			})
		},
	}
}

func itemsImportCmd() *cobra.Command {
	var account string
	cmd := &cobra.Command{
		Use:   "import <file>",
		Short: "Store item snapshots from a JSON/JSON5 array",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := os.ReadFile(args[0])
			if err != nil {
				return fmt.Errorf("read items: %w", err)
			}
			var items []catalog.ItemInfo
			if err := json5.Unmarshal(data, &items); err != nil {
				return fmt.Errorf("parse items: %w", err)
			}
			return withItemCache(func(ctx context.Context, c *catalog.Cache) error {
				var n int
				for _, it := range items {
					if it.AccountID == "" {
						it.AccountID = account
					}
					if it.AccountID == "" {
						return fmt.Errorf("item %s has no account_id (use --account)", it.ItemID)
					}
					if err := c.Put(ctx, it); err != nil {
						return err
					}
					n++
				}
				fmt.Fprintf(cmd.OutOrStdout(), "imported %d items\n", n)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&account, "account", "", "account id for items without one")
	return cmd
}
