package cmd

import (
	"context"

	"github.com/spf13/cobra"

	"github.com/nextlevelbuilder/autoreply/internal/maintenance"
)

func cleanupCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "cleanup",
		Short: "Run one cleanup pass now and print per-table counts",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			db, err := openDB(cfg)
			if err != nil {
				return err
			}
			defer db.Close()

			sched, err := maintenance.NewScheduler(maintenance.Config{
				Cron:          cfg.Maintenance.CleanupCron,
				ContextTTL:    cfg.Reply.ContextTTL.Std(),
				ReplyCacheTTL: cfg.Reply.DedupWindow.Std(),
				TurnRetention: cfg.Maintenance.TurnRetention.Std(),
				ItemRetention: cfg.Maintenance.ItemRetention.Std(),
			}, db)
			if err != nil {
				return err
			}
			stats, err := sched.RunOnce(context.Background())
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), stats)
		},
	}
}
