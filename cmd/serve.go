package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/nextlevelbuilder/autoreply/internal/bus"
	"github.com/nextlevelbuilder/autoreply/internal/channels"
	"github.com/nextlevelbuilder/autoreply/internal/channels/discord"
	"github.com/nextlevelbuilder/autoreply/internal/channels/stdio"
	"github.com/nextlevelbuilder/autoreply/internal/channels/telegram"
	"github.com/nextlevelbuilder/autoreply/internal/channels/wsbridge"
	"github.com/nextlevelbuilder/autoreply/internal/dispatch"
	"github.com/nextlevelbuilder/autoreply/internal/gateway"
	httpapi "github.com/nextlevelbuilder/autoreply/internal/http"
	"github.com/nextlevelbuilder/autoreply/internal/maintenance"
	"github.com/nextlevelbuilder/autoreply/internal/reply"
	"github.com/nextlevelbuilder/autoreply/internal/tracing"
)

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the auto-reply service on the configured channels",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context())
		},
	}
}

func runServe(parent context.Context) error {
	if parent == nil {
		parent = context.Background()
	}
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdownTracing, err := tracing.Setup(ctx, cfg.Telemetry)
	if err != nil {
		return err
	}
	defer func() {
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTracing(sctx); err != nil {
			slog.Warn("tracing: shutdown", "error", err)
		}
	}()

	a, err := buildApp(cfg)
	if err != nil {
		return err
	}
	defer a.Close()

	msgBus := bus.New(0)
	router := dispatch.NewRouter(a.coordinator, msgBus, 0)
	channelMgr := channels.NewManager(msgBus)

	if cfg.Channels.Stdio.Enabled {
		channelMgr.RegisterChannel(stdio.New(os.Stdin, os.Stdout, router, cfg.Channels.Stdio.AllowFrom, channels.NewSenderLimiter(0)))
	}
	if cfg.Channels.WSBridge.Enabled {
		ch, err := wsbridge.New(cfg.Channels.WSBridge, router)
		if err != nil {
			return err
		}
		channelMgr.RegisterChannel(ch)
	}
	if cfg.Channels.Telegram.Enabled {
		ch, err := telegram.New(cfg.Channels.Telegram, router)
		if err != nil {
			return err
		}
		channelMgr.RegisterChannel(ch)
	}
	if cfg.Channels.Discord.Enabled {
		ch, err := discord.New(cfg.Channels.Discord, router)
		if err != nil {
			return err
		}
		channelMgr.RegisterChannel(ch)
	}
	if len(channelMgr.EnabledChannels()) == 0 {
		return fmt.Errorf("no channels enabled (set channels.stdio, ws_bridge, telegram or discord)")
	}

	sched, err := maintenance.NewScheduler(maintenance.Config{
		Cron:          cfg.Maintenance.CleanupCron,
		ContextTTL:    cfg.Reply.ContextTTL.Std(),
		ReplyCacheTTL: cfg.Reply.DedupWindow.Std(),
		TurnRetention: cfg.Maintenance.TurnRetention.Std(),
		ItemRetention: cfg.Maintenance.ItemRetention.Std(),
	}, a.db, a.items)
	if err != nil {
		return err
	}

	var admin *gateway.Server
	if cfg.Admin.Enabled {
		admin = newAdminServer(a, router)
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return router.Run(gctx) })
	g.Go(func() error { return sched.Run(gctx) })
	if admin != nil {
		g.Go(func() error { return admin.Start(gctx) })
	}
	if cfg.Reply.WatchPrompts && a.prompts.Dir() != "" {
		w := reply.NewPromptWatcher(a.prompts)
		w.OnReload(func(n int) { slog.Info("prompts: reloaded", "from_disk", n) })
		g.Go(func() error { return w.Run(gctx) })
	}

	if err := channelMgr.StartAll(gctx); err != nil {
		stop()
		_ = g.Wait()
		return err
	}
	slog.Info("autoreply: serving",
		"version", Version,
		"channels", channelMgr.EnabledChannels(),
		"policy", a.policy.Version,
	)

	<-gctx.Done()
	slog.Info("autoreply: shutting down")
	_ = channelMgr.StopAll(context.Background())
	err = g.Wait()

	counts := router.Counts()
	slog.Info("autoreply: stopped",
		"replied", counts[reply.ReasonReplied],
		"duplicate", counts[reply.ReasonDuplicate],
		"throttled", counts[reply.ReasonThrottled],
		"no_reply", counts[reply.ReasonNoReply],
	)
	return err
}

// newAdminServer wires the admin API onto the running pipeline.
func newAdminServer(a *app, router *dispatch.Router) *gateway.Server {
	token := a.cfg.Admin.Token
	if token == "" {
		slog.Warn("admin: no AUTOREPLY_ADMIN_TOKEN set, API is unauthenticated", "host", a.cfg.Admin.Host)
	}
	srv := gateway.NewServer(a.cfg.Admin, Version)
	srv.SetAccountsHandler(httpapi.NewAccountsHandler(a.db, a.registry, a.coordinator, token))
	srv.SetRepliesHandler(httpapi.NewRepliesHandler(a.coordinator, a.items, token))
	srv.SetStats(func() map[string]int64 {
		out := make(map[string]int64)
		for reason, n := range router.Counts() {
			out[string(reason)] = n
		}
		return out
	})
	router.OnOutcome(srv.PublishOutcome)
	return srv
}
