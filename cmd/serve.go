package cmd

import (
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/larkgate/larkgate/internal/biz/usecase"
	"github.com/larkgate/larkgate/internal/data"
	"github.com/larkgate/larkgate/internal/server"
	"github.com/larkgate/larkgate/internal/service"
)

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the gateway (websocket event loop)",
		Run: func(cmd *cobra.Command, args []string) {
			runServe()
		},
	}
}

func runServe() {
	cfg, err := loadConfig()
	if err != nil {
		slog.Error("startup failed", "error", err)
		os.Exit(1)
	}

	client := data.NewFeishuClient(cfg.Feishu.AppID, cfg.Feishu.AppSecret, cfg.Feishu.BotOpenID)
	if err := client.ResolveBotIdentity(); err != nil {
		slog.Warn("bot identity unresolved, mention detection degraded", "error", err)
	}

	sessions, err := data.NewSessionStore(cfg.Session.DBPath)
	if err != nil {
		slog.Error("session store unavailable", "path", cfg.Session.DBPath, "error", err)
		os.Exit(1)
	}
	defer sessions.Close()

	normalizer := usecase.NewNormalizer(client.BotOpenID())
	orchestrator := service.NewOrchestrator(
		cfg.Feishu.AppID,
		usecase.NewDeduplicator(),
		normalizer,
		usecase.NewPolicyResolver(cfg.Policy),
		usecase.NewMediaResolver(client, normalizer, cfg.Media.Dir, cfg.Media.MaxBytes),
		usecase.NewHistoryAggregator(client, cfg.History.BufferLimit, cfg.History.DefaultFetch, cfg.History.MaxFetch),
		usecase.NewIdentityResolver(client),
		client,
		data.NewAgentDispatcher(cfg.Agent),
		sessions,
		cfg.Render,
	)

	srv := server.NewFeishuServer(client, orchestrator)

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sig
		slog.Info("shutting down")
		srv.Stop()
	}()

	slog.Info("larkgate starting", "version", Version, "render_mode", cfg.Render.Mode)
	if err := srv.Start(); err != nil {
		slog.Error("server stopped", "error", err)
		os.Exit(1)
	}
}
