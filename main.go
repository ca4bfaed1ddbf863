package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"strings"

	"localchat/server/internal/blob"
	"localchat/server/internal/config"
	"localchat/server/internal/core"
	"localchat/server/internal/httpapi"
	"localchat/server/internal/linkpreview"
	"localchat/server/internal/store"
)

// Version is injected at build time with -ldflags.
var Version = "0.1.0-dev"

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("load config", "err", err)
		os.Exit(1)
	}

	addr := flag.String("addr", cfg.Addr, "HTTP listen address")
	dbPath := flag.String("db", cfg.DBPath, "SQLite database path")
	uploadsDir := flag.String("uploads-dir", cfg.UploadsDir, "Upload directory path")
	debug := flag.Bool("debug", cfg.Debug, "Enable debug logging (auto-enabled for dev builds)")
	flag.Parse()

	// Auto-enable debug logging for dev builds; override with -debug flag.
	level := slog.LevelInfo
	if *debug || strings.Contains(Version, "dev") {
		level = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))

	slog.Info("starting server", "version", Version, "addr", *addr, "db", *dbPath)

	sqliteStore, err := store.New(*dbPath)
	if err != nil {
		slog.Error("open sqlite store", "err", err)
		os.Exit(1)
	}
	defer func() {
		if closeErr := sqliteStore.Close(); closeErr != nil {
			slog.Error("close sqlite store", "err", closeErr)
		}
	}()

	uploadStore, err := blob.NewStore(*uploadsDir, sqliteStore)
	if err != nil {
		slog.Error("initialize upload store", "err", err)
		os.Exit(1)
	}
	slog.Debug("upload store", "dir", *uploadsDir)

	hub, err := core.NewHub(sqliteStore)
	if err != nil {
		slog.Error("initialize hub", "err", err)
		os.Exit(1)
	}
	slog.Debug("hub initialized", "channels", len(hub.Channels()))

	if cfg.WebhookSecret == "" {
		slog.Warn("LOCALCHAT_WEBHOOK_SECRET not set, webhook endpoint disabled")
	}

	server := httpapi.New(hub, httpapi.Options{
		Uploads:       uploadStore,
		Previews:      linkpreview.NewFetcher(),
		WebhookSecret: cfg.WebhookSecret,
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt)
	go func() {
		<-sigCh
		slog.Info("received interrupt, shutting down")
		cancel()
	}()

	slog.Info("listening", "addr", *addr)
	if err := server.Run(ctx, *addr); err != nil {
		slog.Error("server error", "err", err)
		os.Exit(1)
	}
	slog.Info("server stopped")
}
