package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"gmail_bot/internal/auth"
	"gmail_bot/internal/bot"
	"gmail_bot/internal/config"
	"gmail_bot/internal/mail"
	"gmail_bot/internal/poller"
	"gmail_bot/internal/rate"
	"gmail_bot/internal/storage"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("load config", "error", err)
		os.Exit(1)
	}

	log := newLogger(cfg.LogLevel)

	if dir := filepath.Dir(cfg.DatabasePath); dir != "." {
		if err := os.MkdirAll(dir, 0o750); err != nil {
			log.Error("create data directory", "path", dir, "error", err)
			os.Exit(1)
		}
	}

	store, err := storage.NewSQLite(cfg.DatabasePath)
	if err != nil {
		log.Error("open database", "path", cfg.DatabasePath, "error", err)
		os.Exit(1)
	}
	defer func() { _ = store.Close() }()

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	gate, err := auth.NewGate(ctx, store, cfg.OwnerUserID)
	if err != nil {
		log.Error("init auth gate", "error", err)
		os.Exit(1)
	}

	// Gmail per-user quota is 250 units/sec; stay far below it
	gmailLimiter := rate.NewTokenBucket(10)
	defer gmailLimiter.Stop()

	mailer, err := mail.NewGmail(ctx, cfg.GmailCredentialsPath, cfg.GmailTokenPath, gmailLimiter)
	if err != nil {
		log.Error("create gmail client", "error", err)
		os.Exit(1)
	}

	b, err := bot.New(cfg.TelegramBotToken, store, gate, mailer, cfg, log)
	if err != nil {
		log.Error("create bot", "error", err)
		os.Exit(1)
	}

	p := poller.New(store, mailer, b, cfg, log)
	b.SetStatusProvider(p)

	log.Info("starting bot", "poll_interval", cfg.PollInterval)

	go p.Run(ctx)

	b.Run(ctx)

	log.Info("bot stopped")
}

func newLogger(level string) *slog.Logger {
	var lvl slog.Level
	switch strings.ToLower(level) {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: lvl}))
}
