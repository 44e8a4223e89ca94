package main

import (
	"context"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"train_bot/internal/cache"
	"train_bot/internal/config"
	"train_bot/internal/dispatcher"
	"train_bot/internal/provider"
	"train_bot/internal/scheduler"
	"train_bot/internal/storage"
	"train_bot/internal/telegram"
)

func main() {
	once := flag.Bool("once", false, "run a single polling pass and exit (suitable for cron)")
	flag.Parse()

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

	sender, err := telegram.New(cfg.TelegramBotToken, cfg.SendTimeout, log)
	if err != nil {
		log.Error("create telegram sender", "error", err)
		os.Exit(1)
	}

	client := provider.New(http.DefaultClient, cfg.RailAPIURL, cfg.RailAPIKey, log, provider.Options{
		Timeout:             cfg.FetchTimeout,
		RetryBaseDelay:      cfg.RetryBaseDelay,
		RetryMaxDelay:       cfg.RetryMaxDelay,
		DepartingSoonWindow: cfg.DepartingSoonWindow,
	})

	disp := dispatcher.New(store, sender, cfg.StationNames, cfg.DedupWindow, log)
	defer disp.Close()

	sched := scheduler.New(store, client, cache.New(0), disp, log, scheduler.Config{
		TickInterval:       cfg.TickInterval,
		Lookahead:          cfg.Lookahead,
		InTransitGrace:     cfg.InTransitGrace,
		MaxConcurrentFetch: cfg.MaxConcurrentFetch,
		DelayThreshold:     cfg.DefaultDelayThreshold,
		FailureThreshold:   cfg.FailureThreshold,
		CooldownBase:       cfg.CooldownBase,
		CooldownMax:        cfg.CooldownMax,
	})

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if *once {
		log.Info("running single polling pass")
		sched.RunOnce(ctx)
		log.Info("polling pass complete")
		return
	}

	log.Info("starting subscription poller", "tick", cfg.TickInterval.String())
	sched.Run(ctx)
	log.Info("poller stopped")
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
