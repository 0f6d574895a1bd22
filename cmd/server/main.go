// Command server runs the signal pipeline: message ingestion, execution,
// synchronization and the HTTP/WebSocket API, all in one process.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"signalbridge/internal/api"
	"signalbridge/internal/broker/mt5"
	"signalbridge/internal/config"
	"signalbridge/internal/engine"
	"signalbridge/internal/hub"
	"signalbridge/internal/parser"
	"signalbridge/internal/pipeline"
	"signalbridge/internal/store"
	syncpkg "signalbridge/internal/sync"
	"signalbridge/internal/telegram"
	"signalbridge/internal/vault"
)

func main() {
	configPath := flag.String("config", "configs/config.yaml", "path to config file")
	flag.Parse()

	if err := run(*configPath); err != nil {
		fmt.Fprintf(os.Stderr, "fatal: %v\n", err)
		os.Exit(1)
	}
}

func run(configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	baseLogger := newLogger(cfg.Logging)
	notifyHub := hub.New(baseLogger)

	// Warnings and errors are mirrored to connected UI sessions.
	logger := slog.New(hub.NewLogHandler(baseLogger.Handler(), notifyHub))
	slog.SetDefault(logger)
	logger.Info("starting signalbridge", "port", cfg.Server.Port)

	st, err := store.Open(ctx, cfg.Database, logger)
	if err != nil {
		return err
	}
	defer st.Close()

	credVault, err := vault.New(cfg.Vault.MasterKey, st, logger)
	if err != nil {
		return err
	}

	adapter := mt5.New(cfg.Broker, logger)
	defer adapter.Disconnect()

	en := engine.New(st, adapter, credVault, notifyHub, logger)
	synchronizer := syncpkg.New(st, adapter, credVault, en, notifyHub, cfg.Sync.Interval, logger)

	var source telegram.Source
	bot := telegram.NewBot(cfg.Telegram, logger)
	if bot != nil {
		source = bot
	} else {
		logger.Warn("no bot token configured, message listener disabled")
	}

	var sender hub.Sender
	if bot != nil {
		sender = bot
	}
	forwarder := hub.NewForwarder(sender, st, logger)

	p := parser.New(parser.NewLLMClient(cfg.LLM), logger)
	recorder := pipeline.NewRecorder(st, p, en, notifyHub, forwarder, logger)

	coordinator := pipeline.NewCoordinator(st, source, recorder,
		synchronizer.Run,
		func(ctx context.Context) { notifyHub.Heartbeat(ctx, cfg.Sync.PingInterval) },
		logger)
	if err := coordinator.Start(ctx); err != nil {
		return err
	}
	defer coordinator.Stop()

	server := api.New(cfg, st, en, credVault, notifyHub, adapter, coordinator, logger)
	return server.Run(ctx)
}

func newLogger(cfg config.LoggingConfig) *slog.Logger {
	var level slog.Level
	if err := level.UnmarshalText([]byte(cfg.Level)); err != nil {
		level = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: level}

	var handler slog.Handler
	if cfg.Format == "json" {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}
	return slog.New(handler)
}
