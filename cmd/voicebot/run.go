package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"

	"github.com/kodexArg/telegram-voice-to-text/internal/download"
	"github.com/kodexArg/telegram-voice-to-text/internal/housekeeping"
	"github.com/kodexArg/telegram-voice-to-text/internal/metrics"
	"github.com/kodexArg/telegram-voice-to-text/internal/pipeline"
	"github.com/kodexArg/telegram-voice-to-text/internal/server"
	"github.com/kodexArg/telegram-voice-to-text/internal/telegram"
	"github.com/kodexArg/telegram-voice-to-text/internal/version"
)

const apiTimeoutMargin = 15 * time.Second

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Start the Telegram bot",
	RunE:  runBot,
}

func runBot(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	if cfg.Telegram.Token == "" {
		return fmt.Errorf("telegram token is required (set TOKEN or telegram.token)")
	}

	logger := initLogger(cfg.Logging)
	logger.Info("Service starting",
		slog.String("service", "voicebot"),
		slog.String("version", version.Version),
		slog.String("commit", version.GitCommit))

	logger.Info("Configuration loaded",
		slog.String("audio_dir", cfg.Download.Dir),
		slog.Int("max_attempts", cfg.Download.MaxAttempts),
		slog.Duration("backoff", cfg.Download.GetBackoffDuration()),
		slog.String("engine", cfg.Transcription.Engine),
		slog.String("model", cfg.Transcription.Model),
		slog.String("language", cfg.Transcription.Language),
		slog.Int("max_concurrent", cfg.Pipeline.MaxConcurrent),
		slog.String("log_level", cfg.Logging.Level))

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	appMetrics := metrics.NewMetrics(registry)

	adapter, cache, err := newTranscriber(cfg, logger, appMetrics)
	if err != nil {
		return err
	}
	defer cache.Close()

	if cfg.Transcription.WarmUp {
		// A failed load is retried on the first voice message.
		if err := adapter.Warm(ctx); err != nil {
			logger.Error("Model warm-up failed", slog.String("error", err.Error()))
		}
	}

	endpoint := cfg.Telegram.APIEndpoint
	if endpoint == "" {
		endpoint = tgbotapi.APIEndpoint
	}
	// Long polls hold the connection for poll_timeout seconds.
	apiClient := &http.Client{
		Timeout: time.Duration(cfg.Telegram.PollTimeout)*time.Second + apiTimeoutMargin,
	}
	api, err := tgbotapi.NewBotAPIWithClient(cfg.Telegram.Token, endpoint, apiClient)
	if err != nil {
		return fmt.Errorf("failed to connect to Telegram: %w", err)
	}
	api.Debug = cfg.Telegram.Debug
	logger.Info("Authorized on Telegram", slog.String("bot", api.Self.UserName))

	downloader := download.NewDownloader(
		telegram.NewFetcher(api, &http.Client{}),
		download.Config{
			MaxAttempts:    cfg.Download.MaxAttempts,
			Backoff:        cfg.Download.GetBackoffDuration(),
			AttemptTimeout: cfg.Download.GetAttemptTimeoutDuration(),
			MaxFileSize:    cfg.Download.MaxFileSize,
		},
		logger,
		download.WithMetrics(appMetrics))

	tracker := pipeline.NewTracker(cfg.Pipeline.History)
	p := pipeline.New(pipeline.Config{
		AudioDir:              cfg.Download.Dir,
		ContainerExt:          cfg.Download.ContainerExt,
		MaxConcurrent:         cfg.Pipeline.MaxConcurrent,
		DeleteAfterProcessing: cfg.Pipeline.DeleteAfterProcessing,
	},
		downloader,
		newNormalizer(cfg, logger, appMetrics),
		adapter,
		telegram.NewEmitter(api, logger, appMetrics),
		logger,
		pipeline.WithTracker(tracker),
		pipeline.WithMetrics(appMetrics))

	var httpServer *server.HTTPServer
	if cfg.HTTP.Enabled {
		httpServer = server.NewHTTPServer(cfg.HTTP, logger, cfg, tracker, cache, appMetrics, registry)
		if err := httpServer.Start(); err != nil {
			return fmt.Errorf("failed to start HTTP server: %w", err)
		}
	}

	if cfg.Housekeeping.Enabled {
		janitor := housekeeping.NewJanitor(housekeeping.Config{
			Dir:      cfg.Download.Dir,
			Interval: cfg.Housekeeping.GetIntervalDuration(),
			MaxAge:   cfg.Housekeeping.GetMaxAgeDuration(),
		}, logger, appMetrics)
		go janitor.Run(ctx)
	}

	bot := telegram.NewBot(api, telegram.BotConfig{PollTimeout: cfg.Telegram.PollTimeout}, p, logger, appMetrics)
	if err := bot.Run(ctx); err != nil {
		logger.Error("Bot stopped with error", slog.String("error", err.Error()))
	}

	logger.Info("Starting graceful shutdown...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Pipeline.GetShutdownTimeoutDuration())
	defer shutdownCancel()

	if httpServer != nil {
		if err := httpServer.Stop(shutdownCtx); err != nil {
			logger.Error("Error stopping HTTP server", slog.String("error", err.Error()))
		}
	}

	if err := p.Wait(shutdownCtx); err != nil {
		logger.Warn("Timed out waiting for in-flight runs", slog.String("error", err.Error()))
	}

	stats := tracker.Stats()
	logger.Info("Final pipeline statistics",
		slog.Uint64("runs", stats.Total),
		slog.Uint64("delivered", stats.Delivered),
		slog.Uint64("skipped", stats.Skipped),
		slog.Uint64("failed", stats.Failed))

	logger.Info("Service stopped")
	return nil
}
