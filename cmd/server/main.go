package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/gemscout/gemscout/internal/alert"
	"github.com/gemscout/gemscout/internal/config"
	"github.com/gemscout/gemscout/internal/domain"
	"github.com/gemscout/gemscout/internal/httpserver"
	"github.com/gemscout/gemscout/internal/marketplace"
	"github.com/gemscout/gemscout/internal/metrics"
	"github.com/gemscout/gemscout/internal/scheduler"
	"github.com/gemscout/gemscout/internal/sqlite"
	"github.com/gemscout/gemscout/internal/vision"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	repo, err := sqlite.NewRepository(cfg.DatabasePath)
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer repo.Close()
	logger.Info("database ready", "path", cfg.DatabasePath)

	source := marketplace.NewClient(marketplace.Options{
		Timeout:      cfg.FetchTimeout,
		DelayMin:     cfg.DelayMin,
		DelayMax:     cfg.DelayMax,
		ImageCDNHost: cfg.ImageCDNHost,
		Logger:       logger,
	})

	var classifier domain.Classifier = vision.NewNoop()
	if cfg.ClassifierEnabled() {
		classifier, err = vision.NewClassifier(vision.Options{
			APIKey:  cfg.OpenAIAPIKey,
			BaseURL: cfg.OpenAIBaseURL,
			Logger:  logger,
		})
		if err != nil {
			return fmt.Errorf("create classifier: %w", err)
		}
	} else {
		logger.Warn("OPENAI_API_KEY not set, listings will not be classified")
	}

	var alerter domain.Alerter = alert.NewNoop(logger)
	if cfg.AlertsEnabled() {
		alerter, err = alert.NewTelegram(alert.Options{
			Token:  cfg.TelegramBotToken,
			ChatID: cfg.TelegramChatID,
			Logger: logger,
		})
		if err != nil {
			return fmt.Errorf("create alerter: %w", err)
		}
	} else {
		logger.Warn("Telegram not configured, alerts disabled")
	}

	m := metrics.New()

	scans, err := domain.NewScanService(repo, source, classifier, alerter, logger)
	if err != nil {
		return fmt.Errorf("create scan service: %w", err)
	}
	scans.SetMetrics(m)
	source.SetMetrics(m)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	server := httpserver.NewServer(cfg, repo, scans, m, logger)
	scans.SetPublisher(server.Hub())

	sched := scheduler.New(repo, scans, logger)
	sched.SetMetrics(m)
	go sched.Start(ctx, cfg.ScanInterval)

	go func() {
		if err := server.Start(); err != nil && err != http.ErrServerClosed {
			logger.Error("http server exited with error", "error", err)
		}
	}()

	logger.Info("server started", "port", cfg.Port, "scan_interval", cfg.ScanInterval)

	sig := <-sigCh
	logger.Info("received signal, shutting down", "signal", sig)
	cancel()

	if err := server.Shutdown(context.Background()); err != nil {
		logger.Error("error shutting down http server", "error", err)
	}

	return nil
}
