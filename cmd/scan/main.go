// Command scan runs a single scan pass from the terminal: either one saved
// search by id, or an ad-hoc analysis of a single listing URL.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/gemscout/gemscout/internal/alert"
	"github.com/gemscout/gemscout/internal/config"
	"github.com/gemscout/gemscout/internal/domain"
	"github.com/gemscout/gemscout/internal/marketplace"
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
	var (
		searchID   string
		listingURL string
		verbose    bool
	)

	flag.StringVar(&searchID, "search", "", "ID of the saved search to scan")
	flag.StringVar(&listingURL, "listing", "", "Listing URL to analyze once")
	flag.BoolVar(&verbose, "v", false, "Enable debug logging")
	flag.Parse()

	if (searchID == "") == (listingURL == "") {
		return fmt.Errorf("exactly one of --search or --listing is required")
	}

	level := slog.LevelInfo
	if verbose {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	repo, err := sqlite.NewRepository(cfg.DatabasePath)
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer repo.Close()

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
	}

	scans, err := domain.NewScanService(repo, source, classifier, alerter, logger)
	if err != nil {
		return fmt.Errorf("create scan service: %w", err)
	}

	ctx := context.Background()

	if listingURL != "" {
		scan, err := scans.ScanListing(ctx, listingURL)
		if err != nil {
			return err
		}
		fmt.Printf("Title:      %s\n", scan.ListingTitle)
		fmt.Printf("Price:      %s\n", scan.Price)
		fmt.Printf("Confidence: %d\n", scan.Confidence)
		fmt.Printf("Valuable:   %v\n", scan.Valuable)
		if len(scan.Materials) > 0 {
			fmt.Printf("Materials:  %s\n", strings.Join(scan.Materials, ", "))
		}
		fmt.Printf("Advice:     %s\n", domain.BuyAdvice(scan.Confidence, scan.PriceAmount))
		fmt.Printf("Reasoning:  %s\n", scan.Reasoning)
		return nil
	}

	newFindings, err := scans.TriggerSearch(ctx, searchID)
	if err != nil {
		return err
	}
	fmt.Printf("Scan complete: %d new finding(s)\n", newFindings)
	return nil
}
