// Package config loads service configuration from the environment.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all configuration for the service.
type Config struct {
	// Port is the HTTP server port.
	Port int

	// DatabasePath is the SQLite database file.
	DatabasePath string

	// ScanInterval is how often the scheduler ticks. Each tick scans only
	// the definitions whose own interval has elapsed.
	ScanInterval time.Duration

	// FetchTimeout bounds each outbound marketplace request.
	FetchTimeout time.Duration

	// DelayMin and DelayMax bound the randomized courtesy delay before
	// marketplace requests.
	DelayMin time.Duration
	DelayMax time.Duration

	// ImageCDNHost identifies marketplace image CDN URLs; empty uses the
	// adapter default.
	ImageCDNHost string

	// OpenAIAPIKey enables the vision classifier; empty disables it.
	OpenAIAPIKey string

	// OpenAIBaseURL overrides the classifier endpoint (compatible proxies).
	OpenAIBaseURL string

	// TelegramBotToken and TelegramChatID enable alerts; either empty
	// disables the channel.
	TelegramBotToken string
	TelegramChatID   string
}

// Load reads configuration from environment variables with sensible defaults,
// after loading a .env file when one is present.
func Load() (*Config, error) {
	// A missing .env file is the normal production case.
	_ = godotenv.Load()

	cfg := &Config{
		Port:             5000,
		DatabasePath:     "gemscout.db",
		ScanInterval:     15 * time.Minute,
		FetchTimeout:     12 * time.Second,
		DelayMin:         time.Second,
		DelayMax:         3 * time.Second,
		ImageCDNHost:     os.Getenv("IMAGE_CDN_HOST"),
		OpenAIAPIKey:     os.Getenv("OPENAI_API_KEY"),
		OpenAIBaseURL:    os.Getenv("OPENAI_BASE_URL"),
		TelegramBotToken: os.Getenv("TELEGRAM_BOT_TOKEN"),
		TelegramChatID:   os.Getenv("TELEGRAM_CHAT_ID"),
	}

	if p := os.Getenv("PORT"); p != "" {
		port, err := strconv.Atoi(p)
		if err != nil {
			return nil, fmt.Errorf("invalid PORT: %w", err)
		}
		cfg.Port = port
	}
	if path := os.Getenv("DATABASE_PATH"); path != "" {
		cfg.DatabasePath = path
	}

	var err error
	if cfg.ScanInterval, err = envDuration("SCAN_INTERVAL", cfg.ScanInterval); err != nil {
		return nil, err
	}
	if cfg.FetchTimeout, err = envDuration("FETCH_TIMEOUT", cfg.FetchTimeout); err != nil {
		return nil, err
	}
	if cfg.DelayMin, err = envDuration("FETCH_DELAY_MIN", cfg.DelayMin); err != nil {
		return nil, err
	}
	if cfg.DelayMax, err = envDuration("FETCH_DELAY_MAX", cfg.DelayMax); err != nil {
		return nil, err
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	if c.Port < 1 || c.Port > 65535 {
		return fmt.Errorf("port must be between 1 and 65535")
	}
	if c.DatabasePath == "" {
		return fmt.Errorf("database path cannot be empty")
	}
	if c.ScanInterval <= 0 {
		return fmt.Errorf("scan interval must be positive")
	}
	if c.FetchTimeout <= 0 {
		return fmt.Errorf("fetch timeout must be positive")
	}
	if c.DelayMin < 0 || c.DelayMax < 0 {
		return fmt.Errorf("fetch delays cannot be negative")
	}
	if c.DelayMax < c.DelayMin {
		return fmt.Errorf("fetch delay max (%s) cannot be below min (%s)", c.DelayMax, c.DelayMin)
	}
	return nil
}

// ClassifierEnabled reports whether a vision API key is configured.
func (c *Config) ClassifierEnabled() bool {
	return c.OpenAIAPIKey != ""
}

// AlertsEnabled reports whether the Telegram channel is configured.
func (c *Config) AlertsEnabled() bool {
	return c.TelegramBotToken != "" && c.TelegramChatID != ""
}

func envDuration(key string, fallback time.Duration) (time.Duration, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return d, nil
}
