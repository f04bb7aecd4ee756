// Package config handles application configuration from environment variables.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// MinPollInterval is the floor for the Gmail poll interval, enforced to
// respect API quotas regardless of configuration.
const MinPollInterval = 30 * time.Second

// Config holds the application configuration.
type Config struct {
	TelegramBotToken string
	DatabasePath     string
	LogLevel         string
	OwnerUserID      int64

	GmailCredentialsPath string
	GmailTokenPath       string

	PollInterval   time.Duration
	FetchTimeout   time.Duration
	MaxBackoff     time.Duration
	ReminderDelay  time.Duration
	Retention      time.Duration
	AlertThreshold int
}

// Load reads configuration from the environment, consulting a .env file in
// the working directory if one exists.
func Load() (*Config, error) {
	_ = godotenv.Load()

	token := os.Getenv("TELEGRAM_BOT_TOKEN")
	if token == "" {
		return nil, fmt.Errorf("TELEGRAM_BOT_TOKEN is required")
	}

	ownerRaw := os.Getenv("OWNER_USER_ID")
	if ownerRaw == "" {
		return nil, fmt.Errorf("OWNER_USER_ID is required")
	}
	owner, err := strconv.ParseInt(ownerRaw, 10, 64)
	if err != nil || owner <= 0 {
		return nil, fmt.Errorf("invalid OWNER_USER_ID %q", ownerRaw)
	}

	cfg := &Config{
		TelegramBotToken:     token,
		DatabasePath:         envOrDefault("DATABASE_PATH", "./data/bot.db"),
		LogLevel:             envOrDefault("LOG_LEVEL", "info"),
		OwnerUserID:          owner,
		GmailCredentialsPath: envOrDefault("GMAIL_CREDENTIALS", "./client_secret.json"),
		GmailTokenPath:       envOrDefault("GMAIL_TOKEN", "./data/token.json"),
	}

	if cfg.PollInterval, err = durationEnv("POLL_INTERVAL", time.Minute); err != nil {
		return nil, err
	}
	if cfg.PollInterval < MinPollInterval {
		cfg.PollInterval = MinPollInterval
	}
	if cfg.FetchTimeout, err = durationEnv("FETCH_TIMEOUT", 30*time.Second); err != nil {
		return nil, err
	}
	if cfg.MaxBackoff, err = durationEnv("MAX_BACKOFF", 15*time.Minute); err != nil {
		return nil, err
	}
	if cfg.ReminderDelay, err = durationEnv("REMINDER_DELAY", 5*time.Minute); err != nil {
		return nil, err
	}

	days, err := intEnv("RETENTION_DAYS", 30)
	if err != nil {
		return nil, err
	}
	if days < 1 {
		return nil, fmt.Errorf("RETENTION_DAYS must be at least 1")
	}
	cfg.Retention = time.Duration(days) * 24 * time.Hour

	if cfg.AlertThreshold, err = intEnv("ALERT_THRESHOLD", 5); err != nil {
		return nil, err
	}
	if cfg.AlertThreshold < 1 {
		return nil, fmt.Errorf("ALERT_THRESHOLD must be at least 1")
	}

	return cfg, nil
}

func envOrDefault(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func durationEnv(key string, def time.Duration) (time.Duration, error) {
	raw := os.Getenv(key)
	if raw == "" {
		return def, nil
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q: %w", key, raw, err)
	}
	if d <= 0 {
		return 0, fmt.Errorf("%s must be positive", key)
	}
	return d, nil
}

func intEnv(key string, def int) (int, error) {
	raw := os.Getenv(key)
	if raw == "" {
		return def, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q: %w", key, raw, err)
	}
	return n, nil
}
