package config

import (
	"strings"
	"testing"
	"time"
)

func setRequired(t *testing.T) {
	t.Helper()
	t.Setenv("TELEGRAM_BOT_TOKEN", "test-token")
	t.Setenv("OWNER_USER_ID", "1000")
}

func TestLoadDefaults(t *testing.T) {
	setRequired(t)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}

	if cfg.TelegramBotToken != "test-token" {
		t.Errorf("token = %q", cfg.TelegramBotToken)
	}
	if cfg.OwnerUserID != 1000 {
		t.Errorf("owner = %d", cfg.OwnerUserID)
	}
	if cfg.DatabasePath != "./data/bot.db" {
		t.Errorf("db path = %q", cfg.DatabasePath)
	}
	if cfg.PollInterval != time.Minute {
		t.Errorf("poll interval = %v", cfg.PollInterval)
	}
	if cfg.ReminderDelay != 5*time.Minute {
		t.Errorf("reminder delay = %v", cfg.ReminderDelay)
	}
	if cfg.Retention != 30*24*time.Hour {
		t.Errorf("retention = %v", cfg.Retention)
	}
	if cfg.AlertThreshold != 5 {
		t.Errorf("alert threshold = %d", cfg.AlertThreshold)
	}
}

func TestLoadMissingRequired(t *testing.T) {
	t.Setenv("TELEGRAM_BOT_TOKEN", "")
	t.Setenv("OWNER_USER_ID", "")

	if _, err := Load(); err == nil || !strings.Contains(err.Error(), "TELEGRAM_BOT_TOKEN") {
		t.Errorf("expected token error, got %v", err)
	}

	t.Setenv("TELEGRAM_BOT_TOKEN", "x")
	if _, err := Load(); err == nil || !strings.Contains(err.Error(), "OWNER_USER_ID") {
		t.Errorf("expected owner error, got %v", err)
	}
}

func TestLoadInvalidValues(t *testing.T) {
	setRequired(t)

	t.Setenv("OWNER_USER_ID", "not-a-number")
	if _, err := Load(); err == nil {
		t.Error("expected error for bad owner ID")
	}
	t.Setenv("OWNER_USER_ID", "1000")

	t.Setenv("POLL_INTERVAL", "soon")
	if _, err := Load(); err == nil {
		t.Error("expected error for bad poll interval")
	}
	t.Setenv("POLL_INTERVAL", "")

	t.Setenv("RETENTION_DAYS", "0")
	if _, err := Load(); err == nil {
		t.Error("expected error for zero retention")
	}
	t.Setenv("RETENTION_DAYS", "")

	t.Setenv("ALERT_THRESHOLD", "-1")
	if _, err := Load(); err == nil {
		t.Error("expected error for negative threshold")
	}
}

func TestPollIntervalFloor(t *testing.T) {
	setRequired(t)
	t.Setenv("POLL_INTERVAL", "5s")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.PollInterval != MinPollInterval {
		t.Errorf("poll interval = %v, want floor %v", cfg.PollInterval, MinPollInterval)
	}
}
