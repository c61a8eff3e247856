package config

import (
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("CONFIG_ENV_PATH", "")
	t.Chdir(t.TempDir())
	t.Setenv("TELEGRAM_BOT_TOKEN", "123:abc")
	t.Setenv("CHANNEL_USERNAME", "https://t.me/prompts_channel/")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.DBDriver != "sqlite" {
		t.Errorf("DBDriver = %q, want sqlite", cfg.DBDriver)
	}
	if cfg.PollInterval != 2500*time.Millisecond {
		t.Errorf("PollInterval = %v, want 2.5s", cfg.PollInterval)
	}
	if cfg.MysticTimeout != 70*time.Second || cfg.SeedreamTimeout != 90*time.Second {
		t.Errorf("timeouts = %v/%v, want 70s/90s", cfg.MysticTimeout, cfg.SeedreamTimeout)
	}
	if cfg.ChannelUsername != "@prompts_channel" {
		t.Errorf("ChannelUsername = %q, want @prompts_channel", cfg.ChannelUsername)
	}
	if !cfg.GateEnabled() {
		t.Error("expected gate to be enabled when a channel is configured")
	}
	if cfg.UseS3() {
		t.Error("expected local file sink without S3_BUCKET")
	}
}

func TestLoadRejectsUnknownDriver(t *testing.T) {
	t.Setenv("CONFIG_ENV_PATH", "")
	t.Chdir(t.TempDir())
	t.Setenv("TELEGRAM_BOT_TOKEN", "123:abc")
	t.Setenv("DB_DRIVER", "postgres")

	if _, err := Load(); err == nil {
		t.Fatal("expected error for unsupported DB_DRIVER")
	}
}

func TestValidateRequiresCompleteS3Settings(t *testing.T) {
	cfg := Config{
		BotToken:        "123:abc",
		HTTPListenAddr:  ":10000",
		DBDriver:        "sqlite",
		DatabaseDSN:     "bot.sqlite",
		FreepikBaseURL:  "https://api.freepik.com",
		GeminiTimeout:   time.Second,
		PollInterval:    time.Second,
		MysticTimeout:   time.Second,
		SeedreamTimeout: time.Second,
		FilesDir:        "files",
		LogLevel:        "info",
		S3Bucket:        "bucket",
	}
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected error when S3 bucket is set without credentials")
	}
}

func TestMiniAppURLFallsBackToBaseURL(t *testing.T) {
	cfg := Config{BaseURL: "https://bot.example.com"}
	if got := cfg.MiniAppURL(); got != "https://bot.example.com/miniapp" {
		t.Errorf("MiniAppURL() = %q", got)
	}
	cfg.WebAppURL = "https://app.example.com"
	if got := cfg.MiniAppURL(); got != "https://app.example.com" {
		t.Errorf("MiniAppURL() = %q", got)
	}
}
