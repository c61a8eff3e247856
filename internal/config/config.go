package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

// Config aggregates runtime configuration for the bot, the mini-app API and the providers.
type Config struct {
	BotToken          string `envconfig:"TELEGRAM_BOT_TOKEN" required:"true" validate:"required"`
	BotUsername       string `envconfig:"BOT_USERNAME"`
	ChannelUsername   string `envconfig:"CHANNEL_USERNAME"`
	EnableChannelGate bool   `envconfig:"ENABLE_CHANNEL_GATE" default:"true"`
	OwnerID           int64  `envconfig:"OWNER_ID"`

	BaseURL        string   `envconfig:"BASE_URL"`
	WebAppURL      string   `envconfig:"WEBAPP_URL"`
	WebAppDir      string   `envconfig:"WEBAPP_DIR" default:"./web/miniapp"`
	HTTPListenAddr string   `envconfig:"HTTP_LISTEN_ADDR" default:":10000" validate:"required"`
	AllowedOrigins []string `envconfig:"ALLOWED_ORIGINS" default:"*"`
	AdminUsername  string   `envconfig:"ADMIN_USERNAME" default:"admin"`
	AdminPassword  string   `envconfig:"ADMIN_PASSWORD"`

	DBDriver    string `envconfig:"DB_DRIVER" default:"sqlite" validate:"oneof=sqlite mysql"`
	DatabaseDSN string `envconfig:"DATABASE_DSN" default:"./data/bot.sqlite" validate:"required"`

	FreepikAPIKey   string        `envconfig:"FREEPIK_API_KEY"`
	FreepikBaseURL  string        `envconfig:"FREEPIK_BASE_URL" default:"https://api.freepik.com" validate:"url"`
	GeminiAPIKey    string        `envconfig:"GEMINI_API_KEY"`
	GeminiModel     string        `envconfig:"GEMINI_MODEL" default:"gemini-2.5-flash-image-preview"`
	GeminiTimeout   time.Duration `envconfig:"GEMINI_TIMEOUT" default:"90s" validate:"gt=0"`
	PollInterval    time.Duration `envconfig:"POLL_INTERVAL" default:"2500ms" validate:"gt=0"`
	MysticTimeout   time.Duration `envconfig:"MYSTIC_TIMEOUT" default:"70s" validate:"gt=0"`
	SeedreamTimeout time.Duration `envconfig:"SEEDREAM_TIMEOUT" default:"90s" validate:"gt=0"`

	StartBonusCredits    int           `envconfig:"START_BONUS_CREDITS" default:"2" validate:"gte=0"`
	ReferralBonusCredits int           `envconfig:"REFERRAL_BONUS_CREDITS" default:"1" validate:"gte=0"`
	StateTTL             time.Duration `envconfig:"STATE_TTL" default:"30m"`

	FilesDir        string `envconfig:"FILES_DIR" default:"./data/files" validate:"required"`
	S3Endpoint      string `envconfig:"S3_ENDPOINT"`
	S3Region        string `envconfig:"S3_REGION"`
	S3AccessKey     string `envconfig:"S3_ACCESS_KEY"`
	S3SecretKey     string `envconfig:"S3_SECRET_KEY"`
	S3Bucket        string `envconfig:"S3_BUCKET"`
	S3PublicBaseURL string `envconfig:"S3_PUBLIC_BASE_URL"`
	S3UsePathStyle  bool   `envconfig:"S3_USE_PATH_STYLE"`
	S3Prefix        string `envconfig:"S3_PREFIX" default:"generations"`

	LogLevel string `envconfig:"LOG_LEVEL" default:"info" validate:"oneof=debug info warn error"`
}

// Load reads configuration from an optional env file and the process environment.
func Load() (Config, error) {
	if err := loadEnvFile(); err != nil {
		return Config{}, err
	}

	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return Config{}, fmt.Errorf("process env: %w", err)
	}
	cfg.normalize()

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks field constraints and the S3 settings, which are all-or-nothing.
func (c Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	if c.S3Bucket != "" {
		var missing []string
		if c.S3Region == "" {
			missing = append(missing, "S3_REGION")
		}
		if c.S3AccessKey == "" {
			missing = append(missing, "S3_ACCESS_KEY")
		}
		if c.S3SecretKey == "" {
			missing = append(missing, "S3_SECRET_KEY")
		}
		if c.S3PublicBaseURL == "" {
			missing = append(missing, "S3_PUBLIC_BASE_URL")
		}
		if len(missing) > 0 {
			return fmt.Errorf("missing required environment variables: %v", missing)
		}
	}
	return nil
}

// UseS3 reports whether generated artifacts go to object storage instead of FILES_DIR.
func (c Config) UseS3() bool {
	return c.S3Bucket != ""
}

// GateEnabled reports whether generation requires a channel subscription.
func (c Config) GateEnabled() bool {
	return c.EnableChannelGate && c.ChannelUsername != ""
}

// ChannelLink is the public t.me link of the gate channel.
func (c Config) ChannelLink() string {
	if c.ChannelUsername == "" {
		return ""
	}
	return "https://t.me/" + strings.TrimPrefix(c.ChannelUsername, "@")
}

// MiniAppURL prefers WEBAPP_URL and falls back to the mini-app served by this process.
func (c Config) MiniAppURL() string {
	if c.WebAppURL != "" {
		return c.WebAppURL
	}
	if c.BaseURL != "" {
		return strings.TrimRight(c.BaseURL, "/") + "/miniapp"
	}
	return ""
}

func (c *Config) normalize() {
	c.BaseURL = strings.TrimRight(strings.TrimSpace(c.BaseURL), "/")
	c.BotUsername = strings.TrimPrefix(strings.TrimSpace(c.BotUsername), "@")
	c.ChannelUsername = normalizeChannelUsername(c.ChannelUsername)
	c.DBDriver = strings.ToLower(strings.TrimSpace(c.DBDriver))
	c.LogLevel = strings.ToLower(strings.TrimSpace(c.LogLevel))
}

// normalizeChannelUsername accepts "name", "@name" or a t.me link and returns "@name".
func normalizeChannelUsername(raw string) string {
	raw = strings.TrimSpace(raw)
	raw = strings.TrimSuffix(raw, "/")
	if raw == "" {
		return ""
	}
	if strings.HasPrefix(raw, "http://") || strings.HasPrefix(raw, "https://") {
		if parsed, err := url.Parse(raw); err == nil {
			raw = strings.Trim(parsed.Path, "/")
		}
	}
	raw = strings.TrimPrefix(raw, "t.me/")
	raw = strings.TrimPrefix(raw, "@")
	if raw == "" {
		return ""
	}
	return "@" + raw
}

func loadEnvFile() error {
	candidates := []string{}
	if custom, ok := os.LookupEnv("CONFIG_ENV_PATH"); ok && custom != "" {
		candidates = append(candidates, custom)
	}
	candidates = append(candidates,
		filepath.Join("configs", ".env"),
		".env",
	)

	for _, path := range candidates {
		info, err := os.Stat(path)
		if err != nil {
			if errors.Is(err, os.ErrNotExist) {
				continue
			}
			return fmt.Errorf("access env file %s: %w", path, err)
		}
		if info.IsDir() {
			continue
		}
		if err := godotenv.Load(path); err != nil {
			return fmt.Errorf("load env file %s: %w", path, err)
		}
		return nil
	}
	// Deployments inject variables directly; an env file is optional.
	return nil
}
