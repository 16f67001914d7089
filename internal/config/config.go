package config

import (
	"errors"
	"fmt"
	"time"

	"github.com/caarlos0/env/v10"
	"github.com/joho/godotenv"
)

type Config struct {
	Debug bool `env:"DEBUG" envDefault:"false"`

	Telegram struct {
		BotToken string `env:"TELEGRAM_BOT_TOKEN,required,notEmpty"`
		// ManagedChatID is the group whose membership grants chat capabilities.
		ManagedChatID int64 `env:"MANAGED_CHAT_ID" envDefault:"0"`
		// WebhookURL switches from long polling to webhook delivery.
		WebhookURL    string `env:"WEBHOOK_URL"`
		WebhookSecret string `env:"WEBHOOK_SECRET"`
		PollTimeout   int    `env:"POLL_TIMEOUT" envDefault:"60"`
	}

	Server struct {
		Addr string `env:"HTTP_ADDR" envDefault:":8080"`
	}

	Database struct {
		Path string `env:"DB_PATH" envDefault:"/data/bot.db"`
	}

	Redis struct {
		// Addr is optional; without it update ids are deduplicated in memory.
		Addr     string        `env:"REDIS_ADDR"`
		Password string        `env:"REDIS_PASSWORD"`
		DB       int           `env:"REDIS_DB" envDefault:"0"`
		DedupTTL time.Duration `env:"DEDUP_TTL" envDefault:"24h"`
	}

	Dialog struct {
		InactivityWindow time.Duration `env:"DIALOG_INACTIVITY_WINDOW" envDefault:"30m"`
		ResetInterval    time.Duration `env:"DIALOG_RESET_INTERVAL" envDefault:"1m"`
		ReferralMaxDepth int           `env:"REFERRAL_MAX_DEPTH" envDefault:"32"`
	}
}

// Load reads an optional .env file and then the process environment.
func Load() (*Config, error) {
	// A missing .env is fine; production sets the variables directly.
	_ = godotenv.Load()

	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate rejects settings the bot cannot run with.
func (c *Config) Validate() error {
	var errs []error
	if c.Telegram.WebhookURL != "" && c.Telegram.WebhookSecret == "" {
		errs = append(errs, errors.New("WEBHOOK_SECRET is required with WEBHOOK_URL"))
	}
	if c.Telegram.PollTimeout < 0 {
		errs = append(errs, errors.New("POLL_TIMEOUT must not be negative"))
	}
	if c.Dialog.InactivityWindow <= 0 {
		errs = append(errs, errors.New("DIALOG_INACTIVITY_WINDOW must be positive"))
	}
	if c.Dialog.ResetInterval <= 0 {
		errs = append(errs, errors.New("DIALOG_RESET_INTERVAL must be positive"))
	}
	if c.Dialog.ReferralMaxDepth <= 0 {
		errs = append(errs, errors.New("REFERRAL_MAX_DEPTH must be positive"))
	}
	if c.Redis.DedupTTL <= 0 {
		errs = append(errs, errors.New("DEDUP_TTL must be positive"))
	}
	return errors.Join(errs...)
}

// Webhook reports whether updates arrive over HTTP.
func (c *Config) Webhook() bool {
	return c.Telegram.WebhookURL != ""
}

// Warnings lists settings that are valid but leave part of the bot unusable.
func (c *Config) Warnings() []string {
	var w []string
	if c.Telegram.ManagedChatID == 0 {
		w = append(w, "MANAGED_CHAT_ID is not set: chat-scoped actions are denied for everyone, /role and /status cannot succeed")
	}
	return w
}
