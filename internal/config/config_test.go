package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	t.Setenv("TELEGRAM_BOT_TOKEN", "123:abc")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "123:abc", cfg.Telegram.BotToken)
	assert.Equal(t, 60, cfg.Telegram.PollTimeout)
	assert.Equal(t, ":8080", cfg.Server.Addr)
	assert.Equal(t, "/data/bot.db", cfg.Database.Path)
	assert.Equal(t, 24*time.Hour, cfg.Redis.DedupTTL)
	assert.Equal(t, 30*time.Minute, cfg.Dialog.InactivityWindow)
	assert.Equal(t, time.Minute, cfg.Dialog.ResetInterval)
	assert.Equal(t, 32, cfg.Dialog.ReferralMaxDepth)
	assert.False(t, cfg.Webhook())
	require.Len(t, cfg.Warnings(), 1)
	assert.Contains(t, cfg.Warnings()[0], "MANAGED_CHAT_ID")
}

func TestLoad_Overrides(t *testing.T) {
	t.Setenv("TELEGRAM_BOT_TOKEN", "123:abc")
	t.Setenv("MANAGED_CHAT_ID", "-100123")
	t.Setenv("WEBHOOK_URL", "https://bot.example.com/telegram/webhook")
	t.Setenv("WEBHOOK_SECRET", "s3cret")
	t.Setenv("DIALOG_INACTIVITY_WINDOW", "2h")
	t.Setenv("REDIS_ADDR", "localhost:6379")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, int64(-100123), cfg.Telegram.ManagedChatID)
	assert.True(t, cfg.Webhook())
	assert.Equal(t, 2*time.Hour, cfg.Dialog.InactivityWindow)
	assert.Equal(t, "localhost:6379", cfg.Redis.Addr)
	assert.Empty(t, cfg.Warnings())
}

func TestLoad_Invalid(t *testing.T) {
	tests := []struct {
		name string
		env  map[string]string
	}{
		{name: "missing token", env: map[string]string{"TELEGRAM_BOT_TOKEN": ""}},
		{name: "webhook without secret", env: map[string]string{"WEBHOOK_URL": "https://x"}},
		{name: "zero depth", env: map[string]string{"REFERRAL_MAX_DEPTH": "0"}},
		{name: "bad duration", env: map[string]string{"DIALOG_RESET_INTERVAL": "soon"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv("TELEGRAM_BOT_TOKEN", "123:abc")
			for k, v := range tt.env {
				t.Setenv(k, v)
			}

			_, err := Load()
			assert.Error(t, err)
		})
	}
}
