package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "info", cfg.LogLevel)
	assert.Equal(t, 10*time.Second, cfg.SweepInterval)
	assert.Equal(t, 3*time.Second, cfg.ChatTick)
	assert.InDelta(t, 0.3, cfg.ChatMessageChance, 1e-9)
	assert.Equal(t, 200*time.Millisecond, cfg.LevelTick)
	assert.Equal(t, 1500*time.Millisecond, cfg.PaymentSuccessDelay)
	assert.Equal(t, "gemini-2.5-flash", cfg.GeminiModel)
	assert.Empty(t, cfg.BotToken)
}

func TestLoad_Overrides(t *testing.T) {
	t.Setenv("SWEEP_INTERVAL", "1s")
	t.Setenv("CHAT_ENDPOINT", "ws://localhost:9000/chat")
	t.Setenv("NOTIFY_CHAT_ID", "-100123")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, time.Second, cfg.SweepInterval)
	assert.Equal(t, "ws://localhost:9000/chat", cfg.ChatEndpoint)
	assert.Equal(t, int64(-100123), cfg.NotifyChatID)
}

func TestLoad_BadDuration(t *testing.T) {
	t.Setenv("LEVEL_TICK", "fast")
	_, err := Load()
	assert.Error(t, err)
}

func TestLoad_SubSecondSweepRejected(t *testing.T) {
	t.Setenv("SWEEP_INTERVAL", "500ms")
	_, err := Load()
	assert.ErrorContains(t, err, "SWEEP_INTERVAL")
}
