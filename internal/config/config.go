package config

import (
	"fmt"
	"time"

	"github.com/kelseyhightower/envconfig"
)

// Config holds application configuration loaded from environment variables.
type Config struct {
	LogLevel  string `envconfig:"LOG_LEVEL" default:"info"`   // debug|info|warn|error
	HTTPAddr  string `envconfig:"HTTP_ADDR" default:":8080"`  // healthz + metrics
	DefaultTZ string `envconfig:"DEFAULT_TZ" default:"UTC"`   // calendar for DAILY/WEEKLY
	SeedUser  string `envconfig:"SEED_USER" default:"u1"`     // starting current user
	DBPath    string `envconfig:"DB_PATH" default:":memory:"` // in-memory only; alerts do not survive restart

	SweepInterval time.Duration `envconfig:"SWEEP_INTERVAL" default:"10s"` // whole seconds, at least 1s

	ChatEndpoint      string        `envconfig:"CHAT_ENDPOINT"` // empty: simulation mode
	ChatTick          time.Duration `envconfig:"CHAT_TICK" default:"3s"`
	ChatMessageChance float64       `envconfig:"CHAT_MESSAGE_CHANCE" default:"0.3"`
	BotReplyDelay     time.Duration `envconfig:"BOT_REPLY_DELAY" default:"1s"`

	LevelTick       time.Duration `envconfig:"LEVEL_TICK" default:"200ms"`
	TranscriptTick  time.Duration `envconfig:"TRANSCRIPT_TICK" default:"4s"`
	FreeListenLimit time.Duration `envconfig:"FREE_LISTEN_LIMIT" default:"120s"`

	PaymentProcessingDelay time.Duration `envconfig:"PAYMENT_PROCESSING_DELAY" default:"2s"`
	PaymentSuccessDelay    time.Duration `envconfig:"PAYMENT_SUCCESS_DELAY" default:"1500ms"`

	GeminiAPIKey string        `envconfig:"GEMINI_API_KEY"` // empty: offline fallbacks only
	GeminiModel  string        `envconfig:"GEMINI_MODEL" default:"gemini-2.5-flash"`
	AITimeout    time.Duration `envconfig:"AI_TIMEOUT" default:"10s"`
	AIRatePerSec float64       `envconfig:"AI_RATE_PER_SEC" default:"2"`

	BotToken     string `envconfig:"BOT_TOKEN"`      // empty: Telegram disabled
	NotifyChatID int64  `envconfig:"NOTIFY_CHAT_ID"` // Telegram chat receiving alert notifications
}

// Load reads environment variables into Config.
func Load() (Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return cfg, err
	}
	if cfg.SweepInterval < time.Second {
		return cfg, fmt.Errorf("SWEEP_INTERVAL must be at least 1s, got %s", cfg.SweepInterval)
	}
	return cfg, nil
}
