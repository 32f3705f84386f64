package config

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v10"
	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
)

type Config struct {
	ServerPort  string `env:"SERVER_PORT" envDefault:"8090"`
	Environment string `env:"ENVIRONMENT" envDefault:"development"`
	LogLevel    string `env:"LOG_LEVEL" envDefault:"info"`

	// Upstream chat backend
	APIBaseURL        string        `env:"API_BASE_URL" validate:"required,url"`
	RosterWSURL       string        `env:"ROSTER_WS_URL" validate:"required"`
	ConversationWSURL string        `env:"CONVERSATION_WS_URL" validate:"required"`
	AuthToken         string        `env:"AUTH_TOKEN"`
	ModeratorID       int64         `env:"MODERATOR_ID" validate:"required,gt=0"`
	RequestTimeout    time.Duration `env:"REQUEST_TIMEOUT" envDefault:"15s"`

	// Presentation facade
	APIToken string `env:"API_TOKEN"`

	// Persistent connection
	MaxReconnectAttempts int           `env:"WS_MAX_RECONNECT_ATTEMPTS" envDefault:"5" validate:"gte=0"`
	BaseDelay            time.Duration `env:"WS_BASE_DELAY" envDefault:"1s" validate:"gt=0"`
	MaxDelay             time.Duration `env:"WS_MAX_DELAY" envDefault:"30s" validate:"gtefield=BaseDelay"`
	ConnectionTimeout    time.Duration `env:"WS_CONNECTION_TIMEOUT" envDefault:"10s" validate:"gt=0"`

	// Delivery
	ConnectionWaitTimeout time.Duration `env:"CONNECTION_WAIT_TIMEOUT" envDefault:"3s" validate:"gt=0"`
	SendMaxRetries        int           `env:"SEND_MAX_RETRIES" envDefault:"2" validate:"gte=0"`
	SendRetryDelay        time.Duration `env:"SEND_RETRY_DELAY" envDefault:"1s" validate:"gt=0"`

	// History
	HistoryCacheTTL     time.Duration `env:"HISTORY_CACHE_TTL" envDefault:"5m" validate:"gt=0"`
	HistoryPageSize     int           `env:"HISTORY_PAGE_SIZE" envDefault:"50" validate:"gt=0"`
	PrefetchConcurrency int           `env:"PREFETCH_CONCURRENCY" envDefault:"3" validate:"gt=0"`
	TypingTimeout       time.Duration `env:"TYPING_TIMEOUT" envDefault:"5s"`

	// Roster
	RosterCooldown        time.Duration `env:"ROSTER_COOLDOWN" envDefault:"5s"`
	RosterDebounce        time.Duration `env:"ROSTER_DEBOUNCE" envDefault:"1s"`
	RosterRefreshInterval time.Duration `env:"ROSTER_REFRESH_INTERVAL" envDefault:"30s" validate:"gt=0"`
	RosterPageSize        int           `env:"ROSTER_PAGE_SIZE" envDefault:"100" validate:"gt=0"`
}

func Load() (*Config, error) {
	godotenv.Load()

	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse env config: %w", err)
	}

	if err := validator.New().Struct(cfg); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return cfg, nil
}

// Addr returns the HTTP listen address of the presentation facade.
func (c *Config) Addr() string {
	return ":" + c.ServerPort
}
