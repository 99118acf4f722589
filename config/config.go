package config

import (
	"fmt"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

// Config holds all runtime settings, loaded from the environment with an
// optional .env file on top.
type Config struct {
	// Alpaca credentials and endpoint
	AlpacaAPIKey    string `envconfig:"APCA_API_KEY_ID"`
	AlpacaAPISecret string `envconfig:"APCA_API_SECRET_KEY"`
	AlpacaBaseURL   string `envconfig:"APCA_API_BASE_URL" default:"https://paper-api.alpaca.markets"`

	// Local storage and HTTP surface
	DBPath string `envconfig:"DB_PATH" default:"data/daytrader.db"`
	Port   string `envconfig:"PORT" default:"8000"`

	// Trading-day boundaries, local exchange-facing wall-clock times.
	// The market window gates order submission; start/stop trading bound
	// the strategy's activity inside it.
	Timezone     string `envconfig:"MARKET_TIMEZONE" default:"America/Los_Angeles"`
	MarketOpen   string `envconfig:"MARKET_OPEN" default:"06:30"`
	MarketClose  string `envconfig:"MARKET_CLOSE" default:"13:00"`
	StartTrading string `envconfig:"START_TRADING" default:"06:50"`
	StopTrading  string `envconfig:"STOP_TRADING" default:"12:00"`

	// Scheduler cadence and intraday job intervals
	TickEvery     time.Duration `envconfig:"SCHEDULER_TICK" default:"10s"`
	StrategyEvery time.Duration `envconfig:"STRATEGY_EVERY" default:"60s"`
	HoldingsEvery time.Duration `envconfig:"HOLDINGS_EVERY" default:"10m"`

	// Bounded retry for transient gateway errors
	MaxRetries int `envconfig:"MAX_RETRIES" default:"5"`

	// Notification credentials; all empty means log-only notifications
	TelegramBotToken string `envconfig:"TELEGRAM_BOT_TOKEN"`
	TelegramChatID   string `envconfig:"TELEGRAM_CHAT_ID"`
	PushoverToken    string `envconfig:"PUSHOVER_API_TOKEN"`
	PushoverUserKey  string `envconfig:"PUSHOVER_API_KEY"`

	LogLevel string `envconfig:"LOG_LEVEL" default:"info"`
}

// Load reads the optional .env file and processes the environment into a
// Config. A missing .env file is not an error.
func Load() (*Config, error) {
	_ = godotenv.Load()

	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("error processing env config: %w", err)
	}
	return &cfg, nil
}

// Location resolves the configured market timezone.
func (c *Config) Location() (*time.Location, error) {
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return nil, fmt.Errorf("invalid MARKET_TIMEZONE %q: %w", c.Timezone, err)
	}
	return loc, nil
}
