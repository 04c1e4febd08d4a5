// Package config defines the top-level configuration for the trading
// simulator and provides validation helpers.
package config

import (
	"fmt"
	"strings"
	"time"
)

// Config is the root configuration structure. Fields are populated from a
// TOML file and then optionally overridden by TRADESIM_* environment
// variables.
type Config struct {
	Feed       FeedConfig       `toml:"feed"`
	Broker     BrokerConfig     `toml:"broker"`
	Strategies []StrategyConfig `toml:"strategies"`
	Postgres   PostgresConfig   `toml:"postgres"`
	Redis      RedisConfig      `toml:"redis"`
	Server     ServerConfig     `toml:"server"`
	S3         S3Config         `toml:"s3"`
	Notify     NotifyConfig     `toml:"notify"`
	Mode       string           `toml:"mode"`
	LogLevel   string           `toml:"log_level"`
}

// SymbolConfig seeds one simulated instrument.
type SymbolConfig struct {
	Symbol     string  `toml:"symbol"`
	StartPrice float64 `toml:"start_price"`
}

// FeedConfig holds the simulated market data feed parameters.
type FeedConfig struct {
	TickInterval duration       `toml:"tick_interval"`
	MaxMovePct   float64        `toml:"max_move_pct"`
	HistoryBars  int            `toml:"history_bars"`
	Periods      []duration     `toml:"periods"`
	Symbols      []SymbolConfig `toml:"symbols"`
}

// BrokerConfig holds the simulated broker parameters.
type BrokerConfig struct {
	AccountID        string   `toml:"account_id"`
	StartingCash     float64  `toml:"starting_cash"`
	MatchInterval    duration `toml:"match_interval"`
	PartialFillProb  float64  `toml:"partial_fill_prob"`
	CancelRejectProb float64  `toml:"cancel_reject_prob"`
	SubmitDelay      duration `toml:"submit_delay"`
	CancelDelay      duration `toml:"cancel_delay"`
	// Seed for the simulation's random source. Zero seeds from the clock.
	Seed int64 `toml:"seed"`
}

// StrategyConfig declares one strategy instance started at boot.
type StrategyConfig struct {
	Type             string            `toml:"type"`
	Symbol           string            `toml:"symbol"`
	Period           duration          `toml:"period"`
	Interval         duration          `toml:"interval"`
	Quantity         int64             `toml:"quantity"`
	MaxPositionValue float64           `toml:"max_position_value"`
	AutoStart        bool              `toml:"auto_start"`
	Params           map[string]string `toml:"params"`
}

// PostgresConfig holds PostgreSQL connection parameters.
type PostgresConfig struct {
	DSN           string `toml:"dsn"`
	Host          string `toml:"host"`
	Port          int    `toml:"port"`
	Database      string `toml:"database"`
	User          string `toml:"user"`
	Password      string `toml:"password"`
	SSLMode       string `toml:"ssl_mode"`
	PoolMaxConns  int    `toml:"pool_max_conns"`
	PoolMinConns  int    `toml:"pool_min_conns"`
	RunMigrations bool   `toml:"run_migrations"`
}

// RedisConfig holds Redis connection parameters for quote publication.
type RedisConfig struct {
	Enabled    bool   `toml:"enabled"`
	Addr       string `toml:"addr"`
	Password   string `toml:"password"`
	DB         int    `toml:"db"`
	PoolSize   int    `toml:"pool_size"`
	TLSEnabled bool   `toml:"tls_enabled"`
}

// ServerConfig holds HTTP server parameters.
type ServerConfig struct {
	Enabled     bool     `toml:"enabled"`
	Port        int      `toml:"port"`
	CORSOrigins []string `toml:"cors_origins"`
	APIKey      string   `toml:"api_key"`
}

// S3Config holds object storage parameters for run exports. When enabled,
// each run's orders, account snapshots, and strategy logs are uploaded as
// JSONL on shutdown.
type S3Config struct {
	Enabled        bool   `toml:"enabled"`
	Endpoint       string `toml:"endpoint"`
	Region         string `toml:"region"`
	Bucket         string `toml:"bucket"`
	AccessKey      string `toml:"access_key"`
	SecretKey      string `toml:"secret_key"`
	UseSSL         bool   `toml:"use_ssl"`
	ForcePathStyle bool   `toml:"force_path_style"`
}

// NotifyConfig holds alert delivery parameters. A sender is active when its
// credentials are set; Events filters which alert types are delivered
// (empty delivers all).
type NotifyConfig struct {
	Events         []string `toml:"events"`
	DiscordWebhook string   `toml:"discord_webhook"`
	TelegramToken  string   `toml:"telegram_token"`
	TelegramChatID string   `toml:"telegram_chat_id"`
}

// duration wraps time.Duration so the TOML decoder can parse strings like
// "5m" or "30s".
type duration struct {
	time.Duration
}

func (d *duration) UnmarshalText(text []byte) error {
	var err error
	d.Duration, err = time.ParseDuration(string(text))
	return err
}

func (d duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// Defaults returns a Config populated with reasonable default values.
// These match the values in config.example.toml.
func Defaults() Config {
	return Config{
		Feed: FeedConfig{
			TickInterval: duration{200 * time.Millisecond},
			MaxMovePct:   0.5,
			HistoryBars:  500,
			Periods:      []duration{{time.Minute}, {5 * time.Minute}},
			Symbols: []SymbolConfig{
				{Symbol: "SIM1", StartPrice: 100},
				{Symbol: "SIM2", StartPrice: 2500},
			},
		},
		Broker: BrokerConfig{
			AccountID:        "sim-account",
			StartingCash:     1_000_000,
			MatchInterval:    duration{500 * time.Millisecond},
			PartialFillProb:  1.0 / 3.0,
			CancelRejectProb: 0.1,
			SubmitDelay:      duration{20 * time.Millisecond},
			CancelDelay:      duration{20 * time.Millisecond},
		},
		Postgres: PostgresConfig{
			Host:          "localhost",
			Port:          5432,
			Database:      "tradesim",
			User:          "postgres",
			SSLMode:       "disable",
			PoolMaxConns:  10,
			PoolMinConns:  2,
			RunMigrations: true,
		},
		Redis: RedisConfig{
			Enabled:  false,
			Addr:     "localhost:6379",
			PoolSize: 20,
		},
		Server: ServerConfig{
			Enabled:     true,
			Port:        8000,
			CORSOrigins: []string{"http://localhost:3000", "http://localhost:5173"},
		},
		S3: S3Config{
			Enabled: false,
			Region:  "us-east-1",
			UseSSL:  true,
		},
		Mode:     "sim",
		LogLevel: "info",
	}
}

// validModes enumerates the accepted values for Config.Mode.
var validModes = map[string]bool{
	"sim":  true,
	"full": true,
}

// validLogLevels enumerates the accepted values for Config.LogLevel.
var validLogLevels = map[string]bool{
	"debug": true,
	"info":  true,
	"warn":  true,
	"error": true,
}

// Validate checks Config for obviously invalid or missing values and
// returns a combined error describing every problem found.
func (c *Config) Validate() error {
	var errs []string

	if !validModes[strings.ToLower(c.Mode)] {
		errs = append(errs, fmt.Sprintf("unknown mode %q (valid: sim, full)", c.Mode))
	}
	if !validLogLevels[strings.ToLower(c.LogLevel)] {
		errs = append(errs, fmt.Sprintf("unknown log_level %q (valid: debug, info, warn, error)", c.LogLevel))
	}

	if c.Feed.TickInterval.Duration <= 0 {
		errs = append(errs, "feed: tick_interval must be positive")
	}
	if c.Feed.MaxMovePct <= 0 || c.Feed.MaxMovePct > 100 {
		errs = append(errs, "feed: max_move_pct must be in (0, 100]")
	}
	if c.Feed.HistoryBars <= 0 {
		errs = append(errs, "feed: history_bars must be positive")
	}
	if len(c.Feed.Symbols) == 0 {
		errs = append(errs, "feed: at least one symbol is required")
	}
	for i, s := range c.Feed.Symbols {
		if s.Symbol == "" {
			errs = append(errs, fmt.Sprintf("feed: symbols[%d] has no symbol", i))
		}
		if s.StartPrice <= 0 {
			errs = append(errs, fmt.Sprintf("feed: symbols[%d] start_price must be positive", i))
		}
	}
	for i, p := range c.Feed.Periods {
		if p.Duration <= 0 {
			errs = append(errs, fmt.Sprintf("feed: periods[%d] must be positive", i))
		}
	}

	if c.Broker.StartingCash <= 0 {
		errs = append(errs, "broker: starting_cash must be positive")
	}
	if c.Broker.MatchInterval.Duration <= 0 {
		errs = append(errs, "broker: match_interval must be positive")
	}
	if c.Broker.PartialFillProb < 0 || c.Broker.PartialFillProb > 1 {
		errs = append(errs, "broker: partial_fill_prob must be in [0, 1]")
	}
	if c.Broker.CancelRejectProb < 0 || c.Broker.CancelRejectProb > 1 {
		errs = append(errs, "broker: cancel_reject_prob must be in [0, 1]")
	}

	symbols := make(map[string]bool, len(c.Feed.Symbols))
	for _, s := range c.Feed.Symbols {
		symbols[s.Symbol] = true
	}
	for i, s := range c.Strategies {
		if s.Type == "" {
			errs = append(errs, fmt.Sprintf("strategies[%d]: type is required", i))
		}
		if s.Symbol == "" {
			errs = append(errs, fmt.Sprintf("strategies[%d]: symbol is required", i))
		} else if !symbols[s.Symbol] {
			errs = append(errs, fmt.Sprintf("strategies[%d]: symbol %q is not in feed.symbols", i, s.Symbol))
		}
	}

	if strings.ToLower(c.Mode) == "full" {
		if c.Postgres.DSN == "" && (c.Postgres.Host == "" || c.Postgres.Database == "" || c.Postgres.User == "") {
			errs = append(errs, "postgres: dsn or host/database/user required for mode full")
		}
	}

	if c.Server.Enabled && (c.Server.Port <= 0 || c.Server.Port > 65535) {
		errs = append(errs, fmt.Sprintf("server: invalid port %d", c.Server.Port))
	}

	if c.S3.Enabled {
		if c.S3.Bucket == "" {
			errs = append(errs, "s3: bucket required when enabled")
		}
		if c.S3.Region == "" {
			errs = append(errs, "s3: region required when enabled")
		}
	}
	if c.Notify.TelegramToken != "" && c.Notify.TelegramChatID == "" {
		errs = append(errs, "notify: telegram_chat_id required with telegram_token")
	}

	if len(errs) > 0 {
		return fmt.Errorf("config: %s", strings.Join(errs, "; "))
	}
	return nil
}
