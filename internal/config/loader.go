package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
)

// Load reads a TOML configuration file at path, merges it on top of the
// built-in defaults, applies TRADESIM_* environment variable overrides, and
// returns the final Config. An empty path skips the file and uses defaults
// plus environment. The returned Config has NOT been validated; the caller
// should invoke Config.Validate() after Load.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	if path != "" {
		if _, err := toml.DecodeFile(path, &cfg); err != nil {
			return nil, fmt.Errorf("config: decode %s: %w", path, err)
		}
	}

	// Load .env file if present (silently ignore if missing).
	_ = godotenv.Load()

	applyEnvOverrides(&cfg)

	return &cfg, nil
}

// applyEnvOverrides reads well-known TRADESIM_* environment variables and
// overwrites the corresponding Config fields when a variable is set. This
// lets operators inject secrets at deploy time without touching the TOML
// file.
func applyEnvOverrides(cfg *Config) {
	// ── Feed ──
	setDuration(&cfg.Feed.TickInterval, "TRADESIM_FEED_TICK_INTERVAL")
	setFloat64(&cfg.Feed.MaxMovePct, "TRADESIM_FEED_MAX_MOVE_PCT")
	setInt(&cfg.Feed.HistoryBars, "TRADESIM_FEED_HISTORY_BARS")

	// ── Broker ──
	setStr(&cfg.Broker.AccountID, "TRADESIM_BROKER_ACCOUNT_ID")
	setFloat64(&cfg.Broker.StartingCash, "TRADESIM_BROKER_STARTING_CASH")
	setDuration(&cfg.Broker.MatchInterval, "TRADESIM_BROKER_MATCH_INTERVAL")
	setFloat64(&cfg.Broker.PartialFillProb, "TRADESIM_BROKER_PARTIAL_FILL_PROB")
	setFloat64(&cfg.Broker.CancelRejectProb, "TRADESIM_BROKER_CANCEL_REJECT_PROB")
	setDuration(&cfg.Broker.SubmitDelay, "TRADESIM_BROKER_SUBMIT_DELAY")
	setDuration(&cfg.Broker.CancelDelay, "TRADESIM_BROKER_CANCEL_DELAY")
	setInt64(&cfg.Broker.Seed, "TRADESIM_BROKER_SEED")

	// ── Postgres ──
	setStr(&cfg.Postgres.DSN, "TRADESIM_POSTGRES_DSN")
	setStr(&cfg.Postgres.Host, "TRADESIM_POSTGRES_HOST")
	setInt(&cfg.Postgres.Port, "TRADESIM_POSTGRES_PORT")
	setStr(&cfg.Postgres.Database, "TRADESIM_POSTGRES_DATABASE")
	setStr(&cfg.Postgres.User, "TRADESIM_POSTGRES_USER")
	setStr(&cfg.Postgres.Password, "TRADESIM_POSTGRES_PASSWORD")
	setStr(&cfg.Postgres.SSLMode, "TRADESIM_POSTGRES_SSLMODE")
	setInt(&cfg.Postgres.PoolMaxConns, "TRADESIM_POSTGRES_POOL_MAX_CONNS")
	setInt(&cfg.Postgres.PoolMinConns, "TRADESIM_POSTGRES_POOL_MIN_CONNS")
	setBool(&cfg.Postgres.RunMigrations, "TRADESIM_POSTGRES_RUN_MIGRATIONS")

	// ── Redis ──
	setBool(&cfg.Redis.Enabled, "TRADESIM_REDIS_ENABLED")
	setStr(&cfg.Redis.Addr, "TRADESIM_REDIS_ADDR")
	setStr(&cfg.Redis.Password, "TRADESIM_REDIS_PASSWORD")
	setInt(&cfg.Redis.DB, "TRADESIM_REDIS_DB")
	setInt(&cfg.Redis.PoolSize, "TRADESIM_REDIS_POOL_SIZE")
	setBool(&cfg.Redis.TLSEnabled, "TRADESIM_REDIS_TLS_ENABLED")

	// ── Server ──
	setBool(&cfg.Server.Enabled, "TRADESIM_SERVER_ENABLED")
	setInt(&cfg.Server.Port, "TRADESIM_SERVER_PORT")
	setStringSlice(&cfg.Server.CORSOrigins, "TRADESIM_SERVER_CORS_ORIGINS")
	setStr(&cfg.Server.APIKey, "TRADESIM_SERVER_API_KEY")

	// ── S3 ──
	setBool(&cfg.S3.Enabled, "TRADESIM_S3_ENABLED")
	setStr(&cfg.S3.Endpoint, "TRADESIM_S3_ENDPOINT")
	setStr(&cfg.S3.Region, "TRADESIM_S3_REGION")
	setStr(&cfg.S3.Bucket, "TRADESIM_S3_BUCKET")
	setStr(&cfg.S3.AccessKey, "TRADESIM_S3_ACCESS_KEY")
	setStr(&cfg.S3.SecretKey, "TRADESIM_S3_SECRET_KEY")
	setBool(&cfg.S3.UseSSL, "TRADESIM_S3_USE_SSL")
	setBool(&cfg.S3.ForcePathStyle, "TRADESIM_S3_FORCE_PATH_STYLE")

	// ── Notify ──
	setStringSlice(&cfg.Notify.Events, "TRADESIM_NOTIFY_EVENTS")
	setStr(&cfg.Notify.DiscordWebhook, "TRADESIM_NOTIFY_DISCORD_WEBHOOK")
	setStr(&cfg.Notify.TelegramToken, "TRADESIM_NOTIFY_TELEGRAM_TOKEN")
	setStr(&cfg.Notify.TelegramChatID, "TRADESIM_NOTIFY_TELEGRAM_CHAT_ID")

	// ── Top-level ──
	setStr(&cfg.Mode, "TRADESIM_MODE")
	setStr(&cfg.LogLevel, "TRADESIM_LOG_LEVEL")
}

// ---------------------------------------------------------------------------
// Typed env-var helpers. Each only mutates the target when the environment
// variable is present and non-empty.
// ---------------------------------------------------------------------------

func setStr(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func setInt64(dst *int64, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			*dst = n
		}
	}
}

func setFloat64(dst *float64, key string) {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			*dst = f
		}
	}
}

func setBool(dst *bool, key string) {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		}
	}
}

func setDuration(dst *duration, key string) {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			dst.Duration = d
		}
	}
}

func setStringSlice(dst *[]string, key string) {
	if v := os.Getenv(key); v != "" {
		parts := strings.Split(v, ",")
		cleaned := make([]string, 0, len(parts))
		for _, p := range parts {
			p = strings.TrimSpace(p)
			if p != "" {
				cleaned = append(cleaned, p)
			}
		}
		if len(cleaned) > 0 {
			*dst = cleaned
		}
	}
}
