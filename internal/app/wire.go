package app

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	s3blob "github.com/ajcrowley/tradesim/internal/blob/s3"
	"github.com/ajcrowley/tradesim/internal/broker/sim"
	"github.com/ajcrowley/tradesim/internal/cache/redis"
	"github.com/ajcrowley/tradesim/internal/clock"
	"github.com/ajcrowley/tradesim/internal/config"
	"github.com/ajcrowley/tradesim/internal/domain"
	"github.com/ajcrowley/tradesim/internal/engine"
	"github.com/ajcrowley/tradesim/internal/marketdata"
	"github.com/ajcrowley/tradesim/internal/notify"
	"github.com/ajcrowley/tradesim/internal/randx"
	"github.com/ajcrowley/tradesim/internal/store/memory"
	"github.com/ajcrowley/tradesim/internal/store/postgres"
	"github.com/ajcrowley/tradesim/internal/strategy"
)

// Dependencies bundles everything the trading loop needs. It is constructed
// by Wire and torn down by the returned cleanup function.
type Dependencies struct {
	Feed     *marketdata.Feed
	Broker   *sim.Broker
	Engine   *engine.Engine
	Repo     domain.Repository
	Archiver *s3blob.Archiver
	Notifier *notify.Notifier
}

// Wire constructs all concrete dependencies from the configuration. The
// "sim" mode keeps everything in memory; "full" attaches postgres
// persistence and, when enabled, redis quote publication.
func Wire(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Dependencies, func(), error) {
	var closers []func()
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}

	clk := clock.Real{}
	seed := cfg.Broker.Seed
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	rng := randx.NewLocked(seed)
	logger.Info("simulation randomness seeded", slog.Int64("seed", seed))

	full := strings.ToLower(cfg.Mode) == "full"

	// Quote cache (full mode only, optional).
	var quoteCache domain.QuoteCache
	if full && cfg.Redis.Enabled {
		redisClient, err := redis.New(ctx, redis.ClientConfig{
			Addr:       cfg.Redis.Addr,
			Password:   cfg.Redis.Password,
			DB:         cfg.Redis.DB,
			PoolSize:   cfg.Redis.PoolSize,
			TLSEnabled: cfg.Redis.TLSEnabled,
		})
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire redis: %w", err)
		}
		closers = append(closers, func() { _ = redisClient.Close() })
		quoteCache = redis.NewQuoteCache(redisClient)
	}

	// Repository.
	var repo domain.Repository
	if full {
		pgClient, err := postgres.New(ctx, postgres.ClientConfig{
			DSN:      cfg.Postgres.DSN,
			Host:     cfg.Postgres.Host,
			Port:     cfg.Postgres.Port,
			Database: cfg.Postgres.Database,
			User:     cfg.Postgres.User,
			Password: cfg.Postgres.Password,
			SSLMode:  cfg.Postgres.SSLMode,
			MaxConns: cfg.Postgres.PoolMaxConns,
			MinConns: cfg.Postgres.PoolMinConns,
		})
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire postgres: %w", err)
		}
		closers = append(closers, pgClient.Close)
		if cfg.Postgres.RunMigrations {
			if err := pgClient.RunMigrations(ctx); err != nil {
				cleanup()
				return nil, nil, fmt.Errorf("wire postgres migrations: %w", err)
			}
		}
		repo = postgres.NewRepository(pgClient.Pool())
	} else {
		repo = memory.New()
	}

	// Run archiver (optional).
	var archiver *s3blob.Archiver
	if cfg.S3.Enabled {
		s3Client, err := s3blob.New(ctx, s3blob.ClientConfig{
			Endpoint:       cfg.S3.Endpoint,
			Region:         cfg.S3.Region,
			Bucket:         cfg.S3.Bucket,
			AccessKey:      cfg.S3.AccessKey,
			SecretKey:      cfg.S3.SecretKey,
			UseSSL:         cfg.S3.UseSSL,
			ForcePathStyle: cfg.S3.ForcePathStyle,
		})
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire s3: %w", err)
		}
		closers = append(closers, func() { _ = s3Client.Close() })
		archiver = s3blob.NewArchiver(s3Client, repo, cfg.Broker.AccountID, logger)
	}

	// Alert notifier (optional, active when a sender is configured).
	var notifier *notify.Notifier
	var senders []notify.Sender
	if cfg.Notify.DiscordWebhook != "" {
		senders = append(senders, notify.NewDiscordSender(cfg.Notify.DiscordWebhook))
	}
	if cfg.Notify.TelegramToken != "" {
		senders = append(senders, notify.NewTelegramSender(cfg.Notify.TelegramToken, cfg.Notify.TelegramChatID))
	}
	if len(senders) > 0 {
		notifier = notify.NewNotifier(senders, cfg.Notify.Events, logger)
	}

	// Feed.
	feedCfg := marketdata.DefaultConfig()
	feedCfg.TickInterval = cfg.Feed.TickInterval.Duration
	feedCfg.MaxMovePct = cfg.Feed.MaxMovePct
	feedCfg.HistoryBars = cfg.Feed.HistoryBars
	if len(cfg.Feed.Periods) > 0 {
		periods := make([]time.Duration, 0, len(cfg.Feed.Periods))
		for _, p := range cfg.Feed.Periods {
			periods = append(periods, p.Duration)
		}
		feedCfg.Periods = periods
	}
	feed := marketdata.New(feedCfg, clk, rng, quoteCache, logger)
	for _, s := range cfg.Feed.Symbols {
		feed.AddSymbol(s.Symbol, s.StartPrice)
	}

	// Broker.
	brokerCfg := sim.DefaultConfig()
	brokerCfg.AccountID = cfg.Broker.AccountID
	brokerCfg.StartingCash = cfg.Broker.StartingCash
	brokerCfg.MatchInterval = cfg.Broker.MatchInterval.Duration
	brokerCfg.PartialFillProb = cfg.Broker.PartialFillProb
	brokerCfg.CancelRejectProb = cfg.Broker.CancelRejectProb
	brokerCfg.SubmitDelay = cfg.Broker.SubmitDelay.Duration
	brokerCfg.CancelDelay = cfg.Broker.CancelDelay.Duration
	broker := sim.New(brokerCfg, feed, clk, rng, logger)

	// Engine.
	eng := engine.New(broker, feed, strategy.DefaultRegistry(), repo, clk, logger)

	return &Dependencies{
		Feed:     feed,
		Broker:   broker,
		Engine:   eng,
		Repo:     repo,
		Archiver: archiver,
		Notifier: notifier,
	}, cleanup, nil
}
