package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/ajcrowley/tradesim/internal/domain"
	"github.com/ajcrowley/tradesim/internal/notify"
	"github.com/ajcrowley/tradesim/internal/server"
	"github.com/ajcrowley/tradesim/internal/server/handler"
	"github.com/ajcrowley/tradesim/internal/server/ws"
	"github.com/ajcrowley/tradesim/internal/strategy"
)

// shutdownTimeout bounds graceful teardown of the engine and HTTP server.
const shutdownTimeout = 10 * time.Second

// runTrading starts the feed and matching loops, the engine, the configured
// strategies, and (when enabled) the API server. It blocks until ctx is
// cancelled, then tears everything down in order: strategies and engine
// first, server last.
func (a *App) runTrading(ctx context.Context, deps *Dependencies) error {
	runID := uuid.NewString()
	runStart := time.Now().UTC()

	g, groupCtx := errgroup.WithContext(ctx)

	g.Go(func() error { return deps.Feed.Run(groupCtx) })
	g.Go(func() error { return deps.Broker.Run(groupCtx) })

	if err := deps.Engine.Start(ctx); err != nil {
		return fmt.Errorf("app: start engine: %w", err)
	}

	if deps.Notifier != nil {
		alerter := notify.NewAlerter(deps.Notifier, deps.Engine, a.logger)
		defer alerter.Close()
	}

	for i, sc := range a.cfg.Strategies {
		cfg := strategy.DefaultRunnerConfig(sc.Symbol)
		if sc.Period.Duration > 0 {
			cfg.Period = sc.Period.Duration
		}
		if sc.Interval.Duration > 0 {
			cfg.Interval = sc.Interval.Duration
		}
		if sc.Quantity > 0 {
			cfg.Quantity = sc.Quantity
		}
		if sc.MaxPositionValue > 0 {
			cfg.MaxPositionValue = sc.MaxPositionValue
		}
		params := domain.ParamsFromMap(sc.Params)

		id, err := deps.Engine.AddStrategy(ctx, sc.Type, cfg, params)
		if err != nil {
			return fmt.Errorf("app: add strategy %d (%s): %w", i, sc.Type, err)
		}
		if sc.AutoStart {
			if err := deps.Engine.StartStrategy(ctx, id); err != nil {
				return fmt.Errorf("app: start strategy %s: %w", id, err)
			}
		}
	}

	var srv *server.Server
	if a.cfg.Server.Enabled {
		hub := ws.NewHub(deps.Engine, a.logger)
		g.Go(func() error {
			if err := hub.Run(groupCtx); err != nil && !errors.Is(err, context.Canceled) {
				return err
			}
			return nil
		})

		srv = server.NewServer(server.Config{
			Port:        a.cfg.Server.Port,
			CORSOrigins: a.cfg.Server.CORSOrigins,
			APIKey:      a.cfg.Server.APIKey,
		}, server.Handlers{
			Health:     handler.NewHealthHandler(a.cfg.Mode),
			Account:    handler.NewAccountHandler(deps.Engine, deps.Repo),
			Orders:     handler.NewOrderHandler(deps.Broker, deps.Repo),
			Strategies: handler.NewStrategyHandler(deps.Engine, deps.Repo),
			Market:     handler.NewMarketHandler(deps.Feed),
		}, hub, a.logger)
		g.Go(srv.Start)
	}

	<-groupCtx.Done()

	// Teardown outside the cancelled context.
	stopCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := deps.Engine.Stop(stopCtx); err != nil {
		a.logger.Warn("engine stop failed", slog.String("error", err.Error()))
	}
	if deps.Archiver != nil {
		if err := deps.Archiver.ExportRun(stopCtx, runID, runStart); err != nil {
			a.logger.Warn("run export failed",
				slog.String("run_id", runID),
				slog.String("error", err.Error()),
			)
		}
	}
	if srv != nil {
		if err := srv.Shutdown(stopCtx); err != nil {
			a.logger.Warn("server shutdown failed", slog.String("error", err.Error()))
		}
	}

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return ctx.Err()
}
