// Package engine orchestrates the trading core: it owns the broker
// session, hosts strategy instances built through the registry, aggregates
// their events, and hands persistence off to the repository without ever
// letting a storage failure touch the trading path.
package engine

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/ajcrowley/tradesim/internal/clock"
	"github.com/ajcrowley/tradesim/internal/domain"
	"github.com/ajcrowley/tradesim/internal/event"
	"github.com/ajcrowley/tradesim/internal/strategy"
)

// persistTimeout bounds each fire-and-forget repository write.
const persistTimeout = 5 * time.Second

// StrategyInfo is a point-in-time view of a hosted strategy instance.
type StrategyInfo struct {
	ID     string
	Name   string
	Symbol string
	Status strategy.Status
}

// Engine wires the broker, the market data feed, and the strategy runtime
// together. It is safe for concurrent use.
type Engine struct {
	broker   domain.Broker
	feed     domain.MarketData
	registry *strategy.Registry
	repo     domain.Repository // nil disables persistence
	clock    clock.Clock
	logger   *slog.Logger

	mu         sync.Mutex
	running    bool
	strategies map[string]*strategy.Runner
	unsubs     []func()

	signalEv  event.Listeners[domain.Signal]
	orderEv   event.Listeners[domain.Order]
	execEv    event.Listeners[domain.Execution]
	accountEv event.Listeners[domain.AccountSnapshot]
}

// New builds an engine. repo may be nil, in which case nothing is
// persisted.
func New(broker domain.Broker, feed domain.MarketData, registry *strategy.Registry, repo domain.Repository, clk clock.Clock, logger *slog.Logger) *Engine {
	return &Engine{
		broker:     broker,
		feed:       feed,
		registry:   registry,
		repo:       repo,
		clock:      clk,
		logger:     logger.With(slog.String("component", "engine")),
		strategies: make(map[string]*strategy.Runner),
	}
}

// Start connects the broker session, verifies the account is reachable,
// and begins aggregating broker events. Strategies added before or after
// Start stay Initialized until started individually.
func (e *Engine) Start(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.running {
		return fmt.Errorf("engine already started")
	}

	if err := e.broker.Connect(ctx); err != nil {
		return fmt.Errorf("connect broker: %w", err)
	}
	account, err := e.broker.GetAccount(ctx)
	if err != nil {
		_ = e.broker.Disconnect(ctx)
		return fmt.Errorf("fetch account: %w", err)
	}

	e.unsubs = []func(){
		e.broker.OnOrderStatus(e.onOrderStatus),
		e.broker.OnExecution(e.onExecution),
		e.broker.OnAccountUpdated(e.onAccountUpdated),
		e.broker.OnConnectionStatus(func(connected bool) {
			e.logger.Info("broker connection changed", slog.Bool("connected", connected))
		}),
	}
	e.running = true

	e.logger.InfoContext(ctx, "engine started",
		slog.String("account_id", account.ID),
		slog.Float64("cash", account.Cash),
	)
	return nil
}

// Stop stops every strategy first, then detaches from broker events and
// disconnects the session. Stopping strategies before disconnecting lets
// their teardown order cancellations reach the broker.
func (e *Engine) Stop(ctx context.Context) error {
	e.mu.Lock()
	if !e.running {
		e.mu.Unlock()
		return nil
	}
	runners := make([]*strategy.Runner, 0, len(e.strategies))
	for _, r := range e.strategies {
		runners = append(runners, r)
	}
	unsubs := e.unsubs
	e.unsubs = nil
	e.running = false
	e.mu.Unlock()

	for _, r := range runners {
		if err := r.Stop(ctx); err != nil {
			e.logger.WarnContext(ctx, "strategy stop failed",
				slog.String("strategy_id", r.ID()),
				slog.String("error", err.Error()),
			)
		}
	}
	for _, unsub := range unsubs {
		unsub()
	}
	if err := e.broker.Disconnect(ctx); err != nil {
		return fmt.Errorf("disconnect broker: %w", err)
	}
	e.logger.InfoContext(ctx, "engine stopped")
	return nil
}

// AddStrategy builds a strategy instance by type tag and registers it with
// the engine. The instance stays Initialized until StartStrategy. Returns
// the new instance id.
func (e *Engine) AddStrategy(ctx context.Context, tag string, cfg strategy.RunnerConfig, ps domain.Parameters) (string, error) {
	eval, err := e.registry.New(tag, ps)
	if err != nil {
		return "", err
	}
	runner := strategy.NewRunner(cfg, eval, e.broker, e.feed, e.clock, e.logger)
	runner.OnSignal(e.onSignal)

	e.mu.Lock()
	e.strategies[runner.ID()] = runner
	e.mu.Unlock()

	e.logger.InfoContext(ctx, "strategy added",
		slog.String("strategy_id", runner.ID()),
		slog.String("strategy", tag),
		slog.String("symbol", cfg.Symbol),
	)
	return runner.ID(), nil
}

// RemoveStrategy stops the instance if needed and discards it.
func (e *Engine) RemoveStrategy(ctx context.Context, id string) error {
	runner, err := e.strategy(id)
	if err != nil {
		return err
	}
	if err := runner.Stop(ctx); err != nil {
		return fmt.Errorf("stop strategy %s: %w", id, err)
	}

	e.mu.Lock()
	delete(e.strategies, id)
	e.mu.Unlock()

	e.logger.InfoContext(ctx, "strategy removed", slog.String("strategy_id", id))
	return nil
}

// StartStrategy launches the instance's evaluation loop.
func (e *Engine) StartStrategy(ctx context.Context, id string) error {
	runner, err := e.strategy(id)
	if err != nil {
		return err
	}
	return runner.Start(ctx)
}

// StopStrategy halts the instance's loop and cancels its open orders.
func (e *Engine) StopStrategy(ctx context.Context, id string) error {
	runner, err := e.strategy(id)
	if err != nil {
		return err
	}
	return runner.Stop(ctx)
}

// UpdateStrategyParameters re-applies parameters to a hosted instance.
func (e *Engine) UpdateStrategyParameters(id string, ps domain.Parameters) error {
	runner, err := e.strategy(id)
	if err != nil {
		return err
	}
	return runner.UpdateParameters(ps)
}

// Strategies lists the hosted instances.
func (e *Engine) Strategies() []StrategyInfo {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]StrategyInfo, 0, len(e.strategies))
	for _, r := range e.strategies {
		out = append(out, StrategyInfo{
			ID:     r.ID(),
			Name:   r.Name(),
			Symbol: r.Symbol(),
			Status: r.Status(),
		})
	}
	return out
}

// Account returns the current broker account state.
func (e *Engine) Account(ctx context.Context) (domain.Account, error) {
	return e.broker.GetAccount(ctx)
}

// OnSignal registers a listener for signals from every hosted strategy.
func (e *Engine) OnSignal(fn func(domain.Signal)) func() { return e.signalEv.Subscribe(fn) }

// OnOrderStatus registers a listener for aggregated order updates.
func (e *Engine) OnOrderStatus(fn func(domain.Order)) func() { return e.orderEv.Subscribe(fn) }

// OnExecution registers a listener for aggregated fills.
func (e *Engine) OnExecution(fn func(domain.Execution)) func() { return e.execEv.Subscribe(fn) }

// OnAccountUpdated registers a listener for account snapshots.
func (e *Engine) OnAccountUpdated(fn func(domain.AccountSnapshot)) func() {
	return e.accountEv.Subscribe(fn)
}

func (e *Engine) strategy(id string) (*strategy.Runner, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	runner, ok := e.strategies[id]
	if !ok {
		return nil, fmt.Errorf("%w: strategy %s", domain.ErrNotFound, id)
	}
	return runner, nil
}

func (e *Engine) onSignal(sig domain.Signal) {
	e.signalEv.Emit(sig)
	e.persist("strategy log", func(ctx context.Context) error {
		return e.repo.LogStrategyExecution(ctx, domain.StrategyLogEntry{
			StrategyID: sig.StrategyID,
			Strategy:   sig.Strategy,
			Level:      "info",
			Message: fmt.Sprintf("signal %s %s qty=%d price=%.4f: %s",
				sig.Type, sig.Symbol, sig.Quantity, sig.Price, sig.Reason),
			Timestamp: sig.CreatedAt,
		})
	})
}

func (e *Engine) onOrderStatus(order domain.Order) {
	e.orderEv.Emit(order)
	e.persist("order", func(ctx context.Context) error {
		return e.repo.SaveOrder(ctx, order)
	})
}

func (e *Engine) onExecution(exec domain.Execution) {
	e.execEv.Emit(exec)
	e.persist("execution log", func(ctx context.Context) error {
		return e.repo.LogStrategyExecution(ctx, domain.StrategyLogEntry{
			StrategyID: exec.StrategyID,
			Level:      "info",
			Message: fmt.Sprintf("fill %s %s %d @ %.4f",
				exec.Direction, exec.Symbol, exec.Quantity, exec.Price),
			Timestamp: exec.Timestamp,
		})
	})
}

func (e *Engine) onAccountUpdated(snap domain.AccountSnapshot) {
	e.accountEv.Emit(snap)
	e.persist("account snapshot", func(ctx context.Context) error {
		return e.repo.SaveAccountSnapshot(ctx, snap)
	})
}

// persist runs a repository write on its own goroutine with a bounded
// deadline. Failures are logged and never reach the trading path.
func (e *Engine) persist(what string, fn func(ctx context.Context) error) {
	if e.repo == nil {
		return
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), persistTimeout)
		defer cancel()
		if err := fn(ctx); err != nil {
			e.logger.Warn("persist failed",
				slog.String("what", what),
				slog.String("error", err.Error()),
			)
		}
	}()
}
