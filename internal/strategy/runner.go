package strategy

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/ajcrowley/tradesim/internal/clock"
	"github.com/ajcrowley/tradesim/internal/domain"
	"github.com/ajcrowley/tradesim/internal/event"
)

// minCandleWindow floors the initial candle pull so even short-warmup
// evaluators start with a usable history.
const minCandleWindow = 50

// RunnerConfig holds the per-instance runtime settings shared by every
// variant.
type RunnerConfig struct {
	Symbol string
	// Period is the candle period the evaluator consumes.
	Period time.Duration
	// Interval is the evaluation loop cadence.
	Interval time.Duration
	// Quantity is the desired order size before the position-value cap.
	Quantity int64
	// MaxPositionValue caps price*quantity per order; the quantity is
	// truncated down to fit and the signal skipped if nothing fits.
	MaxPositionValue float64
}

// DefaultRunnerConfig returns the runtime defaults.
func DefaultRunnerConfig(symbol string) RunnerConfig {
	return RunnerConfig{
		Symbol:           symbol,
		Period:           time.Minute,
		Interval:         time.Second,
		Quantity:         100,
		MaxPositionValue: 100_000,
	}
}

// Runner drives one evaluator instance through the shared lifecycle:
// Initialized -> Running -> Stopped, with Error reachable from Running on an
// unhandled loop fault. It owns the evaluation loop goroutine, the quote
// subscription, and order submission.
type Runner struct {
	id     string
	cfg    RunnerConfig
	eval   Evaluator
	broker domain.Broker
	feed   domain.MarketData
	clock  clock.Clock
	logger *slog.Logger

	// evalMu serializes all evaluator access: the loop's Evaluate calls
	// and parameter updates arriving on other goroutines.
	evalMu sync.Mutex

	mu         sync.Mutex
	status     Status
	cancel     context.CancelFunc
	done       chan struct{}
	unsubQuote func()
	lastQuote  domain.Level1Data
	haveQuote  bool

	signalEv event.Listeners[domain.Signal]
	statusEv event.Listeners[Status]
}

// NewRunner wraps an evaluator with the shared runtime scaffold.
func NewRunner(cfg RunnerConfig, eval Evaluator, broker domain.Broker, feed domain.MarketData, clk clock.Clock, logger *slog.Logger) *Runner {
	id := uuid.New().String()
	if cfg.Interval <= 0 {
		cfg.Interval = time.Second
	}
	if cfg.Period <= 0 {
		cfg.Period = time.Minute
	}
	return &Runner{
		id:     id,
		cfg:    cfg,
		eval:   eval,
		broker: broker,
		feed:   feed,
		clock:  clk,
		logger: logger.With(
			slog.String("component", "strategy"),
			slog.String("strategy", eval.Name()),
			slog.String("strategy_id", id),
		),
		status: StatusInitialized,
	}
}

// ID returns the unique instance id, used as the owning strategy id on
// orders.
func (r *Runner) ID() string { return r.id }

// Name returns the evaluator's type tag.
func (r *Runner) Name() string { return r.eval.Name() }

// Symbol returns the traded symbol.
func (r *Runner) Symbol() string { return r.cfg.Symbol }

// Status returns the current lifecycle state.
func (r *Runner) Status() Status {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.status
}

// OnSignal registers a listener for emitted signals.
func (r *Runner) OnSignal(fn func(domain.Signal)) func() {
	return r.signalEv.Subscribe(fn)
}

// OnStatusChange registers a listener for lifecycle transitions.
func (r *Runner) OnStatusChange(fn func(Status)) func() {
	return r.statusEv.Subscribe(fn)
}

// UpdateParameters re-applies parameters to the evaluator. Allowed in any
// state; the next iteration picks them up.
func (r *Runner) UpdateParameters(ps domain.Parameters) error {
	r.evalMu.Lock()
	err := r.eval.SetParams(ps)
	r.evalMu.Unlock()
	if err != nil {
		return fmt.Errorf("update parameters: %w", err)
	}
	r.logger.Info("parameters updated", slog.Int("count", len(ps)))
	return nil
}

// Start subscribes to live quotes, checks the initial candle window is
// available, and launches the evaluation loop. Only Initialized or Stopped
// strategies can start.
func (r *Runner) Start(ctx context.Context) error {
	r.mu.Lock()
	if r.status == StatusRunning {
		r.mu.Unlock()
		return fmt.Errorf("strategy %s already running", r.id)
	}
	if r.status == StatusError {
		r.mu.Unlock()
		return fmt.Errorf("strategy %s is in error state; stop it before restarting", r.id)
	}

	r.mu.Unlock()

	r.evalMu.Lock()
	window := r.eval.Warmup()
	r.evalMu.Unlock()
	if window < minCandleWindow {
		window = minCandleWindow
	}

	if _, err := r.feed.GetLatestCandles(r.cfg.Symbol, window, r.cfg.Period); err != nil {
		return fmt.Errorf("initial candle window for %s: %w", r.cfg.Symbol, err)
	}

	loopCtx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})

	r.mu.Lock()
	r.status = StatusRunning
	r.cancel = cancel
	r.done = done
	r.unsubQuote = r.feed.Subscribe(r.cfg.Symbol, r.onQuote)
	r.mu.Unlock()

	r.statusEv.Emit(StatusRunning)
	r.logger.InfoContext(ctx, "strategy started",
		slog.String("symbol", r.cfg.Symbol),
		slog.Int("candle_window", window),
		slog.Duration("interval", r.cfg.Interval),
	)

	go r.loop(loopCtx, window, done)
	return nil
}

// Stop cancels the evaluation loop, unsubscribes from quotes, then makes a
// best-effort attempt to cancel every order still owned by this strategy.
// Cancel failures are logged and do not abort the stop sequence.
func (r *Runner) Stop(ctx context.Context) error {
	r.mu.Lock()
	if r.status != StatusRunning && r.status != StatusError {
		r.mu.Unlock()
		return nil
	}
	cancel := r.cancel
	done := r.done
	unsub := r.unsubQuote
	r.cancel = nil
	r.done = nil
	r.unsubQuote = nil
	r.status = StatusStopped
	r.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if done != nil {
		<-done
	}
	if unsub != nil {
		unsub()
	}
	r.statusEv.Emit(StatusStopped)

	r.releaseOrders(ctx)
	r.logger.InfoContext(ctx, "strategy stopped")
	return nil
}

// releaseOrders cancels every active order owned by this strategy.
func (r *Runner) releaseOrders(ctx context.Context) {
	orders, err := r.broker.GetOrders(ctx, domain.OrderFilter{StrategyID: r.id})
	if err != nil {
		r.logger.WarnContext(ctx, "list owned orders failed", slog.String("error", err.Error()))
		return
	}
	for _, o := range orders {
		if !o.Status.Active() {
			continue
		}
		ok, err := r.broker.CancelOrder(ctx, o.ID)
		if err != nil {
			r.logger.WarnContext(ctx, "cancel owned order failed",
				slog.String("order_id", o.ID),
				slog.String("error", err.Error()),
			)
			continue
		}
		if !ok {
			r.logger.WarnContext(ctx, "cancel owned order refused", slog.String("order_id", o.ID))
		}
	}
}

// onQuote records the latest quote from the feed subscription.
func (r *Runner) onQuote(q domain.Level1Data) {
	r.mu.Lock()
	r.lastQuote = q
	r.haveQuote = true
	r.mu.Unlock()
}

// loop is the evaluation loop. It runs until cancelled or until an
// unhandled fault drives the strategy to Error.
func (r *Runner) loop(ctx context.Context, window int, done chan struct{}) {
	defer close(done)

	for {
		// Cancellation-aware delay: returns immediately on Stop instead
		// of waiting out the interval.
		select {
		case <-ctx.Done():
			return
		case <-r.clock.After(r.cfg.Interval):
		}
		if ctx.Err() != nil {
			return
		}

		if err := r.evaluateOnce(ctx, window); err != nil {
			r.fail(err)
			return
		}
	}
}

// fail transitions the strategy to the absorbing Error state.
func (r *Runner) fail(err error) {
	r.mu.Lock()
	if r.status != StatusRunning {
		r.mu.Unlock()
		return
	}
	r.status = StatusError
	r.mu.Unlock()
	r.statusEv.Emit(StatusError)
	r.logger.Error("strategy faulted", slog.String("error", err.Error()))
}

// evaluateOnce performs one iteration: refresh the candle cache, run the
// evaluator, and submit an order when a signal fires. Transient market data
// hiccups and script runtime faults are logged and skipped; other evaluator
// errors and panics propagate so the loop can fault the strategy.
func (r *Runner) evaluateOnce(ctx context.Context, window int) (err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("evaluator panic: %v", rec)
		}
	}()

	candles, ferr := r.feed.GetLatestCandles(r.cfg.Symbol, window, r.cfg.Period)
	if ferr != nil {
		r.logger.WarnContext(ctx, "candle refresh failed", slog.String("error", ferr.Error()))
		return nil
	}
	if len(candles) == 0 {
		return nil
	}

	closes := make([]float64, len(candles))
	for i, c := range candles {
		closes[i] = c.Close
	}

	r.mu.Lock()
	quote := r.lastQuote
	haveQuote := r.haveQuote
	r.mu.Unlock()
	if !haveQuote {
		if q, qerr := r.feed.GetQuote(r.cfg.Symbol); qerr == nil {
			quote = q
			haveQuote = true
		}
	}
	if !haveQuote {
		return nil
	}

	position := r.currentPosition(ctx)

	r.evalMu.Lock()
	intent, err := r.eval.Evaluate(EvalContext{
		Symbol:   r.cfg.Symbol,
		Candles:  candles,
		Closes:   closes,
		Quote:    quote,
		Position: position,
	})
	r.evalMu.Unlock()
	if err != nil {
		// Script runtime faults are per-iteration: the signal is skipped
		// and the strategy keeps running.
		if errors.Is(err, domain.ErrStrategyRuntime) {
			r.logger.WarnContext(ctx, "evaluation fault, iteration skipped",
				slog.String("error", err.Error()),
			)
			return nil
		}
		return fmt.Errorf("evaluate: %w", err)
	}
	if intent == nil {
		return nil
	}

	r.act(ctx, *intent, quote, position)
	return nil
}

// currentPosition fetches this symbol's position; a flat zero position is
// returned when the broker has none or the lookup fails.
func (r *Runner) currentPosition(ctx context.Context) domain.Position {
	positions, err := r.broker.GetPositions(ctx)
	if err != nil {
		r.logger.WarnContext(ctx, "position lookup failed", slog.String("error", err.Error()))
		return domain.Position{Symbol: r.cfg.Symbol}
	}
	for _, p := range positions {
		if p.Symbol == r.cfg.Symbol {
			return p
		}
	}
	return domain.Position{Symbol: r.cfg.Symbol}
}

// act applies position-state suppression and the position-value cap, emits
// the signal, and submits the order while still Running.
func (r *Runner) act(ctx context.Context, intent Intent, quote domain.Level1Data, position domain.Position) {
	var direction domain.Direction
	var quantity int64

	switch intent.Type {
	case domain.SignalBuy:
		if position.Quantity > 0 {
			return // already long
		}
		direction = domain.DirectionBuy
		quantity = r.cappedQuantity(quote.LastPrice)
	case domain.SignalSell:
		if position.Quantity < 0 {
			return // already short
		}
		direction = domain.DirectionSell
		quantity = r.cappedQuantity(quote.LastPrice)
	case domain.SignalFlatten:
		if position.Quantity == 0 {
			return
		}
		if position.Quantity > 0 {
			direction = domain.DirectionSell
		} else {
			direction = domain.DirectionBuy
		}
		quantity = position.Quantity
		if quantity < 0 {
			quantity = -quantity
		}
	default:
		return
	}
	if quantity <= 0 {
		return
	}

	sig := domain.Signal{
		ID:         uuid.New().String(),
		StrategyID: r.id,
		Strategy:   r.eval.Name(),
		Symbol:     r.cfg.Symbol,
		Type:       intent.Type,
		Price:      quote.LastPrice,
		Quantity:   quantity,
		Reason:     intent.Reason,
		CreatedAt:  r.clock.Now(),
	}
	r.signalEv.Emit(sig)
	r.logger.InfoContext(ctx, "signal emitted",
		slog.String("signal_id", sig.ID),
		slog.String("type", string(sig.Type)),
		slog.Float64("price", sig.Price),
		slog.Int64("quantity", sig.Quantity),
		slog.String("reason", sig.Reason),
	)

	if r.Status() != StatusRunning {
		return
	}
	order, err := r.broker.PlaceOrder(ctx, domain.OrderRequest{
		Symbol:     r.cfg.Symbol,
		Direction:  direction,
		Type:       domain.OrderTypeMarket,
		Quantity:   quantity,
		StrategyID: r.id,
	})
	if err != nil {
		r.logger.WarnContext(ctx, "order submission failed",
			slog.String("signal_id", sig.ID),
			slog.String("error", err.Error()),
		)
		return
	}
	r.logger.InfoContext(ctx, "order placed",
		slog.String("signal_id", sig.ID),
		slog.String("order_id", order.ID),
	)
}

// cappedQuantity truncates the configured quantity so that
// price*quantity <= MaxPositionValue. A non-positive result suppresses the
// signal entirely.
func (r *Runner) cappedQuantity(price float64) int64 {
	qty := r.cfg.Quantity
	if qty <= 0 {
		qty = 1
	}
	if r.cfg.MaxPositionValue <= 0 || price <= 0 {
		return qty
	}
	maxQty := int64(math.Floor(r.cfg.MaxPositionValue / price))
	if maxQty < qty {
		qty = maxQty
	}
	return qty
}
