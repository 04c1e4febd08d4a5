package strategy

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ajcrowley/tradesim/internal/clock"
	"github.com/ajcrowley/tradesim/internal/domain"
)

type fakeFeed struct {
	mu      sync.Mutex
	candles []domain.Candlestick
	quote   domain.Level1Data
	err     error
}

func newFakeFeed(price float64) *fakeFeed {
	f := &fakeFeed{
		quote: domain.Level1Data{
			Symbol:    "SIM1",
			LastPrice: price,
			Bid:       price - 0.01,
			Ask:       price + 0.01,
			Timestamp: time.Now(),
		},
	}
	for i := 0; i < 60; i++ {
		f.candles = append(f.candles, domain.Candlestick{
			Symbol: "SIM1",
			Period: time.Minute,
			Open:   price,
			High:   price,
			Low:    price,
			Close:  price,
		})
	}
	return f
}

func (f *fakeFeed) GetQuote(symbol string) (domain.Level1Data, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return domain.Level1Data{}, f.err
	}
	return f.quote, nil
}

func (f *fakeFeed) Subscribe(symbol string, fn domain.QuoteFunc) func() {
	return func() {}
}

func (f *fakeFeed) GetHistoricalCandles(symbol string, start, end time.Time, period time.Duration) ([]domain.Candlestick, error) {
	return f.GetLatestCandles(symbol, len(f.candles), period)
}

func (f *fakeFeed) GetLatestCandles(symbol string, count int, period time.Duration) ([]domain.Candlestick, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	out := make([]domain.Candlestick, len(f.candles))
	copy(out, f.candles)
	return out, nil
}

type fakeBroker struct {
	mu        sync.Mutex
	positions []domain.Position
	orders    []domain.Order
	canceled  []string
	seq       int
}

func (b *fakeBroker) Connect(ctx context.Context) error    { return nil }
func (b *fakeBroker) Disconnect(ctx context.Context) error { return nil }
func (b *fakeBroker) IsConnected() bool                    { return true }

func (b *fakeBroker) GetAccount(ctx context.Context) (domain.Account, error) {
	return domain.Account{}, nil
}

func (b *fakeBroker) GetPositions(ctx context.Context) ([]domain.Position, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]domain.Position, len(b.positions))
	copy(out, b.positions)
	return out, nil
}

func (b *fakeBroker) PlaceOrder(ctx context.Context, req domain.OrderRequest) (domain.Order, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.seq++
	o := domain.Order{
		ID:         time.Now().Format("150405.000000000") + string(rune('a'+b.seq%26)),
		Symbol:     req.Symbol,
		Direction:  req.Direction,
		Type:       req.Type,
		Quantity:   req.Quantity,
		Status:     domain.OrderStatusSubmitted,
		StrategyID: req.StrategyID,
	}
	b.orders = append(b.orders, o)
	return o, nil
}

func (b *fakeBroker) CancelOrder(ctx context.Context, orderID string) (bool, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.canceled = append(b.canceled, orderID)
	for i := range b.orders {
		if b.orders[i].ID == orderID {
			b.orders[i].Status = domain.OrderStatusCanceled
			return true, nil
		}
	}
	return false, domain.ErrOrderNotFound
}

func (b *fakeBroker) GetOrder(ctx context.Context, orderID string) (domain.Order, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, o := range b.orders {
		if o.ID == orderID {
			return o, nil
		}
	}
	return domain.Order{}, domain.ErrOrderNotFound
}

func (b *fakeBroker) GetOrders(ctx context.Context, filter domain.OrderFilter) ([]domain.Order, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	var out []domain.Order
	for _, o := range b.orders {
		if filter.Matches(o) {
			out = append(out, o)
		}
	}
	return out, nil
}

func (b *fakeBroker) OnOrderStatus(fn func(domain.Order)) func()              { return func() {} }
func (b *fakeBroker) OnExecution(fn func(domain.Execution)) func()            { return func() {} }
func (b *fakeBroker) OnAccountUpdated(fn func(domain.AccountSnapshot)) func() { return func() {} }
func (b *fakeBroker) OnConnectionStatus(fn func(bool)) func()                 { return func() {} }

func (b *fakeBroker) placedCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.orders)
}

// stubEval fires the same intent every iteration.
type stubEval struct {
	mu     sync.Mutex
	intent *Intent
	err    error
	panics bool
}

func (s *stubEval) Name() string                         { return "stub" }
func (s *stubEval) Warmup() int                          { return 1 }
func (s *stubEval) SetParams(ps domain.Parameters) error { return nil }

func (s *stubEval) Evaluate(ec EvalContext) (*Intent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.panics {
		panic("stub evaluator blew up")
	}
	return s.intent, s.err
}

func testLogger() *slog.Logger {
	return slog.New(slog.DiscardHandler)
}

func newTestRunner(t *testing.T, eval Evaluator, broker domain.Broker, feed domain.MarketData) *Runner {
	t.Helper()
	cfg := DefaultRunnerConfig("SIM1")
	cfg.Interval = 2 * time.Millisecond
	return NewRunner(cfg, eval, broker, feed, clock.Real{}, testLogger())
}

func TestRunnerLifecycle(t *testing.T) {
	ctx := context.Background()
	broker := &fakeBroker{}
	feed := newFakeFeed(100)
	r := newTestRunner(t, &stubEval{}, broker, feed)

	assert.Equal(t, StatusInitialized, r.Status())
	require.NoError(t, r.Start(ctx))
	assert.Equal(t, StatusRunning, r.Status())

	require.Error(t, r.Start(ctx), "double start must fail")

	require.NoError(t, r.Stop(ctx))
	assert.Equal(t, StatusStopped, r.Status())
	require.NoError(t, r.Stop(ctx), "stop is idempotent")

	require.NoError(t, r.Start(ctx), "a stopped strategy can restart")
	require.NoError(t, r.Stop(ctx))
}

func TestRunnerStartFailsWithoutCandles(t *testing.T) {
	feed := newFakeFeed(100)
	feed.err = domain.ErrNoMarketData
	r := newTestRunner(t, &stubEval{}, &fakeBroker{}, feed)

	err := r.Start(context.Background())
	require.ErrorIs(t, err, domain.ErrNoMarketData)
	assert.Equal(t, StatusInitialized, r.Status())
}

func TestRunnerPlacesOrderOnSignal(t *testing.T) {
	ctx := context.Background()
	broker := &fakeBroker{}
	feed := newFakeFeed(100)
	eval := &stubEval{intent: &Intent{Type: domain.SignalBuy, Reason: "test"}}
	r := newTestRunner(t, eval, broker, feed)

	var sigMu sync.Mutex
	var signals []domain.Signal
	r.OnSignal(func(s domain.Signal) {
		sigMu.Lock()
		signals = append(signals, s)
		sigMu.Unlock()
	})

	require.NoError(t, r.Start(ctx))
	require.Eventually(t, func() bool { return broker.placedCount() > 0 }, time.Second, time.Millisecond)
	require.NoError(t, r.Stop(ctx))

	orders, err := broker.GetOrders(ctx, domain.OrderFilter{})
	require.NoError(t, err)
	require.NotEmpty(t, orders)
	first := orders[0]
	assert.Equal(t, "SIM1", first.Symbol)
	assert.Equal(t, domain.DirectionBuy, first.Direction)
	assert.Equal(t, domain.OrderTypeMarket, first.Type)
	assert.Equal(t, r.ID(), first.StrategyID)

	sigMu.Lock()
	defer sigMu.Unlock()
	require.NotEmpty(t, signals)
	assert.Equal(t, r.ID(), signals[0].StrategyID)
	assert.Equal(t, domain.SignalBuy, signals[0].Type)
}

func TestRunnerSuppressesBuyWhenLong(t *testing.T) {
	ctx := context.Background()
	broker := &fakeBroker{positions: []domain.Position{{Symbol: "SIM1", Quantity: 100, AvgCost: 90}}}
	feed := newFakeFeed(100)
	eval := &stubEval{intent: &Intent{Type: domain.SignalBuy}}
	r := newTestRunner(t, eval, broker, feed)

	require.NoError(t, r.Start(ctx))
	time.Sleep(30 * time.Millisecond)
	require.NoError(t, r.Stop(ctx))

	assert.Zero(t, broker.placedCount(), "buy while long must be suppressed")
}

func TestRunnerFlattenClosesPosition(t *testing.T) {
	ctx := context.Background()
	broker := &fakeBroker{positions: []domain.Position{{Symbol: "SIM1", Quantity: -40, AvgCost: 110}}}
	feed := newFakeFeed(100)
	eval := &stubEval{intent: &Intent{Type: domain.SignalFlatten}}
	r := newTestRunner(t, eval, broker, feed)

	require.NoError(t, r.Start(ctx))
	require.Eventually(t, func() bool { return broker.placedCount() > 0 }, time.Second, time.Millisecond)
	require.NoError(t, r.Stop(ctx))

	orders, err := broker.GetOrders(ctx, domain.OrderFilter{})
	require.NoError(t, err)
	require.NotEmpty(t, orders)
	assert.Equal(t, domain.DirectionBuy, orders[0].Direction, "closing a short buys")
	assert.Equal(t, int64(40), orders[0].Quantity)
}

func TestRunnerCapsQuantityByPositionValue(t *testing.T) {
	ctx := context.Background()
	broker := &fakeBroker{}
	feed := newFakeFeed(100)
	eval := &stubEval{intent: &Intent{Type: domain.SignalBuy}}

	cfg := DefaultRunnerConfig("SIM1")
	cfg.Interval = 2 * time.Millisecond
	cfg.Quantity = 100
	cfg.MaxPositionValue = 250 // at price 100, caps the order at 2
	r := NewRunner(cfg, eval, broker, feed, clock.Real{}, testLogger())

	require.NoError(t, r.Start(ctx))
	require.Eventually(t, func() bool { return broker.placedCount() > 0 }, time.Second, time.Millisecond)
	require.NoError(t, r.Stop(ctx))

	orders, err := broker.GetOrders(ctx, domain.OrderFilter{})
	require.NoError(t, err)
	require.NotEmpty(t, orders)
	assert.Equal(t, int64(2), orders[0].Quantity)
}

func TestRunnerSkipsWhenCapLeavesNothing(t *testing.T) {
	ctx := context.Background()
	broker := &fakeBroker{}
	feed := newFakeFeed(100)
	eval := &stubEval{intent: &Intent{Type: domain.SignalBuy}}

	cfg := DefaultRunnerConfig("SIM1")
	cfg.Interval = 2 * time.Millisecond
	cfg.MaxPositionValue = 50 // below the price of a single unit
	r := NewRunner(cfg, eval, broker, feed, clock.Real{}, testLogger())

	require.NoError(t, r.Start(ctx))
	time.Sleep(30 * time.Millisecond)
	require.NoError(t, r.Stop(ctx))

	assert.Zero(t, broker.placedCount())
}

func TestRunnerStopCancelsOnlyOwnedOrders(t *testing.T) {
	ctx := context.Background()
	broker := &fakeBroker{}
	feed := newFakeFeed(100)
	r := newTestRunner(t, &stubEval{}, broker, feed)

	broker.orders = []domain.Order{
		{ID: "mine-1", Symbol: "SIM1", Status: domain.OrderStatusSubmitted, StrategyID: r.ID()},
		{ID: "mine-2", Symbol: "SIM1", Status: domain.OrderStatusFilled, StrategyID: r.ID()},
		{ID: "theirs-1", Symbol: "SIM1", Status: domain.OrderStatusSubmitted, StrategyID: "someone-else"},
	}

	require.NoError(t, r.Start(ctx))
	require.NoError(t, r.Stop(ctx))

	broker.mu.Lock()
	defer broker.mu.Unlock()
	assert.Equal(t, []string{"mine-1"}, broker.canceled,
		"only this strategy's active orders are canceled")
}

func TestRunnerEvaluatorErrorFaults(t *testing.T) {
	ctx := context.Background()
	broker := &fakeBroker{}
	feed := newFakeFeed(100)
	eval := &stubEval{err: errors.New("bad state")}
	r := newTestRunner(t, eval, broker, feed)

	require.NoError(t, r.Start(ctx))
	require.Eventually(t, func() bool { return r.Status() == StatusError }, time.Second, time.Millisecond)

	require.Error(t, r.Start(ctx), "a faulted strategy cannot restart directly")
	require.NoError(t, r.Stop(ctx))
	assert.Equal(t, StatusStopped, r.Status())
}

func TestRunnerEvaluatorPanicFaults(t *testing.T) {
	ctx := context.Background()
	broker := &fakeBroker{}
	feed := newFakeFeed(100)
	eval := &stubEval{panics: true}
	r := newTestRunner(t, eval, broker, feed)

	require.NoError(t, r.Start(ctx))
	require.Eventually(t, func() bool { return r.Status() == StatusError }, time.Second, time.Millisecond)
	require.NoError(t, r.Stop(ctx))
}

func TestRunnerFeedHiccupIsSkippedNotFatal(t *testing.T) {
	ctx := context.Background()
	broker := &fakeBroker{}
	feed := newFakeFeed(100)
	eval := &stubEval{intent: &Intent{Type: domain.SignalBuy}}
	r := newTestRunner(t, eval, broker, feed)

	require.NoError(t, r.Start(ctx))
	require.Eventually(t, func() bool { return broker.placedCount() > 0 }, time.Second, time.Millisecond)

	feed.mu.Lock()
	feed.err = domain.ErrNoMarketData
	feed.mu.Unlock()
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, StatusRunning, r.Status(), "feed errors are transient")

	require.NoError(t, r.Stop(ctx))
}

func TestRunnerScriptRuntimeFaultIsSkippedNotFatal(t *testing.T) {
	ctx := context.Background()
	broker := &fakeBroker{}
	feed := newFakeFeed(100)
	// Compiles clean but faults on every evaluation.
	eval, err := NewScripted(domain.Parameters{
		domain.Param("script", `closes[100000] > 0 ? "buy" : ""`),
	})
	require.NoError(t, err)
	r := newTestRunner(t, eval, broker, feed)

	require.NoError(t, r.Start(ctx))
	time.Sleep(30 * time.Millisecond)
	assert.Equal(t, StatusRunning, r.Status(), "script runtime faults skip the iteration")
	assert.Zero(t, broker.placedCount(), "faulted iterations emit no orders")

	require.NoError(t, r.Stop(ctx))
	assert.Equal(t, StatusStopped, r.Status())
}

func TestRunnerUpdateParametersDuringEvaluation(t *testing.T) {
	ctx := context.Background()
	broker := &fakeBroker{}
	feed := newFakeFeed(100)
	eval, err := NewMACross(domain.Parameters{
		domain.Param("fast_period", 5),
		domain.Param("slow_period", 20),
	})
	require.NoError(t, err)
	r := newTestRunner(t, eval, broker, feed)

	require.NoError(t, r.Start(ctx))

	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < 200; i++ {
			assert.NoError(t, r.UpdateParameters(domain.Parameters{
				domain.Param("fast_period", 6+i%2),
				domain.Param("slow_period", 21),
			}))
		}
	}()
	<-done

	assert.Equal(t, StatusRunning, r.Status())
	require.NoError(t, r.Stop(ctx))
}
