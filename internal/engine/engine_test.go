package engine

import (
	"context"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ajcrowley/tradesim/internal/clock"
	"github.com/ajcrowley/tradesim/internal/domain"
	"github.com/ajcrowley/tradesim/internal/event"
	"github.com/ajcrowley/tradesim/internal/store/memory"
	"github.com/ajcrowley/tradesim/internal/strategy"
)

type fakeFeed struct {
	candles []domain.Candlestick
	quote   domain.Level1Data
}

func newFakeFeed(price float64) *fakeFeed {
	f := &fakeFeed{
		quote: domain.Level1Data{Symbol: "SIM1", LastPrice: price, Bid: price - 0.01, Ask: price + 0.01},
	}
	for i := 0; i < 60; i++ {
		f.candles = append(f.candles, domain.Candlestick{Symbol: "SIM1", Close: price})
	}
	return f
}

func (f *fakeFeed) GetQuote(symbol string) (domain.Level1Data, error) { return f.quote, nil }
func (f *fakeFeed) Subscribe(symbol string, fn domain.QuoteFunc) func() {
	return func() {}
}
func (f *fakeFeed) GetHistoricalCandles(symbol string, start, end time.Time, period time.Duration) ([]domain.Candlestick, error) {
	return f.candles, nil
}
func (f *fakeFeed) GetLatestCandles(symbol string, count int, period time.Duration) ([]domain.Candlestick, error) {
	return f.candles, nil
}

type fakeBroker struct {
	mu        sync.Mutex
	connected bool
	orders    []domain.Order
	canceled  []string

	statusEv  event.Listeners[domain.Order]
	execEv    event.Listeners[domain.Execution]
	accountEv event.Listeners[domain.AccountSnapshot]
	connEv    event.Listeners[bool]
}

func (b *fakeBroker) Connect(ctx context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.connected = true
	return nil
}

func (b *fakeBroker) Disconnect(ctx context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.connected = false
	return nil
}

func (b *fakeBroker) IsConnected() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.connected
}

func (b *fakeBroker) GetAccount(ctx context.Context) (domain.Account, error) {
	return domain.Account{ID: "sim-acct", Cash: 1_000_000}, nil
}

func (b *fakeBroker) GetPositions(ctx context.Context) ([]domain.Position, error) {
	return nil, nil
}

func (b *fakeBroker) PlaceOrder(ctx context.Context, req domain.OrderRequest) (domain.Order, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	o := domain.Order{
		ID:         "ord-" + time.Now().Format("150405.000000000"),
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
	return true, nil
}

func (b *fakeBroker) GetOrder(ctx context.Context, orderID string) (domain.Order, error) {
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

func (b *fakeBroker) OnOrderStatus(fn func(domain.Order)) func() { return b.statusEv.Subscribe(fn) }
func (b *fakeBroker) OnExecution(fn func(domain.Execution)) func() {
	return b.execEv.Subscribe(fn)
}
func (b *fakeBroker) OnAccountUpdated(fn func(domain.AccountSnapshot)) func() {
	return b.accountEv.Subscribe(fn)
}
func (b *fakeBroker) OnConnectionStatus(fn func(bool)) func() { return b.connEv.Subscribe(fn) }

// alwaysBuy is a minimal evaluator for wiring tests.
type alwaysBuy struct{}

func (alwaysBuy) Name() string                         { return "always_buy" }
func (alwaysBuy) Warmup() int                          { return 1 }
func (alwaysBuy) SetParams(ps domain.Parameters) error { return nil }
func (alwaysBuy) Evaluate(ec strategy.EvalContext) (*strategy.Intent, error) {
	return &strategy.Intent{Type: domain.SignalBuy, Reason: "always"}, nil
}

func testRegistry() *strategy.Registry {
	r := strategy.DefaultRegistry()
	r.Register("always_buy", func(ps domain.Parameters) (strategy.Evaluator, error) {
		return alwaysBuy{}, nil
	})
	return r
}

func newTestEngine(t *testing.T, broker domain.Broker, repo domain.Repository) *Engine {
	t.Helper()
	logger := slog.New(slog.DiscardHandler)
	return New(broker, newFakeFeed(100), testRegistry(), repo, clock.Real{}, logger)
}

func fastRunnerConfig() strategy.RunnerConfig {
	cfg := strategy.DefaultRunnerConfig("SIM1")
	cfg.Interval = 2 * time.Millisecond
	return cfg
}

func TestEngineStartStop(t *testing.T) {
	ctx := context.Background()
	broker := &fakeBroker{}
	e := newTestEngine(t, broker, nil)

	require.NoError(t, e.Start(ctx))
	assert.True(t, broker.IsConnected())
	require.Error(t, e.Start(ctx), "double start must fail")

	require.NoError(t, e.Stop(ctx))
	assert.False(t, broker.IsConnected())
	require.NoError(t, e.Stop(ctx), "stop is idempotent")
}

func TestEngineAddUnknownStrategy(t *testing.T) {
	e := newTestEngine(t, &fakeBroker{}, nil)
	_, err := e.AddStrategy(context.Background(), "momentum", fastRunnerConfig(), nil)
	require.ErrorIs(t, err, domain.ErrUnsupportedStrategy)
}

func TestEngineStrategyLifecycle(t *testing.T) {
	ctx := context.Background()
	broker := &fakeBroker{}
	e := newTestEngine(t, broker, nil)
	require.NoError(t, e.Start(ctx))
	defer e.Stop(ctx)

	id, err := e.AddStrategy(ctx, "ma_cross", fastRunnerConfig(), domain.Parameters{
		domain.Param("fast_period", 3),
		domain.Param("slow_period", 5),
	})
	require.NoError(t, err)

	infos := e.Strategies()
	require.Len(t, infos, 1)
	assert.Equal(t, id, infos[0].ID)
	assert.Equal(t, "ma_cross", infos[0].Name)
	assert.Equal(t, strategy.StatusInitialized, infos[0].Status, "added strategies do not auto-start")

	require.NoError(t, e.StartStrategy(ctx, id))
	assert.Equal(t, strategy.StatusRunning, e.Strategies()[0].Status)

	require.NoError(t, e.StopStrategy(ctx, id))
	assert.Equal(t, strategy.StatusStopped, e.Strategies()[0].Status)

	require.NoError(t, e.RemoveStrategy(ctx, id))
	assert.Empty(t, e.Strategies())

	err = e.StartStrategy(ctx, id)
	require.ErrorIs(t, err, domain.ErrNotFound)
}

func TestEngineRemoveStopsRunningStrategy(t *testing.T) {
	ctx := context.Background()
	broker := &fakeBroker{}
	e := newTestEngine(t, broker, nil)
	require.NoError(t, e.Start(ctx))
	defer e.Stop(ctx)

	id, err := e.AddStrategy(ctx, "always_buy", fastRunnerConfig(), nil)
	require.NoError(t, err)
	require.NoError(t, e.StartStrategy(ctx, id))
	require.NoError(t, e.RemoveStrategy(ctx, id))
	assert.Empty(t, e.Strategies())
}

func TestEngineStopStopsAllStrategies(t *testing.T) {
	ctx := context.Background()
	broker := &fakeBroker{}
	e := newTestEngine(t, broker, nil)
	require.NoError(t, e.Start(ctx))

	id1, err := e.AddStrategy(ctx, "always_buy", fastRunnerConfig(), nil)
	require.NoError(t, err)
	id2, err := e.AddStrategy(ctx, "always_buy", fastRunnerConfig(), nil)
	require.NoError(t, err)
	require.NoError(t, e.StartStrategy(ctx, id1))
	require.NoError(t, e.StartStrategy(ctx, id2))

	require.NoError(t, e.Stop(ctx))
	for _, info := range e.Strategies() {
		assert.Equal(t, strategy.StatusStopped, info.Status)
	}
	assert.False(t, broker.IsConnected())
}

func TestEngineAggregatesAndPersistsBrokerEvents(t *testing.T) {
	ctx := context.Background()
	broker := &fakeBroker{}
	repo := memory.New()
	e := newTestEngine(t, broker, repo)
	require.NoError(t, e.Start(ctx))
	defer e.Stop(ctx)

	var mu sync.Mutex
	var gotOrders []domain.Order
	var gotExecs []domain.Execution
	var gotSnaps []domain.AccountSnapshot
	e.OnOrderStatus(func(o domain.Order) {
		mu.Lock()
		gotOrders = append(gotOrders, o)
		mu.Unlock()
	})
	e.OnExecution(func(x domain.Execution) {
		mu.Lock()
		gotExecs = append(gotExecs, x)
		mu.Unlock()
	})
	e.OnAccountUpdated(func(s domain.AccountSnapshot) {
		mu.Lock()
		gotSnaps = append(gotSnaps, s)
		mu.Unlock()
	})

	now := time.Now()
	broker.statusEv.Emit(domain.Order{
		ID: "ord-1", Symbol: "SIM1", Status: domain.OrderStatusFilled, CreatedAt: now,
	})
	broker.execEv.Emit(domain.Execution{
		OrderID: "ord-1", Symbol: "SIM1", Direction: domain.DirectionBuy,
		Price: 100.5, Quantity: 10, StrategyID: "s1", Timestamp: now,
	})
	broker.accountEv.Emit(domain.AccountSnapshot{AccountID: "sim-acct", Cash: 999_000, Timestamp: now})

	mu.Lock()
	assert.Len(t, gotOrders, 1)
	assert.Len(t, gotExecs, 1)
	assert.Len(t, gotSnaps, 1)
	mu.Unlock()

	// Persistence is asynchronous.
	require.Eventually(t, func() bool {
		orders, err := repo.GetOrderHistory(ctx, "SIM1", domain.ListOpts{})
		return err == nil && len(orders) == 1
	}, time.Second, time.Millisecond)
	require.Eventually(t, func() bool {
		snaps, err := repo.GetAccountHistory(ctx, "sim-acct", domain.ListOpts{})
		return err == nil && len(snaps) == 1
	}, time.Second, time.Millisecond)
	require.Eventually(t, func() bool {
		logs, err := repo.GetStrategyLogs(ctx, "s1", domain.ListOpts{})
		return err == nil && len(logs) == 1
	}, time.Second, time.Millisecond)
}

func TestEngineSignalFlow(t *testing.T) {
	ctx := context.Background()
	broker := &fakeBroker{}
	repo := memory.New()
	e := newTestEngine(t, broker, repo)
	require.NoError(t, e.Start(ctx))
	defer e.Stop(ctx)

	var mu sync.Mutex
	var signals []domain.Signal
	e.OnSignal(func(s domain.Signal) {
		mu.Lock()
		signals = append(signals, s)
		mu.Unlock()
	})

	id, err := e.AddStrategy(ctx, "always_buy", fastRunnerConfig(), nil)
	require.NoError(t, err)
	require.NoError(t, e.StartStrategy(ctx, id))

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(signals) > 0
	}, time.Second, time.Millisecond)
	require.NoError(t, e.StopStrategy(ctx, id))

	mu.Lock()
	first := signals[0]
	mu.Unlock()
	assert.Equal(t, id, first.StrategyID)
	assert.Equal(t, domain.SignalBuy, first.Type)

	// The signal also lands in the strategy log.
	require.Eventually(t, func() bool {
		logs, err := repo.GetStrategyLogs(ctx, id, domain.ListOpts{})
		return err == nil && len(logs) > 0
	}, time.Second, time.Millisecond)
}
