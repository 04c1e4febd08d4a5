package sim

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
	"github.com/ajcrowley/tradesim/internal/randx"
)

// stubFeed serves fixed quotes so fill eligibility is fully controlled.
type stubFeed struct {
	mu     sync.Mutex
	quotes map[string]domain.Level1Data
}

func newStubFeed() *stubFeed {
	return &stubFeed{quotes: make(map[string]domain.Level1Data)}
}

func (s *stubFeed) set(symbol string, bid, ask float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.quotes[symbol] = domain.Level1Data{
		Symbol:    symbol,
		LastPrice: (bid + ask) / 2,
		Bid:       bid,
		Ask:       ask,
		Timestamp: time.Now(),
	}
}

func (s *stubFeed) GetQuote(symbol string) (domain.Level1Data, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	q, ok := s.quotes[symbol]
	if !ok {
		return domain.Level1Data{}, domain.ErrNoMarketData
	}
	return q, nil
}

func (s *stubFeed) Subscribe(string, domain.QuoteFunc) func() { return func() {} }

func (s *stubFeed) GetHistoricalCandles(string, time.Time, time.Time, time.Duration) ([]domain.Candlestick, error) {
	return nil, domain.ErrNoMarketData
}

func (s *stubFeed) GetLatestCandles(string, int, time.Duration) ([]domain.Candlestick, error) {
	return nil, domain.ErrNoMarketData
}

func newTestBroker(t *testing.T, cfg Config, feed domain.MarketData) *Broker {
	t.Helper()
	cfg.SubmitDelay = 0
	cfg.CancelDelay = 0
	b := New(cfg, feed, clock.Real{}, randx.NewLocked(1), slog.Default())
	require.NoError(t, b.Connect(context.Background()))
	return b
}

func marketBuy(symbol string, qty int64) domain.OrderRequest {
	return domain.OrderRequest{
		Symbol:    symbol,
		Direction: domain.DirectionBuy,
		Type:      domain.OrderTypeMarket,
		Quantity:  qty,
	}
}

func TestPlaceOrderValidation(t *testing.T) {
	feed := newStubFeed()
	feed.set("AAPL", 99.9, 100.1)
	b := newTestBroker(t, DefaultConfig(), feed)
	ctx := context.Background()

	_, err := b.PlaceOrder(ctx, domain.OrderRequest{Direction: domain.DirectionBuy, Type: domain.OrderTypeMarket, Quantity: 1})
	assert.ErrorIs(t, err, domain.ErrInvalidOrder)

	_, err = b.PlaceOrder(ctx, marketBuy("AAPL", 0))
	assert.ErrorIs(t, err, domain.ErrInvalidOrder)

	_, err = b.PlaceOrder(ctx, domain.OrderRequest{
		Symbol: "AAPL", Direction: domain.DirectionBuy, Type: domain.OrderTypeLimit, Quantity: 10,
	})
	assert.ErrorIs(t, err, domain.ErrInvalidOrder, "limit order needs a positive price")

	_, err = b.PlaceOrder(ctx, marketBuy("UNKNOWN", 10))
	assert.ErrorIs(t, err, domain.ErrNoMarketData)
}

func TestNotConnected(t *testing.T) {
	feed := newStubFeed()
	feed.set("AAPL", 99.9, 100.1)
	cfg := DefaultConfig()
	cfg.SubmitDelay = 0
	b := New(cfg, feed, clock.Real{}, randx.NewLocked(1), slog.Default())
	ctx := context.Background()

	_, err := b.PlaceOrder(ctx, marketBuy("AAPL", 10))
	assert.ErrorIs(t, err, domain.ErrNotConnected)
	_, err = b.CancelOrder(ctx, "x")
	assert.ErrorIs(t, err, domain.ErrNotConnected)
	_, err = b.GetAccount(ctx)
	assert.ErrorIs(t, err, domain.ErrNotConnected)
	_, err = b.GetOrders(ctx, domain.OrderFilter{})
	assert.ErrorIs(t, err, domain.ErrNotConnected)
}

func TestPlaceOrderEmitsSubmitted(t *testing.T) {
	feed := newStubFeed()
	feed.set("AAPL", 99.9, 100.1)
	b := newTestBroker(t, DefaultConfig(), feed)

	var statuses []domain.OrderStatus
	unsub := b.OnOrderStatus(func(o domain.Order) { statuses = append(statuses, o.Status) })
	defer unsub()

	order, err := b.PlaceOrder(context.Background(), marketBuy("AAPL", 10))
	require.NoError(t, err)
	assert.Equal(t, domain.OrderStatusSubmitted, order.Status)
	assert.NotEmpty(t, order.ID)
	require.Len(t, statuses, 1)
	assert.Equal(t, domain.OrderStatusSubmitted, statuses[0])
}

func TestMarketOrderFillsAtOppositeTopOfBook(t *testing.T) {
	feed := newStubFeed()
	feed.set("AAPL", 99.9, 100.1)
	cfg := DefaultConfig()
	cfg.PartialFillProb = 0
	b := newTestBroker(t, cfg, feed)
	ctx := context.Background()

	var execs []domain.Execution
	b.OnExecution(func(e domain.Execution) { execs = append(execs, e) })

	buy, err := b.PlaceOrder(ctx, marketBuy("AAPL", 10))
	require.NoError(t, err)

	b.matchOnce(ctx)

	got, err := b.GetOrder(ctx, buy.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.OrderStatusFilled, got.Status)
	assert.EqualValues(t, 10, got.FilledQty)
	assert.InDelta(t, 100.1, got.AvgFillPrice, 1e-9, "buy lifts the ask")

	require.Len(t, execs, 1)
	assert.InDelta(t, 100.1, execs[0].Price, 1e-9)

	acct, err := b.GetAccount(ctx)
	require.NoError(t, err)
	assert.InDelta(t, DefaultConfig().StartingCash-10*100.1, acct.Cash, 1e-9)
	assert.EqualValues(t, 10, acct.Positions["AAPL"].Quantity)
}

func TestLimitOrderEligibility(t *testing.T) {
	feed := newStubFeed()
	feed.set("AAPL", 99.9, 100.1)
	cfg := DefaultConfig()
	cfg.PartialFillProb = 0
	b := newTestBroker(t, cfg, feed)
	ctx := context.Background()

	buy, err := b.PlaceOrder(ctx, domain.OrderRequest{
		Symbol: "AAPL", Direction: domain.DirectionBuy, Type: domain.OrderTypeLimit,
		LimitPrice: 99.0, Quantity: 5,
	})
	require.NoError(t, err)

	// Ask 100.1 > limit 99.0: not eligible.
	b.matchOnce(ctx)
	got, _ := b.GetOrder(ctx, buy.ID)
	assert.Equal(t, domain.OrderStatusSubmitted, got.Status)

	// Ask drops through the limit: fill at min(limit, ask).
	feed.set("AAPL", 98.4, 98.6)
	b.matchOnce(ctx)
	got, _ = b.GetOrder(ctx, buy.ID)
	assert.Equal(t, domain.OrderStatusFilled, got.Status)
	assert.InDelta(t, 98.6, got.AvgFillPrice, 1e-9)

	sell, err := b.PlaceOrder(ctx, domain.OrderRequest{
		Symbol: "AAPL", Direction: domain.DirectionSell, Type: domain.OrderTypeLimit,
		LimitPrice: 99.0, Quantity: 5,
	})
	require.NoError(t, err)

	// Bid 98.4 < limit 99.0: not eligible.
	b.matchOnce(ctx)
	got, _ = b.GetOrder(ctx, sell.ID)
	assert.Equal(t, domain.OrderStatusSubmitted, got.Status)

	// Bid rises above the limit: fill at max(limit, bid).
	feed.set("AAPL", 99.5, 99.7)
	b.matchOnce(ctx)
	got, _ = b.GetOrder(ctx, sell.ID)
	assert.Equal(t, domain.OrderStatusFilled, got.Status)
	assert.InDelta(t, 99.5, got.AvgFillPrice, 1e-9)
}

func TestPartialFillsStayMonotonicWithWeightedAverage(t *testing.T) {
	feed := newStubFeed()
	feed.set("AAPL", 99.9, 100.1)
	cfg := DefaultConfig()
	cfg.PartialFillProb = 1 // always partial while remainder > 1
	b := newTestBroker(t, cfg, feed)
	ctx := context.Background()

	var execs []domain.Execution
	b.OnExecution(func(e domain.Execution) { execs = append(execs, e) })

	order, err := b.PlaceOrder(ctx, marketBuy("AAPL", 50))
	require.NoError(t, err)

	prevFilled := int64(0)
	for i := 0; i < 200; i++ {
		feed.set("AAPL", 99.9+float64(i)*0.01, 100.1+float64(i)*0.01)
		b.matchOnce(ctx)
		got, gerr := b.GetOrder(ctx, order.ID)
		require.NoError(t, gerr)
		require.GreaterOrEqual(t, got.FilledQty, prevFilled, "filled quantity is monotonic")
		require.LessOrEqual(t, got.FilledQty, got.Quantity)
		prevFilled = got.FilledQty
		if got.Status == domain.OrderStatusFilled {
			break
		}
	}

	got, err := b.GetOrder(ctx, order.ID)
	require.NoError(t, err)
	require.Equal(t, domain.OrderStatusFilled, got.Status)
	require.GreaterOrEqual(t, len(execs), 2, "expected multiple partial fills")

	var qty int64
	var notional float64
	for _, e := range execs {
		qty += e.Quantity
		notional += float64(e.Quantity) * e.Price
	}
	assert.EqualValues(t, 50, qty)
	assert.InDelta(t, notional/float64(qty), got.AvgFillPrice, 1e-9)
}

func TestCancelOrder(t *testing.T) {
	feed := newStubFeed()
	feed.set("AAPL", 99.9, 100.1)
	cfg := DefaultConfig()
	cfg.PartialFillProb = 0
	cfg.CancelRejectProb = 0
	b := newTestBroker(t, cfg, feed)
	ctx := context.Background()

	_, err := b.CancelOrder(ctx, "missing")
	assert.ErrorIs(t, err, domain.ErrOrderNotFound)

	// Cancel an active limit order parked away from the market.
	order, err := b.PlaceOrder(ctx, domain.OrderRequest{
		Symbol: "AAPL", Direction: domain.DirectionBuy, Type: domain.OrderTypeLimit,
		LimitPrice: 50, Quantity: 5,
	})
	require.NoError(t, err)

	ok, err := b.CancelOrder(ctx, order.ID)
	require.NoError(t, err)
	assert.True(t, ok)
	got, _ := b.GetOrder(ctx, order.ID)
	assert.Equal(t, domain.OrderStatusCanceled, got.Status)

	// Canceling a terminal order is a no-op returning false.
	ok, err = b.CancelOrder(ctx, order.ID)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestCancelRejection(t *testing.T) {
	feed := newStubFeed()
	feed.set("AAPL", 99.9, 100.1)
	cfg := DefaultConfig()
	cfg.CancelRejectProb = 1 // force rejection
	b := newTestBroker(t, cfg, feed)
	ctx := context.Background()

	order, err := b.PlaceOrder(ctx, domain.OrderRequest{
		Symbol: "AAPL", Direction: domain.DirectionBuy, Type: domain.OrderTypeLimit,
		LimitPrice: 50, Quantity: 5,
	})
	require.NoError(t, err)

	ok, err := b.CancelOrder(ctx, order.ID)
	require.NoError(t, err)
	assert.False(t, ok)

	got, _ := b.GetOrder(ctx, order.ID)
	assert.Equal(t, domain.OrderStatusSubmitted, got.Status, "rejected cancel leaves the order active")
}

func TestGetOrdersFilters(t *testing.T) {
	feed := newStubFeed()
	feed.set("AAPL", 99.9, 100.1)
	feed.set("MSFT", 409.9, 410.1)
	cfg := DefaultConfig()
	cfg.PartialFillProb = 0
	b := newTestBroker(t, cfg, feed)
	ctx := context.Background()

	reqA := marketBuy("AAPL", 1)
	reqA.StrategyID = "s1"
	reqM := marketBuy("MSFT", 1)
	reqM.StrategyID = "s2"
	_, err := b.PlaceOrder(ctx, reqA)
	require.NoError(t, err)
	_, err = b.PlaceOrder(ctx, reqM)
	require.NoError(t, err)

	b.matchOnce(ctx)

	all, err := b.GetOrders(ctx, domain.OrderFilter{})
	require.NoError(t, err)
	assert.Len(t, all, 2)

	aapl, err := b.GetOrders(ctx, domain.OrderFilter{Symbol: "AAPL"})
	require.NoError(t, err)
	require.Len(t, aapl, 1)
	assert.Equal(t, "s1", aapl[0].StrategyID)

	filled, err := b.GetOrders(ctx, domain.OrderFilter{Status: domain.OrderStatusFilled})
	require.NoError(t, err)
	assert.Len(t, filled, 2)

	s2, err := b.GetOrders(ctx, domain.OrderFilter{StrategyID: "s2"})
	require.NoError(t, err)
	require.Len(t, s2, 1)
	assert.Equal(t, "MSFT", s2[0].Symbol)
}

func TestEventOrderingPerOrder(t *testing.T) {
	feed := newStubFeed()
	feed.set("AAPL", 99.9, 100.1)
	cfg := DefaultConfig()
	cfg.PartialFillProb = 0
	b := newTestBroker(t, cfg, feed)
	ctx := context.Background()

	type ev struct {
		kind   string
		status domain.OrderStatus
	}
	var events []ev
	b.OnOrderStatus(func(o domain.Order) { events = append(events, ev{"status", o.Status}) })
	b.OnExecution(func(domain.Execution) { events = append(events, ev{"exec", ""}) })

	_, err := b.PlaceOrder(ctx, marketBuy("AAPL", 10))
	require.NoError(t, err)
	b.matchOnce(ctx)

	require.Len(t, events, 3)
	assert.Equal(t, ev{"status", domain.OrderStatusSubmitted}, events[0])
	assert.Equal(t, ev{"status", domain.OrderStatusFilled}, events[1])
	assert.Equal(t, ev{"exec", ""}, events[2])
}
