// Package sim implements the simulated broker: an in-memory order table, a
// periodic matching loop that fills active orders against the live feed, and
// the position/account ledger that every fill mutates atomically.
package sim

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/ajcrowley/tradesim/internal/clock"
	"github.com/ajcrowley/tradesim/internal/domain"
	"github.com/ajcrowley/tradesim/internal/event"
	"github.com/ajcrowley/tradesim/internal/randx"
)

// Config holds the simulated exchange tuning knobs. The probability
// constants are configurable defaults, not contracts.
type Config struct {
	AccountID    string
	StartingCash float64

	// MatchInterval is the cadence of the matching loop.
	MatchInterval time.Duration
	// PartialFillProb is the chance a fill takes only part of the
	// remaining quantity.
	PartialFillProb float64
	// CancelRejectProb is the chance the simulated exchange refuses a
	// cancel of an active order.
	CancelRejectProb float64
	// SubmitDelay and CancelDelay model network round-trips.
	SubmitDelay time.Duration
	CancelDelay time.Duration
}

// DefaultConfig returns the simulation defaults.
func DefaultConfig() Config {
	return Config{
		AccountID:        "sim-account",
		StartingCash:     1_000_000,
		MatchInterval:    500 * time.Millisecond,
		PartialFillProb:  1.0 / 3.0,
		CancelRejectProb: 0.1,
		SubmitDelay:      20 * time.Millisecond,
		CancelDelay:      20 * time.Millisecond,
	}
}

// Broker is the simulated domain.Broker implementation.
//
// Lock order: transitions (place, cancel, fill) serialize on transMu so that
// per-order status and execution events fire in transition order; the table
// lock mu nests inside. Event callbacks run while transMu is held and must
// not invoke PlaceOrder/CancelOrder synchronously.
type Broker struct {
	cfg    Config
	feed   domain.MarketData
	clock  clock.Clock
	rng    randx.Source
	ledger *Ledger
	logger *slog.Logger

	transMu sync.Mutex

	mu        sync.RWMutex
	connected bool
	orders    map[string]*domain.Order
	orderSeq  []string // insertion order, for deterministic matching sweeps

	statusEv  event.Listeners[domain.Order]
	execEv    event.Listeners[domain.Execution]
	accountEv event.Listeners[domain.AccountSnapshot]
	connEv    event.Listeners[bool]
}

// New creates a simulated broker.
func New(cfg Config, feed domain.MarketData, clk clock.Clock, rng randx.Source, logger *slog.Logger) *Broker {
	if cfg.MatchInterval <= 0 {
		cfg.MatchInterval = 500 * time.Millisecond
	}
	if cfg.AccountID == "" {
		cfg.AccountID = "sim-account"
	}
	return &Broker{
		cfg:    cfg,
		feed:   feed,
		clock:  clk,
		rng:    rng,
		ledger: NewLedger(cfg.AccountID, cfg.StartingCash),
		logger: logger.With(slog.String("component", "sim_broker")),
		orders: make(map[string]*domain.Order),
	}
}

// Connect activates the broker session.
func (b *Broker) Connect(ctx context.Context) error {
	b.mu.Lock()
	already := b.connected
	b.connected = true
	b.mu.Unlock()
	if !already {
		b.logger.InfoContext(ctx, "broker connected", slog.String("account", b.cfg.AccountID))
		b.connEv.Emit(true)
	}
	return nil
}

// Disconnect deactivates the session. Active orders stay in the table and
// resume matching on reconnect.
func (b *Broker) Disconnect(ctx context.Context) error {
	b.mu.Lock()
	was := b.connected
	b.connected = false
	b.mu.Unlock()
	if was {
		b.logger.InfoContext(ctx, "broker disconnected")
		b.connEv.Emit(false)
	}
	return nil
}

// IsConnected reports whether the session is active.
func (b *Broker) IsConnected() bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.connected
}

func (b *Broker) requireConnected() error {
	if !b.IsConnected() {
		return domain.ErrNotConnected
	}
	return nil
}

// GetAccount returns a copy of the simulated account.
func (b *Broker) GetAccount(ctx context.Context) (domain.Account, error) {
	if err := b.requireConnected(); err != nil {
		return domain.Account{}, err
	}
	return b.ledger.Account(), nil
}

// GetPositions returns copies of all positions, including flat ones.
func (b *Broker) GetPositions(ctx context.Context) ([]domain.Position, error) {
	if err := b.requireConnected(); err != nil {
		return nil, err
	}
	return b.ledger.Positions(), nil
}

// PlaceOrder validates the request, creates the order, simulates the
// submission delay, and transitions it to Submitted. Orders become eligible
// for matching only once Submitted.
func (b *Broker) PlaceOrder(ctx context.Context, req domain.OrderRequest) (domain.Order, error) {
	if err := b.requireConnected(); err != nil {
		return domain.Order{}, err
	}
	if req.Symbol == "" {
		return domain.Order{}, fmt.Errorf("empty symbol: %w", domain.ErrInvalidOrder)
	}
	if req.Quantity <= 0 {
		return domain.Order{}, fmt.Errorf("quantity %d: %w", req.Quantity, domain.ErrInvalidOrder)
	}
	if req.Type == domain.OrderTypeLimit && req.LimitPrice <= 0 {
		return domain.Order{}, fmt.Errorf("limit price %.4f: %w", req.LimitPrice, domain.ErrInvalidOrder)
	}
	if _, err := b.feed.GetQuote(req.Symbol); err != nil {
		return domain.Order{}, fmt.Errorf("place order %s: %w", req.Symbol, domain.ErrNoMarketData)
	}

	now := b.clock.Now()
	order := &domain.Order{
		ID:         uuid.New().String(),
		Symbol:     req.Symbol,
		Direction:  req.Direction,
		Type:       req.Type,
		LimitPrice: req.LimitPrice,
		Quantity:   req.Quantity,
		Status:     domain.OrderStatusCreated,
		StrategyID: req.StrategyID,
		CreatedAt:  now,
		UpdatedAt:  now,
	}

	b.mu.Lock()
	b.orders[order.ID] = order
	b.orderSeq = append(b.orderSeq, order.ID)
	b.mu.Unlock()

	if err := b.sleep(ctx, b.cfg.SubmitDelay); err != nil {
		return *order, err
	}

	b.transMu.Lock()
	b.mu.Lock()
	order.Status = domain.OrderStatusSubmitted
	order.UpdatedAt = b.clock.Now()
	snapshot := *order
	b.mu.Unlock()
	b.statusEv.Emit(snapshot)
	b.transMu.Unlock()

	b.logger.InfoContext(ctx, "order submitted",
		slog.String("order_id", order.ID),
		slog.String("symbol", order.Symbol),
		slog.String("direction", string(order.Direction)),
		slog.String("type", string(order.Type)),
		slog.Int64("quantity", order.Quantity),
		slog.Float64("limit_price", order.LimitPrice),
		slog.String("strategy_id", order.StrategyID),
	)
	return snapshot, nil
}

// CancelOrder attempts to cancel an active order. It returns false without
// error when the order is not active or when the simulated exchange rejects
// the cancel.
func (b *Broker) CancelOrder(ctx context.Context, orderID string) (bool, error) {
	if err := b.requireConnected(); err != nil {
		return false, err
	}

	b.mu.RLock()
	order, ok := b.orders[orderID]
	var active bool
	if ok {
		active = order.Status.Active()
	}
	b.mu.RUnlock()
	if !ok {
		return false, fmt.Errorf("cancel %s: %w", orderID, domain.ErrOrderNotFound)
	}
	if !active {
		return false, nil
	}

	if err := b.sleep(ctx, b.cfg.CancelDelay); err != nil {
		return false, err
	}

	if b.rng.Float64() < b.cfg.CancelRejectProb {
		b.logger.WarnContext(ctx, "cancel rejected by exchange", slog.String("order_id", orderID))
		return false, nil
	}

	b.transMu.Lock()
	defer b.transMu.Unlock()

	b.mu.Lock()
	// The matching loop may have filled the order during the delay.
	if !order.Status.Active() {
		b.mu.Unlock()
		return false, nil
	}
	order.Status = domain.OrderStatusCanceled
	order.UpdatedAt = b.clock.Now()
	snapshot := *order
	b.mu.Unlock()

	b.statusEv.Emit(snapshot)
	b.logger.InfoContext(ctx, "order canceled", slog.String("order_id", orderID))
	return true, nil
}

// GetOrder returns a copy of the order with the given id.
func (b *Broker) GetOrder(ctx context.Context, orderID string) (domain.Order, error) {
	if err := b.requireConnected(); err != nil {
		return domain.Order{}, err
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	order, ok := b.orders[orderID]
	if !ok {
		return domain.Order{}, fmt.Errorf("get %s: %w", orderID, domain.ErrOrderNotFound)
	}
	return *order, nil
}

// GetOrders returns copies of all orders matching the filter, oldest first.
func (b *Broker) GetOrders(ctx context.Context, filter domain.OrderFilter) ([]domain.Order, error) {
	if err := b.requireConnected(); err != nil {
		return nil, err
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	out := make([]domain.Order, 0, len(b.orders))
	for _, id := range b.orderSeq {
		if o := b.orders[id]; o != nil && filter.Matches(*o) {
			out = append(out, *o)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

// OnOrderStatus registers a listener for order status transitions.
func (b *Broker) OnOrderStatus(fn func(domain.Order)) func() {
	return b.statusEv.Subscribe(fn)
}

// OnExecution registers a listener for fills.
func (b *Broker) OnExecution(fn func(domain.Execution)) func() {
	return b.execEv.Subscribe(fn)
}

// OnAccountUpdated registers a listener for post-fill account snapshots.
func (b *Broker) OnAccountUpdated(fn func(domain.AccountSnapshot)) func() {
	return b.accountEv.Subscribe(fn)
}

// OnConnectionStatus registers a listener for session changes.
func (b *Broker) OnConnectionStatus(fn func(bool)) func() {
	return b.connEv.Subscribe(fn)
}

// sleep waits for d on the injected clock, returning early on context
// cancellation.
func (b *Broker) sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-b.clock.After(d):
		return nil
	}
}
