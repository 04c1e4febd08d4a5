package sim

import (
	"context"
	"log/slog"
	"math"
	"time"

	"github.com/ajcrowley/tradesim/internal/domain"
)

// Run drives the matching loop until the context is cancelled. Ticks while
// the session is disconnected are skipped.
func (b *Broker) Run(ctx context.Context) error {
	b.logger.Info("matching loop started", slog.Duration("interval", b.cfg.MatchInterval))
	defer b.logger.Info("matching loop stopped")

	ticker := b.clock.NewTicker(b.cfg.MatchInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C():
			if b.IsConnected() {
				b.matchOnce(ctx)
			}
		}
	}
}

// matchOnce sweeps the order table once, attempting to fill every matchable
// order against the current quote. Orders still in Created (submission delay
// pending) are skipped.
func (b *Broker) matchOnce(ctx context.Context) {
	b.mu.RLock()
	ids := make([]string, len(b.orderSeq))
	copy(ids, b.orderSeq)
	b.mu.RUnlock()

	for _, id := range ids {
		b.mu.RLock()
		order, ok := b.orders[id]
		matchable := ok && order.Status.Active() && order.Status != domain.OrderStatusCreated
		var symbol string
		if matchable {
			symbol = order.Symbol
		}
		b.mu.RUnlock()
		if !matchable {
			continue
		}

		quote, err := b.feed.GetQuote(symbol)
		if err != nil {
			b.logger.WarnContext(ctx, "no quote for active order",
				slog.String("order_id", id),
				slog.String("symbol", symbol),
			)
			continue
		}

		b.tryFill(ctx, id, quote.Bid, quote.Ask)
	}
}

// tryFill checks fill eligibility for one order and, when eligible, applies
// an execution for either the full remainder or a random partial quantity.
func (b *Broker) tryFill(ctx context.Context, orderID string, bid, ask float64) {
	b.transMu.Lock()
	defer b.transMu.Unlock()

	b.mu.Lock()
	order, ok := b.orders[orderID]
	if !ok || !order.Status.Active() || order.Status == domain.OrderStatusCreated {
		b.mu.Unlock()
		return
	}

	var execPrice float64
	eligible := false
	switch order.Type {
	case domain.OrderTypeMarket:
		// Market orders cross the spread: buys lift the ask, sells hit
		// the bid.
		if order.Direction == domain.DirectionBuy {
			execPrice = ask
		} else {
			execPrice = bid
		}
		eligible = execPrice > 0
	case domain.OrderTypeLimit:
		if order.Direction == domain.DirectionBuy && ask <= order.LimitPrice {
			execPrice = math.Min(order.LimitPrice, ask)
			eligible = true
		} else if order.Direction == domain.DirectionSell && bid >= order.LimitPrice {
			execPrice = math.Max(order.LimitPrice, bid)
			eligible = true
		}
	}
	if !eligible {
		b.mu.Unlock()
		return
	}

	remaining := order.Remaining()
	execQty := remaining
	if remaining > 1 && b.rng.Float64() < b.cfg.PartialFillProb {
		execQty = 1 + int64(b.rng.Intn(int(remaining-1)))
	}

	prevFilled := order.FilledQty
	order.AvgFillPrice = (order.AvgFillPrice*float64(prevFilled) + execPrice*float64(execQty)) /
		float64(prevFilled+execQty)
	order.FilledQty += execQty
	if order.FilledQty >= order.Quantity {
		order.Status = domain.OrderStatusFilled
	} else {
		order.Status = domain.OrderStatusPartiallyFilled
	}
	now := b.clock.Now()
	order.UpdatedAt = now
	orderSnap := *order
	b.mu.Unlock()

	exec := executionFor(orderSnap, execPrice, execQty, now)
	accountSnap := b.ledger.Apply(exec)

	// Status, execution, then account events: the same order the state
	// transition happened in.
	b.statusEv.Emit(orderSnap)
	b.execEv.Emit(exec)
	b.accountEv.Emit(accountSnap)

	b.logger.InfoContext(ctx, "order executed",
		slog.String("order_id", orderSnap.ID),
		slog.String("symbol", orderSnap.Symbol),
		slog.String("direction", string(orderSnap.Direction)),
		slog.Float64("price", execPrice),
		slog.Int64("quantity", execQty),
		slog.Int64("filled", orderSnap.FilledQty),
		slog.Int64("total", orderSnap.Quantity),
		slog.String("status", string(orderSnap.Status)),
	)
}

func executionFor(o domain.Order, price float64, qty int64, ts time.Time) domain.Execution {
	return domain.Execution{
		OrderID:    o.ID,
		Symbol:     o.Symbol,
		Direction:  o.Direction,
		Price:      price,
		Quantity:   qty,
		StrategyID: o.StrategyID,
		Timestamp:  ts,
	}
}
