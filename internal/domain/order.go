package domain

import "time"

// Direction indicates whether an order buys or sells.
type Direction string

const (
	DirectionBuy  Direction = "buy"
	DirectionSell Direction = "sell"
)

// Sign returns +1 for buy and -1 for sell.
func (d Direction) Sign() int64 {
	if d == DirectionSell {
		return -1
	}
	return 1
}

// OrderType selects the execution policy.
type OrderType string

const (
	OrderTypeMarket OrderType = "market"
	OrderTypeLimit  OrderType = "limit"
)

// OrderStatus tracks the order lifecycle. Transitions are monotonic:
// Created -> Submitted -> PartiallyFilled* -> Filled | Canceled | Rejected.
type OrderStatus string

const (
	OrderStatusCreated         OrderStatus = "created"
	OrderStatusSubmitted       OrderStatus = "submitted"
	OrderStatusPartiallyFilled OrderStatus = "partially_filled"
	OrderStatusFilled          OrderStatus = "filled"
	OrderStatusCanceled        OrderStatus = "canceled"
	OrderStatusRejected        OrderStatus = "rejected"
)

// Active reports whether an order in this status can still be filled or
// canceled.
func (s OrderStatus) Active() bool {
	switch s {
	case OrderStatusCreated, OrderStatusSubmitted, OrderStatusPartiallyFilled:
		return true
	default:
		return false
	}
}

// Terminal reports whether the status is final. Terminal orders are never
// mutated again.
func (s OrderStatus) Terminal() bool {
	return !s.Active()
}

// Order represents a simulated exchange order.
type Order struct {
	ID           string
	Symbol       string
	Direction    Direction
	Type         OrderType
	LimitPrice   float64 // zero for market orders
	Quantity     int64
	FilledQty    int64
	AvgFillPrice float64 // volume-weighted over all fills
	Status       OrderStatus
	StrategyID   string
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// Remaining returns the unfilled quantity.
func (o Order) Remaining() int64 {
	return o.Quantity - o.FilledQty
}

// OrderRequest carries the parameters for placing a new order.
type OrderRequest struct {
	Symbol     string
	Direction  Direction
	Type       OrderType
	LimitPrice float64
	Quantity   int64
	StrategyID string
}

// OrderFilter narrows GetOrders queries. Zero values match everything.
type OrderFilter struct {
	Symbol     string
	Status     OrderStatus
	StrategyID string
}

// Matches reports whether the order satisfies every set filter field.
func (f OrderFilter) Matches(o Order) bool {
	if f.Symbol != "" && o.Symbol != f.Symbol {
		return false
	}
	if f.Status != "" && o.Status != f.Status {
		return false
	}
	if f.StrategyID != "" && o.StrategyID != f.StrategyID {
		return false
	}
	return true
}

// Execution is a single fill event on an order.
type Execution struct {
	OrderID    string
	Symbol     string
	Direction  Direction
	Price      float64
	Quantity   int64
	StrategyID string
	Timestamp  time.Time
}
