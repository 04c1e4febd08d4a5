package domain

import "time"

// SignalType is a strategy's trading intent.
type SignalType string

const (
	SignalBuy     SignalType = "buy"
	SignalSell    SignalType = "sell"
	SignalFlatten SignalType = "flatten"
)

// Signal is the ephemeral intent emitted by a strategy before order
// submission. It is logged and forwarded, never persisted as an entity.
type Signal struct {
	ID         string
	StrategyID string
	Strategy   string // strategy type tag, e.g. "ma_cross"
	Symbol     string
	Type       SignalType
	Price      float64
	Quantity   int64
	Reason     string
	CreatedAt  time.Time
}
