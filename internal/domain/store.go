package domain

import (
	"context"
	"time"
)

// ListOpts provides pagination and time filtering for history queries.
type ListOpts struct {
	Limit  int
	Offset int
	Since  *time.Time
	Until  *time.Time
}

// StrategyLogEntry is one line of strategy execution history.
type StrategyLogEntry struct {
	ID         int64
	StrategyID string
	Strategy   string
	Level      string // "info", "warn", "error"
	Message    string
	Timestamp  time.Time
}

// OrderStore persists order state for history queries.
type OrderStore interface {
	SaveOrder(ctx context.Context, order Order) error
	GetOrderHistory(ctx context.Context, symbol string, opts ListOpts) ([]Order, error)
}

// AccountStore persists account snapshots.
type AccountStore interface {
	SaveAccountSnapshot(ctx context.Context, snap AccountSnapshot) error
	GetAccountHistory(ctx context.Context, accountID string, opts ListOpts) ([]AccountSnapshot, error)
}

// StrategyLogStore persists strategy execution logs.
type StrategyLogStore interface {
	LogStrategyExecution(ctx context.Context, entry StrategyLogEntry) error
	GetStrategyLogs(ctx context.Context, strategyID string, opts ListOpts) ([]StrategyLogEntry, error)
}

// Repository bundles the persistence collaborators the engine consumes. All
// calls are fire-and-forget from the core's perspective: failures are logged
// and never fatal.
type Repository interface {
	OrderStore
	AccountStore
	StrategyLogStore
}

// QuoteCache publishes latest quotes for external consumers (dashboards).
// Best-effort: the feed logs and continues on cache errors.
type QuoteCache interface {
	SetQuote(ctx context.Context, quote Level1Data) error
	GetQuote(ctx context.Context, symbol string) (Level1Data, error)
}
