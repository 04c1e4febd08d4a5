// Package memory is a process-local Repository used by the sim run mode
// and by tests. Semantics mirror the postgres store: history queries return
// newest first and honor the same pagination and time filters.
package memory

import (
	"context"
	"sync"

	"github.com/ajcrowley/tradesim/internal/domain"
)

// Repository keeps all history in memory. Safe for concurrent use.
type Repository struct {
	mu        sync.RWMutex
	orders    map[string]domain.Order // latest state per order id
	orderSeq  []string                // insertion order
	snapshots []domain.AccountSnapshot
	logs      []domain.StrategyLogEntry
	logSeq    int64
}

// New returns an empty repository.
func New() *Repository {
	return &Repository{orders: make(map[string]domain.Order)}
}

// SaveOrder upserts the order's latest state.
func (r *Repository) SaveOrder(ctx context.Context, order domain.Order) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.orders[order.ID]; !exists {
		r.orderSeq = append(r.orderSeq, order.ID)
	}
	r.orders[order.ID] = order
	return nil
}

// GetOrderHistory returns orders newest first, optionally filtered by
// symbol.
func (r *Repository) GetOrderHistory(ctx context.Context, symbol string, opts domain.ListOpts) ([]domain.Order, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []domain.Order
	for i := len(r.orderSeq) - 1; i >= 0; i-- {
		o := r.orders[r.orderSeq[i]]
		if symbol != "" && o.Symbol != symbol {
			continue
		}
		if opts.Since != nil && o.CreatedAt.Before(*opts.Since) {
			continue
		}
		if opts.Until != nil && o.CreatedAt.After(*opts.Until) {
			continue
		}
		out = append(out, o)
	}
	return paginate(out, opts), nil
}

// SaveAccountSnapshot appends a snapshot.
func (r *Repository) SaveAccountSnapshot(ctx context.Context, snap domain.AccountSnapshot) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.snapshots = append(r.snapshots, snap)
	return nil
}

// GetAccountHistory returns snapshots newest first for one account.
func (r *Repository) GetAccountHistory(ctx context.Context, accountID string, opts domain.ListOpts) ([]domain.AccountSnapshot, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []domain.AccountSnapshot
	for i := len(r.snapshots) - 1; i >= 0; i-- {
		s := r.snapshots[i]
		if accountID != "" && s.AccountID != accountID {
			continue
		}
		if opts.Since != nil && s.Timestamp.Before(*opts.Since) {
			continue
		}
		if opts.Until != nil && s.Timestamp.After(*opts.Until) {
			continue
		}
		out = append(out, s)
	}
	return paginate(out, opts), nil
}

// LogStrategyExecution appends a log entry, assigning it the next id.
func (r *Repository) LogStrategyExecution(ctx context.Context, entry domain.StrategyLogEntry) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.logSeq++
	entry.ID = r.logSeq
	r.logs = append(r.logs, entry)
	return nil
}

// GetStrategyLogs returns log entries newest first for one strategy.
func (r *Repository) GetStrategyLogs(ctx context.Context, strategyID string, opts domain.ListOpts) ([]domain.StrategyLogEntry, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []domain.StrategyLogEntry
	for i := len(r.logs) - 1; i >= 0; i-- {
		l := r.logs[i]
		if strategyID != "" && l.StrategyID != strategyID {
			continue
		}
		if opts.Since != nil && l.Timestamp.Before(*opts.Since) {
			continue
		}
		if opts.Until != nil && l.Timestamp.After(*opts.Until) {
			continue
		}
		out = append(out, l)
	}
	return paginate(out, opts), nil
}

func paginate[T any](in []T, opts domain.ListOpts) []T {
	if opts.Offset > 0 {
		if opts.Offset >= len(in) {
			return nil
		}
		in = in[opts.Offset:]
	}
	if opts.Limit > 0 && opts.Limit < len(in) {
		in = in[:opts.Limit]
	}
	return in
}
