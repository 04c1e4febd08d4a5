package postgres

import (
	"context"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/ajcrowley/tradesim/internal/domain"
)

// OrderStore implements domain.OrderStore using PostgreSQL.
type OrderStore struct {
	pool *pgxpool.Pool
}

// NewOrderStore creates a new OrderStore backed by the given connection pool.
func NewOrderStore(pool *pgxpool.Pool) *OrderStore {
	return &OrderStore{pool: pool}
}

// SaveOrder upserts the order's latest state keyed by id. The engine calls
// this on every status transition, so the row always reflects the most
// recent state.
func (s *OrderStore) SaveOrder(ctx context.Context, o domain.Order) error {
	const query = `
		INSERT INTO orders (
			id, symbol, direction, order_type, limit_price,
			quantity, filled_qty, avg_fill_price, status, strategy_id,
			created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		ON CONFLICT (id) DO UPDATE SET
			filled_qty = EXCLUDED.filled_qty,
			avg_fill_price = EXCLUDED.avg_fill_price,
			status = EXCLUDED.status,
			updated_at = EXCLUDED.updated_at`

	_, err := s.pool.Exec(ctx, query,
		o.ID, o.Symbol, string(o.Direction), string(o.Type), o.LimitPrice,
		o.Quantity, o.FilledQty, o.AvgFillPrice, string(o.Status), o.StrategyID,
		o.CreatedAt, o.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("postgres: save order %s: %w", o.ID, err)
	}
	return nil
}

// GetOrderHistory returns orders newest first, optionally filtered by
// symbol and creation time window.
func (s *OrderStore) GetOrderHistory(ctx context.Context, symbol string, opts domain.ListOpts) ([]domain.Order, error) {
	var sb strings.Builder
	sb.WriteString(`
		SELECT id, symbol, direction, order_type, limit_price,
		       quantity, filled_qty, avg_fill_price, status, strategy_id,
		       created_at, updated_at
		FROM orders`)

	var conds []string
	var args []any
	arg := func(v any) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}
	if symbol != "" {
		conds = append(conds, "symbol = "+arg(symbol))
	}
	if opts.Since != nil {
		conds = append(conds, "created_at >= "+arg(*opts.Since))
	}
	if opts.Until != nil {
		conds = append(conds, "created_at <= "+arg(*opts.Until))
	}
	if len(conds) > 0 {
		sb.WriteString(" WHERE " + strings.Join(conds, " AND "))
	}
	sb.WriteString(" ORDER BY created_at DESC")
	if opts.Limit > 0 {
		sb.WriteString(" LIMIT " + arg(opts.Limit))
	}
	if opts.Offset > 0 {
		sb.WriteString(" OFFSET " + arg(opts.Offset))
	}

	rows, err := s.pool.Query(ctx, sb.String(), args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: query order history: %w", err)
	}
	defer rows.Close()

	var out []domain.Order
	for rows.Next() {
		var o domain.Order
		var direction, orderType, status string
		if err := rows.Scan(
			&o.ID, &o.Symbol, &direction, &orderType, &o.LimitPrice,
			&o.Quantity, &o.FilledQty, &o.AvgFillPrice, &status, &o.StrategyID,
			&o.CreatedAt, &o.UpdatedAt,
		); err != nil {
			return nil, fmt.Errorf("postgres: scan order: %w", err)
		}
		o.Direction = domain.Direction(direction)
		o.Type = domain.OrderType(orderType)
		o.Status = domain.OrderStatus(status)
		out = append(out, o)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: iterate orders: %w", err)
	}
	return out, nil
}
