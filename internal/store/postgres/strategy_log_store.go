package postgres

import (
	"context"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/ajcrowley/tradesim/internal/domain"
)

// StrategyLogStore implements domain.StrategyLogStore using PostgreSQL.
type StrategyLogStore struct {
	pool *pgxpool.Pool
}

// NewStrategyLogStore creates a new StrategyLogStore backed by the given
// pool.
func NewStrategyLogStore(pool *pgxpool.Pool) *StrategyLogStore {
	return &StrategyLogStore{pool: pool}
}

// LogStrategyExecution appends a log entry.
func (s *StrategyLogStore) LogStrategyExecution(ctx context.Context, entry domain.StrategyLogEntry) error {
	const query = `
		INSERT INTO strategy_logs (strategy_id, strategy, level, message, ts)
		VALUES ($1, $2, $3, $4, $5)`

	_, err := s.pool.Exec(ctx, query,
		entry.StrategyID, entry.Strategy, entry.Level, entry.Message, entry.Timestamp,
	)
	if err != nil {
		return fmt.Errorf("postgres: log strategy execution: %w", err)
	}
	return nil
}

// GetStrategyLogs returns log entries newest first, optionally filtered by
// strategy ID and time window. An empty strategyID matches all strategies.
func (s *StrategyLogStore) GetStrategyLogs(ctx context.Context, strategyID string, opts domain.ListOpts) ([]domain.StrategyLogEntry, error) {
	var sb strings.Builder
	sb.WriteString(`
		SELECT id, strategy_id, strategy, level, message, ts
		FROM strategy_logs`)

	var conds []string
	var args []any
	arg := func(v any) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}
	if strategyID != "" {
		conds = append(conds, "strategy_id = "+arg(strategyID))
	}
	if opts.Since != nil {
		conds = append(conds, "ts >= "+arg(*opts.Since))
	}
	if opts.Until != nil {
		conds = append(conds, "ts <= "+arg(*opts.Until))
	}
	if len(conds) > 0 {
		sb.WriteString(" WHERE " + strings.Join(conds, " AND "))
	}
	sb.WriteString(" ORDER BY ts DESC, id DESC")
	if opts.Limit > 0 {
		sb.WriteString(" LIMIT " + arg(opts.Limit))
	}
	if opts.Offset > 0 {
		sb.WriteString(" OFFSET " + arg(opts.Offset))
	}

	rows, err := s.pool.Query(ctx, sb.String(), args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: query strategy logs: %w", err)
	}
	defer rows.Close()

	var out []domain.StrategyLogEntry
	for rows.Next() {
		var entry domain.StrategyLogEntry
		if err := rows.Scan(
			&entry.ID, &entry.StrategyID, &entry.Strategy,
			&entry.Level, &entry.Message, &entry.Timestamp,
		); err != nil {
			return nil, fmt.Errorf("postgres: scan strategy log: %w", err)
		}
		out = append(out, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: iterate strategy logs: %w", err)
	}
	return out, nil
}
