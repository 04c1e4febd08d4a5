package postgres

import (
	"context"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/ajcrowley/tradesim/internal/domain"
)

// AccountStore implements domain.AccountStore using PostgreSQL.
type AccountStore struct {
	pool *pgxpool.Pool
}

// NewAccountStore creates a new AccountStore backed by the given pool.
func NewAccountStore(pool *pgxpool.Pool) *AccountStore {
	return &AccountStore{pool: pool}
}

// SaveAccountSnapshot appends a snapshot row.
func (s *AccountStore) SaveAccountSnapshot(ctx context.Context, snap domain.AccountSnapshot) error {
	const query = `
		INSERT INTO account_snapshots (
			account_id, cash, total_asset_value, margin_used,
			margin_available, position_count, ts
		) VALUES ($1, $2, $3, $4, $5, $6, $7)`

	_, err := s.pool.Exec(ctx, query,
		snap.AccountID, snap.Cash, snap.TotalAssetValue, snap.MarginUsed,
		snap.MarginAvailable, snap.PositionCount, snap.Timestamp,
	)
	if err != nil {
		return fmt.Errorf("postgres: save account snapshot: %w", err)
	}
	return nil
}

// GetAccountHistory returns snapshots newest first for one account.
func (s *AccountStore) GetAccountHistory(ctx context.Context, accountID string, opts domain.ListOpts) ([]domain.AccountSnapshot, error) {
	var sb strings.Builder
	sb.WriteString(`
		SELECT account_id, cash, total_asset_value, margin_used,
		       margin_available, position_count, ts
		FROM account_snapshots
		WHERE account_id = $1`)

	args := []any{accountID}
	arg := func(v any) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}
	if opts.Since != nil {
		sb.WriteString(" AND ts >= " + arg(*opts.Since))
	}
	if opts.Until != nil {
		sb.WriteString(" AND ts <= " + arg(*opts.Until))
	}
	sb.WriteString(" ORDER BY ts DESC")
	if opts.Limit > 0 {
		sb.WriteString(" LIMIT " + arg(opts.Limit))
	}
	if opts.Offset > 0 {
		sb.WriteString(" OFFSET " + arg(opts.Offset))
	}

	rows, err := s.pool.Query(ctx, sb.String(), args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: query account history: %w", err)
	}
	defer rows.Close()

	var out []domain.AccountSnapshot
	for rows.Next() {
		var snap domain.AccountSnapshot
		if err := rows.Scan(
			&snap.AccountID, &snap.Cash, &snap.TotalAssetValue, &snap.MarginUsed,
			&snap.MarginAvailable, &snap.PositionCount, &snap.Timestamp,
		); err != nil {
			return nil, fmt.Errorf("postgres: scan account snapshot: %w", err)
		}
		out = append(out, snap)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: iterate account snapshots: %w", err)
	}
	return out, nil
}
