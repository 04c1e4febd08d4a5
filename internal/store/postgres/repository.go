package postgres

import "github.com/jackc/pgx/v5/pgxpool"

// Repository bundles the three stores behind domain.Repository.
type Repository struct {
	*OrderStore
	*AccountStore
	*StrategyLogStore
}

// NewRepository builds a Repository over one connection pool.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{
		OrderStore:       NewOrderStore(pool),
		AccountStore:     NewAccountStore(pool),
		StrategyLogStore: NewStrategyLogStore(pool),
	}
}
