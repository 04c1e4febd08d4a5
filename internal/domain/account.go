package domain

import "time"

// Account is the simulated trading account ledger. TotalAssetValue is kept
// equal to cash plus the sum of position market values; it is recomputed
// after every mutation.
type Account struct {
	ID              string
	Cash            float64
	TotalAssetValue float64
	MarginUsed      float64
	MarginAvailable float64
	Positions       map[string]*Position
}

// NewAccount creates an account with the given starting cash and no
// positions.
func NewAccount(id string, cash float64) *Account {
	return &Account{
		ID:              id,
		Cash:            cash,
		TotalAssetValue: cash,
		MarginAvailable: cash,
		Positions:       make(map[string]*Position),
	}
}

// Recompute refreshes TotalAssetValue and margin fields from cash and the
// current position marks. Callers must hold whatever lock guards the account.
func (a *Account) Recompute() {
	total := a.Cash
	var used float64
	for _, p := range a.Positions {
		total += p.MarketValue()
		if p.Quantity == 0 {
			continue
		}
		cost := float64(p.Quantity) * p.AvgCost
		if cost < 0 {
			cost = -cost
		}
		used += cost
	}
	a.TotalAssetValue = total
	a.MarginUsed = used
	a.MarginAvailable = total - used
}

// Clone returns a deep copy safe to hand to readers while the ledger keeps
// mutating.
func (a *Account) Clone() Account {
	out := *a
	out.Positions = make(map[string]*Position, len(a.Positions))
	for sym, p := range a.Positions {
		cp := *p
		out.Positions[sym] = &cp
	}
	return out
}

// AccountSnapshot is a point-in-time record of the account persisted by the
// repository collaborator.
type AccountSnapshot struct {
	AccountID       string
	Cash            float64
	TotalAssetValue float64
	MarginUsed      float64
	MarginAvailable float64
	PositionCount   int
	Timestamp       time.Time
}

// Snapshot captures the account's current state.
func (a *Account) Snapshot(ts time.Time) AccountSnapshot {
	open := 0
	for _, p := range a.Positions {
		if p.Quantity != 0 {
			open++
		}
	}
	return AccountSnapshot{
		AccountID:       a.ID,
		Cash:            a.Cash,
		TotalAssetValue: a.TotalAssetValue,
		MarginUsed:      a.MarginUsed,
		MarginAvailable: a.MarginAvailable,
		PositionCount:   open,
		Timestamp:       ts,
	}
}
