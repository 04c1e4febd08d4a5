package sim

import (
	"sync"
	"time"

	"github.com/ajcrowley/tradesim/internal/domain"
)

// Ledger owns the simulated account and its positions. Every fill is applied
// as one atomic unit under the ledger lock: position quantity, average cost,
// realized P&L, cash, and total asset value all move together.
type Ledger struct {
	mu      sync.Mutex
	account *domain.Account
}

// NewLedger creates a ledger with a fresh account.
func NewLedger(accountID string, startingCash float64) *Ledger {
	return &Ledger{account: domain.NewAccount(accountID, startingCash)}
}

// Apply books one execution against the account and returns the resulting
// snapshot. The caller (the broker) serializes calls, so fills on the same
// symbol never interleave their account mutations.
//
// Opening or adding in the direction of the existing position blends the
// average cost by quantity. Reducing realizes P&L on the closed portion and
// leaves the average cost untouched; a reversal opens the residual at the
// execution price.
func (l *Ledger) Apply(exec domain.Execution) domain.AccountSnapshot {
	l.mu.Lock()
	defer l.mu.Unlock()

	pos, ok := l.account.Positions[exec.Symbol]
	if !ok {
		pos = &domain.Position{Symbol: exec.Symbol}
		l.account.Positions[exec.Symbol] = pos
	}

	delta := exec.Quantity * exec.Direction.Sign()
	oldQty := pos.Quantity

	switch {
	case oldQty == 0 || sameSign(oldQty, delta):
		oldAbs := abs(oldQty)
		addAbs := abs(delta)
		pos.AvgCost = (pos.AvgCost*float64(oldAbs) + exec.Price*float64(addAbs)) / float64(oldAbs+addAbs)
		pos.Quantity = oldQty + delta

	default:
		closed := abs(delta)
		if closed > abs(oldQty) {
			closed = abs(oldQty)
		}
		var realized float64
		if oldQty > 0 {
			realized = (exec.Price - pos.AvgCost) * float64(closed)
		} else {
			realized = (pos.AvgCost - exec.Price) * float64(closed)
		}
		l.account.Cash += realized

		pos.Quantity = oldQty + delta
		if abs(delta) > abs(oldQty) {
			// Reversal: the residual position opens at the execution
			// price.
			pos.AvgCost = exec.Price
		}
	}

	pos.CurrentPrice = exec.Price
	l.account.Cash -= float64(delta) * exec.Price
	l.account.Recompute()
	return l.account.Snapshot(exec.Timestamp)
}

// MarkPrice refreshes a position's mark without trading, keeping the total
// asset value in line with the latest quote.
func (l *Ledger) MarkPrice(symbol string, price float64, ts time.Time) (domain.AccountSnapshot, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()

	pos, ok := l.account.Positions[symbol]
	if !ok || pos.CurrentPrice == price {
		return domain.AccountSnapshot{}, false
	}
	pos.CurrentPrice = price
	l.account.Recompute()
	return l.account.Snapshot(ts), true
}

// Account returns a deep copy of the account.
func (l *Ledger) Account() domain.Account {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.account.Clone()
}

// Positions returns a copy of all positions.
func (l *Ledger) Positions() []domain.Position {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]domain.Position, 0, len(l.account.Positions))
	for _, p := range l.account.Positions {
		out = append(out, *p)
	}
	return out
}

func sameSign(a, b int64) bool {
	return (a > 0 && b > 0) || (a < 0 && b < 0)
}

func abs(v int64) int64 {
	if v < 0 {
		return -v
	}
	return v
}
