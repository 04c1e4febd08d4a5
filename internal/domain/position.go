package domain

// Position is the signed holding for one symbol. Quantity is positive for
// long and negative for short. Positions persist at zero quantity once
// created.
type Position struct {
	Symbol       string
	Quantity     int64
	AvgCost      float64
	CurrentPrice float64
}

// MarketValue returns quantity times current price (signed).
func (p Position) MarketValue() float64 {
	return float64(p.Quantity) * p.CurrentPrice
}

// UnrealizedPnL returns the open profit or loss against average cost.
func (p Position) UnrealizedPnL() float64 {
	return float64(p.Quantity) * (p.CurrentPrice - p.AvgCost)
}
