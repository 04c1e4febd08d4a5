package domain

import "time"

// Level1Data is a best-bid/ask/last-trade snapshot for one symbol at one
// point in time. Values are immutable per tick.
type Level1Data struct {
	Symbol    string
	LastPrice float64
	Bid       float64
	Ask       float64
	BidSize   int64
	AskSize   int64
	High      float64
	Low       float64
	Volume    int64
	Timestamp time.Time
}

// Candlestick aggregates trades over a fixed period. Candles for one
// (symbol, period) form an ordered, time-increasing sequence.
type Candlestick struct {
	Symbol    string
	Period    time.Duration
	Timestamp time.Time // open time, aligned to the period boundary
	Open      float64
	High      float64
	Low       float64
	Close     float64
	Volume    int64
}
