package domain

import "time"

// QuoteFunc receives quote notifications from a market data feed.
type QuoteFunc func(Level1Data)

// MarketData is the collaborator contract for quotes and candlesticks. The
// simulated feed in internal/marketdata implements it; real feed adapters
// are out of scope for the core.
type MarketData interface {
	// GetQuote returns the latest Level1 snapshot, or ErrNoMarketData when
	// the symbol is unknown.
	GetQuote(symbol string) (Level1Data, error)

	// Subscribe registers fn for every quote update on symbol and returns
	// a function that removes the subscription. A fault inside one
	// callback never blocks delivery to the others.
	Subscribe(symbol string, fn QuoteFunc) (unsubscribe func())

	// GetHistoricalCandles returns candles in [start, end] ascending by
	// time.
	GetHistoricalCandles(symbol string, start, end time.Time, period time.Duration) ([]Candlestick, error)

	// GetLatestCandles returns up to count most recent candles ascending
	// by time.
	GetLatestCandles(symbol string, count int, period time.Duration) ([]Candlestick, error)
}
