package domain

import "errors"

var (
	ErrNotConnected          = errors.New("broker session not connected")
	ErrInvalidOrder          = errors.New("invalid order parameters")
	ErrNoMarketData          = errors.New("no market data for symbol")
	ErrOrderNotFound         = errors.New("order not found")
	ErrUnsupportedStrategy   = errors.New("unsupported strategy type")
	ErrInvalidPeriod         = errors.New("indicator period must be positive")
	ErrInvalidPeriodOrdering = errors.New("fast period must be less than slow period")
	ErrScriptCompile         = errors.New("script compilation failed")
	ErrStrategyRuntime       = errors.New("strategy runtime fault")
	ErrNotFound              = errors.New("not found")
)
