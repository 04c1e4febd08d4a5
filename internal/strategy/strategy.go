// Package strategy contains the strategy runtime: a shared loop-driving
// runner, a constructor registry keyed by type tag, and the evaluator
// variants (moving-average cross, RSI, Bollinger, MACD, scripted).
package strategy

import (
	"github.com/ajcrowley/tradesim/internal/domain"
)

// Status is the runner lifecycle state. Error is absorbing: a strategy that
// faulted stays in Error until explicitly stopped and restarted.
type Status string

const (
	StatusInitialized Status = "initialized"
	StatusRunning     Status = "running"
	StatusStopped     Status = "stopped"
	StatusError       Status = "error"
)

// Intent is an evaluator's decision for one iteration. A nil intent means
// no action.
type Intent struct {
	Type   domain.SignalType
	Reason string
}

// EvalContext is the market view handed to an evaluator on each iteration.
// Closes are the candle closing prices, oldest first, aligned with Candles.
type EvalContext struct {
	Symbol   string
	Candles  []domain.Candlestick
	Closes   []float64
	Quote    domain.Level1Data
	Position domain.Position
}

// Evaluator is the per-variant capability behind the shared runner. An
// evaluator owns its parameters and whatever state edge-trigger detection
// needs; it is only ever called from its runner's loop goroutine.
type Evaluator interface {
	// Name returns the strategy type tag, e.g. "ma_cross".
	Name() string

	// Warmup returns the minimum number of candles the evaluator needs
	// before its output is meaningful.
	Warmup() int

	// SetParams applies (or re-applies) parameters. For the scripted
	// variant this recompiles the script and fails fast on a compile
	// error.
	SetParams(ps domain.Parameters) error

	// Evaluate inspects the context and returns an intent, or nil when no
	// signal fires this iteration.
	Evaluate(ec EvalContext) (*Intent, error)
}

// Constructor builds an evaluator from initial parameters.
type Constructor func(ps domain.Parameters) (Evaluator, error)
