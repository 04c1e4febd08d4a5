package strategy

import (
	"fmt"

	"github.com/ajcrowley/tradesim/internal/domain"
	"github.com/ajcrowley/tradesim/internal/indicator"
)

// MACDStrategy trades crossovers of the MACD line and its signal line.
type MACDStrategy struct {
	fast   int
	slow   int
	signal int

	prevDiff float64
	havePrev bool
}

// NewMACD builds a macd evaluator. Defaults: fast_period=12,
// slow_period=26, signal_period=9.
func NewMACD(ps domain.Parameters) (Evaluator, error) {
	m := &MACDStrategy{fast: 12, slow: 26, signal: 9}
	if err := m.SetParams(ps); err != nil {
		return nil, err
	}
	return m, nil
}

func (m *MACDStrategy) Name() string { return "macd" }

func (m *MACDStrategy) Warmup() int {
	w := m.slow + m.signal + 10
	if w < minCandleWindow {
		w = minCandleWindow
	}
	return w
}

func (m *MACDStrategy) SetParams(ps domain.Parameters) error {
	fast := ps.Int("fast_period", m.fast)
	slow := ps.Int("slow_period", m.slow)
	signal := ps.Int("signal_period", m.signal)
	if fast <= 0 || slow <= 0 || signal <= 0 {
		return fmt.Errorf("%w: periods must be positive", domain.ErrInvalidPeriod)
	}
	if fast >= slow {
		return fmt.Errorf("%w: fast_period %d must be below slow_period %d", domain.ErrInvalidPeriodOrdering, fast, slow)
	}
	m.fast = fast
	m.slow = slow
	m.signal = signal
	m.havePrev = false
	return nil
}

func (m *MACDStrategy) Evaluate(ec EvalContext) (*Intent, error) {
	if len(ec.Closes) < m.slow+m.signal {
		return nil, nil
	}
	res, err := indicator.MACD(ec.Closes, m.fast, m.slow, m.signal)
	if err != nil {
		return nil, err
	}
	last := len(ec.Closes) - 1
	diff := res.Line[last] - res.Signal[last]

	defer func() {
		m.prevDiff = diff
		m.havePrev = true
	}()

	if !m.havePrev {
		return nil, nil
	}
	switch {
	case m.prevDiff <= 0 && diff > 0:
		return &Intent{
			Type:   domain.SignalBuy,
			Reason: "MACD line crossed above signal line",
		}, nil
	case m.prevDiff >= 0 && diff < 0:
		return &Intent{
			Type:   domain.SignalSell,
			Reason: "MACD line crossed below signal line",
		}, nil
	}
	return nil, nil
}
