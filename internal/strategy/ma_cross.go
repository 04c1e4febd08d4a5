package strategy

import (
	"fmt"

	"github.com/ajcrowley/tradesim/internal/domain"
	"github.com/ajcrowley/tradesim/internal/indicator"
)

// MACross trades crossovers of a fast and a slow simple moving average.
// A fast line crossing above the slow is a buy, crossing below a sell.
type MACross struct {
	fast int
	slow int

	// prevDiff is fast-slow from the previous evaluation; signals are
	// edge-triggered on its sign change, not recomputed from the series,
	// because the latest candle mutates between evaluations.
	prevDiff float64
	havePrev bool
}

// NewMACross builds an ma_cross evaluator. Defaults: fast_period=5,
// slow_period=20.
func NewMACross(ps domain.Parameters) (Evaluator, error) {
	m := &MACross{fast: 5, slow: 20}
	if err := m.SetParams(ps); err != nil {
		return nil, err
	}
	return m, nil
}

func (m *MACross) Name() string { return "ma_cross" }

func (m *MACross) Warmup() int { return m.slow + 1 }

func (m *MACross) SetParams(ps domain.Parameters) error {
	fast := ps.Int("fast_period", m.fast)
	slow := ps.Int("slow_period", m.slow)
	if fast <= 0 || slow <= 0 {
		return fmt.Errorf("%w: periods must be positive", domain.ErrInvalidPeriod)
	}
	if fast >= slow {
		return fmt.Errorf("%w: fast_period %d must be below slow_period %d", domain.ErrInvalidPeriodOrdering, fast, slow)
	}
	m.fast = fast
	m.slow = slow
	m.havePrev = false
	return nil
}

func (m *MACross) Evaluate(ec EvalContext) (*Intent, error) {
	if len(ec.Closes) < m.slow {
		return nil, nil
	}
	fastLine, err := indicator.SMA(ec.Closes, m.fast)
	if err != nil {
		return nil, err
	}
	slowLine, err := indicator.SMA(ec.Closes, m.slow)
	if err != nil {
		return nil, err
	}
	last := len(ec.Closes) - 1
	diff := fastLine[last] - slowLine[last]

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
			Reason: fmt.Sprintf("SMA(%d) crossed above SMA(%d)", m.fast, m.slow),
		}, nil
	case m.prevDiff >= 0 && diff < 0:
		return &Intent{
			Type:   domain.SignalSell,
			Reason: fmt.Sprintf("SMA(%d) crossed below SMA(%d)", m.fast, m.slow),
		}, nil
	}
	return nil, nil
}
