package strategy

import (
	"fmt"

	"github.com/ajcrowley/tradesim/internal/domain"
	"github.com/ajcrowley/tradesim/internal/indicator"
)

// RSIStrategy trades threshold breaches of the relative strength index:
// dropping into oversold territory is a buy, rising into overbought a sell.
type RSIStrategy struct {
	period     int
	oversold   float64
	overbought float64

	prevRSI  float64
	havePrev bool
}

// NewRSI builds an rsi evaluator. Defaults: period=14, oversold=30,
// overbought=70.
func NewRSI(ps domain.Parameters) (Evaluator, error) {
	r := &RSIStrategy{period: 14, oversold: 30, overbought: 70}
	if err := r.SetParams(ps); err != nil {
		return nil, err
	}
	return r, nil
}

func (r *RSIStrategy) Name() string { return "rsi" }

func (r *RSIStrategy) Warmup() int { return r.period*2 + 1 }

func (r *RSIStrategy) SetParams(ps domain.Parameters) error {
	period := ps.Int("period", r.period)
	if period <= 0 {
		return fmt.Errorf("%w: period must be positive", domain.ErrInvalidPeriod)
	}
	oversold := ps.Float("oversold", r.oversold)
	overbought := ps.Float("overbought", r.overbought)
	if oversold >= overbought {
		return fmt.Errorf("oversold %.1f must be below overbought %.1f", oversold, overbought)
	}
	r.period = period
	r.oversold = oversold
	r.overbought = overbought
	r.havePrev = false
	return nil
}

func (r *RSIStrategy) Evaluate(ec EvalContext) (*Intent, error) {
	if len(ec.Closes) < r.period+1 {
		return nil, nil
	}
	series, err := indicator.RSI(ec.Closes, r.period)
	if err != nil {
		return nil, err
	}
	cur := series[len(series)-1]

	defer func() {
		r.prevRSI = cur
		r.havePrev = true
	}()

	if !r.havePrev {
		return nil, nil
	}
	switch {
	case r.prevRSI >= r.oversold && cur < r.oversold:
		return &Intent{
			Type:   domain.SignalBuy,
			Reason: fmt.Sprintf("RSI(%d) dropped to %.1f, below oversold %.1f", r.period, cur, r.oversold),
		}, nil
	case r.prevRSI <= r.overbought && cur > r.overbought:
		return &Intent{
			Type:   domain.SignalSell,
			Reason: fmt.Sprintf("RSI(%d) rose to %.1f, above overbought %.1f", r.period, cur, r.overbought),
		}, nil
	}
	return nil, nil
}
