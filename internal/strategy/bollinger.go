package strategy

import (
	"fmt"

	"github.com/ajcrowley/tradesim/internal/domain"
	"github.com/ajcrowley/tradesim/internal/indicator"
)

// Bollinger trades band breaches: the close crossing below the lower band
// is a buy, crossing above the upper band a sell.
type Bollinger struct {
	period     int
	multiplier float64

	prevBelow bool
	prevAbove bool
	havePrev  bool
}

// NewBollinger builds a bollinger evaluator. Defaults: period=20,
// multiplier=2.
func NewBollinger(ps domain.Parameters) (Evaluator, error) {
	b := &Bollinger{period: 20, multiplier: 2}
	if err := b.SetParams(ps); err != nil {
		return nil, err
	}
	return b, nil
}

func (b *Bollinger) Name() string { return "bollinger" }

func (b *Bollinger) Warmup() int { return b.period + 1 }

func (b *Bollinger) SetParams(ps domain.Parameters) error {
	period := ps.Int("period", b.period)
	if period <= 0 {
		return fmt.Errorf("%w: period must be positive", domain.ErrInvalidPeriod)
	}
	multiplier := ps.Float("multiplier", b.multiplier)
	if multiplier <= 0 {
		return fmt.Errorf("multiplier must be positive, got %.2f", multiplier)
	}
	b.period = period
	b.multiplier = multiplier
	b.havePrev = false
	return nil
}

func (b *Bollinger) Evaluate(ec EvalContext) (*Intent, error) {
	if len(ec.Closes) < b.period {
		return nil, nil
	}
	bands, err := indicator.BollingerBands(ec.Closes, b.period, b.multiplier)
	if err != nil {
		return nil, err
	}
	last := len(ec.Closes) - 1
	price := ec.Closes[last]
	below := price < bands.Lower[last]
	above := price > bands.Upper[last]

	defer func() {
		b.prevBelow = below
		b.prevAbove = above
		b.havePrev = true
	}()

	if !b.havePrev {
		return nil, nil
	}
	switch {
	case below && !b.prevBelow:
		return &Intent{
			Type:   domain.SignalBuy,
			Reason: fmt.Sprintf("close %.2f crossed below lower band %.2f", price, bands.Lower[last]),
		}, nil
	case above && !b.prevAbove:
		return &Intent{
			Type:   domain.SignalSell,
			Reason: fmt.Sprintf("close %.2f crossed above upper band %.2f", price, bands.Upper[last]),
		}, nil
	}
	return nil, nil
}
