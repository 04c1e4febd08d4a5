package strategy

import (
	"fmt"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"

	"github.com/ajcrowley/tradesim/internal/domain"
	"github.com/ajcrowley/tradesim/internal/indicator"
)

// scriptEnv is the expression environment. The script returns "buy",
// "sell", "flatten", or "" for no action.
type scriptEnv struct {
	Symbol   string    `expr:"symbol"`
	Closes   []float64 `expr:"closes"`
	Last     float64   `expr:"last"`
	Prev     float64   `expr:"prev"`
	Bid      float64   `expr:"bid"`
	Ask      float64   `expr:"ask"`
	Position int64     `expr:"position"`

	SMAFn func(period int) float64 `expr:"sma"`
	EMAFn func(period int) float64 `expr:"ema"`
	RSIFn func(period int) float64 `expr:"rsi"`
}

// Scripted evaluates a user-supplied expression each iteration. The script
// is compiled once when the parameters are applied; per-iteration runtime
// faults are reported so the runner logs and skips the iteration.
type Scripted struct {
	source  string
	program *vm.Program
	warmup  int
}

// NewScripted builds a scripted evaluator. Required parameter: script.
// Optional: warmup (candle count, default 50).
func NewScripted(ps domain.Parameters) (Evaluator, error) {
	s := &Scripted{warmup: minCandleWindow}
	if err := s.SetParams(ps); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Scripted) Name() string { return "scripted" }

func (s *Scripted) Warmup() int { return s.warmup }

func (s *Scripted) SetParams(ps domain.Parameters) error {
	source := ps.String("script", s.source)
	if source == "" {
		return fmt.Errorf("%w: script parameter is required", domain.ErrScriptCompile)
	}
	program, err := expr.Compile(source, expr.Env(scriptEnv{}))
	if err != nil {
		return fmt.Errorf("%w: %v", domain.ErrScriptCompile, err)
	}
	warmup := ps.Int("warmup", s.warmup)
	if warmup < 2 {
		warmup = 2
	}
	s.source = source
	s.program = program
	s.warmup = warmup
	return nil
}

func (s *Scripted) Evaluate(ec EvalContext) (*Intent, error) {
	if len(ec.Closes) < 2 || s.program == nil {
		return nil, nil
	}
	env := scriptEnv{
		Symbol:   ec.Symbol,
		Closes:   ec.Closes,
		Last:     ec.Closes[len(ec.Closes)-1],
		Prev:     ec.Closes[len(ec.Closes)-2],
		Bid:      ec.Quote.Bid,
		Ask:      ec.Quote.Ask,
		Position: ec.Position.Quantity,
		SMAFn:    lastOf(ec.Closes, indicator.SMA),
		EMAFn:    lastOf(ec.Closes, indicator.EMA),
		RSIFn:    lastOf(ec.Closes, indicator.RSI),
	}
	out, err := expr.Run(s.program, env)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrStrategyRuntime, err)
	}
	action, ok := out.(string)
	if !ok {
		if out == nil {
			return nil, nil
		}
		return nil, fmt.Errorf("%w: script returned %T, want string", domain.ErrStrategyRuntime, out)
	}
	switch domain.SignalType(action) {
	case domain.SignalBuy, domain.SignalSell, domain.SignalFlatten:
		return &Intent{
			Type:   domain.SignalType(action),
			Reason: fmt.Sprintf("script returned %q", action),
		}, nil
	case "":
		return nil, nil
	default:
		return nil, fmt.Errorf("%w: script returned unknown action %q", domain.ErrStrategyRuntime, action)
	}
}

// lastOf adapts a series indicator into a point helper returning its most
// recent value; indicator errors surface as NaN-free zeros so scripts stay
// total.
func lastOf(closes []float64, fn func([]float64, int) ([]float64, error)) func(int) float64 {
	return func(period int) float64 {
		series, err := fn(closes, period)
		if err != nil || len(series) == 0 {
			return 0
		}
		return series[len(series)-1]
	}
}
