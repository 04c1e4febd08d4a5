// Package indicator implements the technical indicator math shared by every
// strategy. All functions are pure and deterministic: input and output are
// equal-length slices aligned by index, with documented warm-up fallbacks
// for the leading indices where history is insufficient.
package indicator

import (
	"math"

	"github.com/ajcrowley/tradesim/internal/domain"
)

// SMA returns the simple moving average. For index i < period-1 there is not
// enough history and the output falls back to the raw price at i.
func SMA(prices []float64, period int) ([]float64, error) {
	if period <= 0 {
		return nil, domain.ErrInvalidPeriod
	}
	out := make([]float64, len(prices))
	var sum float64
	for i, p := range prices {
		sum += p
		if i < period-1 {
			out[i] = p
			continue
		}
		if i >= period {
			sum -= prices[i-period]
		}
		out[i] = sum / float64(period)
	}
	return out, nil
}

// EMA returns the exponential moving average with smoothing factor
// k = 2/(period+1). The series is seeded with the simple average of the
// first min(period, len) prices; leading indices hold the progressive
// average up to that point.
func EMA(prices []float64, period int) ([]float64, error) {
	if period <= 0 {
		return nil, domain.ErrInvalidPeriod
	}
	out := make([]float64, len(prices))
	if len(prices) == 0 {
		return out, nil
	}

	seedLen := period
	if len(prices) < seedLen {
		seedLen = len(prices)
	}

	k := 2.0 / (float64(period) + 1.0)
	var sum float64
	for i := 0; i < seedLen; i++ {
		sum += prices[i]
		out[i] = sum / float64(i+1)
	}
	for i := seedLen; i < len(prices); i++ {
		out[i] = prices[i]*k + out[i-1]*(1.0-k)
	}
	return out, nil
}

// Bands holds the three Bollinger band series.
type Bands struct {
	Upper  []float64
	Middle []float64
	Lower  []float64
}

// BollingerBands computes middle = SMA(period) and upper/lower offset by
// multiplier times the population standard deviation of the trailing window.
// Upper and lower are zero before index period-1.
func BollingerBands(prices []float64, period int, multiplier float64) (Bands, error) {
	middle, err := SMA(prices, period)
	if err != nil {
		return Bands{}, err
	}

	b := Bands{
		Upper:  make([]float64, len(prices)),
		Middle: middle,
		Lower:  make([]float64, len(prices)),
	}
	for i := period - 1; i < len(prices); i++ {
		mean := middle[i]
		var variance float64
		for j := i - period + 1; j <= i; j++ {
			d := prices[j] - mean
			variance += d * d
		}
		sd := math.Sqrt(variance / float64(period))
		b.Upper[i] = mean + multiplier*sd
		b.Lower[i] = mean - multiplier*sd
	}
	return b, nil
}

// MACDResult holds the MACD line, its signal line, and the histogram.
type MACDResult struct {
	Line      []float64
	Signal    []float64
	Histogram []float64
}

// MACD computes EMA(fast) - EMA(slow), an EMA(signalPeriod) of that line,
// and their difference. fastPeriod must be strictly less than slowPeriod.
func MACD(prices []float64, fastPeriod, slowPeriod, signalPeriod int) (MACDResult, error) {
	if fastPeriod <= 0 || slowPeriod <= 0 || signalPeriod <= 0 {
		return MACDResult{}, domain.ErrInvalidPeriod
	}
	if fastPeriod >= slowPeriod {
		return MACDResult{}, domain.ErrInvalidPeriodOrdering
	}

	fast, err := EMA(prices, fastPeriod)
	if err != nil {
		return MACDResult{}, err
	}
	slow, err := EMA(prices, slowPeriod)
	if err != nil {
		return MACDResult{}, err
	}

	line := make([]float64, len(prices))
	for i := range prices {
		line[i] = fast[i] - slow[i]
	}
	signal, err := EMA(line, signalPeriod)
	if err != nil {
		return MACDResult{}, err
	}

	hist := make([]float64, len(prices))
	for i := range prices {
		hist[i] = line[i] - signal[i]
	}
	return MACDResult{Line: line, Signal: signal, Histogram: hist}, nil
}

// RSI computes Wilder's relative strength index. With fewer than period+1
// prices every output is the neutral 50. The first real value appears at
// index period, seeded from a simple average of the first period deltas;
// later values use Wilder's smoothing recurrence. A zero average loss maps
// to RS = 100.
func RSI(prices []float64, period int) ([]float64, error) {
	if period <= 0 {
		return nil, domain.ErrInvalidPeriod
	}

	out := make([]float64, len(prices))
	for i := range out {
		out[i] = 50
	}
	if len(prices) < period+1 {
		return out, nil
	}

	var avgGain, avgLoss float64
	for i := 1; i <= period; i++ {
		delta := prices[i] - prices[i-1]
		if delta > 0 {
			avgGain += delta
		} else {
			avgLoss -= delta
		}
	}
	avgGain /= float64(period)
	avgLoss /= float64(period)
	out[period] = rsiValue(avgGain, avgLoss)

	for i := period + 1; i < len(prices); i++ {
		delta := prices[i] - prices[i-1]
		var gain, loss float64
		if delta > 0 {
			gain = delta
		} else {
			loss = -delta
		}
		avgGain = (avgGain*float64(period-1) + gain) / float64(period)
		avgLoss = (avgLoss*float64(period-1) + loss) / float64(period)
		out[i] = rsiValue(avgGain, avgLoss)
	}
	return out, nil
}

func rsiValue(avgGain, avgLoss float64) float64 {
	rs := 100.0
	if avgLoss > 0 {
		rs = avgGain / avgLoss
	}
	return 100.0 - 100.0/(1.0+rs)
}
