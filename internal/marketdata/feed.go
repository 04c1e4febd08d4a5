// Package marketdata implements the simulated market data feed: a last-quote
// cache plus rolling candlestick series per symbol, advanced by a periodic
// tick that random-walks each subscribed symbol and fans the new quote out
// to subscribers.
package marketdata

import (
	"context"
	"log/slog"
	"math"
	"sort"
	"sync"
	"time"

	"github.com/ajcrowley/tradesim/internal/clock"
	"github.com/ajcrowley/tradesim/internal/domain"
	"github.com/ajcrowley/tradesim/internal/randx"
)

// Config holds feed tuning parameters.
type Config struct {
	// TickInterval is the cadence of the quote random walk.
	TickInterval time.Duration
	// MaxMovePct bounds a single tick's price move as a fraction of the
	// last price (0.002 = 0.2%).
	MaxMovePct float64
	// Periods are the candle periods maintained per symbol.
	Periods []time.Duration
	// HistoryBars is how many synthetic candles are seeded per period when
	// a symbol is added, so warm-up windows are available immediately.
	HistoryBars int
}

// DefaultConfig returns the feed defaults used by the standalone simulator.
func DefaultConfig() Config {
	return Config{
		TickInterval: 500 * time.Millisecond,
		MaxMovePct:   0.002,
		Periods:      []time.Duration{time.Minute},
		HistoryBars:  200,
	}
}

// Feed is the simulated domain.MarketData implementation.
type Feed struct {
	cfg    Config
	clock  clock.Clock
	rng    randx.Source
	cache  domain.QuoteCache // optional, best-effort publication
	logger *slog.Logger

	mu      sync.RWMutex
	quotes  map[string]domain.Level1Data
	candles map[string]map[time.Duration][]domain.Candlestick
	subs    map[string]map[int]domain.QuoteFunc
	nextSub int
}

// New creates a Feed. cache may be nil when no external quote publication is
// wired.
func New(cfg Config, clk clock.Clock, rng randx.Source, cache domain.QuoteCache, logger *slog.Logger) *Feed {
	if cfg.TickInterval <= 0 {
		cfg.TickInterval = 500 * time.Millisecond
	}
	if cfg.MaxMovePct <= 0 {
		cfg.MaxMovePct = 0.002
	}
	if len(cfg.Periods) == 0 {
		cfg.Periods = []time.Duration{time.Minute}
	}
	if cfg.HistoryBars <= 0 {
		cfg.HistoryBars = 200
	}
	return &Feed{
		cfg:     cfg,
		clock:   clk,
		rng:     rng,
		cache:   cache,
		logger:  logger.With(slog.String("component", "marketdata")),
		quotes:  make(map[string]domain.Level1Data),
		candles: make(map[string]map[time.Duration][]domain.Candlestick),
		subs:    make(map[string]map[int]domain.QuoteFunc),
	}
}

// AddSymbol registers a symbol at a starting price and seeds synthetic
// candle history for every configured period.
func (f *Feed) AddSymbol(symbol string, startPrice float64) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if _, ok := f.quotes[symbol]; ok {
		return
	}

	now := f.clock.Now()
	f.quotes[symbol] = f.makeQuote(symbol, startPrice, startPrice, startPrice, 0, now)

	byPeriod := make(map[time.Duration][]domain.Candlestick, len(f.cfg.Periods))
	for _, period := range f.cfg.Periods {
		byPeriod[period] = f.seedHistory(symbol, startPrice, period, now)
	}
	f.candles[symbol] = byPeriod

	f.logger.Info("symbol added",
		slog.String("symbol", symbol),
		slog.Float64("start_price", startPrice),
	)
}

// seedHistory walks a price path backwards from startPrice so the most
// recent seeded close equals the starting quote. Caller holds f.mu.
func (f *Feed) seedHistory(symbol string, startPrice float64, period time.Duration, now time.Time) []domain.Candlestick {
	n := f.cfg.HistoryBars
	closes := make([]float64, n)
	closes[n-1] = startPrice
	for i := n - 2; i >= 0; i-- {
		move := (f.rng.Float64()*2 - 1) * f.cfg.MaxMovePct
		closes[i] = closes[i+1] / (1 + move)
	}

	out := make([]domain.Candlestick, n)
	base := now.Truncate(period).Add(-time.Duration(n-1) * period)
	for i := 0; i < n; i++ {
		open := closes[i]
		if i > 0 {
			open = closes[i-1]
		}
		high := math.Max(open, closes[i])
		low := math.Min(open, closes[i])
		out[i] = domain.Candlestick{
			Symbol:    symbol,
			Period:    period,
			Timestamp: base.Add(time.Duration(i) * period),
			Open:      open,
			High:      high,
			Low:       low,
			Close:     closes[i],
			Volume:    int64(100 + f.rng.Intn(900)),
		}
	}
	return out
}

// GetQuote returns the latest Level1 snapshot for symbol.
func (f *Feed) GetQuote(symbol string) (domain.Level1Data, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	q, ok := f.quotes[symbol]
	if !ok {
		return domain.Level1Data{}, domain.ErrNoMarketData
	}
	return q, nil
}

// Subscribe registers fn for quote updates on symbol.
func (f *Feed) Subscribe(symbol string, fn domain.QuoteFunc) (unsubscribe func()) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.subs[symbol] == nil {
		f.subs[symbol] = make(map[int]domain.QuoteFunc)
	}
	id := f.nextSub
	f.nextSub++
	f.subs[symbol][id] = fn

	return func() {
		f.mu.Lock()
		defer f.mu.Unlock()
		delete(f.subs[symbol], id)
	}
}

// GetHistoricalCandles returns candles with timestamps in [start, end],
// ascending by time.
func (f *Feed) GetHistoricalCandles(symbol string, start, end time.Time, period time.Duration) ([]domain.Candlestick, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()

	series, ok := f.candles[symbol][period]
	if !ok {
		return nil, domain.ErrNoMarketData
	}
	lo := sort.Search(len(series), func(i int) bool { return !series[i].Timestamp.Before(start) })
	hi := sort.Search(len(series), func(i int) bool { return series[i].Timestamp.After(end) })
	out := make([]domain.Candlestick, hi-lo)
	copy(out, series[lo:hi])
	return out, nil
}

// GetLatestCandles returns up to count most recent candles ascending by time.
func (f *Feed) GetLatestCandles(symbol string, count int, period time.Duration) ([]domain.Candlestick, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()

	series, ok := f.candles[symbol][period]
	if !ok {
		return nil, domain.ErrNoMarketData
	}
	if count > len(series) {
		count = len(series)
	}
	out := make([]domain.Candlestick, count)
	copy(out, series[len(series)-count:])
	return out, nil
}

// Run drives the tick loop until the context is cancelled.
func (f *Feed) Run(ctx context.Context) error {
	f.logger.Info("feed started", slog.Duration("tick_interval", f.cfg.TickInterval))
	defer f.logger.Info("feed stopped")

	ticker := f.clock.NewTicker(f.cfg.TickInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C():
			f.Tick(ctx)
		}
	}
}

// Tick advances every subscribed symbol by one random-walk step and
// notifies subscribers. Exposed so tests can drive the feed without the
// loop.
func (f *Feed) Tick(ctx context.Context) {
	now := f.clock.Now()

	f.mu.Lock()
	type delivery struct {
		quote domain.Level1Data
		fns   []domain.QuoteFunc
	}
	deliveries := make([]delivery, 0, len(f.subs))
	for symbol, subs := range f.subs {
		if len(subs) == 0 {
			continue
		}
		prev, ok := f.quotes[symbol]
		if !ok {
			continue
		}

		move := (f.rng.Float64()*2 - 1) * f.cfg.MaxMovePct
		price := prev.LastPrice * (1 + move)
		volume := int64(1 + f.rng.Intn(500))
		quote := f.makeQuote(symbol, price, math.Max(prev.High, price), math.Min(prev.Low, price), prev.Volume+volume, now)
		f.quotes[symbol] = quote
		f.applyToCandles(symbol, price, volume, now)

		// Snapshot the callback list so Unsubscribe during delivery is
		// safe.
		fns := make([]domain.QuoteFunc, 0, len(subs))
		for _, fn := range subs {
			fns = append(fns, fn)
		}
		deliveries = append(deliveries, delivery{quote: quote, fns: fns})
	}
	f.mu.Unlock()

	for _, d := range deliveries {
		for _, fn := range d.fns {
			f.notify(fn, d.quote)
		}
		if f.cache != nil {
			if err := f.cache.SetQuote(ctx, d.quote); err != nil {
				f.logger.Warn("quote cache publish failed",
					slog.String("symbol", d.quote.Symbol),
					slog.String("error", err.Error()),
				)
			}
		}
	}
}

// notify isolates a single subscriber fault so one panicking callback never
// blocks delivery to the rest.
func (f *Feed) notify(fn domain.QuoteFunc, q domain.Level1Data) {
	defer func() {
		if r := recover(); r != nil {
			f.logger.Error("subscriber callback panicked",
				slog.String("symbol", q.Symbol),
				slog.Any("panic", r),
			)
		}
	}()
	fn(q)
}

// applyToCandles updates or rolls the current candle for every tracked
// period. Caller holds f.mu.
func (f *Feed) applyToCandles(symbol string, price float64, volume int64, now time.Time) {
	for period, series := range f.candles[symbol] {
		if len(series) == 0 {
			continue
		}
		last := &series[len(series)-1]
		if now.Before(last.Timestamp.Add(period)) {
			last.High = math.Max(last.High, price)
			last.Low = math.Min(last.Low, price)
			last.Close = price
			last.Volume += volume
			continue
		}
		// Roll over: the new candle opens at the previous close.
		next := domain.Candlestick{
			Symbol:    symbol,
			Period:    period,
			Timestamp: now.Truncate(period),
			Open:      last.Close,
			High:      math.Max(last.Close, price),
			Low:       math.Min(last.Close, price),
			Close:     price,
			Volume:    volume,
		}
		f.candles[symbol][period] = append(series, next)
	}
}

func (f *Feed) makeQuote(symbol string, price, high, low float64, volume int64, ts time.Time) domain.Level1Data {
	spread := price * 0.0005
	if spread <= 0 {
		spread = 0.01
	}
	return domain.Level1Data{
		Symbol:    symbol,
		LastPrice: price,
		Bid:       price - spread,
		Ask:       price + spread,
		BidSize:   int64(1 + f.rng.Intn(100)),
		AskSize:   int64(1 + f.rng.Intn(100)),
		High:      high,
		Low:       low,
		Volume:    volume,
		Timestamp: ts,
	}
}
