package redis

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/ajcrowley/tradesim/internal/domain"
)

// QuoteCache implements domain.QuoteCache using Redis hashes. Each symbol's
// latest quote is stored at key "quote:{symbol}" with one field per Level1
// attribute and a Unix nanosecond "ts" field.
type QuoteCache struct {
	rdb *redis.Client
}

// NewQuoteCache creates a QuoteCache backed by the given Client.
func NewQuoteCache(c *Client) *QuoteCache {
	return &QuoteCache{rdb: c.Underlying()}
}

func quoteKey(symbol string) string {
	return "quote:" + symbol
}

func f64(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

// SetQuote stores the latest quote for a symbol.
func (qc *QuoteCache) SetQuote(ctx context.Context, quote domain.Level1Data) error {
	fields := map[string]interface{}{
		"last":     f64(quote.LastPrice),
		"bid":      f64(quote.Bid),
		"ask":      f64(quote.Ask),
		"bid_size": strconv.FormatInt(quote.BidSize, 10),
		"ask_size": strconv.FormatInt(quote.AskSize, 10),
		"high":     f64(quote.High),
		"low":      f64(quote.Low),
		"volume":   strconv.FormatInt(quote.Volume, 10),
		"ts":       strconv.FormatInt(quote.Timestamp.UnixNano(), 10),
	}
	if err := qc.rdb.HSet(ctx, quoteKey(quote.Symbol), fields).Err(); err != nil {
		return fmt.Errorf("redis: set quote %s: %w", quote.Symbol, err)
	}
	return nil
}

// GetQuote retrieves the latest quote for a symbol. It returns
// domain.ErrNotFound when the key does not exist.
func (qc *QuoteCache) GetQuote(ctx context.Context, symbol string) (domain.Level1Data, error) {
	vals, err := qc.rdb.HGetAll(ctx, quoteKey(symbol)).Result()
	if err != nil {
		return domain.Level1Data{}, fmt.Errorf("redis: get quote %s: %w", symbol, err)
	}
	if len(vals) == 0 {
		return domain.Level1Data{}, domain.ErrNotFound
	}

	quote := domain.Level1Data{Symbol: symbol}
	for field, dst := range map[string]*float64{
		"last": &quote.LastPrice,
		"bid":  &quote.Bid,
		"ask":  &quote.Ask,
		"high": &quote.High,
		"low":  &quote.Low,
	} {
		v, err := strconv.ParseFloat(vals[field], 64)
		if err != nil {
			return domain.Level1Data{}, fmt.Errorf("redis: parse %s for %s: %w", field, symbol, err)
		}
		*dst = v
	}
	for field, dst := range map[string]*int64{
		"bid_size": &quote.BidSize,
		"ask_size": &quote.AskSize,
		"volume":   &quote.Volume,
	} {
		v, err := strconv.ParseInt(vals[field], 10, 64)
		if err != nil {
			return domain.Level1Data{}, fmt.Errorf("redis: parse %s for %s: %w", field, symbol, err)
		}
		*dst = v
	}
	tsNano, err := strconv.ParseInt(vals["ts"], 10, 64)
	if err != nil {
		return domain.Level1Data{}, fmt.Errorf("redis: parse ts for %s: %w", symbol, err)
	}
	quote.Timestamp = time.Unix(0, tsNano)
	return quote, nil
}
