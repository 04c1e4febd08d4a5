package handler

import (
	"net/http"
	"strconv"
	"time"

	"github.com/ajcrowley/tradesim/internal/domain"
)

// MarketHandler serves quotes and candlesticks from the feed.
type MarketHandler struct {
	feed domain.MarketData
}

// NewMarketHandler creates a MarketHandler.
func NewMarketHandler(feed domain.MarketData) *MarketHandler {
	return &MarketHandler{feed: feed}
}

// GetQuote returns the latest Level1 snapshot for a symbol.
func (h *MarketHandler) GetQuote(w http.ResponseWriter, r *http.Request) {
	quote, err := h.feed.GetQuote(pathParam(r, "symbol"))
	if err != nil {
		writeError(w, statusFor(err), err.Error())
		return
	}
	writeJSON(w, http.StatusOK, quote)
}

// GetCandles returns recent candles for a symbol. Query parameters:
// period (Go duration, default 1m) and count (default 100, max 1000).
func (h *MarketHandler) GetCandles(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	period := time.Minute
	if v := q.Get("period"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil || d <= 0 {
			writeError(w, http.StatusBadRequest, "invalid period")
			return
		}
		period = d
	}
	count := 100
	if v := q.Get("count"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			count = n
		}
	}
	if count > 1000 {
		count = 1000
	}

	candles, err := h.feed.GetLatestCandles(pathParam(r, "symbol"), count, period)
	if err != nil {
		writeError(w, statusFor(err), err.Error())
		return
	}
	writeJSON(w, http.StatusOK, candles)
}
