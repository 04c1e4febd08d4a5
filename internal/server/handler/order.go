package handler

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/ajcrowley/tradesim/internal/domain"
)

// OrderHandler serves live orders, manual order entry, and order history.
type OrderHandler struct {
	broker domain.Broker
	store  domain.OrderStore // nil when persistence is disabled
}

// NewOrderHandler creates an OrderHandler. store may be nil.
func NewOrderHandler(broker domain.Broker, store domain.OrderStore) *OrderHandler {
	return &OrderHandler{broker: broker, store: store}
}

// ListOrders returns the broker's in-session orders, oldest first,
// optionally filtered by symbol, status, and strategy_id query parameters.
func (h *OrderHandler) ListOrders(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := domain.OrderFilter{
		Symbol:     q.Get("symbol"),
		Status:     domain.OrderStatus(q.Get("status")),
		StrategyID: q.Get("strategy_id"),
	}
	orders, err := h.broker.GetOrders(r.Context(), filter)
	if err != nil {
		writeError(w, statusFor(err), err.Error())
		return
	}
	writeJSON(w, http.StatusOK, orders)
}

// GetOrder returns one order by id.
func (h *OrderHandler) GetOrder(w http.ResponseWriter, r *http.Request) {
	order, err := h.broker.GetOrder(r.Context(), pathParam(r, "id"))
	if err != nil {
		writeError(w, statusFor(err), err.Error())
		return
	}
	writeJSON(w, http.StatusOK, order)
}

// placeOrderRequest is the manual order entry body.
type placeOrderRequest struct {
	Symbol     string  `json:"symbol"`
	Direction  string  `json:"direction"`
	Type       string  `json:"type"`
	LimitPrice float64 `json:"limit_price"`
	Quantity   int64   `json:"quantity"`
}

// PlaceOrder submits a manual order through the broker.
func (h *OrderHandler) PlaceOrder(w http.ResponseWriter, r *http.Request) {
	var req placeOrderRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	order, err := h.broker.PlaceOrder(r.Context(), domain.OrderRequest{
		Symbol:     req.Symbol,
		Direction:  domain.Direction(req.Direction),
		Type:       domain.OrderType(req.Type),
		LimitPrice: req.LimitPrice,
		Quantity:   req.Quantity,
	})
	if err != nil {
		writeError(w, statusFor(err), err.Error())
		return
	}
	writeJSON(w, http.StatusCreated, order)
}

// CancelOrder attempts to cancel an order. The response reports whether the
// cancel took effect; a refused cancel is not an error.
func (h *OrderHandler) CancelOrder(w http.ResponseWriter, r *http.Request) {
	ok, err := h.broker.CancelOrder(r.Context(), pathParam(r, "id"))
	if err != nil {
		writeError(w, statusFor(err), err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"canceled": ok})
}

// GetHistory returns persisted orders, newest first.
func (h *OrderHandler) GetHistory(w http.ResponseWriter, r *http.Request) {
	if h.store == nil {
		writeError(w, http.StatusNotImplemented, "order history requires persistence")
		return
	}
	orders, err := h.store.GetOrderHistory(r.Context(), r.URL.Query().Get("symbol"), parseListOpts(r))
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, orders)
}

// statusFor maps domain errors to HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, domain.ErrOrderNotFound), errors.Is(err, domain.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, domain.ErrInvalidOrder), errors.Is(err, domain.ErrNoMarketData),
		errors.Is(err, domain.ErrInvalidPeriod), errors.Is(err, domain.ErrInvalidPeriodOrdering),
		errors.Is(err, domain.ErrScriptCompile), errors.Is(err, domain.ErrUnsupportedStrategy):
		return http.StatusBadRequest
	case errors.Is(err, domain.ErrNotConnected):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
