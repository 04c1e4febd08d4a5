package handler

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/ajcrowley/tradesim/internal/domain"
	"github.com/ajcrowley/tradesim/internal/engine"
	"github.com/ajcrowley/tradesim/internal/strategy"
)

// StrategyHandler serves strategy lifecycle management.
type StrategyHandler struct {
	engine *engine.Engine
	logs   domain.StrategyLogStore // nil when persistence is disabled
}

// NewStrategyHandler creates a StrategyHandler. logs may be nil.
func NewStrategyHandler(e *engine.Engine, logs domain.StrategyLogStore) *StrategyHandler {
	return &StrategyHandler{engine: e, logs: logs}
}

// ListStrategies returns the hosted strategy instances.
func (h *StrategyHandler) ListStrategies(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.engine.Strategies())
}

// addStrategyRequest is the body for creating a strategy instance.
type addStrategyRequest struct {
	Type             string            `json:"type"`
	Symbol           string            `json:"symbol"`
	Period           string            `json:"period"`   // Go duration, e.g. "1m"
	Interval         string            `json:"interval"` // Go duration, e.g. "1s"
	Quantity         int64             `json:"quantity"`
	MaxPositionValue float64           `json:"max_position_value"`
	AutoStart        bool              `json:"auto_start"`
	Parameters       map[string]string `json:"parameters"`
}

// AddStrategy creates a strategy instance by type tag. With auto_start the
// instance begins evaluating immediately; otherwise it stays initialized.
func (h *StrategyHandler) AddStrategy(w http.ResponseWriter, r *http.Request) {
	var req addStrategyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Symbol == "" {
		writeError(w, http.StatusBadRequest, "symbol is required")
		return
	}

	cfg := strategy.DefaultRunnerConfig(req.Symbol)
	if req.Period != "" {
		d, err := time.ParseDuration(req.Period)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid period")
			return
		}
		cfg.Period = d
	}
	if req.Interval != "" {
		d, err := time.ParseDuration(req.Interval)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid interval")
			return
		}
		cfg.Interval = d
	}
	if req.Quantity > 0 {
		cfg.Quantity = req.Quantity
	}
	if req.MaxPositionValue > 0 {
		cfg.MaxPositionValue = req.MaxPositionValue
	}

	var ps domain.Parameters
	for name, value := range req.Parameters {
		ps = append(ps, domain.Param(name, value))
	}

	id, err := h.engine.AddStrategy(r.Context(), req.Type, cfg, ps)
	if err != nil {
		writeError(w, statusFor(err), err.Error())
		return
	}
	if req.AutoStart {
		if err := h.engine.StartStrategy(r.Context(), id); err != nil {
			writeError(w, statusFor(err), err.Error())
			return
		}
	}
	writeJSON(w, http.StatusCreated, map[string]string{"id": id})
}

// StartStrategy launches an instance's evaluation loop.
func (h *StrategyHandler) StartStrategy(w http.ResponseWriter, r *http.Request) {
	if err := h.engine.StartStrategy(r.Context(), pathParam(r, "id")); err != nil {
		writeError(w, statusFor(err), err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "running"})
}

// StopStrategy halts an instance and cancels its open orders.
func (h *StrategyHandler) StopStrategy(w http.ResponseWriter, r *http.Request) {
	if err := h.engine.StopStrategy(r.Context(), pathParam(r, "id")); err != nil {
		writeError(w, statusFor(err), err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "stopped"})
}

// RemoveStrategy stops and discards an instance.
func (h *StrategyHandler) RemoveStrategy(w http.ResponseWriter, r *http.Request) {
	if err := h.engine.RemoveStrategy(r.Context(), pathParam(r, "id")); err != nil {
		writeError(w, statusFor(err), err.Error())
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// UpdateParameters re-applies parameters to a hosted instance.
func (h *StrategyHandler) UpdateParameters(w http.ResponseWriter, r *http.Request) {
	var params map[string]string
	if err := json.NewDecoder(r.Body).Decode(&params); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	var ps domain.Parameters
	for name, value := range params {
		ps = append(ps, domain.Param(name, value))
	}
	if err := h.engine.UpdateStrategyParameters(pathParam(r, "id"), ps); err != nil {
		writeError(w, statusFor(err), err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "updated"})
}

// GetLogs returns persisted execution logs for one instance, newest first.
func (h *StrategyHandler) GetLogs(w http.ResponseWriter, r *http.Request) {
	if h.logs == nil {
		writeError(w, http.StatusNotImplemented, "strategy logs require persistence")
		return
	}
	entries, err := h.logs.GetStrategyLogs(r.Context(), pathParam(r, "id"), parseListOpts(r))
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, entries)
}
