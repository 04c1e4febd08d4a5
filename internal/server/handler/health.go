package handler

import (
	"net/http"
	"time"
)

// HealthHandler serves liveness checks.
type HealthHandler struct {
	startedAt time.Time
	mode      string
}

// NewHealthHandler creates a HealthHandler.
func NewHealthHandler(mode string) *HealthHandler {
	return &HealthHandler{startedAt: time.Now().UTC(), mode: mode}
}

// HealthCheck reports process status and uptime.
func (h *HealthHandler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":         "ok",
		"mode":           h.mode,
		"uptime_seconds": int64(time.Since(h.startedAt).Seconds()),
	})
}
