package handler

import (
	"net/http"

	"github.com/ajcrowley/tradesim/internal/domain"
	"github.com/ajcrowley/tradesim/internal/engine"
)

// AccountHandler serves account state and history.
type AccountHandler struct {
	engine *engine.Engine
	store  domain.AccountStore // nil when persistence is disabled
}

// NewAccountHandler creates an AccountHandler. store may be nil.
func NewAccountHandler(e *engine.Engine, store domain.AccountStore) *AccountHandler {
	return &AccountHandler{engine: e, store: store}
}

// GetAccount returns the live account state from the broker.
func (h *AccountHandler) GetAccount(w http.ResponseWriter, r *http.Request) {
	account, err := h.engine.Account(r.Context())
	if err != nil {
		writeError(w, http.StatusServiceUnavailable, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, account)
}

// GetHistory returns persisted account snapshots, newest first.
func (h *AccountHandler) GetHistory(w http.ResponseWriter, r *http.Request) {
	if h.store == nil {
		writeError(w, http.StatusNotImplemented, "account history requires persistence")
		return
	}
	accountID := r.URL.Query().Get("account_id")
	snaps, err := h.store.GetAccountHistory(r.Context(), accountID, parseListOpts(r))
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, snaps)
}
