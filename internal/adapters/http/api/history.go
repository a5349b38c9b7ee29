// Package api declares HTTP contracts and route registration helpers.
package api

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/dishlist/onebest/internal/domain/model"
)

// HistoryHandler serves the caller's rank ledger for one dish.
type HistoryHandler struct {
	deps Dependencies
}

// NewHistoryHandler creates a new history handler.
func NewHistoryHandler(deps Dependencies) *HistoryHandler {
	return &HistoryHandler{deps: deps}
}

// HandleGetHistory handles GET /rankings/{dish_id}/history requests.
func (h *HistoryHandler) HandleGetHistory(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.NotFound(w, r)
		return
	}
	userID, ok := identity(w, r)
	if !ok {
		return
	}

	rest := strings.TrimPrefix(r.URL.Path, "/rankings/")
	dishID, view, found := strings.Cut(rest, "/")
	if !found || view != "history" || strings.TrimSpace(dishID) == "" {
		writeError(w, http.StatusBadRequest, "bad_request", fmt.Errorf("%w: want /rankings/{dish_id}/history", ErrBadRequest))
		return
	}

	scope := scopeOf(r)
	entries, err := h.deps.History(r.Context(), userID, scope, dishID)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, historyResponse{DishID: dishID, Scope: scope, Entries: entries})
}

// historyResponse lists ledger entries newest first.
type historyResponse struct {
	DishID  string                   `json:"dish_id"`
	Scope   model.Scope              `json:"scope"`
	Entries []model.RankHistoryEntry `json:"entries"`
}
