// Package api declares HTTP contracts and route registration helpers.
package api

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/dishlist/onebest/internal/domain/model"
)

// DishHandler handles cross-user aggregate reads.
type DishHandler struct {
	deps Dependencies
}

// NewDishHandler creates a new dish handler.
func NewDishHandler(deps Dependencies) *DishHandler {
	return &DishHandler{deps: deps}
}

// HandleGetDish handles GET /dish/{dish_id}/aggregate and
// GET /dish/{dish_id}/trend requests.
func (h *DishHandler) HandleGetDish(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.NotFound(w, r)
		return
	}

	rest := strings.TrimPrefix(r.URL.Path, "/dish/")
	dishID, view, found := strings.Cut(rest, "/")
	if !found || strings.TrimSpace(dishID) == "" {
		writeError(w, http.StatusBadRequest, "bad_request", fmt.Errorf("%w: want /dish/{dish_id}/aggregate or /dish/{dish_id}/trend", ErrBadRequest))
		return
	}

	scope := scopeOf(r)
	switch view {
	case "aggregate":
		agg, err := h.deps.DishAggregate(r.Context(), dishID, scope)
		if err != nil {
			writeDomainError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, agg)
	case "trend":
		trend, err := h.deps.DishTrend(r.Context(), dishID, scope)
		if err != nil {
			writeDomainError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, trendResponse{DishID: dishID, Scope: scope, Trend: trend})
	default:
		http.NotFound(w, r)
	}
}

// trendResponse is the badge-only view of an aggregate.
type trendResponse struct {
	DishID string      `json:"dish_id"`
	Scope  model.Scope `json:"scope"`
	Trend  model.Trend `json:"trend"`
}
