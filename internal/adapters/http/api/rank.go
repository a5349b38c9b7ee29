// Package api declares HTTP contracts and route registration helpers.
package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/dishlist/onebest/internal/domain/model"
)

// removeRequest is the body of a DELETE /rank request.
type removeRequest struct {
	Scope  string `json:"scope,omitempty"`
	DishID string `json:"dish_id"`
}

// RankHandler handles rank mutations and list reads.
type RankHandler struct {
	deps Dependencies
}

// NewRankHandler creates a new rank handler.
func NewRankHandler(deps Dependencies) *RankHandler {
	return &RankHandler{deps: deps}
}

// HandleRank handles POST and DELETE /rank requests.
func (h *RankHandler) HandleRank(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
		h.handleUpsert(w, r)
	case http.MethodDelete:
		h.handleRemove(w, r)
	default:
		http.NotFound(w, r)
	}
}

func (h *RankHandler) handleUpsert(w http.ResponseWriter, r *http.Request) {
	userID, ok := identity(w, r)
	if !ok {
		return
	}

	var req rankRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", fmt.Errorf("%w: %v", ErrBadRequest, err))
		return
	}
	if err := req.validate(); err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", fmt.Errorf("%w: %v", ErrBadRequest, err))
		return
	}

	scope := model.ScopeAll
	if req.Scope != "" {
		scope = model.Scope(req.Scope)
	}

	rankings, err := h.deps.RankDish(r.Context(), userID, scope, req.DishID, req.Rank, req.Note)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, rankingsResponse{Scope: scope, Rankings: rankings})
}

func (h *RankHandler) handleRemove(w http.ResponseWriter, r *http.Request) {
	userID, ok := identity(w, r)
	if !ok {
		return
	}

	// The dish to remove arrives in the JSON body; query parameters stay
	// accepted for clients that send a bodyless DELETE.
	var req removeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		writeError(w, http.StatusBadRequest, "bad_request", fmt.Errorf("%w: %v", ErrBadRequest, err))
		return
	}

	dishID := strings.TrimSpace(req.DishID)
	if dishID == "" {
		dishID = strings.TrimSpace(r.URL.Query().Get("dish_id"))
	}
	if dishID == "" {
		writeError(w, http.StatusBadRequest, "bad_request", fmt.Errorf("%w: missing dish_id", ErrBadRequest))
		return
	}

	scope := scopeOf(r)
	if req.Scope != "" {
		scope = model.Scope(req.Scope)
	}

	rankings, err := h.deps.RemoveDish(r.Context(), userID, scope, dishID)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, rankingsResponse{Scope: scope, Rankings: rankings})
}

// HandleGetRankings handles GET /rankings?scope=S requests.
func (h *RankHandler) HandleGetRankings(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.NotFound(w, r)
		return
	}
	userID, ok := identity(w, r)
	if !ok {
		return
	}

	scope := scopeOf(r)
	rankings, err := h.deps.Rankings(r.Context(), userID, scope)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, rankingsResponse{Scope: scope, Rankings: rankings})
}
