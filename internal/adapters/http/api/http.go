// Package api declares HTTP contracts and route registration helpers.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/dishlist/onebest/internal/adapters/repository"
	"github.com/dishlist/onebest/internal/domain/model"
	"github.com/dishlist/onebest/internal/domain/ranking"
	"github.com/dishlist/onebest/internal/domain/shift"
)

// Dependencies required by HTTP handlers. Using an interface bundle keeps
// the handler layer loosely coupled to implementations in other packages.
type Dependencies interface {
	RankDish(ctx context.Context, userID string, scope model.Scope, dishID string, rank int, note string) ([]model.Ranking, error)
	RemoveDish(ctx context.Context, userID string, scope model.Scope, dishID string) ([]model.Ranking, error)
	Rankings(ctx context.Context, userID string, scope model.Scope) ([]model.Ranking, error)
	DishAggregate(ctx context.Context, dishID string, scope model.Scope) (model.DishAggregate, error)
	DishTrend(ctx context.Context, dishID string, scope model.Scope) (model.Trend, error)
	History(ctx context.Context, userID string, scope model.Scope, dishID string) ([]model.RankHistoryEntry, error)
}

// Server wires HTTP routes for the business API.
type Server struct {
	healthHandler  *HealthHandler
	statsHandler   *StatsHandler
	rankHandler    *RankHandler
	dishHandler    *DishHandler
	historyHandler *HistoryHandler
}

// NewServer creates a new API server with all handlers.
func NewServer(deps Dependencies, statsProvider StatsProvider) *Server {
	return &Server{
		healthHandler:  NewHealthHandler(),
		statsHandler:   NewStatsHandler(statsProvider),
		rankHandler:    NewRankHandler(deps),
		dishHandler:    NewDishHandler(deps),
		historyHandler: NewHistoryHandler(deps),
	}
}

// Register attaches all HTTP routes to mux.
func (s *Server) Register(ctx context.Context, mux *http.ServeMux) {
	mux.HandleFunc("/healthz", MetricsMiddleware(s.healthHandler.HandleHealth, "healthz"))
	mux.HandleFunc("/metrics", s.healthHandler.HandleMetrics)
	mux.HandleFunc("/stats", MetricsMiddleware(s.statsHandler.HandleStats, "stats"))
	mux.HandleFunc("/rank", MetricsMiddleware(s.rankHandler.HandleRank, "rank"))
	mux.HandleFunc("/rankings", MetricsMiddleware(s.rankHandler.HandleGetRankings, "rankings"))
	mux.HandleFunc("/rankings/", MetricsMiddleware(s.historyHandler.HandleGetHistory, "history"))
	mux.HandleFunc("/dish/", MetricsMiddleware(s.dishHandler.HandleGetDish, "dish"))
}

// rankRequest mirrors the request body for POST /rank.
type rankRequest struct {
	Scope  string `json:"scope,omitempty"`
	DishID string `json:"dish_id"`
	Rank   int    `json:"rank"`
	Note   string `json:"note,omitempty"`
}

func (r rankRequest) validate() error {
	switch {
	case strings.TrimSpace(r.DishID) == "":
		return errors.New("missing dish_id")
	case r.Rank < 1:
		return errors.New("rank must be a positive integer")
	}
	return nil
}

// rankingsResponse is the updated list returned after every mutation.
type rankingsResponse struct {
	Scope    model.Scope     `json:"scope"`
	Rankings []model.Ranking `json:"rankings"`
}

type errorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code string, err error) {
	msg := http.StatusText(status)
	if err != nil {
		msg = err.Error()
	}
	writeJSON(w, status, errorResponse{Code: code, Message: msg})
}

// writeDomainError translates domain sentinels into HTTP statuses. A rank
// outside [1, N+1] is a semantically invalid but well-formed request, hence
// 422 rather than 400.
func writeDomainError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, shift.ErrOutOfRange):
		writeError(w, http.StatusUnprocessableEntity, "rank_out_of_range", err)
	case errors.Is(err, shift.ErrNotRanked):
		writeError(w, http.StatusNotFound, "not_ranked", err)
	case errors.Is(err, repository.ErrNotFound):
		writeError(w, http.StatusNotFound, "not_found", err)
	case errors.Is(err, ranking.ErrInvalidScope):
		writeError(w, http.StatusBadRequest, "invalid_scope", err)
	case errors.Is(err, ranking.ErrConcurrentMutation):
		writeError(w, http.StatusConflict, "concurrent_mutation", err)
	default:
		writeError(w, http.StatusInternalServerError, "internal_error", err)
	}
}

// scopeOf reads the scope query parameter, defaulting to the global scope.
func scopeOf(r *http.Request) model.Scope {
	if s := r.URL.Query().Get("scope"); s != "" {
		return model.Scope(s)
	}
	return model.ScopeAll
}
