package handler

import (
	"context"
	"log/slog"
	"net/http"
	"strings"

	"github.com/alanyoungcy/fantasymarket/internal/domain"
	"github.com/alanyoungcy/fantasymarket/internal/service"
)

// PickAPI is the pick drafting surface.
type PickAPI interface {
	CreatePick(ctx context.Context, req service.PickRequest) (domain.Pick, error)
	SwapPick(ctx context.Context, req service.SwapRequest) (domain.Pick, error)
}

// ScoreAPI is the score aggregation surface.
type ScoreAPI interface {
	ComputeAndStore(ctx context.Context, leagueID string) (service.ScoreRun, error)
	Leaderboard(ctx context.Context, leagueID string) ([]domain.Score, error)
	Snapshots(ctx context.Context, leagueID, userID string) ([]domain.ScoreSnapshot, error)
}

// Finalizer settles a league on-chain.
type Finalizer interface {
	Finalize(ctx context.Context, leagueID string) (service.FinalizeResult, error)
}

// SettlementReports reads archived finalize reports.
type SettlementReports interface {
	ListSettlements(ctx context.Context, leagueID string) ([]domain.BlobInfo, error)
	OpenSettlement(ctx context.Context, leagueID, path string) ([]byte, error)
}

// LeagueHandler serves the pick, score and settlement endpoints of a
// league.
type LeagueHandler struct {
	picks   PickAPI
	scores  ScoreAPI
	settle  Finalizer
	reports SettlementReports
	logger  *slog.Logger
}

// NewLeagueHandler creates a LeagueHandler. reports may be nil when object
// storage is not configured.
func NewLeagueHandler(picks PickAPI, scores ScoreAPI, settle Finalizer, reports SettlementReports, logger *slog.Logger) *LeagueHandler {
	return &LeagueHandler{
		picks:   picks,
		scores:  scores,
		settle:  settle,
		reports: reports,
		logger:  logHandler(logger, "league"),
	}
}

// CreatePick drafts a pick in the league's current period.
// POST /api/leagues/{id}/picks
func (h *LeagueHandler) CreatePick(w http.ResponseWriter, r *http.Request) {
	var req service.PickRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	req.LeagueID = r.PathValue("id")
	req.Side = domain.Side(strings.ToUpper(string(req.Side)))

	pick, err := h.picks.CreatePick(r.Context(), req)
	if err != nil {
		writeServiceError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusCreated, pick)
}

// SwapPick replaces a pick's market or side at a quoted price.
// POST /api/leagues/{id}/picks/{pickId}/swap
func (h *LeagueHandler) SwapPick(w http.ResponseWriter, r *http.Request) {
	var req service.SwapRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	req.LeagueID = r.PathValue("id")
	req.PickID = r.PathValue("pickId")
	req.NewSide = domain.Side(strings.ToUpper(string(req.NewSide)))

	pick, err := h.picks.SwapPick(r.Context(), req)
	if err != nil {
		writeServiceError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, pick)
}

// ComputeScores runs the aggregator for the league.
// POST /api/leagues/{id}/scores
func (h *LeagueHandler) ComputeScores(w http.ResponseWriter, r *http.Request) {
	run, err := h.scores.ComputeAndStore(r.Context(), r.PathValue("id"))
	if err != nil {
		writeServiceError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, run)
}

// ListScores returns the league's leaderboard.
// GET /api/leagues/{id}/scores
func (h *LeagueHandler) ListScores(w http.ResponseWriter, r *http.Request) {
	scores, err := h.scores.Leaderboard(r.Context(), r.PathValue("id"))
	if err != nil {
		writeServiceError(w, r, h.logger, err)
		return
	}
	if scores == nil {
		scores = []domain.Score{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"scores": scores})
}

// ListSnapshots returns one user's per-period history.
// GET /api/leagues/{id}/snapshots?user_id=
func (h *LeagueHandler) ListSnapshots(w http.ResponseWriter, r *http.Request) {
	userID := r.URL.Query().Get("user_id")
	if userID == "" {
		writeError(w, http.StatusBadRequest, "user_id query parameter required")
		return
	}
	snaps, err := h.scores.Snapshots(r.Context(), r.PathValue("id"), userID)
	if err != nil {
		writeServiceError(w, r, h.logger, err)
		return
	}
	if snaps == nil {
		snaps = []domain.ScoreSnapshot{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"snapshots": snaps})
}

// Finalize settles the league. The run is detached from request
// cancellation. 200 means every user settled, 502 means at least one
// failed; both carry the per-user results.
// POST /api/leagues/{id}/finalize
func (h *LeagueHandler) Finalize(w http.ResponseWriter, r *http.Request) {
	leagueID := r.PathValue("id")
	res, err := h.settle.Finalize(context.WithoutCancel(r.Context()), leagueID)
	if err != nil {
		writeServiceError(w, r, h.logger, err)
		return
	}
	if res.AnyFailed {
		h.logger.WarnContext(r.Context(), "handler: finalize finished with failures",
			slog.String("league_id", leagueID),
		)
		writeJSON(w, http.StatusBadGateway, res)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// ListSettlementReports lists archived finalize reports, newest first.
// GET /api/leagues/{id}/settlements
func (h *LeagueHandler) ListSettlementReports(w http.ResponseWriter, r *http.Request) {
	if h.reports == nil {
		writeError(w, http.StatusNotFound, "settlement archive not configured")
		return
	}
	infos, err := h.reports.ListSettlements(r.Context(), r.PathValue("id"))
	if err != nil {
		writeServiceError(w, r, h.logger, err)
		return
	}
	if infos == nil {
		infos = []domain.BlobInfo{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"reports": infos})
}

// GetSettlementReport returns one archived report verbatim.
// GET /api/leagues/{id}/settlements/report?path=
func (h *LeagueHandler) GetSettlementReport(w http.ResponseWriter, r *http.Request) {
	if h.reports == nil {
		writeError(w, http.StatusNotFound, "settlement archive not configured")
		return
	}
	p := r.URL.Query().Get("path")
	if p == "" {
		writeError(w, http.StatusBadRequest, "path query parameter required")
		return
	}
	data, err := h.reports.OpenSettlement(r.Context(), r.PathValue("id"), p)
	if err != nil {
		writeServiceError(w, r, h.logger, err)
		return
	}
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	w.Write(data)
}
