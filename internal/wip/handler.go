package wip

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/odyssey-projects/internal/ledger"
	"github.com/odyssey-erp/odyssey-projects/internal/platform/httpx"
	"github.com/odyssey-erp/odyssey-projects/internal/projects"
)

// Handler exposes WIP endpoints.
type Handler struct {
	logger    *slog.Logger
	service   *Service
	validator *validator.Validate
}

// NewHandler builds Handler instance.
func NewHandler(logger *slog.Logger, service *Service) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{logger: logger, service: service, validator: validator.New()}
}

// MountRoutes registers WIP routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Route("/projects/{id}/wip", func(r chi.Router) {
		r.Get("/", h.compute)
		r.Post("/", h.recalculate)
		r.Post("/adjustments", h.adjust)
		r.Get("/trend", h.trend)
	})
}

type recalcRequest struct {
	AsOf           string           `json:"as_of"`
	ReportedCosts  *decimal.Decimal `json:"reported_costs"`
	ReportedBilled *decimal.Decimal `json:"reported_billed"`
	Notes          string           `json:"notes" validate:"max=1000"`
	ActorID        *int64           `json:"actor_id" validate:"omitempty,gt=0"`
}

type adjustRequest struct {
	Amount decimal.Decimal `json:"amount"`
	Notes  string          `json:"notes" validate:"max=1000"`
}

// ComputationResponse is the wire form of a valuation.
type ComputationResponse struct {
	ProjectID     int64           `json:"project_id"`
	AsOf          string          `json:"as_of"`
	TotalCosts    decimal.Decimal `json:"total_costs"`
	TotalBilled   decimal.Decimal `json:"total_billed"`
	CompletionPct decimal.Decimal `json:"completion_pct"`
	EarnedValue   decimal.Decimal `json:"earned_value"`
	WipValue      decimal.Decimal `json:"wip_value"`
	RiskScore     int             `json:"risk_score"`
	AgeDays       int             `json:"age_days"`
}

// SnapshotResponse is the wire form of a stored snapshot.
type SnapshotResponse struct {
	ID                  int64           `json:"id"`
	ProjectID           int64           `json:"project_id"`
	Date                string          `json:"date"`
	TotalCost           decimal.Decimal `json:"total_cost"`
	TotalBilled         decimal.Decimal `json:"total_billed"`
	CompletionPct       decimal.Decimal `json:"completion_pct"`
	EarnedValue         decimal.Decimal `json:"earned_value"`
	WipValue            decimal.Decimal `json:"wip_value"`
	RiskScore           int             `json:"risk_score"`
	AgeDays             int             `json:"age_days"`
	AdjustmentJournalID *uuid.UUID      `json:"adjustment_journal_id,omitempty"`
}

// NewSnapshotResponse converts a snapshot to its wire form.
func NewSnapshotResponse(s Snapshot) SnapshotResponse {
	return SnapshotResponse{
		ID:                  s.ID,
		ProjectID:           s.ProjectID,
		Date:                s.Date.Format(time.DateOnly),
		TotalCost:           s.TotalCost,
		TotalBilled:         s.TotalBilled,
		CompletionPct:       s.CompletionPct,
		EarnedValue:         s.EarnedValue,
		WipValue:            s.WipValue,
		RiskScore:           s.RiskScore,
		AgeDays:             s.AgeDays,
		AdjustmentJournalID: s.AdjustmentJournalID,
	}
}

// TrendPointResponse is the wire form of a trend point.
type TrendPointResponse struct {
	Date          string          `json:"date"`
	CompletionPct decimal.Decimal `json:"completion_pct"`
	EarnedValue   decimal.Decimal `json:"earned_value"`
	TotalBilled   decimal.Decimal `json:"total_billed"`
	WipValue      decimal.Decimal `json:"wip_value"`
	RiskScore     int             `json:"risk_score"`
}

// NewTrendResponse converts trend points to their wire form.
func NewTrendResponse(points []TrendPoint) []TrendPointResponse {
	out := make([]TrendPointResponse, 0, len(points))
	for _, p := range points {
		out = append(out, TrendPointResponse{
			Date:          p.Date.Format(time.DateOnly),
			CompletionPct: p.CompletionPct,
			EarnedValue:   p.EarnedValue,
			TotalBilled:   p.TotalBilled,
			WipValue:      p.WipValue,
			RiskScore:     p.RiskScore,
		})
	}
	return out
}

func (h *Handler) compute(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.PathInt64(r, "id")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	asOf, err := parseDate(r.URL.Query().Get("as_of"))
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	c, err := h.service.Compute(r.Context(), id, asOf)
	if err != nil {
		h.fail(w, "compute wip", err)
		return
	}
	httpx.JSON(w, http.StatusOK, ComputationResponse{
		ProjectID:     c.ProjectID,
		AsOf:          c.AsOf.Format(time.DateOnly),
		TotalCosts:    c.TotalCosts,
		TotalBilled:   c.TotalBilled,
		CompletionPct: c.CompletionPct,
		EarnedValue:   c.EarnedValue,
		WipValue:      c.WipValue,
		RiskScore:     c.RiskScore,
		AgeDays:       c.AgeDays,
	})
}

func (h *Handler) recalculate(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.PathInt64(r, "id")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	var req recalcRequest
	if r.ContentLength != 0 {
		if err := httpx.Decode(r, h.validator, &req); err != nil {
			httpx.RespondError(w, err)
			return
		}
	}
	asOf, err := parseDate(req.AsOf)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	result, err := h.service.Recalculate(r.Context(), id, RecalcOptions{
		AsOf:           asOf,
		ReportedCosts:  req.ReportedCosts,
		ReportedBilled: req.ReportedBilled,
		Notes:          req.Notes,
		ActorID:        req.ActorID,
	})
	if err != nil {
		h.fail(w, "recalculate wip", err)
		return
	}
	resp := map[string]any{
		"snapshot": NewSnapshotResponse(result.Snapshot),
		"delta":    result.Delta,
	}
	if result.Previous != nil {
		resp["previous"] = NewSnapshotResponse(*result.Previous)
	}
	if result.Adjustment != nil {
		resp["adjustment"] = ledger.NewJournalResponse(*result.Adjustment)
	}
	httpx.JSON(w, http.StatusCreated, resp)
}

func (h *Handler) adjust(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.PathInt64(r, "id")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	var req adjustRequest
	if err := httpx.Decode(r, h.validator, &req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	journal, err := h.service.PostWipAdjustment(r.Context(), id, req.Amount, req.Notes)
	if err != nil {
		h.fail(w, "post wip adjustment", err)
		return
	}
	if journal == nil {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	httpx.JSON(w, http.StatusCreated, ledger.NewJournalResponse(*journal))
}

func (h *Handler) trend(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.PathInt64(r, "id")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	from, err := parseDate(r.URL.Query().Get("from"))
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	to, err := parseDate(r.URL.Query().Get("to"))
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	points, err := h.service.Trend(r.Context(), id, from, to)
	if err != nil {
		h.fail(w, "wip trend", err)
		return
	}
	httpx.JSON(w, http.StatusOK, NewTrendResponse(points))
}

func (h *Handler) fail(w http.ResponseWriter, op string, err error) {
	mapped := HTTPError(err)
	if mapped == err {
		h.logger.Error(op+" failed", slog.Any("error", err))
	}
	httpx.RespondError(w, mapped)
}

// HTTPError tags valuation errors with their HTTP class.
func HTTPError(err error) error {
	switch {
	case errors.Is(err, projects.ErrProjectNotFound):
		return httpx.NotFound(err)
	case errors.Is(err, ErrAmountMismatch):
		return httpx.Invalid(err)
	case errors.Is(err, ErrConcurrentUpdate):
		return httpx.Conflict(err)
	}
	return err
}

func parseDate(raw string) (time.Time, error) {
	if raw == "" {
		return time.Time{}, nil
	}
	date, err := time.Parse(time.DateOnly, raw)
	if err != nil {
		return time.Time{}, httpx.Invalid(fmt.Errorf("invalid date %q", raw))
	}
	return date, nil
}
