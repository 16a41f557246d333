package reports

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/httprate"
	"golang.org/x/sync/errgroup"

	"github.com/odyssey-erp/odyssey-projects/internal/platform/httpx"
)

const requestTimeout = 5 * time.Second

// Handler serves report endpoints.
type Handler struct {
	logger  *slog.Logger
	service *Service
}

// NewHandler constructs the report handler.
func NewHandler(logger *slog.Logger, service *Service) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{logger: logger, service: service}
}

// MountRoutes registers report endpoints onto the router.
func (h *Handler) MountRoutes(r chi.Router) {
	if h == nil {
		return
	}
	limiter := httprate.Limit(30, time.Minute,
		httprate.WithKeyFuncs(httprate.KeyByIP),
		httprate.WithLimitHandler(func(w http.ResponseWriter, r *http.Request) {
			httpx.Problem(w, http.StatusTooManyRequests, "Too Many Requests", "report rate limit exceeded")
		}),
	)
	r.Route("/reports", func(r chi.Router) {
		r.Use(limiter)
		r.Get("/cashflow", h.cashflow)
		r.Get("/profitability", h.profitability)
		r.Get("/trial-balance", h.trialBalance)
		r.Get("/wip/aging", h.wipAging)
		r.Get("/wip/risk", h.wipRisk)
		r.Get("/summary", h.summary)
	})
}

func parseFilter(r *http.Request) (Filter, error) {
	q := r.URL.Query()
	var f Filter
	var err error
	if f.From, err = parseDate(q.Get("from")); err != nil {
		return Filter{}, err
	}
	if f.To, err = parseDate(q.Get("to")); err != nil {
		return Filter{}, err
	}
	if !f.From.IsZero() && !f.To.IsZero() && f.To.Before(f.From) {
		return Filter{}, httpx.Invalid(fmt.Errorf("to %s is before from %s", q.Get("to"), q.Get("from")))
	}
	if raw := q.Get("project_id"); raw != "" {
		id, err := strconv.ParseInt(raw, 10, 64)
		if err != nil || id <= 0 {
			return Filter{}, httpx.Invalid(fmt.Errorf("invalid project_id %q", raw))
		}
		f.ProjectID = &id
	}
	return f, nil
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

func (h *Handler) cashflow(w http.ResponseWriter, r *http.Request) {
	filter, err := parseFilter(r)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), requestTimeout)
	defer cancel()
	points, err := h.service.CashFlow(ctx, filter)
	if err != nil {
		h.serverError(w, "cashflow", err)
		return
	}
	httpx.JSON(w, http.StatusOK, points)
}

func (h *Handler) profitability(w http.ResponseWriter, r *http.Request) {
	filter, err := parseFilter(r)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), requestTimeout)
	defer cancel()
	rows, err := h.service.Profitability(ctx, filter)
	if err != nil {
		h.serverError(w, "profitability", err)
		return
	}
	httpx.JSON(w, http.StatusOK, rows)
}

func (h *Handler) trialBalance(w http.ResponseWriter, r *http.Request) {
	asOf, err := parseDate(r.URL.Query().Get("as_of"))
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), requestTimeout)
	defer cancel()
	tb, err := h.service.TrialBalance(ctx, asOf)
	if err != nil {
		h.serverError(w, "trial balance", err)
		return
	}
	httpx.JSON(w, http.StatusOK, tb)
}

func (h *Handler) wipAging(w http.ResponseWriter, r *http.Request) {
	buckets, err := h.service.WipAging(r.Context())
	if err != nil {
		h.serverError(w, "wip aging", err)
		return
	}
	httpx.JSON(w, http.StatusOK, buckets)
}

func (h *Handler) wipRisk(w http.ResponseWriter, r *http.Request) {
	buckets, err := h.service.WipRisk(r.Context())
	if err != nil {
		h.serverError(w, "wip risk", err)
		return
	}
	httpx.JSON(w, http.StatusOK, buckets)
}

type summaryResponse struct {
	Cashflow      []CashflowPoint `json:"cashflow"`
	Profitability []ProjectProfit `json:"profitability"`
	WipAging      []Bucket        `json:"wip_aging"`
	WipRisk       []Bucket        `json:"wip_risk"`
}

func (h *Handler) summary(w http.ResponseWriter, r *http.Request) {
	filter, err := parseFilter(r)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), requestTimeout)
	defer cancel()

	var resp summaryResponse
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		resp.Cashflow, err = h.service.CashFlow(gctx, filter)
		return err
	})
	g.Go(func() error {
		var err error
		resp.Profitability, err = h.service.Profitability(gctx, filter)
		return err
	})
	g.Go(func() error {
		var err error
		resp.WipAging, err = h.service.WipAging(gctx)
		return err
	})
	g.Go(func() error {
		var err error
		resp.WipRisk, err = h.service.WipRisk(gctx)
		return err
	})
	if err := g.Wait(); err != nil {
		h.serverError(w, "summary", err)
		return
	}
	httpx.JSON(w, http.StatusOK, resp)
}

func (h *Handler) serverError(w http.ResponseWriter, op string, err error) {
	h.logger.Error("report "+op+" failed", slog.Any("error", err))
	httpx.RespondError(w, err)
}
