package ledger

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/odyssey-projects/internal/platform/httpx"
)

// Notifier is informed after a journal commits.
type Notifier interface {
	JournalPosted(ctx context.Context, journal Journal)
}

// Handler exposes ledger endpoints.
type Handler struct {
	logger    *slog.Logger
	engine    *Engine
	validator *validator.Validate
	notifier  Notifier
}

// NewHandler builds Handler instance.
func NewHandler(logger *slog.Logger, engine *Engine, notifier Notifier) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{logger: logger, engine: engine, validator: validator.New(), notifier: notifier}
}

// MountRoutes registers ledger routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Post("/journals", h.postJournal)
	r.Post("/journals/counter", h.postWithCounter)
	r.Get("/journals/{id}", h.getJournal)
	r.Post("/journals/{id}/reverse", h.reverseJournal)
	r.Get("/accounts/{code}/counter", h.suggestCounter)
}

type lineRequest struct {
	AccountCode string          `json:"account_code" validate:"required"`
	Direction   string          `json:"direction" validate:"required"`
	Amount      decimal.Decimal `json:"amount"`
	Notes       string          `json:"notes"`
}

type postJournalRequest struct {
	Date        string        `json:"date"`
	Description string        `json:"description" validate:"required,max=500"`
	Notes       string        `json:"notes"`
	ProjectID   *int64        `json:"project_id" validate:"omitempty,gt=0"`
	ActorID     *int64        `json:"actor_id"`
	Lines       []lineRequest `json:"lines" validate:"required,min=2,dive"`
}

type counterRequest struct {
	Date               string          `json:"date"`
	Description        string          `json:"description" validate:"required,max=500"`
	AccountCode        string          `json:"account_code" validate:"required"`
	Direction          string          `json:"direction" validate:"required"`
	Amount             decimal.Decimal `json:"amount"`
	ProjectID          *int64          `json:"project_id" validate:"omitempty,gt=0"`
	CounterAccountCode string          `json:"counter_account_code"`
	ActorID            *int64          `json:"actor_id"`
}

type reverseRequest struct {
	Date    string `json:"date"`
	Notes   string `json:"notes"`
	ActorID *int64 `json:"actor_id"`
}

// PostingResponse is the wire form of a posting.
type PostingResponse struct {
	ID          int64           `json:"id"`
	AccountCode string          `json:"account_code"`
	Direction   Direction       `json:"direction"`
	Label       Label           `json:"label,omitempty"`
	Amount      decimal.Decimal `json:"amount"`
	ProjectID   *int64          `json:"project_id,omitempty"`
	Notes       string          `json:"notes,omitempty"`
}

// JournalResponse is the wire form of a journal.
type JournalResponse struct {
	ID           uuid.UUID         `json:"id"`
	Date         string            `json:"date"`
	Description  string            `json:"description"`
	Kind         JournalKind       `json:"kind"`
	SourceType   SourceType        `json:"source_type"`
	SourceID     int64             `json:"source_id,omitempty"`
	ProjectID    *int64            `json:"project_id,omitempty"`
	IsReversal   bool              `json:"is_reversal"`
	ReversalOfID *uuid.UUID        `json:"reversal_of_id,omitempty"`
	Reversed     bool              `json:"reversed"`
	ReversedByID *uuid.UUID        `json:"reversed_by_id,omitempty"`
	Postings     []PostingResponse `json:"postings"`
}

// NewJournalResponse converts a journal to its wire form.
func NewJournalResponse(j Journal) JournalResponse {
	resp := JournalResponse{
		ID:           j.ID,
		Date:         j.Date.Format(time.DateOnly),
		Description:  j.Description,
		Kind:         j.Kind,
		SourceType:   j.Source.Type,
		SourceID:     j.Source.ID,
		ProjectID:    j.ProjectID,
		IsReversal:   j.IsReversal,
		ReversalOfID: j.ReversalOfID,
		Reversed:     j.Reversed,
		ReversedByID: j.ReversedByID,
		Postings:     make([]PostingResponse, 0, len(j.Postings)),
	}
	for _, p := range j.Postings {
		resp.Postings = append(resp.Postings, PostingResponse{
			ID:          p.ID,
			AccountCode: p.AccountCode,
			Direction:   p.Direction,
			Label:       p.Label,
			Amount:      p.Amount,
			ProjectID:   p.ProjectID,
			Notes:       p.Notes,
		})
	}
	return resp
}

func (h *Handler) postJournal(w http.ResponseWriter, r *http.Request) {
	var req postJournalRequest
	if err := httpx.Decode(r, h.validator, &req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	date, err := parseDate(req.Date)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	input := PostingInput{
		Date:        date,
		Description: req.Description,
		Notes:       req.Notes,
		ProjectID:   req.ProjectID,
		ActorID:     req.ActorID,
		Kind:        KindManual,
	}
	for _, line := range req.Lines {
		direction, label, err := ParseDirection(line.Direction)
		if err != nil {
			httpx.RespondError(w, httpx.Invalid(err))
			return
		}
		input.Lines = append(input.Lines, LineInput{
			AccountCode: line.AccountCode,
			Direction:   direction,
			Amount:      line.Amount,
			Label:       label,
			Notes:       line.Notes,
		})
	}
	journal, err := h.engine.PostJournal(r.Context(), input)
	if err != nil {
		h.fail(w, "post journal", err)
		return
	}
	h.notify(r.Context(), journal)
	httpx.JSON(w, http.StatusCreated, NewJournalResponse(journal))
}

func (h *Handler) postWithCounter(w http.ResponseWriter, r *http.Request) {
	var req counterRequest
	if err := httpx.Decode(r, h.validator, &req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	date, err := parseDate(req.Date)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	direction, label, err := ParseDirection(req.Direction)
	if err != nil {
		httpx.RespondError(w, httpx.Invalid(err))
		return
	}
	journal, err := h.engine.PostWithCounter(r.Context(), PrimaryInput{
		Date:               date,
		Description:        req.Description,
		AccountCode:        req.AccountCode,
		Direction:          direction,
		Amount:             req.Amount,
		Label:              label,
		ProjectID:          req.ProjectID,
		CounterAccountCode: req.CounterAccountCode,
		ActorID:            req.ActorID,
	})
	if err != nil {
		h.fail(w, "post with counter", err)
		return
	}
	h.notify(r.Context(), journal)
	httpx.JSON(w, http.StatusCreated, NewJournalResponse(journal))
}

func (h *Handler) getJournal(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		httpx.RespondError(w, httpx.Invalid(fmt.Errorf("invalid journal id: %w", err)))
		return
	}
	journal, err := h.engine.GetJournal(r.Context(), id)
	if err != nil {
		h.fail(w, "get journal", err)
		return
	}
	httpx.JSON(w, http.StatusOK, NewJournalResponse(journal))
}

func (h *Handler) reverseJournal(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		httpx.RespondError(w, httpx.Invalid(fmt.Errorf("invalid journal id: %w", err)))
		return
	}
	var req reverseRequest
	if r.ContentLength != 0 {
		if err := httpx.Decode(r, h.validator, &req); err != nil {
			httpx.RespondError(w, err)
			return
		}
	}
	opts := ReverseOptions{ActorID: req.ActorID, Notes: req.Notes}
	if req.Date != "" {
		date, err := parseDate(req.Date)
		if err != nil {
			httpx.RespondError(w, err)
			return
		}
		opts.Date = &date
	}
	reversal, err := h.engine.ReverseJournal(r.Context(), id, opts)
	if err != nil {
		h.fail(w, "reverse journal", err)
		return
	}
	h.notify(r.Context(), reversal)
	httpx.JSON(w, http.StatusOK, NewJournalResponse(reversal))
}

func (h *Handler) suggestCounter(w http.ResponseWriter, r *http.Request) {
	direction, _, err := ParseDirection(r.URL.Query().Get("direction"))
	if err != nil {
		httpx.RespondError(w, httpx.Invalid(err))
		return
	}
	code, err := h.engine.SuggestCounterAccount(r.Context(), chi.URLParam(r, "code"), direction)
	if err != nil {
		h.fail(w, "suggest counter", err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{
		"account_code":         chi.URLParam(r, "code"),
		"direction":            direction,
		"counter_account_code": code,
		"counter_direction":    direction.Opposite(),
	})
}

func (h *Handler) notify(ctx context.Context, j Journal) {
	if h.notifier != nil {
		h.notifier.JournalPosted(ctx, j)
	}
}

func (h *Handler) fail(w http.ResponseWriter, op string, err error) {
	mapped := HTTPError(err)
	if !errors.Is(mapped, httpx.ErrValidation) && !errors.Is(mapped, httpx.ErrNotFound) && !errors.Is(mapped, httpx.ErrDuplicate) {
		h.logger.Error(op+" failed", slog.Any("error", err))
	}
	httpx.RespondError(w, mapped)
}

// HTTPError tags ledger errors with their HTTP class.
func HTTPError(err error) error {
	switch {
	case errors.Is(err, ErrJournalNotFound), errors.Is(err, ErrAccountNotFound):
		return httpx.NotFound(err)
	case errors.Is(err, ErrDuplicateJournal), errors.Is(err, ErrAlreadyReversed):
		return httpx.Conflict(err)
	case IsClientError(err):
		return httpx.Invalid(err)
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
