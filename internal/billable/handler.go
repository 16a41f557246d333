package billable

import (
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/odyssey-projects/internal/ledger"
	"github.com/odyssey-erp/odyssey-projects/internal/platform/httpx"
)

// Handler exposes status transition endpoints.
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

// MountRoutes registers billing and cost routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Route("/billings/{id}", func(r chi.Router) {
		r.Get("/", h.get(KindBilling))
		r.Post("/status", h.transition(KindBilling))
		r.Get("/history", h.history(KindBilling))
	})
	r.Route("/costs/{id}", func(r chi.Router) {
		r.Get("/", h.get(KindCost))
		r.Post("/status", h.transition(KindCost))
		r.Get("/history", h.history(KindCost))
	})
}

type transitionRequest struct {
	Status          string `json:"status" validate:"required"`
	ActorID         *int64 `json:"actor_id" validate:"omitempty,gt=0"`
	Notes           string `json:"notes" validate:"max=1000"`
	CashAccountCode string `json:"cash_account_code"`
}

type eventResponse struct {
	Kind        Kind            `json:"kind"`
	ID          int64           `json:"id"`
	ProjectID   int64           `json:"project_id"`
	Amount      decimal.Decimal `json:"amount"`
	Status      Status          `json:"status"`
	PostJournal bool            `json:"post_journal"`
	Category    string          `json:"category,omitempty"`
	Description string          `json:"description,omitempty"`
	UpdatedAt   time.Time       `json:"updated_at"`
}

type historyResponse struct {
	ID        int64     `json:"id"`
	OldStatus Status    `json:"old_status"`
	NewStatus Status    `json:"new_status"`
	ActorID   *int64    `json:"actor_id,omitempty"`
	Notes     string    `json:"notes,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

type transitionResponse struct {
	Event     eventResponse            `json:"event"`
	From      Status                   `json:"from"`
	Journals  []ledger.JournalResponse `json:"journals"`
	Reversals []ledger.JournalResponse `json:"reversals"`
	History   historyResponse          `json:"history"`
}

func toEventResponse(ev Event) eventResponse {
	return eventResponse{
		Kind:        ev.Kind,
		ID:          ev.ID,
		ProjectID:   ev.ProjectID,
		Amount:      ev.Amount,
		Status:      ev.Status,
		PostJournal: ev.PostJournal,
		Category:    ev.Category,
		Description: ev.Description,
		UpdatedAt:   ev.UpdatedAt,
	}
}

func toHistoryResponse(h HistoryRecord) historyResponse {
	return historyResponse{ID: h.ID, OldStatus: h.OldStatus, NewStatus: h.NewStatus, ActorID: h.ActorID, Notes: h.Notes, CreatedAt: h.CreatedAt}
}

func journalResponses(journals []ledger.Journal) []ledger.JournalResponse {
	out := make([]ledger.JournalResponse, 0, len(journals))
	for _, j := range journals {
		out = append(out, ledger.NewJournalResponse(j))
	}
	return out
}

func (h *Handler) get(kind Kind) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := httpx.PathInt64(r, "id")
		if err != nil {
			httpx.RespondError(w, err)
			return
		}
		ev, err := h.service.Get(r.Context(), kind, id)
		if err != nil {
			h.fail(w, "get event", err)
			return
		}
		journals, err := h.service.Journals(r.Context(), kind, id)
		if err != nil {
			h.fail(w, "list journals", err)
			return
		}
		httpx.JSON(w, http.StatusOK, map[string]any{
			"event":    toEventResponse(ev),
			"journals": journalResponses(journals),
		})
	}
}

func (h *Handler) transition(kind Kind) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := httpx.PathInt64(r, "id")
		if err != nil {
			httpx.RespondError(w, err)
			return
		}
		var req transitionRequest
		if err := httpx.Decode(r, h.validator, &req); err != nil {
			httpx.RespondError(w, err)
			return
		}
		status, err := ParseStatus(req.Status)
		if err != nil {
			httpx.RespondError(w, httpx.Invalid(err))
			return
		}
		result, err := h.service.Transition(r.Context(), TransitionInput{
			Kind:            kind,
			EventID:         id,
			NewStatus:       status,
			ActorID:         req.ActorID,
			Notes:           req.Notes,
			CashAccountCode: req.CashAccountCode,
		})
		if err != nil {
			h.fail(w, "transition", err)
			return
		}
		httpx.JSON(w, http.StatusOK, transitionResponse{
			Event:     toEventResponse(result.Event),
			From:      result.From,
			Journals:  journalResponses(result.Journals),
			Reversals: journalResponses(result.Reversals),
			History:   toHistoryResponse(result.History),
		})
	}
}

func (h *Handler) history(kind Kind) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := httpx.PathInt64(r, "id")
		if err != nil {
			httpx.RespondError(w, err)
			return
		}
		records, err := h.service.History(r.Context(), kind, id)
		if err != nil {
			h.fail(w, "history", err)
			return
		}
		out := make([]historyResponse, 0, len(records))
		for _, rec := range records {
			out = append(out, toHistoryResponse(rec))
		}
		httpx.JSON(w, http.StatusOK, out)
	}
}

func (h *Handler) fail(w http.ResponseWriter, op string, err error) {
	mapped := HTTPError(err)
	if mapped == err {
		h.logger.Error(op+" failed", slog.Any("error", err))
	}
	httpx.RespondError(w, mapped)
}

// HTTPError tags state machine errors with their HTTP class. Ledger failures
// during a transition stay server errors.
func HTTPError(err error) error {
	switch {
	case errors.Is(err, ErrInvalidTransition):
		return httpx.Invalid(err)
	case errors.Is(err, ErrEventNotFound):
		return httpx.NotFound(err)
	case errors.Is(err, ErrConcurrentTransition), errors.Is(err, ledger.ErrDuplicateJournal):
		return httpx.Conflict(err)
	}
	return err
}
