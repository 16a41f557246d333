package billable

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/odyssey-erp/odyssey-projects/internal/ledger"
	"github.com/odyssey-erp/odyssey-projects/internal/platform/db"
)

// Notifier receives committed transitions.
type Notifier interface {
	Transitioned(ctx context.Context, result TransitionResult)
}

// Service drives billable events through their lifecycle.
type Service struct {
	repo     RepositoryPort
	ledger   *ledger.Engine
	notifier Notifier
	logger   *slog.Logger
	now      func() time.Time
}

// NewService constructs the state machine service.
func NewService(repo RepositoryPort, engine *ledger.Engine, notifier Notifier, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{repo: repo, ledger: engine, notifier: notifier, logger: logger, now: time.Now}
}

// WithNow overrides the clock for testing.
func (s *Service) WithNow(now func() time.Time) {
	if now != nil {
		s.now = now
	}
}

// Transition validates and applies a status change. Ledger postings, the
// status update and the history row commit together or not at all.
func (s *Service) Transition(ctx context.Context, in TransitionInput) (TransitionResult, error) {
	if !in.Kind.Valid() {
		return TransitionResult{}, fmt.Errorf("%w: unknown kind %q", ErrInvalidTransition, in.Kind)
	}
	var result TransitionResult
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		result = TransitionResult{}
		ev, err := tx.LockEvent(ctx, in.Kind, in.EventID)
		if err != nil {
			return err
		}
		if err := ValidateTransition(in.Kind, ev.ID, ev.Status, in.NewStatus); err != nil {
			return err
		}
		now := s.now()
		if ev.PostJournal {
			if err := s.applyLedger(ctx, tx.Ledger(), ev, in, now, &result); err != nil {
				return fmt.Errorf("%s #%d %s->%s ledger: %w", in.Kind.title(), ev.ID, ev.Status, in.NewStatus, err)
			}
		}
		if err := tx.UpdateStatus(ctx, in.Kind, ev.ID, in.NewStatus, now); err != nil {
			return err
		}
		history, err := tx.InsertHistory(ctx, HistoryRecord{
			Kind:      in.Kind,
			EventID:   ev.ID,
			OldStatus: ev.Status,
			NewStatus: in.NewStatus,
			ActorID:   in.ActorID,
			Notes:     in.Notes,
			CreatedAt: now,
		})
		if err != nil {
			return err
		}
		result.From = ev.Status
		ev.Status = in.NewStatus
		ev.UpdatedAt = now
		result.Event = ev
		result.History = history
		return nil
	})
	if err != nil {
		if db.IsSerializationFailure(err) {
			return TransitionResult{}, fmt.Errorf("%w: %w", ErrConcurrentTransition, err)
		}
		return TransitionResult{}, err
	}
	s.logger.Info("billable transition",
		slog.String("kind", string(in.Kind)),
		slog.Int64("event_id", in.EventID),
		slog.String("from", string(result.From)),
		slog.String("to", string(in.NewStatus)),
		slog.Int("journals", len(result.Journals)),
		slog.Int("reversals", len(result.Reversals)),
	)
	if s.notifier != nil {
		s.notifier.Transitioned(ctx, result)
	}
	return result, nil
}

func (s *Service) applyLedger(ctx context.Context, tx ledger.TxRepository, ev Event, in TransitionInput, now time.Time, result *TransitionResult) error {
	existing, err := tx.ListJournalsBySource(ctx, ev.Source())
	if err != nil {
		return err
	}
	switch in.NewStatus {
	case StatusUnpaid:
		if hasLive(existing, ledger.KindRecognition) {
			return nil
		}
		journal, err := s.ledger.PostJournalTx(ctx, tx, s.recognition(ev, in, now))
		if err != nil {
			return err
		}
		result.Journals = append(result.Journals, journal)
	case StatusPaid:
		if hasKind(existing, ledger.KindPayment) {
			return nil
		}
		journal, err := s.ledger.PostJournalTx(ctx, tx, s.payment(ev, in, now))
		if err != nil {
			return err
		}
		result.Journals = append(result.Journals, journal)
	case StatusRejected:
		for _, j := range existing {
			if j.IsReversal || j.Reversed {
				continue
			}
			reversal, err := s.ledger.ReverseJournalTx(ctx, tx, j.ID, ledger.ReverseOptions{ActorID: in.ActorID, Notes: in.Notes})
			if err != nil {
				var already *ledger.AlreadyReversedError
				if errors.As(err, &already) {
					continue
				}
				return err
			}
			result.Reversals = append(result.Reversals, reversal)
		}
	}
	return nil
}

func hasLive(journals []ledger.Journal, kind ledger.JournalKind) bool {
	for _, j := range journals {
		if j.Kind == kind && !j.Reversed && !j.IsReversal {
			return true
		}
	}
	return false
}

func hasKind(journals []ledger.Journal, kind ledger.JournalKind) bool {
	for _, j := range journals {
		if j.Kind == kind {
			return true
		}
	}
	return false
}

func (s *Service) recognition(ev Event, in TransitionInput, now time.Time) ledger.PostingInput {
	accounts := s.ledger.Accounts()
	input := s.baseInput(ev, in, now, ledger.KindRecognition)
	if ev.Kind == KindCost {
		input.Lines = []ledger.LineInput{
			{AccountCode: accounts.ExpenseFor(ev.Category), Direction: ledger.Debit, Amount: ev.Amount, Label: ledger.LabelExpense},
			{AccountCode: accounts.Payable, Direction: ledger.Credit, Amount: ev.Amount, Label: ledger.LabelPayable},
		}
		return input
	}
	input.Lines = []ledger.LineInput{
		{AccountCode: accounts.Receivable, Direction: ledger.Debit, Amount: ev.Amount, Label: ledger.LabelReceivable},
		{AccountCode: accounts.Revenue, Direction: ledger.Credit, Amount: ev.Amount, Label: ledger.LabelIncome},
	}
	return input
}

func (s *Service) payment(ev Event, in TransitionInput, now time.Time) ledger.PostingInput {
	accounts := s.ledger.Accounts()
	cash := accounts.PaymentAccount(in.CashAccountCode)
	input := s.baseInput(ev, in, now, ledger.KindPayment)
	if ev.Kind == KindCost {
		input.Lines = []ledger.LineInput{
			{AccountCode: accounts.Payable, Direction: ledger.Debit, Amount: ev.Amount, Label: ledger.LabelPayable},
			{AccountCode: cash, Direction: ledger.Credit, Amount: ev.Amount, Label: ledger.LabelPayment},
		}
		return input
	}
	input.Lines = []ledger.LineInput{
		{AccountCode: cash, Direction: ledger.Debit, Amount: ev.Amount, Label: ledger.LabelPayment},
		{AccountCode: accounts.Receivable, Direction: ledger.Credit, Amount: ev.Amount, Label: ledger.LabelReceivable},
	}
	return input
}

func (s *Service) baseInput(ev Event, in TransitionInput, now time.Time, kind ledger.JournalKind) ledger.PostingInput {
	project := ev.ProjectID
	description := fmt.Sprintf("%s #%d -> %s", ev.Kind.title(), ev.ID, in.NewStatus)
	if ev.Description != "" {
		description += ": " + ev.Description
	}
	return ledger.PostingInput{
		Date:        now,
		Description: description,
		Notes:       in.Notes,
		ProjectID:   &project,
		Source:      ev.Source(),
		Kind:        kind,
		ActorID:     in.ActorID,
	}
}

// Get loads a billable event.
func (s *Service) Get(ctx context.Context, kind Kind, id int64) (Event, error) {
	var ev Event
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		var err error
		ev, err = tx.GetEvent(ctx, kind, id)
		return err
	})
	return ev, err
}

// History returns the accepted transitions of an event, oldest first.
func (s *Service) History(ctx context.Context, kind Kind, id int64) ([]HistoryRecord, error) {
	var records []HistoryRecord
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		if _, err := tx.GetEvent(ctx, kind, id); err != nil {
			return err
		}
		var err error
		records, err = tx.ListHistory(ctx, kind, id)
		return err
	})
	return records, err
}

// Journals lists every journal caused by an event.
func (s *Service) Journals(ctx context.Context, kind Kind, id int64) ([]ledger.Journal, error) {
	return s.ledger.JournalsForSource(ctx, ledger.SourceRef{Type: kind.SourceType(), ID: id})
}
