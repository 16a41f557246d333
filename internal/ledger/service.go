package ledger

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
)

// RepositoryPort abstracts transactional repository behaviour.
type RepositoryPort interface {
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
}

// Engine creates, reverses and pairs balanced journals. It holds no state
// besides its collaborators.
type Engine struct {
	repo     RepositoryPort
	catalog  Catalog
	accounts Accounts
	logger   *slog.Logger
	now      func() time.Time
}

// NewEngine constructs the ledger engine.
func NewEngine(repo RepositoryPort, catalog Catalog, accounts Accounts, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{repo: repo, catalog: catalog, accounts: accounts, logger: logger, now: time.Now}
}

// WithNow overrides the clock for testing.
func (e *Engine) WithNow(now func() time.Time) {
	if now != nil {
		e.now = now
	}
}

// Accounts exposes the configured role accounts.
func (e *Engine) Accounts() Accounts {
	return e.accounts
}

// Catalog exposes the account catalog.
func (e *Engine) Catalog() Catalog {
	return e.catalog
}

// PostJournal validates and persists a balanced journal in its own transaction.
func (e *Engine) PostJournal(ctx context.Context, input PostingInput) (Journal, error) {
	if err := input.Validate(); err != nil {
		return Journal{}, err
	}
	var journal Journal
	err := e.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		var err error
		journal, err = e.PostJournalTx(ctx, tx, input)
		return err
	})
	if err != nil {
		return Journal{}, err
	}
	e.logger.Info("journal posted",
		slog.String("journal_id", journal.ID.String()),
		slog.String("kind", string(journal.Kind)),
		slog.String("source", journal.Source.String()),
	)
	return journal, nil
}

// PostJournalTx persists a journal using a transaction owned by the caller.
// All postings land under one journal id or none do.
func (e *Engine) PostJournalTx(ctx context.Context, tx TxRepository, input PostingInput) (Journal, error) {
	if err := input.Validate(); err != nil {
		return Journal{}, err
	}
	for _, line := range input.Lines {
		if _, err := e.catalog.Account(ctx, line.AccountCode); err != nil {
			return Journal{}, err
		}
	}
	now := e.now()
	journal := Journal{
		ID:          input.JournalID,
		Date:        dateOrToday(input.Date, now),
		Description: input.Description,
		Source:      input.Source,
		Kind:        input.Kind,
		ProjectID:   input.ProjectID,
		ActorID:     input.ActorID,
		CreatedAt:   now,
	}
	if journal.ID == uuid.Nil {
		journal.ID = uuid.New()
	}
	if journal.Kind == "" {
		journal.Kind = KindManual
	}
	if journal.Source.IsZero() {
		journal.Source = SourceRef{Type: SourceManual}
	}
	inserted, err := tx.InsertJournal(ctx, journal)
	if err != nil {
		return Journal{}, err
	}
	postings := make([]Posting, 0, len(input.Lines))
	for _, line := range input.Lines {
		notes := line.Notes
		if notes == "" {
			notes = input.Notes
		}
		postings = append(postings, Posting{
			JournalID:   inserted.ID,
			Date:        inserted.Date,
			AccountCode: line.AccountCode,
			Direction:   line.Direction,
			Label:       line.Label,
			Amount:      line.Amount,
			ProjectID:   input.ProjectID,
			Description: input.Description,
			Notes:       notes,
			CreatedAt:   now,
		})
	}
	stored, err := tx.InsertPostings(ctx, postings)
	if err != nil {
		return Journal{}, err
	}
	inserted.Postings = stored
	return inserted, nil
}

// ReverseJournal mirrors every posting of a journal under a new reversal
// journal. Reversing an already reversed journal is a no-op that returns the
// existing reversal.
func (e *Engine) ReverseJournal(ctx context.Context, journalID uuid.UUID, opts ReverseOptions) (Journal, error) {
	var reversal Journal
	err := e.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		var err error
		reversal, err = e.ReverseJournalTx(ctx, tx, journalID, opts)
		var already *AlreadyReversedError
		if errors.As(err, &already) {
			reversal, err = tx.GetJournal(ctx, already.ReversalID)
		}
		return err
	})
	if err != nil {
		return Journal{}, err
	}
	e.logger.Info("journal reversed",
		slog.String("journal_id", journalID.String()),
		slog.String("reversal_id", reversal.ID.String()),
	)
	return reversal, nil
}

// ReverseJournalTx reverses a journal inside the caller's transaction. It
// returns AlreadyReversedError when the journal carries a reversal already.
func (e *Engine) ReverseJournalTx(ctx context.Context, tx TxRepository, journalID uuid.UUID, opts ReverseOptions) (Journal, error) {
	if journalID == uuid.Nil {
		return Journal{}, fmt.Errorf("%w: journal id required", ErrJournalNotFound)
	}
	original, err := tx.LockJournal(ctx, journalID)
	if err != nil {
		return Journal{}, err
	}
	if original.IsReversal {
		return Journal{}, ErrCannotReverseReversal
	}
	if original.Reversed {
		rid := uuid.Nil
		if original.ReversedByID != nil {
			rid = *original.ReversedByID
		}
		return Journal{}, &AlreadyReversedError{JournalID: original.ID, ReversalID: rid}
	}
	now := e.now()
	date := original.Date
	if opts.Date != nil {
		date = *opts.Date
	}
	originalID := original.ID
	reversal := Journal{
		ID:           uuid.New(),
		Date:         date,
		Description:  fmt.Sprintf("Reversal of %s", describe(original)),
		Source:       original.Source,
		Kind:         KindReversal,
		ProjectID:    original.ProjectID,
		IsReversal:   true,
		ReversalOfID: &originalID,
		ActorID:      opts.ActorID,
		CreatedAt:    now,
	}
	inserted, err := tx.InsertJournal(ctx, reversal)
	if err != nil {
		return Journal{}, err
	}
	postings := make([]Posting, 0, len(original.Postings))
	for _, p := range original.Postings {
		notes := opts.Notes
		if notes == "" {
			notes = p.Notes
		}
		postings = append(postings, Posting{
			JournalID:   inserted.ID,
			Date:        inserted.Date,
			AccountCode: p.AccountCode,
			Direction:   p.Direction.Opposite(),
			Label:       LabelReversal,
			Amount:      p.Amount,
			ProjectID:   p.ProjectID,
			Description: inserted.Description,
			Notes:       notes,
			CreatedAt:   now,
		})
	}
	stored, err := tx.InsertPostings(ctx, postings)
	if err != nil {
		return Journal{}, err
	}
	if err := tx.MarkReversed(ctx, original.ID, inserted.ID); err != nil {
		return Journal{}, err
	}
	inserted.Postings = stored
	return inserted, nil
}

func describe(j Journal) string {
	if j.Description != "" {
		return j.Description
	}
	return "journal " + j.ID.String()
}

// SuggestCounterAccount picks the offsetting account for a primary posting.
// Unknown accounts fall back to the configured cash account.
func (e *Engine) SuggestCounterAccount(ctx context.Context, code string, direction Direction) (string, error) {
	if !direction.Valid() {
		return "", fmt.Errorf("%w: %q", ErrInvalidDirection, direction)
	}
	acc, err := e.catalog.Account(ctx, code)
	if err != nil {
		if errors.Is(err, ErrAccountNotFound) {
			return e.accounts.Cash, nil
		}
		return "", err
	}
	if !acc.Category.Valid() {
		return e.accounts.Cash, nil
	}
	return e.accounts.CodeFor(CounterRoleFor(acc.Category, acc.IsCash, direction)), nil
}

// GenerateCounterPosting builds the posting that offsets primary on
// counterCode. The counter's side depends only on the primary account's
// category and the primary's direction.
func (e *Engine) GenerateCounterPosting(ctx context.Context, primary Posting, counterCode string) (Posting, error) {
	acc, err := e.catalog.Account(ctx, primary.AccountCode)
	if err != nil {
		return Posting{}, err
	}
	if _, err := e.catalog.Account(ctx, counterCode); err != nil {
		return Posting{}, err
	}
	return CounterPosting(primary, acc.Category, counterCode), nil
}

// CounterPosting is the pure form of GenerateCounterPosting.
func CounterPosting(primary Posting, category Category, counterCode string) Posting {
	return Posting{
		JournalID:   primary.JournalID,
		Date:        primary.Date,
		AccountCode: counterCode,
		Direction:   CounterDirection(category, primary.Direction),
		Label:       LabelCounter,
		Amount:      primary.Amount,
		ProjectID:   primary.ProjectID,
		Description: primary.Description,
		Notes:       primary.Notes,
		CreatedAt:   primary.CreatedAt,
	}
}

// PostWithCounter posts a two-line journal from one primary line, choosing the
// counter account when the caller did not.
func (e *Engine) PostWithCounter(ctx context.Context, in PrimaryInput) (Journal, error) {
	counter := in.CounterAccountCode
	if counter == "" {
		var err error
		counter, err = e.SuggestCounterAccount(ctx, in.AccountCode, in.Direction)
		if err != nil {
			return Journal{}, err
		}
	}
	primary := Posting{
		AccountCode: in.AccountCode,
		Direction:   in.Direction,
		Label:       in.Label,
		Amount:      in.Amount,
		ProjectID:   in.ProjectID,
		Description: in.Description,
	}
	counterPosting, err := e.GenerateCounterPosting(ctx, primary, counter)
	if err != nil {
		return Journal{}, err
	}
	return e.PostJournal(ctx, PostingInput{
		Date:        in.Date,
		Description: in.Description,
		ProjectID:   in.ProjectID,
		Kind:        KindManual,
		ActorID:     in.ActorID,
		Lines: []LineInput{
			{AccountCode: primary.AccountCode, Direction: primary.Direction, Amount: primary.Amount, Label: primary.Label},
			{AccountCode: counterPosting.AccountCode, Direction: counterPosting.Direction, Amount: counterPosting.Amount, Label: counterPosting.Label},
		},
	})
}

// GetJournal loads a journal with its postings.
func (e *Engine) GetJournal(ctx context.Context, id uuid.UUID) (Journal, error) {
	var journal Journal
	err := e.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		var err error
		journal, err = tx.GetJournal(ctx, id)
		return err
	})
	return journal, err
}

// JournalsForSource lists journals caused by the given source.
func (e *Engine) JournalsForSource(ctx context.Context, source SourceRef) ([]Journal, error) {
	var journals []Journal
	err := e.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		var err error
		journals, err = tx.ListJournalsBySource(ctx, source)
		return err
	})
	return journals, err
}

// AccountBalances aggregates postings per account.
func (e *Engine) AccountBalances(ctx context.Context, filter BalanceFilter) ([]AccountBalance, error) {
	var balances []AccountBalance
	err := e.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		var err error
		balances, err = tx.AccountBalances(ctx, filter)
		return err
	})
	return balances, err
}

// VerifyIntegrity lists journals that do not balance or carry fewer than two
// postings.
func (e *Engine) VerifyIntegrity(ctx context.Context) ([]IntegrityIssue, error) {
	var issues []IntegrityIssue
	err := e.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		var err error
		issues, err = tx.UnbalancedJournals(ctx)
		return err
	})
	return issues, err
}

func dateOrToday(date, now time.Time) time.Time {
	if date.IsZero() {
		date = now
	}
	return time.Date(date.Year(), date.Month(), date.Day(), 0, 0, 0, 0, time.UTC)
}
