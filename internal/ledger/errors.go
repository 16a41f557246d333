package ledger

import (
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

var (
	// ErrUnbalanced indicates debit != credit or fewer than two lines.
	ErrUnbalanced = errors.New("ledger: journal lines must balance")
	// ErrAccountNotFound indicates an unknown account code.
	ErrAccountNotFound = errors.New("ledger: account not found")
	// ErrJournalNotFound indicates a missing journal.
	ErrJournalNotFound = errors.New("ledger: journal not found")
	// ErrAlreadyReversed indicates the journal already carries a reversal.
	ErrAlreadyReversed = errors.New("ledger: journal already reversed")
	// ErrCannotReverseReversal rejects reversing a reversal journal.
	ErrCannotReverseReversal = errors.New("ledger: reversal journals cannot be reversed")
	// ErrDuplicateJournal indicates a journal for the same source and kind exists.
	ErrDuplicateJournal = errors.New("ledger: journal already posted for source")
	// ErrAccountRequired indicates a line without account code.
	ErrAccountRequired = errors.New("ledger: account code required")
	// ErrInvalidDirection indicates a line with an unknown direction.
	ErrInvalidDirection = errors.New("ledger: invalid direction")
	// ErrInvalidAmount indicates a non-positive amount.
	ErrInvalidAmount = errors.New("ledger: amount must be positive")
)

// UnbalancedJournalError carries the offending totals.
type UnbalancedJournalError struct {
	Debit  decimal.Decimal
	Credit decimal.Decimal
	Lines  int
}

func (e *UnbalancedJournalError) Error() string {
	if e.Lines < 2 {
		return fmt.Sprintf("ledger: journal requires at least two lines, got %d", e.Lines)
	}
	return fmt.Sprintf("ledger: journal lines must balance: debit %s, credit %s", e.Debit.StringFixed(2), e.Credit.StringFixed(2))
}

func (e *UnbalancedJournalError) Unwrap() error {
	return ErrUnbalanced
}

// AccountNotFoundError names the missing account code.
type AccountNotFoundError struct {
	Code string
}

func (e *AccountNotFoundError) Error() string {
	return fmt.Sprintf("ledger: account %q not found", e.Code)
}

func (e *AccountNotFoundError) Unwrap() error {
	return ErrAccountNotFound
}

// AlreadyReversedError identifies the reversal that already exists.
type AlreadyReversedError struct {
	JournalID  uuid.UUID
	ReversalID uuid.UUID
}

func (e *AlreadyReversedError) Error() string {
	return fmt.Sprintf("ledger: journal %s already reversed by %s", e.JournalID, e.ReversalID)
}

func (e *AlreadyReversedError) Unwrap() error {
	return ErrAlreadyReversed
}

// IsClientError reports whether err was caused by invalid caller input.
func IsClientError(err error) bool {
	return errors.Is(err, ErrUnbalanced) ||
		errors.Is(err, ErrAccountRequired) ||
		errors.Is(err, ErrInvalidDirection) ||
		errors.Is(err, ErrInvalidAmount) ||
		errors.Is(err, ErrCannotReverseReversal)
}
