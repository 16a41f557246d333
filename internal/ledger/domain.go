package ledger

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Direction is the flow side of a posting.
type Direction string

const (
	Debit  Direction = "DEBIT"
	Credit Direction = "CREDIT"
)

// Valid reports whether d is one of the two ledger sides.
func (d Direction) Valid() bool {
	return d == Debit || d == Credit
}

// Opposite returns the other side of the ledger.
func (d Direction) Opposite() Direction {
	if d == Debit {
		return Credit
	}
	return Debit
}

// Label is an optional semantic tag carried next to the direction. It is
// informational only; nothing downstream branches on it.
type Label string

const (
	LabelNone       Label = ""
	LabelIncome     Label = "income"
	LabelExpense    Label = "expense"
	LabelReceivable Label = "receivable"
	LabelPayable    Label = "payable"
	LabelPayment    Label = "payment"
	LabelWIP        Label = "wip"
	LabelReversal   Label = "reversal"
	LabelCounter    Label = "counter"
)

// Category enumerates chart of accounts categories.
type Category string

const (
	CategoryAsset     Category = "ASSET"
	CategoryLiability Category = "LIABILITY"
	CategoryEquity    Category = "EQUITY"
	CategoryRevenue   Category = "REVENUE"
	CategoryExpense   Category = "EXPENSE"
)

// Valid reports whether c is a known category.
func (c Category) Valid() bool {
	switch c {
	case CategoryAsset, CategoryLiability, CategoryEquity, CategoryRevenue, CategoryExpense:
		return true
	}
	return false
}

// NormalDirection is the side that increases an account of this category.
func (c Category) NormalDirection() Direction {
	if c == CategoryAsset || c == CategoryExpense {
		return Debit
	}
	return Credit
}

// Account models a chart of accounts entry. Accounts are looked up, never
// mutated by the ledger.
type Account struct {
	Code     string
	Name     string
	Category Category
	IsCash   bool
}

// JournalKind identifies the business step that caused a journal.
type JournalKind string

const (
	KindRecognition   JournalKind = "RECOGNITION"
	KindPayment       JournalKind = "PAYMENT"
	KindReversal      JournalKind = "REVERSAL"
	KindWIPAdjustment JournalKind = "WIP_ADJUSTMENT"
	KindManual        JournalKind = "MANUAL"
)

// UniquePerSource reports whether at most one journal of this kind may exist
// for a given source.
func (k JournalKind) UniquePerSource() bool {
	return k == KindRecognition || k == KindPayment
}

// SourceType names the entity that caused a journal.
type SourceType string

const (
	SourceBilling SourceType = "billing"
	SourceCost    SourceType = "cost"
	SourceProject SourceType = "project"
	SourceManual  SourceType = "manual"
)

// SourceRef points at the causing event of a journal.
type SourceRef struct {
	Type SourceType
	ID   int64
}

// IsZero reports whether the reference is unset.
func (s SourceRef) IsZero() bool {
	return s.Type == "" && s.ID == 0
}

func (s SourceRef) String() string {
	return fmt.Sprintf("%s:%d", s.Type, s.ID)
}

// Posting is a single ledger line.
type Posting struct {
	ID          int64
	JournalID   uuid.UUID
	Date        time.Time
	AccountCode string
	Direction   Direction
	Label       Label
	Amount      decimal.Decimal
	ProjectID   *int64
	Description string
	Notes       string
	CreatedAt   time.Time
}

// Journal groups balanced postings caused by one event.
type Journal struct {
	ID           uuid.UUID
	Date         time.Time
	Description  string
	Source       SourceRef
	Kind         JournalKind
	ProjectID    *int64
	IsReversal   bool
	ReversalOfID *uuid.UUID
	ReversedByID *uuid.UUID
	Reversed     bool
	ActorID      *int64
	CreatedAt    time.Time
	Postings     []Posting
}

// Totals sums the debit and credit sides of the journal postings.
func (j Journal) Totals() (debit, credit decimal.Decimal) {
	return sumLines(j.Postings)
}

func sumLines(postings []Posting) (debit, credit decimal.Decimal) {
	debit, credit = decimal.Zero, decimal.Zero
	for _, p := range postings {
		if p.Direction == Debit {
			debit = debit.Add(p.Amount)
		} else {
			credit = credit.Add(p.Amount)
		}
	}
	return debit, credit
}

// LineInput describes one line of a journal posting request.
type LineInput struct {
	AccountCode string
	Direction   Direction
	Amount      decimal.Decimal
	Label       Label
	Notes       string
}

// PostingInput groups fields required to create a journal.
type PostingInput struct {
	JournalID   uuid.UUID
	Date        time.Time
	Description string
	Notes       string
	Lines       []LineInput
	ProjectID   *int64
	Source      SourceRef
	Kind        JournalKind
	ActorID     *int64
}

// Validate ensures posting input meets minimum criteria.
func (in PostingInput) Validate() error {
	if len(in.Lines) < 2 {
		debit, credit := in.totals()
		return &UnbalancedJournalError{Debit: debit, Credit: credit, Lines: len(in.Lines)}
	}
	for idx, line := range in.Lines {
		if strings.TrimSpace(line.AccountCode) == "" {
			return fmt.Errorf("%w: line %d", ErrAccountRequired, idx)
		}
		if !line.Direction.Valid() {
			return fmt.Errorf("%w: line %d has %q", ErrInvalidDirection, idx, line.Direction)
		}
		if !line.Amount.IsPositive() {
			return fmt.Errorf("%w: line %d amount %s", ErrInvalidAmount, idx, line.Amount)
		}
	}
	debit, credit := in.totals()
	if !debit.Equal(credit) {
		return &UnbalancedJournalError{Debit: debit, Credit: credit, Lines: len(in.Lines)}
	}
	if in.Kind != "" && !validKind(in.Kind) {
		return fmt.Errorf("ledger: unknown journal kind %q", in.Kind)
	}
	if in.Kind.UniquePerSource() && in.Source.IsZero() {
		return fmt.Errorf("ledger: %s journal requires a source", in.Kind)
	}
	return nil
}

func (in PostingInput) totals() (debit, credit decimal.Decimal) {
	debit, credit = decimal.Zero, decimal.Zero
	for _, line := range in.Lines {
		if line.Direction == Debit {
			debit = debit.Add(line.Amount)
		} else if line.Direction == Credit {
			credit = credit.Add(line.Amount)
		}
	}
	return debit, credit
}

func validKind(k JournalKind) bool {
	switch k {
	case KindRecognition, KindPayment, KindReversal, KindWIPAdjustment, KindManual:
		return true
	}
	return false
}

// ReverseOptions tunes a reversal.
type ReverseOptions struct {
	ActorID *int64
	Date    *time.Time
	Notes   string
}

// PrimaryInput describes a single primary line that the engine balances with
// a counter posting.
type PrimaryInput struct {
	Date        time.Time
	Description string
	AccountCode string
	Direction   Direction
	Amount      decimal.Decimal
	Label       Label
	ProjectID   *int64
	// CounterAccountCode overrides the suggested counter account when set.
	CounterAccountCode string
	ActorID            *int64
}

// AccountBalance aggregates postings for one account.
type AccountBalance struct {
	Account Account
	Debit   decimal.Decimal
	Credit  decimal.Decimal
}

// Balance is signed towards the account's normal side.
func (b AccountBalance) Balance() decimal.Decimal {
	if b.Account.Category.NormalDirection() == Debit {
		return b.Debit.Sub(b.Credit)
	}
	return b.Credit.Sub(b.Debit)
}

// BalanceFilter scopes balance queries. Zero values mean unbounded.
type BalanceFilter struct {
	AsOf      time.Time
	ProjectID *int64
	Codes     []string
}

// IntegrityIssue describes a journal that violates the double-entry rules.
type IntegrityIssue struct {
	JournalID uuid.UUID
	Debit     decimal.Decimal
	Credit    decimal.Decimal
	Lines     int
}
