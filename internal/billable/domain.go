// Package billable implements the status lifecycle of billings and project
// costs and the ledger postings each transition causes.
package billable

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/odyssey-projects/internal/ledger"
	"github.com/odyssey-erp/odyssey-projects/internal/projects"
)

// Kind discriminates billable events.
type Kind string

const (
	KindBilling Kind = "BILLING"
	KindCost    Kind = "COST"
)

// Valid reports whether k is a known kind.
func (k Kind) Valid() bool {
	return k == KindBilling || k == KindCost
}

// SourceType maps the kind to the journal source type.
func (k Kind) SourceType() ledger.SourceType {
	if k == KindCost {
		return ledger.SourceCost
	}
	return ledger.SourceBilling
}

func (k Kind) table() string {
	if k == KindCost {
		return "project_costs"
	}
	return "billings"
}

func (k Kind) title() string {
	if k == KindCost {
		return "Cost"
	}
	return "Billing"
}

// Status is the lifecycle state of a billable event.
type Status string

const (
	StatusPending  Status = projects.EventPending
	StatusUnpaid   Status = projects.EventUnpaid
	StatusPaid     Status = projects.EventPaid
	StatusRejected Status = projects.EventRejected
)

// ParseStatus normalises a raw status.
func ParseStatus(raw string) (Status, error) {
	s := Status(strings.ToLower(strings.TrimSpace(raw)))
	switch s {
	case StatusPending, StatusUnpaid, StatusPaid, StatusRejected:
		return s, nil
	}
	return "", fmt.Errorf("%w: unknown status %q", ErrInvalidTransition, raw)
}

// Terminal reports whether no transition leaves s.
func (s Status) Terminal() bool {
	return s == StatusPaid || s == StatusRejected
}

var transitions = map[Status][]Status{
	StatusPending: {StatusUnpaid, StatusRejected},
	StatusUnpaid:  {StatusPaid, StatusRejected},
}

// CanTransition reports whether from -> to is in the transition table.
func CanTransition(from, to Status) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// ValidateTransition returns InvalidTransitionError for illegal moves.
func ValidateTransition(kind Kind, eventID int64, from, to Status) error {
	if !CanTransition(from, to) {
		return &InvalidTransitionError{Kind: kind, EventID: eventID, From: from, To: to}
	}
	return nil
}

// Event is a billing or a project cost.
type Event struct {
	Kind        Kind
	ID          int64
	ProjectID   int64
	Amount      decimal.Decimal
	Status      Status
	PostJournal bool
	Category    string
	Description string
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// Source is the journal source reference of the event.
func (e Event) Source() ledger.SourceRef {
	return ledger.SourceRef{Type: e.Kind.SourceType(), ID: e.ID}
}

// HistoryRecord is one accepted transition.
type HistoryRecord struct {
	ID        int64
	Kind      Kind
	EventID   int64
	OldStatus Status
	NewStatus Status
	ActorID   *int64
	Notes     string
	CreatedAt time.Time
}

// TransitionInput requests a status change.
type TransitionInput struct {
	Kind      Kind
	EventID   int64
	NewStatus Status
	ActorID   *int64
	Notes     string
	// CashAccountCode overrides the default bank account on payment.
	CashAccountCode string
}

// TransitionResult is returned after a committed transition.
type TransitionResult struct {
	Event     Event
	From      Status
	Journals  []ledger.Journal
	Reversals []ledger.Journal
	History   HistoryRecord
}
