// Package ledgertest provides an in-memory ledger store for tests.
package ledgertest

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/odyssey-projects/internal/ledger"
)

// Store keeps journals in memory. A transaction holds the store lock from
// Begin until Commit or Rollback, so transactions are fully serialised.
type Store struct {
	mu       sync.Mutex
	accounts []ledger.Account
	journals map[uuid.UUID]ledger.Journal
	order    []uuid.UUID
	nextID   int64

	// FailPostings makes InsertPostings fail when set.
	FailPostings error
}

// NewStore constructs a store whose balances cover the given accounts.
func NewStore(accounts ...ledger.Account) *Store {
	return &Store{accounts: accounts, journals: map[uuid.UUID]ledger.Journal{}}
}

// Tx is an open transaction over the store.
type Tx struct {
	store    *Store
	journals map[uuid.UUID]ledger.Journal
	order    []uuid.UUID
	nextID   int64
	done     bool
}

// Begin opens a transaction.
func (s *Store) Begin() *Tx {
	s.mu.Lock()
	return &Tx{store: s, journals: cloneJournals(s.journals), order: append([]uuid.UUID(nil), s.order...), nextID: s.nextID}
}

// Commit publishes the transaction's writes.
func (t *Tx) Commit() {
	if t.done {
		return
	}
	t.done = true
	t.store.journals = t.journals
	t.store.order = t.order
	t.store.nextID = t.nextID
	t.store.mu.Unlock()
}

// Rollback discards the transaction's writes.
func (t *Tx) Rollback() {
	if t.done {
		return
	}
	t.done = true
	t.store.mu.Unlock()
}

// WithTx implements ledger.RepositoryPort.
func (s *Store) WithTx(ctx context.Context, fn func(context.Context, ledger.TxRepository) error) error {
	tx := s.Begin()
	if err := fn(ctx, tx); err != nil {
		tx.Rollback()
		return err
	}
	tx.Commit()
	return nil
}

// Journals returns committed journals in insertion order.
func (s *Store) Journals() []ledger.Journal {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]ledger.Journal, 0, len(s.order))
	for _, id := range s.order {
		out = append(out, cloneJournal(s.journals[id]))
	}
	return out
}

// Balances returns committed balances for every known account.
func (s *Store) Balances() map[string]decimal.Decimal {
	s.mu.Lock()
	defer s.mu.Unlock()
	tx := &Tx{store: s, journals: s.journals, order: s.order}
	balances, _ := tx.AccountBalances(context.Background(), ledger.BalanceFilter{})
	out := make(map[string]decimal.Decimal, len(balances))
	for _, b := range balances {
		out[b.Account.Code] = b.Balance()
	}
	return out
}

func (t *Tx) InsertJournal(_ context.Context, journal ledger.Journal) (ledger.Journal, error) {
	if _, ok := t.journals[journal.ID]; ok {
		return ledger.Journal{}, fmt.Errorf("ledgertest: journal %s exists", journal.ID)
	}
	for _, existing := range t.journals {
		if journal.Kind.UniquePerSource() && existing.Kind == journal.Kind && existing.Source == journal.Source {
			return ledger.Journal{}, fmt.Errorf("%w: %s %s", ledger.ErrDuplicateJournal, journal.Source, journal.Kind)
		}
		if journal.ReversalOfID != nil && existing.ReversalOfID != nil && *existing.ReversalOfID == *journal.ReversalOfID {
			return ledger.Journal{}, ledger.ErrAlreadyReversed
		}
	}
	stored := journal
	stored.Postings = nil
	t.journals[journal.ID] = stored
	t.order = append(t.order, journal.ID)
	return stored, nil
}

func (t *Tx) InsertPostings(_ context.Context, postings []ledger.Posting) ([]ledger.Posting, error) {
	if err := t.store.FailPostings; err != nil {
		return nil, err
	}
	out := make([]ledger.Posting, 0, len(postings))
	for _, p := range postings {
		j, ok := t.journals[p.JournalID]
		if !ok {
			return nil, fmt.Errorf("%w: %s", ledger.ErrJournalNotFound, p.JournalID)
		}
		t.nextID++
		p.ID = t.nextID
		j.Postings = append(j.Postings, p)
		t.journals[p.JournalID] = j
		out = append(out, p)
	}
	return out, nil
}

func (t *Tx) GetJournal(_ context.Context, id uuid.UUID) (ledger.Journal, error) {
	j, ok := t.journals[id]
	if !ok {
		return ledger.Journal{}, fmt.Errorf("%w: %s", ledger.ErrJournalNotFound, id)
	}
	return cloneJournal(j), nil
}

func (t *Tx) LockJournal(ctx context.Context, id uuid.UUID) (ledger.Journal, error) {
	return t.GetJournal(ctx, id)
}

func (t *Tx) MarkReversed(_ context.Context, id, reversalID uuid.UUID) error {
	j, ok := t.journals[id]
	if !ok {
		return fmt.Errorf("%w: %s", ledger.ErrJournalNotFound, id)
	}
	if j.Reversed {
		return fmt.Errorf("%w: %s", ledger.ErrAlreadyReversed, id)
	}
	rid := reversalID
	j.Reversed = true
	j.ReversedByID = &rid
	t.journals[id] = j
	return nil
}

func (t *Tx) ListJournalsBySource(_ context.Context, source ledger.SourceRef) ([]ledger.Journal, error) {
	var out []ledger.Journal
	for _, id := range t.order {
		if j := t.journals[id]; j.Source == source {
			out = append(out, cloneJournal(j))
		}
	}
	return out, nil
}

func (t *Tx) AccountBalances(_ context.Context, filter ledger.BalanceFilter) ([]ledger.AccountBalance, error) {
	wanted := map[string]bool{}
	for _, code := range filter.Codes {
		wanted[code] = true
	}
	idx := map[string]*ledger.AccountBalance{}
	var out []ledger.AccountBalance
	for _, acc := range t.store.accounts {
		if len(wanted) > 0 && !wanted[acc.Code] {
			continue
		}
		out = append(out, ledger.AccountBalance{Account: acc, Debit: decimal.Zero, Credit: decimal.Zero})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Account.Code < out[j].Account.Code })
	for i := range out {
		idx[out[i].Account.Code] = &out[i]
	}
	for _, id := range t.order {
		for _, p := range t.journals[id].Postings {
			b, ok := idx[p.AccountCode]
			if !ok {
				continue
			}
			if !filter.AsOf.IsZero() && p.Date.After(filter.AsOf) {
				continue
			}
			if filter.ProjectID != nil && (p.ProjectID == nil || *p.ProjectID != *filter.ProjectID) {
				continue
			}
			if p.Direction == ledger.Debit {
				b.Debit = b.Debit.Add(p.Amount)
			} else {
				b.Credit = b.Credit.Add(p.Amount)
			}
		}
	}
	return out, nil
}

func (t *Tx) UnbalancedJournals(_ context.Context) ([]ledger.IntegrityIssue, error) {
	var issues []ledger.IntegrityIssue
	for _, id := range t.order {
		j := t.journals[id]
		debit, credit := j.Totals()
		if len(j.Postings) < 2 || !debit.Equal(credit) {
			issues = append(issues, ledger.IntegrityIssue{JournalID: id, Debit: debit, Credit: credit, Lines: len(j.Postings)})
		}
	}
	return issues, nil
}

// Corrupt appends a raw posting outside any balance check. Tests use it to
// exercise integrity scans.
func (s *Store) Corrupt(p ledger.Posting) {
	s.mu.Lock()
	defer s.mu.Unlock()
	j := s.journals[p.JournalID]
	s.nextID++
	p.ID = s.nextID
	j.Postings = append(j.Postings, p)
	s.journals[p.JournalID] = j
}

func cloneJournals(in map[uuid.UUID]ledger.Journal) map[uuid.UUID]ledger.Journal {
	out := make(map[uuid.UUID]ledger.Journal, len(in))
	for id, j := range in {
		out[id] = cloneJournal(j)
	}
	return out
}

func cloneJournal(j ledger.Journal) ledger.Journal {
	j.Postings = append([]ledger.Posting(nil), j.Postings...)
	return j
}
