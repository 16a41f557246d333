package ledger

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/odyssey-erp/odyssey-projects/internal/platform/db"
)

// TxRepository exposes transactional operations.
type TxRepository interface {
	InsertJournal(ctx context.Context, journal Journal) (Journal, error)
	InsertPostings(ctx context.Context, postings []Posting) ([]Posting, error)
	GetJournal(ctx context.Context, id uuid.UUID) (Journal, error)
	LockJournal(ctx context.Context, id uuid.UUID) (Journal, error)
	MarkReversed(ctx context.Context, id, reversalID uuid.UUID) error
	ListJournalsBySource(ctx context.Context, source SourceRef) ([]Journal, error)
	AccountBalances(ctx context.Context, filter BalanceFilter) ([]AccountBalance, error)
	UnbalancedJournals(ctx context.Context) ([]IntegrityIssue, error)
}

const (
	constraintSourceKind = "uq_journals_source_kind"
	constraintReversalOf = "uq_journals_reversal_of"
)

// Repository persists journals and postings.
type Repository struct {
	pool db.Beginner
}

// NewRepository constructs Repository.
func NewRepository(pool db.Beginner) *Repository {
	return &Repository{pool: pool}
}

// WithTx executes fn within a serializable transaction.
func (r *Repository) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	if r == nil {
		return errors.New("ledger repository not initialised")
	}
	return db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		return fn(ctx, NewTxRepository(tx))
	})
}

type txRepository struct {
	q db.Querier
}

// NewTxRepository binds the ledger queries to q. Callers owning a pgx.Tx use
// it to post journals inside their own transaction.
func NewTxRepository(q db.Querier) TxRepository {
	return &txRepository{q: q}
}

const journalColumns = `id, date, description, source_type, source_id, kind, project_id, is_reversal, reversal_of_id, reversed, reversed_by_id, actor_id, created_at`

func scanJournal(row pgx.Row) (Journal, error) {
	var j Journal
	err := row.Scan(&j.ID, &j.Date, &j.Description, &j.Source.Type, &j.Source.ID, &j.Kind, &j.ProjectID,
		&j.IsReversal, &j.ReversalOfID, &j.Reversed, &j.ReversedByID, &j.ActorID, &j.CreatedAt)
	return j, err
}

func (r *txRepository) InsertJournal(ctx context.Context, journal Journal) (Journal, error) {
	_, err := r.q.Exec(ctx, `INSERT INTO journals (id, date, description, source_type, source_id, kind, project_id, is_reversal, reversal_of_id, actor_id, created_at)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)`,
		journal.ID, journal.Date, journal.Description, string(journal.Source.Type), journal.Source.ID, string(journal.Kind),
		journal.ProjectID, journal.IsReversal, journal.ReversalOfID, journal.ActorID, journal.CreatedAt)
	if err != nil {
		switch {
		case db.IsUniqueViolation(err, constraintSourceKind):
			return Journal{}, fmt.Errorf("%w: %s %s", ErrDuplicateJournal, journal.Source, journal.Kind)
		case db.IsUniqueViolation(err, constraintReversalOf):
			return Journal{}, ErrAlreadyReversed
		}
		return Journal{}, err
	}
	return journal, nil
}

func (r *txRepository) InsertPostings(ctx context.Context, postings []Posting) ([]Posting, error) {
	out := make([]Posting, 0, len(postings))
	for _, p := range postings {
		err := r.q.QueryRow(ctx, `INSERT INTO postings (journal_id, date, account_code, direction, label, amount, project_id, description, notes, created_at)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10) RETURNING id`,
			p.JournalID, p.Date, p.AccountCode, string(p.Direction), string(p.Label), p.Amount, p.ProjectID, p.Description, p.Notes, p.CreatedAt).
			Scan(&p.ID)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, nil
}

func (r *txRepository) GetJournal(ctx context.Context, id uuid.UUID) (Journal, error) {
	return r.loadJournal(ctx, `SELECT `+journalColumns+` FROM journals WHERE id = $1`, id)
}

func (r *txRepository) LockJournal(ctx context.Context, id uuid.UUID) (Journal, error) {
	return r.loadJournal(ctx, `SELECT `+journalColumns+` FROM journals WHERE id = $1 FOR UPDATE`, id)
}

func (r *txRepository) loadJournal(ctx context.Context, query string, id uuid.UUID) (Journal, error) {
	j, err := scanJournal(r.q.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Journal{}, fmt.Errorf("%w: %s", ErrJournalNotFound, id)
		}
		return Journal{}, err
	}
	postings, err := r.postingsFor(ctx, []uuid.UUID{j.ID})
	if err != nil {
		return Journal{}, err
	}
	j.Postings = postings[j.ID]
	return j, nil
}

func (r *txRepository) postingsFor(ctx context.Context, ids []uuid.UUID) (map[uuid.UUID][]Posting, error) {
	out := make(map[uuid.UUID][]Posting, len(ids))
	if len(ids) == 0 {
		return out, nil
	}
	rows, err := r.q.Query(ctx, `SELECT id, journal_id, date, account_code, direction, label, amount, project_id, description, notes, created_at
FROM postings WHERE journal_id = ANY($1) ORDER BY id ASC`, ids)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	for rows.Next() {
		var p Posting
		if err := rows.Scan(&p.ID, &p.JournalID, &p.Date, &p.AccountCode, &p.Direction, &p.Label, &p.Amount,
			&p.ProjectID, &p.Description, &p.Notes, &p.CreatedAt); err != nil {
			return nil, err
		}
		out[p.JournalID] = append(out[p.JournalID], p)
	}
	return out, rows.Err()
}

func (r *txRepository) MarkReversed(ctx context.Context, id, reversalID uuid.UUID) error {
	cmd, err := r.q.Exec(ctx, `UPDATE journals SET reversed = TRUE, reversed_by_id = $2 WHERE id = $1 AND reversed = FALSE`, id, reversalID)
	if err != nil {
		return err
	}
	if cmd.RowsAffected() == 0 {
		return fmt.Errorf("%w: %s", ErrAlreadyReversed, id)
	}
	return nil
}

func (r *txRepository) ListJournalsBySource(ctx context.Context, source SourceRef) ([]Journal, error) {
	rows, err := r.q.Query(ctx, `SELECT `+journalColumns+` FROM journals WHERE source_type = $1 AND source_id = $2 ORDER BY created_at ASC, id ASC`,
		string(source.Type), source.ID)
	if err != nil {
		return nil, err
	}
	var journals []Journal
	ids := make([]uuid.UUID, 0)
	for rows.Next() {
		j, err := scanJournal(rows)
		if err != nil {
			rows.Close()
			return nil, err
		}
		journals = append(journals, j)
		ids = append(ids, j.ID)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}
	postings, err := r.postingsFor(ctx, ids)
	if err != nil {
		return nil, err
	}
	for i := range journals {
		journals[i].Postings = postings[journals[i].ID]
	}
	return journals, nil
}

func (r *txRepository) AccountBalances(ctx context.Context, filter BalanceFilter) ([]AccountBalance, error) {
	var asOf *time.Time
	if !filter.AsOf.IsZero() {
		asOf = &filter.AsOf
	}
	codes := filter.Codes
	if codes == nil {
		codes = []string{}
	}
	rows, err := r.q.Query(ctx, `SELECT a.code, a.name, a.category, a.is_cash,
       COALESCE(SUM(p.amount) FILTER (WHERE p.direction = 'DEBIT'), 0) AS debit,
       COALESCE(SUM(p.amount) FILTER (WHERE p.direction = 'CREDIT'), 0) AS credit
FROM accounts a
LEFT JOIN postings p ON p.account_code = a.code
       AND ($1::date IS NULL OR p.date <= $1)
       AND ($2::bigint IS NULL OR p.project_id = $2)
WHERE COALESCE(cardinality($3::text[]), 0) = 0 OR a.code = ANY($3)
GROUP BY a.code, a.name, a.category, a.is_cash
ORDER BY a.code`, asOf, filter.ProjectID, codes)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var balances []AccountBalance
	for rows.Next() {
		var b AccountBalance
		if err := rows.Scan(&b.Account.Code, &b.Account.Name, &b.Account.Category, &b.Account.IsCash, &b.Debit, &b.Credit); err != nil {
			return nil, err
		}
		balances = append(balances, b)
	}
	return balances, rows.Err()
}

func (r *txRepository) UnbalancedJournals(ctx context.Context) ([]IntegrityIssue, error) {
	rows, err := r.q.Query(ctx, `SELECT j.id,
       COALESCE(SUM(p.amount) FILTER (WHERE p.direction = 'DEBIT'), 0) AS debit,
       COALESCE(SUM(p.amount) FILTER (WHERE p.direction = 'CREDIT'), 0) AS credit,
       COUNT(p.id) AS lines
FROM journals j
LEFT JOIN postings p ON p.journal_id = j.id
GROUP BY j.id, j.created_at
HAVING COUNT(p.id) < 2
    OR COALESCE(SUM(p.amount) FILTER (WHERE p.direction = 'DEBIT'), 0) <> COALESCE(SUM(p.amount) FILTER (WHERE p.direction = 'CREDIT'), 0)
ORDER BY j.created_at ASC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var issues []IntegrityIssue
	for rows.Next() {
		var issue IntegrityIssue
		var lines int64
		if err := rows.Scan(&issue.JournalID, &issue.Debit, &issue.Credit, &lines); err != nil {
			return nil, err
		}
		issue.Lines = int(lines)
		issues = append(issues, issue)
	}
	return issues, rows.Err()
}

// AccountStore reads the chart of accounts from postgres.
type AccountStore struct {
	q db.Querier
}

// NewAccountStore constructs an AccountStore.
func NewAccountStore(q db.Querier) *AccountStore {
	return &AccountStore{q: q}
}

// Account implements Catalog.
func (s *AccountStore) Account(ctx context.Context, code string) (Account, error) {
	var acc Account
	err := s.q.QueryRow(ctx, `SELECT code, name, category, is_cash FROM accounts WHERE code = $1`, code).
		Scan(&acc.Code, &acc.Name, &acc.Category, &acc.IsCash)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Account{}, &AccountNotFoundError{Code: code}
		}
		return Account{}, err
	}
	return acc, nil
}

// Upsert inserts or renames chart entries. Used by the seed script.
func (s *AccountStore) Upsert(ctx context.Context, accounts []Account) error {
	for _, acc := range accounts {
		if _, err := s.q.Exec(ctx, `INSERT INTO accounts (code, name, category, is_cash) VALUES ($1,$2,$3,$4)
ON CONFLICT (code) DO UPDATE SET name = EXCLUDED.name, category = EXCLUDED.category, is_cash = EXCLUDED.is_cash`,
			acc.Code, acc.Name, string(acc.Category), acc.IsCash); err != nil {
			return fmt.Errorf("upsert account %s: %w", acc.Code, err)
		}
	}
	return nil
}
