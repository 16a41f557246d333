package wip

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/odyssey-erp/odyssey-projects/internal/ledger"
	"github.com/odyssey-erp/odyssey-projects/internal/platform/db"
	"github.com/odyssey-erp/odyssey-projects/internal/projects"
)

// TxRepository exposes transactional operations.
type TxRepository interface {
	GetProject(ctx context.Context, id int64) (projects.Project, error)
	LockProject(ctx context.Context, id int64) (projects.Project, error)
	ListCosts(ctx context.Context, projectID int64) ([]projects.Cost, error)
	ListBillings(ctx context.Context, projectID int64) ([]projects.Billing, error)
	ActiveProjectIDs(ctx context.Context) ([]int64, error)
	// LatestSnapshot returns nil when the project has none.
	LatestSnapshot(ctx context.Context, projectID int64) (*Snapshot, error)
	// LatestAdjustedSnapshot returns the newest snapshot that posted an
	// adjustment journal, or nil.
	LatestAdjustedSnapshot(ctx context.Context, projectID int64) (*Snapshot, error)
	InsertSnapshot(ctx context.Context, snapshot Snapshot) (Snapshot, error)
	LatestSnapshots(ctx context.Context) ([]Snapshot, error)
	Snapshots(ctx context.Context, projectID int64, from, to time.Time) ([]Snapshot, error)
	Ledger() ledger.TxRepository
}

// RepositoryPort abstracts transactional repository behaviour.
type RepositoryPort interface {
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
}

// Repository persists WIP snapshots.
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
		return errors.New("wip repository not initialised")
	}
	return db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		return fn(ctx, newTxRepository(tx))
	})
}

type txRepository struct {
	*projects.Store
	q      db.Querier
	ledger ledger.TxRepository
}

func newTxRepository(q db.Querier) *txRepository {
	return &txRepository{Store: projects.NewStore(q), q: q, ledger: ledger.NewTxRepository(q)}
}

func (r *txRepository) Ledger() ledger.TxRepository {
	return r.ledger
}

const snapshotColumns = `id, project_id, snapshot_date, total_cost, total_billed, completion_pct, earned_value, wip_value, risk_score, age_days, adjustment_journal_id, created_at`

func scanSnapshot(row pgx.Row) (Snapshot, error) {
	var s Snapshot
	err := row.Scan(&s.ID, &s.ProjectID, &s.Date, &s.TotalCost, &s.TotalBilled, &s.CompletionPct,
		&s.EarnedValue, &s.WipValue, &s.RiskScore, &s.AgeDays, &s.AdjustmentJournalID, &s.CreatedAt)
	return s, err
}

func collectSnapshots(rows pgx.Rows) ([]Snapshot, error) {
	defer rows.Close()
	var out []Snapshot
	for rows.Next() {
		s, err := scanSnapshot(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

func (r *txRepository) LatestSnapshot(ctx context.Context, projectID int64) (*Snapshot, error) {
	return r.optionalSnapshot(ctx, `SELECT `+snapshotColumns+` FROM wip_snapshots
WHERE project_id = $1 ORDER BY snapshot_date DESC, id DESC LIMIT 1`, projectID)
}

func (r *txRepository) LatestAdjustedSnapshot(ctx context.Context, projectID int64) (*Snapshot, error) {
	return r.optionalSnapshot(ctx, `SELECT `+snapshotColumns+` FROM wip_snapshots
WHERE project_id = $1 AND adjustment_journal_id IS NOT NULL ORDER BY snapshot_date DESC, id DESC LIMIT 1`, projectID)
}

func (r *txRepository) optionalSnapshot(ctx context.Context, query string, projectID int64) (*Snapshot, error) {
	s, err := scanSnapshot(r.q.QueryRow(ctx, query, projectID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return &s, nil
}

func (r *txRepository) InsertSnapshot(ctx context.Context, s Snapshot) (Snapshot, error) {
	return scanSnapshot(r.q.QueryRow(ctx, `INSERT INTO wip_snapshots
    (project_id, snapshot_date, total_cost, total_billed, completion_pct, earned_value, wip_value, risk_score, age_days, adjustment_journal_id)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)
RETURNING `+snapshotColumns,
		s.ProjectID, s.Date, s.TotalCost, s.TotalBilled, s.CompletionPct, s.EarnedValue, s.WipValue, s.RiskScore, s.AgeDays, s.AdjustmentJournalID))
}

func (r *txRepository) LatestSnapshots(ctx context.Context) ([]Snapshot, error) {
	rows, err := r.q.Query(ctx, `SELECT DISTINCT ON (project_id) `+snapshotColumns+` FROM wip_snapshots
ORDER BY project_id, snapshot_date DESC, id DESC`)
	if err != nil {
		return nil, err
	}
	return collectSnapshots(rows)
}

func (r *txRepository) Snapshots(ctx context.Context, projectID int64, from, to time.Time) ([]Snapshot, error) {
	var fromArg, toArg *time.Time
	if !from.IsZero() {
		fromArg = &from
	}
	if !to.IsZero() {
		toArg = &to
	}
	rows, err := r.q.Query(ctx, `SELECT `+snapshotColumns+` FROM wip_snapshots
WHERE project_id = $1
  AND ($2::date IS NULL OR snapshot_date >= $2)
  AND ($3::date IS NULL OR snapshot_date <= $3)
ORDER BY snapshot_date ASC, id ASC`, projectID, fromArg, toArg)
	if err != nil {
		return nil, err
	}
	return collectSnapshots(rows)
}
