package billable

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/odyssey-erp/odyssey-projects/internal/ledger"
	"github.com/odyssey-erp/odyssey-projects/internal/platform/db"
)

// TxRepository exposes transactional operations.
type TxRepository interface {
	GetEvent(ctx context.Context, kind Kind, id int64) (Event, error)
	LockEvent(ctx context.Context, kind Kind, id int64) (Event, error)
	UpdateStatus(ctx context.Context, kind Kind, id int64, status Status, at time.Time) error
	InsertHistory(ctx context.Context, record HistoryRecord) (HistoryRecord, error)
	ListHistory(ctx context.Context, kind Kind, id int64) ([]HistoryRecord, error)
	// Ledger shares the transaction with the ledger engine.
	Ledger() ledger.TxRepository
}

// RepositoryPort abstracts transactional repository behaviour.
type RepositoryPort interface {
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
}

// Repository persists billable event state.
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
		return errors.New("billable repository not initialised")
	}
	return db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		return fn(ctx, newTxRepository(tx))
	})
}

type txRepository struct {
	q      db.Querier
	ledger ledger.TxRepository
}

func newTxRepository(q db.Querier) *txRepository {
	return &txRepository{q: q, ledger: ledger.NewTxRepository(q)}
}

func (r *txRepository) Ledger() ledger.TxRepository {
	return r.ledger
}

func eventQuery(kind Kind) string {
	category := "''"
	if kind == KindCost {
		category = "category"
	}
	return fmt.Sprintf(`SELECT id, project_id, amount, status, post_journal, %s, description, created_at, updated_at FROM %s WHERE id = $1`, category, kind.table())
}

func (r *txRepository) GetEvent(ctx context.Context, kind Kind, id int64) (Event, error) {
	return r.loadEvent(ctx, kind, id, eventQuery(kind))
}

func (r *txRepository) LockEvent(ctx context.Context, kind Kind, id int64) (Event, error) {
	return r.loadEvent(ctx, kind, id, eventQuery(kind)+" FOR UPDATE")
}

func (r *txRepository) loadEvent(ctx context.Context, kind Kind, id int64, query string) (Event, error) {
	ev := Event{Kind: kind}
	err := r.q.QueryRow(ctx, query, id).Scan(&ev.ID, &ev.ProjectID, &ev.Amount, &ev.Status, &ev.PostJournal,
		&ev.Category, &ev.Description, &ev.CreatedAt, &ev.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Event{}, &EventNotFoundError{Kind: kind, EventID: id}
		}
		return Event{}, err
	}
	return ev, nil
}

func (r *txRepository) UpdateStatus(ctx context.Context, kind Kind, id int64, status Status, at time.Time) error {
	cmd, err := r.q.Exec(ctx, fmt.Sprintf(`UPDATE %s SET status = $2, updated_at = $3 WHERE id = $1`, kind.table()), id, string(status), at)
	if err != nil {
		return err
	}
	if cmd.RowsAffected() == 0 {
		return &EventNotFoundError{Kind: kind, EventID: id}
	}
	return nil
}

func (r *txRepository) InsertHistory(ctx context.Context, record HistoryRecord) (HistoryRecord, error) {
	err := r.q.QueryRow(ctx, `INSERT INTO status_history (event_kind, event_id, old_status, new_status, actor_id, notes, created_at)
VALUES ($1,$2,$3,$4,$5,$6,$7) RETURNING id`,
		string(record.Kind), record.EventID, string(record.OldStatus), string(record.NewStatus), record.ActorID, record.Notes, record.CreatedAt).
		Scan(&record.ID)
	if err != nil {
		return HistoryRecord{}, err
	}
	return record, nil
}

func (r *txRepository) ListHistory(ctx context.Context, kind Kind, id int64) ([]HistoryRecord, error) {
	rows, err := r.q.Query(ctx, `SELECT id, event_kind, event_id, old_status, new_status, actor_id, notes, created_at
FROM status_history WHERE event_kind = $1 AND event_id = $2 ORDER BY id ASC`, string(kind), id)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []HistoryRecord
	for rows.Next() {
		var h HistoryRecord
		if err := rows.Scan(&h.ID, &h.Kind, &h.EventID, &h.OldStatus, &h.NewStatus, &h.ActorID, &h.Notes, &h.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, h)
	}
	return out, rows.Err()
}
