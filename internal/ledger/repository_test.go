package ledger

import (
	"context"
	"regexp"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/pashagolub/pgxmock/v3"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var journalCols = []string{"id", "date", "description", "source_type", "source_id", "kind", "project_id", "is_reversal", "reversal_of_id", "reversed", "reversed_by_id", "actor_id", "created_at"}

func TestTxRepositoryGetJournalNotFound(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	id := uuid.New()
	mock.ExpectQuery(regexp.QuoteMeta(`FROM journals WHERE id = $1`)).WithArgs(id).WillReturnError(pgx.ErrNoRows)

	_, err = NewTxRepository(mock).GetJournal(context.Background(), id)
	require.ErrorIs(t, err, ErrJournalNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestTxRepositoryLockJournalLoadsPostings(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	id := uuid.New()
	project := int64(4)
	date := time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)
	mock.ExpectQuery(regexp.QuoteMeta(`FROM journals WHERE id = $1 FOR UPDATE`)).WithArgs(id).
		WillReturnRows(pgxmock.NewRows(journalCols).
			AddRow(id, date, "Billing #1", SourceBilling, int64(1), KindRecognition, &project, false, nil, false, nil, nil, date))
	mock.ExpectQuery(regexp.QuoteMeta(`FROM postings WHERE journal_id = ANY($1)`)).WithArgs([]uuid.UUID{id}).
		WillReturnRows(pgxmock.NewRows([]string{"id", "journal_id", "date", "account_code", "direction", "label", "amount", "project_id", "description", "notes", "created_at"}).
			AddRow(int64(1), id, date, "1201", Debit, LabelReceivable, decimal.NewFromInt(500), &project, "Billing #1", "", date).
			AddRow(int64(2), id, date, "4101", Credit, LabelIncome, decimal.NewFromInt(500), &project, "Billing #1", "", date))

	journal, err := NewTxRepository(mock).LockJournal(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, SourceRef{Type: SourceBilling, ID: 1}, journal.Source)
	assert.Equal(t, KindRecognition, journal.Kind)
	require.NotNil(t, journal.ProjectID)
	assert.Equal(t, project, *journal.ProjectID)
	require.Len(t, journal.Postings, 2)
	debit, credit := journal.Totals()
	assert.True(t, debit.Equal(credit))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestTxRepositoryInsertJournalMapsConstraints(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	repo := NewTxRepository(mock)
	journal := Journal{ID: uuid.New(), Kind: KindPayment, Source: SourceRef{Type: SourceCost, ID: 3}}

	mock.ExpectExec(regexp.QuoteMeta(`INSERT INTO journals`)).
		WillReturnError(&pgconn.PgError{Code: "23505", ConstraintName: constraintSourceKind})
	_, err = repo.InsertJournal(context.Background(), journal)
	require.ErrorIs(t, err, ErrDuplicateJournal)

	mock.ExpectExec(regexp.QuoteMeta(`INSERT INTO journals`)).
		WillReturnError(&pgconn.PgError{Code: "23505", ConstraintName: constraintReversalOf})
	_, err = repo.InsertJournal(context.Background(), journal)
	require.ErrorIs(t, err, ErrAlreadyReversed)

	mock.ExpectExec(regexp.QuoteMeta(`INSERT INTO journals`)).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	stored, err := repo.InsertJournal(context.Background(), journal)
	require.NoError(t, err)
	assert.Equal(t, journal.ID, stored.ID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRepositoryWithTxSerializable(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	id, reversal := uuid.New(), uuid.New()
	repo := NewRepository(mock)

	mock.ExpectBeginTx(pgx.TxOptions{IsoLevel: pgx.Serializable})
	mock.ExpectExec(regexp.QuoteMeta(`UPDATE journals SET reversed = TRUE`)).WithArgs(id, reversal).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	mock.ExpectCommit()
	err = repo.WithTx(context.Background(), func(ctx context.Context, tx TxRepository) error {
		return tx.MarkReversed(ctx, id, reversal)
	})
	require.NoError(t, err)

	mock.ExpectBeginTx(pgx.TxOptions{IsoLevel: pgx.Serializable})
	mock.ExpectExec(regexp.QuoteMeta(`UPDATE journals SET reversed = TRUE`)).WithArgs(id, reversal).
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))
	mock.ExpectRollback()
	err = repo.WithTx(context.Background(), func(ctx context.Context, tx TxRepository) error {
		return tx.MarkReversed(ctx, id, reversal)
	})
	require.ErrorIs(t, err, ErrAlreadyReversed)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestAccountStoreAccount(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	store := NewAccountStore(mock)
	mock.ExpectQuery(regexp.QuoteMeta(`FROM accounts WHERE code = $1`)).WithArgs("1101").
		WillReturnRows(pgxmock.NewRows([]string{"code", "name", "category", "is_cash"}).AddRow("1101", "Kas", CategoryAsset, true))
	mock.ExpectQuery(regexp.QuoteMeta(`FROM accounts WHERE code = $1`)).WithArgs("0000").WillReturnError(pgx.ErrNoRows)

	acc, err := store.Account(context.Background(), "1101")
	require.NoError(t, err)
	assert.True(t, acc.IsCash)
	assert.Equal(t, CategoryAsset, acc.Category)

	_, err = store.Account(context.Background(), "0000")
	var notFound *AccountNotFoundError
	require.ErrorAs(t, err, &notFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}
