package projects

import (
	"context"
	"regexp"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/pashagolub/pgxmock/v3"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStoreGetProject(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	start := time.Date(2024, 1, 10, 0, 0, 0, 0, time.UTC)
	mock.ExpectQuery(regexp.QuoteMeta(`FROM projects WHERE id = $1`)).WithArgs(int64(7)).
		WillReturnRows(pgxmock.NewRows([]string{"id", "name", "client_name", "total_value", "start_date", "end_date", "status", "created_at", "updated_at"}).
			AddRow(int64(7), "Gedung A", "PT Maju", decimal.NewFromInt(1_000_000), start, nil, StatusOngoing, start, start))
	mock.ExpectQuery(regexp.QuoteMeta(`FROM projects WHERE id = $1`)).WithArgs(int64(8)).WillReturnError(pgx.ErrNoRows)

	store := NewStore(mock)
	p, err := store.GetProject(context.Background(), 7)
	require.NoError(t, err)
	assert.Equal(t, StatusOngoing, p.Status)
	assert.True(t, p.TotalValue.Equal(decimal.NewFromInt(1_000_000)))
	assert.Nil(t, p.EndDate)

	_, err = store.GetProject(context.Background(), 8)
	var notFound *ProjectNotFoundError
	require.ErrorAs(t, err, &notFound)
	assert.Equal(t, int64(8), notFound.ProjectID)
	assert.ErrorIs(t, err, ErrProjectNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestStoreLockProject(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	start := time.Date(2024, 1, 10, 0, 0, 0, 0, time.UTC)
	mock.ExpectQuery(regexp.QuoteMeta(`FROM projects WHERE id = $1 FOR UPDATE`)).WithArgs(int64(7)).
		WillReturnRows(pgxmock.NewRows([]string{"id", "name", "client_name", "total_value", "start_date", "end_date", "status", "created_at", "updated_at"}).
			AddRow(int64(7), "Gedung A", "PT Maju", decimal.NewFromInt(1_000_000), start, nil, StatusOngoing, start, start))
	mock.ExpectQuery(regexp.QuoteMeta(`FROM projects WHERE id = $1 FOR UPDATE`)).WithArgs(int64(8)).WillReturnError(pgx.ErrNoRows)

	store := NewStore(mock)
	p, err := store.LockProject(context.Background(), 7)
	require.NoError(t, err)
	assert.Equal(t, int64(7), p.ID)

	_, err = store.LockProject(context.Background(), 8)
	assert.ErrorIs(t, err, ErrProjectNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestStoreListCostsAndActiveProjects(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	day := time.Date(2024, 2, 1, 0, 0, 0, 0, time.UTC)
	mock.ExpectQuery(regexp.QuoteMeta(`FROM project_costs WHERE project_id = $1`)).WithArgs(int64(1)).
		WillReturnRows(pgxmock.NewRows([]string{"id", "project_id", "amount", "status", "post_journal", "category", "description", "cost_date"}).
			AddRow(int64(1), int64(1), decimal.NewFromInt(200), "pending", true, "material", "Semen", day).
			AddRow(int64(2), int64(1), decimal.NewFromInt(150), "rejected", false, "labor", "Tukang", day))
	mock.ExpectQuery(regexp.QuoteMeta(`SELECT id FROM projects WHERE status NOT IN`)).
		WillReturnRows(pgxmock.NewRows([]string{"id"}).AddRow(int64(1)).AddRow(int64(3)))

	store := NewStore(mock)
	costs, err := store.ListCosts(context.Background(), 1)
	require.NoError(t, err)
	require.Len(t, costs, 2)
	assert.Equal(t, "labor", costs[1].Category)

	ids, err := store.ActiveProjectIDs(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []int64{1, 3}, ids)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestStatusActive(t *testing.T) {
	assert.True(t, StatusOngoing.Active())
	assert.True(t, StatusPlanning.Active())
	assert.False(t, StatusCompleted.Active())
	assert.False(t, StatusCancelled.Active())
}
