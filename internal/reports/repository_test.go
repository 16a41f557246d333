package reports

import (
	"context"
	"regexp"
	"testing"
	"time"

	"github.com/pashagolub/pgxmock/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRepositoryMonthlyCashflow(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	from := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	mock.ExpectQuery(regexp.QuoteMeta(`WHERE a.is_cash`)).
		WithArgs(&from, (*time.Time)(nil), (*int64)(nil)).
		WillReturnRows(pgxmock.NewRows([]string{"period", "cash_in", "cash_out"}).
			AddRow("2024-01", dec("1000"), dec("250")).
			AddRow("2024-02", dec("0"), dec("75.50")))

	points, err := NewRepository(mock).MonthlyCashflow(context.Background(), Filter{From: from})
	require.NoError(t, err)
	require.Len(t, points, 2)
	assert.True(t, dec("750").Equal(points[0].Net))
	assert.True(t, dec("-75.50").Equal(points[1].Net))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRepositoryProjectProfitability(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	project := int64(3)
	mock.ExpectQuery(regexp.QuoteMeta(`FROM projects pr`)).
		WithArgs((*time.Time)(nil), (*time.Time)(nil), &project).
		WillReturnRows(pgxmock.NewRows([]string{"id", "name", "revenue", "expense"}).
			AddRow(int64(3), "Gedung A", dec("500000"), dec("350000")))

	rows, err := NewRepository(mock).ProjectProfitability(context.Background(), Filter{ProjectID: &project})
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, "Gedung A", rows[0].ProjectName)
	assert.True(t, dec("150000").Equal(rows[0].Profit))
	assert.True(t, dec("30").Equal(rows[0].MarginPct))
	assert.NoError(t, mock.ExpectationsWereMet())
}
