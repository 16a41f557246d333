package reports

import (
	"context"
	"time"

	"github.com/odyssey-erp/odyssey-projects/internal/platform/db"
)

// Repository exposes the aggregate queries the reports rely on.
type Repository interface {
	MonthlyCashflow(ctx context.Context, filter Filter) ([]CashflowPoint, error)
	ProjectProfitability(ctx context.Context, filter Filter) ([]ProjectProfit, error)
}

// PGRepository runs the aggregates against postgres.
type PGRepository struct {
	q db.Querier
}

// NewRepository constructs PGRepository.
func NewRepository(q db.Querier) *PGRepository {
	return &PGRepository{q: q}
}

func dateArg(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}

// MonthlyCashflow sums postings on cash accounts per month. Debits are
// inflow, credits outflow.
func (r *PGRepository) MonthlyCashflow(ctx context.Context, filter Filter) ([]CashflowPoint, error) {
	rows, err := r.q.Query(ctx, `SELECT to_char(date_trunc('month', p.date), 'YYYY-MM') AS period,
       COALESCE(SUM(p.amount) FILTER (WHERE p.direction = 'DEBIT'), 0) AS cash_in,
       COALESCE(SUM(p.amount) FILTER (WHERE p.direction = 'CREDIT'), 0) AS cash_out
FROM postings p
JOIN accounts a ON a.code = p.account_code
WHERE a.is_cash
  AND ($1::date IS NULL OR p.date >= $1)
  AND ($2::date IS NULL OR p.date <= $2)
  AND ($3::bigint IS NULL OR p.project_id = $3)
GROUP BY 1
ORDER BY 1`, dateArg(filter.From), dateArg(filter.To), filter.ProjectID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []CashflowPoint
	for rows.Next() {
		var p CashflowPoint
		if err := rows.Scan(&p.Period, &p.In, &p.Out); err != nil {
			return nil, err
		}
		p.Net = p.In.Sub(p.Out)
		out = append(out, p)
	}
	return out, rows.Err()
}

// ProjectProfitability nets revenue and expense postings per project.
func (r *PGRepository) ProjectProfitability(ctx context.Context, filter Filter) ([]ProjectProfit, error) {
	rows, err := r.q.Query(ctx, `SELECT pr.id, pr.name,
       COALESCE(SUM(CASE WHEN a.category = 'REVENUE' THEN CASE p.direction WHEN 'CREDIT' THEN p.amount ELSE -p.amount END END), 0) AS revenue,
       COALESCE(SUM(CASE WHEN a.category = 'EXPENSE' THEN CASE p.direction WHEN 'DEBIT' THEN p.amount ELSE -p.amount END END), 0) AS expense
FROM projects pr
LEFT JOIN postings p ON p.project_id = pr.id
       AND ($1::date IS NULL OR p.date >= $1)
       AND ($2::date IS NULL OR p.date <= $2)
LEFT JOIN accounts a ON a.code = p.account_code
WHERE ($3::bigint IS NULL OR pr.id = $3)
GROUP BY pr.id, pr.name
ORDER BY pr.id`, dateArg(filter.From), dateArg(filter.To), filter.ProjectID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []ProjectProfit
	for rows.Next() {
		var p ProjectProfit
		if err := rows.Scan(&p.ProjectID, &p.ProjectName, &p.Revenue, &p.Expense); err != nil {
			return nil, err
		}
		p.Profit = p.Revenue.Sub(p.Expense)
		p.MarginPct = Margin(p.Revenue, p.Expense)
		out = append(out, p)
	}
	return out, rows.Err()
}
